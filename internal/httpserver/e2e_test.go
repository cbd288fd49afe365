package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"pastebin-lite/internal/paste"
	"pastebin-lite/internal/storage/redisstore"
)

func newRedisBackedServer(t *testing.T) (*httptest.Server, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store := redisstore.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { store.Close() })

	engine, err := paste.New(paste.Config{Store: store})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	srv, err := New(Config{Engine: engine, MaxBytes: 1024})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, mr
}

func TestEndToEndRedis(t *testing.T) {
	ts, mr := newRedisBackedServer(t)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Post(ts.URL+"/api/pastes", "application/json",
		strings.NewReader(`{"content":"hello world","ttl_seconds":60,"max_views":2}`))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	var created createResponse
	err = json.NewDecoder(resp.Body).Decode(&created)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decode create: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 got %d", resp.StatusCode)
	}
	if created.URL != ts.URL+"/p/"+created.ID {
		t.Fatalf("unexpected url %q", created.URL)
	}

	key := paste.Key(created.ID)
	if ttl := mr.TTL(key); ttl != 60*time.Second {
		t.Fatalf("expected 60s ttl on %s, got %v", key, ttl)
	}

	for want := 1; want >= 0; want-- {
		resp, err := client.Get(ts.URL + "/api/pastes/" + created.ID)
		if err != nil {
			t.Fatalf("fetch: %v", err)
		}
		var body fetchResponse
		err = json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("decode fetch: %v", err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200 got %d", resp.StatusCode)
		}
		if body.Content != "hello world" {
			t.Fatalf("unexpected content %q", body.Content)
		}
		if body.RemainingViews == nil || *body.RemainingViews != want {
			t.Fatalf("expected %d remaining views, got %v", want, body.RemainingViews)
		}
		if body.ExpiresAt == nil {
			t.Fatalf("expected expires_at")
		}
		if ttl := mr.TTL(key); ttl <= 0 || ttl > 60*time.Second {
			t.Fatalf("view must keep a ttl within the original deadline, got %v", ttl)
		}
	}

	resp, err = client.Get(ts.URL + "/api/pastes/" + created.ID)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after view limit, got %d", resp.StatusCode)
	}
}

func TestEndToEndRedisExpiry(t *testing.T) {
	ts, mr := newRedisBackedServer(t)

	resp, err := http.Post(ts.URL+"/api/pastes", "application/json", strings.NewReader(`{"content":"brief","ttl_seconds":5}`))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	var created createResponse
	_ = json.NewDecoder(resp.Body).Decode(&created)
	resp.Body.Close()

	mr.FastForward(5 * time.Second)

	resp, err = http.Get(ts.URL + "/p/" + created.ID)
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after expiry, got %d", resp.StatusCode)
	}
}

func TestEndToEndConcurrentReaders(t *testing.T) {
	ts, _ := newRedisBackedServer(t)

	resp, err := http.Post(ts.URL+"/api/pastes", "application/json", strings.NewReader(`{"content":"race","max_views":5}`))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	var created createResponse
	_ = json.NewDecoder(resp.Body).Decode(&created)
	resp.Body.Close()

	const readers = 20
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		statuses = map[int]int{}
	)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := http.Get(ts.URL + "/api/pastes/" + created.ID)
			if err != nil {
				t.Errorf("fetch: %v", err)
				return
			}
			resp.Body.Close()
			mu.Lock()
			statuses[resp.StatusCode]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if statuses[http.StatusOK] != 5 || statuses[http.StatusNotFound] != readers-5 {
		t.Fatalf("expected 5 served and %d not found, got %v", readers-5, statuses)
	}
}
