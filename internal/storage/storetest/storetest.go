// Package storetest holds the behavioural contract every storage.Store
// backend is tested against.
package storetest

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"pastebin-lite/internal/storage"
)

// Harness is a freshly opened, empty store plus a way to move its clock.
type Harness struct {
	Store storage.Store
	// Advance moves the time the store uses for expiry checks.
	Advance func(d time.Duration)
}

// Run exercises the storage.Store contract. newHarness is called once per
// subtest and must return an empty store.
func Run(t *testing.T, newHarness func(t *testing.T) Harness) {
	t.Helper()

	t.Run("MissingKey", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		if _, err := h.Store.Get(ctx, "paste:none"); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("expected ErrNotFound got %v", err)
		}
		ok, err := h.Store.Exists(ctx, "paste:none")
		if err != nil || ok {
			t.Fatalf("exists on missing key = %v, %v", ok, err)
		}
	})

	t.Run("SetGet", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		if err := h.Store.Set(ctx, "paste:a", []byte(`{"content":"hi"}`)); err != nil {
			t.Fatalf("set: %v", err)
		}
		got, err := h.Store.Get(ctx, "paste:a")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if string(got) != `{"content":"hi"}` {
			t.Fatalf("unexpected value %q", got)
		}
		ok, err := h.Store.Exists(ctx, "paste:a")
		if err != nil || !ok {
			t.Fatalf("exists = %v, %v", ok, err)
		}
		if err := h.Store.Set(ctx, "paste:a", []byte("second")); err != nil {
			t.Fatalf("overwrite: %v", err)
		}
		got, _ = h.Store.Get(ctx, "paste:a")
		if string(got) != "second" {
			t.Fatalf("overwrite not visible, got %q", got)
		}
	})

	t.Run("SetExExpires", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		if err := h.Store.SetEx(ctx, "paste:t", []byte("v"), 2*time.Second); err != nil {
			t.Fatalf("setex: %v", err)
		}
		h.Advance(time.Second)
		if _, err := h.Store.Get(ctx, "paste:t"); err != nil {
			t.Fatalf("expected key alive after 1s: %v", err)
		}
		h.Advance(time.Second)
		if _, err := h.Store.Get(ctx, "paste:t"); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("expected key gone at deadline, got %v", err)
		}
		if ok, _ := h.Store.Exists(ctx, "paste:t"); ok {
			t.Fatalf("exists reported expired key")
		}
	})

	t.Run("SetNX", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		ok, err := h.Store.SetNX(ctx, "paste:n", []byte("first"), 0)
		if err != nil || !ok {
			t.Fatalf("first setnx = %v, %v", ok, err)
		}
		ok, err = h.Store.SetNX(ctx, "paste:n", []byte("second"), 0)
		if err != nil || ok {
			t.Fatalf("second setnx = %v, %v", ok, err)
		}
		got, _ := h.Store.Get(ctx, "paste:n")
		if string(got) != "first" {
			t.Fatalf("setnx overwrote value: %q", got)
		}
	})

	t.Run("SetNXReusesExpiredKey", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		if ok, err := h.Store.SetNX(ctx, "paste:r", []byte("old"), time.Second); err != nil || !ok {
			t.Fatalf("setnx = %v, %v", ok, err)
		}
		h.Advance(2 * time.Second)
		ok, err := h.Store.SetNX(ctx, "paste:r", []byte("new"), 0)
		if err != nil || !ok {
			t.Fatalf("setnx over expired key = %v, %v", ok, err)
		}
		got, _ := h.Store.Get(ctx, "paste:r")
		if string(got) != "new" {
			t.Fatalf("unexpected value %q", got)
		}
	})

	t.Run("UpdateMissing", func(t *testing.T) {
		h := newHarness(t)
		called := false
		err := h.Store.Update(context.Background(), "paste:none", func([]byte) ([]byte, time.Duration, error) {
			called = true
			return nil, 0, nil
		})
		if !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("expected ErrNotFound got %v", err)
		}
		if called {
			t.Fatalf("update func called for missing key")
		}
	})

	t.Run("UpdateAbort", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		_ = h.Store.Set(ctx, "paste:x", []byte("keep"))
		errStop := errors.New("stop")
		err := h.Store.Update(ctx, "paste:x", func([]byte) ([]byte, time.Duration, error) {
			return []byte("changed"), 0, errStop
		})
		if !errors.Is(err, errStop) {
			t.Fatalf("expected errStop got %v", err)
		}
		got, _ := h.Store.Get(ctx, "paste:x")
		if string(got) != "keep" {
			t.Fatalf("aborted update wrote %q", got)
		}
	})

	t.Run("UpdateKeepTTL", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		_ = h.Store.SetEx(ctx, "paste:k", []byte("v1"), 10*time.Second)
		h.Advance(5 * time.Second)
		if err := h.Store.Update(ctx, "paste:k", func([]byte) ([]byte, time.Duration, error) {
			return []byte("v2"), storage.KeepTTL, nil
		}); err != nil {
			t.Fatalf("update: %v", err)
		}
		got, _ := h.Store.Get(ctx, "paste:k")
		if string(got) != "v2" {
			t.Fatalf("unexpected value %q", got)
		}
		h.Advance(5 * time.Second)
		if _, err := h.Store.Get(ctx, "paste:k"); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("expected original deadline kept, got %v", err)
		}
	})

	t.Run("UpdateFreshTTL", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		_ = h.Store.SetEx(ctx, "paste:f", []byte("v1"), 10*time.Second)
		h.Advance(5 * time.Second)
		if err := h.Store.Update(ctx, "paste:f", func([]byte) ([]byte, time.Duration, error) {
			return []byte("v2"), 10 * time.Second, nil
		}); err != nil {
			t.Fatalf("update: %v", err)
		}
		h.Advance(6 * time.Second)
		if _, err := h.Store.Get(ctx, "paste:f"); err != nil {
			t.Fatalf("expected refreshed key alive: %v", err)
		}
		h.Advance(4 * time.Second)
		if _, err := h.Store.Get(ctx, "paste:f"); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("expected key gone at new deadline, got %v", err)
		}
	})

	t.Run("UpdateClearsTTL", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		_ = h.Store.SetEx(ctx, "paste:c", []byte("v1"), 2*time.Second)
		if err := h.Store.Update(ctx, "paste:c", func([]byte) ([]byte, time.Duration, error) {
			return []byte("v2"), 0, nil
		}); err != nil {
			t.Fatalf("update: %v", err)
		}
		h.Advance(10 * time.Second)
		if _, err := h.Store.Get(ctx, "paste:c"); err != nil {
			t.Fatalf("expected persistent key: %v", err)
		}
	})

	t.Run("ConcurrentUpdates", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		_ = h.Store.Set(ctx, "paste:counter", []byte("0"))
		const workers = 8
		var wg sync.WaitGroup
		errs := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- h.Store.Update(ctx, "paste:counter", func(cur []byte) ([]byte, time.Duration, error) {
					n, err := strconv.Atoi(string(cur))
					if err != nil {
						return nil, 0, err
					}
					return []byte(strconv.Itoa(n + 1)), 0, nil
				})
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("update: %v", err)
			}
		}
		got, _ := h.Store.Get(ctx, "paste:counter")
		if string(got) != strconv.Itoa(workers) {
			t.Fatalf("expected %d increments got %s", workers, got)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		h := newHarness(t)
		if err := h.Store.Ping(context.Background()); err != nil {
			t.Fatalf("ping: %v", err)
		}
	})
}

// RunSweeper checks DeleteExpired for stores that implement storage.Sweeper.
func RunSweeper(t *testing.T, newHarness func(t *testing.T) Harness, now func() time.Time) {
	t.Helper()
	h := newHarness(t)
	sw, ok := h.Store.(storage.Sweeper)
	if !ok {
		t.Fatalf("%T does not implement storage.Sweeper", h.Store)
	}
	ctx := context.Background()
	_ = h.Store.SetEx(ctx, "paste:dead", []byte("bye"), time.Second)
	_ = h.Store.SetEx(ctx, "paste:alive", []byte("ok"), time.Hour)
	_ = h.Store.Set(ctx, "paste:forever", []byte("ok"))
	h.Advance(time.Minute)

	removed, err := sw.DeleteExpired(ctx, now())
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removal, got %d", removed)
	}
	if _, err := h.Store.Get(ctx, "paste:alive"); err != nil {
		t.Fatalf("expected alive key: %v", err)
	}
	if _, err := h.Store.Get(ctx, "paste:forever"); err != nil {
		t.Fatalf("expected persistent key: %v", err)
	}
}
