package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"pastebin-lite/internal/storage/storetest"
)

func TestContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Harness {
		mr := miniredis.RunT(t)
		store := New(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
		t.Cleanup(func() { store.Close() })
		return storetest.Harness{Store: store, Advance: mr.FastForward}
	})
}

func TestOpenFromURL(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := Open(context.Background(), "redis://"+mr.Addr()+"/0")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	if err := store.SetEx(context.Background(), "paste:abc1234", []byte("{}"), 30*time.Second); err != nil {
		t.Fatalf("setex: %v", err)
	}
	if ttl := mr.TTL("paste:abc1234"); ttl != 30*time.Second {
		t.Fatalf("expected 30s ttl got %v", ttl)
	}
}

func TestOpenUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := Open(ctx, "redis://"+addr); err == nil {
		t.Fatalf("expected error for closed server")
	}
}
