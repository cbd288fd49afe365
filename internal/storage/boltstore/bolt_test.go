package boltstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"pastebin-lite/internal/clock"
	"pastebin-lite/internal/storage/storetest"
)

func openTemp(t *testing.T, c clock.Clock) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "test.db"), WithClock(c))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Harness {
		c := clock.NewManual(time.Unix(1_700_000_000, 0))
		return storetest.Harness{Store: openTemp(t, c), Advance: c.Advance}
	})
}

func TestDeleteExpired(t *testing.T) {
	c := clock.NewManual(time.Unix(1_700_000_000, 0))
	storetest.RunSweeper(t, func(t *testing.T) storetest.Harness {
		return storetest.Harness{Store: openTemp(t, c), Advance: c.Advance}
	}, c.Now)
}

func TestReopenKeepsExpiry(t *testing.T) {
	c := clock.NewManual(time.Unix(1_700_000_000, 0))
	path := filepath.Join(t.TempDir(), "reopen.db")
	store, err := Open(path, WithClock(c))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := store.SetEx(context.Background(), "paste:abc", []byte("hello"), time.Minute); err != nil {
		t.Fatalf("setex: %v", err)
	}
	store.Close()

	c.Advance(2 * time.Minute)
	store, err = Open(path, WithClock(c))
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if ok, _ := store.Exists(context.Background(), "paste:abc"); ok {
		t.Fatalf("expected expired key after reopen")
	}
}
