// Package memstore is an in-process storage.Store used for tests and local runs.
package memstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"pastebin-lite/internal/clock"
	"pastebin-lite/internal/storage"
)

type entry struct {
	value   []byte
	expires time.Time
}

// Store implements storage.Store with a mutex-guarded map.
type Store struct {
	mu    sync.RWMutex
	items map[string]entry
	clock clock.Clock
}

// New returns an empty store driven by the wall clock.
func New() *Store {
	return NewWithClock(clock.Real)
}

// NewWithClock returns an empty store whose expiry checks use c.
func NewWithClock(c clock.Clock) *Store {
	return &Store{items: make(map[string]entry), clock: c}
}

func (s *Store) lookup(key string, now time.Time) (entry, bool) {
	e, ok := s.items[key]
	if !ok || storage.Expired(e.expires, now) {
		return entry{}, false
	}
	return e, true
}

// Exists implements storage.Store.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.lookup(key, s.clock.Now())
	return ok, nil
}

// Get implements storage.Store.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.lookup(key, s.clock.Now())
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

// Set implements storage.Store.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	return s.put(ctx, key, value, 0)
}

// SetEx implements storage.Store.
func (s *Store) SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("memstore: ttl must be positive")
	}
	return s.put(ctx, key, value, ttl)
}

func (s *Store) put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = entry{
		value:   append([]byte(nil), value...),
		expires: storage.ExpiryAt(s.clock.Now(), ttl, time.Time{}),
	}
	return nil
}

// SetNX implements storage.Store.
func (s *Store) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	if _, ok := s.lookup(key, now); ok {
		return false, nil
	}
	s.items[key] = entry{
		value:   append([]byte(nil), value...),
		expires: storage.ExpiryAt(now, ttl, time.Time{}),
	}
	return true, nil
}

// Update implements storage.Store. The write lock is held for the whole
// read-modify-write.
func (s *Store) Update(ctx context.Context, key string, fn storage.UpdateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	e, ok := s.lookup(key, now)
	if !ok {
		return storage.ErrNotFound
	}
	next, ttl, err := fn(append([]byte(nil), e.value...))
	if err != nil {
		return err
	}
	s.items[key] = entry{
		value:   append([]byte(nil), next...),
		expires: storage.ExpiryAt(now, ttl, e.expires),
	}
	return nil
}

// DeleteExpired implements storage.Sweeper.
func (s *Store) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, e := range s.items {
		if storage.Expired(e.expires, before) {
			delete(s.items, key)
			removed++
		}
	}
	return removed, nil
}

// Len reports how many keys are physically held, expired or not.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Ping implements storage.Store.
func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

// Close implements storage.Store.
func (s *Store) Close() error { return nil }
