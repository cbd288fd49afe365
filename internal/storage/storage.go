// Package storage defines the key-value contract the paste engine runs on.
//
// Values are opaque bytes. Every backend treats a key whose expiry has
// passed as absent, whether or not it has been physically removed yet.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a key does not exist or has expired.
	ErrNotFound = errors.New("key not found")
	// ErrConflict is returned when a guarded update keeps losing to
	// concurrent writers.
	ErrConflict = errors.New("concurrent update conflict")
)

// KeepTTL, returned from an UpdateFunc, leaves the key's current expiry
// untouched.
const KeepTTL time.Duration = -1

// UpdateFunc receives the current value of a key and returns the value to
// write together with its expiry: a positive ttl sets a fresh expiry, zero
// persists without expiry, KeepTTL keeps the existing one. Returning an
// error aborts the update without writing.
type UpdateFunc func(current []byte) (next []byte, ttl time.Duration, err error)

// Store defines the storage backend contract.
type Store interface {
	Exists(ctx context.Context, key string) (bool, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetNX writes value only when key is absent. A zero ttl means no expiry.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	// Update applies fn to the current value and writes the result only if
	// the key was not modified concurrently. Missing keys yield ErrNotFound
	// without calling fn.
	Update(ctx context.Context, key string, fn UpdateFunc) error
	Ping(ctx context.Context) error
	Close() error
}

// Sweeper is implemented by stores that keep expired keys on disk until
// they are removed explicitly.
type Sweeper interface {
	DeleteExpired(ctx context.Context, before time.Time) (int, error)
}

// ExpiryAt converts a ttl as accepted by Store into an absolute deadline.
// The zero time means no expiry. For KeepTTL the previous deadline is
// returned.
func ExpiryAt(now time.Time, ttl time.Duration, previous time.Time) time.Time {
	switch {
	case ttl == KeepTTL:
		return previous
	case ttl > 0:
		return now.Add(ttl)
	default:
		return time.Time{}
	}
}

// Expired reports whether a deadline set with ExpiryAt has passed.
func Expired(deadline, now time.Time) bool {
	return !deadline.IsZero() && !now.Before(deadline)
}
