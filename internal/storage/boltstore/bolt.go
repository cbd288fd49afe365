package boltstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"pastebin-lite/internal/clock"
	"pastebin-lite/internal/storage"
)

var (
	valueBucket  = []byte("values")
	expireBucket = []byte("expires")
)

// Store implements storage.Store backed by BoltDB.
//
// Each value is stored as an 8-byte big-endian expiry (unix nanos, zero for
// none) followed by the payload. The expires bucket indexes keys by
// deadline so DeleteExpired can walk them in order.
type Store struct {
	db    *bolt.DB
	clock clock.Clock
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for expiry checks.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// Open initializes a BoltDB-backed store located at path.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(valueBucket); err != nil {
			return fmt.Errorf("create value bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists(expireBucket); err != nil {
			return fmt.Errorf("create expire bucket: %w", err)
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db, clock: clock.Real}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type record struct {
	expires time.Time
	value   []byte
}

func decode(raw []byte) (record, error) {
	if len(raw) < 8 {
		return record{}, errors.New("corrupt record")
	}
	var rec record
	if ts := binary.BigEndian.Uint64(raw[:8]); ts != 0 {
		rec.expires = time.Unix(0, int64(ts)).UTC()
	}
	rec.value = append([]byte(nil), raw[8:]...)
	return rec, nil
}

func encode(rec record) []byte {
	out := make([]byte, 8+len(rec.value))
	binary.BigEndian.PutUint64(out, toTimestamp(rec.expires))
	copy(out[8:], rec.value)
	return out
}

func buckets(tx *bolt.Tx) (*bolt.Bucket, *bolt.Bucket, error) {
	vBucket := tx.Bucket(valueBucket)
	eBucket := tx.Bucket(expireBucket)
	if vBucket == nil || eBucket == nil {
		return nil, nil, errors.New("buckets not initialized")
	}
	return vBucket, eBucket, nil
}

// load returns the live record for key, or ok=false when it is missing or expired.
func load(vBucket *bolt.Bucket, key string, now time.Time) (rec record, ok bool, err error) {
	raw := vBucket.Get([]byte(key))
	if raw == nil {
		return record{}, false, nil
	}
	rec, err = decode(raw)
	if err != nil {
		return record{}, false, fmt.Errorf("decode %s: %w", key, err)
	}
	if storage.Expired(rec.expires, now) {
		return rec, false, nil
	}
	return rec, true, nil
}

// write stores rec under key and moves its expiry index entry from prev.
func write(vBucket, eBucket *bolt.Bucket, key string, prev *record, rec record) error {
	if prev != nil && !prev.expires.IsZero() {
		if err := eBucket.Delete(expireKey(prev.expires, key)); err != nil {
			return fmt.Errorf("remove previous expiry index: %w", err)
		}
	}
	if err := vBucket.Put([]byte(key), encode(rec)); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	if !rec.expires.IsZero() {
		if err := eBucket.Put(expireKey(rec.expires, key), []byte(key)); err != nil {
			return fmt.Errorf("index expiry: %w", err)
		}
	}
	return nil
}

func existing(vBucket *bolt.Bucket, key string) *record {
	raw := vBucket.Get([]byte(key))
	if raw == nil {
		return nil
	}
	rec, err := decode(raw)
	if err != nil {
		return nil
	}
	return &rec
}

// Exists implements storage.Store.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Get implements storage.Store.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		vBucket, _, err := buckets(tx)
		if err != nil {
			return err
		}
		rec, ok, err := load(vBucket, key, s.clock.Now())
		if err != nil {
			return err
		}
		if !ok {
			return storage.ErrNotFound
		}
		out = rec.value
		return nil
	})
	return out, err
}

// Set implements storage.Store.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	return s.put(ctx, key, value, 0)
}

// SetEx implements storage.Store.
func (s *Store) SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("boltstore: ttl must be positive")
	}
	return s.put(ctx, key, value, ttl)
}

func (s *Store) put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		vBucket, eBucket, err := buckets(tx)
		if err != nil {
			return err
		}
		rec := record{expires: storage.ExpiryAt(s.clock.Now(), ttl, time.Time{}), value: value}
		return write(vBucket, eBucket, key, existing(vBucket, key), rec)
	})
}

// SetNX implements storage.Store.
func (s *Store) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	stored := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		vBucket, eBucket, err := buckets(tx)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		_, live, err := load(vBucket, key, now)
		if err != nil {
			return err
		}
		if live {
			return nil
		}
		rec := record{expires: storage.ExpiryAt(now, ttl, time.Time{}), value: value}
		if err := write(vBucket, eBucket, key, existing(vBucket, key), rec); err != nil {
			return err
		}
		stored = true
		return nil
	})
	return stored, err
}

// Update implements storage.Store inside a single write transaction.
func (s *Store) Update(ctx context.Context, key string, fn storage.UpdateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		vBucket, eBucket, err := buckets(tx)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		cur, live, err := load(vBucket, key, now)
		if err != nil {
			return err
		}
		if !live {
			return storage.ErrNotFound
		}
		next, ttl, err := fn(cur.value)
		if err != nil {
			return err
		}
		rec := record{expires: storage.ExpiryAt(now, ttl, cur.expires), value: next}
		return write(vBucket, eBucket, key, &cur, rec)
	})
}

// DeleteExpired removes all keys with expiry before or equal to the provided time.
func (s *Store) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var removed int
	err := s.db.Update(func(tx *bolt.Tx) error {
		vBucket, eBucket, err := buckets(tx)
		if err != nil {
			return err
		}

		cursor := eBucket.Cursor()
		cutoff := toTimestamp(before)
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			if binary.BigEndian.Uint64(k[:8]) > cutoff {
				break
			}
			key := string(v)
			if err := vBucket.Delete([]byte(key)); err != nil {
				return fmt.Errorf("delete expired %s: %w", key, err)
			}
			if err := cursor.Delete(); err != nil {
				return fmt.Errorf("delete expiry index: %w", err)
			}
			removed++
		}
		return nil
	})

	return removed, err
}

// Ping checks that the database file is still open.
func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(tx *bolt.Tx) error {
		_, _, err := buckets(tx)
		return err
	})
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func expireKey(t time.Time, key string) []byte {
	out := make([]byte, 8+len(key))
	binary.BigEndian.PutUint64(out, toTimestamp(t))
	copy(out[8:], key)
	return out
}

func toTimestamp(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	return uint64(t.UTC().UnixNano())
}
