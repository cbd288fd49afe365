package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"pastebin-lite/internal/clock"
	"pastebin-lite/internal/storage"
)

// Store implements storage.Store using SQLite.
type Store struct {
	db    *sql.DB
	clock clock.Clock
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for expiry checks.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// Open initializes the SQLite database at path.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes transactions and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if err := initialize(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &Store{db: db, clock: clock.Real}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func initialize(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS kv (
    key TEXT PRIMARY KEY,
    value BLOB NOT NULL,
    expires_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_kv_expires_at ON kv (expires_at);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Exists implements storage.Store.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	const q = `SELECT 1 FROM kv WHERE key = ? AND (expires_at IS NULL OR expires_at > ?);`
	var one int
	err := s.db.QueryRowContext(ctx, q, key, s.clock.Now().UnixNano()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", key, err)
	}
	return true, nil
}

// Get implements storage.Store.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	const q = `SELECT value FROM kv WHERE key = ? AND (expires_at IS NULL OR expires_at > ?);`
	var value []byte
	err := s.db.QueryRowContext(ctx, q, key, s.clock.Now().UnixNano()).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", key, err)
	}
	return value, nil
}

// Set implements storage.Store.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	return s.put(ctx, key, value, 0)
}

// SetEx implements storage.Store.
func (s *Store) SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("sqlitestore: ttl must be positive")
	}
	return s.put(ctx, key, value, ttl)
}

func (s *Store) put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	const q = `
INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
    value=excluded.value,
    expires_at=excluded.expires_at;
`
	expires := storage.ExpiryAt(s.clock.Now(), ttl, time.Time{})
	if _, err := s.db.ExecContext(ctx, q, key, value, nullableNanos(expires)); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// SetNX implements storage.Store. An expired row counts as absent and is
// overwritten in place.
func (s *Store) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	const q = `
INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
    value=excluded.value,
    expires_at=excluded.expires_at
WHERE kv.expires_at IS NOT NULL AND kv.expires_at <= ?;
`
	now := s.clock.Now()
	expires := storage.ExpiryAt(now, ttl, time.Time{})
	res, err := s.db.ExecContext(ctx, q, key, value, nullableNanos(expires), now.UnixNano())
	if err != nil {
		return false, fmt.Errorf("insert %s: %w", key, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return rows == 1, nil
}

// Update implements storage.Store inside a transaction.
func (s *Store) Update(ctx context.Context, key string, fn storage.UpdateFunc) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := s.clock.Now()
	var (
		current []byte
		expires sql.NullInt64
	)
	err = tx.QueryRowContext(ctx, `SELECT value, expires_at FROM kv WHERE key = ?;`, key).Scan(&current, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("query %s: %w", key, err)
	}
	var prev time.Time
	if expires.Valid {
		prev = time.Unix(0, expires.Int64)
	}
	if storage.Expired(prev, now) {
		return storage.ErrNotFound
	}

	next, ttl, err := fn(current)
	if err != nil {
		return err
	}
	deadline := storage.ExpiryAt(now, ttl, prev)
	if _, err = tx.ExecContext(ctx, `UPDATE kv SET value = ?, expires_at = ? WHERE key = ?;`, next, nullableNanos(deadline), key); err != nil {
		return fmt.Errorf("update %s: %w", key, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// DeleteExpired removes all expired keys.
func (s *Store) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	const q = `DELETE FROM kv WHERE expires_at IS NOT NULL AND expires_at <= ?;`
	res, err := s.db.ExecContext(ctx, q, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("delete expired: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(rows), nil
}

// Ping implements storage.Store.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func nullableNanos(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixNano()
}
