// Package mongostore implements storage.Store on a MongoDB collection with a
// TTL index on expires_at.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"pastebin-lite/internal/clock"
	"pastebin-lite/internal/storage"
)

const defaultUpdateAttempts = 16

// Config describes the collection to use.
type Config struct {
	URI        string
	Database   string
	Collection string
}

type document struct {
	Key       string     `bson:"_id"`
	Value     []byte     `bson:"value"`
	ExpiresAt *time.Time `bson:"expires_at,omitempty"`
	Version   string     `bson:"version"`
}

// Store implements storage.Store.
type Store struct {
	client         *mongo.Client
	coll           *mongo.Collection
	clock          clock.Clock
	updateAttempts int
}

// Open connects, pings and prepares the collection's indexes.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Database == "" {
		cfg.Database = "pastebin"
	}
	if cfg.Collection == "" {
		cfg.Collection = "kv"
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}
	s, err := New(ctx, client.Database(cfg.Database).Collection(cfg.Collection), clock.Real)
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	s.client = client
	return s, nil
}

// New wraps an existing collection. Close does not disconnect its client.
func New(ctx context.Context, coll *mongo.Collection, c clock.Clock) (*Store, error) {
	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	})
	if err != nil {
		return nil, fmt.Errorf("create ttl index: %w", err)
	}
	return &Store{coll: coll, clock: c, updateAttempts: defaultUpdateAttempts}, nil
}

// liveFilter matches key only if it has not expired. The TTL monitor runs
// about once a minute, so expiry is also enforced here.
func liveFilter(key string, now time.Time) bson.M {
	return bson.M{
		"_id": key,
		"$or": bson.A{
			bson.M{"expires_at": bson.M{"$exists": false}},
			bson.M{"expires_at": bson.M{"$gt": now}},
		},
	}
}

func newDocument(key string, value []byte, expires time.Time) (document, error) {
	version, err := gonanoid.New(16)
	if err != nil {
		return document{}, fmt.Errorf("version token: %w", err)
	}
	doc := document{Key: key, Value: value, Version: version}
	if !expires.IsZero() {
		exp := expires.UTC()
		doc.ExpiresAt = &exp
	}
	return doc, nil
}

func (s *Store) load(ctx context.Context, key string) (document, error) {
	var doc document
	err := s.coll.FindOne(ctx, liveFilter(key, s.clock.Now())).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return document{}, storage.ErrNotFound
	}
	if err != nil {
		return document{}, fmt.Errorf("find %s: %w", key, err)
	}
	return doc, nil
}

// Exists implements storage.Store.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.coll.CountDocuments(ctx, liveFilter(key, s.clock.Now()), options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("count %s: %w", key, err)
	}
	return n > 0, nil
}

// Get implements storage.Store.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	doc, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}
	return doc.Value, nil
}

// Set implements storage.Store.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	return s.put(ctx, key, value, time.Time{})
}

// SetEx implements storage.Store.
func (s *Store) SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("mongostore: ttl must be positive")
	}
	return s.put(ctx, key, value, s.clock.Now().Add(ttl))
}

func (s *Store) put(ctx context.Context, key string, value []byte, expires time.Time) error {
	doc, err := newDocument(key, value, expires)
	if err != nil {
		return err
	}
	if _, err := s.coll.ReplaceOne(ctx, bson.M{"_id": key}, doc, options.Replace().SetUpsert(true)); err != nil {
		return fmt.Errorf("replace %s: %w", key, err)
	}
	return nil
}

// SetNX implements storage.Store. The upsert only matches an expired
// document; a live one makes the insert collide on _id.
func (s *Store) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	now := s.clock.Now()
	doc, err := newDocument(key, value, storage.ExpiryAt(now, ttl, time.Time{}))
	if err != nil {
		return false, err
	}
	filter := bson.M{"_id": key, "expires_at": bson.M{"$lte": now}}
	_, err = s.coll.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert %s: %w", key, err)
	}
	return true, nil
}

// Update implements storage.Store with a compare-and-replace on the version token.
func (s *Store) Update(ctx context.Context, key string, fn storage.UpdateFunc) error {
	for attempt := 0; attempt < s.updateAttempts; attempt++ {
		cur, err := s.load(ctx, key)
		if err != nil {
			return err
		}
		next, ttl, err := fn(cur.Value)
		if err != nil {
			return err
		}
		var prev time.Time
		if cur.ExpiresAt != nil {
			prev = *cur.ExpiresAt
		}
		doc, err := newDocument(key, next, storage.ExpiryAt(s.clock.Now(), ttl, prev))
		if err != nil {
			return err
		}
		res, err := s.coll.ReplaceOne(ctx, bson.M{"_id": key, "version": cur.Version}, doc)
		if err != nil {
			return fmt.Errorf("replace %s: %w", key, err)
		}
		if res.MatchedCount == 1 {
			return nil
		}
	}
	return fmt.Errorf("update %s: %w", key, storage.ErrConflict)
}

// Ping implements storage.Store.
func (s *Store) Ping(ctx context.Context) error {
	return s.coll.Database().Client().Ping(ctx, nil)
}

// Close disconnects the client when the store opened it.
func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
