// Package dynamostore implements storage.Store on a DynamoDB table.
//
// The table has a string partition key named "key". Items carry the value as
// a binary attribute, an optional expires_at_ms deadline checked on every
// read, a "ttl" attribute (epoch seconds) for DynamoDB's own TTL sweeper, and
// a random version token used for conditional writes.
package dynamostore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"pastebin-lite/internal/clock"
	"pastebin-lite/internal/storage"
)

const (
	attrKey     = "key"
	attrValue   = "value"
	attrExpires = "expires_at_ms"
	attrTTL     = "ttl"
	attrVersion = "version"

	condAbsentOrExpired = "attribute_not_exists(#k) OR #exp <= :now"
	condSameVersion     = "#ver = :ver"

	defaultUpdateAttempts = 16
)

// API is the subset of the DynamoDB client the store uses.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// Config describes how to reach the table.
type Config struct {
	Table    string
	Region   string
	Endpoint string // optional, e.g. http://localhost:8000 for DynamoDB Local
}

// Store implements storage.Store.
type Store struct {
	api            API
	table          string
	clock          clock.Clock
	updateAttempts int
}

// Open builds a client from the default AWS credential chain.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Table == "" {
		return nil, errors.New("dynamodb table name required")
	}
	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return New(client, cfg.Table, clock.Real), nil
}

// New wraps an existing client.
func New(api API, table string, c clock.Clock) *Store {
	return &Store{api: api, table: table, clock: c, updateAttempts: defaultUpdateAttempts}
}

type item struct {
	value   []byte
	expires time.Time
	version string
}

func (s *Store) load(ctx context.Context, key string) (item, bool, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            map[string]types.AttributeValue{attrKey: &types.AttributeValueMemberS{Value: key}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return item{}, false, fmt.Errorf("get item %s: %w", key, err)
	}
	if out.Item == nil {
		return item{}, false, nil
	}
	it, err := decodeItem(out.Item)
	if err != nil {
		return item{}, false, fmt.Errorf("decode item %s: %w", key, err)
	}
	// DynamoDB deletes TTL'd items lazily, so the deadline is checked here.
	if storage.Expired(it.expires, s.clock.Now()) {
		return item{}, false, nil
	}
	return it, true, nil
}

func decodeItem(av map[string]types.AttributeValue) (item, error) {
	var it item
	v, ok := av[attrValue].(*types.AttributeValueMemberB)
	if !ok {
		return item{}, errors.New("missing value attribute")
	}
	it.value = v.Value
	if exp, ok := av[attrExpires].(*types.AttributeValueMemberN); ok {
		ms, err := strconv.ParseInt(exp.Value, 10, 64)
		if err != nil {
			return item{}, fmt.Errorf("parse expiry: %w", err)
		}
		it.expires = clock.FromMillis(ms)
	}
	if ver, ok := av[attrVersion].(*types.AttributeValueMemberS); ok {
		it.version = ver.Value
	}
	return it, nil
}

func encodeItem(key string, value []byte, expires time.Time) (map[string]types.AttributeValue, error) {
	version, err := gonanoid.New(16)
	if err != nil {
		return nil, fmt.Errorf("version token: %w", err)
	}
	av := map[string]types.AttributeValue{
		attrKey:     &types.AttributeValueMemberS{Value: key},
		attrValue:   &types.AttributeValueMemberB{Value: value},
		attrVersion: &types.AttributeValueMemberS{Value: version},
	}
	if !expires.IsZero() {
		ms := clock.Millis(expires)
		av[attrExpires] = &types.AttributeValueMemberN{Value: strconv.FormatInt(ms, 10)}
		av[attrTTL] = &types.AttributeValueMemberN{Value: strconv.FormatInt((ms+999)/1000, 10)}
	}
	return av, nil
}

// Exists implements storage.Store.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := s.load(ctx, key)
	return ok, err
}

// Get implements storage.Store.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	it, ok, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, storage.ErrNotFound
	}
	return it.value, nil
}

// Set implements storage.Store.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	return s.put(ctx, key, value, time.Time{})
}

// SetEx implements storage.Store.
func (s *Store) SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("dynamostore: ttl must be positive")
	}
	return s.put(ctx, key, value, s.clock.Now().Add(ttl))
}

func (s *Store) put(ctx context.Context, key string, value []byte, expires time.Time) error {
	av, err := encodeItem(key, value, expires)
	if err != nil {
		return err
	}
	if _, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(s.table), Item: av}); err != nil {
		return fmt.Errorf("put item %s: %w", key, err)
	}
	return nil
}

// SetNX implements storage.Store with a conditional put that also accepts
// items whose deadline has passed but which DynamoDB has not yet removed.
func (s *Store) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	now := s.clock.Now()
	av, err := encodeItem(key, value, storage.ExpiryAt(now, ttl, time.Time{}))
	if err != nil {
		return false, err
	}
	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                av,
		ConditionExpression: aws.String(condAbsentOrExpired),
		ExpressionAttributeNames: map[string]string{
			"#k":   attrKey,
			"#exp": attrExpires,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(clock.Millis(now), 10)},
		},
	})
	if isConditionFailed(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("put item %s: %w", key, err)
	}
	return true, nil
}

// Update implements storage.Store with optimistic locking on the version token.
func (s *Store) Update(ctx context.Context, key string, fn storage.UpdateFunc) error {
	for attempt := 0; attempt < s.updateAttempts; attempt++ {
		cur, ok, err := s.load(ctx, key)
		if err != nil {
			return err
		}
		if !ok {
			return storage.ErrNotFound
		}
		next, ttl, err := fn(cur.value)
		if err != nil {
			return err
		}
		av, err := encodeItem(key, next, storage.ExpiryAt(s.clock.Now(), ttl, cur.expires))
		if err != nil {
			return err
		}
		_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:                aws.String(s.table),
			Item:                     av,
			ConditionExpression:      aws.String(condSameVersion),
			ExpressionAttributeNames: map[string]string{"#ver": attrVersion},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":ver": &types.AttributeValueMemberS{Value: cur.version},
			},
		})
		if isConditionFailed(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("put item %s: %w", key, err)
		}
		return nil
	}
	return fmt.Errorf("update %s: %w", key, storage.ErrConflict)
}

// Ping describes the table.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.api.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)}); err != nil {
		return fmt.Errorf("describe table: %w", err)
	}
	return nil
}

// Close is a no-op; the SDK client holds no persistent connections.
func (s *Store) Close() error { return nil }

// isConditionFailed also matches untyped API errors, which some DynamoDB
// emulators return in place of the modeled exception.
func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "ConditionalCheckFailedException"
}
