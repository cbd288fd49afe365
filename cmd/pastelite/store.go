package main

import (
	"context"
	"fmt"

	"pastebin-lite/internal/storage"
	"pastebin-lite/internal/storage/boltstore"
	"pastebin-lite/internal/storage/dynamostore"
	"pastebin-lite/internal/storage/memstore"
	"pastebin-lite/internal/storage/mongostore"
	"pastebin-lite/internal/storage/redisstore"
	"pastebin-lite/internal/storage/sqlitestore"
)

func openStore(ctx context.Context, cfg config) (storage.Store, error) {
	switch cfg.store {
	case "redis":
		return redisstore.Open(ctx, cfg.redisURL)
	case "bolt":
		return boltstore.Open(cfg.dataPath)
	case "sqlite":
		return sqlitestore.Open(cfg.dataPath)
	case "mongodb":
		return mongostore.Open(ctx, mongostore.Config{
			URI:        cfg.mongoURI,
			Database:   cfg.mongoDatabase,
			Collection: cfg.mongoCollection,
		})
	case "dynamodb":
		return dynamostore.Open(ctx, dynamostore.Config{
			Table:    cfg.dynamoTable,
			Region:   cfg.awsRegion,
			Endpoint: cfg.dynamoEndpoint,
		})
	case "memory":
		return memstore.New(), nil
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.store)
	}
}
