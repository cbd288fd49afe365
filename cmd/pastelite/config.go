package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

type config struct {
	addr            string
	store           string
	redisURL        string
	dataPath        string
	baseURL         string
	maxBytes        int
	behindProxy     bool
	testMode        bool
	metrics         bool
	logLevel        slog.Level
	janitorInterval time.Duration

	mongoURI        string
	mongoDatabase   string
	mongoCollection string

	dynamoTable    string
	awsRegion      string
	dynamoEndpoint string
}

var storeKinds = []string{"redis", "bolt", "sqlite", "mongodb", "dynamodb", "memory"}

// parseConfig reads flags from args. Every flag defaults to its environment
// variable when set, so flags win over the environment.
func parseConfig(args []string, getenv func(string) string) (config, error) {
	env := envReader{getenv: getenv}
	var (
		cfg      config
		logLevel string
	)

	fs := flag.NewFlagSet("pastelite", flag.ContinueOnError)
	fs.StringVar(&cfg.addr, "addr", env.str("PASTE_ADDR", ":8080"), "listen address")
	fs.StringVar(&cfg.store, "store", env.str("PASTE_STORE", "redis"), "storage backend: "+strings.Join(storeKinds, ", "))
	fs.StringVar(&cfg.redisURL, "redis-url", env.str("REDIS_URL", "redis://localhost:6379/0"), "redis connection URL")
	fs.StringVar(&cfg.dataPath, "data", env.str("PASTE_DATA", "./pastebin-lite.db"), "path to data file for bolt and sqlite")
	fs.StringVar(&cfg.baseURL, "base-url", env.str("BASE_URL", ""), "canonical base URL (optional)")
	fs.IntVar(&cfg.maxBytes, "max-bytes", env.integer("PASTE_MAX_BYTES", 1_048_576), "maximum paste size in bytes")
	fs.BoolVar(&cfg.behindProxy, "behind-proxy", env.boolean("PASTE_BEHIND_PROXY", false), "trust proxy headers for client address and scheme")
	fs.BoolVar(&cfg.testMode, "test-mode", env.boolean("TEST_MODE", false), "honour the x-test-now-ms request header")
	fs.BoolVar(&cfg.metrics, "metrics", env.boolean("PASTE_METRICS", true), "expose Prometheus metrics on /metrics")
	fs.StringVar(&logLevel, "log-level", env.str("LOG_LEVEL", "info"), "log level: debug, info, warn, error")
	fs.DurationVar(&cfg.janitorInterval, "janitor-interval", env.duration("PASTE_JANITOR_INTERVAL", time.Minute), "sweep interval for stores without native expiry")

	fs.StringVar(&cfg.mongoURI, "mongodb-uri", env.str("MONGODB_URI", ""), "mongodb connection URI")
	fs.StringVar(&cfg.mongoDatabase, "mongodb-database", env.str("MONGODB_DATABASE", "pastebin"), "mongodb database")
	fs.StringVar(&cfg.mongoCollection, "mongodb-collection", env.str("MONGODB_COLLECTION", "kv"), "mongodb collection")

	fs.StringVar(&cfg.dynamoTable, "dynamodb-table", env.str("DYNAMODB_TABLE", ""), "dynamodb table name")
	fs.StringVar(&cfg.awsRegion, "aws-region", env.str("AWS_REGION", ""), "aws region for dynamodb")
	fs.StringVar(&cfg.dynamoEndpoint, "dynamodb-endpoint", env.str("DYNAMODB_ENDPOINT", ""), "dynamodb endpoint override")

	if err := fs.Parse(args); err != nil {
		return config{}, err
	}
	if env.err != nil {
		return config{}, env.err
	}
	if err := cfg.logLevel.UnmarshalText([]byte(logLevel)); err != nil {
		return config{}, fmt.Errorf("invalid log level %q", logLevel)
	}
	if err := cfg.validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func (c config) validate() error {
	if c.maxBytes <= 0 {
		return errors.New("max-bytes must be positive")
	}
	if c.janitorInterval <= 0 {
		return errors.New("janitor-interval must be positive")
	}
	switch c.store {
	case "redis":
		if c.redisURL == "" {
			return errors.New("redis store requires -redis-url or REDIS_URL")
		}
	case "bolt", "sqlite":
		if c.dataPath == "" {
			return fmt.Errorf("%s store requires -data or PASTE_DATA", c.store)
		}
	case "mongodb":
		if c.mongoURI == "" {
			return errors.New("mongodb store requires -mongodb-uri or MONGODB_URI")
		}
	case "dynamodb":
		if c.dynamoTable == "" {
			return errors.New("dynamodb store requires -dynamodb-table or DYNAMODB_TABLE")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown store %q (want one of %s)", c.store, strings.Join(storeKinds, ", "))
	}
	return nil
}

// envReader remembers the first malformed variable it sees.
type envReader struct {
	getenv func(string) string
	err    error
}

func (e *envReader) str(key, def string) string {
	if v := strings.TrimSpace(e.getenv(key)); v != "" {
		return v
	}
	return def
}

func (e *envReader) integer(key string, def int) int {
	v := strings.TrimSpace(e.getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v)
		return def
	}
	return n
}

func (e *envReader) boolean(key string, def bool) bool {
	v := strings.TrimSpace(e.getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, v)
		return def
	}
	return b
}

func (e *envReader) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(e.getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v)
		return def
	}
	return d
}

func (e *envReader) fail(key, value string) {
	if e.err == nil {
		e.err = fmt.Errorf("invalid %s value %q", key, value)
	}
}
