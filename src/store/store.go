// Package store persists aggregator state between process runs. Every
// backend is best-effort from the caller's point of view: the aggregator
// logs failures and carries on with in-memory state.
package store

import (
	"context"
	"time"

	perrors "github.com/orchestra-mcp/pulse/src/errors"
	"github.com/rs/zerolog"
)

// Drivers accepted by Open.
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
	DriverSQLite = "sqlite"
)

// DefaultTTL is how long a persisted value survives without being rewritten.
const DefaultTTL = 24 * time.Hour

// KeyValueStore is a minimal durable key-value capability.
type KeyValueStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Deleter is implemented by stores that can remove keys.
type Deleter interface {
	Delete(ctx context.Context, key string) error
}

// Store is a KeyValueStore owned by the caller and closed on shutdown.
type Store interface {
	KeyValueStore
	Deleter
	Close() error
}

// Config selects and tunes a backend.
type Config struct {
	Driver     string        `mapstructure:"driver"`
	TTL        time.Duration `mapstructure:"ttl"`
	MaxEntries int           `mapstructure:"max_entries"`
	SQLitePath string        `mapstructure:"sqlite_path"`
	Redis      RedisConfig   `mapstructure:"redis"`
}

// Open returns the backend named by cfg.Driver.
func Open(ctx context.Context, cfg Config, logger zerolog.Logger) (Store, error) {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	switch cfg.Driver {
	case "", DriverMemory:
		return NewMemoryStore(cfg.MaxEntries, ttl, nil), nil
	case DriverRedis:
		s := NewRedisStore(&cfg.Redis, ttl, logger)
		if err := s.Ping(ctx); err != nil {
			s.Close()
			return nil, perrors.WrapWithSuggestion(err, perrors.ErrStore,
				"redis store unreachable at "+cfg.Redis.Addr,
				"check store.redis.addr or REDIS_ADDR")
		}
		return s, nil
	case DriverSQLite:
		if cfg.SQLitePath == "" {
			return nil, perrors.New(perrors.ErrConfig, "sqlite store needs a path", "set store.sqlite_path")
		}
		s, err := NewSQLiteStore(cfg.SQLitePath, ttl, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, perrors.New(perrors.ErrConfig, "unsupported store driver: "+cfg.Driver,
			"use memory, redis or sqlite")
	}
}
