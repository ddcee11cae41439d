package store

import (
	"context"
	"errors"
	"time"

	perrors "github.com/orchestra-mcp/pulse/src/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisStore keeps values in Redis under a common prefix, relying on native
// key expiry for the TTL.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger zerolog.Logger
}

// NewRedisStore creates a store backed by the Redis server in cfg.
func NewRedisStore(cfg *RedisConfig, ttl time.Duration, logger zerolog.Logger) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &RedisStore{
		client: client,
		prefix: cfg.Prefix,
		ttl:    ttl,
		logger: logger.With().Str("component", "redis-store").Logger(),
	}
}

// Ping checks the server is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, perrors.Wrap(err, perrors.ErrStore, "redis get "+key)
	}
	return data, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.prefix+key, value, s.ttl).Err(); err != nil {
		return perrors.Wrap(err, perrors.ErrStore, "redis set "+key)
	}
	s.logger.Debug().Str("key", key).Int("bytes", len(value)).Msg("stored")
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return perrors.Wrap(err, perrors.ErrStore, "redis delete "+key)
	}
	return nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
