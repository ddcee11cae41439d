package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg := DefaultRedisConfig()
	cfg.Addr = mr.Addr()
	s := NewRedisStore(cfg, ttl, zerolog.Nop())
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestRedisStoreGetSet(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t, time.Hour)
	require.NoError(t, s.Ping(ctx))

	_, ok, err := s.Get(ctx, "entity:h1:snapshot")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "entity:h1:snapshot", []byte(`{"cpu":1}`)))
	v, ok, err := s.Get(ctx, "entity:h1:snapshot")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"cpu":1}`, string(v))

	// Keys are namespaced by the configured prefix.
	assert.True(t, mr.Exists("pulse:entity:h1:snapshot"))
	assert.Equal(t, time.Hour, mr.TTL("pulse:entity:h1:snapshot"))
}

func TestRedisStoreExpiry(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t, time.Minute)

	require.NoError(t, s.Set(ctx, "k", []byte("v")))
	mr.FastForward(2 * time.Minute)

	_, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStoreDelete(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t, time.Hour)

	require.NoError(t, s.Set(ctx, "k", []byte("v")))
	require.NoError(t, s.Delete(ctx, "k"))
	assert.False(t, mr.Exists("pulse:k"))
}

func TestRedisStoreServerDown(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t, time.Hour)
	mr.Close()

	_, _, err := s.Get(ctx, "k")
	assert.Error(t, err)
	assert.Error(t, s.Set(ctx, "k", []byte("v")))
}

func TestDefaultRedisConfig(t *testing.T) {
	cfg := DefaultRedisConfig()
	assert.Equal(t, "localhost:6379", cfg.Addr)
	assert.Empty(t, cfg.Password)
	assert.Equal(t, 0, cfg.DB)
	assert.Equal(t, "pulse:", cfg.Prefix)
}

func TestRedisConfigFromEnv(t *testing.T) {
	t.Setenv("REDIS_ADDR", "redis.example.com:6380")
	t.Setenv("REDIS_PASSWORD", "secret")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("REDIS_PULSE_PREFIX", "test:pulse:")

	cfg := RedisConfigFromEnv()
	assert.Equal(t, "redis.example.com:6380", cfg.Addr)
	assert.Equal(t, "secret", cfg.Password)
	assert.Equal(t, 3, cfg.DB)
	assert.Equal(t, "test:pulse:", cfg.Prefix)
}

func TestRedisConfigFromEnvInvalidDB(t *testing.T) {
	t.Setenv("REDIS_DB", "not-a-number")

	cfg := RedisConfigFromEnv()
	assert.Equal(t, 0, cfg.DB) // falls back to default
}
