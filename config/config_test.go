package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	perrors "github.com/orchestra-mcp/pulse/src/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pulse.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "ws://localhost:8080/ws", cfg.Stream.Endpoint)
	assert.Equal(t, time.Second, cfg.Stream.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Stream.MaxDelay)
	assert.Equal(t, 5, cfg.Stream.BackoffCap)
	assert.Equal(t, 500*time.Millisecond, cfg.Stream.GracefulDelay)
	assert.Equal(t, 120, cfg.Aggregator.SeriesCapacity)
	assert.Equal(t, 200*time.Millisecond, cfg.Fleet.Debounce)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 24*time.Hour, cfg.Store.TTL)
	assert.NoError(t, cfg.Validate())
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Stream, cfg.Stream)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
stream:
  origin: https://dash.example.com
  token: abc
  base_delay: 2s
  max_delay: 1m
aggregator:
  series_capacity: 60
  entities: [web-1, web-2]
fleet:
  debounce: 500ms
store:
  driver: sqlite
  sqlite_path: /tmp/pulse.db
  ttl: 1h
log:
  format: json
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "abc", cfg.Stream.Token)
	assert.Equal(t, 2*time.Second, cfg.Stream.BaseDelay)
	assert.Equal(t, time.Minute, cfg.Stream.MaxDelay)
	assert.Equal(t, 5, cfg.Stream.BackoffCap, "unset keys keep defaults")
	assert.Equal(t, 60, cfg.Aggregator.SeriesCapacity)
	assert.Equal(t, []string{"web-1", "web-2"}, cfg.Aggregator.Entities)
	assert.Equal(t, 500*time.Millisecond, cfg.Fleet.Debounce)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, time.Hour, cfg.Store.TTL)
	assert.Equal(t, "json", cfg.Log.Format)

	assert.Equal(t, "wss://dash.example.com/ws", cfg.StreamEndpoint())
	opts := cfg.StreamOptions()
	assert.Equal(t, "wss://dash.example.com/ws", opts.Endpoint)
	assert.Equal(t, "abc", opts.Token())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PULSE_STREAM_TOKEN", "from-env")
	t.Setenv("PULSE_STREAM_MAX_DELAY", "45s")
	t.Setenv("PULSE_STORE_REDIS_ADDR", "cache:6379")

	path := writeConfig(t, "stream:\n  token: from-file\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Stream.Token)
	assert.Equal(t, 45*time.Second, cfg.Stream.MaxDelay)
	assert.Equal(t, "cache:6379", cfg.Store.Redis.Addr)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, perrors.IsCode(err, perrors.ErrConfig))
}

func TestLoadInvalidFile(t *testing.T) {
	path := writeConfig(t, "stream: [unclosed\n")
	_, err := Load(path)
	assert.True(t, perrors.IsCode(err, perrors.ErrConfig))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*PulseConfig)
	}{
		{"no endpoint", func(c *PulseConfig) { c.Stream.Endpoint = "" }},
		{"max below base", func(c *PulseConfig) { c.Stream.MaxDelay = time.Millisecond }},
		{"negative jitter", func(c *PulseConfig) { c.Stream.Jitter = -time.Second }},
		{"zero capacity", func(c *PulseConfig) { c.Aggregator.SeriesCapacity = 0 }},
		{"zero debounce", func(c *PulseConfig) { c.Fleet.Debounce = 0 }},
		{"unknown driver", func(c *PulseConfig) { c.Store.Driver = "etcd" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, perrors.IsCode(err, perrors.ErrConfig))
		})
	}
}
