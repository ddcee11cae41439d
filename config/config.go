// Package config loads pulse configuration from defaults, an optional
// YAML file and PULSE_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	perrors "github.com/orchestra-mcp/pulse/src/errors"
	"github.com/orchestra-mcp/pulse/src/logging"
	"github.com/orchestra-mcp/pulse/src/store"
	"github.com/orchestra-mcp/pulse/src/stream"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. PULSE_STREAM_TOKEN.
const EnvPrefix = "PULSE"

// PulseConfig is the complete runtime configuration.
type PulseConfig struct {
	Stream     StreamConfig     `mapstructure:"stream"`
	Aggregator AggregatorConfig `mapstructure:"aggregator"`
	Fleet      FleetConfig      `mapstructure:"fleet"`
	Store      store.Config     `mapstructure:"store"`
	HTTP       ListenConfig     `mapstructure:"http"`
	Metrics    ListenConfig     `mapstructure:"metrics"`
	Log        logging.Config   `mapstructure:"log"`
}

// StreamConfig configures the shared stream connection.
type StreamConfig struct {
	Endpoint      string        `mapstructure:"endpoint"`
	Origin        string        `mapstructure:"origin"`
	Path          string        `mapstructure:"path"`
	Token         string        `mapstructure:"token"`
	BaseDelay     time.Duration `mapstructure:"base_delay"`
	MaxDelay      time.Duration `mapstructure:"max_delay"`
	BackoffCap    int           `mapstructure:"backoff_cap"`
	Jitter        time.Duration `mapstructure:"jitter"`
	GracefulDelay time.Duration `mapstructure:"graceful_delay"`
	DialTimeout   time.Duration `mapstructure:"dial_timeout"`
	StatusLogSize int           `mapstructure:"status_log_size"`
}

// AggregatorConfig configures per-entity aggregation.
type AggregatorConfig struct {
	SeriesCapacity     int      `mapstructure:"series_capacity"`
	SeriesPersistEvery int      `mapstructure:"series_persist_every"`
	Fields             []string `mapstructure:"fields"`
	Entities           []string `mapstructure:"entities"`
	AutoWatch          bool     `mapstructure:"auto_watch"`
}

// FleetConfig configures fleet recomputation.
type FleetConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
}

// ListenConfig is a listen address; empty disables the listener.
type ListenConfig struct {
	Listen string `mapstructure:"listen"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *PulseConfig {
	return &PulseConfig{
		Stream: StreamConfig{
			Endpoint:      "ws://localhost:8080/ws",
			Path:          "/ws",
			BaseDelay:     time.Second,
			MaxDelay:      30 * time.Second,
			BackoffCap:    5,
			Jitter:        time.Second,
			GracefulDelay: 500 * time.Millisecond,
			DialTimeout:   10 * time.Second,
			StatusLogSize: 50,
		},
		Aggregator: AggregatorConfig{
			SeriesCapacity:     120,
			SeriesPersistEvery: 10,
			Fields:             []string{"cpu_usage", "memory_percent", "disk_percent", "load_1"},
			AutoWatch:          true,
		},
		Fleet: FleetConfig{Debounce: 200 * time.Millisecond},
		Store: store.Config{
			Driver:     store.DriverMemory,
			TTL:        store.DefaultTTL,
			MaxEntries: store.DefaultMaxEntries,
			Redis:      *store.RedisConfigFromEnv(),
		},
		HTTP:    ListenConfig{Listen: "127.0.0.1:9400"},
		Metrics: ListenConfig{Listen: "127.0.0.1:9401"},
		Log:     logging.Config{Level: "info", Format: "console"},
	}
}

// Load reads configuration. An empty path skips the file; a path that does
// not exist is an error.
func Load(path string) (*PulseConfig, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if errors.Is(err, fs.ErrNotExist) || os.IsNotExist(err) {
				return nil, perrors.WrapWithSuggestion(err, perrors.ErrConfig,
					"config file not found: "+path,
					"check the path passed to --config")
			}
			return nil, perrors.WrapWithSuggestion(err, perrors.ErrConfig,
				"failed to read config file",
				"check the file is valid YAML")
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, perrors.WrapWithSuggestion(err, perrors.ErrConfig,
			"invalid config format", "check value types in "+path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so environment overrides apply to keys
// absent from the file.
func setDefaults(v *viper.Viper, d *PulseConfig) {
	v.SetDefault("stream.endpoint", d.Stream.Endpoint)
	v.SetDefault("stream.origin", d.Stream.Origin)
	v.SetDefault("stream.path", d.Stream.Path)
	v.SetDefault("stream.token", d.Stream.Token)
	v.SetDefault("stream.base_delay", d.Stream.BaseDelay)
	v.SetDefault("stream.max_delay", d.Stream.MaxDelay)
	v.SetDefault("stream.backoff_cap", d.Stream.BackoffCap)
	v.SetDefault("stream.jitter", d.Stream.Jitter)
	v.SetDefault("stream.graceful_delay", d.Stream.GracefulDelay)
	v.SetDefault("stream.dial_timeout", d.Stream.DialTimeout)
	v.SetDefault("stream.status_log_size", d.Stream.StatusLogSize)

	v.SetDefault("aggregator.series_capacity", d.Aggregator.SeriesCapacity)
	v.SetDefault("aggregator.series_persist_every", d.Aggregator.SeriesPersistEvery)
	v.SetDefault("aggregator.fields", d.Aggregator.Fields)
	v.SetDefault("aggregator.entities", d.Aggregator.Entities)
	v.SetDefault("aggregator.auto_watch", d.Aggregator.AutoWatch)

	v.SetDefault("fleet.debounce", d.Fleet.Debounce)

	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.ttl", d.Store.TTL)
	v.SetDefault("store.max_entries", d.Store.MaxEntries)
	v.SetDefault("store.sqlite_path", d.Store.SQLitePath)
	v.SetDefault("store.redis.addr", d.Store.Redis.Addr)
	v.SetDefault("store.redis.password", d.Store.Redis.Password)
	v.SetDefault("store.redis.db", d.Store.Redis.DB)
	v.SetDefault("store.redis.prefix", d.Store.Redis.Prefix)

	v.SetDefault("http.listen", d.HTTP.Listen)
	v.SetDefault("metrics.listen", d.Metrics.Listen)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
}

// Validate reports the first invalid setting.
func (c *PulseConfig) Validate() error {
	switch {
	case c.Stream.Endpoint == "" && c.Stream.Origin == "":
		return perrors.New(perrors.ErrConfig, "no stream endpoint configured", "set stream.endpoint or stream.origin")
	case c.Stream.BaseDelay <= 0 || c.Stream.MaxDelay < c.Stream.BaseDelay:
		return perrors.New(perrors.ErrConfig, "invalid reconnect delays", "need 0 < stream.base_delay <= stream.max_delay")
	case c.Stream.Jitter < 0:
		return perrors.New(perrors.ErrConfig, "stream.jitter must not be negative", "")
	case c.Aggregator.SeriesCapacity <= 0:
		return perrors.New(perrors.ErrConfig, "aggregator.series_capacity must be positive", "")
	case c.Fleet.Debounce <= 0:
		return perrors.New(perrors.ErrConfig, "fleet.debounce must be positive", "")
	}
	switch c.Store.Driver {
	case store.DriverMemory, store.DriverRedis, store.DriverSQLite:
	default:
		return perrors.New(perrors.ErrConfig, "unsupported store.driver "+c.Store.Driver, "use memory, redis or sqlite")
	}
	return nil
}

// StreamEndpoint resolves the stream URL, deriving it from the origin when
// one is configured.
func (c *PulseConfig) StreamEndpoint() string {
	return stream.ResolveEndpoint(c.Stream.Origin, c.Stream.Path, c.Stream.Endpoint)
}

// StreamOptions converts the stream section to manager options.
func (c *PulseConfig) StreamOptions() stream.Options {
	token := c.Stream.Token
	return stream.Options{
		Endpoint:      c.StreamEndpoint(),
		Token:         func() string { return token },
		BaseDelay:     c.Stream.BaseDelay,
		MaxDelay:      c.Stream.MaxDelay,
		BackoffCap:    c.Stream.BackoffCap,
		Jitter:        c.Stream.Jitter,
		GracefulDelay: c.Stream.GracefulDelay,
		DialTimeout:   c.Stream.DialTimeout,
	}
}
