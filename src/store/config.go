package store

import (
	"os"
	"strconv"
)

// RedisConfig holds connection settings for the Redis store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`     // Redis address, default "localhost:6379"
	Password string `mapstructure:"password"` // Redis password, default ""
	DB       int    `mapstructure:"db"`       // Redis database number, default 0
	Prefix   string `mapstructure:"prefix"`   // Key prefix, default "pulse:"
}

// DefaultRedisConfig returns a RedisConfig with sensible defaults.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:   "localhost:6379",
		Prefix: "pulse:",
	}
}

// RedisConfigFromEnv loads Redis configuration from environment variables.
// Falls back to defaults for any missing values.
func RedisConfigFromEnv() *RedisConfig {
	cfg := DefaultRedisConfig()

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		cfg.Password = pw
	}
	if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
		if db, err := strconv.Atoi(dbStr); err == nil {
			cfg.DB = db
		}
	}
	if prefix := os.Getenv("REDIS_PULSE_PREFIX"); prefix != "" {
		cfg.Prefix = prefix
	}
	return cfg
}
