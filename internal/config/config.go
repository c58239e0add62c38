// Package config loads process configuration from environment variables,
// following evalgo-org-eve/config/config.go's EnvConfig pattern (typed
// getters with defaults, optional key prefixing). Spec §6 names the cache
// subsystem's env vars exactly; this package reads those plus the cache key
// prefix and the DSN, HTTP and JWT settings the server needs to start.
package config

import (
	"os"
	"strconv"
	"time"
)

// EnvConfig reads typed values from the environment, optionally under a
// prefix (e.g. prefix "CACHE" + key "DEFAULT_TTL" -> "CACHE_DEFAULT_TTL").
type EnvConfig struct {
	prefix string
}

func NewEnvConfig(prefix string) *EnvConfig {
	return &EnvConfig{prefix: prefix}
}

func (ec *EnvConfig) buildKey(key string) string {
	if ec.prefix == "" {
		return key
	}
	return ec.prefix + "_" + key
}

func (ec *EnvConfig) GetString(key, def string) string {
	if v := os.Getenv(ec.buildKey(key)); v != "" {
		return v
	}
	return def
}

func (ec *EnvConfig) GetInt(key string, def int) int {
	if v := os.Getenv(ec.buildKey(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func (ec *EnvConfig) GetBool(key string, def bool) bool {
	if v := os.Getenv(ec.buildKey(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func (ec *EnvConfig) GetDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(ec.buildKey(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// CacheConfig mirrors spec §6's CACHE_* and REDIS_* environment variables.
type CacheConfig struct {
	DefaultTTL            time.Duration
	MetricsEnabled         bool
	LoggingEnabled         bool
	StatsTrackingEnabled   bool
	StatsResetPeriod       time.Duration // 0 disables the auto-reset timer
	RedisHost              string
	RedisPort              int
	RedisPassword          string
	RedisCacheDB           int
	KeyPrefix              string
}

func LoadCacheConfig() CacheConfig {
	env := NewEnvConfig("")
	return CacheConfig{
		DefaultTTL:           time.Duration(env.GetInt("CACHE_DEFAULT_TTL", 300)) * time.Second,
		MetricsEnabled:       env.GetBool("CACHE_METRICS_ENABLED", true),
		LoggingEnabled:       env.GetBool("CACHE_LOGGING_ENABLED", false),
		StatsTrackingEnabled: env.GetBool("CACHE_STATS_TRACKING_ENABLED", true),
		StatsResetPeriod:     time.Duration(env.GetInt("CACHE_STATS_RESET_PERIOD_MS", 0)) * time.Millisecond,
		RedisHost:            env.GetString("REDIS_HOST", "localhost"),
		RedisPort:            env.GetInt("REDIS_PORT", 6379),
		RedisPassword:        env.GetString("REDIS_PASSWORD", ""),
		RedisCacheDB:         env.GetInt("REDIS_CACHE_DB", 1),
		KeyPrefix:            env.GetString("CACHE_KEY_PREFIX", "cache"),
	}
}

// ServerConfig configures the HTTP transport in cmd/server.
type ServerConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	JWTSigningKey string
}

func LoadServerConfig() ServerConfig {
	env := NewEnvConfig("")
	return ServerConfig{
		Port:          env.GetInt("HTTP_PORT", 8080),
		ReadTimeout:   env.GetDuration("HTTP_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:  env.GetDuration("HTTP_WRITE_TIMEOUT", 30*time.Second),
		JWTSigningKey: env.GetString("JWT_SIGNING_KEY", ""),
	}
}

// DatabaseURL returns the Postgres DSN the version/branch/merge stores
// connect with.
func DatabaseURL() string {
	return NewEnvConfig("").GetString("DATABASE_URL", "postgres://localhost:5432/campaign_manager?sslmode=disable")
}
