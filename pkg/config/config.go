// Package config loads server configuration from the environment and the
// storage policy configuration (rewrites, redirects, iframe and raw-access
// policy) from a schema-validated YAML file.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds server configuration.
type Config struct {
	Port              string
	LogLevel          string
	DatabaseDriver    string // "sqlite" or "postgres"
	DatabaseURL       string
	StorageConfigPath string
	BatchTTL          time.Duration
	GCInterval        time.Duration
	JWTSecret         string
	RedisAddr         string // empty: local in-process rate limiting
	RateLimitRPS      int
	RateLimitBurst    int
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		Port:              envOr("PORT", "8080"),
		LogLevel:          envOr("LOG_LEVEL", "INFO"),
		DatabaseDriver:    envOr("DATABASE_DRIVER", "sqlite"),
		DatabaseURL:       envOr("DATABASE_URL", "file:veriserve.db"),
		StorageConfigPath: os.Getenv("STORAGE_CONFIG"),
		BatchTTL:          envDuration("BATCH_TTL", 5*time.Minute),
		GCInterval:        envDuration("GC_INTERVAL", time.Minute),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RateLimitRPS:      envInt("RATE_LIMIT_RPS", 20),
		RateLimitBurst:    envInt("RATE_LIMIT_BURST", 40),
	}
	return cfg
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func envInt(name string, fallback int) int {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(name string, fallback time.Duration) time.Duration {
	if v := os.Getenv(name); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
