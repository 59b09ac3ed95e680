// Package config loads engine settings from the environment and .env.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	Environment string

	HTTPPort     string
	DatabasePath string
	CORSOrigins  []string

	LogLevel  string
	LogFormat string // json or console

	// RedisAddr enables the Redis subject lock when set.
	RedisAddr string
	LockTTL   time.Duration

	DuePostingEnabled  bool
	DuePostingInterval time.Duration

	BulkRefreshConcurrency int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:                getenv("APP_NAME", "feeengine"),
		Environment:            getenv("ENVIRONMENT", "development"),
		HTTPPort:               getenv("HTTP_PORT", "8080"),
		DatabasePath:           getenv("DATABASE_PATH", "./data/fees.db"),
		CORSOrigins:            splitList(getenv("CORS_ORIGINS", "http://localhost:5173,http://localhost:8080")),
		LogLevel:               getenv("LOG_LEVEL", "info"),
		LogFormat:              strings.ToLower(getenv("LOG_FORMAT", "json")),
		RedisAddr:              strings.TrimSpace(getenv("REDIS_ADDR", "")),
		LockTTL:                getenvDuration("LOCK_TTL", 30*time.Second),
		DuePostingEnabled:      getenvBool("DUE_POSTING_ENABLED", true),
		DuePostingInterval:     getenvDuration("DUE_POSTING_INTERVAL", time.Hour),
		BulkRefreshConcurrency: getenvInt("BULK_REFRESH_CONCURRENCY", 4),
	}
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
