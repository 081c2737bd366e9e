package app

import (
	"os"
	"time"
)

type Config struct {
	APIURL    string // Required: base URL of the Inkwell API (default: http://localhost:8080)
	StateDB   string // Optional: path to the SQLite state file for remembered sessions (default: ./inkwell-session.db)
	RedisAddr string // Optional: Redis address for cross-process token updates; empty means in-process only

	RefreshThreshold  time.Duration // Optional: how long before expiry a refresh is attempted (default: 5m)
	RefreshBuffer     time.Duration // Optional: below this remaining lifetime the refresh runs immediately (default: 10s)
	BroadcastInterval time.Duration // Optional: minimum gap between published token updates (default: 1s)

	Env       string // Environment (dev, staging, prod) (default: dev)
	LogLevel  string // Log level (debug, info, warn, error) (default: info)
	LogFormat string // Log format (json, text) (default: text)
}

func LoadConfig() Config {
	return Config{
		APIURL:    getEnvOrDefault("INKWELL_API_URL", "http://localhost:8080"),
		StateDB:   getEnvOrDefault("INKWELL_STATE_DB", "inkwell-session.db"),
		RedisAddr: os.Getenv("INKWELL_REDIS_ADDR"), // Optional

		RefreshThreshold:  getEnvDurationOrDefault("INKWELL_REFRESH_THRESHOLD", 5*time.Minute),
		RefreshBuffer:     getEnvDurationOrDefault("INKWELL_REFRESH_BUFFER", 10*time.Second),
		BroadcastInterval: getEnvDurationOrDefault("INKWELL_BROADCAST_INTERVAL", time.Second),

		Env:       getEnvOrDefault("ENV", "dev"),
		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "text"),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	return defaultValue
}
