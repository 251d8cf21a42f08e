// Package config assembles the startup configuration from the environment.
// It is read once in main and handed to the components that need it, so no
// core logic ever reaches for an ambient environment lookup.
package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port           int
	DatabaseURL    string // empty selects the in-memory store
	MigrationsPath string
	APIKey         string
	MaxPageSize    int
	LockTimeout    time.Duration

	EnableNotifications  bool
	NotificationsTimeout time.Duration
	NotificationsBaseURL string
}

// FromEnv builds a Config with local-development defaults for everything
// not set in the environment.
func FromEnv() Config {
	return Config{
		Port:           getEnvInt("PORT", 8080),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		MigrationsPath: getEnv("DATABASE_MIGRATIONS_PATH", "cmd/api/database/migrations"),
		APIKey:         getEnv("API_KEY", "dev-secret-key-12345"),
		MaxPageSize:    getEnvInt("MAX_PAGE_SIZE", 100),
		LockTimeout:    getEnvDuration("LOCK_TIMEOUT", 3*time.Second),

		EnableNotifications:  os.Getenv("NOTIFICATIONS_ENABLED") == "true",
		NotificationsTimeout: getEnvDuration("NOTIFICATIONS_TIMEOUT", 1*time.Second),
		NotificationsBaseURL: getEnv("NOTIFICATIONS_BASE_URL", "https://ntfy.sh"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
