// Package config reads settings from the environment. A .env file in the
// working directory is loaded first when present.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultAPIURL   = "http://localhost:8000/api"
	DefaultDBPath   = "library.db"
	DefaultAddr     = ":8000"
	DefaultTokenTTL = 24 * time.Hour
)

type Config struct {
	// APIURL is the backend root the console talks to.
	APIURL   string
	LogLevel slog.Level

	// Development server settings.
	DBPath    string
	Addr      string
	JWTSecret string
	TokenTTL  time.Duration
}

// LoadDotEnv loads .env into the environment. Missing files are ignored;
// variables already set win.
func LoadDotEnv(files ...string) {
	_ = godotenv.Load(files...)
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		APIURL:    getenv("LIBRARY_API_URL", DefaultAPIURL),
		DBPath:    getenv("LIBRARY_DB_PATH", DefaultDBPath),
		Addr:      getenv("LIBRARY_ADDR", DefaultAddr),
		JWTSecret: os.Getenv("LIBRARY_JWT_SECRET"),
		TokenTTL:  DefaultTokenTTL,
	}

	level, err := ParseLevel(getenv("LIBRARY_LOG_LEVEL", "warn"))
	if err != nil {
		return nil, err
	}
	cfg.LogLevel = level

	if v := os.Getenv("LIBRARY_TOKEN_TTL"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("LIBRARY_TOKEN_TTL: %w", err)
		}
		if ttl <= 0 {
			return nil, fmt.Errorf("LIBRARY_TOKEN_TTL: must be positive, got %s", v)
		}
		cfg.TokenTTL = ttl
	}
	return cfg, nil
}

// ParseLevel accepts debug, info, warn and error.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

// NewLogger returns a text logger on stderr at level.
func NewLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
