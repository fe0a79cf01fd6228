// Package config handles application configuration from environment variables.
package config

import (
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the application configuration.
type Config struct {
	DatabasePath      string        `env:"DATABASE_PATH" envDefault:"./data/alerts.db"`
	LogLevel          string        `env:"LOG_LEVEL" envDefault:"info"`
	HTTPAddr          string        `env:"HTTP_ADDR" envDefault:":8080"`
	CronSecret        string        `env:"CRON_SECRET"`
	WatchlistInterval time.Duration `env:"WATCHLIST_INTERVAL" envDefault:"1h"`
	WatchlistWindow   time.Duration `env:"WATCHLIST_WINDOW" envDefault:"24h"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.WatchlistInterval <= 0 {
		return nil, fmt.Errorf("WATCHLIST_INTERVAL must be positive, got %s", cfg.WatchlistInterval)
	}
	if cfg.WatchlistWindow <= 0 {
		return nil, fmt.Errorf("WATCHLIST_WINDOW must be positive, got %s", cfg.WatchlistWindow)
	}
	if cfg.HTTPAddr == "" {
		return nil, fmt.Errorf("HTTP_ADDR must not be empty")
	}
	return &cfg, nil
}

// IsTokenAllowed checks a bearer token against CronSecret.
// Returns true if no secret is configured (all callers permitted).
func (c *Config) IsTokenAllowed(token string) bool {
	if c.CronSecret == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(c.CronSecret)) == 1
}
