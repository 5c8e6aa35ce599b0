package config

import (
	"fmt"
	"log/slog"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

// Config is sourced entirely from the environment: a flat struct parsed
// by caarlos0/env and checked by go-playground/validator before anything
// else starts.
type Config struct {
	Env      string `env:"ENV" envDefault:"local" validate:"required,oneof=local staging production"`
	HTTPPort string `env:"HTTP_PORT" envDefault:"8080" validate:"required"`

	DatabasePath string `env:"DATABASE_PATH" envDefault:"durably.db" validate:"required"`

	PollIntervalMS      int `env:"POLL_INTERVAL_MS" envDefault:"1000" validate:"min=10,max=60000"`
	HeartbeatIntervalMS int `env:"HEARTBEAT_INTERVAL_MS" envDefault:"5000" validate:"min=100,max=120000"`
	StaleThresholdMS    int `env:"STALE_THRESHOLD_MS" envDefault:"30000" validate:"min=1000,max=600000"`

	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info" validate:"required,oneof=debug info warn error"`

	// AdminTokenSecret signs admin bearer tokens (trigger/retry/cancel/delete)
	// and the per-run subscribe tokens minted by POST /trigger.
	AdminTokenSecret string `env:"ADMIN_TOKEN_SECRET,required" validate:"required,min=16"`
}

// Load parses the environment into a Config and validates it.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SlogLevel converts LogLevel to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
