package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config carries process-wide settings loaded once at startup.
type Config struct {
	ListenAddr  string `env:"UNITYPLAN_LISTEN_ADDR" envDefault:":8080"`
	DatabaseDSN string `env:"UNITYPLAN_PG_DSN"`

	// TokenSecret signs access tokens. Rotating it invalidates all
	// outstanding access tokens, which is acceptable: they are short-lived.
	TokenSecret string        `env:"UNITYPLAN_TOKEN_SECRET"`
	AccessTTL   time.Duration `env:"UNITYPLAN_ACCESS_TTL" envDefault:"900s"`
	RefreshTTL  time.Duration `env:"UNITYPLAN_REFRESH_TTL" envDefault:"604800s"`
}

// Load reads configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.TokenSecret == "" {
		return Config{}, errors.New("UNITYPLAN_TOKEN_SECRET is required")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return Config{}, errors.New("token TTLs must be positive")
	}
	return cfg, nil
}
