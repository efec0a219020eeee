package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	BaseURL     string        `env:"HNS_BASE_URL"     envDefault:"https://hack-or-snooze-v3.herokuapp.com"`
	DBPath      string        `env:"HNS_DB"`
	HTTPTimeout time.Duration `env:"HNS_HTTP_TIMEOUT" envDefault:"30s"`
	PageSize    int           `env:"HNS_PAGE_SIZE"    envDefault:"25"`
	RateLimits  RateLimits
	LogLevel    string `env:"HNS_LOG_LEVEL"  envDefault:"info"`
	LogFormat   string `env:"HNS_LOG_FORMAT" envDefault:"text"`
}

// RateLimits paces outgoing requests. A non-positive PerSecond disables pacing.
type RateLimits struct {
	PerSecond float64 `env:"HNS_RATE_PER_SEC" envDefault:"5"`
	Burst     int     `env:"HNS_RATE_BURST"   envDefault:"5"`
}

// Load reads the configuration from the environment and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(hnsDir(), "session.db")
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("HNS_BASE_URL must be an absolute URL, got %q", c.BaseURL)
	}
	if c.HTTPTimeout <= 0 {
		return errors.New("HNS_HTTP_TIMEOUT must be positive")
	}
	if c.PageSize <= 0 {
		return errors.New("HNS_PAGE_SIZE must be positive")
	}
	if c.RateLimits.Burst < 0 {
		return errors.New("HNS_RATE_BURST must not be negative")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("HNS_LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}
	return nil
}

func hnsDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".hns")
}
