package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nidohq/nido/billing"
	"github.com/nidohq/nido/ratelimit"
	"github.com/nidohq/nido/store"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StripeConfig holds payment processor settings. The API key is only
// ever read from the environment.
type StripeConfig struct {
	APIKey    string `yaml:"-"`
	ProductID string `yaml:"product_id"`
}

// RedisConfig holds shared counter store settings. When Addr is empty
// the in-process counter store is used and limits are per-process.
type RedisConfig struct {
	Addr string `yaml:"addr"`
}

// RateLimitConfig overrides the default per-class presets.
type RateLimitConfig struct {
	Public        *ratelimit.Preset `yaml:"public"`
	Authenticated *ratelimit.Preset `yaml:"authenticated"`
	Billing       *ratelimit.Preset `yaml:"billing"`
}

// Config is the full application configuration.
type Config struct {
	Server    ServerConfig       `yaml:"server"`
	Postgres  store.PGConfig     `yaml:"postgres"`
	Redis     RedisConfig        `yaml:"redis"`
	Stripe    StripeConfig       `yaml:"stripe"`
	URLs      billing.URLConfig  `yaml:"urls"`
	Prices    billing.PriceTable `yaml:"prices"`
	RateLimit RateLimitConfig    `yaml:"rate_limit"`
	JWTSecret string             `yaml:"-"`
}

// Load reads the config file, applies defaults and environment
// overrides, and validates required secrets.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	// Secrets come from the environment, never the file.
	cfg.Stripe.APIKey = os.Getenv("STRIPE_API_KEY")
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Postgres.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.Stripe.APIKey == "" {
		return nil, fmt.Errorf("STRIPE_API_KEY is required")
	}

	return cfg, nil
}

// Presets returns the rate limit presets with any configured overrides
// applied. Overrides are partial: a zero field keeps the default.
func (c *Config) Presets() map[ratelimit.RouteClass]ratelimit.Preset {
	presets := make(map[ratelimit.RouteClass]ratelimit.Preset, len(ratelimit.DefaultPresets))
	for k, v := range ratelimit.DefaultPresets {
		presets[k] = v
	}
	if c.RateLimit.Public != nil {
		presets[ratelimit.ClassPublic] = mergePreset(presets[ratelimit.ClassPublic], *c.RateLimit.Public)
	}
	if c.RateLimit.Authenticated != nil {
		presets[ratelimit.ClassAuthenticated] = mergePreset(presets[ratelimit.ClassAuthenticated], *c.RateLimit.Authenticated)
	}
	if c.RateLimit.Billing != nil {
		presets[ratelimit.ClassBilling] = mergePreset(presets[ratelimit.ClassBilling], *c.RateLimit.Billing)
	}
	return presets
}

func mergePreset(base, override ratelimit.Preset) ratelimit.Preset {
	if override.Window > 0 {
		base.Window = override.Window
	}
	if override.MaxRequests > 0 {
		base.MaxRequests = override.MaxRequests
	}
	return base
}
