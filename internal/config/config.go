// Package config loads service configuration from an optional YAML file and
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"allocplan/internal/model"
)

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Limits    LimitsConfig    `yaml:"limits"`
	Webhooks  WebhooksConfig  `yaml:"webhooks"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Log       LogConfig       `yaml:"log"`
	// Defaults is the distribution policy used for tenants that never saved one.
	Defaults model.Policy `yaml:"defaults"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

type DatabaseConfig struct {
	URL     string `yaml:"url"`     // empty selects the in-memory store
	Migrate bool   `yaml:"migrate"` // run embedded migrations at startup
}

type RedisConfig struct {
	URL string `yaml:"url"` // empty keeps plan events in-process
}

// RateLimitConfig bounds plan generation per tenant.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// LimitsConfig bounds the size of one generated plan.
type LimitsConfig struct {
	MaxTotalSamples int `yaml:"max_total_samples"`
	MaxRangeDays    int `yaml:"max_range_days"`
}

type WebhooksConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
}

type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"` // "stdout", "otlp"
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file or environment is set.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

var defaultMatrix = model.CityMatrix{AA: 20, AB: 15, AC: 5, BA: 15, BB: 15, BC: 5, CA: 5, CB: 10, CC: 10}

// applyDefaults fills zero-valued settings. A defaults matrix given in the file
// replaces the built-in one as a whole.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.RateLimit.RPS == 0 {
		cfg.RateLimit.RPS = 2
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 5
	}
	if cfg.Limits.MaxTotalSamples == 0 {
		cfg.Limits.MaxTotalSamples = 1_000_000
	}
	if cfg.Limits.MaxRangeDays == 0 {
		cfg.Limits.MaxRangeDays = 3660
	}
	if cfg.Webhooks.MaxAttempts == 0 {
		cfg.Webhooks.MaxAttempts = 8
	}
	if cfg.Tracing.Exporter == "" {
		cfg.Tracing.Exporter = "stdout"
	}
	if cfg.Tracing.SampleRatio == 0 {
		cfg.Tracing.SampleRatio = 1
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Defaults.Matrix.Total() == 0 {
		cfg.Defaults.Matrix = defaultMatrix
	}
}

// Load reads path when non-empty, applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	applyDefaults(cfg)
	if err := applyEnv(cfg, os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// FromEnv loads the file named by CONFIG_FILE, if any.
func FromEnv() (*Config, error) {
	return Load(os.Getenv("CONFIG_FILE"))
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	str("PORT", &cfg.Server.Port)
	str("DATABASE_URL", &cfg.Database.URL)
	str("REDIS_URL", &cfg.Redis.URL)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)
	str("TRACING_EXPORTER", &cfg.Tracing.Exporter)
	str("OTLP_ENDPOINT", &cfg.Tracing.Endpoint)

	var errs []error
	if v := getenv("DB_MIGRATE"); v != "" {
		cfg.Database.Migrate = truthy(v)
	}
	if v := getenv("TRACING_ENABLED"); v != "" {
		cfg.Tracing.Enabled = truthy(v)
	}
	if v := getenv("RATE_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("RATE_RPS: %w", err))
		}
		cfg.RateLimit.RPS = f
	}
	if v := getenv("TRACING_SAMPLE_RATIO"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("TRACING_SAMPLE_RATIO: %w", err))
		}
		cfg.Tracing.SampleRatio = f
	}
	ints := map[string]*int{
		"RATE_BURST":           &cfg.RateLimit.Burst,
		"WEBHOOK_MAX_ATTEMPTS": &cfg.Webhooks.MaxAttempts,
		"MAX_TOTAL_SAMPLES":    &cfg.Limits.MaxTotalSamples,
		"MAX_RANGE_DAYS":       &cfg.Limits.MaxRangeDays,
	}
	for key, dst := range ints {
		if v := getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				continue
			}
			*dst = n
		}
	}
	return errors.Join(errs...)
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// Validate checks the configuration for logical consistency.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server port must be set")
	}
	if c.RateLimit.RPS <= 0 {
		return errors.New("rate limit rps must be positive")
	}
	if c.RateLimit.Burst <= 0 {
		return errors.New("rate limit burst must be positive")
	}
	if c.Limits.MaxTotalSamples <= 0 || c.Limits.MaxRangeDays <= 0 {
		return errors.New("plan limits must be positive")
	}
	if c.Webhooks.MaxAttempts <= 0 {
		return errors.New("webhook max attempts must be positive")
	}
	if c.Tracing.Enabled {
		switch c.Tracing.Exporter {
		case "stdout":
		case "otlp":
			if c.Tracing.Endpoint == "" {
				return errors.New("otlp exporter requires an endpoint")
			}
		default:
			return fmt.Errorf("invalid tracing exporter: %s (must be one of: stdout, otlp)", c.Tracing.Exporter)
		}
		if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
			return errors.New("tracing sample ratio must be between 0 and 1")
		}
	}
	return validatePolicy(c.Defaults)
}

func validatePolicy(p model.Policy) error {
	for i, v := range p.Matrix.Values() {
		if v < 0 || v > 100 {
			return fmt.Errorf("defaults: matrix cell %s out of range: %d", model.MatrixCells[i].Name, v)
		}
	}
	for i, v := range p.Seasonal.Values() {
		if v < 0 || v > 100 {
			return fmt.Errorf("defaults: seasonal month %d out of range: %d", i+1, v)
		}
	}
	if p.MaxSamplesPerWeek < 0 {
		return errors.New("defaults: max samples per week cannot be negative")
	}
	return nil
}
