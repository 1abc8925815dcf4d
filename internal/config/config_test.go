package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, 100, cfg.Defaults.Matrix.Total())
	require.Equal(t, 1_000_000, cfg.Limits.MaxTotalSamples)
	require.Equal(t, 3660, cfg.Limits.MaxRangeDays)
}

func TestLoadYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
server:
  port: "9000"
rate_limit:
  rps: 4
  burst: 8
defaults:
  cityDistributionMatrix:
    aa: 60
    bb: 40
  maxSamplesPerWeek: 3
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("RATE_BURST", "12")
	t.Setenv("DB_MIGRATE", "true")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "9000", cfg.Server.Port)
	require.Equal(t, 4.0, cfg.RateLimit.RPS)
	require.Equal(t, 12, cfg.RateLimit.Burst)
	require.True(t, cfg.Database.Migrate)
	require.Equal(t, 60, cfg.Defaults.Matrix.AA)
	require.Equal(t, 0, cfg.Defaults.Matrix.AB)
	require.Equal(t, 3, cfg.Defaults.MaxSamplesPerWeek)
	// untouched sections keep their defaults
	require.Equal(t, 8, cfg.Webhooks.MaxAttempts)
}

func TestApplyEnvReportsBadNumbers(t *testing.T) {
	cfg := Default()
	err := applyEnv(cfg, envMap(map[string]string{"RATE_RPS": "fast", "WEBHOOK_MAX_ATTEMPTS": "x"}))
	require.Error(t, err)
	require.Contains(t, err.Error(), "RATE_RPS")
	require.Contains(t, err.Error(), "WEBHOOK_MAX_ATTEMPTS")
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := Default()
	require.NoError(t, applyEnv(cfg, envMap(map[string]string{
		"PORT":                 "7000",
		"DATABASE_URL":         "postgres://x",
		"REDIS_URL":            "redis://y",
		"TRACING_ENABLED":      "1",
		"TRACING_EXPORTER":     "otlp",
		"OTLP_ENDPOINT":        "collector:4317",
		"TRACING_SAMPLE_RATIO": "0.25",
		"LOG_LEVEL":            "debug",
		"MAX_TOTAL_SAMPLES":    "5000",
		"MAX_RANGE_DAYS":       "400",
	})))
	require.Equal(t, 5000, cfg.Limits.MaxTotalSamples)
	require.Equal(t, 400, cfg.Limits.MaxRangeDays)
	require.Equal(t, "7000", cfg.Server.Port)
	require.Equal(t, "postgres://x", cfg.Database.URL)
	require.Equal(t, "redis://y", cfg.Redis.URL)
	require.True(t, cfg.Tracing.Enabled)
	require.Equal(t, "otlp", cfg.Tracing.Exporter)
	require.Equal(t, 0.25, cfg.Tracing.SampleRatio)
	require.Equal(t, "debug", cfg.Log.Level)
	require.NoError(t, cfg.Validate())
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"zero rps":          func(c *Config) { c.RateLimit.RPS = 0 },
		"zero burst":        func(c *Config) { c.RateLimit.Burst = 0 },
		"zero attempts":     func(c *Config) { c.Webhooks.MaxAttempts = 0 },
		"no port":           func(c *Config) { c.Server.Port = "" },
		"bad exporter":      func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Exporter = "zipkin" },
		"otlp no endpoint":  func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Exporter = "otlp" },
		"ratio over one":    func(c *Config) { c.Tracing.Enabled = true; c.Tracing.SampleRatio = 2 },
		"cell over 100":     func(c *Config) { c.Defaults.Matrix.CC = 120 },
		"negative month":    func(c *Config) { c.Defaults.Seasonal.Apr = -1 },
		"negative week cap": func(c *Config) { c.Defaults.MaxSamplesPerWeek = -2 },
		"negative samples":  func(c *Config) { c.Limits.MaxTotalSamples = -1 },
		"zero range days":   func(c *Config) { c.Limits.MaxRangeDays = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
