package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)
	require.Equal(t, "market", cfg.Market.Address)
	require.Equal(t, 95.0, cfg.Market.InitialMean)
	require.Equal(t, 10.0, cfg.Market.InitialStdDev)
	require.False(t, cfg.Oracle.Enabled)
	require.Equal(t, "json", cfg.Logging.Format)

	backing, err := cfg.Market.Backing()
	require.NoError(t, err)
	require.Equal(t, "50", backing.String())
}

func TestLoadAndValidate(t *testing.T) {
	content := `
server:
  port: 9090
  shutdown_timeout: 10s

market:
  address: "pool"
  initial_mean: 100
  initial_std_dev: 12.5
  initial_backing: "250.5"
  provider: "alice"
  provider_funding: "1000"

events:
  redis_url: "redis://localhost:6379/0"
  stream: "markets"

oracle:
  enabled: true
  resolution_value: 101.25
  poll_interval: 2s

logging:
  level: "debug"
  format: "text"
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "pool", cfg.Market.Address)
	require.Equal(t, 12.5, cfg.Market.InitialStdDev)
	require.Equal(t, "alice", cfg.Market.Provider)
	require.Equal(t, "markets", cfg.Events.Stream)
	require.Equal(t, int64(10000), cfg.Events.StreamMaxLen)
	require.True(t, cfg.Oracle.Enabled)
	require.Equal(t, 101.25, cfg.Oracle.ResolutionValue)
	require.Equal(t, 2*time.Second, cfg.Oracle.PollInterval)

	backing, err := cfg.Market.Backing()
	require.NoError(t, err)
	require.Equal(t, "250.5", backing.String())
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("DISTMARKET_MARKET_INITIAL_MEAN", "42")
	t.Setenv("DISTMARKET_LOGGING_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 42.0, cfg.Market.InitialMean)
	require.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidateErrors(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port out of range", func(c *Config) { c.Server.Port = 0 }},
		{"no provider", func(c *Config) { c.Market.Provider = "" }},
		{"zero std dev", func(c *Config) { c.Market.InitialStdDev = 0 }},
		{"negative k", func(c *Config) { c.Market.K = -1 }},
		{"backing not a number", func(c *Config) { c.Market.InitialBacking = "lots" }},
		{"zero backing", func(c *Config) { c.Market.InitialBacking = "0" }},
		{"negative funding", func(c *Config) { c.Market.ProviderFunding = "-5" }},
		{"redis without stream", func(c *Config) {
			c.Events.RedisURL = "redis://localhost:6379"
			c.Events.Stream = ""
		}},
		{"oracle polls too fast", func(c *Config) {
			c.Oracle.Enabled = true
			c.Oracle.PollInterval = time.Millisecond
		}},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
