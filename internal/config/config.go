// Package config loads service configuration from an optional file and
// DISTMARKET_* environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config represents the complete service configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Market  MarketConfig  `mapstructure:"market"`
	Ledger  LedgerConfig  `mapstructure:"ledger"`
	Events  EventsConfig  `mapstructure:"events"`
	Oracle  OracleConfig  `mapstructure:"oracle"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// MarketConfig describes the market opened at startup. Amounts are decimal
// strings.
type MarketConfig struct {
	Address         string  `mapstructure:"address"`
	InitialMean     float64 `mapstructure:"initial_mean"`
	InitialStdDev   float64 `mapstructure:"initial_std_dev"`
	InitialBacking  string  `mapstructure:"initial_backing"`
	K               float64 `mapstructure:"k"`
	Provider        string  `mapstructure:"provider"`
	ProviderFunding string  `mapstructure:"provider_funding"`
}

// LedgerConfig selects the ledger. An empty DatabaseURL uses the in-memory
// ledger.
type LedgerConfig struct {
	DatabaseURL string `mapstructure:"database_url"`
}

// EventsConfig configures the Redis event stream. An empty RedisURL
// disables it.
type EventsConfig struct {
	RedisURL     string `mapstructure:"redis_url"`
	Stream       string `mapstructure:"stream"`
	StreamMaxLen int64  `mapstructure:"stream_max_len"`
}

// OracleConfig configures automatic resolution.
type OracleConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	ResolutionValue float64       `mapstructure:"resolution_value"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from path, if given, and the environment.
// Environment variables use the DISTMARKET_ prefix with dots replaced by
// underscores, e.g. DISTMARKET_MARKET_INITIAL_MEAN.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("DISTMARKET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "5s")

	v.SetDefault("market.address", "market")
	v.SetDefault("market.initial_mean", 95.0)
	v.SetDefault("market.initial_std_dev", 10.0)
	v.SetDefault("market.initial_backing", "50")
	v.SetDefault("market.k", 0.0)
	v.SetDefault("market.provider", "lp")
	v.SetDefault("market.provider_funding", "50")

	v.SetDefault("ledger.database_url", "")

	v.SetDefault("events.redis_url", "")
	v.SetDefault("events.stream", "distmarket:events")
	v.SetDefault("events.stream_max_len", 10000)

	v.SetDefault("oracle.enabled", false)
	v.SetDefault("oracle.resolution_value", 0.0)
	v.SetDefault("oracle.poll_interval", "30s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be positive")
	}

	if c.Market.Address == "" {
		return fmt.Errorf("market.address is required")
	}
	if c.Market.Provider == "" {
		return fmt.Errorf("market.provider is required")
	}
	if c.Market.InitialStdDev <= 0 {
		return fmt.Errorf("market.initial_std_dev must be positive")
	}
	if c.Market.K < 0 {
		return fmt.Errorf("market.k must not be negative")
	}
	backing, err := c.Market.Backing()
	if err != nil {
		return err
	}
	if !backing.IsPositive() {
		return fmt.Errorf("market.initial_backing must be positive")
	}
	funding, err := c.Market.Funding()
	if err != nil {
		return err
	}
	if funding.IsNegative() {
		return fmt.Errorf("market.provider_funding must not be negative")
	}

	if c.Events.RedisURL != "" && c.Events.Stream == "" {
		return fmt.Errorf("events.stream is required when events.redis_url is set")
	}
	if c.Oracle.Enabled && c.Oracle.PollInterval < time.Second {
		return fmt.Errorf("oracle.poll_interval must be at least 1 second")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}
	return nil
}

// Backing parses market.initial_backing.
func (m MarketConfig) Backing() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(m.InitialBacking)
	if err != nil {
		return decimal.Zero, fmt.Errorf("market.initial_backing: %w", err)
	}
	return d, nil
}

// Funding parses market.provider_funding.
func (m MarketConfig) Funding() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(m.ProviderFunding)
	if err != nil {
		return decimal.Zero, fmt.Errorf("market.provider_funding: %w", err)
	}
	return d, nil
}

// NewLogger builds the process logger from the logging section.
func (l LoggingConfig) NewLogger() *slog.Logger {
	var level slog.Level
	switch l.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
