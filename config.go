package main

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all bridge configuration
// Tags:
//
//	env: Environment variable name
//	envDefault: Default value if not set
type Config struct {
	// Endpoints
	NATSURL      string `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	MemgraphHost string `env:"MEMGRAPH_HOST" envDefault:"localhost"`
	MemgraphPort int    `env:"MEMGRAPH_PORT" envDefault:"7687"`

	// Retention
	RollingWindowSeconds   int `env:"ROLLING_WINDOW_SECONDS" envDefault:"30"`
	CleanupIntervalSeconds int `env:"CLEANUP_INTERVAL_SECONDS" envDefault:"1"`
	MaxCleanupTimeMs       int `env:"MAX_CLEANUP_TIME_MS" envDefault:"50"`

	// Batch loop
	BatchInterval time.Duration `env:"BATCH_INTERVAL" envDefault:"5ms"`
	MaxBatchSize  int           `env:"MAX_BATCH_SIZE" envDefault:"200"`

	// Graph connection
	ConnectionPoolSize  int `env:"CONNECTION_POOL_SIZE" envDefault:"15"`
	ConnectionTimeoutMs int `env:"CONNECTION_TIMEOUT_MS" envDefault:"100"`
	QueryTimeoutMs      int `env:"QUERY_TIMEOUT_MS" envDefault:"50"`
	ConnectRetries      int `env:"CONNECT_RETRIES" envDefault:"5"`
	ConnectRetryDelayMs int `env:"CONNECT_RETRY_DELAY_MS" envDefault:"1000"`

	// Legacy tick-based retention keys. Parsed for backward compatibility
	// with old deployments but no longer wired to anything; the time-based
	// window above replaced them.
	RollingWindow   int `env:"ROLLING_WINDOW" envDefault:"500"`
	CleanupInterval int `env:"CLEANUP_INTERVAL" envDefault:"100"`

	// Monitoring
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9102"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Environment
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// LoadConfig reads configuration from .env file and environment variables
// Priority: ENV vars > .env file > defaults
//
// Optional logger parameter for structured logging. If nil, logs to stdout.
func LoadConfig(logger *zerolog.Logger) (*Config, error) {
	// .env is a development convenience; production passes env vars directly
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("No .env file found (using environment variables only)")
		} else {
			fmt.Println("Info: No .env file found (using environment variables only)")
		}
	} else {
		if logger != nil {
			logger.Info().Msg("Loaded configuration from .env file")
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	if logger != nil {
		logger.Info().Msg("Configuration loaded and validated successfully")
	}
	return cfg, nil
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if c.NATSURL == "" {
		return fmt.Errorf("NATS_URL is required")
	}
	if c.MemgraphHost == "" {
		return fmt.Errorf("MEMGRAPH_HOST is required")
	}
	if c.MemgraphPort < 1 || c.MemgraphPort > 65535 {
		return fmt.Errorf("MEMGRAPH_PORT must be 1-65535, got %d", c.MemgraphPort)
	}

	if c.RollingWindowSeconds < 1 {
		return fmt.Errorf("ROLLING_WINDOW_SECONDS must be > 0, got %d", c.RollingWindowSeconds)
	}
	if c.CleanupIntervalSeconds < 1 {
		return fmt.Errorf("CLEANUP_INTERVAL_SECONDS must be > 0, got %d", c.CleanupIntervalSeconds)
	}
	if c.CleanupIntervalSeconds > c.RollingWindowSeconds {
		return fmt.Errorf("CLEANUP_INTERVAL_SECONDS (%d) must be <= ROLLING_WINDOW_SECONDS (%d)",
			c.CleanupIntervalSeconds, c.RollingWindowSeconds)
	}

	if c.BatchInterval <= 0 {
		return fmt.Errorf("BATCH_INTERVAL must be > 0, got %s", c.BatchInterval)
	}
	if c.MaxBatchSize < 1 {
		return fmt.Errorf("MAX_BATCH_SIZE must be > 0, got %d", c.MaxBatchSize)
	}
	if c.ConnectionPoolSize < 0 {
		return fmt.Errorf("CONNECTION_POOL_SIZE must be >= 0, got %d", c.ConnectionPoolSize)
	}
	if c.ConnectRetries < 1 {
		return fmt.Errorf("CONNECT_RETRIES must be > 0, got %d", c.ConnectRetries)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}

	validLogFormats := map[string]bool{"json": true, "text": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, text, pretty (got: %s)", c.LogFormat)
	}

	return nil
}

// LogConfig logs configuration using structured logging (Loki-compatible)
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("environment", c.Environment).
		Str("nats_url", c.NATSURL).
		Str("memgraph_host", c.MemgraphHost).
		Int("memgraph_port", c.MemgraphPort).
		Int("rolling_window_seconds", c.RollingWindowSeconds).
		Int("cleanup_interval_seconds", c.CleanupIntervalSeconds).
		Int("max_cleanup_time_ms", c.MaxCleanupTimeMs).
		Dur("batch_interval", c.BatchInterval).
		Int("max_batch_size", c.MaxBatchSize).
		Int("connection_pool_size", c.ConnectionPoolSize).
		Int("connection_timeout_ms", c.ConnectionTimeoutMs).
		Int("query_timeout_ms", c.QueryTimeoutMs).
		Str("metrics_addr", c.MetricsAddr).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("Bridge configuration loaded")
}
