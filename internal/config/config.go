// Package config loads the application configuration from a YAML file with
// environment overrides for deployment-specific and secret values.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	pkgconfig "github.com/thaddiusatme/feed-processing-system-sub001/internal/pkg/config"
)

// Config is the root application configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Ingest   IngestConfig   `yaml:"ingest"`
}

// DatabaseConfig configures the SQLite store and its connection pool.
type DatabaseConfig struct {
	// Path is the SQLite database file. Overridden by DB_PATH.
	Path string `yaml:"path"`

	MinConnections int           `yaml:"min_connections"`
	MaxConnections int           `yaml:"max_connections"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
}

// WebhookConfig configures the delivery endpoint.
type WebhookConfig struct {
	Endpoint string `yaml:"endpoint"`

	// AuthToken should come from the environment (WEBHOOK_AUTH_TOKEN) in
	// production; the YAML field exists for local development.
	AuthToken string `yaml:"auth_token"`

	MaxRetries  int           `yaml:"max_retries"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	Timeout     time.Duration `yaml:"timeout"`
	BatchSize   int           `yaml:"batch_size"`
	MinInterval time.Duration `yaml:"min_interval"`
}

// IngestConfig configures the pipeline.
type IngestConfig struct {
	Sources          []string `yaml:"sources"`
	FetchParallelism int      `yaml:"fetch_parallelism"`
	QueueCapacity    int      `yaml:"queue_capacity"`
}

func defaults() Config {
	return Config{
		Database: DatabaseConfig{
			Path:           "feeds.db",
			MinConnections: 2,
			MaxConnections: 10,
			AcquireTimeout: 5 * time.Second,
		},
		Webhook: WebhookConfig{
			MaxRetries:  3,
			RetryDelay:  5 * time.Second,
			Timeout:     30 * time.Second,
			BatchSize:   10,
			MinInterval: time.Second,
		},
		Ingest: IngestConfig{
			FetchParallelism: 4,
			QueueCapacity:    256,
		},
	}
}

// Load reads the YAML file at path, fills unset fields with defaults, and
// applies environment overrides. A missing file is not an error; the
// defaults plus environment are used instead.
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path) // #nosec G304 -- path comes from the operator
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	case os.IsNotExist(err):
		slog.Warn("config file not found, using defaults and environment",
			slog.String("path", path))
	default:
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	cfg.applyEnv()
	cfg.fillZeroes()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnv overrides file values with environment variables.
func (c *Config) applyEnv() {
	c.Database.Path = pkgconfig.LoadEnvString("DB_PATH", c.Database.Path)
	c.Webhook.Endpoint = pkgconfig.LoadEnvString("WEBHOOK_ENDPOINT", c.Webhook.Endpoint)
	c.Webhook.AuthToken = pkgconfig.LoadEnvString("WEBHOOK_AUTH_TOKEN", c.Webhook.AuthToken)

	result := pkgconfig.LoadEnvInt("DB_MAX_CONNECTIONS", c.Database.MaxConnections, func(v int) error {
		return pkgconfig.ValidateIntRange(v, 1, 100)
	})
	c.Database.MaxConnections = result.Value.(int)
	warnFallback("DB_MAX_CONNECTIONS", result)

	result = pkgconfig.LoadEnvInt("DB_MIN_CONNECTIONS", c.Database.MinConnections, func(v int) error {
		return pkgconfig.ValidateIntRange(v, 0, 100)
	})
	c.Database.MinConnections = result.Value.(int)
	warnFallback("DB_MIN_CONNECTIONS", result)

	result = pkgconfig.LoadEnvDuration("DB_ACQUIRE_TIMEOUT", c.Database.AcquireTimeout, pkgconfig.ValidatePositiveDuration)
	c.Database.AcquireTimeout = result.Value.(time.Duration)
	warnFallback("DB_ACQUIRE_TIMEOUT", result)
}

func warnFallback(envKey string, result pkgconfig.ConfigLoadResult) {
	if !result.FallbackApplied {
		return
	}
	for _, warning := range result.Warnings {
		slog.Warn("Configuration fallback applied",
			slog.String("env_key", envKey),
			slog.String("warning", warning))
	}
}

// fillZeroes restores defaults for fields the YAML file set to zero values.
func (c *Config) fillZeroes() {
	base := defaults()

	if c.Database.MaxConnections <= 0 {
		c.Database.MaxConnections = base.Database.MaxConnections
	}
	if c.Database.AcquireTimeout <= 0 {
		c.Database.AcquireTimeout = base.Database.AcquireTimeout
	}
	if c.Database.MinConnections > c.Database.MaxConnections {
		c.Database.MinConnections = c.Database.MaxConnections
	}
	if c.Webhook.RetryDelay <= 0 {
		c.Webhook.RetryDelay = base.Webhook.RetryDelay
	}
	if c.Webhook.Timeout <= 0 {
		c.Webhook.Timeout = base.Webhook.Timeout
	}
	if c.Webhook.BatchSize <= 0 {
		c.Webhook.BatchSize = base.Webhook.BatchSize
	}
	if c.Webhook.MinInterval <= 0 {
		c.Webhook.MinInterval = base.Webhook.MinInterval
	}
	if c.Ingest.FetchParallelism <= 0 {
		c.Ingest.FetchParallelism = base.Ingest.FetchParallelism
	}
	if c.Ingest.QueueCapacity <= 0 {
		c.Ingest.QueueCapacity = base.Ingest.QueueCapacity
	}
}

func (c *Config) validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("config: database.path is required")
	}
	if c.Webhook.Endpoint == "" {
		return fmt.Errorf("config: webhook.endpoint is required (set WEBHOOK_ENDPOINT)")
	}
	if c.Webhook.MaxRetries < 0 {
		return fmt.Errorf("config: webhook.max_retries must be zero or positive")
	}
	if len(c.Ingest.Sources) == 0 {
		return fmt.Errorf("config: ingest.sources must list at least one feed URL")
	}
	return nil
}
