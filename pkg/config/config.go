package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// DefaultPath is the config file read when no explicit path is given.
const DefaultPath = "config.yaml"

// Config holds all configuration for ekaya-datasync.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration (health and metrics endpoints)
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3480"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Sync scheduling and external fetch behaviour
	Sync SyncConfig `yaml:"sync"`

	// Logging output
	Logging LoggingConfig `yaml:"logging"`

	// Encryption key for data sync connection parameters (feed URLs, API tokens, passwords).
	// Generate with: openssl rand -base64 32
	CredentialsKey string `yaml:"-" env:"DATASYNC_CREDENTIALS_KEY"` // Secret - not in YAML
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"ekaya"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"ekaya_datasync"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	MaxIdleConns   int32  `yaml:"max_idle_conns" env:"PGMAX_IDLE_CONNS" env-default:"5"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`
}

// SyncConfig controls the sync runner and adapter fetches.
type SyncConfig struct {
	// Interval between scheduled syncs of every data sync. Zero disables the scheduler.
	Interval time.Duration `yaml:"interval" env:"SYNC_INTERVAL" env-default:"0s"`
	// MaxConcurrent caps how many different data syncs run at the same time.
	MaxConcurrent int `yaml:"max_concurrent" env:"SYNC_MAX_CONCURRENT"`
	// FetchTimeout bounds every HTTP request an adapter makes.
	FetchTimeout time.Duration `yaml:"fetch_timeout" env:"SYNC_FETCH_TIMEOUT" env-default:"10s"`
	// MaxRetries is the number of retries for transient fetch failures.
	MaxRetries int `yaml:"max_retries" env:"SYNC_MAX_RETRIES"`
	// PageSize for paginated REST sources.
	PageSize int `yaml:"page_size" env:"SYNC_PAGE_SIZE"`
}

// LoggingConfig holds log level and optional file rotation settings.
type LoggingConfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	// File enables rotated file output in addition to stderr when set.
	File       string `yaml:"file" env:"LOG_FILE" env-default:""`
	MaxSizeMB  int    `yaml:"max_size_mb" env:"LOG_MAX_SIZE_MB" env-default:"100"`
	MaxBackups int    `yaml:"max_backups" env:"LOG_MAX_BACKUPS" env-default:"3"`
	MaxAgeDays int    `yaml:"max_age_days" env:"LOG_MAX_AGE_DAYS" env-default:"28"`
}

// LoadFrom reads configuration from the given YAML file with environment
// variable overrides. The version parameter is injected at build time.
func LoadFrom(path, version string) (*Config, error) {
	// cleanenv overwrites zero values with env-default, so settings where an
	// explicit zero means something are seeded here instead.
	cfg := &Config{
		Version: version,
		Sync: SyncConfig{
			MaxConcurrent: 4,
			MaxRetries:    2,
			PageSize:      50,
		},
	}

	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Sync.Interval < 0 {
		return fmt.Errorf("sync.interval must not be negative")
	}
	if c.Sync.MaxConcurrent < 1 {
		return fmt.Errorf("sync.max_concurrent must be at least 1, got %d", c.Sync.MaxConcurrent)
	}
	if c.Sync.FetchTimeout <= 0 {
		return fmt.Errorf("sync.fetch_timeout must be positive")
	}
	if c.Sync.MaxRetries < 0 {
		return fmt.Errorf("sync.max_retries must not be negative")
	}
	if c.Sync.PageSize < 1 || c.Sync.PageSize > 100 {
		return fmt.Errorf("sync.page_size must be between 1 and 100, got %d", c.Sync.PageSize)
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// ListenAddr returns the address the health/metrics server binds to.
func (c *Config) ListenAddr() string {
	return c.BindAddr + ":" + c.Port
}
