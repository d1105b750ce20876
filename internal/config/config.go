// Package config provides configuration management for membridge.
// Settings come from environment variables with the MEMBRIDGE_ prefix,
// optionally layered on top of a YAML config file; the environment always
// wins so one-off overrides never require editing the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the membridge tools.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Migration MigrationConfig `yaml:"migration"`
}

// StorageConfig selects and tunes the backend store.
type StorageConfig struct {
	// Engine selects the serving backend: "sqlite" (row store) or
	// "postgres" (relational). Default: sqlite.
	Engine string `yaml:"engine"`

	// SourcePath is the legacy SQLite database file read by migration.
	SourcePath string `yaml:"source_path"`

	// TargetDSN is the PostgreSQL connection string for the relational
	// target (and for the postgres serving backend).
	TargetDSN string `yaml:"target_dsn"`

	// SQLitePath is the database file for the sqlite serving backend.
	SQLitePath string `yaml:"sqlite_path"`

	Pool PoolConfig `yaml:"pool"`
}

// PoolConfig bounds the target connection pool.
type PoolConfig struct {
	MaxOpenConns    int           `yaml:"max_open_conns"`    // default 25
	MaxIdleConns    int           `yaml:"max_idle_conns"`    // default 5
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"` // default 5m
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`   // default 10s
}

// MigrationConfig tunes a migration run.
type MigrationConfig struct {
	BatchSize        int           `yaml:"batch_size"`         // default 1000
	BatchesPerSecond float64       `yaml:"batches_per_second"` // 0 disables pacing
	SwarmID          string        `yaml:"swarm_id"`           // run-record label, default "membridge"
	BreakerFailures  int           `yaml:"breaker_failures"`   // consecutive failures to trip, default 3
	BreakerTimeout   time.Duration `yaml:"breaker_timeout"`    // open-state duration, default 30s
}

// Load builds a Config from environment variables and defaults.
func Load() *Config {
	cfg := defaults()
	applyEnv(cfg)
	return cfg
}

// LoadFile builds a Config from a YAML file, then applies environment
// overrides on top.
func LoadFile(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	applyEnv(cfg)
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Storage: StorageConfig{
			Engine:     "sqlite",
			SQLitePath: "./data/membridge.db",
			Pool: PoolConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
				ConnectTimeout:  10 * time.Second,
			},
		},
		Migration: MigrationConfig{
			BatchSize:       1000,
			SwarmID:         "membridge",
			BreakerFailures: 3,
			BreakerTimeout:  30 * time.Second,
		},
	}
}

func applyEnv(cfg *Config) {
	cfg.Storage.Engine = getEnv("MEMBRIDGE_STORAGE_ENGINE", cfg.Storage.Engine)
	cfg.Storage.SourcePath = getEnv("MEMBRIDGE_SOURCE_PATH", cfg.Storage.SourcePath)
	cfg.Storage.TargetDSN = getEnv("MEMBRIDGE_TARGET_DSN", cfg.Storage.TargetDSN)
	cfg.Storage.SQLitePath = getEnv("MEMBRIDGE_SQLITE_PATH", cfg.Storage.SQLitePath)

	cfg.Storage.Pool.MaxOpenConns = getEnvInt("MEMBRIDGE_POOL_MAX_OPEN", cfg.Storage.Pool.MaxOpenConns)
	cfg.Storage.Pool.MaxIdleConns = getEnvInt("MEMBRIDGE_POOL_MAX_IDLE", cfg.Storage.Pool.MaxIdleConns)
	cfg.Storage.Pool.ConnMaxLifetime = getEnvDuration("MEMBRIDGE_POOL_CONN_LIFETIME", cfg.Storage.Pool.ConnMaxLifetime)
	cfg.Storage.Pool.ConnectTimeout = getEnvDuration("MEMBRIDGE_POOL_CONNECT_TIMEOUT", cfg.Storage.Pool.ConnectTimeout)

	cfg.Migration.BatchSize = getEnvInt("MEMBRIDGE_BATCH_SIZE", cfg.Migration.BatchSize)
	cfg.Migration.BatchesPerSecond = getEnvFloat("MEMBRIDGE_BATCHES_PER_SECOND", cfg.Migration.BatchesPerSecond)
	cfg.Migration.SwarmID = getEnv("MEMBRIDGE_SWARM_ID", cfg.Migration.SwarmID)
	cfg.Migration.BreakerFailures = getEnvInt("MEMBRIDGE_BREAKER_FAILURES", cfg.Migration.BreakerFailures)
	cfg.Migration.BreakerTimeout = getEnvDuration("MEMBRIDGE_BREAKER_TIMEOUT", cfg.Migration.BreakerTimeout)
}

// Validate checks cross-field constraints before anything opens a
// database.
func (c *Config) Validate() error {
	switch c.Storage.Engine {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown storage engine %q (want sqlite or postgres)", c.Storage.Engine)
	}
	if c.Migration.BatchSize < 1 {
		return fmt.Errorf("config: batch size must be positive, got %d", c.Migration.BatchSize)
	}
	return nil
}

// getEnv retrieves a string environment variable or returns the default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns the
// default when unset or unparseable.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns the
// default when unset or unparseable.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration ("30s", "5m") environment variable
// or returns the default when unset or unparseable.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
