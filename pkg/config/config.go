// Package config resolves the engine's runtime configuration: the active
// database file, log level, and seed data directory. Grounded on the
// teacher's pkg/config/config.go (env/file load + Validate()).
package config

import (
	"errors"
	"os"
	"path/filepath"
)

// Config is the engine's runtime configuration.
type Config struct {
	DBPath                    string `json:"db_path"`
	LogLevel                  string `json:"log_level"`
	SeedDir                   string `json:"seed_dir,omitempty"`
	TransactionTimeoutSeconds int    `json:"transaction_timeout_seconds"`
	BatchSize                 int    `json:"batch_size"`
}

const (
	envDBPath  = "BEST_DB_PATH"
	envLogLvl  = "BEST_LOG_LEVEL"
	envSeedDir = "BEST_SEED_DIR"

	// DefaultTransactionTimeoutSeconds is the default transaction deadline.
	DefaultTransactionTimeoutSeconds = 30
	// DefaultBatchSize is the default Config.BatchSize; the import service
	// does not read Config.BatchSize.
	DefaultBatchSize = 200
)

func homeDir() string {
	if h, err := os.UserHomeDir(); err == nil {
		return h
	}
	return "."
}

func defaultDBPath() string {
	return filepath.Join(homeDir(), ".best", "best.sqlite")
}

// Load builds a Config from environment variables, falling back to defaults.
func Load() *Config {
	c := &Config{
		DBPath:                    defaultDBPath(),
		LogLevel:                  "info",
		TransactionTimeoutSeconds: DefaultTransactionTimeoutSeconds,
		BatchSize:                 DefaultBatchSize,
	}
	if v := os.Getenv(envDBPath); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv(envLogLvl); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(envSeedDir); v != "" {
		c.SeedDir = v
	}
	return c
}

// Validate rejects an unusable configuration.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return errors.New("db_path required")
	}
	if c.TransactionTimeoutSeconds <= 0 {
		return errors.New("transaction_timeout_seconds must be positive")
	}
	if c.BatchSize <= 0 {
		return errors.New("batch_size must be positive")
	}
	return nil
}

// EnsureDBDir creates the parent directory of DBPath if missing.
func (c *Config) EnsureDBDir() error {
	dir := filepath.Dir(c.DBPath)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o700)
}
