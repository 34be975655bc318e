// Package config loads mantiskv's runtime configuration, adapted from
// the teacher's config.Config: the same YAML-plus-env-override shape,
// trimmed from its Server/Backup/Memory/Security/Health superset down
// to the sections this embedded engine actually has — where its data
// lives, how it logs, and how aggressively its WAL syncs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds mantiskv's runtime configuration.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Logging    LoggingConfig    `yaml:"logging"`
	Durability DurabilityConfig `yaml:"durability"`
}

// DatabaseConfig governs where the engine's data lives.
type DatabaseConfig struct {
	DataDir      string        `yaml:"data_dir" env:"MANTIS_DATA_DIR"`
	QueryTimeout time.Duration `yaml:"query_timeout" env:"MANTIS_QUERY_TIMEOUT"`
}

// LoggingConfig governs dblog's verbosity. Output is loaded and
// overridable but cmd/mantiskv does not read it: it always logs JSON to
// stdout.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"MANTIS_LOG_LEVEL"`
	Output string `yaml:"output" env:"MANTIS_LOG_OUTPUT"`
}

// DurabilityConfig governs the write-ahead log's sync behavior.
type DurabilityConfig struct {
	SyncOnEveryWrite bool `yaml:"sync_on_every_write" env:"MANTIS_SYNC_WRITES"`
}

// DefaultConfig returns a configuration with default values, mirroring
// the teacher's DefaultConfig — durable by default, info-level JSON
// logging to stdout.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			DataDir:      "./data",
			QueryTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stdout",
		},
		Durability: DurabilityConfig{
			SyncOnEveryWrite: true,
		},
	}
}

// Load reads a YAML config file at path, falling back to DefaultConfig
// if path is empty, then applies environment variable overrides —
// the same two-step precedence the teacher's main.go follows (file,
// then env).
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv overrides cfg's fields from environment variables, the
// same manual os.Getenv-per-field style as the teacher's
// Config.LoadFromEnv.
func (c *Config) LoadFromEnv() error {
	if dataDir := os.Getenv("MANTIS_DATA_DIR"); dataDir != "" {
		c.Database.DataDir = dataDir
	}
	if queryTimeout := os.Getenv("MANTIS_QUERY_TIMEOUT"); queryTimeout != "" {
		if qt, err := time.ParseDuration(queryTimeout); err == nil {
			c.Database.QueryTimeout = qt
		}
	}
	if level := os.Getenv("MANTIS_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if output := os.Getenv("MANTIS_LOG_OUTPUT"); output != "" {
		c.Logging.Output = output
	}
	if syncWrites := os.Getenv("MANTIS_SYNC_WRITES"); syncWrites != "" {
		c.Durability.SyncOnEveryWrite = strings.ToLower(syncWrites) == "true"
	}
	return nil
}

// Validate checks cfg for internally inconsistent values, the same
// defensive shape as the teacher's Config.Validate.
func (c *Config) Validate() error {
	if c.Database.DataDir == "" {
		return fmt.Errorf("config: data directory cannot be empty")
	}
	if c.Database.QueryTimeout <= 0 {
		return fmt.Errorf("config: query timeout must be positive")
	}
	return nil
}

// ParseSize parses a size string like "100MB" into bytes, kept from the
// teacher's config.ParseSize for callers sizing in-memory buffers from
// config strings rather than raw integers.
func ParseSize(sizeStr string) (int64, error) {
	if sizeStr == "" {
		return 0, fmt.Errorf("config: empty size string")
	}
	sizeStr = strings.ToUpper(strings.TrimSpace(sizeStr))

	var multiplier int64 = 1
	var numStr string
	switch {
	case strings.HasSuffix(sizeStr, "KB"):
		multiplier = 1024
		numStr = strings.TrimSuffix(sizeStr, "KB")
	case strings.HasSuffix(sizeStr, "MB"):
		multiplier = 1024 * 1024
		numStr = strings.TrimSuffix(sizeStr, "MB")
	case strings.HasSuffix(sizeStr, "GB"):
		multiplier = 1024 * 1024 * 1024
		numStr = strings.TrimSuffix(sizeStr, "GB")
	case strings.HasSuffix(sizeStr, "B"):
		numStr = strings.TrimSuffix(sizeStr, "B")
	default:
		numStr = sizeStr
	}

	num, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: invalid size format: %s", sizeStr)
	}
	return num * multiplier, nil
}
