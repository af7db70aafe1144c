// Package config loads, validates, and persists the application
// configuration from YAML files and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/animeta/animeta/internal/cache"
	"github.com/animeta/animeta/internal/circuit"
	"github.com/animeta/animeta/internal/compress"
	"github.com/animeta/animeta/internal/health"
	"github.com/animeta/animeta/internal/metrics"
	"github.com/animeta/animeta/internal/resilience"
	"github.com/animeta/animeta/pkg/retry"
)

// Configuration represents the complete application configuration.
type Configuration struct {
	Logging     LoggingConfig     `yaml:"logging"`
	Storage     StorageConfig     `yaml:"storage"`
	Cache       cache.Config      `yaml:"cache"`
	Compression compress.Config   `yaml:"compression"`
	Breaker     circuit.Config    `yaml:"circuit_breaker"`
	Health      health.Config     `yaml:"health"`
	Resilience  resilience.Config `yaml:"resilience"`
	Retry       retry.Config      `yaml:"retry"`
	Metrics     metrics.Config    `yaml:"metrics"`
}

// LoggingConfig represents logger settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// StorageConfig represents backing store settings.
type StorageConfig struct {
	// Path is the SQLite database file. Empty selects "animeta.db"
	// in the working directory.
	Path string `yaml:"path"`
}

// NewDefault returns a configuration with every subsystem at its
// defaults.
func NewDefault() *Configuration {
	return &Configuration{
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
		},
		Storage: StorageConfig{
			Path: "animeta.db",
		},
		Cache:       cache.DefaultConfig(),
		Compression: compress.DefaultConfig(),
		Breaker:     circuit.DefaultConfig(),
		Health:      health.DefaultConfig(),
		Resilience:  resilience.DefaultConfig(),
		Retry:       retry.DefaultConfig(),
		Metrics:     metrics.DefaultConfig(),
	}
}

// LoadFromFile merges a YAML file into the configuration.
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv merges ANIMETA_* environment variables into the
// configuration. Unset variables leave the current values untouched;
// malformed values are ignored.
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("ANIMETA_LOG_LEVEL"); val != "" {
		c.Logging.Level = val
	}
	if val := os.Getenv("ANIMETA_LOG_FORMAT"); val != "" {
		c.Logging.Format = val
	}
	if val := os.Getenv("ANIMETA_LOG_FILE"); val != "" {
		c.Logging.File = val
	}

	if val := os.Getenv("ANIMETA_DB_PATH"); val != "" {
		c.Storage.Path = val
	}

	if val := os.Getenv("ANIMETA_CACHE_MAX_ENTRIES"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Cache.MaxEntries = n
		}
	}
	if val := os.Getenv("ANIMETA_CACHE_MAX_MEMORY_BYTES"); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			c.Cache.MaxMemoryBytes = n
		}
	}
	if val := os.Getenv("ANIMETA_CACHE_TTL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Cache.DefaultTTL = d
		}
	}

	if val := os.Getenv("ANIMETA_BREAKER_FAIL_MAX"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Breaker.FailMax = n
		}
	}
	if val := os.Getenv("ANIMETA_BREAKER_RESET_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Breaker.ResetTimeout = d
		}
	}

	if val := os.Getenv("ANIMETA_HEALTH_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Health.Interval = d
		}
	}

	if val := os.Getenv("ANIMETA_METRICS_ENABLED"); val != "" {
		c.Metrics.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("ANIMETA_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Metrics.Port = port
		}
	}

	return nil
}

// SaveToFile writes the configuration as YAML.
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks the configuration for values that would misbehave at
// runtime.
func (c *Configuration) Validate() error {
	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if strings.ToUpper(c.Logging.Level) == level {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)",
			c.Logging.Level, strings.Join(validLogLevels, ", "))
	}

	if c.Cache.MaxEntries < 0 {
		return fmt.Errorf("cache max_entries cannot be negative")
	}
	if c.Cache.MaxMemoryBytes < 0 {
		return fmt.Errorf("cache max_memory_bytes cannot be negative")
	}
	if c.Cache.DefaultTTL < 0 {
		return fmt.Errorf("cache default_ttl cannot be negative")
	}

	if c.Compression.MinSizeThreshold < 0 {
		return fmt.Errorf("compression min_size_threshold cannot be negative")
	}
	if c.Compression.MaxCompressionRatio <= 0 || c.Compression.MaxCompressionRatio > 1 {
		return fmt.Errorf("compression max_compression_ratio must be in (0, 1]")
	}

	if c.Breaker.FailMax <= 0 {
		return fmt.Errorf("circuit_breaker fail_max must be greater than 0")
	}
	if c.Breaker.ResetTimeout <= 0 {
		return fmt.Errorf("circuit_breaker reset_timeout must be greater than 0")
	}

	if c.Health.Interval <= 0 {
		return fmt.Errorf("health interval must be greater than 0")
	}
	if c.Health.FailureThreshold <= 0 || c.Health.RecoveryThreshold <= 0 {
		return fmt.Errorf("health thresholds must be greater than 0")
	}

	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry max_attempts must be greater than 0")
	}

	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return fmt.Errorf("metrics port must be in (0, 65535]")
	}

	return nil
}
