// Package config loads the crypto core configuration from a YAML file,
// falling back to defaults when the file or individual settings are absent.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all tunable parameters of the crypto core.
type Config struct {
	Crypto  CryptoConfig  `yaml:"crypto"`
	Pool    PoolConfig    `yaml:"pool"`
	Cache   CacheConfig   `yaml:"cache"`
	Policy  PolicyConfig  `yaml:"policy"`
	Storage StorageConfig `yaml:"storage"`
}

// CryptoConfig holds key-derivation parameters.
type CryptoConfig struct {
	// Iterations is the PBKDF2 iteration count for password derivation.
	Iterations int `yaml:"iterations"`
}

// PoolConfig holds worker pool settings.
type PoolConfig struct {
	Size      int `yaml:"size"`
	TimeoutMS int `yaml:"timeout_ms"`
}

// CacheConfig holds key cache settings.
type CacheConfig struct {
	TTLSeconds int `yaml:"ttl_seconds"`
}

// PolicyConfig holds rate limiter and session monitor settings.
type PolicyConfig struct {
	MaxAttempts        int `yaml:"max_attempts"`
	WindowSeconds      int `yaml:"window_seconds"`
	SessionTimeoutMin  int `yaml:"session_timeout_minutes"`
	WarningLeadSeconds int `yaml:"warning_lead_seconds"`
}

// StorageConfig holds persistent store settings.
type StorageConfig struct {
	// Path is the SQLite database path; ":memory:" keeps the store
	// ephemeral.
	Path string `yaml:"path"`
}

// Load reads configuration from a YAML file. A missing file yields the
// defaults; a present file overrides them field by field.
func Load(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Crypto: CryptoConfig{
			Iterations: 100000,
		},
		Pool: PoolConfig{
			Size:      2,
			TimeoutMS: 30000,
		},
		Cache: CacheConfig{
			TTLSeconds: 300,
		},
		Policy: PolicyConfig{
			MaxAttempts:        5,
			WindowSeconds:      300,
			SessionTimeoutMin:  15,
			WarningLeadSeconds: 60,
		},
		Storage: StorageConfig{
			Path: ":memory:",
		},
	}
}

// PoolTimeout returns the pool timeout as a duration.
func (c *Config) PoolTimeout() time.Duration {
	return time.Duration(c.Pool.TimeoutMS) * time.Millisecond
}

// CacheTTL returns the cache TTL as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// RateWindow returns the rate-limit window as a duration.
func (c *Config) RateWindow() time.Duration {
	return time.Duration(c.Policy.WindowSeconds) * time.Second
}

// SessionTimeout returns the idle-session timeout as a duration.
func (c *Config) SessionTimeout() time.Duration {
	return time.Duration(c.Policy.SessionTimeoutMin) * time.Minute
}

// WarningLead returns the session warning lead as a duration.
func (c *Config) WarningLead() time.Duration {
	return time.Duration(c.Policy.WarningLeadSeconds) * time.Second
}
