// Package config loads gateway configuration from YAML.
//
// DESIGN: A single Config struct covers every tunable of the budget and
// signature subsystems. Zero values fall back to the defaults in
// defaults.go so a missing or partial config file is never an error.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level gateway configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Budget     BudgetConfig     `yaml:"budget"`
	Escalation EscalationConfig `yaml:"escalation"`
	Signature  SignatureConfig  `yaml:"signature"`
	Storage    StorageConfig    `yaml:"storage"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds the admin/stats listener settings.
type ServerConfig struct {
	Port         int           `yaml:"port"`
	Upstream     string        `yaml:"upstream"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// BudgetConfig tunes the adaptive budget optimizer.
type BudgetConfig struct {
	Enabled bool `yaml:"enabled"`
}

// EscalationConfig tunes the budget sufficiency detector.
type EscalationConfig struct {
	MaxRetries          int     `yaml:"max_retries"`
	TruncationThreshold float64 `yaml:"truncation_threshold"`
}

// SignatureConfig tunes the continuity cache.
type SignatureConfig struct {
	Capacity int `yaml:"capacity"`
	TTLDays  int `yaml:"ttl_days"`
}

// StorageConfig locates the SQLite database.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns a Config populated from defaults.go.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8318,
			Upstream:     DefaultUpstream,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Budget: BudgetConfig{Enabled: true},
		Escalation: EscalationConfig{
			MaxRetries:          DefaultMaxRetries,
			TruncationThreshold: TruncationThreshold,
		},
		Signature: SignatureConfig{
			Capacity: DefaultContinuityCapacity,
			TTLDays:  DefaultContinuityTTLDays,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads a YAML config file, applying defaults for missing fields.
// A missing file is not an error; the defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	if c.Escalation.MaxRetries <= 0 {
		c.Escalation.MaxRetries = DefaultMaxRetries
	}
	if c.Escalation.TruncationThreshold <= 0 || c.Escalation.TruncationThreshold > 1 {
		c.Escalation.TruncationThreshold = TruncationThreshold
	}
	if c.Signature.Capacity <= 0 {
		c.Signature.Capacity = DefaultContinuityCapacity
	}
	if c.Signature.TTLDays <= 0 {
		c.Signature.TTLDays = DefaultContinuityTTLDays
	}
	if c.Server.Upstream == "" {
		c.Server.Upstream = DefaultUpstream
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout <= 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}
