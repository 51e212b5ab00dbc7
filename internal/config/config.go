// Package config loads the eavstore server configuration
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the server configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Journal JournalConfig `yaml:"journal"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig holds listener settings
type ServerConfig struct {
	Port        int `yaml:"port"`
	MetricsPort int `yaml:"metrics_port"` // 0 disables the observability server
	// Maximum gRPC message size in bytes
	MaxMessageBytes int `yaml:"max_message_bytes"`
	// How long graceful shutdown may take
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// JournalConfig holds durability settings
type JournalConfig struct {
	Path               string `yaml:"path"` // empty disables the journal
	MaxFileSize        int64  `yaml:"max_file_size"`
	RetainFiles        int    `yaml:"retain_files"`
	CheckpointInterval string `yaml:"checkpoint_interval"`
	SyncEveryPatch     bool   `yaml:"sync_every_patch"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            50051,
			MetricsPort:     9090,
			MaxMessageBytes: 100 << 20,
			ShutdownTimeout: "10s",
		},
		Journal: JournalConfig{
			Path:               "data/eavstore.journal",
			MaxFileSize:        64 << 20,
			RetainFiles:        1,
			CheckpointInterval: "10m",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML file over the defaults. A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if path := os.Getenv("EAVSTORE_JOURNAL"); path != "" {
		c.Journal.Path = path
	}
	if level := os.Getenv("EAVSTORE_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
}

// Validate checks ranges and durations
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.Server.MetricsPort)
	}
	if c.Server.MaxMessageBytes <= 0 {
		return fmt.Errorf("max_message_bytes must be positive")
	}
	if _, err := time.ParseDuration(c.Server.ShutdownTimeout); err != nil {
		return fmt.Errorf("invalid shutdown_timeout: %w", err)
	}
	if _, err := time.ParseDuration(c.Journal.CheckpointInterval); err != nil {
		return fmt.Errorf("invalid checkpoint_interval: %w", err)
	}
	if c.Journal.RetainFiles < 0 {
		return fmt.Errorf("retain_files must not be negative")
	}
	return nil
}

// GetShutdownTimeout returns the parsed shutdown timeout
func (c *Config) GetShutdownTimeout() time.Duration {
	d, err := time.ParseDuration(c.Server.ShutdownTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// GetCheckpointInterval returns the parsed checkpoint interval
func (c *Config) GetCheckpointInterval() time.Duration {
	d, err := time.ParseDuration(c.Journal.CheckpointInterval)
	if err != nil {
		return 10 * time.Minute
	}
	return d
}
