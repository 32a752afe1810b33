// Package config handles configuration loading and validation for snapdls.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the server configuration.
type Config struct {
	Server     ServerConfig  `yaml:"server"`
	ModelsPath string        `yaml:"models_path"`
	ModelGlob  string        `yaml:"model_glob"`
	Device     string        `yaml:"device"`
	Warmup     WarmupConfig  `yaml:"warmup"`
	Session    SessionConfig `yaml:"session"`
	Metrics    MetricsConfig `yaml:"metrics"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
	// MaxVoxels bounds the grid an upload may declare. It caps decompression
	// independently of the compressed body size.
	MaxVoxels int `yaml:"max_voxels"`
}

// WarmupConfig controls session pre-construction.
type WarmupConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// SessionConfig controls client session lifetime.
type SessionConfig struct {
	// IdleTimeout ends sessions unused for this long. Zero keeps them until
	// the client ends them.
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	PruneInterval time.Duration `yaml:"prune_interval"`
}

// MetricsConfig toggles the /metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8911,
			ShutdownTimeout: 10 * time.Second,
			MaxUploadBytes:  1 << 30,
			MaxVoxels:       1 << 28,
		},
		ModelGlob: "**/model.yaml",
		Device:    "cpu",
		Warmup: WarmupConfig{
			Timeout: 2 * time.Minute,
		},
		Session: SessionConfig{
			PruneInterval: time.Minute,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Load reads configuration from the given path. If configPath is empty or
// doesn't exist, defaults are returned.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}

			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Save writes the configuration as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// applyDefaults sets default values for any unset configuration options.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if c.Server.Host == "" {
		c.Server.Host = defaults.Server.Host
	}
	if c.Server.MaxUploadBytes == 0 {
		c.Server.MaxUploadBytes = defaults.Server.MaxUploadBytes
	}
	if c.Server.MaxVoxels == 0 {
		c.Server.MaxVoxels = defaults.Server.MaxVoxels
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = defaults.Server.ShutdownTimeout
	}
	if c.ModelGlob == "" {
		c.ModelGlob = defaults.ModelGlob
	}
	if c.Device == "" {
		c.Device = defaults.Device
	}
	if c.Session.PruneInterval == 0 {
		c.Session.PruneInterval = defaults.Session.PruneInterval
	}
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}
