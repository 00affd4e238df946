// Package config loads daemon settings from YAML with sane defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LogConfig controls log output.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Config holds all configurable daemon parameters. Durations are plain
// millisecond integers so config files stay unit-explicit.
type Config struct {
	WorkspaceRoot       string    `yaml:"workspace_root"`
	Team                string    `yaml:"team"`
	ListenPort          int       `yaml:"listen_port"`
	Token               string    `yaml:"token"`
	LeaseDefaultTTLMs   int       `yaml:"lease_default_ttl_ms"`
	InboxPollIntervalMs int       `yaml:"inbox_poll_interval_ms"`
	Log                 LogConfig `yaml:"log"`
}

// DefaultConfig returns the built-in settings used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		WorkspaceRoot:       "~/.pi-team",
		LeaseDefaultTTLMs:   60000,
		InboxPollIntervalMs: 3000,
		Log:                 LogConfig{Level: "info"},
	}
}

// LeaseDefaultTTL returns the configured lease TTL as a duration.
func (c *Config) LeaseDefaultTTL() time.Duration {
	if c.LeaseDefaultTTLMs <= 0 {
		return time.Minute
	}
	return time.Duration(c.LeaseDefaultTTLMs) * time.Millisecond
}

// InboxPollInterval returns the guard poll cadence as a duration.
func (c *Config) InboxPollInterval() time.Duration {
	if c.InboxPollIntervalMs <= 0 {
		return 3 * time.Second
	}
	return time.Duration(c.InboxPollIntervalMs) * time.Millisecond
}

// Load reads configuration from a YAML file. Empty path falls back to
// ~/.pi-team/config.yaml. Missing file returns defaults. Invalid YAML
// returns an error. The workspace root has ~ expanded.
func Load(path string) (*Config, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return DefaultConfig(), nil
		}
		path = filepath.Join(home, ".pi-team", "config.yaml")
	}

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.WorkspaceRoot = ExpandHome(cfg.WorkspaceRoot)
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	// Defaults first, YAML overwrites only specified fields.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.WorkspaceRoot = ExpandHome(cfg.WorkspaceRoot)
	return cfg, nil
}

// ExpandHome resolves a leading ~ against the current user's home
// directory. Paths without the prefix pass through untouched.
func ExpandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
