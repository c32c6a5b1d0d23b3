// Package config loads the optional psyker.yml host configuration. Every
// setting has a flag or environment equivalent, so the CLI treats a missing
// file as defaults rather than an error.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the top-level psyker.yml configuration.
type Config struct {
	Version string         `yaml:"version"`
	Sandbox *SandboxConfig `yaml:"sandbox,omitempty"`
	Logging *LoggingConfig `yaml:"logging,omitempty"`
}

// SandboxConfig selects where the sandbox root lives.
type SandboxConfig struct {
	Root string `yaml:"root"`
}

// LoggingConfig controls CLI log output.
type LoggingConfig struct {
	Verbose bool `yaml:"verbose,omitempty"`
}

// Validate performs strict validation on the configuration.
func (c *Config) Validate() error {
	// Required: a 1.x version
	if c.Version != "1" && !strings.HasPrefix(c.Version, "1.") {
		return fmt.Errorf("unsupported version: %s (expected: 1.x)", c.Version)
	}

	// A sandbox section without a root is a mistake, not a default request.
	if c.Sandbox != nil && strings.TrimSpace(c.Sandbox.Root) == "" {
		return fmt.Errorf("sandbox.root is empty")
	}

	return nil
}

// Root returns the configured sandbox root with a leading ~ expanded, or ""
// when the configuration does not set one.
func (c *Config) Root() string {
	if c.Sandbox == nil || c.Sandbox.Root == "" {
		return ""
	}
	return expandHome(c.Sandbox.Root)
}

// Verbose reports whether the configuration asks for debug logging.
func (c *Config) Verbose() bool {
	return c.Logging != nil && c.Logging.Verbose
}

// Load reads and validates psyker.yml from the specified path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, path[2:])
}
