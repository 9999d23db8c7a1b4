// Package config handles settings and workspace configuration for screen-runner.
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the workspace configuration (config.yaml).
// It selects what to run; device capabilities live in the settings files.
type Config struct {
	// Scenario selection
	Scenarios []string `yaml:"scenarios"` // Scenario names, empty = all
	Scripts   []string `yaml:"scripts"`   // JS scenario files

	// Execution settings
	Env       map[string]string `yaml:"env"`       // Values exposed to scripts
	Platforms []string          `yaml:"platforms"` // Run once per platform
	Output    string            `yaml:"output"`    // Report directory
	Listeners string            `yaml:"listeners"` // events | none

	// Device settings
	Platform string `yaml:"platform"` // Target platform
	Device   string `yaml:"device"`   // Target device
	App      string `yaml:"app"`      // App path override
}

// Load loads configuration from a file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided config file
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadFromDir looks for config.yaml or config.yml in the directory.
func LoadFromDir(dir string) (*Config, error) {
	// Try config.yaml first
	configPath := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(configPath); err == nil {
		return Load(configPath)
	}

	// Try config.yml
	configPath = filepath.Join(dir, "config.yml")
	if _, err := os.Stat(configPath); err == nil {
		return Load(configPath)
	}

	// No config file found, return empty config
	return &Config{}, nil
}
