// Package config holds the caller-side bridge configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config controls how the launch bridge finds and starts the agent.
type Config struct {
	// AgentPaths are extra locations searched for the agent binary
	// before the built-in install locations.
	AgentPaths []string `yaml:"agent_paths"`

	// Shell overrides the agent's shell discovery when set.
	Shell string `yaml:"shell"`

	// Term is exported to the spawned shell when the environment does
	// not already carry a TERM value.
	Term string `yaml:"term"`

	// Rows and Cols are the initial terminal dimensions.
	Rows int `yaml:"rows"`
	Cols int `yaml:"cols"`

	// ReadyTimeout bounds how long the bridge waits for the agent's
	// ready signal before giving up.
	ReadyTimeout time.Duration `yaml:"ready_timeout"`

	// Verbose enables agent diagnostics.
	Verbose bool `yaml:"verbose"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Term:         "xterm-256color",
		Rows:         24,
		Cols:         80,
		ReadyTimeout: 5 * time.Second,
	}
}

// Load loads configuration from file and environment.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := getConfigPath()
	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load from environment: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// getConfigPath returns the config file path.
func getConfigPath() string {
	if path := os.Getenv("TERMBRIDGE_CONFIG"); path != "" {
		return path
	}

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "termbridge", "config.yaml")
	}

	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "termbridge", "config.yaml")
	}

	return ""
}

// loadFromFile loads configuration from a YAML file.
func loadFromFile(cfg *Config, path string) error {
	// #nosec G304 - The config file path comes from trusted sources (env var or standard locations)
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

// loadFromEnv loads configuration from environment variables.
func loadFromEnv(cfg *Config) error {
	if path := os.Getenv("TERMBRIDGE_AGENT_PATH"); path != "" {
		cfg.AgentPaths = append([]string{path}, cfg.AgentPaths...)
	}

	if shell := os.Getenv("TERMBRIDGE_SHELL"); shell != "" {
		cfg.Shell = shell
	}

	if term := os.Getenv("TERMBRIDGE_TERM"); term != "" {
		cfg.Term = term
	}

	if timeout := os.Getenv("TERMBRIDGE_READY_TIMEOUT"); timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil {
			return fmt.Errorf("invalid TERMBRIDGE_READY_TIMEOUT: %w", err)
		}
		cfg.ReadyTimeout = d
	}

	if verbose := os.Getenv("TERMBRIDGE_VERBOSE"); verbose != "" {
		switch verbose {
		case "true", "1", "yes":
			cfg.Verbose = true
		case "false", "0", "no":
			cfg.Verbose = false
		default:
			return fmt.Errorf("invalid TERMBRIDGE_VERBOSE value: %q (use true/false)", verbose)
		}
	}

	return nil
}

// validate validates the configuration.
func validate(cfg *Config) error {
	if cfg.Rows <= 0 {
		return fmt.Errorf("rows must be positive")
	}

	if cfg.Cols <= 0 {
		return fmt.Errorf("cols must be positive")
	}

	if cfg.ReadyTimeout <= 0 {
		return fmt.Errorf("ready_timeout must be positive")
	}

	return nil
}
