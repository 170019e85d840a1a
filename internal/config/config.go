// Package config holds all taskloom configuration. Configuration is read
// from <workspace>/.taskloom/config.yaml; every section has working
// defaults so a missing file means a fully-defaulted config, not an error.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all taskloom configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// External planner
	Planner PlannerConfig `yaml:"planner"`

	// Gap detection thresholds
	Detector DetectorConfig `yaml:"detector"`

	// Bridging insertion
	Bridging BridgingConfig `yaml:"bridging"`

	// Incremental ranking
	Ranker RankerConfig `yaml:"ranker"`

	// Validation loop
	Validator ValidatorConfig `yaml:"validator"`

	// Snapshot store
	Store StoreConfig `yaml:"store"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// StoreConfig configures the snapshot store.
type StoreConfig struct {
	// Path is the sqlite database path, relative to the workspace when not
	// absolute (default: .taskloom/taskloom.db)
	Path string `yaml:"path"`

	// AuditRetention is the max resolution-audit rows kept (default: 10000)
	AuditRetention int `yaml:"audit_retention"`
}

// LoggingConfig configures the category file logger. The logging package
// reads this section directly from disk to avoid a circular import.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"`
}

// DefaultConfig returns a config with all defaults applied.
func DefaultConfig() *Config {
	return &Config{
		Name:      "taskloom",
		Version:   "0.1.0",
		Planner:   DefaultPlannerConfig(),
		Detector:  DefaultDetectorConfig(),
		Bridging:  DefaultBridgingConfig(),
		Ranker:    DefaultRankerConfig(),
		Validator: DefaultValidatorConfig(),
		Store: StoreConfig{
			Path:           filepath.Join(".taskloom", "taskloom.db"),
			AuditRetention: 10000,
		},
		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// Load reads config from <workspace>/.taskloom/config.yaml, applying
// defaults for any missing section. A missing file is not an error.
func Load(workspace string) (*Config, error) {
	cfg := DefaultConfig()

	path := filepath.Join(workspace, ".taskloom", "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the config back to <workspace>/.taskloom/config.yaml.
func (c *Config) Save(workspace string) error {
	dir := filepath.Join(workspace, ".taskloom")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(filepath.Join(dir, "config.yaml"), data, 0644)
}

// applyDefaults fills zero-valued fields that an explicit config file may
// have left out. Booleans keep their unmarshaled value.
func (c *Config) applyDefaults() {
	def := DefaultConfig()

	if c.Name == "" {
		c.Name = def.Name
	}
	if c.Version == "" {
		c.Version = def.Version
	}
	c.Planner.applyDefaults()
	c.Detector.applyDefaults()
	c.Bridging.applyDefaults()
	c.Ranker.applyDefaults()
	c.Validator.applyDefaults()
	if c.Store.Path == "" {
		c.Store.Path = def.Store.Path
	}
	if c.Store.AuditRetention == 0 {
		c.Store.AuditRetention = def.Store.AuditRetention
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
}

// applyEnvOverrides lets the environment supply secrets that should not
// live in the config file.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("TASKLOOM_API_KEY"); key != "" {
		c.Planner.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && c.Planner.APIKey == "" {
		c.Planner.APIKey = key
	}
}
