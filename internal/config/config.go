package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file read when --config is not given.
const DefaultPath = "dailyrun.yaml"

// Config holds all dailyrun configuration.
type Config struct {
	// Routine is the per-day script invoked with (container, date, credential).
	Routine string `yaml:"routine"`

	// Execution settings
	Execution ExecutionConfig `yaml:"execution"`

	// Run history database
	History HistoryConfig `yaml:"history"`

	// Execution audit trail
	Audit AuditConfig `yaml:"audit"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// HistoryConfig configures the run history database.
type HistoryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	DatabasePath string `yaml:"database_path"`
}

// AuditConfig configures the JSON Lines audit trail of executions.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Routine: "./run_day.sh",

		Execution: ExecutionConfig{
			Mode:             ModeHost,
			Timeout:          "0",
			WorkingDirectory: ".",
			MaxOutputBytes:   1024 * 1024,
			InheritEnv:       true,
			AllowedEnvVars:   []string{"PATH", "HOME", "USER", "LANG", "LC_ALL", "TMPDIR"},
			WaitDelay:        "100ms",
		},

		History: HistoryConfig{
			Enabled:      false,
			DatabasePath: filepath.Join(".dailyrun", "history.db"),
		},

		Audit: AuditConfig{
			Enabled: false,
			Path:    filepath.Join(".dailyrun", "audit.jsonl"),
		},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file.
// A missing file yields the defaults (with environment overrides applied).
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
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

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if routine := os.Getenv("DAILYRUN_ROUTINE"); routine != "" {
		c.Routine = routine
	}
	if mode := os.Getenv("DAILYRUN_MODE"); mode != "" {
		c.Execution.Mode = mode
	}
	if path := os.Getenv("DAILYRUN_HISTORY_DB"); path != "" {
		c.History.DatabasePath = path
		c.History.Enabled = true
	}
	if path := os.Getenv("DAILYRUN_AUDIT_LOG"); path != "" {
		c.Audit.Path = path
		c.Audit.Enabled = true
	}
	if level := os.Getenv("DAILYRUN_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// ValidModes lists the supported execution modes.
var ValidModes = []string{ModeHost, ModeContainer}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Routine == "" {
		return fmt.Errorf("routine not configured (set routine in config or DAILYRUN_ROUTINE)")
	}

	validMode := false
	for _, m := range ValidModes {
		if c.Execution.Mode == m {
			validMode = true
			break
		}
	}
	if !validMode {
		return fmt.Errorf("invalid execution mode: %s (valid: %v)", c.Execution.Mode, ValidModes)
	}

	if c.Execution.Timeout != "" {
		if d, err := time.ParseDuration(c.Execution.Timeout); err != nil || d < 0 {
			return fmt.Errorf("invalid execution timeout: %q", c.Execution.Timeout)
		}
	}

	if c.Execution.WaitDelay != "" {
		if d, err := time.ParseDuration(c.Execution.WaitDelay); err != nil || d < 0 {
			return fmt.Errorf("invalid execution wait_delay: %q", c.Execution.WaitDelay)
		}
	}

	if c.Execution.MaxOutputBytes < 0 {
		return fmt.Errorf("execution.max_output_bytes must not be negative")
	}

	if c.History.Enabled && c.History.DatabasePath == "" {
		return fmt.Errorf("history enabled but history.database_path is empty")
	}
	if c.Audit.Enabled && c.Audit.Path == "" {
		return fmt.Errorf("audit enabled but audit.path is empty")
	}

	return nil
}
