package config

// LoggingConfig configures logging.
// Categories not listed in Categories stay enabled.
type LoggingConfig struct {
	Level      string          `yaml:"level" json:"level,omitempty"`           // debug, info, warn, error
	Categories map[string]bool `yaml:"categories" json:"categories,omitempty"` // Per-category toggles
}
