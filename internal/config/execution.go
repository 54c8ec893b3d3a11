package config

import "time"

// Execution modes.
const (
	ModeHost      = "host"
	ModeContainer = "container"
)

// ExecutionConfig configures how the per-day routine is launched.
type ExecutionConfig struct {
	// Mode is "host" (run the routine locally) or "container"
	// (docker exec the routine inside the container named on the command line).
	Mode string `yaml:"mode" json:"mode,omitempty"`

	// Timeout per routine invocation, "0" for none.
	Timeout string `yaml:"timeout" json:"timeout,omitempty"`

	// Working directory for host mode, or inside the container for container mode.
	WorkingDirectory string `yaml:"working_directory" json:"working_directory,omitempty"`

	// MaxOutputBytes caps the output kept for history and audit.
	// Streaming to the terminal is never truncated.
	MaxOutputBytes int64 `yaml:"max_output_bytes" json:"max_output_bytes,omitempty"`

	// InheritEnv passes the whole host environment to the routine in host mode.
	InheritEnv bool `yaml:"inherit_env" json:"inherit_env"`

	// Environment variables passed through to the routine in host mode
	// when inherit_env is false.
	AllowedEnvVars []string `yaml:"allowed_env_vars" json:"allowed_env_vars,omitempty"`

	// WaitDelay bounds how long output is drained after the routine exits,
	// so helpers it leaves in the background do not stall the loop.
	// "0" waits until every helper closes its output.
	WaitDelay string `yaml:"wait_delay" json:"wait_delay,omitempty"`
}

// GetTimeout returns the routine timeout as a duration (0 = none).
func (e ExecutionConfig) GetTimeout() time.Duration {
	if e.Timeout == "" {
		return 0
	}
	d, err := time.ParseDuration(e.Timeout)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// GetWaitDelay returns the output drain bound as a duration (0 = unbounded).
func (e ExecutionConfig) GetWaitDelay() time.Duration {
	if e.WaitDelay == "" {
		return 0
	}
	d, err := time.ParseDuration(e.WaitDelay)
	if err != nil || d < 0 {
		return 0
	}
	return d
}
