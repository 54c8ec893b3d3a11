// Package tactile is the execution layer of dailyrun: it is the only package
// that starts processes. It runs a Command either directly on the host or
// inside an existing container through the Docker Engine API, streams the
// process output to the caller while keeping a bounded capture, and reports
// every execution as an ExecutionResult plus audit events.
//
// Design Principles:
//   - Non-zero exit is a result, not an error: Success means the infrastructure
//     worked, ExitCode says what the process thought of it.
//   - Sensitive values (credentials) never leave the package unmasked: results,
//     audit events and log lines only ever see Command.Redacted().
//   - No implicit timeout: a zero timeout waits for the process to exit.
package tactile

import (
	"errors"
	"io"
	"strings"
	"time"
)

// SandboxMode defines where a command is executed.
type SandboxMode string

const (
	// SandboxHost runs commands directly on the host (default).
	SandboxHost SandboxMode = "host"

	// SandboxContainer runs commands inside an existing container via docker exec.
	SandboxContainer SandboxMode = "container"
)

// RedactedValue replaces sensitive values in every printable form of a command.
const RedactedValue = "[REDACTED]"

var (
	// ErrEmptyBinary is returned by Validate for a command without a binary.
	ErrEmptyBinary = errors.New("binary is required")

	// ErrMissingContainer is returned when a container command names no container.
	ErrMissingContainer = errors.New("container identifier is required")

	// ErrDockerUnavailable means no Docker Engine client could be created.
	ErrDockerUnavailable = errors.New("docker is not available")
)

// Command represents a command to be executed.
// This is the input specification for all executor types.
type Command struct {
	// Binary is the executable to run (e.g., "./run_day.sh", "bash").
	Binary string `json:"binary"`

	// Arguments are the command-line arguments.
	Arguments []string `json:"arguments"`

	// WorkingDirectory is the directory to execute in.
	// If empty, uses the executor's default working directory.
	WorkingDirectory string `json:"working_directory,omitempty"`

	// Environment variables to set (in KEY=VALUE format).
	// These are merged with the executor's allowed environment.
	Environment []string `json:"environment,omitempty"`

	// Container names the container to exec in (SandboxContainer only).
	Container string `json:"container,omitempty"`

	// Limits specifies resource constraints for execution.
	Limits *ResourceLimits `json:"limits,omitempty"`

	// Sensitive lists values that must be masked wherever the command is
	// printed, logged or recorded. Empty strings are ignored.
	Sensitive []string `json:"-"`

	// Stdout and Stderr receive the process output as it is produced.
	// Nil writers mean the output is only captured.
	Stdout io.Writer `json:"-"`
	Stderr io.Writer `json:"-"`

	// RunID links this execution to a driver run (for audit).
	RunID string `json:"run_id,omitempty"`

	// Tags are arbitrary key-value pairs for categorization and audit.
	Tags map[string]string `json:"tags,omitempty"`
}

// Redact masks every sensitive value of the command inside free text such
// as error messages and captured output.
func (c Command) Redact(s string) string {
	for _, secret := range c.Sensitive {
		if secret == "" {
			continue
		}
		s = strings.ReplaceAll(s, secret, RedactedValue)
	}
	return s
}

// isSensitive reports whether v is exactly one of the sensitive values.
func (c Command) isSensitive(v string) bool {
	if v == "" {
		return false
	}
	for _, secret := range c.Sensitive {
		if v == secret {
			return true
		}
	}
	return false
}

// redactValue masks v only when it equals a sensitive value, so a short
// secret never mangles unrelated arguments such as dates.
func (c Command) redactValue(v string) string {
	if c.isSensitive(v) {
		return RedactedValue
	}
	return v
}

func (c Command) redactArgs(values []string) []string {
	if values == nil {
		return nil
	}
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = c.redactValue(v)
	}
	return out
}

func (c Command) redactEnv(values []string) []string {
	if values == nil {
		return nil
	}
	out := make([]string, len(values))
	for i, kv := range values {
		if key, value, ok := strings.Cut(kv, "="); ok && c.isSensitive(value) {
			out[i] = key + "=" + RedactedValue
			continue
		}
		out[i] = kv
	}
	return out
}

// Redacted returns a copy that is safe to log, serialize or retain: sensitive
// arguments, environment values and tags are masked, the sensitive list and
// the output writers are dropped.
func (c Command) Redacted() Command {
	out := c
	out.Arguments = c.redactArgs(c.Arguments)
	out.Environment = c.redactEnv(c.Environment)
	out.Sensitive = nil
	out.Stdout = nil
	out.Stderr = nil
	if c.Limits != nil {
		limits := *c.Limits
		out.Limits = &limits
	}
	if c.Tags != nil {
		out.Tags = make(map[string]string, len(c.Tags))
		for k, v := range c.Tags {
			out.Tags[k] = c.redactValue(v)
		}
	}
	return out
}

// CommandString returns the full command as a string (for display/logging).
// Sensitive arguments are masked.
func (c Command) CommandString() string {
	if len(c.Arguments) == 0 {
		return c.Binary
	}
	return c.Binary + " " + strings.Join(c.redactArgs(c.Arguments), " ")
}

// ResourceLimits defines constraints on command execution.
type ResourceLimits struct {
	// TimeoutMs is the maximum execution time in milliseconds.
	// Zero means use the executor's default timeout.
	TimeoutMs int64 `json:"timeout_ms,omitempty"`

	// MaxOutputBytes limits captured stdout and stderr size (each).
	// Streaming to Command.Stdout/Stderr is not limited.
	// Zero means use the executor's default.
	MaxOutputBytes int64 `json:"max_output_bytes,omitempty"`
}

// ExecutionResult is the comprehensive output of command execution.
type ExecutionResult struct {
	// Success indicates whether the command completed without error.
	// Note: A command that runs but returns non-zero exit code has Success=true.
	// Success=false means the execution infrastructure failed.
	Success bool `json:"success"`

	// ExitCode is the command's exit code (-1 if not available).
	ExitCode int `json:"exit_code"`

	// Stdout is the captured standard output.
	Stdout string `json:"stdout"`

	// Stderr is the captured standard error.
	Stderr string `json:"stderr"`

	// Duration is how long the command ran.
	Duration time.Duration `json:"duration"`

	// StartedAt is when execution began.
	StartedAt time.Time `json:"started_at"`

	// FinishedAt is when execution completed.
	FinishedAt time.Time `json:"finished_at"`

	// Killed indicates the command was forcibly terminated.
	Killed bool `json:"killed"`

	// KillReason explains why the command was killed.
	KillReason string `json:"kill_reason,omitempty"`

	// Truncated indicates captured output was truncated due to size limits.
	Truncated bool `json:"truncated"`

	// TruncatedBytes is how many bytes were discarded from the capture.
	TruncatedBytes int64 `json:"truncated_bytes,omitempty"`

	// ResourceUsage contains resource consumption metrics (host only).
	ResourceUsage *ResourceUsage `json:"resource_usage,omitempty"`

	// Error contains any infrastructure-level error message.
	Error string `json:"error,omitempty"`

	// SandboxUsed indicates where the command actually ran.
	SandboxUsed SandboxMode `json:"sandbox_used"`

	// Command is a redacted copy of the command that was executed (for audit).
	Command *Command `json:"command,omitempty"`
}

// IsError returns true if the execution failed (infrastructure error).
func (r *ExecutionResult) IsError() bool {
	return !r.Success || r.Error != ""
}

// IsNonZeroExit returns true if the command ran but returned non-zero.
func (r *ExecutionResult) IsNonZeroExit() bool {
	return r.Success && r.ExitCode != 0
}

// Output returns Stdout+Stderr.
func (r *ExecutionResult) Output() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// ResourceUsage contains metrics about resource consumption.
type ResourceUsage struct {
	UserTimeMs                 int64 `json:"user_time_ms"`
	SystemTimeMs               int64 `json:"system_time_ms"`
	MaxRSSBytes                int64 `json:"max_rss_bytes"`
	VoluntaryContextSwitches   int64 `json:"voluntary_context_switches"`
	InvoluntaryContextSwitches int64 `json:"involuntary_context_switches"`
}

// TotalCPUTimeMs returns total CPU time (user + system).
func (r *ResourceUsage) TotalCPUTimeMs() int64 {
	return r.UserTimeMs + r.SystemTimeMs
}

// ExecutorCapabilities describes what an executor can do.
type ExecutorCapabilities struct {
	// Name is the executor implementation name.
	Name string `json:"name"`

	// Platform is the operating system (e.g., "linux", "darwin").
	Platform string `json:"platform"`

	// SupportsResourceUsage indicates resource usage metrics are available.
	SupportsResourceUsage bool `json:"supports_resource_usage"`

	// SupportedSandboxModes lists available sandbox modes.
	SupportedSandboxModes []SandboxMode `json:"supported_sandbox_modes"`

	// DefaultTimeout is used when no timeout is specified (0 = none).
	DefaultTimeout time.Duration `json:"default_timeout"`
}

// AuditEventType categorizes audit events.
type AuditEventType string

const (
	AuditEventStart    AuditEventType = "start"
	AuditEventComplete AuditEventType = "complete"
	AuditEventKilled   AuditEventType = "killed"
	AuditEventError    AuditEventType = "error"
)

// AuditEvent represents an execution event.
type AuditEvent struct {
	// Type is the event category.
	Type AuditEventType `json:"type"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Command is the redacted command being executed.
	Command Command `json:"command"`

	// Result is the execution result (for complete/killed/error events).
	Result *ExecutionResult `json:"result,omitempty"`

	// RunID links to the driver run.
	RunID string `json:"run_id,omitempty"`

	// ExecutorName is which executor handled this.
	ExecutorName string `json:"executor_name"`
}

// ExecutorConfig is the configuration for creating executors.
type ExecutorConfig struct {
	// DefaultWorkingDir is used when Command.WorkingDirectory is empty.
	DefaultWorkingDir string `json:"default_working_dir"`

	// DefaultTimeout is used when no timeout is specified (0 = none).
	DefaultTimeout time.Duration `json:"default_timeout"`

	// InheritEnvironment passes the whole host environment to host commands.
	// When false only AllowedEnvironment is passed through.
	InheritEnvironment bool `json:"inherit_environment"`

	// AllowedEnvironment lists host environment variables to pass through
	// when InheritEnvironment is false.
	AllowedEnvironment []string `json:"allowed_environment"`

	// WaitDelay bounds how long a finished host command's output pipes are
	// drained. Background helpers that keep the pipes open do not hold up the
	// caller beyond it. Zero waits for every pipe to close.
	WaitDelay time.Duration `json:"wait_delay"`

	// MaxOutputBytes caps output capture (default 1MB).
	MaxOutputBytes int64 `json:"max_output_bytes"`

	// EnableResourceUsage enables collection of resource metrics.
	EnableResourceUsage bool `json:"enable_resource_usage"`
}

// DefaultExecutorConfig returns sensible defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		DefaultWorkingDir:   ".",
		DefaultTimeout:      0,
		MaxOutputBytes:      1024 * 1024,
		InheritEnvironment:  true,
		AllowedEnvironment:  []string{"PATH", "HOME", "USER", "LANG", "LC_ALL", "TMPDIR"},
		WaitDelay:           100 * time.Millisecond,
		EnableResourceUsage: true,
	}
}

// Merge combines this config with command-specific settings.
// Command settings override config defaults.
func (c ExecutorConfig) Merge(cmd Command) Command {
	result := cmd

	if result.WorkingDirectory == "" {
		result.WorkingDirectory = c.DefaultWorkingDir
	}

	if result.Limits == nil {
		result.Limits = &ResourceLimits{}
	} else {
		limitsCopy := *result.Limits
		result.Limits = &limitsCopy
	}
	if result.Limits.TimeoutMs == 0 && c.DefaultTimeout > 0 {
		result.Limits.TimeoutMs = int64(c.DefaultTimeout / time.Millisecond)
	}
	if result.Limits.MaxOutputBytes == 0 {
		result.Limits.MaxOutputBytes = c.MaxOutputBytes
	}

	return result
}

// timeout returns the effective timeout of a merged command (0 = none).
func (c Command) timeout() time.Duration {
	if c.Limits == nil || c.Limits.TimeoutMs <= 0 {
		return 0
	}
	return time.Duration(c.Limits.TimeoutMs) * time.Millisecond
}

// maxOutput returns the effective capture cap of a merged command.
func (c Command) maxOutput() int64 {
	if c.Limits == nil || c.Limits.MaxOutputBytes <= 0 {
		return DefaultExecutorConfig().MaxOutputBytes
	}
	return c.Limits.MaxOutputBytes
}
