package tactile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"dailyrun/internal/logging"
)

// auditHook holds the audit callback shared by the executors.
type auditHook struct {
	mu       sync.RWMutex
	callback func(AuditEvent)
}

// SetAuditCallback sets the callback for audit events.
func (h *auditHook) SetAuditCallback(callback func(AuditEvent)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.callback = callback
}

// emit sends an audit event if a callback is registered.
// The command must already be redacted.
func (h *auditHook) emit(typ AuditEventType, executor string, cmd Command, result *ExecutionResult) {
	h.mu.RLock()
	callback := h.callback
	h.mu.RUnlock()

	if callback == nil {
		return
	}
	callback(AuditEvent{
		Type:         typ,
		Timestamp:    time.Now(),
		Command:      cmd,
		Result:       result,
		RunID:        cmd.RunID,
		ExecutorName: executor,
	})
}

// DirectExecutor executes commands directly on the host using os/exec.
type DirectExecutor struct {
	auditHook
	config ExecutorConfig
}

// NewDirectExecutor creates a new direct executor with default config.
func NewDirectExecutor() *DirectExecutor {
	return NewDirectExecutorWithConfig(DefaultExecutorConfig())
}

// NewDirectExecutorWithConfig creates a new direct executor with custom config.
func NewDirectExecutorWithConfig(config ExecutorConfig) *DirectExecutor {
	logging.TactileDebug("Creating DirectExecutor with config: timeout=%s, maxOutput=%d bytes",
		config.DefaultTimeout, config.MaxOutputBytes)
	return &DirectExecutor{
		config: config,
	}
}

// Capabilities returns what this executor supports.
func (e *DirectExecutor) Capabilities() ExecutorCapabilities {
	return ExecutorCapabilities{
		Name:                  "direct",
		Platform:              runtime.GOOS,
		SupportsResourceUsage: resourceUsageSupported,
		SupportedSandboxModes: []SandboxMode{SandboxHost},
		DefaultTimeout:        e.config.DefaultTimeout,
	}
}

// Validate checks if a command can be executed.
func (e *DirectExecutor) Validate(cmd Command) error {
	if cmd.Binary == "" {
		return ErrEmptyBinary
	}
	return nil
}

// Execute runs a command directly on the host.
// Output is streamed to cmd.Stdout/cmd.Stderr and captured up to the limit.
func (e *DirectExecutor) Execute(ctx context.Context, cmd Command) (*ExecutionResult, error) {
	timer := logging.StartTimer(logging.CategoryTactile, "Direct command execution")
	defer timer.Stop()

	if err := e.Validate(cmd); err != nil {
		logging.TactileWarn("Command validation failed: %s - %v", cmd.CommandString(), err)
		return nil, err
	}

	cmd = e.config.Merge(cmd)
	safe := cmd.Redacted()
	timeout := cmd.timeout()

	logging.TactileDebug("Executing: %s (dir=%s, timeout=%s)",
		cmd.CommandString(), cmd.WorkingDirectory, timeout)

	result := &ExecutionResult{
		ExitCode:    -1,
		SandboxUsed: SandboxHost,
		Command:     &safe,
	}

	e.emit(AuditEventStart, "direct", safe, nil)

	execCtx, cancel := withOptionalTimeout(ctx, timeout)
	defer cancel()

	execCmd := exec.CommandContext(execCtx, cmd.Binary, cmd.Arguments...)
	execCmd.Dir = cmd.WorkingDirectory
	execCmd.Env = e.buildEnvironment(cmd.Environment)

	// Kill the whole process group so helpers spawned by the routine die too.
	setupProcessGroup(execCmd)
	execCmd.Cancel = func() error { return killProcessGroup(execCmd) }
	execCmd.WaitDelay = e.config.WaitDelay

	maxOutput := cmd.maxOutput()
	var stdoutBuf, stderrBuf bytes.Buffer
	stdoutLimited := &limitedWriter{w: &stdoutBuf, max: maxOutput}
	stderrLimited := &limitedWriter{w: &stderrBuf, max: maxOutput}
	execCmd.Stdout = teeWriter(cmd.Stdout, stdoutLimited)
	execCmd.Stderr = teeWriter(cmd.Stderr, stderrLimited)

	result.StartedAt = time.Now()
	err := execCmd.Run()
	result.FinishedAt = time.Now()
	result.Duration = result.FinishedAt.Sub(result.StartedAt)

	result.Stdout = cmd.Redact(stdoutBuf.String())
	result.Stderr = cmd.Redact(stderrBuf.String())

	if stdoutLimited.truncated || stderrLimited.truncated {
		result.Truncated = true
		result.TruncatedBytes = stdoutLimited.discarded + stderrLimited.discarded
		logging.TactileDebug("Captured output truncated: %d bytes discarded", result.TruncatedBytes)
	}

	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.Is(execCtx.Err(), context.DeadlineExceeded):
			result.Killed = true
			result.KillReason = fmt.Sprintf("timeout after %s", timeout)
			result.Success = true // Infrastructure worked, command was killed
			logging.TactileWarn("Command killed (timeout): %s after %s", cmd.Binary, timeout)
			e.emit(AuditEventKilled, "direct", safe, result)
			return result, nil
		case errors.Is(execCtx.Err(), context.Canceled):
			result.Killed = true
			result.KillReason = "context canceled"
			result.Success = true
			logging.TactileDebug("Command canceled: %s", cmd.Binary)
			e.emit(AuditEventKilled, "direct", safe, result)
			return result, nil
		case errors.Is(err, exec.ErrWaitDelay):
			// The routine exited cleanly but a descendant still holds its output.
			result.Success = true
			result.ExitCode = 0
			logging.TactileDebug("Command exited, output pipes closed after %s: %s", e.config.WaitDelay, cmd.Binary)
		case errors.As(err, &exitErr):
			result.Success = true // Command ran, just returned non-zero
			result.ExitCode = exitErr.ExitCode()
			logging.TactileDebug("Command exited non-zero: %s -> %d", cmd.Binary, result.ExitCode)
		default:
			result.Success = false
			result.Error = cmd.Redact(err.Error())
			logging.TactileError("Command failed: %s - %s", cmd.Binary, result.Error)
			e.emit(AuditEventError, "direct", safe, result)
			return result, nil
		}
	} else {
		result.Success = true
		result.ExitCode = 0
	}

	if e.config.EnableResourceUsage {
		result.ResourceUsage = getProcessResourceUsage(execCmd)
	}

	e.emit(AuditEventComplete, "direct", safe, result)

	logging.Tactile("Command completed: %s -> exit=%d, duration=%s",
		cmd.Binary, result.ExitCode, result.Duration)

	return result, nil
}

// buildEnvironment creates the environment variable list.
// Command variables come last so they win over inherited ones.
func (e *DirectExecutor) buildEnvironment(cmdEnv []string) []string {
	if e.config.InheritEnvironment {
		return append(os.Environ(), cmdEnv...)
	}

	env := make([]string, 0, len(e.config.AllowedEnvironment)+len(cmdEnv))

	for _, key := range e.config.AllowedEnvironment {
		if val, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+val)
		}
	}

	return append(env, cmdEnv...)
}

// withOptionalTimeout applies timeout when positive, otherwise only cancellation.
func withOptionalTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

// teeWriter streams to w (if any) and always captures into capture.
func teeWriter(w io.Writer, capture io.Writer) io.Writer {
	if w == nil {
		return capture
	}
	return io.MultiWriter(w, capture)
}

// limitedWriter is an io.Writer that limits total bytes written.
type limitedWriter struct {
	w         io.Writer
	max       int64
	written   int64
	truncated bool
	discarded int64
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)

	if lw.written >= lw.max {
		lw.truncated = true
		lw.discarded += int64(n)
		return n, nil // Pretend we wrote it
	}

	remaining := lw.max - lw.written
	if int64(n) > remaining {
		lw.truncated = true
		lw.discarded += int64(n) - remaining
		written, err := lw.w.Write(p[:remaining])
		lw.written += int64(written)
		return n, err // Return original length to avoid "short write" errors
	}

	written, err := lw.w.Write(p)
	lw.written += int64(written)
	return written, err
}

