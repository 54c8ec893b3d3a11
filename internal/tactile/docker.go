package tactile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"runtime"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"dailyrun/internal/logging"
)

// dockerAPI is the subset of the Docker Engine client used for exec.
type dockerAPI interface {
	ContainerExecCreate(ctx context.Context, container string, config types.ExecConfig) (types.IDResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, config types.ExecStartCheck) (types.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (types.ContainerExecInspect, error)
	Close() error
}

// ContainerExecutor runs commands inside an already running container, the
// equivalent of `docker exec <container> <binary> <args...>`. Container state
// is preserved between executions; nothing is created or removed.
type ContainerExecutor struct {
	auditHook
	config ExecutorConfig
	api    dockerAPI

	// pollInterval is how often the exec is inspected after its streams close.
	pollInterval time.Duration
}

// NewContainerExecutor connects to the Docker Engine from the environment
// (DOCKER_HOST, DOCKER_API_VERSION, DOCKER_CERT_PATH, DOCKER_TLS_VERIFY).
func NewContainerExecutor(config ExecutorConfig) (*ContainerExecutor, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDockerUnavailable, err)
	}
	return newContainerExecutor(config, cli), nil
}

func newContainerExecutor(config ExecutorConfig, api dockerAPI) *ContainerExecutor {
	logging.TactileDebug("Creating ContainerExecutor: timeout=%s, maxOutput=%d bytes",
		config.DefaultTimeout, config.MaxOutputBytes)
	return &ContainerExecutor{
		config:       config,
		api:          api,
		pollInterval: 100 * time.Millisecond,
	}
}

// Close releases the Docker client.
func (e *ContainerExecutor) Close() error {
	return e.api.Close()
}

// Capabilities returns what this executor supports.
func (e *ContainerExecutor) Capabilities() ExecutorCapabilities {
	return ExecutorCapabilities{
		Name:                  "container",
		Platform:              runtime.GOOS,
		SupportsResourceUsage: false,
		SupportedSandboxModes: []SandboxMode{SandboxContainer},
		DefaultTimeout:        e.config.DefaultTimeout,
	}
}

// Validate checks if a command can be executed.
func (e *ContainerExecutor) Validate(cmd Command) error {
	if cmd.Binary == "" {
		return ErrEmptyBinary
	}
	if cmd.Container == "" {
		return ErrMissingContainer
	}
	return nil
}

// Execute runs a command inside cmd.Container.
//
// A timeout or cancellation detaches from the exec and reports Killed; the
// Engine API cannot signal an exec'd process, so it may keep running inside
// the container.
func (e *ContainerExecutor) Execute(ctx context.Context, cmd Command) (*ExecutionResult, error) {
	timer := logging.StartTimer(logging.CategoryTactile, "Docker exec")
	defer timer.Stop()

	if err := e.Validate(cmd); err != nil {
		logging.TactileWarn("Command validation failed: %s - %v", cmd.CommandString(), err)
		return nil, err
	}

	cmd = e.config.Merge(cmd)
	safe := cmd.Redacted()
	timeout := cmd.timeout()

	logging.Tactile("Executing in container %s: %s", cmd.Container, cmd.CommandString())

	result := &ExecutionResult{
		ExitCode:    -1,
		SandboxUsed: SandboxContainer,
		Command:     &safe,
	}

	e.emit(AuditEventStart, "container", safe, nil)

	execCtx, cancel := withOptionalTimeout(ctx, timeout)
	defer cancel()

	result.StartedAt = time.Now()
	fail := func(stage string, err error) (*ExecutionResult, error) {
		result.FinishedAt = time.Now()
		result.Duration = result.FinishedAt.Sub(result.StartedAt)
		if killed := e.markKilled(execCtx, result, timeout); killed {
			e.emit(AuditEventKilled, "container", safe, result)
			return result, nil
		}
		result.Success = false
		result.Error = cmd.Redact(fmt.Sprintf("%s: %v", stage, err))
		logging.TactileError("Docker exec failed: %s", result.Error)
		e.emit(AuditEventError, "container", safe, result)
		return result, nil
	}

	created, err := e.api.ContainerExecCreate(execCtx, cmd.Container, e.execConfig(cmd))
	if err != nil {
		return fail("exec create", err)
	}

	attach, err := e.api.ContainerExecAttach(execCtx, created.ID, types.ExecStartCheck{})
	if err != nil {
		return fail("exec attach", err)
	}
	defer attach.Close()

	maxOutput := cmd.maxOutput()
	var stdoutBuf, stderrBuf bytes.Buffer
	stdoutLimited := &limitedWriter{w: &stdoutBuf, max: maxOutput}
	stderrLimited := &limitedWriter{w: &stderrBuf, max: maxOutput}

	copyDone := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(
			teeWriter(cmd.Stdout, stdoutLimited),
			teeWriter(cmd.Stderr, stderrLimited),
			attach.Reader,
		)
		copyDone <- err
	}()

	var copyErr error
	select {
	case copyErr = <-copyDone:
	case <-execCtx.Done():
		attach.Close()
		<-copyDone
	}

	result.Stdout = cmd.Redact(stdoutBuf.String())
	result.Stderr = cmd.Redact(stderrBuf.String())
	if stdoutLimited.truncated || stderrLimited.truncated {
		result.Truncated = true
		result.TruncatedBytes = stdoutLimited.discarded + stderrLimited.discarded
	}

	if execCtx.Err() != nil {
		return fail("exec stream", execCtx.Err())
	}
	if copyErr != nil {
		return fail("exec stream", copyErr)
	}

	exitCode, err := e.waitExit(execCtx, created.ID)
	if err != nil {
		return fail("exec inspect", err)
	}

	result.FinishedAt = time.Now()
	result.Duration = result.FinishedAt.Sub(result.StartedAt)
	result.Success = true
	result.ExitCode = exitCode

	e.emit(AuditEventComplete, "container", safe, result)

	logging.Tactile("Docker exec completed: %s -> exit=%d, duration=%s",
		cmd.Binary, result.ExitCode, result.Duration)

	return result, nil
}

// execConfig builds the Engine exec request. Relative working directories are
// meaningless inside the container and are left to the image default.
func (e *ContainerExecutor) execConfig(cmd Command) types.ExecConfig {
	cfg := types.ExecConfig{
		AttachStdout: true,
		AttachStderr: true,
		Env:          cmd.Environment,
		Cmd:          append([]string{cmd.Binary}, cmd.Arguments...),
	}
	if path.IsAbs(cmd.WorkingDirectory) {
		cfg.WorkingDir = cmd.WorkingDirectory
	}
	return cfg
}

// waitExit inspects the exec until the Engine reports it finished.
func (e *ContainerExecutor) waitExit(ctx context.Context, execID string) (int, error) {
	for {
		inspect, err := e.api.ContainerExecInspect(ctx, execID)
		if err != nil {
			return -1, err
		}
		if !inspect.Running {
			return inspect.ExitCode, nil
		}

		select {
		case <-ctx.Done():
			return -1, ctx.Err()
		case <-time.After(e.pollInterval):
		}
	}
}

// markKilled fills the kill fields when the exec context ended the execution.
func (e *ContainerExecutor) markKilled(execCtx context.Context, result *ExecutionResult, timeout time.Duration) bool {
	switch {
	case errors.Is(execCtx.Err(), context.DeadlineExceeded):
		result.Killed = true
		result.KillReason = fmt.Sprintf("timeout after %s", timeout)
	case errors.Is(execCtx.Err(), context.Canceled):
		result.Killed = true
		result.KillReason = "context canceled"
	default:
		return false
	}
	result.Success = true
	logging.TactileWarn("Docker exec detached: %s", result.KillReason)
	return true
}
