// Package driver runs the per-day routine once for each runnable date.
//
// For every date the driver prints the date identifier, runs the routine
// synchronously with (container identifier, date, credential) and prints
// Separator. Routine outcomes are recorded but never change control flow;
// only cancellation of the run context ends the loop early.
package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"

	"dailyrun/internal/dates"
	"dailyrun/internal/logging"
	"dailyrun/internal/store"
	"dailyrun/internal/tactile"
)

// Separator is written to stdout after every invocation.
const Separator = "\r\n@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@\r\n"

// ErrInterrupted is returned by Run when the context ended the loop early.
var ErrInterrupted = errors.New("run interrupted")

// Recorder persists run history. *store.HistoryStore implements it.
type Recorder interface {
	BeginRun(run store.RunRecord) error
	RecordIteration(it store.IterationRecord) error
	FinishRun(runID string, finishedAt time.Time) error
}

// Config selects the routine and where it runs.
type Config struct {
	// Routine is the path of the per-day routine.
	Routine string

	// Mode is SandboxHost (default) or SandboxContainer. In container mode
	// the routine is exec'd inside the container named by the container id.
	Mode tactile.SandboxMode
}

// Driver runs the per-day routine over the runnable dates.
type Driver struct {
	config   Config
	executor tactile.Executor
	stdout   io.Writer
	stderr   io.Writer
	recorder Recorder
	newRunID func() string
	now      func() time.Time
}

// Option configures a Driver.
type Option func(*Driver)

// WithOutput sets where dates, separators and routine output are written.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(d *Driver) {
		d.stdout = stdout
		d.stderr = stderr
	}
}

// WithRecorder enables run history.
func WithRecorder(r Recorder) Option {
	return func(d *Driver) {
		d.recorder = r
	}
}

// WithRunIDGenerator replaces the UUID run id generator.
func WithRunIDGenerator(fn func() string) Option {
	return func(d *Driver) {
		d.newRunID = fn
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Driver) {
		d.now = now
	}
}

// New creates a driver that runs the routine through executor.
func New(config Config, executor tactile.Executor, opts ...Option) *Driver {
	if config.Mode == "" {
		config.Mode = tactile.SandboxHost
	}
	d := &Driver{
		config:   config,
		executor: executor,
		stdout:   os.Stdout,
		stderr:   os.Stderr,
		newRunID: uuid.NewString,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run performs one run over dates.Runnable(). Iteration failures never stop
// the loop and are not returned as errors. If ctx is canceled the current
// invocation is killed, its separator is still written and Run returns the
// partial report with an error wrapping ErrInterrupted.
func (d *Driver) Run(ctx context.Context, containerID string, cred Credential) (*Report, error) {
	runnable := dates.Runnable()
	report := &Report{
		RunID:       d.newRunID(),
		ContainerID: containerID,
		StartedAt:   d.now(),
		Iterations:  make([]IterationOutcome, 0, len(runnable)),
	}

	logging.Driver("Run %s started: %d dates, routine=%s, mode=%s, container=%q",
		report.RunID, len(runnable), d.config.Routine, d.config.Mode, containerID)

	d.recordBegin(report)

	for i, date := range runnable {
		if err := ctx.Err(); err != nil {
			return d.finish(report, fmt.Errorf("%w before %s: %v", ErrInterrupted, date, err))
		}

		d.write(date.String() + "\n")
		outcome := d.invoke(ctx, report.RunID, i, date, containerID, cred)
		d.write(Separator)

		report.Iterations = append(report.Iterations, outcome)
		d.recordIteration(report.RunID, outcome)
	}

	return d.finish(report, nil)
}

// invoke runs the routine for one date and converts the result.
func (d *Driver) invoke(ctx context.Context, runID string, index int, date dates.Identifier, containerID string, cred Credential) IterationOutcome {
	cmd := tactile.Command{
		Binary:    d.config.Routine,
		Arguments: []string{containerID, date.String(), cred.Reveal()},
		Sensitive: []string{cred.Reveal()},
		Stdout:    d.stdout,
		Stderr:    d.stderr,
		RunID:     runID,
		Tags: map[string]string{
			"date":  date.String(),
			"index": strconv.Itoa(index),
		},
	}
	if d.config.Mode == tactile.SandboxContainer {
		cmd.Container = containerID
	}

	logging.DriverDebug("Iteration %d/%d: %s", index+1, dates.RunCount, cmd.CommandString())

	outcome := IterationOutcome{
		Index:     index,
		Date:      date,
		ExitCode:  -1,
		StartedAt: d.now(),
	}

	result, err := d.executor.Execute(ctx, cmd)
	if err != nil {
		outcome.Error = cmd.Redact(err.Error())
		outcome.Duration = d.now().Sub(outcome.StartedAt)
		logging.DriverWarn("Iteration %s could not run: %s", date, outcome.Error)
		return outcome
	}

	outcome.Success = result.Success
	outcome.ExitCode = result.ExitCode
	outcome.Killed = result.Killed
	outcome.Duration = result.Duration
	if !result.StartedAt.IsZero() {
		outcome.StartedAt = result.StartedAt
	}
	switch {
	case result.Killed:
		outcome.Error = result.KillReason
		logging.DriverWarn("Iteration %s killed: %s", date, result.KillReason)
	case result.IsError():
		outcome.Error = result.Error
		logging.DriverWarn("Iteration %s failed to run: %s", date, result.Error)
	case result.IsNonZeroExit():
		logging.Driver("Iteration %s exited %d", date, result.ExitCode)
		if out := result.Output(); out != "" {
			logging.DriverDebug("Iteration %s output:\n%s", date, out)
		}
	default:
		logging.DriverDebug("Iteration %s completed in %s", date, result.Duration)
	}
	return outcome
}

// write emits protocol output. Write errors are logged and ignored.
func (d *Driver) write(s string) {
	if _, err := io.WriteString(d.stdout, s); err != nil {
		logging.DriverWarn("stdout write failed: %v", err)
	}
}

func (d *Driver) finish(report *Report, runErr error) (*Report, error) {
	report.FinishedAt = d.now()
	report.Interrupted = runErr != nil

	if d.recorder != nil {
		if err := d.recorder.FinishRun(report.RunID, report.FinishedAt); err != nil {
			logging.DriverWarn("History: finish run %s: %v", report.RunID, err)
		}
	}

	logging.Driver("Run %s finished: %d iterations, %d failures, interrupted=%v, took %s",
		report.RunID, len(report.Iterations), report.Failures(), report.Interrupted, report.Duration())

	return report, runErr
}

func (d *Driver) recordBegin(report *Report) {
	if d.recorder == nil {
		return
	}
	err := d.recorder.BeginRun(store.RunRecord{
		RunID:       report.RunID,
		ContainerID: report.ContainerID,
		StartedAt:   report.StartedAt,
	})
	if err != nil {
		logging.DriverWarn("History: begin run %s: %v", report.RunID, err)
	}
}

func (d *Driver) recordIteration(runID string, o IterationOutcome) {
	if d.recorder == nil {
		return
	}
	err := d.recorder.RecordIteration(store.IterationRecord{
		RunID:     runID,
		Index:     o.Index,
		Date:      o.Date.String(),
		ExitCode:  o.ExitCode,
		Success:   o.Success && !o.Killed,
		Error:     o.Error,
		Duration:  o.Duration,
		StartedAt: o.StartedAt,
	})
	if err != nil {
		logging.DriverWarn("History: record %s: %v", o.Date, err)
	}
}
