package driver

import (
	"time"

	"dailyrun/internal/dates"
)

// IterationOutcome is what happened to one invocation of the routine.
type IterationOutcome struct {
	Index     int
	Date      dates.Identifier
	ExitCode  int  // -1 when the routine did not exit normally
	Success   bool // the routine was started and waited for
	Killed    bool
	Error     string
	Duration  time.Duration
	StartedAt time.Time
}

// Failed reports whether the routine did not run to a zero exit.
func (o IterationOutcome) Failed() bool {
	return !o.Success || o.Killed || o.ExitCode != 0
}

// Report summarizes one run.
type Report struct {
	RunID       string
	ContainerID string
	StartedAt   time.Time
	FinishedAt  time.Time
	Interrupted bool
	Iterations  []IterationOutcome
}

// Failures counts failed iterations.
func (r *Report) Failures() int {
	n := 0
	for _, it := range r.Iterations {
		if it.Failed() {
			n++
		}
	}
	return n
}

// Dates returns the dates that were invoked, in order.
func (r *Report) Dates() []dates.Identifier {
	out := make([]dates.Identifier, len(r.Iterations))
	for i, it := range r.Iterations {
		out[i] = it.Date
	}
	return out
}

// Duration is the wall time of the run.
func (r *Report) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
