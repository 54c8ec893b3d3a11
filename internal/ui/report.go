package ui

import (
	"fmt"
	"strconv"
	"time"

	"dailyrun/internal/driver"
	"dailyrun/internal/store"
)

const timeFormat = "2006-01-02 15:04:05"

// RunSummary builds the per-iteration table of a finished run.
func RunSummary(report *driver.Report, styles Styles) *Table {
	title := fmt.Sprintf("Run %s: %d iterations, %d failed, %s",
		report.RunID, len(report.Iterations), report.Failures(), report.Duration().Round(time.Millisecond))
	if ds := report.Dates(); len(ds) > 0 {
		title += fmt.Sprintf(" [%s..%s]", ds[0], ds[len(ds)-1])
	}
	if report.Interrupted {
		title += " (interrupted)"
	}

	t := NewTable(title, []string{"#", "Date", "Exit", "Status", "Duration"})
	for _, it := range report.Iterations {
		t.AddRow(
			strconv.Itoa(it.Index+1),
			it.Date.String(),
			strconv.Itoa(it.ExitCode),
			iterationStatus(it, styles),
			it.Duration.Round(time.Millisecond).String(),
		)
	}
	return t
}

func iterationStatus(it driver.IterationOutcome, styles Styles) string {
	switch {
	case it.Killed:
		return styles.Warning.Render("killed")
	case !it.Success:
		return styles.Error.Render("error")
	case it.ExitCode != 0:
		return styles.Warning.Render("exit " + strconv.Itoa(it.ExitCode))
	default:
		return styles.Success.Render("ok")
	}
}

// HistoryTable lists stored runs, newest first.
func HistoryTable(runs []store.RunRecord, styles Styles) *Table {
	t := NewTable("Recent runs", []string{"Run", "Container", "Started", "Finished", "Iterations", "Failures"})
	for _, r := range runs {
		finished := styles.Muted.Render("in progress")
		if r.Finished() {
			finished = r.FinishedAt.Local().Format(timeFormat)
		}
		failures := strconv.Itoa(r.Failures)
		if r.Failures > 0 {
			failures = styles.Error.Render(failures)
		}
		t.AddRow(
			r.RunID,
			r.ContainerID,
			r.StartedAt.Local().Format(timeFormat),
			finished,
			strconv.Itoa(r.Iterations),
			failures,
		)
	}
	return t
}
