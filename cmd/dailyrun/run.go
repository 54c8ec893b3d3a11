package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"dailyrun/internal/config"
	"dailyrun/internal/driver"
	"dailyrun/internal/logging"
	"dailyrun/internal/store"
	"dailyrun/internal/tactile"
	"dailyrun/internal/ui"
)

// executorConfig maps the execution section onto the tactile layer.
func executorConfig(cfg *config.Config) tactile.ExecutorConfig {
	return tactile.ExecutorConfig{
		DefaultWorkingDir:   cfg.Execution.WorkingDirectory,
		DefaultTimeout:      cfg.Execution.GetTimeout(),
		InheritEnvironment:  cfg.Execution.InheritEnv,
		AllowedEnvironment:  cfg.Execution.AllowedEnvVars,
		WaitDelay:           cfg.Execution.GetWaitDelay(),
		MaxOutputBytes:      cfg.Execution.MaxOutputBytes,
		EnableResourceUsage: true,
	}
}

// runDaily performs one run of the per-day loop.
func runDaily(cmd *cobra.Command, opts *options, containerID string, cred driver.Credential) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			logging.Driver("Received %s, stopping after the current routine is killed", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	cfg := opts.cfg
	logging.Boot("Starting run: routine=%s mode=%s container=%q", cfg.Routine, cfg.Execution.Mode, containerID)
	if cred.IsEmpty() {
		logging.BootDebug("No credential given, the routine receives an empty string")
	}

	factory := tactile.NewExecutorFactory(executorConfig(cfg))
	executor, err := factory.CreateFromConfig(tactile.SandboxMode(cfg.Execution.Mode))
	if err != nil {
		return fmt.Errorf("failed to create %s executor: %w", cfg.Execution.Mode, err)
	}
	if closer, ok := executor.(io.Closer); ok {
		defer closer.Close()
	}

	audit := tactile.NewAuditLogger()
	defer audit.Close()
	if cfg.Audit.Enabled {
		if err := audit.EnableFileLogging(cfg.Audit.Path); err != nil {
			logging.DriverWarn("Audit trail disabled: %v", err)
		} else {
			logging.BootDebug("Audit trail: %s", cfg.Audit.Path)
		}
	}
	audit.Attach(executor)

	driverOpts := []driver.Option{driver.WithOutput(cmd.OutOrStdout(), cmd.ErrOrStderr())}
	if cfg.History.Enabled {
		history, err := store.NewHistoryStore(cfg.History.DatabasePath)
		if err != nil {
			logging.DriverWarn("Run history disabled: %v", err)
		} else {
			defer history.Close()
			logging.BootDebug("Run history: %s", cfg.History.DatabasePath)
			driverOpts = append(driverOpts, driver.WithRecorder(history))
		}
	}

	d := driver.New(driver.Config{
		Routine: cfg.Routine,
		Mode:    tactile.SandboxMode(cfg.Execution.Mode),
	}, executor, driverOpts...)

	report, runErr := d.Run(ctx, containerID, cred)

	metrics := audit.GetMetrics()
	logging.Driver("Executions: %d started, %d zero exit, %d non-zero exit, %d errors, %d killed",
		metrics.TotalExecutions, metrics.SuccessfulExecutions, metrics.NonZeroExits,
		metrics.FailedExecutions, metrics.KilledExecutions)

	if opts.summary {
		styles := ui.DefaultStyles()
		fmt.Fprint(cmd.ErrOrStderr(), ui.RunSummary(report, styles).View(styles))
	}

	return runErr
}

// showHistory prints the most recent runs to stdout.
func showHistory(cmd *cobra.Command, opts *options) error {
	history, err := store.NewHistoryStore(opts.cfg.History.DatabasePath)
	if err != nil {
		return err
	}
	defer history.Close()

	runs, err := history.RecentRuns(opts.historyLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
		return nil
	}

	styles := ui.DefaultStyles()
	fmt.Fprint(cmd.OutOrStdout(), ui.HistoryTable(runs, styles).View(styles))
	return nil
}
