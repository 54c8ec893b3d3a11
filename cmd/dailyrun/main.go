// Command dailyrun invokes the per-day routine for each runnable date.
//
//	dailyrun [container-id] [credential]
//
// Stdout carries only the run protocol (date line, routine output,
// separator); diagnostics go to stderr.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dailyrun/internal/config"
	"dailyrun/internal/driver"
	"dailyrun/internal/logging"
)

// exitInterrupted mirrors a shell killed by SIGINT.
const exitInterrupted = 130

// options holds the root command's flags and the state built from them.
type options struct {
	configPath   string
	verbose      bool
	summary      bool
	historyLimit int
	initConfig   bool

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "dailyrun [container-id] [credential]",
		Short: "Run the per-day routine for each simulation date",
		Long: `dailyrun walks the fixed table of simulation dates (20191201 onward) and,
for each of the first 22, prints the date, runs the per-day routine with
(container-id, date, credential) and prints a separator line.

The routine's exit status never stops the loop. Missing arguments are passed
to the routine as empty strings and extra arguments are ignored. Flags must
come before the first argument; anything after it is taken verbatim, so a
credential may start with "-".`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = logging.Sync()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case opts.initConfig:
				return writeDefaultConfig(cmd, opts)
			case opts.historyLimit > 0:
				return showHistory(cmd, opts)
			}
			if len(args) > 2 {
				logging.BootDebug("Ignoring %d extra argument(s)", len(args)-2)
			}
			containerID, credential := positional(args)
			return runDaily(cmd, opts, containerID, driver.NewCredential(credential))
		},
	}

	flags := cmd.Flags()
	flags.SetInterspersed(false)
	flags.StringVar(&opts.configPath, "config", config.DefaultPath, "Path to the YAML config file")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose (debug) logging on stderr")
	flags.BoolVar(&opts.summary, "summary", false, "Print a run summary table to stderr after the loop")
	flags.IntVar(&opts.historyLimit, "history", 0, "List the N most recent runs and exit")
	flags.BoolVar(&opts.initConfig, "init-config", false, "Write the default config to --config and exit")

	return cmd
}

// setup loads the config and installs the logger.
func (o *options) setup() error {
	if o.initConfig {
		o.cfg = config.DefaultConfig()
	} else {
		cfg, err := config.Load(o.configPath)
		if err != nil {
			return err
		}
		o.cfg = cfg
	}

	logger, err := logging.New(logging.Options{Level: o.cfg.Logging.Level, Verbose: o.verbose})
	if err != nil {
		return err
	}
	o.logger = logger
	logging.Install(logger, o.cfg.Logging.Categories)

	logging.BootDebug("Config loaded from %s: routine=%s mode=%s timeout=%s",
		o.configPath, o.cfg.Routine, o.cfg.Execution.Mode, o.cfg.Execution.GetTimeout())
	return nil
}

// positional returns (container-id, credential), empty when absent.
func positional(args []string) (string, string) {
	var containerID, credential string
	if len(args) > 0 {
		containerID = args[0]
	}
	if len(args) > 1 {
		credential = args[1]
	}
	return containerID, credential
}

func writeDefaultConfig(cmd *cobra.Command, opts *options) error {
	if _, err := os.Stat(opts.configPath); err == nil {
		return fmt.Errorf("%s already exists", opts.configPath)
	}
	if err := opts.cfg.Save(opts.configPath); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Wrote default config to %s\n", opts.configPath)
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, driver.ErrInterrupted) {
			os.Exit(exitInterrupted)
		}
		os.Exit(1)
	}
}
