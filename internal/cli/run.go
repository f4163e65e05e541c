package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/verdict/internal/config"
	"github.com/roach88/verdict/internal/engine"
	"github.com/roach88/verdict/internal/harness"
	"github.com/roach88/verdict/internal/metrics"
	"github.com/roach88/verdict/internal/report"
	"github.com/roach88/verdict/internal/status"
	"github.com/roach88/verdict/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ConfigFile      string
	Database        string
	MetricsFile     string
	FailFastDefault bool
	StatisticsDir   string
	CollectFailures bool

	// RunIDGenerator overrides the run ID generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDGenerator engine.RunIDGenerator

	// Now overrides the wall clock (for testing). If nil, defaults to time.Now.
	Now func() time.Time
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommandWithOptions(&RunOptions{RootOptions: rootOpts})
}

func newRunCommandWithOptions(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <suite.yaml>",
		Short: "Run a story suite and report its verdict",
		Long: `Run the stories of a suite file through the engine.

The configuration comes from the suite's config section, or from --config
when given; flags override both. The per-level statistics table and the
verdict are printed, and the process exits with the run's exit code.

Exit codes:
  0 - Passed
  1 - Failed, broken, pending, skipped or nothing ran
  2 - Known issues only
  3 - Command error (invalid paths, invalid suite, etc.)

Example:
  verdict run ./suites/checkout.yaml
  verdict run ./suites/checkout.yaml --fail-fast-default --collect-failures
  verdict run ./suites/checkout.yaml --db ./verdict.db --metrics-file ./verdict.prom`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSuite(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ConfigFile, "config", "", "path to a YAML run configuration (replaces the suite's config section)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to a SQLite database recording run history")
	cmd.Flags().StringVar(&opts.MetricsFile, "metrics-file", "", "write Prometheus metrics in text format to this file")
	cmd.Flags().BoolVar(&opts.FailFastDefault, "fail-fast-default", false, "fail test cases fast unless a batch or step overrides it")
	cmd.Flags().StringVar(&opts.StatisticsDir, "statistics-dir", config.DefaultStatisticsDir, "directory receiving statistics.json when the configuration names none (empty disables it)")
	cmd.Flags().BoolVar(&opts.CollectFailures, "collect-failures", false, "collect every failure message for the report")

	return cmd
}

func newLogger(verbose bool, w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func runSuite(opts *RunOptions, path string, cmd *cobra.Command) error {
	logger := newLogger(opts.Verbose, cmd.ErrOrStderr())

	suite, err := harness.LoadSuite(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load suite", err)
	}

	cfg, err := runConfig(opts, suite, cmd)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	var st *store.Store
	if opts.Database != "" {
		logger.Debug("opening database", "path", opts.Database)
		if st, err = store.Open(opts.Database); err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing database", "error", closeErr)
			}
		}()
	}

	idGen := opts.RunIDGenerator
	if idGen == nil {
		idGen = engine.UUIDv7Generator{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	m := metrics.New()

	ctx, stop := signalContext(cmd.Context(), logger)
	defer stop()

	logger.Info("running suite", "suite", suite.Name, "path", path)
	result, err := harness.Run(ctx, suite,
		harness.WithConfig(cfg),
		harness.WithEngineOptions(
			engine.WithRunIDGenerator(idGen),
			engine.WithNow(now),
			engine.WithLogger(logger),
			engine.WithMetrics(m),
		),
	)
	if err != nil {
		return WrapExitError(ExitCommandError, "run failed", err)
	}
	run := result.Run

	if st != nil {
		hash, err := suite.Fingerprint()
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to fingerprint suite", err)
		}
		if err := st.SaveRun(ctx, suite.Name, run, store.WithSuiteHash(hash)); err != nil {
			return WrapExitError(ExitCommandError, "failed to save run", err)
		}
		logger.Debug("run saved", "run_id", run.RunID, "db", opts.Database)
	}
	if opts.MetricsFile != "" {
		if err := m.WriteTextfile(opts.MetricsFile); err != nil {
			return WrapExitError(ExitCommandError, "failed to write metrics", err)
		}
	}

	if err := writeRunReport(cmd, opts.Format, run); err != nil {
		return err
	}

	if run.ExitCode != status.ExitPassed {
		return NewExitError(int(run.ExitCode), fmt.Sprintf("run %s finished with exit code %d", run.RunID, int(run.ExitCode)))
	}
	return nil
}

// runConfig resolves the configuration: --config or the suite's own
// section, then flags the user set explicitly.
func runConfig(opts *RunOptions, suite *harness.Suite, cmd *cobra.Command) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.ConfigFile != "" {
		if _, statErr := os.Stat(opts.ConfigFile); statErr != nil {
			return nil, fmt.Errorf("config file not found: %s", opts.ConfigFile)
		}
		cfg, err = config.LoadConfig(opts.ConfigFile)
	} else {
		cfg, err = suite.Configuration()
	}
	if err != nil {
		return nil, err
	}

	var failFast, collect *bool
	var statsDir *string
	flags := cmd.Flags()
	if flags.Changed("fail-fast-default") {
		failFast = &opts.FailFastDefault
	}
	if flags.Changed("collect-failures") {
		collect = &opts.CollectFailures
	}
	if flags.Changed("statistics-dir") || cfg.StatisticsDir == "" {
		statsDir = &opts.StatisticsDir
	}
	cfg.MergeWithFlags(failFast, statsDir, collect)
	return cfg, nil
}

// signalContext cancels on SIGINT or SIGTERM.
func signalContext(parent context.Context, logger *slog.Logger) (context.Context, func()) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, stopping run", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

func writeRunReport(cmd *cobra.Command, format string, run *engine.Result) error {
	w := cmd.OutOrStdout()
	summary := run.Summary()
	if format == "json" {
		return report.WriteJSON(w, summary)
	}

	colored := false
	if f, ok := w.(*os.File); ok {
		colored = report.IsTerminal(f)
	}
	fmt.Fprint(w, report.FormatTable(summary, colored))
	if failures := report.FormatFailures(summary.Failures); failures != "" {
		fmt.Fprintln(w)
		fmt.Fprint(w, failures)
	}
	if len(summary.Skipped) > 0 {
		fmt.Fprintf(w, "Skipped batches: %v\n", summary.Skipped)
	}
	if run.StatisticsPath != "" {
		fmt.Fprintf(w, "Statistics: %s\n", run.StatisticsPath)
	}
	return report.WriteVerdict(w, summary, colored)
}
