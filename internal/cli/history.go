package cli

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/roach88/verdict/internal/harness"
	"github.com/roach88/verdict/internal/report"
	"github.com/roach88/verdict/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Database  string
	Limit     int
	SuiteFile string
}

// RunDetail is one stored run with its statistics and failures.
type RunDetail struct {
	store.RunRecord
	Report report.Summary `json:"report"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show runs recorded with run --db",
		Long: `List recorded runs, newest first, or show one run in detail.

Example:
  verdict history --db ./verdict.db
  verdict history --db ./verdict.db --limit 5
  verdict history --db ./verdict.db --suite ./suites/checkout.yaml
  verdict history --db ./verdict.db 019a4f6e-...`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return showRun(opts, args[0], cmd)
			}
			return listRuns(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum number of runs to list (0 lists all)")
	cmd.Flags().StringVar(&opts.SuiteFile, "suite", "", "list only runs of this suite file's current content")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func openHistory(path string) (*store.Store, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("database not found: %s", path))
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

func listRuns(opts *HistoryOptions, cmd *cobra.Command) error {
	st, err := openHistory(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := selectRuns(opts, st, cmd)
	if err != nil {
		return err
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if opts.Format == "json" {
		return formatter.Success(runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
		return nil
	}
	fmt.Fprint(cmd.OutOrStdout(), formatRuns(runs))
	return nil
}

func selectRuns(opts *HistoryOptions, st *store.Store, cmd *cobra.Command) ([]store.RunRecord, error) {
	if opts.SuiteFile == "" {
		runs, err := st.ListRuns(cmd.Context(), opts.Limit)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to list runs", err)
		}
		return runs, nil
	}

	suite, err := harness.LoadSuite(opts.SuiteFile)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load suite", err)
	}
	hash, err := suite.Fingerprint()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to fingerprint suite", err)
	}
	runs, err := st.RunsOfSuite(cmd.Context(), hash)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to list runs", err)
	}
	if opts.Limit > 0 && len(runs) > opts.Limit {
		runs = runs[:opts.Limit]
	}
	return runs, nil
}

func formatRuns(runs []store.RunRecord) string {
	var buf bytes.Buffer
	t := table.NewWriter()
	t.SetOutputMirror(&buf)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Run", "Suite", "Started", "Duration", "Status", "Exit"})
	for _, r := range runs {
		t.AppendRow(table.Row{
			r.RunID,
			r.Suite,
			r.StartedAt.Format(time.RFC3339),
			r.Duration,
			r.StatusName(),
			int(r.ExitCode),
		})
	}
	t.Render()
	return buf.String()
}

func showRun(opts *HistoryOptions, runID string, cmd *cobra.Command) error {
	st, err := openHistory(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	rec, err := st.GetRun(ctx, runID)
	if errors.Is(err, store.ErrRunNotFound) {
		return WrapExitError(ExitCommandError, "unknown run", err)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read run", err)
	}

	summary := report.Summary{
		RunID:    rec.RunID,
		Status:   rec.Status,
		Observed: rec.Observed,
		ExitCode: rec.ExitCode,
		Duration: rec.Duration,
	}
	if summary.Statistics, err = st.LoadStatistics(ctx, runID); err != nil {
		return WrapExitError(ExitCommandError, "failed to read statistics", err)
	}
	if summary.Failures, err = st.LoadFailures(ctx, runID); err != nil {
		return WrapExitError(ExitCommandError, "failed to read failures", err)
	}
	if summary.Skipped, err = st.LoadSkippedBatches(ctx, runID); err != nil {
		return WrapExitError(ExitCommandError, "failed to read skipped batches", err)
	}

	w := cmd.OutOrStdout()
	if opts.Format == "json" {
		formatter := &OutputFormatter{Format: opts.Format, Writer: w}
		return formatter.Success(RunDetail{RunRecord: rec, Report: summary})
	}

	fmt.Fprintf(w, "Run %s (%s, started %s)\n", rec.RunID, rec.Suite, rec.StartedAt.Format(time.RFC3339))
	fmt.Fprint(w, report.FormatTable(summary, false))
	if failures := report.FormatFailures(summary.Failures); failures != "" {
		fmt.Fprintln(w)
		fmt.Fprint(w, failures)
	}
	if len(summary.Skipped) > 0 {
		fmt.Fprintf(w, "Skipped batches: %v\n", summary.Skipped)
	}
	return report.WriteVerdict(w, summary, false)
}
