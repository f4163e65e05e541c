// Package report renders the outcome of a run: the statistics.json file,
// a per-level summary table and the final verdict line.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"github.com/roach88/verdict/internal/filelock"
	"github.com/roach88/verdict/internal/status"
	"github.com/roach88/verdict/internal/tree"
)

// StatisticsFile is the name of the statistics file inside the statistics directory.
const StatisticsFile = "statistics.json"

// Summary is everything the report needs about a finished run.
type Summary struct {
	RunID      string                  `json:"run_id"`
	Status     status.Status           `json:"status"`
	Observed   bool                    `json:"observed"`
	ExitCode   status.ExitCode         `json:"exit_code"`
	Duration   time.Duration           `json:"duration_ns"`
	Statistics tree.StatisticsSnapshot `json:"statistics"`
	Failures   []tree.Failure          `json:"failures,omitempty"`
	Skipped    []string                `json:"skipped_batches,omitempty"`
}

// WriteStatistics writes stats as indented JSON to dir/statistics.json.
// Concurrent writers are serialized by a lock file next to the target.
func WriteStatistics(ctx context.Context, dir string, stats tree.StatisticsSnapshot) (string, error) {
	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal statistics: %w", err)
	}
	path := filepath.Join(dir, StatisticsFile)
	if err := filelock.LockedWriteFile(ctx, path, append(data, '\n')); err != nil {
		return "", fmt.Errorf("write statistics: %w", err)
	}
	return path, nil
}

// ReadStatistics loads a statistics file written by WriteStatistics.
func ReadStatistics(path string) (tree.StatisticsSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read statistics: %w", err)
	}
	var stats tree.StatisticsSnapshot
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, fmt.Errorf("parse statistics %s: %w", path, err)
	}
	return stats, nil
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// FormatTable renders the per-level counters. With colored set, the table
// style follows the verdict.
func FormatTable(s Summary, colored bool) string {
	var buf bytes.Buffer

	t := table.NewWriter()
	t.SetOutputMirror(&buf)
	t.AppendHeader(table.Row{"Level", "Total", "Passed", "Failed", "Broken", "Known issues", "Pending", "Skipped"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Total", Align: text.AlignRight},
		{Name: "Passed", Align: text.AlignRight},
		{Name: "Failed", Align: text.AlignRight},
		{Name: "Broken", Align: text.AlignRight},
		{Name: "Known issues", Align: text.AlignRight},
		{Name: "Pending", Align: text.AlignRight},
		{Name: "Skipped", Align: text.AlignRight},
	})

	for _, level := range tree.Levels {
		c := s.Statistics[level.String()]
		t.AppendRow(table.Row{
			level.String(), c.Total, c.Passed, c.Failed, c.Broken, c.KnownIssue, c.Pending, c.Skipped,
		})
	}

	t.AppendFooter(table.Row{"Verdict", verdictText(s), "", "", "", "", "", ""})

	switch {
	case !colored:
		t.SetStyle(table.StyleLight)
	case s.ExitCode == status.ExitPassed:
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	case s.ExitCode == status.ExitKnownIssues:
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	default:
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	}

	t.Render()
	return buf.String()
}

// FormatFailures renders collected failures, one row each. Empty input
// renders nothing.
func FormatFailures(failures []tree.Failure) string {
	if len(failures) == 0 {
		return ""
	}
	var buf bytes.Buffer
	t := table.NewWriter()
	t.SetOutputMirror(&buf)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "Story", "Failure"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Failure", WidthMax: 100, WidthMaxEnforcer: text.WrapSoft},
	})
	for i, f := range failures {
		t.AppendRow(table.Row{i + 1, f.Story, f.Message})
	}
	t.Render()
	return buf.String()
}

// WriteVerdict prints the one-line verdict, colored by outcome.
func WriteVerdict(w io.Writer, s Summary, colored bool) error {
	c := verdictColor(s.ExitCode)
	if colored {
		c.EnableColor()
	} else {
		c.DisableColor()
	}
	_, err := c.Fprintf(w, "%s (exit code %d, %s)\n", verdictText(s), int(s.ExitCode), s.Duration.Truncate(time.Millisecond))
	return err
}

// WriteJSON writes the summary as indented JSON.
func WriteJSON(w io.Writer, s Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

func verdictColor(code status.ExitCode) *color.Color {
	switch code {
	case status.ExitPassed:
		return color.New(color.FgGreen, color.Bold)
	case status.ExitKnownIssues:
		return color.New(color.FgYellow, color.Bold)
	default:
		return color.New(color.FgRed, color.Bold)
	}
}

func verdictText(s Summary) string {
	if !s.Observed {
		return "NO RESULTS"
	}
	return s.Status.DisplayName()
}
