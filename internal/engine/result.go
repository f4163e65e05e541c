package engine

import (
	"context"
	"time"

	"github.com/roach88/verdict/internal/report"
	"github.com/roach88/verdict/internal/status"
	"github.com/roach88/verdict/internal/tree"
)

// StoryResult is the outcome of one top-level story.
type StoryResult struct {
	Batch      string        `json:"batch"`
	BatchOrder int           `json:"-"`
	Index      int           `json:"-"`
	Path       string        `json:"path"`
	Status     status.Status `json:"status"`
	Tree       tree.Snapshot `json:"tree"`
}

// Result is the outcome of a run.
type Result struct {
	RunID     string        `json:"run_id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`

	// Status is the worst status observed; meaningful only when Observed.
	Status   status.Status   `json:"status"`
	Observed bool            `json:"observed"`
	ExitCode status.ExitCode `json:"exit_code"`

	Statistics     tree.StatisticsSnapshot `json:"statistics"`
	StatisticsPath string                  `json:"statistics_path,omitempty"`
	Failures       []tree.Failure          `json:"failures,omitempty"`
	Stories        []StoryResult           `json:"stories"`
	SkippedBatches []string                `json:"skipped_batches,omitempty"`
	Journal        []JournalEntry          `json:"journal"`
}

// Summary returns the part of the result the report renders.
func (r *Result) Summary() report.Summary {
	return report.Summary{
		RunID:      r.RunID,
		Status:     r.Status,
		Observed:   r.Observed,
		ExitCode:   r.ExitCode,
		Duration:   r.Duration,
		Statistics: r.Statistics,
		Failures:   r.Failures,
		Skipped:    r.SkippedBatches,
	}
}

// finish fills result from the run state and publishes the statistics file.
// A statistics write failure is logged; it never changes the verdict.
func (e *Engine) finish(ctx context.Context, result *Result) {
	result.Duration = e.now().Sub(result.StartedAt)
	result.Status, result.Observed = e.recorder.Status()
	result.ExitCode = e.recorder.ExitCode()
	result.Statistics = e.stats.Snapshot()
	result.Failures = e.recorder.Failures()
	result.Stories = e.storyResults()
	result.Journal = e.journal.Entries()

	e.mu.Lock()
	result.SkippedBatches = append([]string(nil), e.skipped...)
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.SetRunDuration(result.Duration.Seconds())
	}
	if dir := e.cfg.StatisticsDir; dir != "" {
		path, err := report.WriteStatistics(ctx, dir, result.Statistics)
		if err != nil {
			e.logger.Warn("cannot write statistics", "dir", dir, "error", err)
		} else {
			result.StatisticsPath = path
		}
	}

	e.logger.Info("run finished",
		"run_id", result.RunID,
		"status", verdictName(result),
		"exit_code", int(result.ExitCode),
		"duration", result.Duration,
	)
}

func verdictName(r *Result) string {
	if !r.Observed {
		return "none"
	}
	return r.Status.String()
}
