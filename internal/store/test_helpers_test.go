package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/verdict/internal/engine"
	"github.com/roach88/verdict/internal/status"
	"github.com/roach88/verdict/internal/tree"
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// createTestResult creates a finished run with one failing story.
func createTestResult(runID string, startedAt time.Time) *engine.Result {
	stats := tree.StatisticsSnapshot{
		"batch":    {},
		"story":    {},
		"scenario": {},
		"step":     {},
	}
	story := stats["story"]
	story.Add(status.Failed, 1)
	stats["story"] = story
	scenario := stats["scenario"]
	scenario.Add(status.Passed, 2)
	scenario.Add(status.Failed, 1)
	stats["scenario"] = scenario
	step := stats["step"]
	step.Add(status.Passed, 5)
	step.Add(status.Failed, 1)
	step.Add(status.Skipped, 2)
	stats["step"] = step

	return &engine.Result{
		RunID:      runID,
		StartedAt:  startedAt,
		Duration:   1500 * time.Millisecond,
		Status:     status.Failed,
		Observed:   true,
		ExitCode:   status.ExitFailed,
		Statistics: stats,
		Failures: []tree.Failure{
			{Story: "checkout.story", Message: "expected total 10, got 12"},
			{Story: "checkout.story", Message: "verification failed"},
		},
		SkippedBatches: []string{"smoke", "regression"},
	}
}
