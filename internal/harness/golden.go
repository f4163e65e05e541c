package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/verdict/internal/tree"
)

// Snapshot captures the deterministic outcome of a suite execution.
type Snapshot struct {
	Suite          string          `json:"suite"`
	Status         string          `json:"status"`
	ExitCode       int             `json:"exit_code"`
	Stories        []tree.Snapshot `json:"stories"`
	Executed       []string        `json:"executed"`
	Journal        []string        `json:"journal"`
	SkippedBatches []string        `json:"skipped_batches,omitempty"`
}

// NewSnapshot builds the snapshot of result. Journal entries are rendered
// as "kind story / scenario" without sequence numbers or details.
func NewSnapshot(name string, result *Result) Snapshot {
	run := result.Run
	s := Snapshot{
		Suite:          name,
		Status:         statusName(run.Status, run.Observed),
		ExitCode:       int(run.ExitCode),
		Stories:        make([]tree.Snapshot, len(run.Stories)),
		Executed:       make([]string, len(result.Executed)),
		Journal:        make([]string, len(run.Journal)),
		SkippedBatches: run.SkippedBatches,
	}
	for i, sr := range run.Stories {
		s.Stories[i] = sr.Tree
	}
	for i, e := range result.Executed {
		s.Executed[i] = e.String()
	}
	for i, e := range run.Journal {
		line := e.Kind
		if e.Story != "" {
			line += " " + e.Story
		} else if e.Batch != "" {
			line += " " + e.Batch
		}
		if e.Scenario != "" {
			line += " / " + e.Scenario
		}
		s.Journal[i] = line
	}
	return s
}

// Marshal renders the snapshot as indented JSON with a trailing newline.
func (s Snapshot) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RunWithGolden executes a suite and compares its snapshot against a golden
// file stored in testdata/golden/{suite.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can make further assertions.
func RunWithGolden(t *testing.T, suite *Suite) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), suite)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, suite.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares result against the golden file for name without
// re-running the suite.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := NewSnapshot(name, result).Marshal()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
