package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/verdict/internal/config"
	"github.com/roach88/verdict/internal/metrics"
	"github.com/roach88/verdict/internal/report"
	"github.com/roach88/verdict/internal/softassert"
	"github.com/roach88/verdict/internal/status"
	"github.com/roach88/verdict/internal/testutil"
	"github.com/roach88/verdict/internal/tree"
)

func testConfig(batches ...config.Batch) *config.Config {
	cfg := config.DefaultConfig()
	cfg.CollectFailures = true
	for i := range batches {
		if batches[i].Threads == 0 {
			batches[i].Threads = 1
		}
	}
	cfg.Batches = batches
	return cfg
}

func newTestEngine(t *testing.T, cfg *config.Config, opts ...EngineOption) *Engine {
	t.Helper()
	clock := testutil.NewSteppingClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), time.Second)
	base := []EngineOption{
		WithLogger(testutil.DiscardLogger()),
		WithRunIDGenerator(NewFixedGenerator("run-1")),
		WithNow(clock.Now),
	}
	e, err := New(cfg, append(base, opts...)...)
	require.NoError(t, err)
	return e
}

func pass(description string) Step {
	return Step{Text: description, Run: func(_ context.Context, tc *TestCase) error {
		return tc.Pass(description)
	}}
}

func fail(description string, opts ...softassert.ErrorOption) Step {
	return Step{Text: description, Run: func(_ context.Context, tc *TestCase) error {
		return tc.Fail(description, opts...)
	}}
}

func counted(text string, n *atomic.Int32) Step {
	return Step{Text: text, Run: func(context.Context, *TestCase) error {
		n.Add(1)
		return nil
	}}
}

func stepStatuses(s tree.Snapshot) []string {
	out := make([]string, len(s.Children))
	for i, c := range s.Children {
		out[i] = c.Status
	}
	return out
}

func journalKinds(entries []JournalEntry, kind string) []JournalEntry {
	var out []JournalEntry
	for _, e := range entries {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func TestEngine_KnownIssueThenFailureFailsFast(t *testing.T) {
	cfg := testConfig()
	cfg.FailTestCaseFast = true
	e := newTestEngine(t, cfg)

	var reached atomic.Int32
	story := &Story{Path: "checkout.story", Scenarios: []Scenario{{
		Title: "pay by card",
		Steps: []Step{
			pass("page opened"),
			fail("banner missing", softassert.WithKnownIssue(softassert.KnownIssue{ID: "SHOP-12"})),
			fail("total is wrong"),
			counted("receipt printed", &reached),
		},
	}}}

	res, err := e.Run(context.Background(), []*Story{story})
	require.NoError(t, err)

	assert.Equal(t, status.Failed, res.Status)
	assert.True(t, res.Observed)
	assert.Equal(t, status.ExitFailed, res.ExitCode)
	assert.Zero(t, reached.Load(), "fail-fast must stop the scenario")

	require.Len(t, res.Stories, 1)
	scenario := res.Stories[0].Tree.Children[0]
	assert.Equal(t, "FAILED", scenario.Status)
	assert.Equal(t, []string{"PASSED", "KNOWN_ISSUES_ONLY", "FAILED", "SKIPPED"}, stepStatuses(scenario))

	assert.Len(t, journalKinds(res.Journal, EntryVerification), 1)
	failures := journalKinds(res.Journal, EntryFailure)
	require.Len(t, failures, 2)
	verification := journalKinds(res.Journal, EntryVerification)[0]
	assert.Less(t, failures[1].Seq, verification.Seq, "subscribers see the failure before the verification")
	assert.Equal(t, "pay by card", verification.Scenario)
	assert.Equal(t, "checkout.story", verification.Story)
}

func TestEngine_SoftFailuresVerifiedAtEndOfScenario(t *testing.T) {
	e := newTestEngine(t, testConfig())

	var reached atomic.Int32
	story := &Story{Path: "a.story", Scenarios: []Scenario{{
		Title: "collects",
		Steps: []Step{fail("first"), fail("second"), counted("third", &reached)},
	}}}

	res, err := e.Run(context.Background(), []*Story{story})
	require.NoError(t, err)

	assert.Equal(t, int32(1), reached.Load(), "soft failures do not stop the scenario")
	assert.Equal(t, status.Failed, res.Status)
	assert.Empty(t, journalKinds(res.Journal, EntryVerification))
	assert.Equal(t, []string{"FAILED", "FAILED", "PASSED"}, stepStatuses(res.Stories[0].Tree.Children[0]))
	assert.Equal(t, int64(1), res.Statistics["scenario"].Failed)
	assert.Equal(t, int64(2), res.Statistics["step"].Failed)
}

func TestEngine_KnownIssuesOnlyRun(t *testing.T) {
	cfg := testConfig()
	cfg.KnownIssues = []softassert.KnownIssuePattern{{
		KnownIssue: softassert.KnownIssue{ID: "SHOP-7"},
		Pattern:    "^price .*",
	}}
	e := newTestEngine(t, cfg)

	story := &Story{Path: "a.story", Scenarios: []Scenario{{
		Title: "prices",
		Steps: []Step{pass("open"), fail("price differs")},
	}}}
	res, err := e.Run(context.Background(), []*Story{story})
	require.NoError(t, err)

	assert.Equal(t, status.KnownIssuesOnly, res.Status)
	assert.Equal(t, status.ExitKnownIssues, res.ExitCode)
	assert.Equal(t, "KNOWN_ISSUES_ONLY", res.Stories[0].Status.String())
}

func TestEngine_PendingStepStopsScenario(t *testing.T) {
	e := newTestEngine(t, testConfig())

	var reached atomic.Int32
	story := &Story{Path: "a.story", Scenarios: []Scenario{{
		Title: "todo",
		Steps: []Step{
			{Text: "not written", Run: func(context.Context, *TestCase) error { return ErrPending }},
			counted("after", &reached),
		},
	}}}
	res, err := e.Run(context.Background(), []*Story{story})
	require.NoError(t, err)

	assert.Zero(t, reached.Load())
	assert.Equal(t, status.Pending, res.Status)
	assert.Equal(t, []string{"PENDING", "SKIPPED"}, stepStatuses(res.Stories[0].Tree.Children[0]))
}

func TestEngine_IgnorableStepContinues(t *testing.T) {
	e := newTestEngine(t, testConfig())

	var reached atomic.Int32
	story := &Story{Path: "a.story", Scenarios: []Scenario{{
		Title: "optional",
		Steps: []Step{
			{Text: "optional", Run: func(context.Context, *TestCase) error { return fmt.Errorf("skip: %w", ErrIgnorable) }},
			counted("after", &reached),
		},
	}}}
	res, err := e.Run(context.Background(), []*Story{story})
	require.NoError(t, err)

	assert.Equal(t, int32(1), reached.Load())
	assert.Equal(t, []string{"SKIPPED", "PASSED"}, stepStatuses(res.Stories[0].Tree.Children[0]))
}

func TestEngine_StepPanicIsBroken(t *testing.T) {
	e := newTestEngine(t, testConfig(config.Batch{ID: "b1"}))

	story := &Story{Path: "a.story", Scenarios: []Scenario{{
		Title: "explodes",
		Steps: []Step{{Text: "boom", Run: func(context.Context, *TestCase) error { panic("nil map") }}},
	}}}
	res, err := e.Run(context.Background(), []*Story{story})
	require.NoError(t, err)

	assert.Equal(t, status.Broken, res.Status)
	require.Len(t, res.Failures, 1)
	assert.Contains(t, res.Failures[0].Message, "step panicked: nil map")
	assert.Contains(t, res.Failures[0].Message, "story=a.story")
}

func TestEngine_NestedStepFailureSkipsSiblings(t *testing.T) {
	e := newTestEngine(t, testConfig())

	var reached atomic.Int32
	story := &Story{Path: "a.story", Scenarios: []Scenario{{
		Title: "composite",
		Steps: []Step{{
			Text: "log in",
			Steps: []Step{
				{Text: "type password", Run: func(context.Context, *TestCase) error { return errors.New("no field") }},
				counted("submit", &reached),
			},
		}, counted("after", &reached)},
	}}}
	res, err := e.Run(context.Background(), []*Story{story})
	require.NoError(t, err)

	assert.Zero(t, reached.Load())
	scenario := res.Stories[0].Tree.Children[0]
	assert.Equal(t, []string{"BROKEN", "SKIPPED"}, stepStatuses(scenario))
	assert.Equal(t, []string{"BROKEN", "SKIPPED"}, stepStatuses(scenario.Children[0]))
	assert.Equal(t, int64(3), res.Statistics["step"].Total, "wrapping steps are not counted")
}

func TestEngine_FailStoryFastSkipsRemainingScenarios(t *testing.T) {
	tests := []struct {
		name          string
		failStoryFast bool
		wantReached   int32
		wantSecond    string
	}{
		{name: "reset between scenarios", failStoryFast: false, wantReached: 1, wantSecond: "PASSED"},
		{name: "fail story fast", failStoryFast: true, wantReached: 0, wantSecond: "SKIPPED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, testConfig(config.Batch{ID: "b1", FailStoryFast: tt.failStoryFast}))

			var reached atomic.Int32
			story := &Story{Path: "a.story", Scenarios: []Scenario{
				{Title: "first", Steps: []Step{{Text: "boom", Run: func(context.Context, *TestCase) error {
					return errors.New("boom")
				}}}},
				{Title: "second", Steps: []Step{counted("runs", &reached)}},
			}}
			res, err := e.Run(context.Background(), []*Story{story})
			require.NoError(t, err)

			assert.Equal(t, tt.wantReached, reached.Load())
			assert.Equal(t, tt.wantSecond, res.Stories[0].Tree.Children[1].Status)
		})
	}
}

func TestEngine_SuiteFastFailureAbortsStory(t *testing.T) {
	e := newTestEngine(t, testConfig(config.Batch{ID: "b1"}))

	var reached atomic.Int32
	story := &Story{Path: "a.story", Scenarios: []Scenario{
		{Title: "first", Steps: []Step{fail("db down", softassert.WithFailTestSuiteFast())}},
		{Title: "second", Steps: []Step{counted("runs", &reached)}},
	}}
	res, err := e.Run(context.Background(), []*Story{story})
	require.NoError(t, err)

	assert.Zero(t, reached.Load())
	aborts := journalKinds(res.Journal, EntryStoryAbort)
	require.Len(t, aborts, 1)
	assert.Equal(t, "b1", aborts[0].Batch)
	assert.Equal(t, []string{"FAILED", "SKIPPED"}, stepStatuses(res.Stories[0].Tree))
}

func TestEngine_SuiteFastFailureInGivenStoryAbortsOwner(t *testing.T) {
	e := newTestEngine(t, testConfig(config.Batch{ID: "b1"}))

	var reached atomic.Int32
	login := &Story{Path: "login.story", Scenarios: []Scenario{{
		Title: "log in", Steps: []Step{fail("login page down", softassert.WithFailTestSuiteFast())},
	}}}
	story := &Story{Path: "cart.story", GivenStories: []*Story{login}, Scenarios: []Scenario{
		{Title: "add", Steps: []Step{counted("add", &reached)}},
		{Title: "remove", Steps: []Step{counted("remove", &reached)}},
	}}
	res, err := e.Run(context.Background(), []*Story{story})
	require.NoError(t, err)

	assert.Zero(t, reached.Load(), "owning story must not continue after the abort")
	assert.Len(t, journalKinds(res.Journal, EntryStoryAbort), 1)
	assert.Equal(t, []string{"FAILED", "SKIPPED", "SKIPPED"}, stepStatuses(res.Stories[0].Tree))

	scenarios := res.Statistics["scenario"]
	assert.Equal(t, int64(1), scenarios.Failed)
	assert.Equal(t, int64(2), scenarios.Skipped)
	assert.Zero(t, scenarios.Passed)
	assert.Equal(t, status.Failed, res.Status)
}

func TestEngine_ResetClearsEarlierFailure(t *testing.T) {
	e := newTestEngine(t, testConfig(config.Batch{ID: "b1"}))

	var reached atomic.Int32
	story := &Story{Path: "a.story", Scenarios: []Scenario{
		{Title: "first", Steps: []Step{fail("soft")}},
		{Title: "second", Steps: []Step{counted("runs", &reached)}},
		{Title: "third", Steps: []Step{counted("runs", &reached)}},
	}}
	res, err := e.Run(context.Background(), []*Story{story})
	require.NoError(t, err)

	assert.Equal(t, int32(2), reached.Load())
	assert.Equal(t, []string{"FAILED", "PASSED", "PASSED"}, stepStatuses(res.Stories[0].Tree))
}

func TestEngine_DroppedHardErrorStopsScenario(t *testing.T) {
	cfg := testConfig()
	cfg.FailTestCaseFast = true
	e := newTestEngine(t, cfg)

	var reached atomic.Int32
	story := &Story{Path: "a.story", Scenarios: []Scenario{{
		Title: "swallows",
		Steps: []Step{
			{Text: "drop", Run: func(_ context.Context, tc *TestCase) error {
				_ = tc.Fail("real")
				return nil
			}},
			counted("after", &reached),
		},
	}}}
	res, err := e.Run(context.Background(), []*Story{story})
	require.NoError(t, err)

	assert.Zero(t, reached.Load())
	scenario := res.Stories[0].Tree.Children[0]
	assert.Equal(t, "FAILED", scenario.Status)
	assert.Equal(t, []string{"FAILED", "SKIPPED"}, stepStatuses(scenario))
	assert.Equal(t, status.Failed, res.Status)
	assert.Equal(t, status.ExitFailed, res.ExitCode)
}

func TestEngine_BatchFailFastSkipsLaterBatches(t *testing.T) {
	e := newTestEngine(t, testConfig(
		config.Batch{ID: "b1", FailFast: true, Stories: []string{"a.story"}},
		config.Batch{ID: "b2", Stories: []string{"b.story"}},
	))

	var reached atomic.Int32
	stories := []*Story{
		{Path: "a.story", Scenarios: []Scenario{{Title: "fails", Steps: []Step{fail("nope")}}}},
		{Path: "b.story", Scenarios: []Scenario{{Title: "never", Steps: []Step{counted("runs", &reached)}}}},
	}
	res, err := e.Run(context.Background(), stories)
	require.NoError(t, err)

	assert.Zero(t, reached.Load())
	assert.Equal(t, []string{"b2"}, res.SkippedBatches)
	require.Len(t, res.Stories, 1)
	assert.Equal(t, "a.story", res.Stories[0].Path)
	assert.Len(t, journalKinds(res.Journal, EntryBatchSkipped), 1)
	assert.Equal(t, int64(1), res.Statistics["batch"].Failed)
}

func TestEngine_BatchFailTestCaseFastOverride(t *testing.T) {
	on := true
	e := newTestEngine(t, testConfig(config.Batch{ID: "strict", FailTestCaseFast: &on}))

	var reached atomic.Int32
	story := &Story{Path: "a.story", Scenarios: []Scenario{{
		Title: "strict",
		Steps: []Step{fail("first"), counted("after", &reached)},
	}}}
	res, err := e.Run(context.Background(), []*Story{story})
	require.NoError(t, err)

	assert.Zero(t, reached.Load())
	assert.Len(t, journalKinds(res.Journal, EntryVerification), 1)
}

func TestEngine_ScopeOverrideFromStep(t *testing.T) {
	e := newTestEngine(t, testConfig())

	var reached atomic.Int32
	story := &Story{Path: "a.story", Scenarios: []Scenario{{
		Title: "opt in",
		Steps: []Step{
			{Text: "enable", Run: func(_ context.Context, tc *TestCase) error {
				tc.EnableFailFast()
				return nil
			}},
			fail("first"),
			counted("after", &reached),
		},
	}}}
	_, err := e.Run(context.Background(), []*Story{story})
	require.NoError(t, err)
	assert.Zero(t, reached.Load())
	assert.False(t, e.Defaults().FailTestCaseFast(), "step overrides never leak into the default")
}

func TestEngine_ConcurrentStoriesKeepOrderAndCounts(t *testing.T) {
	e := newTestEngine(t, testConfig(config.Batch{ID: "b1", Threads: 4}))

	const n = 16
	stories := make([]*Story, n)
	for i := range stories {
		stories[i] = &Story{
			Path: fmt.Sprintf("s%02d.story", i),
			Scenarios: []Scenario{
				{Title: "one", Steps: []Step{pass("a"), pass("b")}},
				{Title: "two", Steps: []Step{pass("c")}},
			},
		}
	}
	res, err := e.Run(context.Background(), stories)
	require.NoError(t, err)

	require.Len(t, res.Stories, n)
	for i, s := range res.Stories {
		assert.Equal(t, fmt.Sprintf("s%02d.story", i), s.Path)
	}
	assert.Equal(t, int64(n), res.Statistics["story"].Passed)
	assert.Equal(t, int64(2*n), res.Statistics["scenario"].Passed)
	assert.Equal(t, int64(3*n), res.Statistics["step"].Passed)
	assert.Equal(t, status.ExitPassed, res.ExitCode)
}

func TestEngine_GivenStoryNestsUnderStory(t *testing.T) {
	e := newTestEngine(t, testConfig())

	login := &Story{Path: "login.story", Scenarios: []Scenario{{Title: "log in", Steps: []Step{pass("log in")}}}}
	story := &Story{Path: "cart.story", GivenStories: []*Story{login}, Scenarios: []Scenario{{
		Title: "add", Steps: []Step{pass("add")},
	}}}
	res, err := e.Run(context.Background(), []*Story{story})
	require.NoError(t, err)

	root := res.Stories[0].Tree
	require.Len(t, root.Children, 2)
	assert.Equal(t, tree.LevelStory, root.Children[0].Level)
	assert.Equal(t, "login.story", root.Children[0].Title)
	assert.Equal(t, int64(2), res.Statistics["story"].Passed)
}

func TestEngine_ExcludedScenarioOnlyRun(t *testing.T) {
	e := newTestEngine(t, testConfig())

	story := &Story{Path: "a.story", Scenarios: []Scenario{{Title: "filtered", Excluded: true}}}
	res, err := e.Run(context.Background(), []*Story{story})
	require.NoError(t, err)

	assert.Equal(t, status.Skipped, res.Status)
	assert.Equal(t, status.ExitFailed, res.ExitCode)
}

func TestEngine_EmptyRunFails(t *testing.T) {
	e := newTestEngine(t, testConfig())

	res, err := e.Run(context.Background(), nil)
	require.NoError(t, err)

	assert.False(t, res.Observed)
	assert.Equal(t, status.ExitFailed, res.ExitCode)
}

func TestEngine_UnknownStory(t *testing.T) {
	e := newTestEngine(t, testConfig(config.Batch{ID: "b1", Stories: []string{"missing.story"}}))

	res, err := e.Run(context.Background(), []*Story{{Path: "a.story"}})
	require.Error(t, err)
	assert.True(t, IsUnknownStoryError(err))
	assert.Contains(t, err.Error(), "missing.story")
	require.NotNil(t, res)
	assert.Empty(t, res.Stories)
}

func TestEngine_RunsOnce(t *testing.T) {
	e := newTestEngine(t, testConfig())

	_, err := e.Run(context.Background(), nil)
	require.NoError(t, err)

	_, err = e.Run(context.Background(), nil)
	var re *RunError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ErrCodeAlreadyRun, re.Code)
}

func TestEngine_InvalidKnownIssuePattern(t *testing.T) {
	cfg := testConfig()
	cfg.KnownIssues = []softassert.KnownIssuePattern{{KnownIssue: softassert.KnownIssue{ID: "X-1"}, Pattern: "("}}

	_, err := New(cfg)
	var re *RunError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ErrCodeKnownIssues, re.Code)
}

func TestEngine_ExportsMetrics(t *testing.T) {
	cfg := testConfig()
	cfg.FailTestCaseFast = true
	m := metrics.New()
	e := newTestEngine(t, cfg, WithMetrics(m))

	story := &Story{Path: "a.story", Scenarios: []Scenario{{Title: "s", Steps: []Step{pass("ok"), fail("bad")}}}}
	res, err := e.Run(context.Background(), []*Story{story})
	require.NoError(t, err)
	require.Equal(t, time.Second, res.Duration)

	expected := `
# HELP verdict_verification_triggers_total Fail-fast verifications triggered mid test case.
# TYPE verdict_verification_triggers_total counter
verdict_verification_triggers_total 1
# HELP verdict_run_duration_seconds Wall-clock duration of the last finished run.
# TYPE verdict_run_duration_seconds gauge
verdict_run_duration_seconds 1
`
	require.NoError(t, promtest.GatherAndCompare(m.Registry(), strings.NewReader(expected),
		"verdict_verification_triggers_total", "verdict_run_duration_seconds"))

	// batch, story and scenario failed; one step passed, one failed
	series, err := promtest.GatherAndCount(m.Registry(), "verdict_nodes_total")
	require.NoError(t, err)
	assert.Equal(t, 5, series)
}

func TestEngine_WritesStatisticsFile(t *testing.T) {
	cfg := testConfig()
	cfg.StatisticsDir = t.TempDir()
	e := newTestEngine(t, cfg)

	story := &Story{Path: "a.story", Scenarios: []Scenario{{Title: "s", Steps: []Step{pass("ok")}}}}
	res, err := e.Run(context.Background(), []*Story{story})
	require.NoError(t, err)
	require.NotEmpty(t, res.StatisticsPath)

	stats, err := report.ReadStatistics(res.StatisticsPath)
	require.NoError(t, err)
	assert.Equal(t, res.Statistics, stats)
	assert.Equal(t, int64(1), stats["story"].Passed)
}

func TestEngine_NilConfigWritesNoStatistics(t *testing.T) {
	t.Chdir(t.TempDir())
	e := newTestEngine(t, nil)

	story := &Story{Path: "a.story", Scenarios: []Scenario{{Title: "s", Steps: []Step{pass("ok")}}}}
	res, err := e.Run(context.Background(), []*Story{story})
	require.NoError(t, err)

	assert.Empty(t, res.StatisticsPath)
	assert.NoDirExists(t, config.DefaultStatisticsDir)
}

func TestResult_Summary(t *testing.T) {
	e := newTestEngine(t, testConfig())
	res, err := e.Run(context.Background(), []*Story{{
		Path:      "a.story",
		Scenarios: []Scenario{{Title: "s", Steps: []Step{pass("ok")}}},
	}})
	require.NoError(t, err)

	s := res.Summary()
	assert.Equal(t, "run-1", s.RunID)
	assert.Equal(t, status.Passed, s.Status)
	assert.Equal(t, status.ExitPassed, s.ExitCode)
	assert.Equal(t, res.Statistics, s.Statistics)
}
