package tree

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/verdict/internal/eventbus"
	"github.com/roach88/verdict/internal/failfast"
	"github.com/roach88/verdict/internal/runctx"
	"github.com/roach88/verdict/internal/softassert"
	"github.com/roach88/verdict/internal/status"
)

type fixture struct {
	bus      *eventbus.Bus
	stats    *Statistics
	recorder *Recorder
	asserter *softassert.Asserter
	triggers int
}

func newFixture(t *testing.T, failTestCaseFast bool) *fixture {
	t.Helper()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{bus: eventbus.New(), stats: NewStatistics()}
	f.recorder = NewRecorder(f.bus, f.stats, WithFailures(true), WithRecorderLogger(quiet))
	failfast.NewCoordinator(f.bus, nil, failfast.NewDefaults(failTestCaseFast), failfast.WithLogger(quiet))
	eventbus.Subscribe(f.bus, func(context.Context, softassert.VerificationTrigger) error {
		f.triggers++
		return nil
	})
	f.asserter = softassert.NewAsserter(f.bus, softassert.WithLogger(quiet))
	return f
}

func (f *fixture) testCase(ctx context.Context, defaults *failfast.Defaults) context.Context {
	ctx = failfast.WithScope(ctx, failfast.NewScope(runctx.Batch(ctx), nil, defaults))
	return softassert.WithCollection(ctx, softassert.NewCollection())
}

func TestRecorder_KnownIssueThenFailureWithFailFast(t *testing.T) {
	f := newFixture(t, true)
	ctx := f.recorder.BeforeStory(runctx.WithBatch(context.Background(), "b1"), "checkout.story")
	ctx = f.testCase(ctx, failfast.NewDefaults(true))

	f.recorder.BeforeScenario(ctx, "pay by card", 3)

	f.recorder.BeforeStep(ctx, "step 1")
	require.NoError(t, f.asserter.RecordPassed(ctx, "page opened"))
	f.recorder.Successful(ctx)

	f.recorder.BeforeStep(ctx, "step 2")
	require.NoError(t, f.asserter.RecordFailed(ctx, "banner missing",
		softassert.WithKnownIssue(softassert.KnownIssue{ID: "SHOP-12"})))
	f.recorder.Successful(ctx)
	assert.Zero(t, f.triggers, "open known issue does not trigger")

	step3Finished := false
	f.recorder.BeforeStep(ctx, "step 3")
	err := f.asserter.RecordFailed(ctx, "total mismatch")
	if err == nil {
		step3Finished = true
		f.recorder.Successful(ctx)
	} else {
		f.recorder.Failed(ctx, err)
	}

	assert.False(t, step3Finished, "remaining logic of step 3 does not run")
	assert.Equal(t, 1, f.triggers)
	var ve *softassert.VerificationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Errors, 2, "the hard error bundles every outstanding entry")

	assert.Equal(t, status.Failed, f.recorder.AfterScenario(ctx))
	tr, root := f.recorder.AfterStory(ctx)
	require.True(t, root)

	snap := tr.Snapshot(0)
	assert.Equal(t, "FAILED", snap.Status)
	steps := snap.Children[0].Children
	require.Len(t, steps, 3)
	assert.Equal(t, "PASSED", steps[0].Status)
	assert.Equal(t, "KNOWN_ISSUES_ONLY", steps[1].Status)
	assert.Equal(t, "FAILED", steps[2].Status)

	assert.Equal(t, int64(3), f.stats.Level(LevelStep).Total())
	assert.Equal(t, int64(1), f.stats.Level(LevelScenario).Count(status.Failed))
	assert.Equal(t, int64(1), f.stats.Level(LevelStory).Count(status.Failed))

	overall, ok := f.recorder.Status()
	require.True(t, ok)
	assert.Equal(t, status.Failed, overall)
	assert.Equal(t, status.ExitFailed, f.recorder.ExitCode())

	failures := f.recorder.Failures()
	require.Len(t, failures, 2)
	assert.Equal(t, "checkout.story", failures[0].Story)
}

func TestRecorder_KnownIssuesOnlyRun(t *testing.T) {
	f := newFixture(t, false)
	ctx := f.recorder.BeforeStory(context.Background(), "search.story")
	ctx = f.testCase(ctx, failfast.NewDefaults(false))

	f.recorder.BeforeScenario(ctx, "search", 1)
	f.recorder.BeforeStep(ctx, "When I search")
	require.NoError(t, f.asserter.RecordFailed(ctx, "no results",
		softassert.WithKnownIssue(softassert.KnownIssue{ID: "SRCH-1"})))
	f.recorder.Successful(ctx)

	err := f.asserter.Verify(ctx)
	require.Error(t, err)
	assert.Equal(t, status.KnownIssuesOnly, f.recorder.Failed(ctx, err))
	assert.Equal(t, status.KnownIssuesOnly, f.recorder.AfterScenario(ctx))
	f.recorder.AfterStory(ctx)

	assert.Equal(t, status.ExitKnownIssues, f.recorder.ExitCode())
}

func TestRecorder_DeclaredStepsNotRunIsSkipped(t *testing.T) {
	f := newFixture(t, false)
	ctx := f.recorder.BeforeStory(context.Background(), "empty.story")
	f.recorder.BeforeScenario(ctx, "not run", 4)
	assert.Equal(t, status.Skipped, f.recorder.AfterScenario(ctx))

	f.recorder.BeforeScenario(ctx, "no steps", 0)
	assert.Equal(t, status.Passed, f.recorder.AfterScenario(ctx))
	f.recorder.AfterStory(ctx)

	assert.Equal(t, int64(1), f.stats.Level(LevelScenario).Count(status.Skipped))
	assert.Equal(t, int64(1), f.stats.Level(LevelScenario).Count(status.Passed))

	_, observed := f.recorder.Status()
	assert.False(t, observed)
	assert.Equal(t, status.ExitFailed, f.recorder.ExitCode(), "no observed status fails the run")
}

func TestRecorder_GivenStoryNestsUnderCurrentNode(t *testing.T) {
	f := newFixture(t, false)
	ctx := f.recorder.BeforeStory(context.Background(), "main.story")

	given := f.recorder.BeforeStory(ctx, "precondition.story")
	assert.Equal(t, ctx, given, "given story shares the outer story's context")
	f.recorder.BeforeScenario(ctx, "prepare", 1)
	f.recorder.BeforeStep(ctx, "Given data")
	f.recorder.Pending(ctx)
	f.recorder.AfterScenario(ctx)
	_, root := f.recorder.AfterStory(ctx)
	assert.False(t, root)

	tr, root := f.recorder.AfterStory(ctx)
	require.True(t, root)
	snap := tr.Snapshot(0)
	assert.Equal(t, "PENDING", snap.Status)
	require.Len(t, snap.Children, 1)
	assert.Equal(t, LevelStory, snap.Children[0].Level)
	assert.Equal(t, int64(2), f.stats.Level(LevelStory).Count(status.Pending))
}

func TestRecorder_BrokenStepCollectsFailure(t *testing.T) {
	f := newFixture(t, false)
	ctx := f.recorder.BeforeStory(context.Background(), "api.story")
	f.recorder.BeforeScenario(ctx, "call", 2)
	f.recorder.BeforeStep(ctx, "When I call the API")
	assert.Equal(t, status.Broken, f.recorder.Failed(ctx, errors.New("connection refused")))
	f.recorder.BeforeStep(ctx, "Then status is 200")
	f.recorder.NotPerformed(ctx)
	assert.Equal(t, status.Broken, f.recorder.AfterScenario(ctx))
	f.recorder.AfterStory(ctx)

	assert.Equal(t, []Failure{{Story: "api.story", Message: "connection refused"}}, f.recorder.Failures())
	assert.Equal(t, int64(1), f.stats.Level(LevelStep).Count(status.Skipped))
}

func TestRecorder_OutsideStoryPanics(t *testing.T) {
	f := newFixture(t, false)
	assert.Panics(t, func() { f.recorder.BeforeScenario(context.Background(), "x", 1) })
	assert.Panics(t, func() { f.recorder.Successful(context.Background()) })
}

func TestRecorder_FailuresDisabled(t *testing.T) {
	bus := eventbus.New()
	r := NewRecorder(bus, NewStatistics(), WithRecorderLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	ctx := r.BeforeStory(context.Background(), "s")
	r.BeforeScenario(ctx, "x", 1)
	r.BeforeStep(ctx, "boom")
	r.Failed(ctx, errors.New("boom"))
	assert.Nil(t, r.Failures())
}

func TestRecorder_DroppedHardErrorStillDegradesRun(t *testing.T) {
	f := newFixture(t, true)
	ctx := f.recorder.BeforeStory(context.Background(), "cart.story")
	ctx = f.testCase(ctx, failfast.NewDefaults(true))

	f.recorder.BeforeScenario(ctx, "add item", 1)
	f.recorder.BeforeStep(ctx, "When I add an item")
	err := f.asserter.RecordFailed(ctx, "cart empty")
	require.Error(t, err)
	// the step swallows the hard error and reports success
	f.recorder.Successful(ctx)

	assert.Equal(t, status.Failed, f.recorder.AfterScenario(ctx))
	f.recorder.AfterStory(ctx)

	overall, ok := f.recorder.Status()
	require.True(t, ok)
	assert.Equal(t, status.Failed, overall)
	assert.Equal(t, status.ExitFailed, f.recorder.ExitCode())
}

func TestRecorder_FailureOutsideStoryCountsForRun(t *testing.T) {
	f := newFixture(t, false)
	ctx := f.testCase(context.Background(), failfast.NewDefaults(false))

	require.NoError(t, f.asserter.RecordFailed(ctx, "setup check"))

	overall, ok := f.recorder.Status()
	require.True(t, ok)
	assert.Equal(t, status.Failed, overall)
}
