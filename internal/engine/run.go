package engine

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/verdict/internal/config"
	"github.com/roach88/verdict/internal/runctx"
	"github.com/roach88/verdict/internal/status"
	"github.com/roach88/verdict/internal/tree"
)

// Run executes stories batch by batch and returns the run result.
//
// Each configured batch selects its stories by path; a batch without story
// paths runs every story. The returned error reports engine misuse or
// cancellation; test failures are reported in the Result.
func (e *Engine) Run(ctx context.Context, stories []*Story) (*Result, error) {
	if !e.ran.CompareAndSwap(false, true) {
		return nil, &RunError{Code: ErrCodeAlreadyRun, Message: "an engine executes exactly one run"}
	}

	result := &Result{RunID: e.runIDGen.Generate(), StartedAt: e.now()}
	batches := e.cfg.Batches
	if len(batches) == 0 {
		batches = config.Batches{{ID: config.DefaultBatchID, Threads: 1}}
	}
	e.logger.Info("run starting", "run_id", result.RunID, "batches", len(batches), "stories", len(stories))

	var runErr error
	stopAfter := ""
	for order, batch := range batches {
		if stopAfter != "" {
			e.skipBatch(ctx, batch, stopAfter)
			continue
		}
		selected, err := selectStories(batch, stories)
		if err != nil {
			runErr = err
			break
		}
		st, err := e.runBatch(ctx, order, batch, selected)
		if err != nil {
			runErr = err
			break
		}
		if batch.FailFast && failing(st) {
			stopAfter = batch.ID
			e.logger.Info("batch failed fast, skipping remaining batches", "batch", batch.ID, "status", st.String())
		}
	}

	e.finish(ctx, result)
	return result, runErr
}

func (e *Engine) skipBatch(ctx context.Context, batch config.Batch, after string) {
	e.mu.Lock()
	e.skipped = append(e.skipped, batch.ID)
	e.mu.Unlock()
	e.journal.record(runctx.WithBatch(ctx, batch.ID), EntryBatchSkipped, "after failed batch "+after)
	e.logger.Info("batch skipped", "batch", batch.ID, "after", after)
}

func selectStories(batch config.Batch, all []*Story) ([]*Story, error) {
	if len(batch.Stories) == 0 {
		return all, nil
	}
	byPath := make(map[string]*Story, len(all))
	for _, s := range all {
		byPath[s.Path] = s
	}
	selected := make([]*Story, 0, len(batch.Stories))
	for _, path := range batch.Stories {
		s, ok := byPath[path]
		if !ok {
			return nil, &RunError{
				Code:    ErrCodeUnknownStory,
				Message: fmt.Sprintf("story %q is not defined", path),
				Batch:   batch.ID,
				Story:   path,
			}
		}
		selected = append(selected, s)
	}
	return selected, nil
}

// runBatch runs the batch's stories concurrently, at most batch.Threads at a
// time, and counts the batch node with the worst story status.
func (e *Engine) runBatch(ctx context.Context, order int, batch config.Batch, stories []*Story) (status.Status, error) {
	ctx = runctx.WithBatch(ctx, batch.ID)
	e.logger.Info("batch starting", "batch", batch.ID, "stories", len(stories), "threads", batch.Threads)

	var acc status.Accumulator
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(batch.Threads, 1))
	for i, story := range stories {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			st := e.runStory(gctx, order, i, batch, story)
			acc.Observe(st)
			return nil
		})
	}
	err := g.Wait()

	st, ok := acc.Status()
	if !ok {
		st = status.NotCovered
	}
	e.stats.Record(tree.LevelBatch, st)
	e.journal.record(ctx, EntryBatchEnd, st.String())
	e.logger.Info("batch finished", "batch", batch.ID, "status", st.String())
	return st, err
}

// runStory runs one top-level story in its own tree.
func (e *Engine) runStory(ctx context.Context, order, index int, batch config.Batch, story *Story) status.Status {
	rs := runctx.NewStory(story.Path)
	rs.Controls.SetResetStateBeforeScenario(!batch.FailStoryFast)
	ctx = runctx.WithStory(ctx, rs)
	ctx = e.recorder.BeforeStory(ctx, story.Path)
	e.logger.Debug("story starting", "batch", batch.ID, "story", story.Path)

	e.runStoryBody(ctx, rs, story)

	t, _ := e.recorder.AfterStory(ctx)
	snap := t.Snapshot(0)
	st := t.Node(0).Status
	e.journal.record(ctx, EntryStoryEnd, st.String())
	e.addStory(StoryResult{
		Batch:      batch.ID,
		BatchOrder: order,
		Index:      index,
		Path:       story.Path,
		Status:     st,
		Tree:       snap,
	})
	return st
}

// runStoryBody runs given stories and scenarios of story inside the
// currently open story node. Once a test case of the story, given stories
// included, raised while the story no longer resets state between test
// cases, the remaining scenarios are reported without running.
func (e *Engine) runStoryBody(ctx context.Context, rs *runctx.Story, story *Story) {
	for _, given := range story.GivenStories {
		e.runGivenStory(ctx, rs, given)
	}

	for _, sc := range story.Scenarios {
		switch {
		case sc.Excluded:
			e.recorder.ScenarioExcluded(ctx)
		case rs.Stopped():
			e.logger.Debug("scenario skipped after failed test case", "story", rs.Path, "scenario", sc.Title)
			e.skipScenario(ctx, sc)
		default:
			if rs.Controls.ResetStateBeforeScenario() {
				rs.ResetScenarioRaised()
			}
			if e.runScenario(ctx, rs, sc) {
				rs.MarkScenarioRaised()
				if rs.Stopped() {
					e.logger.Info("story stopped after failed scenario", "story", rs.Path, "scenario", sc.Title)
				}
			}
		}
	}
}

func (e *Engine) runGivenStory(ctx context.Context, rs *runctx.Story, given *Story) {
	ctx = e.recorder.BeforeStory(ctx, given.Path)
	e.runStoryBody(ctx, rs, given)
	e.recorder.AfterStory(ctx)
}

// runScenario runs sc as one test case and reports whether a hard error
// ended it.
func (e *Engine) runScenario(ctx context.Context, rs *runctx.Story, sc Scenario) (raised bool) {
	ctx = runctx.WithScenario(ctx, sc.Title)
	tc := e.OpenTestCase(ctx)
	defer tc.Close()
	ctx = tc.Context()

	e.recorder.BeforeScenario(ctx, sc.Title, len(sc.Steps))
	for _, given := range sc.GivenStories {
		e.runGivenStory(ctx, rs, given)
	}

	stopped := false
	for _, step := range sc.Steps {
		if stopped {
			e.notPerformed(ctx, step)
			continue
		}
		stopped = e.runStep(ctx, tc, step)
		raised = raised || stopped
	}

	if err := tc.Verify(); err != nil {
		e.recorder.Failed(ctx, err)
		raised = true
	}

	st := e.recorder.AfterScenario(ctx)
	e.journal.record(ctx, EntryScenarioEnd, st.String())
	return raised
}

// skipScenario reports every step of sc as not performed.
func (e *Engine) skipScenario(ctx context.Context, sc Scenario) {
	ctx = runctx.WithScenario(ctx, sc.Title)
	e.recorder.BeforeScenario(ctx, sc.Title, len(sc.Steps))
	for _, step := range sc.Steps {
		e.notPerformed(ctx, step)
	}
	st := e.recorder.AfterScenario(ctx)
	e.journal.record(ctx, EntryScenarioEnd, st.String())
}

func (e *Engine) notPerformed(ctx context.Context, step Step) {
	e.recorder.BeforeStep(ctx, step.Text)
	e.recorder.NotPerformed(ctx)
}

// runStep runs step (and its nested steps) and reports whether the
// scenario must stop.
func (e *Engine) runStep(ctx context.Context, tc *TestCase, step Step) (stop bool) {
	e.recorder.BeforeStep(ctx, step.Text)

	for _, nested := range step.Steps {
		if stop {
			e.notPerformed(ctx, nested)
			continue
		}
		stop = e.runStep(ctx, tc, nested)
	}
	if stop {
		// nested failure already recorded; the wrapper resolves from its children
		e.recorder.Successful(ctx)
		return true
	}

	err := e.invoke(ctx, tc, step)
	if raised := tc.takeRaised(); raised != nil && (err == nil || errors.Is(err, ErrIgnorable) || errors.Is(err, ErrPending)) {
		e.logger.Debug("step dropped a hard error", "step", step.Text, "error", raised)
		err = raised
	}
	switch {
	case err == nil:
		e.recorder.Successful(ctx)
		return false
	case errors.Is(err, ErrIgnorable):
		e.recorder.Ignorable(ctx)
		return false
	case errors.Is(err, ErrPending):
		e.recorder.Pending(ctx)
		return true
	default:
		e.logger.Debug("step failed", "step", step.Text, "error", err)
		e.recorder.Failed(ctx, err)
		return true
	}
}

func (e *Engine) invoke(ctx context.Context, tc *TestCase, step Step) (err error) {
	if step.Run == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			story := ""
			if s, ok := runctx.StoryFrom(ctx); ok {
				story = s.Path
			}
			err = NewStepPanicError(runctx.Batch(ctx), story, r)
		}
	}()
	return step.Run(ctx, tc)
}

// failing reports whether s counts as a failed batch for batch fail-fast.
func failing(s status.Status) bool {
	return s == status.Broken || s == status.Failed
}
