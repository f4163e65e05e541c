// Package runctx carries the identity of the running batch, story and
// scenario through context.Context.
//
// Identity is per task, never process-global: concurrently running stories
// each see their own values. Lookups are read-only.
package runctx

import (
	"context"
	"sync/atomic"
)

type (
	batchKey    struct{}
	storyKey    struct{}
	scenarioKey struct{}
)

// WithBatch returns a context whose running batch is id.
func WithBatch(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, batchKey{}, id)
}

// Batch returns the running batch identifier, or "" outside a batch.
func Batch(ctx context.Context) string {
	id, _ := ctx.Value(batchKey{}).(string)
	return id
}

// WithStory returns a context whose running story is s.
func WithStory(ctx context.Context, s *Story) context.Context {
	return context.WithValue(ctx, storyKey{}, s)
}

// StoryFrom returns the running story, if any.
func StoryFrom(ctx context.Context) (*Story, bool) {
	s, ok := ctx.Value(storyKey{}).(*Story)
	return s, ok && s != nil
}

// WithScenario returns a context whose running scenario (test case) is title.
func WithScenario(ctx context.Context, title string) context.Context {
	return context.WithValue(ctx, scenarioKey{}, title)
}

// Scenario returns the running scenario title, or "" outside a scenario.
func Scenario(ctx context.Context) string {
	title, _ := ctx.Value(scenarioKey{}).(string)
	return title
}

// Story identifies a running story and owns its run-time controls.
type Story struct {
	Path     string
	Controls *StoryControls

	raised atomic.Bool
}

// MarkScenarioRaised records that a test case of the story, including one of
// its given stories, ended with a hard error.
func (s *Story) MarkScenarioRaised() {
	s.raised.Store(true)
}

// ScenarioRaised reports whether a test case raised since the last reset.
func (s *Story) ScenarioRaised() bool {
	return s.raised.Load()
}

// ResetScenarioRaised clears the raised state once the runner resets state
// between test cases.
func (s *Story) ResetScenarioRaised() {
	s.raised.Store(false)
}

// Stopped reports whether the remaining test cases must not run: one raised
// and the story no longer resets state before the next.
func (s *Story) Stopped() bool {
	return s.ScenarioRaised() && !s.Controls.ResetStateBeforeScenario()
}

// NewStory creates a story whose controls reset state between test cases.
func NewStory(path string) *Story {
	return &Story{Path: path, Controls: NewStoryControls()}
}

// StoryControls are the runner switches one story exposes to the core.
//
// Thread-safety: safe for concurrent use.
type StoryControls struct {
	noReset atomic.Bool
}

// NewStoryControls creates controls with reset-before-test-case enabled.
func NewStoryControls() *StoryControls {
	return &StoryControls{}
}

// ResetStateBeforeScenario reports whether the runner should reset state and
// keep going with the next test case after a failure.
func (c *StoryControls) ResetStateBeforeScenario() bool {
	return !c.noReset.Load()
}

// SetResetStateBeforeScenario sets the reset control.
func (c *StoryControls) SetResetStateBeforeScenario(reset bool) {
	c.noReset.Store(!reset)
}
