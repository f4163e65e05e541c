// Package failfast decides whether a soft assertion failure must end the
// current test case, or the rest of its story, immediately.
//
// The Coordinator subscribes to FailureNotification. For each failure it
// evaluates two independent, non-exclusive rules:
//
//  1. Test-case fail-fast: when the test case's policy is enabled and the
//     failure is not a known issue, or when the failure itself demands it,
//     a VerificationTrigger is published. Its handler raises the aggregated
//     hard error, which travels back to the code that recorded the failure.
//  2. Story fail-fast: when the failure demands it, the owning story's
//     "reset state before next test case" control is switched off so the
//     runner does not silently continue the story.
//
// The policy itself is memoized per test case in a Scope.
package failfast

import (
	"context"
	"errors"
	"log/slog"

	"github.com/roach88/verdict/internal/eventbus"
	"github.com/roach88/verdict/internal/runctx"
	"github.com/roach88/verdict/internal/softassert"
)

// StoryAbortRequested is published when a failure demands that the rest of
// its story is not continued.
type StoryAbortRequested struct {
	Batch string
	Story string
	Cause *softassert.SoftAssertionError
}

// Coordinator reacts to failure notifications with fail-fast decisions.
type Coordinator struct {
	bus      *eventbus.Bus
	provider BatchProvider
	defaults *Defaults
	logger   *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// NewCoordinator creates a coordinator and subscribes it to FailureNotification.
//
// provider and defaults are used only when a failure is raised outside a
// test case scope (for example in story-level hooks); within a test case the
// scope's memoized policy applies.
func NewCoordinator(bus *eventbus.Bus, provider BatchProvider, defaults *Defaults, opts ...Option) *Coordinator {
	c := &Coordinator{
		bus:      bus,
		provider: provider,
		defaults: defaults,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	eventbus.Subscribe(bus, c.onFailure)
	return c
}

func (c *Coordinator) onFailure(ctx context.Context, n softassert.FailureNotification) error {
	se := n.SoftAssertionError()
	if se == nil {
		return nil
	}

	var errs []error

	if (c.isFailTestCaseFast(ctx) && !se.IsKnownIssue()) || se.IsFailTestCaseFast() {
		c.logger.Debug("failing test case fast",
			"batch", runctx.Batch(ctx),
			"scenario", runctx.Scenario(ctx),
			"escalated", se.IsFailTestCaseFast(),
		)
		if err := c.bus.Publish(ctx, softassert.VerificationTrigger{Cause: se}); err != nil {
			errs = append(errs, err)
		}
	}

	if se.IsFailTestSuiteFast() {
		abort := StoryAbortRequested{Batch: runctx.Batch(ctx), Cause: se}
		if story, ok := runctx.StoryFrom(ctx); ok {
			story.Controls.SetResetStateBeforeScenario(false)
			abort.Story = story.Path
		}
		c.logger.Info("failing story fast", "batch", abort.Batch, "story", abort.Story)
		if err := c.bus.Publish(ctx, abort); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) == 1 {
		return errs[0]
	}
	return errors.Join(errs...)
}

func (c *Coordinator) isFailTestCaseFast(ctx context.Context) bool {
	if scope, ok := ScopeFrom(ctx); ok && !scope.Closed() {
		return scope.IsFailTestCaseFast()
	}
	return Resolve(runctx.Batch(ctx), c.provider, c.defaults)
}
