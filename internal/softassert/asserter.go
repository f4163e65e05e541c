package softassert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/roach88/verdict/internal/eventbus"
)

// ErrNoTestCase is returned when an assertion is recorded outside a test case.
var ErrNoTestCase = errors.New("no test case in context: soft assertions need an active collection")

// Asserter records soft assertions into the current test case's Collection
// and publishes the matching events.
//
// Recording a failure publishes a FailureNotification synchronously. Any hard
// error raised by subscribers while handling it (a VerificationError from a
// fail-fast verification) is returned to the caller, which must stop
// executing the current step.
//
// Thread-safety: Asserter is stateless apart from its collaborators and safe
// for concurrent use by independent test cases.
type Asserter struct {
	bus     *eventbus.Bus
	checker KnownIssueChecker
	logger  *slog.Logger
}

// AsserterOption configures an Asserter.
type AsserterOption func(*Asserter)

// WithKnownIssueChecker attaches known issues to failures by description.
func WithKnownIssueChecker(c KnownIssueChecker) AsserterOption {
	return func(a *Asserter) { a.checker = c }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) AsserterOption {
	return func(a *Asserter) { a.logger = l }
}

// NewAsserter creates an Asserter publishing on bus and subscribes it to
// VerificationTrigger events.
func NewAsserter(bus *eventbus.Bus, opts ...AsserterOption) *Asserter {
	a := &Asserter{
		bus:    bus,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	eventbus.Subscribe(bus, a.onVerificationTrigger)
	return a
}

// RecordPassed records a passed assertion.
func (a *Asserter) RecordPassed(ctx context.Context, description string) error {
	c, ok := CollectionFrom(ctx)
	if !ok {
		return ErrNoTestCase
	}
	a.logger.Info("soft assertion passed", "description", description)
	c.addPassed()
	return a.bus.Publish(ctx, AssertionPassed{Description: description})
}

// RecordFailed records a failed assertion with the given description.
func (a *Asserter) RecordFailed(ctx context.Context, description string, opts ...ErrorOption) error {
	return a.RecordError(ctx, description, nil, opts...)
}

// RecordError records a failed assertion caused by err.
// An empty description falls back to err's message.
func (a *Asserter) RecordError(ctx context.Context, description string, cause error, opts ...ErrorOption) error {
	c, ok := CollectionFrom(ctx)
	if !ok {
		return ErrNoTestCase
	}
	if description == "" && cause != nil {
		description = cause.Error()
	}

	if a.checker != nil {
		if issue, found := a.checker.KnownIssue(description); found {
			opts = append([]ErrorOption{WithKnownIssue(issue)}, opts...)
		}
	}

	se := NewSoftAssertionError(&AssertionError{Message: description, Cause: cause}, opts...)
	attrs := []any{"description", description}
	if ki := se.knownIssue; ki != nil {
		attrs = append(attrs, "known_issue", ki.ID, "potentially_known", ki.PotentiallyKnown)
	}
	a.logger.Error("soft assertion failed", attrs...)

	c.addFailed(se)
	return a.bus.Publish(ctx, NewFailureNotification(se))
}

// AssertTrue records a passed assertion when condition holds and a failed
// one otherwise. The returned bool is the condition.
func (a *Asserter) AssertTrue(ctx context.Context, description string, condition bool, opts ...ErrorOption) (bool, error) {
	if condition {
		return true, a.RecordPassed(ctx, format(description, "The condition is true"))
	}
	return false, a.RecordFailed(ctx, format(description, "The condition is false"), opts...)
}

// AssertEquals compares expected and actual with reflect.DeepEqual.
func (a *Asserter) AssertEquals(ctx context.Context, description string, expected, actual any, opts ...ErrorOption) (bool, error) {
	detail := fmt.Sprintf("Expected: <%v> Actual: <%v>", expected, actual)
	if reflect.DeepEqual(expected, actual) {
		return true, a.RecordPassed(ctx, format(description, detail))
	}
	return false, a.RecordFailed(ctx, format(description, detail), opts...)
}

// Verify flushes every outstanding failure of the current test case into a
// single VerificationError. Returns nil when nothing is outstanding.
// Called by the runner at the normal end of a test case.
func (a *Asserter) Verify(ctx context.Context) error {
	c, ok := CollectionFrom(ctx)
	if !ok {
		return ErrNoTestCase
	}
	return a.report(c.flush(false))
}

// onVerificationTrigger flushes the collection only if at least one
// outstanding entry is not a suppressed known issue.
func (a *Asserter) onVerificationTrigger(ctx context.Context, _ VerificationTrigger) error {
	c, ok := CollectionFrom(ctx)
	if !ok {
		return ErrNoTestCase
	}
	return a.report(c.flush(true))
}

func (a *Asserter) report(ve *VerificationError) error {
	if ve == nil {
		a.logger.Debug("verification passed")
		return nil
	}
	a.logger.Error("verification failed",
		"failed", len(ve.Errors),
		"assertions", ve.AssertionsCount,
	)
	return ve
}

// format joins a step-supplied description with the assertion detail.
func format(description, detail string) string {
	switch {
	case description == "":
		return detail
	case detail == "":
		return description
	default:
		return description + " [" + detail + "]"
	}
}
