package engine

import (
	"context"

	"github.com/roach88/verdict/internal/failfast"
	"github.com/roach88/verdict/internal/runctx"
	"github.com/roach88/verdict/internal/softassert"
)

// TestCase is the scope of one running scenario. Steps use it to record
// soft assertions and to adjust the fail-fast policy for the rest of the
// test case.
//
// A TestCase belongs to its scenario's goroutine.
type TestCase struct {
	ctx        context.Context
	scope      *failfast.Scope
	collection *softassert.Collection
	asserter   *softassert.Asserter

	// raised is the first hard error produced since the last takeRaised.
	raised error
}

// OpenTestCase starts a test case in ctx's batch. The returned TestCase's
// Context carries the test case's fail-fast scope and assertion collection;
// Close must be called when the test case ends.
func (e *Engine) OpenTestCase(ctx context.Context) *TestCase {
	scope := failfast.NewScope(runctx.Batch(ctx), e.cfg.Batches, e.defaults)
	collection := softassert.NewCollection()
	ctx = failfast.WithScope(ctx, scope)
	ctx = softassert.WithCollection(ctx, collection)
	return &TestCase{
		ctx:        ctx,
		scope:      scope,
		collection: collection,
		asserter:   e.asserter,
	}
}

// Context returns the test case's context.
func (tc *TestCase) Context() context.Context {
	return tc.ctx
}

// Pass records a passed soft assertion.
func (tc *TestCase) Pass(description string) error {
	return tc.keep(tc.asserter.RecordPassed(tc.ctx, description))
}

// Fail records a failed soft assertion. A non-nil return is a hard error the
// step should return; the step fails even if it drops it.
func (tc *TestCase) Fail(description string, opts ...softassert.ErrorOption) error {
	return tc.keep(tc.asserter.RecordFailed(tc.ctx, description, opts...))
}

// AssertTrue records a soft assertion on condition.
func (tc *TestCase) AssertTrue(description string, condition bool, opts ...softassert.ErrorOption) error {
	_, err := tc.asserter.AssertTrue(tc.ctx, description, condition, opts...)
	return tc.keep(err)
}

// AssertEquals records a soft equality assertion.
func (tc *TestCase) AssertEquals(description string, expected, actual any, opts ...softassert.ErrorOption) error {
	_, err := tc.asserter.AssertEquals(tc.ctx, description, expected, actual, opts...)
	return tc.keep(err)
}

// keep remembers err so the step fails even if it drops the error.
func (tc *TestCase) keep(err error) error {
	if err != nil && tc.raised == nil {
		tc.raised = err
	}
	return err
}

// takeRaised returns and clears the hard error kept since the last call.
func (tc *TestCase) takeRaised() error {
	err := tc.raised
	tc.raised = nil
	return err
}

// EnableFailFast turns test-case fail-fast on for the rest of the test case.
func (tc *TestCase) EnableFailFast() {
	tc.scope.EnableTestCaseFailFast()
}

// DisableFailFast turns test-case fail-fast off for the rest of the test case.
func (tc *TestCase) DisableFailFast() {
	tc.scope.DisableTestCaseFailFast()
}

// FailFast reports the effective test-case fail-fast policy.
func (tc *TestCase) FailFast() bool {
	return tc.scope.IsFailTestCaseFast()
}

// Outstanding returns the failures not yet raised as a hard error.
func (tc *TestCase) Outstanding() []*softassert.SoftAssertionError {
	return tc.collection.Errors()
}

// Verify raises every outstanding failure as one hard error.
func (tc *TestCase) Verify() error {
	return tc.asserter.Verify(tc.ctx)
}

// Close releases the test case's scope and collection.
func (tc *TestCase) Close() {
	tc.scope.Close()
	tc.collection.Clear()
}
