package softassert

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
)

// KnownIssue describes a pre-registered defect that explains a failure.
//
// A KnownIssue is immutable once attached to a SoftAssertionError.
type KnownIssue struct {
	// ID identifies the issue in the tracker (e.g. "VVD-42").
	ID string `yaml:"id" json:"id"`

	// PotentiallyKnown marks a weak match: the failure resembles the issue
	// but is not confirmed to be caused by it.
	PotentiallyKnown bool `yaml:"potentially_known,omitempty" json:"potentially_known,omitempty"`

	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Resolution  string `yaml:"resolution,omitempty" json:"resolution,omitempty"`
	Status      string `yaml:"status,omitempty" json:"status,omitempty"`

	// FailTestCaseFast and FailTestSuiteFast escalate every failure matched
	// to this issue.
	FailTestCaseFast  bool `yaml:"fail_test_case_fast,omitempty" json:"fail_test_case_fast,omitempty"`
	FailTestSuiteFast bool `yaml:"fail_test_suite_fast,omitempty" json:"fail_test_suite_fast,omitempty"`
}

var closedStates = []string{"closed", "done", "fixed", "resolved"}

// Fixed reports whether the issue's tracker state says it is no longer active.
// Matching is case-insensitive on both Status and Resolution.
func (k KnownIssue) Fixed() bool {
	fold := cases.Fold()
	for _, state := range []string{k.Status, k.Resolution} {
		s := fold.String(strings.TrimSpace(state))
		for _, closed := range closedStates {
			if s == closed {
				return true
			}
		}
	}
	return false
}

// SoftAssertionError wraps one failed soft assertion.
//
// Created exactly once per failing assertion via NewSoftAssertionError and
// immutable thereafter.
type SoftAssertionError struct {
	err               error
	knownIssue        *KnownIssue
	failTestCaseFast  bool
	failTestSuiteFast bool
}

// ErrorOption configures a SoftAssertionError at construction time.
type ErrorOption func(*SoftAssertionError)

// WithKnownIssue attaches a known issue. Escalation flags declared on the
// issue are carried over to the error.
func WithKnownIssue(issue KnownIssue) ErrorOption {
	return func(e *SoftAssertionError) {
		ki := issue
		e.knownIssue = &ki
		e.failTestCaseFast = e.failTestCaseFast || ki.FailTestCaseFast
		e.failTestSuiteFast = e.failTestSuiteFast || ki.FailTestSuiteFast
	}
}

// WithFailTestCaseFast demands immediate verification of the current test case.
func WithFailTestCaseFast() ErrorOption {
	return func(e *SoftAssertionError) { e.failTestCaseFast = true }
}

// WithFailTestSuiteFast demands that the rest of the owning story is not
// silently continued.
func WithFailTestSuiteFast() ErrorOption {
	return func(e *SoftAssertionError) { e.failTestSuiteFast = true }
}

// NewSoftAssertionError wraps err (the assertion failure) with options.
func NewSoftAssertionError(err error, opts ...ErrorOption) *SoftAssertionError {
	e := &SoftAssertionError{err: err}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Error implements the error interface.
func (e *SoftAssertionError) Error() string {
	if e.err == nil {
		return "assertion failed"
	}
	return e.err.Error()
}

// Unwrap returns the underlying assertion failure.
func (e *SoftAssertionError) Unwrap() error {
	return e.err
}

// KnownIssue returns the attached issue, or nil.
func (e *SoftAssertionError) KnownIssue() *KnownIssue {
	if e.knownIssue == nil {
		return nil
	}
	ki := *e.knownIssue
	return &ki
}

// IsKnownIssue reports whether a confirmed (not potentially) known issue is attached.
func (e *SoftAssertionError) IsKnownIssue() bool {
	return e.knownIssue != nil && !e.knownIssue.PotentiallyKnown
}

// IsNotFixedKnownIssue reports whether the attached known issue is still open.
func (e *SoftAssertionError) IsNotFixedKnownIssue() bool {
	return e.IsKnownIssue() && !e.knownIssue.Fixed()
}

// IsFailTestCaseFast reports whether the raiser escalated to test-case abort.
func (e *SoftAssertionError) IsFailTestCaseFast() bool {
	return e.failTestCaseFast
}

// IsFailTestSuiteFast reports whether the raiser escalated to story abort.
func (e *SoftAssertionError) IsFailTestSuiteFast() bool {
	return e.failTestSuiteFast
}

// suppressed reports whether the entry alone must not raise a triggered
// verification: a known issue carrying no escalation flag.
func (e *SoftAssertionError) suppressed() bool {
	return e.IsKnownIssue() && !e.failTestCaseFast && !e.failTestSuiteFast
}

// VerificationError is the hard error raised when outstanding soft assertion
// failures are flushed. It bundles every flushed entry in record order.
type VerificationError struct {
	Errors []*SoftAssertionError

	// AssertionsCount is the number of assertions (passed and failed)
	// recorded in the test case when verification ran.
	AssertionsCount int
}

// Error implements the error interface.
func (e *VerificationError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "%d of %d soft assertions failed", len(e.Errors), e.AssertionsCount)
	for i, se := range e.Errors {
		fmt.Fprintf(&buf, "\n  %d) %s", i+1, se.Error())
		if ki := se.knownIssue; ki != nil {
			fmt.Fprintf(&buf, " [known issue %s", ki.ID)
			if ki.Fixed() {
				buf.WriteString(", fixed")
			}
			buf.WriteString("]")
		}
	}
	return buf.String()
}

// Unwrap exposes the bundled entries to errors.Is / errors.As.
func (e *VerificationError) Unwrap() []error {
	errs := make([]error, len(e.Errors))
	for i, se := range e.Errors {
		errs[i] = se
	}
	return errs
}

// IsVerificationError returns true if err wraps a VerificationError.
// Uses errors.As to handle wrapped errors.
func IsVerificationError(err error) bool {
	var ve *VerificationError
	return errors.As(err, &ve)
}

// AssertionError is a plain assertion failure message with optional cause.
type AssertionError struct {
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	if e.Cause != nil && e.Message == "" {
		return e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the cause.
func (e *AssertionError) Unwrap() error {
	return e.Cause
}
