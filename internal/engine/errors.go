package engine

import (
	"errors"
	"fmt"
)

// Sentinel step outcomes. A step returns one of these (possibly wrapped)
// to report an outcome that is neither success nor failure.
var (
	// ErrPending marks a step without an implementation.
	ErrPending = errors.New("step is pending")

	// ErrIgnorable marks a step that was deliberately not executed.
	ErrIgnorable = errors.New("step is ignorable")
)

// RunError is an error detected by the engine itself rather than by a step.
type RunError struct {
	// Code identifies the error category.
	Code RunErrorCode

	// Message is a human-readable description.
	Message string

	// Batch identifies the affected batch, if any.
	Batch string

	// Story identifies the affected story, if any.
	Story string

	// Cause is the underlying error, if any.
	Cause error
}

// RunErrorCode categorizes engine errors.
type RunErrorCode string

const (
	// ErrCodeUnknownStory indicates a batch references a story that was not supplied.
	ErrCodeUnknownStory RunErrorCode = "UNKNOWN_STORY"

	// ErrCodeStepPanicked indicates a step panicked; the panic was recovered.
	ErrCodeStepPanicked RunErrorCode = "STEP_PANICKED"

	// ErrCodeAlreadyRun indicates Run was called twice on one Engine.
	ErrCodeAlreadyRun RunErrorCode = "ALREADY_RUN"

	// ErrCodeKnownIssues indicates the known issue configuration is invalid.
	ErrCodeKnownIssues RunErrorCode = "INVALID_KNOWN_ISSUES"
)

// Error implements the error interface.
func (e *RunError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	switch {
	case e.Batch != "" && e.Story != "":
		msg += fmt.Sprintf(" (batch=%s, story=%s)", e.Batch, e.Story)
	case e.Batch != "":
		msg += fmt.Sprintf(" (batch=%s)", e.Batch)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the cause.
func (e *RunError) Unwrap() error {
	return e.Cause
}

// IsUnknownStoryError returns true if err is an unknown story error.
// Uses errors.As to handle wrapped errors.
func IsUnknownStoryError(err error) bool {
	return hasCode(err, ErrCodeUnknownStory)
}

// IsStepPanic returns true if err is a recovered step panic.
func IsStepPanic(err error) bool {
	return hasCode(err, ErrCodeStepPanicked)
}

func hasCode(err error, code RunErrorCode) bool {
	var re *RunError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// NewStepPanicError wraps a recovered panic value.
func NewStepPanicError(batch, story string, recovered any) *RunError {
	return &RunError{
		Code:    ErrCodeStepPanicked,
		Message: fmt.Sprintf("step panicked: %v", recovered),
		Batch:   batch,
		Story:   story,
	}
}
