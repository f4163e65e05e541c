package softassert

// FailureNotification is published synchronously at the moment a soft
// assertion fails. It wraps exactly one SoftAssertionError and is immutable.
type FailureNotification struct {
	err *SoftAssertionError
}

// NewFailureNotification wraps err.
func NewFailureNotification(err *SoftAssertionError) FailureNotification {
	return FailureNotification{err: err}
}

// SoftAssertionError returns the wrapped failure.
func (n FailureNotification) SoftAssertionError() *SoftAssertionError {
	return n.err
}

// VerificationTrigger asks the registry to flush the current test case's
// outstanding failures into one hard error.
type VerificationTrigger struct {
	// Cause is the failure that made verification necessary.
	Cause *SoftAssertionError
}

// AssertionPassed is published for every passed soft assertion.
type AssertionPassed struct {
	Description string
}
