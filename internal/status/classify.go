package status

import (
	"errors"

	"github.com/roach88/verdict/internal/softassert"
)

// ClassifyFailure derives the status of a raised failure.
//
// The error chain is searched for assertion failures:
//   - a VerificationError (container of soft assertion failures) is
//     KnownIssuesOnly only if every bundled entry is an open known issue,
//     Failed otherwise;
//   - a single SoftAssertionError is KnownIssuesOnly if it is an open known
//     issue, Failed otherwise;
//   - a plain AssertionError is Failed.
//
// Anything else (including nil) is an unexpected runtime error: Broken.
func ClassifyFailure(err error) Status {
	if err == nil {
		return Broken
	}

	var ve *softassert.VerificationError
	if errors.As(err, &ve) {
		if len(ve.Errors) == 0 {
			return Failed
		}
		for _, se := range ve.Errors {
			if !se.IsNotFixedKnownIssue() {
				return Failed
			}
		}
		return KnownIssuesOnly
	}

	var se *softassert.SoftAssertionError
	if errors.As(err, &se) {
		if se.IsNotFixedKnownIssue() {
			return KnownIssuesOnly
		}
		return Failed
	}

	var ae *softassert.AssertionError
	if errors.As(err, &ae) {
		return Failed
	}

	return Broken
}

// ClassifyEvent derives the status of a single failure notification.
func ClassifyEvent(n softassert.FailureNotification) Status {
	if se := n.SoftAssertionError(); se != nil && se.IsNotFixedKnownIssue() {
		return KnownIssuesOnly
	}
	return Failed
}
