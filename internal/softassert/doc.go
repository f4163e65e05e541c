// Package softassert implements soft assertions: failures are recorded
// without unwinding the caller until a verification converts the outstanding
// failures of a test case into a single hard VerificationError.
//
// # Events
//
// Every failed assertion is published as a FailureNotification on the run's
// event bus before the Asserter returns. Subscribers (the fail-fast
// coordinator, the statistics recorder, attachment capture) run
// synchronously; if one of them publishes a VerificationTrigger, the Asserter
// flushes the collection and the resulting VerificationError is returned from
// the very RecordFailed call that raised the original failure.
//
// # Known Issues
//
// A KnownIssueChecker attaches a KnownIssue to a failure by matching its
// description. A failure explained by an open known issue never escalates on
// its own: a triggered verification raises only when at least one outstanding
// entry is unexplained or carries an explicit escalation flag.
package softassert
