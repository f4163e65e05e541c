package status

import "sync/atomic"

// Accumulator keeps the worst status observed so far.
//
// Thread-safety: lock-free, safe for concurrent use.
type Accumulator struct {
	// v holds priority+1; 0 means nothing observed yet.
	v atomic.Uint32
}

// Observe folds s into the accumulated status.
func (a *Accumulator) Observe(s Status) {
	next := uint32(s) + 1
	for {
		cur := a.v.Load()
		if cur != 0 && cur <= next {
			return
		}
		if a.v.CompareAndSwap(cur, next) {
			return
		}
	}
}

// Status returns the worst observed status, or ok == false when nothing
// has been observed.
func (a *Accumulator) Status() (s Status, ok bool) {
	v := a.v.Load()
	if v == 0 {
		return NotCovered, false
	}
	return Status(v - 1), true
}

// ExitCode is the process exit code derived from a run's overall status.
type ExitCode int

const (
	ExitPassed      ExitCode = 0
	ExitFailed      ExitCode = 1
	ExitKnownIssues ExitCode = 2
)

// String returns the exit code name.
func (c ExitCode) String() string {
	switch c {
	case ExitPassed:
		return "PASSED"
	case ExitKnownIssues:
		return "KNOWN_ISSUES"
	default:
		return "FAILED"
	}
}

// ExitCodeFor maps an overall status to an exit code. Only Passed and
// KnownIssuesOnly are non-failing; a run that observed nothing fails.
func ExitCodeFor(s Status, observed bool) ExitCode {
	if !observed {
		return ExitFailed
	}
	switch s {
	case Passed:
		return ExitPassed
	case KnownIssuesOnly:
		return ExitKnownIssues
	default:
		return ExitFailed
	}
}
