// Package status ranks execution outcomes by severity and derives outcomes
// from raised failures.
//
// Status is a closed set whose numeric value is its priority: lower values
// are more severe. Aggregation is "worst status wins", seeded with the
// optimistic sentinel NotCovered so an empty input yields NotCovered.
package status

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Status is a severity value. The underlying value is the priority.
type Status uint8

const (
	// Broken is an unexpected, non-assertion error.
	Broken Status = iota
	// Failed is an assertion failure not fully explained by open known issues.
	Failed
	// Pending is a step without an implementation.
	Pending
	// KnownIssuesOnly is an assertion failure fully explained by open known issues.
	KnownIssuesOnly
	// Skipped is a step or test case that did not run.
	Skipped
	// Passed is a successful outcome.
	Passed
	// NotCovered is the optimistic sentinel used to seed aggregation.
	NotCovered
)

// All lists every status, most severe first.
var All = []Status{Broken, Failed, Pending, KnownIssuesOnly, Skipped, Passed, NotCovered}

var names = [...]string{
	Broken:          "BROKEN",
	Failed:          "FAILED",
	Pending:         "PENDING",
	KnownIssuesOnly: "KNOWN_ISSUES_ONLY",
	Skipped:         "SKIPPED",
	Passed:          "PASSED",
	NotCovered:      "NOT_COVERED",
}

// Priority returns the ranking value; lower is more severe.
func (s Status) Priority() int {
	return int(s)
}

// Valid reports whether s is one of the declared values.
func (s Status) Valid() bool {
	return s <= NotCovered
}

// String returns the canonical upper-case name.
func (s Status) String() string {
	if !s.Valid() {
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
	return names[s]
}

// DisplayName returns a human readable name, e.g. "Known issues only".
func (s Status) DisplayName() string {
	if !s.Valid() {
		return s.String()
	}
	words := strings.Split(strings.ToLower(names[s]), "_")
	words[0] = cases.Title(language.English).String(words[0])
	return strings.Join(words, " ")
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid status %d", uint8(s))
	}
	return []byte(names[s]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Parse converts a canonical name (case-insensitive) to a Status.
func Parse(name string) (Status, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for _, s := range All {
		if names[s] == upper {
			return s, nil
		}
	}
	return NotCovered, fmt.Errorf("unknown status %q", name)
}

// ReportBucket is the coarse outcome understood by external reporters.
type ReportBucket string

const (
	BucketPassed  ReportBucket = "passed"
	BucketFailed  ReportBucket = "failed"
	BucketSkipped ReportBucket = "skipped"
)

// Bucket maps s to its external reporting bucket. KnownIssuesOnly is a
// framework-internal classification and maps to none (ok == false).
func (s Status) Bucket() (bucket ReportBucket, ok bool) {
	switch s {
	case Broken, Failed:
		return BucketFailed, true
	case Pending, Skipped, NotCovered:
		return BucketSkipped, true
	case Passed:
		return BucketPassed, true
	default:
		return "", false
	}
}

// Worse returns the more severe of a and b.
func Worse(a, b Status) Status {
	if b.Priority() < a.Priority() {
		return b
	}
	return a
}

// Aggregate folds statuses with "worst wins", seeded with NotCovered.
func Aggregate(statuses ...Status) Status {
	result := NotCovered
	for _, s := range statuses {
		result = Worse(result, s)
	}
	return result
}
