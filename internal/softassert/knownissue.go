package softassert

import (
	"fmt"
	"regexp"
)

// KnownIssueChecker looks up the known issue explaining a failure description.
type KnownIssueChecker interface {
	KnownIssue(description string) (KnownIssue, bool)
}

// KnownIssuePattern binds a known issue to the failure descriptions it explains.
type KnownIssuePattern struct {
	KnownIssue `yaml:",inline"`

	// Pattern is a regular expression matched against the full failure description.
	Pattern string `yaml:"pattern"`
}

type compiledPattern struct {
	issue KnownIssue
	re    *regexp.Regexp
}

// KnownIssueRegistry matches failure descriptions against configured patterns.
// The first matching pattern in declaration order wins.
//
// Thread-safety: immutable after construction, safe for concurrent use.
type KnownIssueRegistry struct {
	patterns []compiledPattern
}

// NewKnownIssueRegistry compiles patterns. Returns an error naming the first
// issue whose pattern is empty or does not compile.
func NewKnownIssueRegistry(patterns []KnownIssuePattern) (*KnownIssueRegistry, error) {
	r := &KnownIssueRegistry{patterns: make([]compiledPattern, 0, len(patterns))}
	for _, p := range patterns {
		if p.ID == "" {
			return nil, fmt.Errorf("known issue with pattern %q has no id", p.Pattern)
		}
		if p.Pattern == "" {
			return nil, fmt.Errorf("known issue %s: empty pattern", p.ID)
		}
		re, err := regexp.Compile("^(?s:" + p.Pattern + ")$")
		if err != nil {
			return nil, fmt.Errorf("known issue %s: compile pattern: %w", p.ID, err)
		}
		r.patterns = append(r.patterns, compiledPattern{issue: p.KnownIssue, re: re})
	}
	return r, nil
}

// KnownIssue implements KnownIssueChecker.
func (r *KnownIssueRegistry) KnownIssue(description string) (KnownIssue, bool) {
	if r == nil {
		return KnownIssue{}, false
	}
	for _, p := range r.patterns {
		if p.re.MatchString(description) {
			return p.issue, true
		}
	}
	return KnownIssue{}, false
}

// Len returns the number of registered patterns.
func (r *KnownIssueRegistry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.patterns)
}
