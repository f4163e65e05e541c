package tree

import (
	"sync/atomic"

	"github.com/roach88/verdict/internal/status"
)

// LevelCounters counts resolved nodes of one level by terminal status.
//
// Every increment bumps exactly one category counter and the total from the
// same call. Counters are never decremented.
//
// Thread-safety: safe for concurrent use; all counters are lock-free.
type LevelCounters struct {
	categories [status.NotCovered]atomic.Int64
	total      atomic.Int64
}

// Increment counts one node resolved to s. NotCovered has no category and
// is not counted; Increment reports whether anything was counted.
func (c *LevelCounters) Increment(s status.Status) bool {
	if s >= status.NotCovered {
		return false
	}
	c.categories[s].Add(1)
	c.total.Add(1)
	return true
}

// Count returns the number of nodes counted as s.
func (c *LevelCounters) Count(s status.Status) int64 {
	if s >= status.NotCovered {
		return 0
	}
	return c.categories[s].Load()
}

// Total returns the number of counted nodes.
func (c *LevelCounters) Total() int64 {
	return c.total.Load()
}

// Snapshot copies the counters.
func (c *LevelCounters) Snapshot() LevelSnapshot {
	return LevelSnapshot{
		Total:      c.Total(),
		Passed:     c.Count(status.Passed),
		Failed:     c.Count(status.Failed),
		Broken:     c.Count(status.Broken),
		KnownIssue: c.Count(status.KnownIssuesOnly),
		Pending:    c.Count(status.Pending),
		Skipped:    c.Count(status.Skipped),
	}
}

// LevelSnapshot is a point-in-time copy of one level's counters.
type LevelSnapshot struct {
	Total      int64 `json:"total" yaml:"total"`
	Passed     int64 `json:"passed" yaml:"passed"`
	Failed     int64 `json:"failed" yaml:"failed"`
	Broken     int64 `json:"broken" yaml:"broken"`
	KnownIssue int64 `json:"knownIssue" yaml:"known_issue"`
	Pending    int64 `json:"pending" yaml:"pending"`
	Skipped    int64 `json:"skipped" yaml:"skipped"`
}

// Count returns the snapshot value for s.
func (s LevelSnapshot) Count(st status.Status) int64 {
	switch st {
	case status.Passed:
		return s.Passed
	case status.Failed:
		return s.Failed
	case status.Broken:
		return s.Broken
	case status.KnownIssuesOnly:
		return s.KnownIssue
	case status.Pending:
		return s.Pending
	case status.Skipped:
		return s.Skipped
	default:
		return 0
	}
}

// Add adds n nodes resolved to st. NotCovered is ignored.
func (s *LevelSnapshot) Add(st status.Status, n int64) {
	switch st {
	case status.Passed:
		s.Passed += n
	case status.Failed:
		s.Failed += n
	case status.Broken:
		s.Broken += n
	case status.KnownIssuesOnly:
		s.KnownIssue += n
	case status.Pending:
		s.Pending += n
	case status.Skipped:
		s.Skipped += n
	default:
		return
	}
	s.Total += n
}

// Observer is notified after a node has been counted.
type Observer func(level Level, s status.Status)

// Statistics holds one LevelCounters block per level for a whole run.
//
// Thread-safety: safe for concurrent use. The observer is called on the
// goroutine that resolved the node and must be safe for concurrent use.
type Statistics struct {
	levels   [len(levelNames)]LevelCounters
	observer Observer
}

// StatisticsOption configures Statistics.
type StatisticsOption func(*Statistics)

// WithObserver registers a callback invoked for every counted node.
func WithObserver(o Observer) StatisticsOption {
	return func(s *Statistics) { s.observer = o }
}

// NewStatistics creates zeroed statistics.
func NewStatistics(opts ...StatisticsOption) *Statistics {
	s := &Statistics{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record counts one node of the given level resolved to st.
func (s *Statistics) Record(level Level, st status.Status) {
	if int(level) >= len(s.levels) {
		panic("tree: record on invalid level " + level.String())
	}
	if s.levels[level].Increment(st) && s.observer != nil {
		s.observer(level, st)
	}
}

// Level returns the counters for level.
func (s *Statistics) Level(level Level) *LevelCounters {
	return &s.levels[level]
}

// Snapshot copies every level's counters, keyed by level name.
func (s *Statistics) Snapshot() StatisticsSnapshot {
	out := make(StatisticsSnapshot, len(Levels))
	for _, l := range Levels {
		out[l.String()] = s.levels[l].Snapshot()
	}
	return out
}

// StatisticsSnapshot maps a level name to its counters.
type StatisticsSnapshot map[string]LevelSnapshot
