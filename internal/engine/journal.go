package engine

import (
	"context"
	"sync"

	"github.com/roach88/verdict/internal/eventbus"
	"github.com/roach88/verdict/internal/failfast"
	"github.com/roach88/verdict/internal/runctx"
	"github.com/roach88/verdict/internal/softassert"
	"github.com/roach88/verdict/internal/status"
)

// Journal entry kinds.
const (
	EntryFailure      = "failure"
	EntryVerification = "verification"
	EntryStoryAbort   = "story_abort"
	EntryScenarioEnd  = "scenario_end"
	EntryStoryEnd     = "story_end"
	EntryBatchEnd     = "batch_end"
	EntryBatchSkipped = "batch_skipped"
)

// JournalEntry is one recorded run event.
type JournalEntry struct {
	Seq      int64  `json:"seq" yaml:"seq"`
	Kind     string `json:"kind" yaml:"kind"`
	Batch    string `json:"batch,omitempty" yaml:"batch,omitempty"`
	Story    string `json:"story,omitempty" yaml:"story,omitempty"`
	Scenario string `json:"scenario,omitempty" yaml:"scenario,omitempty"`
	Detail   string `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// Journal records run events in logical-clock order.
//
// Thread-safety: safe for concurrent use.
type Journal struct {
	clock   *Clock
	mu      sync.Mutex
	entries []JournalEntry
}

func newJournal(clock *Clock) *Journal {
	return &Journal{clock: clock}
}

// subscribe attaches the journal to failure, verification and abort events.
func (j *Journal) subscribe(bus *eventbus.Bus) {
	eventbus.Subscribe(bus, func(ctx context.Context, n softassert.FailureNotification) error {
		j.record(ctx, EntryFailure, status.ClassifyEvent(n).String()+": "+n.SoftAssertionError().Error())
		return nil
	})
	eventbus.Subscribe(bus, func(ctx context.Context, v softassert.VerificationTrigger) error {
		detail := ""
		if v.Cause != nil {
			detail = v.Cause.Error()
		}
		j.record(ctx, EntryVerification, detail)
		return nil
	})
	eventbus.Subscribe(bus, func(ctx context.Context, a failfast.StoryAbortRequested) error {
		j.record(ctx, EntryStoryAbort, "")
		return nil
	})
}

func (j *Journal) record(ctx context.Context, kind, detail string) {
	entry := JournalEntry{
		Kind:     kind,
		Batch:    runctx.Batch(ctx),
		Scenario: runctx.Scenario(ctx),
		Detail:   detail,
	}
	if s, ok := runctx.StoryFrom(ctx); ok {
		entry.Story = s.Path
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	entry.Seq = j.clock.Next()
	j.entries = append(j.entries, entry)
}

// Entries returns a copy of the journal in seq order.
func (j *Journal) Entries() []JournalEntry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]JournalEntry(nil), j.entries...)
}
