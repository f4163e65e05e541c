package tree

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/verdict/internal/status"
)

func TestTree_AddChildLinksBothWays(t *testing.T) {
	tr := New(nil)
	root := tr.AddRoot(LevelStory, "login.story")
	sc := tr.AddChild(root, LevelScenario, "valid login")
	st1 := tr.AddChild(sc, LevelStep, "Given I am on the main page")
	st2 := tr.AddChild(sc, LevelStep, "When I log in")

	assert.Equal(t, NoNode, tr.Node(root).Parent)
	assert.Equal(t, sc, tr.Node(st1).Parent)
	assert.Equal(t, []NodeID{st1, st2}, tr.Children(sc))
	assert.True(t, tr.Node(root).HasChildren)
	assert.False(t, tr.Node(st1).HasChildren)
	assert.Equal(t, 4, tr.Len())
}

func TestTree_AddChildInvalidParentPanics(t *testing.T) {
	tr := New(nil)
	assert.Panics(t, func() { tr.AddChild(0, LevelStep, "orphan") })
	tr.AddRoot(LevelStory, "s")
	assert.Panics(t, func() { tr.AddChild(7, LevelStep, "orphan") })
	assert.Panics(t, func() { tr.AddChild(NoNode, LevelStep, "orphan") })
}

func TestTree_ResolveAggregatesOnce(t *testing.T) {
	tr := New(nil)
	id := tr.AddRoot(LevelScenario, "s")

	got := tr.Resolve(id, status.Passed, status.KnownIssuesOnly, status.Skipped)
	assert.Equal(t, status.KnownIssuesOnly, got)
	assert.True(t, tr.Node(id).Resolved)

	assert.Panics(t, func() { tr.Resolve(id, status.Passed) }, "second resolution is a contract violation")
}

func TestTree_ResolveEmptyYieldsSentinel(t *testing.T) {
	tr := New(nil)
	id := tr.AddRoot(LevelScenario, "s")
	assert.Equal(t, status.NotCovered, tr.Resolve(id))
}

func TestTree_Finish(t *testing.T) {
	tests := []struct {
		name     string
		build    func(tr *Tree, id NodeID)
		expected status.Status
	}{
		{
			name:     "nothing observed is passed",
			build:    func(tr *Tree, id NodeID) {},
			expected: status.Passed,
		},
		{
			name:     "declared children but none ran is skipped",
			build:    func(tr *Tree, id NodeID) { tr.DeclareChildren(id) },
			expected: status.Skipped,
		},
		{
			name: "worst child wins",
			build: func(tr *Tree, id NodeID) {
				for _, s := range []status.Status{status.Passed, status.Pending, status.KnownIssuesOnly} {
					c := tr.AddChild(id, LevelStep, s.String())
					tr.Resolve(c, s)
				}
			},
			expected: status.Pending,
		},
		{
			name: "own observation is kept when children are better",
			build: func(tr *Tree, id NodeID) {
				c := tr.AddChild(id, LevelStep, "ok")
				tr.Resolve(c, status.Passed)
				tr.Observe(id, status.Failed)
			},
			expected: status.Failed,
		},
		{
			name: "observations only degrade",
			build: func(tr *Tree, id NodeID) {
				tr.Observe(id, status.KnownIssuesOnly)
				tr.Observe(id, status.Passed)
			},
			expected: status.KnownIssuesOnly,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := New(nil)
			id := tr.AddRoot(LevelScenario, "s")
			tt.build(tr, id)
			assert.Equal(t, tt.expected, tr.Finish(id))
		})
	}
}

func TestTree_CountsResolvedNodes(t *testing.T) {
	stats := NewStatistics()
	tr := New(stats)
	root := tr.AddRoot(LevelScenario, "s")
	wrapper := tr.AddChild(root, LevelStep, "composite")
	inner := tr.AddChild(wrapper, LevelStep, "inner")

	tr.Resolve(inner, status.Failed)
	tr.Finish(wrapper)
	tr.Finish(root)

	steps := stats.Level(LevelStep).Snapshot()
	assert.Equal(t, int64(1), steps.Total, "wrapping step is not counted")
	assert.Equal(t, int64(1), steps.Failed)
	assert.Equal(t, int64(1), stats.Level(LevelScenario).Count(status.Failed))
}

func TestTree_Snapshot(t *testing.T) {
	tr := New(nil)
	root := tr.AddRoot(LevelStory, "checkout.story")
	sc := tr.AddChild(root, LevelScenario, "pay")
	st := tr.AddChild(sc, LevelStep, "When I pay")
	tr.Resolve(st, status.Broken)
	tr.Finish(sc)

	snap := tr.Snapshot(root)
	assert.Equal(t, "", snap.Status, "unresolved root has no status")
	require.Len(t, snap.Children, 1)
	assert.Equal(t, "BROKEN", snap.Children[0].Status)

	data, err := json.Marshal(snap)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"level": "story", "title": "checkout.story",
		"children": [{
			"level": "scenario", "title": "pay", "status": "BROKEN",
			"children": [{"level": "step", "title": "When I pay", "status": "BROKEN"}]
		}]
	}`, string(data))
}

func TestLevelCounters_NotCoveredIsNotCounted(t *testing.T) {
	var c LevelCounters
	assert.False(t, c.Increment(status.NotCovered))
	assert.True(t, c.Increment(status.KnownIssuesOnly))
	assert.Equal(t, LevelSnapshot{Total: 1, KnownIssue: 1}, c.Snapshot())
}

func TestLevelCounters_ConcurrentIncrements(t *testing.T) {
	const perCaller = 1000
	categories := []status.Status{
		status.Broken, status.Failed, status.Pending,
		status.KnownIssuesOnly, status.Skipped, status.Passed,
	}

	var c LevelCounters
	var wg sync.WaitGroup
	for _, s := range categories {
		wg.Add(1)
		go func(s status.Status) {
			defer wg.Done()
			for range perCaller {
				c.Increment(s)
			}
		}(s)
	}
	wg.Wait()

	assert.Equal(t, int64(len(categories)*perCaller), c.Total())
	for _, s := range categories {
		assert.Equal(t, int64(perCaller), c.Count(s), s.String())
	}
}

func TestStatistics_ObserverAndSnapshot(t *testing.T) {
	var mu sync.Mutex
	seen := map[Level][]status.Status{}
	stats := NewStatistics(WithObserver(func(l Level, s status.Status) {
		mu.Lock()
		defer mu.Unlock()
		seen[l] = append(seen[l], s)
	}))

	stats.Record(LevelBatch, status.Passed)
	stats.Record(LevelStep, status.Pending)
	stats.Record(LevelStep, status.NotCovered)

	assert.Equal(t, map[Level][]status.Status{
		LevelBatch: {status.Passed},
		LevelStep:  {status.Pending},
	}, seen)

	snap := stats.Snapshot()
	assert.Len(t, snap, 4)
	assert.Equal(t, int64(1), snap["step"].Pending)
	assert.Equal(t, int64(0), snap["scenario"].Total)
}

func TestLevel_Text(t *testing.T) {
	for _, l := range Levels {
		text, err := l.MarshalText()
		require.NoError(t, err)
		var back Level
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, l, back)
	}
	var l Level
	assert.Error(t, l.UnmarshalText([]byte("suite")))
}
