package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/verdict/internal/engine"
	"github.com/roach88/verdict/internal/status"
	"github.com/roach88/verdict/internal/tree"
)

// AssertionError is returned when an assertion fails.
// It includes the run journal to help debug the failure.
type AssertionError struct {
	Type     string                // Assertion type for categorization
	Expected string                // Human-readable expected outcome
	Actual   string                // Human-readable actual outcome
	Journal  []engine.JournalEntry // Full journal for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Journal) > 0 {
		fmt.Fprintf(&buf, "\nJournal:\n")
		for _, entry := range e.Journal {
			fmt.Fprintf(&buf, "  [%d] %s %s", entry.Seq, entry.Kind, entry.Story)
			if entry.Scenario != "" {
				fmt.Fprintf(&buf, " / %s", entry.Scenario)
			}
			buf.WriteByte('\n')
		}
	}

	return buf.String()
}

// EvaluateAssertions runs every assertion against result and returns the
// failure messages. All assertions are evaluated, even after a failure.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertion[%d] (%s): %v", i, a.Type, err))
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion) error {
	switch a.Type {
	case AssertNodeStatus:
		return assertNodeStatus(result.Run, a)
	case AssertJournalCount:
		return assertJournalCount(result.Run.Journal, a)
	case AssertJournalOrder:
		return assertJournalOrder(result.Run.Journal, a)
	case AssertLevelCount:
		return assertLevelCount(result.Run, a)
	case AssertExecuted:
		return assertExecuted(result, a)
	case AssertSkippedBatches:
		return assertSkippedBatches(result.Run, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// assertNodeStatus locates a story, scenario or step node by title and
// compares its status.
func assertNodeStatus(run *engine.Result, a Assertion) error {
	node, where, ok := findNode(run.Stories, a)
	if !ok {
		return &AssertionError{
			Type:     AssertNodeStatus,
			Expected: fmt.Sprintf("node %s", where),
			Actual:   "not found",
		}
	}
	want, _ := status.Parse(a.Status)
	if node.Status != want.String() {
		return &AssertionError{
			Type:     AssertNodeStatus,
			Expected: fmt.Sprintf("%s is %s", where, want),
			Actual:   fmt.Sprintf("%s is %s", where, displayStatus(node.Status)),
			Journal:  run.Journal,
		}
	}
	return nil
}

func displayStatus(s string) string {
	if s == "" {
		return "unresolved"
	}
	return s
}

func findNode(stories []engine.StoryResult, a Assertion) (tree.Snapshot, string, bool) {
	where := a.Story
	for _, sr := range stories {
		if sr.Path != a.Story {
			continue
		}
		node := sr.Tree
		if a.Scenario == "" {
			return node, where, true
		}
		where += " > " + a.Scenario
		sc, ok := child(node, tree.LevelScenario, a.Scenario)
		if !ok {
			return tree.Snapshot{}, where, false
		}
		if a.Step == "" {
			return sc, where, true
		}
		where += " > " + a.Step
		step, ok := findStep(sc, a.Step)
		return step, where, ok
	}
	return tree.Snapshot{}, where, false
}

func child(n tree.Snapshot, level tree.Level, title string) (tree.Snapshot, bool) {
	for _, c := range n.Children {
		if c.Level == level && c.Title == title {
			return c, true
		}
	}
	return tree.Snapshot{}, false
}

// findStep searches nested steps depth-first.
func findStep(n tree.Snapshot, title string) (tree.Snapshot, bool) {
	for _, c := range n.Children {
		if c.Level != tree.LevelStep {
			continue
		}
		if c.Title == title {
			return c, true
		}
		if found, ok := findStep(c, title); ok {
			return found, true
		}
	}
	return tree.Snapshot{}, false
}

// assertJournalCount checks the number of journal entries of a kind.
func assertJournalCount(journal []engine.JournalEntry, a Assertion) error {
	count := 0
	for _, entry := range journal {
		if entry.Kind == a.Kind {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertJournalCount,
			Expected: fmt.Sprintf("%d %s entries", a.Count, a.Kind),
			Actual:   fmt.Sprintf("%d entries", count),
			Journal:  journal,
		}
	}
	return nil
}

// assertJournalOrder checks that the first occurrences of kinds appear in
// the specified order. Entries need not be consecutive.
func assertJournalOrder(journal []engine.JournalEntry, a Assertion) error {
	positions := make(map[string]int, len(a.Kinds))
	for i, entry := range journal {
		if _, seen := positions[entry.Kind]; !seen {
			positions[entry.Kind] = i + 1
		}
	}

	for _, kind := range a.Kinds {
		if positions[kind] == 0 {
			return &AssertionError{
				Type:     AssertJournalOrder,
				Expected: fmt.Sprintf("all kinds present: %v", a.Kinds),
				Actual:   fmt.Sprintf("missing kind: %s", kind),
				Journal:  journal,
			}
		}
	}

	for i := 1; i < len(a.Kinds); i++ {
		prev, curr := a.Kinds[i-1], a.Kinds[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertJournalOrder,
				Expected: fmt.Sprintf("kinds in order: %v", a.Kinds),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Journal: journal,
			}
		}
	}
	return nil
}

// assertLevelCount checks one counter of the run statistics.
func assertLevelCount(run *engine.Result, a Assertion) error {
	want, _ := status.Parse(a.Status)
	got := run.Statistics[a.Level].Count(want)
	if got != int64(a.Count) {
		return &AssertionError{
			Type:     AssertLevelCount,
			Expected: fmt.Sprintf("%d %s %s nodes", a.Count, a.Level, want),
			Actual:   fmt.Sprintf("%d", got),
		}
	}
	return nil
}

// assertExecuted checks the exact executed step trace.
func assertExecuted(result *Result, a Assertion) error {
	got := result.ExecutedSteps()
	if !slices.Equal(got, a.Steps) {
		return &AssertionError{
			Type:     AssertExecuted,
			Expected: fmt.Sprintf("%q", a.Steps),
			Actual:   fmt.Sprintf("%q", got),
		}
	}
	return nil
}

// assertSkippedBatches checks the batches skipped by batch fail-fast.
func assertSkippedBatches(run *engine.Result, a Assertion) error {
	if !slices.Equal(run.SkippedBatches, a.Batches) {
		return &AssertionError{
			Type:     AssertSkippedBatches,
			Expected: fmt.Sprintf("%q", a.Batches),
			Actual:   fmt.Sprintf("%q", run.SkippedBatches),
			Journal:  run.Journal,
		}
	}
	return nil
}
