// Package engine runs stories and turns their outcome into a verdict.
//
// An Engine is the per-run context object: it is created once per test run
// and owns every piece of run-wide state (the event bus, the process-level
// fail-fast default, the level counters, the status recorder). Nothing is
// process-global, so two runs in one process never see each other.
//
// STRUCTURE:
//
//	Run
//	  batch (in order; a failed fail_fast batch skips the rest)
//	    story (concurrently, up to the batch's threads)
//	      scenario (sequentially; one test case each)
//	        step (sequentially; may nest steps)
//
// TEST CASES:
// Each scenario runs as one test case. Opening a test case creates its
// fail-fast Scope and its soft assertion Collection and stores both in the
// scenario's context; closing it releases both, so nothing cached for one
// test case leaks into the next.
//
// EVENT ORDERING:
// Failures are delivered synchronously and depth-first on the goroutine of
// the failing step. Recorder, coordinator, metrics and journal all observe a
// failure before any hard error it causes unwinds the step. The journal
// stamps every entry with the logical Clock, so that order is visible after
// the run.
//
// STOPPING EARLY:
//   - A hard error returned from a step ends its scenario; remaining steps
//     are reported as not performed.
//   - When a scenario failed and its story no longer resets state between
//     test cases (fail_story_fast, or a suite-fatal failure), the remaining
//     scenarios of the story are skipped.
//   - When a batch marked fail_fast ends with failures, later batches are
//     skipped.
package engine
