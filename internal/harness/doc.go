// Package harness runs scripted test suites through the engine.
//
// A suite is a YAML file describing a run configuration, the stories to run
// and the outcome the run must produce. Steps do not drive a system under
// test; each one performs a scripted action (pass, fail softly, break,
// change the fail-fast policy) so the status, fail-fast and statistics
// behaviour of the engine can be exercised end to end.
//
// # Suite Format
//
//	name: known_issue_then_failure
//	description: "A known issue does not stop the test case, a failure does"
//	config:
//	  fail_test_case_fast: true
//	given:
//	  - path: login.story
//	    scenarios:
//	      - title: log in
//	        steps:
//	          - text: open login page
//	stories:
//	  - path: checkout.story
//	    given_stories: [login.story]
//	    scenarios:
//	      - title: pay by card
//	        steps:
//	          - text: banner is shown
//	            action: assert_fail
//	            known_issue: SHOP-12
//	          - text: total is correct
//	            action: assert_fail
//	expect:
//	  status: FAILED
//	  exit_code: 1
//	assertions:
//	  - type: journal_count
//	    kind: verification
//	    count: 1
//
// The config section uses the same schema as the configuration file. Stories
// listed under given run only when referenced from given_stories.
//
// # Step Actions
//
//   - pass (default): records a passed soft assertion
//   - assert_fail: records a failed soft assertion, optionally attached to a
//     known issue and carrying escalation flags
//   - error: returns an unexpected error (BROKEN)
//   - panic: panics inside the step (BROKEN)
//   - pending: the step has no implementation
//   - skip: the step is ignorable
//   - composite: runs the nested steps
//   - enable_fail_fast, disable_fail_fast: override the test case policy
//
// # Assertion Types
//
//   - node_status: status of a story, scenario or step node
//   - journal_count: number of journal entries of a kind
//   - journal_order: journal kinds appear in the given order
//   - level_count: counter value of one level and status
//   - executed: the exact list of step texts that ran
//   - skipped_batches: the batches skipped by batch fail-fast
//
// # Deterministic Runs
//
// Unless overridden, suites run with a fixed run ID and a frozen clock so
// that results can be compared against golden files.
package harness
