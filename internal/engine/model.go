package engine

import "context"

// StepFunc executes one step. A nil return is success; ErrPending and
// ErrIgnorable report those outcomes; any other error is a hard failure
// that ends the scenario and is classified by its type.
type StepFunc func(ctx context.Context, tc *TestCase) error

// Step is one executable step. Steps with nested Steps wrap them: the
// nested steps run first, then Run (if set).
type Step struct {
	Text  string
	Run   StepFunc
	Steps []Step
}

// Scenario is one test case.
type Scenario struct {
	Title string

	// GivenStories run inside the scenario before its steps.
	GivenStories []*Story

	Steps []Step

	// Excluded scenarios are filtered out by meta and never start.
	Excluded bool
}

// Story is a sequence of scenarios sharing state.
type Story struct {
	Path string

	// GivenStories run before the story's own scenarios.
	GivenStories []*Story

	Scenarios []Scenario
}
