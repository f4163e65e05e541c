package harness

import (
	"github.com/roach88/verdict/internal/engine"
)

// ExecutedStep is one step whose action ran.
type ExecutedStep struct {
	Story    string `json:"story"`
	Scenario string `json:"scenario"`
	Step     string `json:"step"`
}

// String renders the step as "story > scenario > step".
func (e ExecutedStep) String() string {
	return e.Story + " > " + e.Scenario + " > " + e.Step
}

// Result is the outcome of a suite execution.
type Result struct {
	// Pass indicates the run matched the expectation and every assertion.
	Pass bool `json:"pass"`

	// Errors contains expectation and assertion failures.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Run is the engine result.
	Run *engine.Result `json:"run"`

	// Executed lists the steps whose action ran, in execution order.
	Executed []ExecutedStep `json:"executed"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:     true,
		Errors:   []string{},
		Executed: []ExecutedStep{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// ExecutedSteps returns the step texts of the executed trace.
func (r *Result) ExecutedSteps() []string {
	out := make([]string, len(r.Executed))
	for i, e := range r.Executed {
		out[i] = e.Step
	}
	return out
}
