package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/roach88/verdict/internal/config"
	"github.com/roach88/verdict/internal/engine"
	"github.com/roach88/verdict/internal/runctx"
	"github.com/roach88/verdict/internal/softassert"
	"github.com/roach88/verdict/internal/status"
)

// FrozenTime is the start time of deterministic runs.
var FrozenTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// Option configures a suite execution.
type Option func(*options)

type options struct {
	cfg        *config.Config
	engineOpts []engine.EngineOption
}

// WithConfig runs the suite with cfg instead of the suite's config section.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithEngineOptions passes opts to the engine after the deterministic
// defaults, so they override them.
func WithEngineOptions(opts ...engine.EngineOption) Option {
	return func(o *options) { o.engineOpts = append(o.engineOpts, opts...) }
}

// Harness executes one suite.
type Harness struct {
	suite *Suite

	mu       sync.Mutex
	executed []ExecutedStep
}

// Run executes a suite and returns the result.
//
// Execution flow:
//  1. Build the run configuration (suite config section or WithConfig)
//  2. Build engine stories from the scripted stories
//  3. Run the engine with a fixed run ID and frozen clock (unless overridden)
//  4. Check the expectation and evaluate assertions
//
// The returned error reports suites that cannot run; a run that does not
// match its expectation is reported through Result.Pass.
func Run(ctx context.Context, suite *Suite, opts ...Option) (*Result, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	cfg := o.cfg
	if cfg == nil {
		var err error
		if cfg, err = suite.Configuration(); err != nil {
			return nil, err
		}
	}

	h := &Harness{suite: suite}
	stories, err := h.build()
	if err != nil {
		return nil, err
	}

	engineOpts := append([]engine.EngineOption{
		engine.WithRunIDGenerator(engine.NewFixedGenerator("run-" + suite.Name)),
		engine.WithNow(func() time.Time { return FrozenTime }),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, o.engineOpts...)

	eng, err := engine.New(cfg, engineOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	run, err := eng.Run(ctx, stories)
	if err != nil {
		return nil, fmt.Errorf("failed to run suite %s: %w", suite.Name, err)
	}

	result := NewResult()
	result.Run = run
	result.Executed = h.trace()

	for _, msg := range checkExpectation(suite.Expect, run) {
		result.AddError(msg)
	}
	for _, msg := range EvaluateAssertions(result, suite.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// build converts the scripted stories into engine stories. Given stories
// are shared between the stories referencing them.
func (h *Harness) build() ([]*engine.Story, error) {
	defs := make(map[string]StoryDef, len(h.suite.Given)+len(h.suite.Stories))
	for _, d := range h.suite.Given {
		defs[d.Path] = d
	}
	for _, d := range h.suite.Stories {
		defs[d.Path] = d
	}

	b := &builder{h: h, defs: defs, built: map[string]*engine.Story{}, visiting: map[string]bool{}}
	stories := make([]*engine.Story, 0, len(h.suite.Stories))
	for _, d := range h.suite.Stories {
		s, err := b.story(d.Path)
		if err != nil {
			return nil, err
		}
		stories = append(stories, s)
	}
	return stories, nil
}

type builder struct {
	h        *Harness
	defs     map[string]StoryDef
	built    map[string]*engine.Story
	visiting map[string]bool
}

func (b *builder) story(path string) (*engine.Story, error) {
	if s, ok := b.built[path]; ok {
		return s, nil
	}
	if b.visiting[path] {
		return nil, fmt.Errorf("given story cycle through %q", path)
	}
	def, ok := b.defs[path]
	if !ok {
		return nil, fmt.Errorf("unknown given story %q", path)
	}
	b.visiting[path] = true
	defer delete(b.visiting, path)

	s := &engine.Story{Path: def.Path}
	var err error
	if s.GivenStories, err = b.givens(def.GivenStories); err != nil {
		return nil, err
	}
	for _, sd := range def.Scenarios {
		sc := engine.Scenario{Title: sd.Title, Excluded: sd.Excluded, Steps: b.h.steps(sd.Steps)}
		if sc.GivenStories, err = b.givens(sd.GivenStories); err != nil {
			return nil, err
		}
		s.Scenarios = append(s.Scenarios, sc)
	}
	b.built[path] = s
	return s, nil
}

func (b *builder) givens(paths []string) ([]*engine.Story, error) {
	var out []*engine.Story
	for _, p := range paths {
		s, err := b.story(p)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (h *Harness) steps(defs []StepDef) []engine.Step {
	steps := make([]engine.Step, len(defs))
	for i, d := range defs {
		steps[i] = engine.Step{Text: d.Text}
		if d.action() == ActionComposite {
			steps[i].Steps = h.steps(d.Steps)
			continue
		}
		steps[i].Run = h.action(d)
	}
	return steps
}

// action returns the step function performing d's scripted action.
func (h *Harness) action(d StepDef) engine.StepFunc {
	return func(ctx context.Context, tc *engine.TestCase) error {
		h.record(ctx, d.Text)
		switch d.action() {
		case ActionAssertFail:
			return tc.Fail(d.description(), d.errorOptions()...)
		case ActionError:
			return errors.New(d.description())
		case ActionPanic:
			panic(d.description())
		case ActionPending:
			return engine.ErrPending
		case ActionSkip:
			return engine.ErrIgnorable
		case ActionEnableFailFast:
			tc.EnableFailFast()
			return nil
		case ActionDisableFailFast:
			tc.DisableFailFast()
			return nil
		default:
			return tc.Pass(d.description())
		}
	}
}

func (d StepDef) errorOptions() []softassert.ErrorOption {
	var opts []softassert.ErrorOption
	if d.KnownIssue != "" {
		opts = append(opts, softassert.WithKnownIssue(softassert.KnownIssue{
			ID:               d.KnownIssue,
			PotentiallyKnown: d.PotentiallyKnown,
		}))
	}
	if d.FailTestCaseFast {
		opts = append(opts, softassert.WithFailTestCaseFast())
	}
	if d.FailTestSuiteFast {
		opts = append(opts, softassert.WithFailTestSuiteFast())
	}
	return opts
}

func (h *Harness) record(ctx context.Context, step string) {
	e := ExecutedStep{Scenario: runctx.Scenario(ctx), Step: step}
	if s, ok := runctx.StoryFrom(ctx); ok {
		e.Story = s.Path
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.executed = append(h.executed, e)
}

func (h *Harness) trace() []ExecutedStep {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]ExecutedStep{}, h.executed...)
}

// checkExpectation compares the overall outcome with exp.
func checkExpectation(exp Expectation, run *engine.Result) []string {
	var errs []string
	if exp.Status != "" {
		if got := statusName(run.Status, run.Observed); got != strings.ToUpper(exp.Status) {
			errs = append(errs, fmt.Sprintf("expected status %s, got %s", exp.Status, got))
		}
	}
	if exp.ExitCode != nil && int(run.ExitCode) != *exp.ExitCode {
		errs = append(errs, fmt.Sprintf("expected exit code %d, got %d", *exp.ExitCode, int(run.ExitCode)))
	}
	return errs
}

func statusName(s status.Status, observed bool) string {
	if !observed {
		return NoStatus
	}
	return s.String()
}
