package tree

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/verdict/internal/eventbus"
	"github.com/roach88/verdict/internal/softassert"
	"github.com/roach88/verdict/internal/status"
)

// Failure is one collected failure message.
type Failure struct {
	Story   string `json:"story"`
	Message string `json:"message"`
}

// Recorder turns run lifecycle callbacks into a resolved Tree per story.
//
// Each top-level story gets its own Tree carried in the story's context;
// given stories nest inside the tree of the story that runs them. Counts go
// to the shared Statistics, and the Recorder also tracks the worst status of
// the whole run and, optionally, every failure message.
//
// Lifecycle for one story:
//
//	ctx = r.BeforeStory(ctx, path)
//	r.BeforeScenario(ctx, title, len(steps))
//	r.BeforeStep(ctx, text); r.Successful(ctx) // or Failed/Pending/Ignorable/NotPerformed
//	r.AfterScenario(ctx)
//	r.AfterStory(ctx)
//
// Thread-safety: callbacks for different stories may run concurrently;
// callbacks for one story must be sequential.
type Recorder struct {
	stats   *Statistics
	overall status.Accumulator
	logger  *slog.Logger

	collectFailures bool
	mu              sync.Mutex
	failures        []Failure
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithFailures enables collection of failure messages.
func WithFailures(collect bool) RecorderOption {
	return func(r *Recorder) { r.collectFailures = collect }
}

// WithRecorderLogger sets the logger. Default: slog.Default().
func WithRecorderLogger(l *slog.Logger) RecorderOption {
	return func(r *Recorder) { r.logger = l }
}

// NewRecorder creates a Recorder counting into stats and subscribes it to
// FailureNotification so soft assertion failures degrade the running step.
func NewRecorder(bus *eventbus.Bus, stats *Statistics, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		stats:  stats,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	eventbus.Subscribe(bus, r.onFailure)
	return r
}

// cursor tracks the open nodes of one story's tree, innermost last.
type cursor struct {
	tree  *Tree
	story string
	open  []NodeID
}

func (c *cursor) tail() NodeID {
	return c.open[len(c.open)-1]
}

type cursorKey struct{}

func cursorFrom(ctx context.Context) *cursor {
	c, _ := ctx.Value(cursorKey{}).(*cursor)
	return c
}

func (r *Recorder) mustCursor(ctx context.Context, callback string) *cursor {
	c := cursorFrom(ctx)
	if c == nil || len(c.open) == 0 {
		panic(fmt.Sprintf("tree: %s called outside a story", callback))
	}
	return c
}

// BeforeStory opens a story node. Called with a context that already carries
// a story, it opens a given story nested under the current node. The
// returned context must be used for every callback of the story.
func (r *Recorder) BeforeStory(ctx context.Context, path string) context.Context {
	if c := cursorFrom(ctx); c != nil && len(c.open) > 0 {
		c.open = append(c.open, c.tree.AddChild(c.tail(), LevelStory, path))
		return ctx
	}
	t := New(r.stats)
	c := &cursor{tree: t, story: path, open: []NodeID{t.AddRoot(LevelStory, path)}}
	return context.WithValue(ctx, cursorKey{}, c)
}

// AfterStory resolves the current story node. For a top-level story it
// returns the finished tree and true.
func (r *Recorder) AfterStory(ctx context.Context) (*Tree, bool) {
	c := r.mustCursor(ctx, "AfterStory")
	r.endNode(c)
	return c.tree, len(c.open) == 0
}

// BeforeScenario opens a scenario node. declaredSteps is the number of steps
// the scenario contains; a scenario that declared steps but ran none
// resolves to Skipped.
func (r *Recorder) BeforeScenario(ctx context.Context, title string, declaredSteps int) {
	c := r.mustCursor(ctx, "BeforeScenario")
	id := c.tree.AddChild(c.tail(), LevelScenario, title)
	if declaredSteps > 0 {
		c.tree.DeclareChildren(id)
	}
	c.open = append(c.open, id)
}

// ScenarioExcluded marks the run as having skipped a scenario by filter.
func (r *Recorder) ScenarioExcluded(ctx context.Context) {
	r.overall.Observe(status.Skipped)
}

// AfterScenario resolves the current scenario node.
func (r *Recorder) AfterScenario(ctx context.Context) status.Status {
	return r.endNode(r.mustCursor(ctx, "AfterScenario"))
}

// BeforeStep opens a step node under the current node, which may itself be
// a step when steps are nested.
func (r *Recorder) BeforeStep(ctx context.Context, text string) {
	c := r.mustCursor(ctx, "BeforeStep")
	c.open = append(c.open, c.tree.AddChild(c.tail(), LevelStep, text))
}

// Successful ends the current step as Passed unless failures were observed.
func (r *Recorder) Successful(ctx context.Context) {
	r.endStep(ctx, status.Passed)
}

// Ignorable ends the current step as Skipped.
func (r *Recorder) Ignorable(ctx context.Context) {
	r.endStep(ctx, status.Skipped)
}

// Pending ends the current step as Pending.
func (r *Recorder) Pending(ctx context.Context) {
	r.endStep(ctx, status.Pending)
}

// NotPerformed ends the current step as Skipped: an earlier failure stopped
// the test case before it could run.
func (r *Recorder) NotPerformed(ctx context.Context) {
	r.endStep(ctx, status.Skipped)
}

// Failed records err against the current node. When a step is open it is
// ended with the classified status; otherwise the failure (for example an
// end-of-scenario verification) degrades the enclosing node.
func (r *Recorder) Failed(ctx context.Context, err error) status.Status {
	c := r.mustCursor(ctx, "Failed")
	s := status.ClassifyFailure(err)
	if s == status.Broken && err != nil {
		r.addFailure(c, err.Error())
	}
	c.tree.Observe(c.tail(), s)
	if c.tree.Node(c.tail()).Level == LevelStep {
		r.endNode(c)
	}
	r.overall.Observe(s)
	return s
}

func (r *Recorder) endStep(ctx context.Context, s status.Status) {
	c := r.mustCursor(ctx, "step end")
	if c.tree.Node(c.tail()).Level != LevelStep {
		panic("tree: step end without an open step")
	}
	c.tree.Observe(c.tail(), s)
	r.endNode(c)
	r.overall.Observe(s)
}

func (r *Recorder) endNode(c *cursor) status.Status {
	id := c.tail()
	s := c.tree.Finish(id)
	c.open = c.open[:len(c.open)-1]
	n := c.tree.Node(id)
	r.logger.Debug("node resolved",
		"story", c.story,
		"level", n.Level.String(),
		"title", n.Title,
		"status", s.String(),
	)
	return s
}

// onFailure degrades the current node and the overall status, so the run
// verdict is never better than its worst node even when a step drops the
// hard error.
func (r *Recorder) onFailure(ctx context.Context, n softassert.FailureNotification) error {
	s := status.ClassifyEvent(n)
	r.overall.Observe(s)
	c := cursorFrom(ctx)
	if c == nil || len(c.open) == 0 {
		return nil
	}
	if se := n.SoftAssertionError(); se != nil {
		r.addFailure(c, se.Error())
	}
	c.tree.Observe(c.tail(), s)
	return nil
}

func (r *Recorder) addFailure(c *cursor, message string) {
	if !r.collectFailures {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, Failure{Story: c.story, Message: message})
}

// Observe folds s into the overall run status without touching any tree.
func (r *Recorder) Observe(s status.Status) {
	r.overall.Observe(s)
}

// Status returns the worst status observed in the run, if any.
func (r *Recorder) Status() (status.Status, bool) {
	return r.overall.Status()
}

// ExitCode derives the process exit code from the overall status.
func (r *Recorder) ExitCode() status.ExitCode {
	return status.ExitCodeFor(r.overall.Status())
}

// Failures returns a copy of the collected failures, or nil when collection
// is disabled.
func (r *Recorder) Failures() []Failure {
	if !r.collectFailures {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Failure{}, r.failures...)
}

// Statistics returns the counters the recorder writes to.
func (r *Recorder) Statistics() *Statistics {
	return r.stats
}
