package engine

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/verdict/internal/config"
	"github.com/roach88/verdict/internal/eventbus"
	"github.com/roach88/verdict/internal/failfast"
	"github.com/roach88/verdict/internal/metrics"
	"github.com/roach88/verdict/internal/softassert"
	"github.com/roach88/verdict/internal/status"
	"github.com/roach88/verdict/internal/tree"
)

// Engine executes one test run.
//
// Thread-safety model:
//   - Run(): call once; stories of a batch execute on their own goroutines
//   - OpenTestCase(), Defaults(), Bus(): safe from any goroutine
type Engine struct {
	cfg      *config.Config
	bus      *eventbus.Bus
	defaults *failfast.Defaults

	stats       *tree.Statistics
	recorder    *tree.Recorder
	asserter    *softassert.Asserter
	coordinator *failfast.Coordinator
	metrics     *metrics.Metrics
	journal     *Journal

	runIDGen RunIDGenerator
	now      func() time.Time
	logger   *slog.Logger

	ran     atomic.Bool
	mu      sync.Mutex
	stories []StoryResult
	skipped []string
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithRunIDGenerator sets the run ID generator. Default: UUIDv7Generator.
func WithRunIDGenerator(g RunIDGenerator) EngineOption {
	return func(e *Engine) { e.runIDGen = g }
}

// WithMetrics exports run outcomes to m.
func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithNow overrides the wall clock used for start time and duration.
func WithNow(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine for one run of cfg.
//
// Subscribers are registered in a fixed order: recorder, metrics, journal,
// coordinator, asserter. Every subscriber of a failure therefore observes
// it before a fail-fast verification raised by the coordinator unwinds the
// failing step.
func New(cfg *config.Config, opts ...EngineOption) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	e := &Engine{
		cfg:      cfg,
		bus:      eventbus.New(),
		defaults: failfast.NewDefaults(cfg.FailTestCaseFast),
		runIDGen: UUIDv7Generator{},
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}

	registry, err := cfg.KnownIssueRegistry()
	if err != nil {
		return nil, &RunError{Code: ErrCodeKnownIssues, Message: "cannot compile known issues", Cause: err}
	}

	var statsOpts []tree.StatisticsOption
	if e.metrics != nil {
		m := e.metrics
		statsOpts = append(statsOpts, tree.WithObserver(func(l tree.Level, s status.Status) {
			m.ObserveNode(l.String(), s.String())
		}))
	}
	e.stats = tree.NewStatistics(statsOpts...)
	e.recorder = tree.NewRecorder(e.bus, e.stats,
		tree.WithFailures(cfg.CollectFailures),
		tree.WithRecorderLogger(e.logger),
	)
	if e.metrics != nil {
		e.subscribeMetrics()
	}
	e.journal = newJournal(NewClock())
	e.journal.subscribe(e.bus)
	e.coordinator = failfast.NewCoordinator(e.bus, cfg.Batches, e.defaults, failfast.WithLogger(e.logger))
	e.asserter = softassert.NewAsserter(e.bus,
		softassert.WithKnownIssueChecker(registry),
		softassert.WithLogger(e.logger),
	)
	return e, nil
}

func (e *Engine) subscribeMetrics() {
	m := e.metrics
	eventbus.Subscribe(e.bus, func(_ context.Context, n softassert.FailureNotification) error {
		m.ObserveFailure(status.ClassifyEvent(n).String())
		return nil
	})
	eventbus.Subscribe(e.bus, func(context.Context, softassert.VerificationTrigger) error {
		m.ObserveVerificationTrigger()
		return nil
	})
	eventbus.Subscribe(e.bus, func(context.Context, failfast.StoryAbortRequested) error {
		m.ObserveStoryAbort()
		return nil
	})
}

// Bus returns the run's event bus, for subscribers such as attachment capture.
func (e *Engine) Bus() *eventbus.Bus {
	return e.bus
}

// Defaults returns the run's process-level fail-fast default.
func (e *Engine) Defaults() *failfast.Defaults {
	return e.defaults
}

// Statistics returns the run's level counters.
func (e *Engine) Statistics() *tree.Statistics {
	return e.stats
}

func (e *Engine) addStory(r StoryResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stories = append(e.stories, r)
}

func (e *Engine) storyResults() []StoryResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := append([]StoryResult(nil), e.stories...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].BatchOrder != out[j].BatchOrder {
			return out[i].BatchOrder < out[j].BatchOrder
		}
		return out[i].Index < out[j].Index
	})
	return out
}
