// Package metrics exposes run outcomes as Prometheus metrics.
//
// Every Metrics value owns its registry, so concurrent runs (and tests) never
// share counters. A finished run can be dumped in the text exposition format
// for a node-exporter textfile collector.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric name.
const Namespace = "verdict"

// Metrics holds the run counters.
//
// Thread-safety: safe for concurrent use.
type Metrics struct {
	registry *prometheus.Registry

	nodes       *prometheus.CounterVec
	failures    *prometheus.CounterVec
	triggers    prometheus.Counter
	storyAborts prometheus.Counter
	duration    prometheus.Gauge
}

// New creates metrics registered on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		nodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "nodes_total",
			Help:      "Resolved execution nodes by level and terminal status.",
		}, []string{"level", "status"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "failures_total",
			Help:      "Soft assertion failures by classification.",
		}, []string{"classification"}),
		triggers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "verification_triggers_total",
			Help:      "Fail-fast verifications triggered mid test case.",
		}),
		storyAborts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "story_aborts_total",
			Help:      "Stories whose remaining test cases were abandoned after a suite-fatal failure.",
		}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of the last finished run.",
		}),
	}
	m.registry.MustRegister(m.nodes, m.failures, m.triggers, m.storyAborts, m.duration)
	return m
}

// Registry returns the registry holding every metric.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveNode counts a resolved node.
func (m *Metrics) ObserveNode(level, status string) {
	m.nodes.WithLabelValues(level, status).Inc()
}

// ObserveFailure counts a soft assertion failure by its classification.
func (m *Metrics) ObserveFailure(classification string) {
	m.failures.WithLabelValues(classification).Inc()
}

// ObserveVerificationTrigger counts a fail-fast verification.
func (m *Metrics) ObserveVerificationTrigger() {
	m.triggers.Inc()
}

// ObserveStoryAbort counts a story abort.
func (m *Metrics) ObserveStoryAbort() {
	m.storyAborts.Inc()
}

// SetRunDuration records the duration of the run in seconds.
func (m *Metrics) SetRunDuration(seconds float64) {
	m.duration.Set(seconds)
}

// WriteTextfile writes every metric to path in the text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics to %s: %w", path, err)
	}
	return nil
}
