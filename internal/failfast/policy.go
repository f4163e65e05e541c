package failfast

import (
	"context"
	"sync/atomic"
)

// BatchProvider answers the per-batch fail-fast override.
// ok == false means the batch inherits the process default.
type BatchProvider interface {
	FailTestCaseFast(batchID string) (value bool, ok bool)
}

// Defaults holds the process-level fail-fast default.
//
// Thread-safety: safe for concurrent use.
type Defaults struct {
	failTestCaseFast atomic.Bool
}

// NewDefaults creates defaults with the given process-level flag.
func NewDefaults(failTestCaseFast bool) *Defaults {
	d := &Defaults{}
	d.failTestCaseFast.Store(failTestCaseFast)
	return d
}

// FailTestCaseFast returns the process-level default.
func (d *Defaults) FailTestCaseFast() bool {
	return d.failTestCaseFast.Load()
}

// SetFailTestCaseFast changes the process-level default. Scopes that have
// already resolved their policy keep their cached value.
func (d *Defaults) SetFailTestCaseFast(v bool) {
	d.failTestCaseFast.Store(v)
}

// Resolve computes the effective policy for batchID without caching:
// the batch override if present, else the process default.
func Resolve(batchID string, provider BatchProvider, defaults *Defaults) bool {
	if provider != nil {
		if v, ok := provider.FailTestCaseFast(batchID); ok {
			return v
		}
	}
	return defaults != nil && defaults.FailTestCaseFast()
}

// Scope memoizes the fail-fast policy of one test case.
//
// A Scope is created when a test case starts and closed when it ends; the
// next test case gets a fresh Scope, so a cached value never outlives its
// test case. A Scope belongs to a single test case and is not synchronized.
type Scope struct {
	batchID  string
	provider BatchProvider
	defaults *Defaults

	resolved bool
	value    bool
	closed   bool
}

// NewScope creates an unresolved scope for a test case running in batchID.
func NewScope(batchID string, provider BatchProvider, defaults *Defaults) *Scope {
	return &Scope{
		batchID:  batchID,
		provider: provider,
		defaults: defaults,
	}
}

// BatchID returns the batch the scope was opened in.
func (s *Scope) BatchID() string {
	return s.batchID
}

// IsFailTestCaseFast returns the effective policy, resolving it on first use.
//
// Panics if the scope has been closed.
func (s *Scope) IsFailTestCaseFast() bool {
	s.mustBeOpen()
	if !s.resolved {
		s.value = Resolve(s.batchID, s.provider, s.defaults)
		s.resolved = true
	}
	return s.value
}

// EnableTestCaseFailFast overrides the policy to true for the rest of the scope.
func (s *Scope) EnableTestCaseFailFast() {
	s.set(true)
}

// DisableTestCaseFailFast overrides the policy to false for the rest of the scope.
func (s *Scope) DisableTestCaseFailFast() {
	s.set(false)
}

func (s *Scope) set(v bool) {
	s.mustBeOpen()
	s.value = v
	s.resolved = true
}

// Close releases the scope. Closing twice is a no-op.
func (s *Scope) Close() {
	s.closed = true
	s.resolved = false
	s.value = false
}

// Closed reports whether Close has been called.
func (s *Scope) Closed() bool {
	return s.closed
}

func (s *Scope) mustBeOpen() {
	if s.closed {
		panic("failfast: scope used after its test case ended (batch " + s.batchID + ")")
	}
}

type scopeKey struct{}

// WithScope returns a context carrying s as the current test case's scope.
func WithScope(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// ScopeFrom returns the current test case's scope, if any.
func ScopeFrom(ctx context.Context) (*Scope, bool) {
	s, ok := ctx.Value(scopeKey{}).(*Scope)
	return s, ok && s != nil
}
