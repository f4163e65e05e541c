package softassert

import (
	"context"
	"sync"
)

// Collection holds the outstanding soft assertion failures of one test case.
//
// A Collection is created when the test case starts and cleared when it ends.
// The mutex only guards against steps that fan out goroutines; a Collection
// is never shared between test cases.
type Collection struct {
	mu     sync.Mutex
	errors []*SoftAssertionError
	count  int
}

// NewCollection creates an empty collection.
func NewCollection() *Collection {
	return &Collection{}
}

func (c *Collection) addPassed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
}

func (c *Collection) addFailed(err *SoftAssertionError) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
	c.errors = append(c.errors, err)
}

// Errors returns a copy of the outstanding failures in record order.
func (c *Collection) Errors() []*SoftAssertionError {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*SoftAssertionError(nil), c.errors...)
}

// AssertionsCount returns the number of assertions recorded so far.
func (c *Collection) AssertionsCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Clear drops all outstanding failures and resets the assertion count.
func (c *Collection) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = nil
	c.count = 0
}

// flush returns a VerificationError for every outstanding entry and clears
// the collection. When onlyIfUnsuppressed is set, nothing is flushed unless
// at least one entry is unsuppressed.
func (c *Collection) flush(onlyIfUnsuppressed bool) *VerificationError {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.errors) == 0 {
		c.count = 0
		return nil
	}

	if onlyIfUnsuppressed {
		raise := false
		for _, e := range c.errors {
			if !e.suppressed() {
				raise = true
				break
			}
		}
		if !raise {
			return nil
		}
	}

	ve := &VerificationError{
		Errors:          c.errors,
		AssertionsCount: c.count,
	}
	c.errors = nil
	c.count = 0
	return ve
}

type collectionKey struct{}

// WithCollection returns a context carrying c as the current test case's collection.
func WithCollection(ctx context.Context, c *Collection) context.Context {
	return context.WithValue(ctx, collectionKey{}, c)
}

// CollectionFrom returns the collection of the current test case, if any.
func CollectionFrom(ctx context.Context) (*Collection, bool) {
	c, ok := ctx.Value(collectionKey{}).(*Collection)
	return c, ok && c != nil
}
