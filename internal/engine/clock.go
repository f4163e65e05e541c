package engine

import "sync/atomic"

// Clock is a monotonic logical clock for journal ordering. Entries recorded
// in the same nanosecond by concurrent stories still get a defined order.
//
// Thread-safety: Clock is safe for concurrent use.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number. Every call returns a unique,
// increasing value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}
