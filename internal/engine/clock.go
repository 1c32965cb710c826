package engine

import "sync/atomic"

// Clock is the monotonic logical clock of a run.
//
// Stage starts and result-store commits are stamped from it, so "a read
// never observes a write later than the reader's start" is a comparison of
// two clock values rather than of wall-clock time.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
// Parallel runs share one clock across all tests.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number and increments the clock.
// Calls are linearizable - each call returns a unique, increasing value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}
