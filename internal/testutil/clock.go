// Package testutil holds deterministic stand-ins for the run's sources of
// nondeterminism: the logical clock, wall time and run IDs.
package testutil

import (
	"sync"
	"time"
)

// SeqClock is a resettable logical clock. It satisfies pipeline.Sequencer,
// so a test can run the same pipeline twice and compare commit sequences.
//
// Thread-safety: all methods are safe for concurrent use.
type SeqClock struct {
	mu  sync.Mutex
	seq int64
}

// NewSeqClock creates a clock whose first Next returns 1.
func NewSeqClock() *SeqClock {
	return &SeqClock{}
}

// Next increments and returns the sequence number.
func (c *SeqClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// Reset rewinds the clock to 0.
func (c *SeqClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = 0
}

// WallClock returns start, start+step, start+2*step, ... from Now.
type WallClock struct {
	mu   sync.Mutex
	next time.Time
	step time.Duration
}

// NewWallClock creates a wall clock. A zero step freezes time at start.
func NewWallClock(start time.Time, step time.Duration) *WallClock {
	return &WallClock{next: start, step: step}
}

// Now returns the current fake time and advances the clock.
func (c *WallClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.next
	c.next = c.next.Add(c.step)
	return t
}
