package testutil

import (
	"fmt"
	"sync"
)

// RunIDs hands out "<prefix>-0001", "<prefix>-0002", ... in call order. It
// satisfies engine.RunIDGenerator.
type RunIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewRunIDs creates a generator. An empty prefix means "test-run".
func NewRunIDs(prefix string) *RunIDs {
	if prefix == "" {
		prefix = "test-run"
	}
	return &RunIDs{prefix: prefix}
}

// Generate returns the next run ID.
func (g *RunIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}
