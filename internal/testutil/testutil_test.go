package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/kerncheck/internal/engine"
	"github.com/roach88/kerncheck/internal/pipeline"
)

var (
	_ pipeline.Sequencer    = (*SeqClock)(nil)
	_ engine.RunIDGenerator = (*RunIDs)(nil)
)

func TestSeqClock_NextAndReset(t *testing.T) {
	c := NewSeqClock()
	assert.Equal(t, int64(1), c.Next())
	assert.Equal(t, int64(2), c.Next())

	c.Reset()
	assert.Equal(t, int64(1), c.Next())
}

func TestSeqClock_ConcurrentUnique(t *testing.T) {
	c := NewSeqClock()
	var mu sync.Mutex
	seen := make(map[int64]bool)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				v := c.Next()
				mu.Lock()
				seen[v] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 800)
	assert.Equal(t, int64(801), c.Next())
}

func TestWallClock(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c := NewWallClock(start, time.Minute)
	assert.Equal(t, start, c.Now())
	assert.Equal(t, start.Add(time.Minute), c.Now())

	frozen := NewWallClock(start, 0)
	assert.Equal(t, frozen.Now(), frozen.Now())
}

func TestRunIDs(t *testing.T) {
	g := NewRunIDs("")
	assert.Equal(t, "test-run-0001", g.Generate())
	assert.Equal(t, "test-run-0002", g.Generate())

	assert.Equal(t, "nightly-0001", NewRunIDs("nightly").Generate())
}
