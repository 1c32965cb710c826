package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kerncheck/internal/pipeline"
)

var functionalStages = []string{"mkdir", "download", "config", "generate", "build", "run", "verify"}

func TestScheduler_SerialOrderIsCanonical(t *testing.T) {
	nodes := append(chain("a/Test", "mkdir", "build"), chain("b/Test", "mkdir", "build")...)
	g, err := NewGraph(nodes)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		res, err := (&Scheduler{Jobs: 1}).Run(context.Background(), g)
		require.NoError(t, err)
		assert.Equal(t, g.TopologicalOrder(), res.Started)
		assert.Equal(t, 4, res.Count(Passed))
	}
}

func TestScheduler_BuildFailureCascades(t *testing.T) {
	failing := chain("failing/Test", functionalStages...)
	for i := range failing {
		if failing[i].Stage == "build" {
			failing[i].Action = func(ctx context.Context) error {
				return &pipeline.StageFailure{Stage: "build", Message: "make: *** [kernel] Error 2"}
			}
		}
	}

	var ran sync.Map
	healthy := chain("healthy/Test", functionalStages...)
	for i := range healthy {
		name := healthy[i].Name
		healthy[i].Action = func(ctx context.Context) error {
			ran.Store(name, true)
			return nil
		}
	}

	g, err := NewGraph(append(failing, healthy...))
	require.NoError(t, err)

	for _, jobs := range []int{1, 4} {
		res, err := (&Scheduler{Jobs: jobs}).Run(context.Background(), g)
		require.NoError(t, err)

		assert.Equal(t, Passed, res.Node("failing/Test:config").State)
		assert.Equal(t, Failed, res.Node("failing/Test:build").State)

		for _, stage := range []string{"run", "verify"} {
			nr := res.Node("failing/Test:" + stage)
			assert.Equal(t, Skipped, nr.State, stage)

			var dep *pipeline.DependencyFailure
			require.True(t, errors.As(nr.Err, &dep))
			assert.Equal(t, stage, dep.Stage)
			assert.Equal(t, "build", dep.Upstream)
			assert.Equal(t, "make: *** [kernel] Error 2", pipeline.RootCause(nr.Err).Message)
		}

		for _, stage := range functionalStages {
			assert.Equal(t, Passed, res.Node("healthy/Test:"+stage).State, stage)
			_, ok := ran.Load("healthy/Test:" + stage)
			assert.True(t, ok)
		}
		assert.NotContains(t, res.Started, "failing/Test:run")
	}
}

func TestScheduler_ParallelRunsIndependentNodesConcurrently(t *testing.T) {
	// Each node waits until the other has started, which only completes if
	// both run at the same time.
	var wg sync.WaitGroup
	wg.Add(2)
	rendezvous := func(ctx context.Context) error {
		wg.Done()
		ch := make(chan struct{})
		go func() { wg.Wait(); close(ch) }()
		select {
		case <-ch:
			return nil
		case <-time.After(5 * time.Second):
			return errors.New("peer never started")
		}
	}

	g, err := NewGraph([]Node{
		{Name: "a/Test:download", Test: "a/Test", Stage: "download", Action: rendezvous},
		{Name: "b/Test:download", Test: "b/Test", Stage: "download", Action: rendezvous},
	})
	require.NoError(t, err)

	res, err := (&Scheduler{Jobs: 2}).Run(context.Background(), g)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count(Passed))
}

func TestScheduler_ParallelRespectsLimit(t *testing.T) {
	var running, peak atomic.Int32
	action := func(ctx context.Context) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return nil
	}

	var nodes []Node
	for _, test := range []string{"a", "b", "c", "d", "e", "f"} {
		nodes = append(nodes, Node{Name: test + ":run", Test: test, Stage: "run", Action: action})
	}
	g, err := NewGraph(nodes)
	require.NoError(t, err)

	res, err := (&Scheduler{Jobs: 3}).Run(context.Background(), g)
	require.NoError(t, err)
	assert.Equal(t, 6, res.Count(Passed))
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestScheduler_CancellationFailsUnstartedNodes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	nodes := chain("a/Test", "mkdir", "build", "run")
	nodes[0].Action = func(context.Context) error {
		cancel()
		return nil
	}
	nodes = append(nodes, Node{Name: "b/Test:mkdir", Test: "b/Test", Stage: "mkdir"})

	g, err := NewGraph(nodes)
	require.NoError(t, err)

	res, err := (&Scheduler{Jobs: 1}).Run(ctx, g)
	require.NoError(t, err)

	assert.Equal(t, Passed, res.Node("a/Test:mkdir").State)

	build := res.Node("a/Test:build")
	assert.Equal(t, Failed, build.State)
	sf := pipeline.RootCause(build.Err)
	require.NotNil(t, sf)
	assert.True(t, sf.Canceled())

	assert.Equal(t, Skipped, res.Node("a/Test:run").State)
	assert.Equal(t, Failed, res.Node("b/Test:mkdir").State)
	assert.Equal(t, []string{"a/Test:mkdir"}, res.Started)
}

func TestScheduler_PanicBecomesFailure(t *testing.T) {
	nodes := chain("a/Test", "generate", "build")
	nodes[0].Action = func(context.Context) error { panic("bad handler") }

	g, err := NewGraph(nodes)
	require.NoError(t, err)

	res, err := (&Scheduler{Jobs: 2}).Run(context.Background(), g)
	require.NoError(t, err)

	assert.Equal(t, Failed, res.Node("a/Test:generate").State)
	assert.Contains(t, res.Node("a/Test:generate").Err.Error(), "panic: bad handler")
	assert.Equal(t, Skipped, res.Node("a/Test:build").State)
}

func TestScheduler_NilGraph(t *testing.T) {
	_, err := (&Scheduler{}).Run(context.Background(), nil)
	assert.True(t, IsSchedulerError(err))
}
