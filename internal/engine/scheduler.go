package engine

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/kerncheck/internal/pipeline"
)

// State is the scheduling state of a node.
type State int

const (
	Pending State = iota
	Running
	Passed
	Failed
	Skipped
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Passed:
		return "passed"
	case Failed:
		return "failed"
	case Skipped:
		return "skipped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether the node finished one way or another.
func (s State) Terminal() bool {
	return s == Passed || s == Failed || s == Skipped
}

// NodeResult is the outcome of one node.
type NodeResult struct {
	Name     string
	State    State
	Err      error
	Duration time.Duration
}

// Result is the outcome of a scheduler run.
type Result struct {
	nodes map[string]*NodeResult
	// Started lists node names in the order their actions started.
	Started []string
}

// Node returns the result for name.
func (r *Result) Node(name string) NodeResult {
	if n, ok := r.nodes[name]; ok {
		return *n
	}
	return NodeResult{Name: name, State: Pending}
}

// Count returns how many nodes ended in state s.
func (r *Result) Count(s State) int {
	n := 0
	for _, nr := range r.nodes {
		if nr.State == s {
			n++
		}
	}
	return n
}

// Scheduler runs a Graph.
type Scheduler struct {
	// Jobs bounds concurrent actions. Values below 2 run serially.
	Jobs   int
	Logger *slog.Logger
}

type outcome struct {
	idx      int
	err      error
	duration time.Duration
}

// Run executes every node of g. Node failures are recorded in the Result;
// the returned error is reserved for scheduler faults.
func (s *Scheduler) Run(ctx context.Context, g *Graph) (*Result, error) {
	if g == nil {
		return nil, invalidf("nil graph")
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	r := &run{
		g:       g,
		logger:  logger,
		states:  make([]State, g.Len()),
		results: make([]*NodeResult, g.Len()),
		indeg:   make([]int, g.Len()),
		ready:   &intMinHeap{},
	}
	for i, n := range g.nodes {
		r.results[i] = &NodeResult{Name: n.Name, State: Pending}
		r.indeg[i] = len(g.incoming[i])
		if r.indeg[i] == 0 {
			heap.Push(r.ready, i)
		}
	}

	jobs := s.Jobs
	if jobs < 2 {
		r.serial(ctx)
	} else {
		r.parallel(ctx, jobs)
	}

	if r.finished != g.Len() {
		return nil, fmt.Errorf("scheduler stalled with %d of %d nodes finished", r.finished, g.Len())
	}

	res := &Result{nodes: make(map[string]*NodeResult, g.Len()), Started: r.started}
	for i, nr := range r.results {
		nr.State = r.states[i]
		res.nodes[nr.Name] = nr
	}
	return res, nil
}

// run holds coordinator-owned state. Only the coordinator goroutine touches it.
type run struct {
	g        *Graph
	logger   *slog.Logger
	states   []State
	results  []*NodeResult
	indeg    []int
	ready    *intMinHeap
	started  []string
	finished int
}

func (r *run) serial(ctx context.Context) {
	for r.ready.Len() > 0 {
		idx := heap.Pop(r.ready).(int)
		if r.cancelIfDone(ctx, idx) {
			continue
		}
		r.start(idx)
		r.complete(invoke(ctx, idx, r.g.nodes[idx]))
	}
}

func (r *run) parallel(ctx context.Context, jobs int) {
	var eg errgroup.Group
	eg.SetLimit(jobs)

	done := make(chan outcome, r.g.Len())
	inFlight := 0

	for {
		for r.ready.Len() > 0 {
			idx := heap.Pop(r.ready).(int)
			if r.cancelIfDone(ctx, idx) {
				continue
			}
			r.start(idx)
			inFlight++
			node := r.g.nodes[idx]
			eg.Go(func() error {
				done <- invoke(ctx, idx, node)
				return nil
			})
		}
		if inFlight == 0 {
			break
		}
		o := <-done
		inFlight--
		r.complete(o)
	}

	_ = eg.Wait()
}

func (r *run) start(idx int) {
	r.states[idx] = Running
	r.started = append(r.started, r.g.nodes[idx].Name)
	r.logger.Debug("node started", "node", r.g.nodes[idx].Name)
}

// cancelIfDone fails a ready node without running it once ctx is done.
func (r *run) cancelIfDone(ctx context.Context, idx int) bool {
	cerr := ctx.Err()
	if cerr == nil {
		return false
	}
	n := r.g.nodes[idx]
	r.fail(idx, &pipeline.StageFailure{
		Stage:   n.Stage,
		Message: "canceled before start: " + cerr.Error(),
		Err:     cerr,
	})
	return true
}

func (r *run) complete(o outcome) {
	r.results[o.idx].Duration = o.duration
	if o.err != nil {
		r.fail(o.idx, o.err)
		return
	}

	r.states[o.idx] = Passed
	r.finished++
	r.logger.Debug("node passed", "node", r.g.nodes[o.idx].Name, "duration", o.duration)

	for _, m := range r.g.outgoing[o.idx] {
		r.indeg[m]--
		if r.indeg[m] == 0 && r.states[m] == Pending {
			heap.Push(r.ready, m)
		}
	}
}

// fail marks idx failed and skips every pending transitive dependent.
func (r *run) fail(idx int, err error) {
	failed := r.g.nodes[idx]
	r.states[idx] = Failed
	r.results[idx].Err = err
	r.finished++
	r.logger.Debug("node failed", "node", failed.Name, "error", err)

	cause := err
	var dep *pipeline.DependencyFailure
	if errors.As(err, &dep) {
		cause = dep.Cause
	}

	for _, d := range r.g.reachable(idx) {
		if r.states[d] != Pending {
			continue
		}
		r.states[d] = Skipped
		r.results[d].Err = &pipeline.DependencyFailure{
			Stage:    r.g.nodes[d].Stage,
			Upstream: failed.Stage,
			Cause:    cause,
		}
		r.finished++
		r.logger.Debug("node skipped", "node", r.g.nodes[d].Name, "upstream", failed.Name)
	}
}

func invoke(ctx context.Context, idx int, n Node) (o outcome) {
	o.idx = idx
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			o.err = &pipeline.StageFailure{Stage: n.Stage, Message: fmt.Sprintf("panic: %v", p)}
		}
		o.duration = time.Since(start)
	}()

	if n.Action != nil {
		o.err = n.Action(ctx)
	}
	return o
}
