package engine

import (
	"container/heap"
	"context"
	"sort"
)

// Node is one schedulable (test, stage) unit.
type Node struct {
	// Name is the qualified "<testID>:<stage>" name.
	Name  string
	Test  string
	Stage string
	Preds []string
	// Action runs the stage. Nil passes.
	Action func(ctx context.Context) error
}

// QualifiedName builds the node name for a test stage.
func QualifiedName(test, stage string) string {
	return test + ":" + stage
}

// Graph is a validated, immutable DAG of nodes. Canonical order is the
// order nodes were given to NewGraph.
type Graph struct {
	nodes    []Node
	index    map[string]int
	outgoing [][]int
	incoming [][]int
}

// NewGraph validates nodes and builds a Graph.
//
// Validation rejects:
//   - an empty node list
//   - empty or duplicate names
//   - predecessors naming unknown nodes
//   - self-loops and duplicate edges
//   - any cycle
func NewGraph(nodes []Node) (*Graph, error) {
	if len(nodes) == 0 {
		return nil, invalidf("no nodes")
	}

	g := &Graph{
		nodes:    make([]Node, len(nodes)),
		index:    make(map[string]int, len(nodes)),
		outgoing: make([][]int, len(nodes)),
		incoming: make([][]int, len(nodes)),
	}
	for i, n := range nodes {
		if n.Name == "" {
			return nil, invalidf("node %d has empty name", i)
		}
		if _, dup := g.index[n.Name]; dup {
			return nil, invalidf("duplicate node name: %q", n.Name)
		}
		n.Preds = append([]string(nil), n.Preds...)
		g.nodes[i] = n
		g.index[n.Name] = i
	}

	for to, n := range g.nodes {
		seen := make(map[int]bool, len(n.Preds))
		for _, p := range n.Preds {
			from, ok := g.index[p]
			if !ok {
				return nil, invalidf("node %q depends on unknown node %q", n.Name, p)
			}
			if from == to {
				return nil, invalidf("self-loop: %q", n.Name)
			}
			if seen[from] {
				return nil, invalidf("duplicate edge: %q -> %q", p, n.Name)
			}
			seen[from] = true
			g.outgoing[from] = append(g.outgoing[from], to)
			g.incoming[to] = append(g.incoming[to], from)
		}
	}
	for i := range g.outgoing {
		sort.Ints(g.outgoing[i])
		sort.Ints(g.incoming[i])
	}

	if order := g.topoOrder(); len(order) != len(g.nodes) {
		return nil, cycleError(g.findCycle())
	}
	return g, nil
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// Nodes returns the nodes in canonical order.
func (g *Graph) Nodes() []Node {
	out := make([]Node, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Node returns a node by name.
func (g *Graph) Node(name string) (Node, bool) {
	i, ok := g.index[name]
	if !ok {
		return Node{}, false
	}
	return g.nodes[i], true
}

// InDegree returns the number of predecessors of name.
func (g *Graph) InDegree(name string) int {
	i, ok := g.index[name]
	if !ok {
		return 0
	}
	return len(g.incoming[i])
}

// TopologicalOrder returns node names in the order a serial run starts them.
func (g *Graph) TopologicalOrder() []string {
	order := g.topoOrder()
	names := make([]string, len(order))
	for i, idx := range order {
		names[i] = g.nodes[idx].Name
	}
	return names
}

// Dependents returns the transitive dependents of name in canonical order.
func (g *Graph) Dependents(name string) []string {
	start, ok := g.index[name]
	if !ok {
		return nil
	}
	var out []string
	for _, idx := range g.reachable(start) {
		out = append(out, g.nodes[idx].Name)
	}
	return out
}

func (g *Graph) reachable(start int) []int {
	visited := make([]bool, len(g.nodes))
	stack := append([]int(nil), g.outgoing[start]...)
	for len(stack) > 0 {
		u := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[u] {
			continue
		}
		visited[u] = true
		stack = append(stack, g.outgoing[u]...)
	}
	var out []int
	for i, v := range visited {
		if v {
			out = append(out, i)
		}
	}
	return out
}

// topoOrder runs Kahn's algorithm with a min-heap ready queue over canonical
// indices.
func (g *Graph) topoOrder() []int {
	indeg := make([]int, len(g.nodes))
	ready := &intMinHeap{}
	for i := range g.nodes {
		indeg[i] = len(g.incoming[i])
		if indeg[i] == 0 {
			heap.Push(ready, i)
		}
	}

	out := make([]int, 0, len(g.nodes))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(int)
		out = append(out, n)
		for _, m := range g.outgoing[n] {
			indeg[m]--
			if indeg[m] == 0 {
				heap.Push(ready, m)
			}
		}
	}
	return out
}

// findCycle extracts one cycle as a name path, deterministic over canonical
// indices.
func (g *Graph) findCycle() []string {
	const (
		white = iota
		gray
		black
	)

	color := make([]int, len(g.nodes))
	parent := make([]int, len(g.nodes))
	for i := range parent {
		parent[i] = -1
	}

	var cycle []int
	var dfs func(u int) bool
	dfs = func(u int) bool {
		color[u] = gray
		for _, v := range g.outgoing[u] {
			switch color[v] {
			case white:
				parent[v] = u
				if dfs(v) {
					return true
				}
			case gray:
				cycle = append(cycle, v)
				for cur := u; cur != -1 && cur != v; cur = parent[cur] {
					cycle = append(cycle, cur)
				}
				cycle = append(cycle, v)
				return true
			}
		}
		color[u] = black
		return false
	}

	for i := range g.nodes {
		if color[i] == white && dfs(i) {
			break
		}
	}

	out := make([]string, len(cycle))
	for i := range cycle {
		out[i] = g.nodes[cycle[len(cycle)-1-i]].Name
	}
	return out
}

type intMinHeap []int

func (h intMinHeap) Len() int           { return len(h) }
func (h intMinHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intMinHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intMinHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *intMinHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
