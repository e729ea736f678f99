// Package pipeline owns the DAG, derives its edges from references
// embedded in node configs, picks an execution strategy, and threads a
// shared Context to every node.
package pipeline

import (
	"container/heap"
	"fmt"
	"sort"

	"sitekiln/internal/input"
	"sitekiln/internal/node"
	"sitekiln/internal/noderuntime"
)

type edge struct {
	from int // consumer
	to   int // producer
}

// graph is the validated, immutable DAG derived from a node set. Edge
// direction follows spec.md's "consumer -> producer" convention: from is
// the consumer, to is the dependency that must run first.
type graph struct {
	nodes       []node.Node
	indexByName map[string]int

	outgoing [][]int // consumer -> its producers (deps), sorted
	incoming [][]int // producer -> its consumers, sorted
	indeg    []int   // count of unresolved deps, by node index

	depth []int
}

// buildGraph walks every node's config for node-output references and
// explicit dependencies, deriving edges, then validates acyclicity and
// computes wave depths.
func buildGraph(nodes []node.Node) (*graph, error) {
	if len(nodes) == 0 {
		return nil, &ConfigurationError{Msg: "pipeline has no nodes"}
	}

	indexByName := make(map[string]int, len(nodes))
	for i, n := range nodes {
		if n.Name() == "" {
			return nil, &ConfigurationError{Msg: "node name is required"}
		}
		if _, exists := indexByName[n.Name()]; exists {
			return nil, &ConfigurationError{Msg: fmt.Sprintf("duplicate node name: %q", n.Name())}
		}
		indexByName[n.Name()] = i
	}

	outgoing := make([][]int, len(nodes))
	seen := make([]map[int]struct{}, len(nodes))
	for i := range seen {
		seen[i] = make(map[int]struct{})
	}

	addEdge := func(consumerIdx int, producerName string) error {
		producerIdx, ok := indexByName[producerName]
		if !ok {
			return &ConfigurationError{Msg: fmt.Sprintf("node %q references unknown node %q", nodes[consumerIdx].Name(), producerName)}
		}
		if producerIdx == consumerIdx {
			return &ConfigurationError{Msg: fmt.Sprintf("node %q references itself", nodes[consumerIdx].Name())}
		}
		if _, dup := seen[consumerIdx][producerIdx]; dup {
			return nil
		}
		seen[consumerIdx][producerIdx] = struct{}{}
		outgoing[consumerIdx] = append(outgoing[consumerIdx], producerIdx)
		return nil
	}

	for i, n := range nodes {
		var walkErr error
		noderuntime.WalkConfig(n.Config(),
			func(input.FileRef) {},
			func(ref input.NodeRef) {
				if walkErr == nil {
					walkErr = addEdge(i, ref.Producer)
				}
			},
		)
		if walkErr != nil {
			return nil, walkErr
		}
		for _, dep := range n.ExplicitDependencies() {
			if err := addEdge(i, dep); err != nil {
				return nil, err
			}
		}
	}

	incoming := make([][]int, len(nodes))
	indeg := make([]int, len(nodes))
	for consumer, producers := range outgoing {
		sort.Ints(outgoing[consumer])
		indeg[consumer] = len(producers)
		for _, producer := range producers {
			incoming[producer] = append(incoming[producer], consumer)
		}
	}
	for i := range incoming {
		sort.Ints(incoming[i])
	}

	g := &graph{
		nodes:       nodes,
		indexByName: indexByName,
		outgoing:    outgoing,
		incoming:    incoming,
		indeg:       indeg,
	}

	if cyclePath, ok := g.findCycle(); ok {
		return nil, &ConfigurationError{Msg: fmt.Sprintf("cycle detected: %v", cyclePath)}
	}

	g.depth = g.computeDepth()
	return g, nil
}

// findCycle runs Kahn's algorithm over "consumer depends on producer"
// edges (outgoing here means "needs"); a leftover node after the sweep
// means a cycle exists, reported via a deterministic DFS witness.
func (g *graph) findCycle() ([]string, bool) {
	indeg := make([]int, len(g.indeg))
	copy(indeg, g.indeg)

	ready := &intMinHeap{}
	heap.Init(ready)
	for i, d := range indeg {
		if d == 0 {
			heap.Push(ready, i)
		}
	}
	visited := 0
	for ready.Len() > 0 {
		u := heap.Pop(ready).(int)
		visited++
		for _, consumer := range g.incoming[u] {
			indeg[consumer]--
			if indeg[consumer] == 0 {
				heap.Push(ready, consumer)
			}
		}
	}
	if visited == len(g.nodes) {
		return nil, false
	}
	return g.findCycleWitness(), true
}

func (g *graph) findCycleWitness() []string {
	const (
		white = 0
		gray  = 1
		black = 2
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
			if color[v] == white {
				parent[v] = u
				if dfs(v) {
					return true
				}
				continue
			}
			if color[v] == gray {
				cycle = append(cycle, v)
				cur := u
				for cur != -1 && cur != v {
					cycle = append(cycle, cur)
					cur = parent[cur]
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
	if len(cycle) == 0 {
		return nil
	}
	out := make([]string, len(cycle))
	for i, idx := range cycle {
		out[len(cycle)-1-i] = g.nodes[idx].Name()
	}
	return out
}

// computeDepth assigns depth(n) = 1 + max(depth of deps), leaves = 0.
func (g *graph) computeDepth() []int {
	depth := make([]int, len(g.nodes))
	order := g.topoOrder()
	for _, u := range order {
		max := -1
		for _, dep := range g.outgoing[u] {
			if depth[dep] > max {
				max = depth[dep]
			}
		}
		depth[u] = max + 1
	}
	return depth
}

// topoOrder returns producers-before-consumers order.
func (g *graph) topoOrder() []int {
	indeg := make([]int, len(g.indeg))
	copy(indeg, g.indeg)
	ready := &intMinHeap{}
	heap.Init(ready)
	for i, d := range indeg {
		if d == 0 {
			heap.Push(ready, i)
		}
	}
	out := make([]int, 0, len(g.nodes))
	for ready.Len() > 0 {
		u := heap.Pop(ready).(int)
		out = append(out, u)
		for _, consumer := range g.incoming[u] {
			indeg[consumer]--
			if indeg[consumer] == 0 {
				heap.Push(ready, consumer)
			}
		}
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
