package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"sitekiln/internal/ctxlog"
	"sitekiln/internal/node"
	"sitekiln/internal/workerpool"
)

// fakeNode is a minimal node.Node for exercising the graph and scheduler
// without any of the reference node implementations.
type fakeNode struct {
	name    string
	typ     string
	config  map[string]any
	deps    []string
	runFunc func(node.RunContext) ([]node.Output, error)

	mu      sync.Mutex
	started int
}

func (f *fakeNode) Name() string                  { return f.name }
func (f *fakeNode) TypeName() string               { return f.typ }
func (f *fakeNode) Config() map[string]any         { return f.config }
func (f *fakeNode) OutputConfig() map[string]any   { return nil }
func (f *fakeNode) ExplicitDependencies() []string { return f.deps }

func (f *fakeNode) Run(ctx node.RunContext) ([]node.Output, error) {
	f.mu.Lock()
	f.started++
	f.mu.Unlock()
	if f.runFunc != nil {
		return f.runFunc(ctx)
	}
	return []node.Output{{"default": {f.name + "/out"}}}, nil
}

func plainNode(name string, deps ...string) *fakeNode {
	return &fakeNode{name: name, typ: "fake", config: map[string]any{}, deps: deps}
}

func testContext() context.Context {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return ctxlog.WithLogger(context.Background(), logger)
}

func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()
	pool := workerpool.New(4, map[string]workerpool.PerformFunc{})
	t.Cleanup(pool.Terminate)
	return New(t.TempDir(), t.TempDir(), pool)
}

// TestBuildGraph_OrdersByExplicitDependencies verifies a node
// listing another by name in ExplicitDependencies produces a producer
// edge, and the consumer only becomes ready after the producer.
func TestBuildGraph_OrdersByExplicitDependencies(t *testing.T) {
	a := plainNode("a")
	b := plainNode("b", "a")
	g, err := buildGraph([]node.Node{a, b})
	if err != nil {
		t.Fatalf("buildGraph failed: %v", err)
	}
	state := execState{"a": Pending, "b": Pending}
	ready := getReadyNodes(g, state)
	if len(ready) != 1 || ready[0] != "a" {
		t.Fatalf("getReadyNodes = %v, want [a] (b depends on a)", ready)
	}
	state["a"] = Completed
	ready = getReadyNodes(g, state)
	if len(ready) != 1 || ready[0] != "b" {
		t.Fatalf("getReadyNodes after a completes = %v, want [b]", ready)
	}
}

// TestBuildGraph_DetectsCycle verifies a dependency cycle is rejected
// rather than silently accepted or causing a hang.
func TestBuildGraph_DetectsCycle(t *testing.T) {
	a := plainNode("a", "b")
	b := plainNode("b", "a")
	if _, err := buildGraph([]node.Node{a, b}); err == nil {
		t.Error("expected a cycle between a and b to be rejected")
	}
}

// TestBuildGraph_UnknownDependencyErrors verifies referencing a node
// name that doesn't exist in the pipeline is a configuration error.
func TestBuildGraph_UnknownDependencyErrors(t *testing.T) {
	a := plainNode("a", "ghost")
	if _, err := buildGraph([]node.Node{a}); err == nil {
		t.Error("expected a reference to an unknown node to be rejected")
	}
}

// TestBuildGraph_DuplicateNameErrors verifies two nodes sharing a name
// are rejected.
func TestBuildGraph_DuplicateNameErrors(t *testing.T) {
	a1 := plainNode("a")
	a2 := plainNode("a")
	if _, err := buildGraph([]node.Node{a1, a2}); err == nil {
		t.Error("expected duplicate node names to be rejected")
	}
}

// TestBuildGraph_SelfReferenceErrors verifies a node depending on
// itself is rejected rather than producing a trivially cyclic graph.
func TestBuildGraph_SelfReferenceErrors(t *testing.T) {
	a := plainNode("a", "a")
	if _, err := buildGraph([]node.Node{a}); err == nil {
		t.Error("expected a self-referencing node to be rejected")
	}
}

// TestBuildGraph_EmptyNodeSetErrors verifies an empty pipeline is
// rejected rather than silently doing nothing.
func TestBuildGraph_EmptyNodeSetErrors(t *testing.T) {
	if _, err := buildGraph(nil); err == nil {
		t.Error("expected an empty node set to be rejected")
	}
}

// TestGetReadyNodes_OrdersByDepthThenName verifies ready nodes sort by
// wave depth first, then lexically within a depth.
func TestGetReadyNodes_OrdersByDepthThenName(t *testing.T) {
	a := plainNode("a")
	b := plainNode("b")
	c := plainNode("c", "a", "b")
	g, err := buildGraph([]node.Node{a, b, c})
	if err != nil {
		t.Fatalf("buildGraph failed: %v", err)
	}
	state := execState{"a": Pending, "b": Pending, "c": Pending}
	ready := getReadyNodes(g, state)
	if len(ready) != 2 || ready[0] != "a" || ready[1] != "b" {
		t.Fatalf("getReadyNodes = %v, want [a b] (both depth 0, lexically ordered)", ready)
	}
}

// TestFailAndPropagate_SkipsTransitiveConsumers verifies failing a node
// skips its direct and transitive consumers, leaving unrelated nodes
// untouched.
func TestFailAndPropagate_SkipsTransitiveConsumers(t *testing.T) {
	a := plainNode("a")
	b := plainNode("b", "a")
	c := plainNode("c", "b")
	d := plainNode("d") // unrelated
	g, err := buildGraph([]node.Node{a, b, c, d})
	if err != nil {
		t.Fatalf("buildGraph failed: %v", err)
	}
	state := execState{"a": Running, "b": Pending, "c": Pending, "d": Pending}
	failAndPropagate(g, state, "a")

	if state["a"] != Failed {
		t.Errorf("a = %v, want Failed", state["a"])
	}
	if state["b"] != Skipped {
		t.Errorf("b = %v, want Skipped", state["b"])
	}
	if state["c"] != Skipped {
		t.Errorf("c = %v, want Skipped", state["c"])
	}
	if state["d"] != Pending {
		t.Errorf("d = %v, want unaffected (Pending)", state["d"])
	}
}

// TestPipeline_SequentialRunsEveryNodeExactlyOnce verifies the
// Sequential strategy executes every node exactly once, respecting
// dependency order.
func TestPipeline_SequentialRunsEveryNodeExactlyOnce(t *testing.T) {
	var order []string
	var mu sync.Mutex
	record := func(name string) func(node.RunContext) ([]node.Output, error) {
		return func(node.RunContext) ([]node.Output, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return []node.Output{{"default": {name}}}, nil
		}
	}
	a := plainNode("a")
	a.runFunc = record("a")
	b := plainNode("b", "a")
	b.runFunc = record("b")

	p := newTestPipeline(t)
	if err := p.AddNode(a); err != nil {
		t.Fatalf("AddNode a: %v", err)
	}
	if err := p.AddNode(b); err != nil {
		t.Fatalf("AddNode b: %v", err)
	}

	if err := p.Run(testContext(), Sequential); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Errorf("execution order = %v, want [a b]", order)
	}
}

// TestPipeline_FailurePropagatesAndSkipsDownstream verifies a failing
// node stops its consumers from running and Run returns an error.
func TestPipeline_FailurePropagatesAndSkipsDownstream(t *testing.T) {
	a := plainNode("a")
	a.runFunc = func(node.RunContext) ([]node.Output, error) {
		return nil, fmt.Errorf("boom")
	}
	b := plainNode("b", "a")

	p := newTestPipeline(t)
	if err := p.AddNode(a); err != nil {
		t.Fatalf("AddNode a: %v", err)
	}
	if err := p.AddNode(b); err != nil {
		t.Fatalf("AddNode b: %v", err)
	}

	if err := p.Run(testContext(), Sequential); err == nil {
		t.Fatal("expected Run to return an error when a node fails")
	}
	if b.started != 0 {
		t.Errorf("expected b to never run after a's failure, started=%d", b.started)
	}
}

// TestPipeline_WaveParallelCompletesIndependentNodes verifies
// two nodes at the same depth with no dependency on each other are
// both completed by the WaveParallel strategy.
func TestPipeline_WaveParallelCompletesIndependentNodes(t *testing.T) {
	a := plainNode("a")
	b := plainNode("b")
	c := plainNode("c", "a", "b")

	p := newTestPipeline(t)
	for _, n := range []*fakeNode{a, b, c} {
		if err := p.AddNode(n); err != nil {
			t.Fatalf("AddNode %s: %v", n.name, err)
		}
	}

	if err := p.Run(testContext(), WaveParallel); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	for _, n := range []*fakeNode{a, b, c} {
		if n.started != 1 {
			t.Errorf("%s.started = %d, want 1", n.name, n.started)
		}
	}
}

// TestPipeline_DynamicReadyRunsEveryNode verifies the DynamicReady
// strategy (the preferred default) completes a diamond-shaped DAG.
func TestPipeline_DynamicReadyRunsEveryNode(t *testing.T) {
	a := plainNode("a")
	b := plainNode("b", "a")
	c := plainNode("c", "a")
	d := plainNode("d", "b", "c")

	p := newTestPipeline(t)
	for _, n := range []*fakeNode{a, b, c, d} {
		if err := p.AddNode(n); err != nil {
			t.Fatalf("AddNode %s: %v", n.name, err)
		}
	}

	if err := p.Run(testContext(), DynamicReady); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	for _, n := range []*fakeNode{a, b, c, d} {
		if n.started != 1 {
			t.Errorf("%s.started = %d, want 1", n.name, n.started)
		}
	}
}

// TestPipeline_UnknownStrategyErrors verifies an out-of-range Strategy
// value is rejected rather than silently defaulting.
func TestPipeline_UnknownStrategyErrors(t *testing.T) {
	p := newTestPipeline(t)
	if err := p.AddNode(plainNode("a")); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	if err := p.Run(testContext(), Strategy(99)); err == nil {
		t.Error("expected an unrecognized strategy to be rejected")
	}
}
