package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"sitekiln/internal/cachestore"
	"sitekiln/internal/ctxlog"
	"sitekiln/internal/exectrace"
	"sitekiln/internal/input"
	"sitekiln/internal/node"
	"sitekiln/internal/tracing"
	"sitekiln/internal/workerpool"
)

// Strategy selects one of the three execution strategies from §4.3.
type Strategy int

const (
	Sequential Strategy = iota
	WaveParallel
	DynamicReady
)

// Pipeline owns the DAG, the per-node output snapshot table, per-node
// elapsed times, the build/cache directories, and the shared worker pool.
type Pipeline struct {
	BuildDir string
	CacheDir string

	// Tracer receives one span per node Run and defaults to a no-op
	// tracer; set it to a tracing.Provider's Tracer() to emit real spans.
	Tracer trace.Tracer

	// Trace receives one Event per node/item transition and defaults to
	// a no-op sink; set it to an *exectrace.Recorder to capture a
	// hashable execution trace for `sitekiln trace show`.
	Trace exectrace.Sink

	store    *cachestore.Store
	pool     *workerpool.Pool
	nodes    []node.Node
	snapshot *outputSnapshot

	mu      sync.Mutex
	elapsed map[string]time.Duration
}

// New constructs an empty Pipeline rooted at buildDir/cacheDir, backed by
// pool for per-item parallelism.
func New(buildDir, cacheDir string, pool *workerpool.Pool) *Pipeline {
	return &Pipeline{
		BuildDir: buildDir,
		CacheDir: cacheDir,
		Tracer:   noop.NewTracerProvider().Tracer("noop"),
		Trace:    exectrace.NopSink{},
		store:    cachestore.New(cacheDir),
		pool:     pool,
		snapshot: newOutputSnapshot(),
		elapsed:  make(map[string]time.Duration),
	}
}

// AddNode appends n, firing its OnAddedToPipeline hook if it implements
// node.PipelineAware (composite/fan-out nodes injecting children).
func (p *Pipeline) AddNode(n node.Node) error {
	p.nodes = append(p.nodes, n)
	if aware, ok := n.(node.PipelineAware); ok {
		if err := aware.OnAddedToPipeline(p); err != nil {
			return fmt.Errorf("pipeline: OnAddedToPipeline for %q: %w", n.Name(), err)
		}
	}
	return nil
}

// Store exposes the Cache Store, e.g. for a CLI "cache gc" command.
func (p *Pipeline) Store() *cachestore.Store { return p.store }

// Run builds the DAG from the current node set and executes it with the
// given strategy. The supplied context must already carry a logger via
// ctxlog.WithLogger.
func (p *Pipeline) Run(ctx context.Context, strategy Strategy) error {
	g, err := buildGraph(p.nodes)
	if err != nil {
		return err
	}

	state := make(execState, len(g.nodes))
	for _, n := range g.nodes {
		state[n.Name()] = Pending
	}

	supervisorDone := make(chan struct{})
	go p.runSupervisor(ctx, g, state, supervisorDone)
	defer close(supervisorDone)

	switch strategy {
	case Sequential:
		return p.runSequential(ctx, g, state)
	case WaveParallel:
		return p.runWaveParallel(ctx, g, state)
	case DynamicReady:
		return p.runDynamicReady(ctx, g, state)
	default:
		return fmt.Errorf("pipeline: unknown strategy %d", strategy)
	}
}

func (p *Pipeline) nodeContext(ctx context.Context) *Context {
	return &Context{
		goCtx:      ctx,
		buildDir:   p.BuildDir,
		workingDir: ".",
		store:      p.store,
		pool:       p.pool,
		resolver:   input.NewResolver(".", p.BuildDir),
		snapshot:   p.snapshot,
		trace:      p.Trace,
	}
}

// runOne executes a single node, recording its elapsed time and outputs.
// It logs start/completion/elapsed time per §7's user-visible behavior.
func (p *Pipeline) runOne(ctx context.Context, n node.Node) error {
	log := ctxlog.FromContext(ctx)
	log.Info("node started", "node", n.Name())
	start := time.Now()
	p.Trace.Record(exectrace.Event{Kind: exectrace.EventNodeStarted, NodeName: n.Name()})

	spanCtx, span := tracing.StartNode(ctx, p.Tracer, n.Name(), n.TypeName())
	outputs, err := n.Run(p.nodeContext(spanCtx))
	tracing.EndWithError(span, err)

	elapsed := time.Since(start)
	p.mu.Lock()
	p.elapsed[n.Name()] = elapsed
	p.mu.Unlock()

	if err != nil {
		log.Error("node failed", "node", n.Name(), "elapsed", elapsed, "error", err)
		p.Trace.Record(exectrace.Event{Kind: exectrace.EventNodeFailed, NodeName: n.Name(), Reason: err.Error()})
		return err
	}

	p.snapshot.set(n.Name(), outputs)
	log.Info("node completed", "node", n.Name(), "elapsed", elapsed)
	p.Trace.Record(exectrace.Event{Kind: exectrace.EventNodeCompleted, NodeName: n.Name(), Outputs: flattenOutputs(outputs)})
	return nil
}

// failAndPropagateTraced marks name Failed, skips its transitive
// consumers via failAndPropagate, and records a NodeSkipped event for
// each node newly marked Skipped as a result.
func (p *Pipeline) failAndPropagateTraced(g *graph, state execState, name string) {
	before := make(execState, len(state))
	for k, v := range state {
		before[k] = v
	}
	failAndPropagate(g, state, name)
	for node, st := range state {
		if st == Skipped && before[node] != Skipped {
			p.Trace.Record(exectrace.Event{Kind: exectrace.EventNodeSkipped, NodeName: node, CauseNode: name})
		}
	}
}

func flattenOutputs(outputs []node.Output) []string {
	var paths []string
	for _, o := range outputs {
		for _, ps := range o {
			paths = append(paths, ps...)
		}
	}
	return paths
}

func (p *Pipeline) runSequential(ctx context.Context, g *graph, state execState) error {
	for {
		ready := getReadyNodes(g, state)
		if len(ready) == 0 {
			return finishOrDeadlock(g, state)
		}
		name := ready[0]
		state[name] = Running
		n := g.nodes[g.indexByName[name]]
		if err := p.runOne(ctx, n); err != nil {
			p.failAndPropagateTraced(g, state, name)
			return err
		}
		state[name] = Completed
	}
}

// runWaveParallel runs nodes depth-wave by depth-wave, all nodes within a
// wave concurrently.
func (p *Pipeline) runWaveParallel(ctx context.Context, g *graph, state execState) error {
	maxDepth := 0
	for _, d := range g.depth {
		if d > maxDepth {
			maxDepth = d
		}
	}
	byDepth := make([][]string, maxDepth+1)
	for _, n := range g.nodes {
		byDepth[g.depth[g.indexByName[n.Name()]]] = append(byDepth[g.depth[g.indexByName[n.Name()]]], n.Name())
	}

	var firstErr error
	var stateMu sync.Mutex
	recordErr := func(err error) {
		stateMu.Lock()
		defer stateMu.Unlock()
		if firstErr == nil {
			firstErr = err
		}
	}

	currentErr := func() error {
		stateMu.Lock()
		defer stateMu.Unlock()
		return firstErr
	}

	for _, wave := range byDepth {
		if currentErr() != nil {
			break
		}
		var wg sync.WaitGroup
		for _, name := range wave {
			stateMu.Lock()
			ready := state[name] == Pending
			if ready {
				state[name] = Running
			}
			stateMu.Unlock()
			if !ready {
				continue
			}
			name := name
			wg.Add(1)
			go func() {
				defer wg.Done()
				n := g.nodes[g.indexByName[name]]
				if err := p.runOne(ctx, n); err != nil {
					recordErr(err)
					return
				}
				stateMu.Lock()
				state[name] = Completed
				stateMu.Unlock()
			}()
		}
		wg.Wait()
		if err := currentErr(); err != nil {
			stateMu.Lock()
			for _, name := range wave {
				if state[name] == Running {
					p.failAndPropagateTraced(g, state, name)
				}
			}
			stateMu.Unlock()
			return err
		}
	}
	return nil
}

// runDynamicReady continuously schedules any node whose deps are all
// complete, yielding strictly >= the parallelism of wave mode. This is
// the preferred default strategy.
func (p *Pipeline) runDynamicReady(ctx context.Context, g *graph, state execState) error {
	var mu sync.Mutex
	done := make(chan string, len(g.nodes))
	inFlight := 0
	var firstErr error

	dispatchReady := func() {
		mu.Lock()
		defer mu.Unlock()
		if firstErr != nil {
			return
		}
		for _, name := range getReadyNodes(g, state) {
			name := name
			state[name] = Running
			inFlight++
			go func() {
				n := g.nodes[g.indexByName[name]]
				err := p.runOne(ctx, n)
				mu.Lock()
				if err != nil {
					if firstErr == nil {
						firstErr = err
					}
					p.failAndPropagateTraced(g, state, name)
				} else {
					state[name] = Completed
				}
				inFlight--
				mu.Unlock()
				done <- name
			}()
		}
	}

	dispatchReady()
	for {
		mu.Lock()
		allTerminal := true
		for _, n := range g.nodes {
			if !isTerminal(state[n.Name()]) {
				allTerminal = false
				break
			}
		}
		stillInFlight := inFlight
		err := firstErr
		mu.Unlock()

		if allTerminal && stillInFlight == 0 {
			return err
		}
		if err != nil && stillInFlight == 0 {
			return err
		}

		<-done
		if err == nil {
			dispatchReady()
		}
	}
}

func finishOrDeadlock(g *graph, state execState) error {
	for _, n := range g.nodes {
		if !isTerminal(state[n.Name()]) {
			return fmt.Errorf("pipeline: no ready nodes but %q is %s (deadlock or unresolved dependency)", n.Name(), state[n.Name()])
		}
	}
	for _, n := range g.nodes {
		if state[n.Name()] == Failed {
			return fmt.Errorf("pipeline: node %q failed", n.Name())
		}
	}
	return nil
}
