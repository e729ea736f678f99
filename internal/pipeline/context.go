package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"sitekiln/internal/cachestore"
	"sitekiln/internal/ctxlog"
	"sitekiln/internal/exectrace"
	"sitekiln/internal/input"
	"sitekiln/internal/node"
	"sitekiln/internal/noderuntime"
	"sitekiln/internal/workerpool"
)

// Context is the per-run environment passed to every node's Run method.
type Context struct {
	goCtx      context.Context
	buildDir   string
	workingDir string
	store      *cachestore.Store
	pool       *workerpool.Pool
	resolver   *input.Resolver
	snapshot   *outputSnapshot
	trace      exectrace.Sink
}

// GoContext exposes the underlying context.Context, e.g. for logging via
// ctxlog.FromContext or for cancellation-aware work.
func (c *Context) GoContext() context.Context { return c.goCtx }

// ResolveInput resolves an input.Input descriptor to concrete paths.
func (c *Context) ResolveInput(in any) ([]string, error) {
	descriptor, ok := in.(input.Input)
	if !ok {
		return nil, fmt.Errorf("pipeline: ResolveInput expects an input.Input, got %T", in)
	}
	return c.resolver.Resolve(descriptor, c.snapshot)
}

// Log returns the logger installed on the run's context. *slog.Logger
// already satisfies node.Logger's Info/Warn/Error shape.
func (c *Context) Log() node.Logger {
	return ctxlog.FromContext(c.goCtx)
}

// Cache exposes the Cache Store.
func (c *Context) Cache() node.CacheHandle { return c.store }

// WorkerPool exposes the shared worker pool.
func (c *Context) WorkerPool() node.WorkerHandle { return poolAdapter{pool: c.pool} }

// BuildDir returns the pipeline's staging directory.
func (c *Context) BuildDir() string { return c.buildDir }

// BuildPathFor computes the default build-directory path for a node's
// input: "<buildDir>/<nodeName>/<relative-input-path>[.ext]".
func (c *Context) BuildPathFor(nodeName, inputPath, ext string) string {
	cleaned := inputPath
	if rel, err := filepath.Rel(c.workingDir, inputPath); err == nil && !strings.HasPrefix(rel, "..") {
		cleaned = rel
	}
	if ext != "" {
		cleaned = strings.TrimSuffix(cleaned, filepath.Ext(cleaned)) + ext
	}
	return filepath.Join(c.buildDir, nodeName, cleaned)
}

// StripBuildPrefix removes "<buildDir>/<someNode>/" from path if present.
func (c *Context) StripBuildPrefix(path string) string {
	bd := filepath.ToSlash(c.buildDir)
	p := filepath.ToSlash(path)
	if !strings.HasPrefix(p, bd+"/") {
		return path
	}
	rest := strings.TrimPrefix(p, bd+"/")
	if idx := strings.Index(rest, "/"); idx >= 0 {
		return rest[idx+1:]
	}
	return rest
}

// NodeOutputsOf returns a node's emitted outputs, or nil if it has not
// run yet.
func (c *Context) NodeOutputsOf(name string) []node.Output {
	return c.snapshot.outputsOf(name)
}

// Envelope builds a noderuntime.Envelope wired to this run's Cache Store,
// Worker Pool, and output snapshot. Not part of node.RunContext (that
// would pull noderuntime into package node's import graph, which
// noderuntime itself depends on); reference node implementations reach
// it by asserting RunContext to a small local interface instead.
func (c *Context) Envelope() *noderuntime.Envelope {
	return &noderuntime.Envelope{Store: c.store, Pool: c.pool, Upstream: c.snapshot}
}

// Trace exposes this run's exectrace.Sink, likewise not part of
// node.RunContext — reference nodes reach it through nodeutil.RuntimeContext.
func (c *Context) Trace() exectrace.Sink { return c.trace }

type poolAdapter struct{ pool *workerpool.Pool }

func (p poolAdapter) Execute(workload string, payload any) (<-chan node.WorkResult, error) {
	future, err := p.pool.Execute(workerpool.Job{Workload: workload, Payload: payload})
	if err != nil {
		return nil, err
	}
	out := make(chan node.WorkResult, 1)
	go func() {
		res := <-future
		out <- node.WorkResult{Value: res.Value, Err: res.Err}
		close(out)
	}()
	return out, nil
}
