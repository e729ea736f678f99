package noderuntime

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"sitekiln/internal/cachestore"
	"sitekiln/internal/input"
	"sitekiln/internal/node"
	"sitekiln/internal/workerpool"
)

// Workload is the worker-pool workload name registered for per-item node
// work; see ItemWorkload.
const Workload = "noderuntime:item"

// ItemWorkload adapts an opaque closure payload to the Worker Pool's
// registry-based dispatch, so the envelope can hand arbitrary per-item
// work to the pool without the pool needing to know about nodes.
func ItemWorkload(ctx context.Context, payload any) (any, error) {
	fn, ok := payload.(func(context.Context) (node.Output, []string, error))
	if !ok {
		return nil, fmt.Errorf("noderuntime: invalid item payload type %T", payload)
	}
	outputs, discovered, err := fn(ctx)
	if err != nil {
		return nil, err
	}
	return itemWorkResult{Outputs: outputs, DiscoveredDeps: discovered}, nil
}

type itemWorkResult struct {
	Outputs        node.Output
	DiscoveredDeps []string
}

// DoWorkFunc performs one item's actual transformation, returning its
// outputs and any runtime-discovered dependency paths (e.g. xsl:import
// targets).
type DoWorkFunc func(ctx context.Context, item string) (node.Output, []string, error)

// PathForOutputFunc recomputes the expected path for one (item,
// outputName) pair. A false second return means the output's location
// is only known by replaying the cached path (secondary/discovered
// outputs such as xsl:result-document).
type PathForOutputFunc func(item, outputName string) (string, bool)

// EnvelopeInput carries everything one envelope invocation needs.
type EnvelopeInput struct {
	NodeType string
	NodeName string
	Config   map[string]any
	Items    []string

	// KeyOf derives a per-item cache key from the item path.
	KeyOf func(item string) string

	OutputDirFn   func() string
	PathForOutput PathForOutputFunc
	DoWork        DoWorkFunc
}

// ItemResult is the per-item outcome, emitted in the same order as
// EnvelopeInput.Items regardless of completion order.
type ItemResult struct {
	Item      string
	Outputs   node.Output
	FromCache bool
	Err       error
}

// Envelope wraps a node's per-item work with content-signature
// computation, cache lookup/validation, parallel miss dispatch, and
// cache-entry persistence, as described in §4.2.2.
type Envelope struct {
	Store    *cachestore.Store
	Pool     *workerpool.Pool
	Upstream cachestore.UpstreamOutputs
}

// Run executes the envelope procedure and returns one ItemResult per
// input item, in input order.
func (e *Envelope) Run(ctx context.Context, in EnvelopeInput) ([]ItemResult, error) {
	if len(in.Items) == 0 {
		return nil, nil
	}

	signature := ContentSignature(in.NodeType, in.Config)

	configDepPaths, upstreamSignatures := e.collectConfigDeps(in.Config)

	results := make([]ItemResult, len(in.Items))
	var misses []int

	for i, item := range in.Items {
		key := in.KeyOf(item)
		entry, err := e.Store.Get(signature, key)
		if err != nil {
			return nil, err
		}
		if entry == nil {
			misses = append(misses, i)
			continue
		}

		outputBase := in.OutputDirFn()
		recalculated, err := e.recalculateOutputs(entry, in, outputBase)
		if err != nil {
			return nil, fmt.Errorf("noderuntime: node %q item %q: %w", in.NodeName, item, err)
		}

		hit, err := e.Store.Validate(entry, e.Upstream)
		if err != nil {
			return nil, err
		}
		if !hit {
			misses = append(misses, i)
			continue
		}

		for name, paths := range recalculated {
			cachedPaths := entry.OutputsByKey[name]
			for j, p := range paths {
				if j < len(cachedPaths) && cachedPaths[j] != p {
					if err := e.Store.CopyTo(cachedPaths[j], p); err != nil {
						return nil, err
					}
				}
			}
		}

		results[i] = ItemResult{Item: item, Outputs: recalculated, FromCache: true}
	}

	if len(misses) > 0 {
		if err := e.dispatchMisses(ctx, in, misses, results, signature, configDepPaths, upstreamSignatures); err != nil {
			return nil, err
		}
	}

	currentKeys := make([]string, len(in.Items))
	for i, item := range in.Items {
		currentKeys[i] = in.KeyOf(item)
	}
	if err := e.Store.CleanExcept(signature, currentKeys); err != nil {
		return nil, fmt.Errorf("noderuntime: pruning stale cache entries for %q: %w", in.NodeName, err)
	}

	return results, nil
}

// recalculateOutputs implements §4.2.2's cache-hit path recalculation:
// primary outputs are recomputed via PathForOutput; secondary outputs
// are replayed by rebasing their cached relative position onto the
// current output directory. A rebase that would need a ".." segment is
// returned as an error, which aborts the node.
func (e *Envelope) recalculateOutputs(entry *cachestore.Entry, in EnvelopeInput, outputBase string) (node.Output, error) {
	out := node.Output{}
	item := ""
	if len(entry.ItemFiles) > 0 {
		item = entry.ItemFiles[0]
	}
	for name, cachedPaths := range entry.OutputsByKey {
		for _, cachedPath := range cachedPaths {
			if p, ok := in.PathForOutput(item, name); ok {
				out[name] = append(out[name], p)
				continue
			}
			rebased, err := RebaseUnderNewBase(cachedPath, entry.OutputBaseDir, outputBase)
			if err != nil {
				return nil, err
			}
			out[name] = append(out[name], rebased)
		}
	}
	return out, nil
}

func (e *Envelope) collectConfigDeps(config map[string]any) ([]string, map[string]cachestore.UpstreamSignature) {
	var fileDeps []string
	upstreamSigs := make(map[string]cachestore.UpstreamSignature)

	WalkConfig(config,
		func(ref input.FileRef) {
			fileDeps = append(fileDeps, ref.Path)
		},
		func(ref input.NodeRef) {
			var current []string
			if e.Upstream != nil {
				current, _ = e.Upstream.NodeOutputs(ref.Producer, ref.Output)
			}
			if ref.Glob != "" {
				current = filterPathsByGlob(current, ref.Glob)
			}
			upstreamSigs[ref.Producer] = cachestore.UpstreamSignature{
				Signature: cachestore.ComputeOutputSignature(current),
				OutputKey: ref.Output,
				Glob:      ref.Glob,
			}
		},
	)
	sort.Strings(fileDeps)
	return fileDeps, upstreamSigs
}

func filterPathsByGlob(paths []string, pattern string) []string {
	var out []string
	for _, p := range paths {
		if ok, _ := filepath.Match(pattern, filepath.Base(p)); ok {
			out = append(out, p)
		}
	}
	return out
}

func (e *Envelope) dispatchMisses(ctx context.Context, in EnvelopeInput, misses []int, results []ItemResult, signature string, configDeps []string, upstreamSigs map[string]cachestore.UpstreamSignature) error {
	futures := make([]<-chan workerpool.Result, len(misses))

	for n, idx := range misses {
		item := in.Items[idx]
		payload := func(ctx context.Context) (node.Output, []string, error) {
			return in.DoWork(ctx, item)
		}
		future, err := e.Pool.Execute(workerpool.Job{Workload: Workload, Payload: payload})
		if err != nil {
			return fmt.Errorf("noderuntime: dispatching item %q: %w", item, err)
		}
		futures[n] = future
	}

	type built struct {
		idx   int
		item  string
		entry *cachestore.Entry
	}
	var toWrite []built

	for n, idx := range misses {
		item := in.Items[idx]
		res := <-futures[n]
		if res.Err != nil {
			results[idx] = ItemResult{Item: item, Err: res.Err}
			return fmt.Errorf("noderuntime: node %q item %q: %w", in.NodeName, item, res.Err)
		}
		work := res.Value.(itemWorkResult)

		key := in.KeyOf(item)
		outputBase := in.OutputDirFn()

		entry, err := e.Store.Build(cachestore.BuildInput{
			Items:              []string{item},
			OutputsByKey:       work.Outputs,
			OutputBaseDir:      outputBase,
			CacheKey:           key,
			DiscoveredDeps:     work.DiscoveredDeps,
			ConfigDeps:         configDeps,
			UpstreamSignatures: upstreamSigs,
			NowMillis:          time.Now().UnixMilli(),
		})
		if err != nil {
			return err
		}

		results[idx] = ItemResult{Item: item, Outputs: work.Outputs, FromCache: false}
		toWrite = append(toWrite, built{idx: idx, item: item, entry: entry})
	}

	writeErrs := make(chan error, len(toWrite))
	for _, b := range toWrite {
		b := b
		go func() {
			writeErrs <- e.Store.Put(signature, in.KeyOf(b.item), b.entry)
		}()
	}
	for range toWrite {
		if err := <-writeErrs; err != nil {
			return err
		}
	}

	return nil
}
