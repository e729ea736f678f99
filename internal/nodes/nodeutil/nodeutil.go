// Package nodeutil holds the small amount of plumbing every reference
// node in internal/nodes shares: rendering an input.Input into a
// config-map value, reaching the node runtime envelope through
// node.RunContext, and atomic output writes.
package nodeutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"sitekiln/internal/exectrace"
	"sitekiln/internal/input"
	"sitekiln/internal/node"
	"sitekiln/internal/noderuntime"
	"sitekiln/internal/tracing"
)

// itemTracer is the otel global tracer, picking up whatever provider
// internal/tracing.NewProvider installed (a no-op provider when tracing
// is disabled, so this has zero overhead by default).
var itemTracer = otel.Tracer("sitekiln-item")

// ConfigInput renders an input.Input descriptor into a value
// noderuntime.ContentSignature knows how to serialize. FileRef and
// NodeRef pass through unchanged (ContentSignature special-cases them
// directly); Glob and List are rendered into plain maps/slices.
func ConfigInput(in input.Input) any {
	switch v := in.(type) {
	case input.List:
		items := make([]any, len(v.Items))
		for i, it := range v.Items {
			items[i] = ConfigInput(it)
		}
		return items
	case input.Glob:
		return map[string]any{"glob": v.Pattern}
	default:
		return v
	}
}

// RuntimeContext is the concrete capability *pipeline.Context offers
// beyond node.RunContext. Reference nodes assert their RunContext to
// this rather than node.RunContext declaring it directly, since
// noderuntime already imports node — node.RunContext importing
// noderuntime back would cycle.
type RuntimeContext interface {
	node.RunContext
	Envelope() *noderuntime.Envelope
	GoContext() context.Context
	Trace() exectrace.Sink
}

// RunItems drives the cache-aware per-item envelope for a node whose
// work maps one output path to each input item. Logs a line per item
// indicating cache hit or miss.
func RunItems(rc node.RunContext, nodeType, nodeName string, config map[string]any, items []string, outputDirFn func() string, pathForOutput noderuntime.PathForOutputFunc, doWork noderuntime.DoWorkFunc) ([]node.Output, error) {
	full, ok := rc.(RuntimeContext)
	if !ok {
		return nil, fmt.Errorf("nodeutil: run context does not support the node runtime envelope")
	}

	results, err := full.Envelope().Run(full.GoContext(), noderuntime.EnvelopeInput{
		NodeType:      nodeType,
		NodeName:      nodeName,
		Config:        config,
		Items:         items,
		KeyOf:         func(item string) string { return item },
		OutputDirFn:   outputDirFn,
		PathForOutput: pathForOutput,
		DoWork:        doWork,
	})
	if err != nil {
		return nil, err
	}

	log := rc.Log()
	tr := full.Trace()
	outputs := make([]node.Output, 0, len(results))
	for _, r := range results {
		_, span := tracing.StartItem(full.GoContext(), itemTracer, nodeName, r.Item)
		span.SetAttributes(itemCacheHitAttr(r.FromCache))
		tracing.EndWithError(span, r.Err)

		if r.Err != nil {
			return nil, fmt.Errorf("nodeutil: node %q item %q: %w", nodeName, r.Item, r.Err)
		}
		if r.FromCache {
			log.Info("cache hit", "node", nodeName, "item", r.Item)
			tr.Record(exectrace.Event{Kind: exectrace.EventItemCacheHit, NodeName: nodeName, Item: r.Item})
		} else {
			log.Info("cache miss", "node", nodeName, "item", r.Item)
			tr.Record(exectrace.Event{Kind: exectrace.EventItemMiss, NodeName: nodeName, Item: r.Item})
			tr.Record(exectrace.Event{Kind: exectrace.EventItemExecuted, NodeName: nodeName, Item: r.Item, Outputs: flattenOutput(r.Outputs)})
		}
		outputs = append(outputs, r.Outputs)
	}
	return outputs, nil
}

func flattenOutput(o node.Output) []string {
	var paths []string
	for _, ps := range o {
		paths = append(paths, ps...)
	}
	return paths
}

func itemCacheHitAttr(hit bool) attribute.KeyValue {
	return attribute.Bool(tracing.AttrCacheHit, hit)
}

// WriteFileAtomic writes data to path via a same-directory temp file and
// rename, so a crash mid-write never leaves a half-written output behind.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()
	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
