// Package input resolves the polymorphic Input descriptor — glob, literal
// list, node-output reference, or file reference — into concrete file
// paths. Resolution is pure: it never mutates the filesystem or a node's
// state, and is deterministic given the producer output snapshot it is
// handed.
package input

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Input is a tagged variant: Glob | List | NodeRef | FileRef.
type Input interface {
	isInput()
}

// Glob expands a single glob pattern on demand.
type Glob struct {
	Pattern string
}

// List resolves each member recursively and concatenates the results in
// order. No deduplication is performed; downstream consumers must handle
// duplicates idempotently.
type List struct {
	Items []Input
}

// NodeRef yields a producer node's previously emitted paths under a given
// output name, optionally intersected with a glob expansion.
type NodeRef struct {
	Producer string
	Output   string
	Glob     string // empty means no filter
}

// FileRef is a literal path used verbatim, not globbed, that also
// participates in cache-dependency tracking.
type FileRef struct {
	Path string
}

func (Glob) isInput()    {}
func (List) isInput()    {}
func (NodeRef) isInput() {}
func (FileRef) isInput() {}

// OutputLookup is the subset of the pipeline's output snapshot table the
// resolver needs: a producer's emitted paths under one output name.
type OutputLookup interface {
	NodeOutputs(producer, outputName string) ([]string, bool)
}

// Resolver turns Input descriptors into path lists.
type Resolver struct {
	// WorkingDir is the process working directory, used to resolve plain
	// Glob patterns and NodeRef glob filters whose producer outputs do
	// not live under BuildDir.
	WorkingDir string

	// BuildDir is the pipeline's staging directory. When a producer's
	// outputs live under BuildDir, a NodeRef glob filter is expanded as
	// "<BuildDir>/*/<glob>" rather than against WorkingDir.
	BuildDir string
}

// NewResolver constructs a Resolver.
func NewResolver(workingDir, buildDir string) *Resolver {
	return &Resolver{WorkingDir: workingDir, BuildDir: buildDir}
}

// Resolve expands in to a concrete, ordered path list.
func (r *Resolver) Resolve(in Input, lookup OutputLookup) ([]string, error) {
	switch v := in.(type) {
	case Glob:
		return r.resolveGlob(v.Pattern)
	case List:
		var out []string
		for _, item := range v.Items {
			paths, err := r.Resolve(item, lookup)
			if err != nil {
				return nil, err
			}
			out = append(out, paths...)
		}
		return out, nil
	case NodeRef:
		return r.resolveNodeRef(v, lookup)
	case FileRef:
		return []string{v.Path}, nil
	default:
		return nil, fmt.Errorf("input: unknown variant %T", in)
	}
}

func (r *Resolver) resolveGlob(pattern string) ([]string, error) {
	full := pattern
	if !filepath.IsAbs(full) {
		full = filepath.Join(r.WorkingDir, full)
	}
	matches, err := filepath.Glob(full)
	if err != nil {
		return nil, fmt.Errorf("input: invalid glob %q: %w", pattern, err)
	}
	matches = onlyFiles(matches)
	if len(matches) == 0 {
		return nil, fmt.Errorf("input: glob %q matched no files", pattern)
	}
	sort.Strings(matches)
	return toSlash(matches), nil
}

func (r *Resolver) resolveNodeRef(ref NodeRef, lookup OutputLookup) ([]string, error) {
	if lookup == nil {
		return nil, fmt.Errorf("input: node-output reference to %q but no output lookup available", ref.Producer)
	}
	paths, ok := lookup.NodeOutputs(ref.Producer, ref.Output)
	if !ok || len(paths) == 0 {
		return nil, fmt.Errorf("input: producer %q has not run, or emitted nothing under output %q", ref.Producer, ref.Output)
	}
	if ref.Glob == "" {
		return paths, nil
	}

	candidatePattern := ref.Glob
	if len(paths) > 0 && r.BuildDir != "" && underDir(paths[0], r.BuildDir) {
		candidatePattern = filepath.Join(r.BuildDir, "*", ref.Glob)
	} else if !filepath.IsAbs(candidatePattern) {
		candidatePattern = filepath.Join(r.WorkingDir, candidatePattern)
	}

	candidates, err := filepath.Glob(candidatePattern)
	if err != nil {
		return nil, fmt.Errorf("input: invalid glob filter %q: %w", ref.Glob, err)
	}
	allowed := make(map[string]struct{}, len(candidates))
	for _, c := range toSlash(candidates) {
		allowed[c] = struct{}{}
	}

	var filtered []string
	for _, p := range paths {
		if _, ok := allowed[p]; ok {
			filtered = append(filtered, p)
		}
	}
	if len(filtered) == 0 {
		return nil, fmt.Errorf("input: glob filter %q on %s.%s matched none of the producer's outputs", ref.Glob, ref.Producer, ref.Output)
	}
	return filtered, nil
}

func onlyFiles(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil || info.IsDir() {
			continue
		}
		out = append(out, p)
	}
	return out
}

func toSlash(paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = filepath.ToSlash(p)
	}
	return out
}

func underDir(path, dir string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
