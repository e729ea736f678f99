// Package aggregate implements the composite/fan-out node pattern from
// the design notes: at pipeline-construction time (OnAddedToPipeline) it
// globs Pattern and injects one child node per match via Build; Run
// itself does no real work beyond collecting the children's outputs —
// it is a thin collector whose actual processing already happened in the
// children it spawned.
//
// Fan-out is driven by a plain filesystem glob rather than the full
// input.Resolver, because node.Pipeline (the narrow interface
// OnAddedToPipeline sees) exposes only AddNode: node-output references
// are not resolvable before any node has run, so only statically known
// inputs — globs, literal lists — can drive fan-out at this point.
package aggregate

import (
	"fmt"
	"path/filepath"
	"sort"

	"sitekiln/internal/node"
)

// Node fans out one child per match of Pattern, then merges their
// outputs under OutputName (or keeps each child's own output keys when
// OutputName is empty).
type Node struct {
	NodeName   string
	Pattern    string
	OutputName string
	Build      func(item string) node.Node
	Deps       []string

	children []string
}

// New constructs an aggregate node named name. build is called once per
// glob match at pipeline-construction time to produce that match's
// worker node; its Name() must be unique across the pipeline.
func New(name, pattern, outputName string, build func(item string) node.Node, deps ...string) *Node {
	return &Node{NodeName: name, Pattern: pattern, OutputName: outputName, Build: build, Deps: deps}
}

func (n *Node) Name() string     { return n.NodeName }
func (n *Node) TypeName() string { return "aggregate" }

func (n *Node) Config() map[string]any {
	return map[string]any{"pattern": n.Pattern, "children": n.children}
}

func (n *Node) OutputConfig() map[string]any { return nil }

func (n *Node) ExplicitDependencies() []string {
	deps := append([]string(nil), n.Deps...)
	return append(deps, n.children...)
}

// OnAddedToPipeline implements node.PipelineAware.
func (n *Node) OnAddedToPipeline(p node.Pipeline) error {
	matches, err := filepath.Glob(n.Pattern)
	if err != nil {
		return fmt.Errorf("aggregate: invalid pattern %q: %w", n.Pattern, err)
	}
	sort.Strings(matches)
	for _, item := range matches {
		child := n.Build(item)
		if err := p.AddNode(child); err != nil {
			return fmt.Errorf("aggregate: adding child for %q: %w", item, err)
		}
		n.children = append(n.children, child.Name())
	}
	return nil
}

func (n *Node) Run(rc node.RunContext) ([]node.Output, error) {
	merged := node.Output{}
	for _, name := range n.children {
		for _, out := range rc.NodeOutputsOf(name) {
			for k, v := range out {
				merged[k] = append(merged[k], v...)
			}
		}
	}

	if n.OutputName == "" {
		return []node.Output{merged}, nil
	}

	var all []string
	for _, paths := range merged {
		all = append(all, paths...)
	}
	return []node.Output{{n.OutputName: all}}, nil
}
