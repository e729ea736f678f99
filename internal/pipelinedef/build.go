package pipelinedef

import (
	"fmt"

	"sitekiln/internal/node"
	"sitekiln/internal/nodes/copy"
	"sitekiln/internal/nodes/xform"
	"sitekiln/internal/nodes/zip"
	"sitekiln/internal/pipeline"
)

// Build compiles def into the node set and strategy a hand-written Go
// pipeline construction would have produced. defaultStrategy is used
// when the definition file leaves Strategy empty.
func Build(def *Definition, defaultStrategy pipeline.Strategy) ([]node.Node, pipeline.Strategy, error) {
	nodes := make([]node.Node, 0, len(def.Nodes))
	for _, nd := range def.Nodes {
		n, err := buildNode(nd)
		if err != nil {
			return nil, 0, fmt.Errorf("node %q: %w", nd.Name, err)
		}
		nodes = append(nodes, n)
	}

	strategy := defaultStrategy
	switch def.Strategy {
	case "sequential":
		strategy = pipeline.Sequential
	case "wave":
		strategy = pipeline.WaveParallel
	case "dynamic":
		strategy = pipeline.DynamicReady
	}
	return nodes, strategy, nil
}

func buildNode(nd NodeDef) (node.Node, error) {
	switch nd.Type {
	case "copy":
		in, err := parseInput(nd.Input)
		if err != nil {
			return nil, err
		}
		return copy.New(nd.Name, in, nd.Output, nd.Deps...), nil

	case "xform":
		in, err := parseInput(nd.Input)
		if err != nil {
			return nil, err
		}
		if nd.Transform == nil {
			return nil, fmt.Errorf("xform nodes require transform")
		}
		return xform.New(nd.Name, in, nd.Transform.toHook(), nd.Output, nd.Deps...), nil

	case "zip":
		in, err := parseInput(nd.Input)
		if err != nil {
			return nil, err
		}
		if nd.ArchiveName == "" {
			return nil, fmt.Errorf("zip nodes require archiveName")
		}
		return zip.New(nd.Name, in, nd.ArchiveName, nd.Output, nd.Deps...), nil

	default:
		return nil, fmt.Errorf("unknown node type %q", nd.Type)
	}
}
