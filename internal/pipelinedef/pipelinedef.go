// Package pipelinedef loads the author-facing YAML pipeline-definition
// format (§6.1): a list of nodes by type name and config, compiled down
// to the hand-written Go construction spec.md actually specifies
// (pipeline.Pipeline.AddNode calls). The struct shapes follow the
// teacher's internal/core.Task — dual json+yaml tags, explicit optional
// fields, no implied defaults that would affect a node's content
// signature.
package pipelinedef

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"sitekiln/internal/input"
	"sitekiln/internal/noderuntime"
)

// Definition is one pipeline definition file's parsed contents.
type Definition struct {
	// Strategy selects "sequential", "wave", or "dynamic"; empty means
	// the caller's own default applies (internal/config's
	// pipeline.strategy).
	Strategy string `json:"strategy,omitempty" yaml:"strategy,omitempty"`

	// Nodes lists every node to construct, in file order (order has no
	// semantic effect — dependencies are derived from Input/Deps — but
	// author-facing tools like `trace show` use it for display order).
	Nodes []NodeDef `json:"nodes" yaml:"nodes"`
}

// NodeDef describes one node: its type, instance name, and type-specific
// config. Only the fields a given Type actually consumes need be set;
// Build reports an error naming the offending node if a required one is
// missing.
type NodeDef struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`

	// Deps lists additional nodes that must complete first, beyond what
	// Input's node references already induce.
	Deps []string `json:"deps,omitempty" yaml:"deps,omitempty"`

	// Input is a raw, type-tagged input descriptor; see parseInput.
	// Used by "copy", "xform", and "zip".
	Input map[string]any `json:"input,omitempty" yaml:"input,omitempty"`

	// Output shapes output paths (§4.2's pathMapping/outputFilename
	// etc); passed through verbatim as a node's OutputConfig.
	Output map[string]any `json:"output,omitempty" yaml:"output,omitempty"`

	// Transform is the per-item content transform for "xform" nodes.
	Transform *HookDef `json:"transform,omitempty" yaml:"transform,omitempty"`

	// ArchiveName is the "zip" node's output file name.
	ArchiveName string `json:"archiveName,omitempty" yaml:"archiveName,omitempty"`
}

// HookDef is the YAML form of noderuntime.Hook.
type HookDef struct {
	Identifier string `json:"identifier" yaml:"identifier"`
	Expr       string `json:"expr" yaml:"expr"`
}

func (h HookDef) toHook() noderuntime.Hook {
	return noderuntime.Hook{Identifier: h.Identifier, Expr: h.Expr}
}

// Load reads and parses a pipeline definition file from path.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pipelinedef: reading %s: %w", path, err)
	}
	var def Definition
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("pipelinedef: parsing %s: %w", path, err)
	}
	if err := def.validate(); err != nil {
		return nil, fmt.Errorf("pipelinedef: %s: %w", path, err)
	}
	return &def, nil
}

func (d *Definition) validate() error {
	switch d.Strategy {
	case "", "sequential", "wave", "dynamic":
	default:
		return fmt.Errorf("strategy must be sequential, wave, or dynamic, got %q", d.Strategy)
	}
	seen := make(map[string]bool, len(d.Nodes))
	for i, n := range d.Nodes {
		if n.Name == "" {
			return fmt.Errorf("nodes[%d]: name is required", i)
		}
		if seen[n.Name] {
			return fmt.Errorf("nodes[%d]: duplicate node name %q", i, n.Name)
		}
		seen[n.Name] = true
		if n.Type == "" {
			return fmt.Errorf("node %q: type is required", n.Name)
		}
	}
	return nil
}

// parseInput renders a NodeDef.Input map into an input.Input descriptor.
// Exactly one of "glob", "fileRef", "nodeRef", or "list" must be set.
func parseInput(raw map[string]any) (input.Input, error) {
	if raw == nil {
		return nil, fmt.Errorf("input is required")
	}
	present := 0
	for _, k := range []string{"glob", "fileRef", "nodeRef", "list"} {
		if _, ok := raw[k]; ok {
			present++
		}
	}
	if present != 1 {
		return nil, fmt.Errorf("input must set exactly one of glob, fileRef, nodeRef, list, got %d", present)
	}

	if v, ok := raw["glob"]; ok {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("input.glob must be a string")
		}
		return input.Glob{Pattern: s}, nil
	}
	if v, ok := raw["fileRef"]; ok {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("input.fileRef must be a string")
		}
		return input.FileRef{Path: s}, nil
	}
	if v, ok := raw["nodeRef"]; ok {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("input.nodeRef must be a mapping")
		}
		producer, _ := m["producer"].(string)
		output, _ := m["output"].(string)
		glob, _ := m["glob"].(string)
		if producer == "" || output == "" {
			return nil, fmt.Errorf("input.nodeRef requires producer and output")
		}
		return input.NodeRef{Producer: producer, Output: output, Glob: glob}, nil
	}
	v := raw["list"]
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("input.list must be a sequence")
	}
	parsed := make([]input.Input, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("input.list[%d] must be a mapping", i)
		}
		in, err := parseInput(m)
		if err != nil {
			return nil, fmt.Errorf("input.list[%d]: %w", i, err)
		}
		parsed = append(parsed, in)
	}
	return input.List{Items: parsed}, nil
}
