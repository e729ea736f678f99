// Package copy implements the simplest reference node: it copies each
// resolved input file into the build directory, applying whatever
// output-path shaping its OutputConfig specifies. Read this one first.
package copy

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"sitekiln/internal/input"
	"sitekiln/internal/node"
	"sitekiln/internal/nodes/nodeutil"
	"sitekiln/internal/noderuntime"
)

const outputName = "files"

// Node copies every file matched by Input to its shaped output path.
type Node struct {
	NodeName   string
	Input      input.Input
	OutputOpts map[string]any
	Deps       []string
}

// New constructs a copy node named name. outputOpts may be nil for
// default shaping (identity relative path under the node's build
// subdirectory).
func New(name string, in input.Input, outputOpts map[string]any, deps ...string) *Node {
	return &Node{NodeName: name, Input: in, OutputOpts: outputOpts, Deps: deps}
}

func (n *Node) Name() string     { return n.NodeName }
func (n *Node) TypeName() string { return "copy" }

func (n *Node) Config() map[string]any {
	return map[string]any{"input": nodeutil.ConfigInput(n.Input)}
}

func (n *Node) OutputConfig() map[string]any   { return n.OutputOpts }
func (n *Node) ExplicitDependencies() []string { return n.Deps }

func (n *Node) Run(rc node.RunContext) ([]node.Output, error) {
	items, err := rc.ResolveInput(n.Input)
	if err != nil {
		return nil, err
	}

	oc := noderuntime.ParseOutputConfig(n.OutputOpts)
	outputDir := func() string {
		if oc.OutputDir != "" {
			return oc.OutputDir
		}
		return filepath.Join(rc.BuildDir(), n.NodeName)
	}

	shape := func(item string) (string, error) {
		cleaned := noderuntime.CleanInputPath(item, rc.BuildDir(), ".")
		return noderuntime.ShapeOutputPath(oc, cleaned, outputDir())
	}

	pathFor := func(item, name string) (string, bool) {
		if name != outputName {
			return "", false
		}
		p, err := shape(item)
		if err != nil {
			return "", false
		}
		return p, true
	}

	doWork := func(_ context.Context, item string) (node.Output, []string, error) {
		dst, err := shape(item)
		if err != nil {
			return nil, nil, fmt.Errorf("copy: shaping output path for %q: %w", item, err)
		}
		if err := copyFile(item, dst); err != nil {
			return nil, nil, fmt.Errorf("copy: %q -> %q: %w", item, dst, err)
		}
		return node.Output{outputName: {dst}}, nil, nil
	}

	return nodeutil.RunItems(rc, n.TypeName(), n.NodeName, n.Config(), items, outputDir, pathFor, doWork)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	data, err := io.ReadAll(in)
	if err != nil {
		return err
	}
	return nodeutil.WriteFileAtomic(dst, data)
}
