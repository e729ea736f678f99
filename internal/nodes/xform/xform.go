// Package xform implements a per-item text transform node: it evaluates
// an expr-lang expression against each input file's content, writes the
// result to a shaped output path, and reports any "@import" lines in the
// content as runtime-discovered cache dependencies — standing in for the
// kind of include-tracking a real templating/XSLT node would need.
package xform

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/expr-lang/expr"

	"sitekiln/internal/input"
	"sitekiln/internal/node"
	"sitekiln/internal/nodes/nodeutil"
	"sitekiln/internal/noderuntime"
)

const outputName = "files"

var importLine = regexp.MustCompile(`(?m)^@import\s+"([^"]+)"\s*$`)

// Node applies Transform to every resolved input item's content.
type Node struct {
	NodeName   string
	Input      input.Input
	Transform  noderuntime.Hook // evaluated against {content, path}; must yield a string
	OutputOpts map[string]any
	Deps       []string
}

// New constructs an xform node named name, applying transform to each
// item Input resolves to.
func New(name string, in input.Input, transform noderuntime.Hook, outputOpts map[string]any, deps ...string) *Node {
	return &Node{NodeName: name, Input: in, Transform: transform, OutputOpts: outputOpts, Deps: deps}
}

func (n *Node) Name() string     { return n.NodeName }
func (n *Node) TypeName() string { return "xform" }

func (n *Node) Config() map[string]any {
	return map[string]any{
		"input":     nodeutil.ConfigInput(n.Input),
		"transform": n.Transform,
	}
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
		raw, err := os.ReadFile(item)
		if err != nil {
			return nil, nil, fmt.Errorf("xform: reading %q: %w", item, err)
		}

		transformed, err := n.apply(item, string(raw))
		if err != nil {
			return nil, nil, fmt.Errorf("xform: transforming %q: %w", item, err)
		}

		dst, err := shape(item)
		if err != nil {
			return nil, nil, fmt.Errorf("xform: shaping output path for %q: %w", item, err)
		}
		if err := nodeutil.WriteFileAtomic(dst, []byte(transformed)); err != nil {
			return nil, nil, fmt.Errorf("xform: writing %q: %w", dst, err)
		}

		return node.Output{outputName: {dst}}, discoveredImports(item, raw), nil
	}

	return nodeutil.RunItems(rc, n.TypeName(), n.NodeName, n.Config(), items, outputDir, pathFor, doWork)
}

func (n *Node) apply(path, content string) (string, error) {
	program, err := expr.Compile(n.Transform.Expr, expr.Env(map[string]any{"content": "", "path": ""}))
	if err != nil {
		return "", fmt.Errorf("compiling hook %q: %w", n.Transform.Identifier, err)
	}
	out, err := expr.Run(program, map[string]any{"content": content, "path": path})
	if err != nil {
		return "", fmt.Errorf("evaluating hook %q: %w", n.Transform.Identifier, err)
	}
	s, ok := out.(string)
	if !ok {
		return "", fmt.Errorf("hook %q did not evaluate to a string", n.Transform.Identifier)
	}
	return s, nil
}

// discoveredImports resolves every "@import "path"" line's target
// relative to item's directory, reporting them as dependencies the
// cache must also watch.
func discoveredImports(item string, content []byte) []string {
	matches := importLine.FindAllSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}
	dir := filepath.Dir(item)
	deps := make([]string, 0, len(matches))
	for _, m := range matches {
		deps = append(deps, filepath.Join(dir, string(m[1])))
	}
	return deps
}
