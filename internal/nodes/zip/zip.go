// Package zip bundles every resolved input member into a single archive.
// Unlike copy and xform it does not go through noderuntime.Envelope's
// per-item cache: an archive has exactly one output derived from many
// inputs, so it keeps one whole-node cache entry instead of one per
// item, driving the Cache Store directly — the pattern an aggregating
// node reaches for instead of the per-item envelope.
package zip

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"sitekiln/internal/cachestore"
	"sitekiln/internal/input"
	"sitekiln/internal/node"
	"sitekiln/internal/nodes/nodeutil"
	"sitekiln/internal/noderuntime"
)

const (
	outputName = "archive"
	cacheKey   = "archive"
)

// Node archives every file Input resolves to into a single zip.
type Node struct {
	NodeName    string
	Input       input.Input
	ArchiveName string // defaults to NodeName + ".zip"
	OutputOpts  map[string]any
	Deps        []string
}

// New constructs a zip node named name, bundling Input's matches into
// archiveName (or "<name>.zip" if empty).
func New(name string, in input.Input, archiveName string, outputOpts map[string]any, deps ...string) *Node {
	return &Node{NodeName: name, Input: in, ArchiveName: archiveName, OutputOpts: outputOpts, Deps: deps}
}

func (n *Node) Name() string     { return n.NodeName }
func (n *Node) TypeName() string { return "zip" }

func (n *Node) Config() map[string]any {
	return map[string]any{
		"input":       nodeutil.ConfigInput(n.Input),
		"archiveName": n.archiveName(),
	}
}

func (n *Node) OutputConfig() map[string]any   { return n.OutputOpts }
func (n *Node) ExplicitDependencies() []string { return n.Deps }

func (n *Node) archiveName() string {
	if n.ArchiveName != "" {
		return n.ArchiveName
	}
	return n.NodeName + ".zip"
}

func (n *Node) Run(rc node.RunContext) ([]node.Output, error) {
	full, ok := rc.(nodeutil.RuntimeContext)
	if !ok {
		return nil, fmt.Errorf("zip: run context does not support the node runtime envelope")
	}

	items, err := rc.ResolveInput(n.Input)
	if err != nil {
		return nil, err
	}
	sort.Strings(items)

	oc := noderuntime.ParseOutputConfig(n.OutputOpts)
	outputDir := oc.OutputDir
	if outputDir == "" {
		outputDir = filepath.Join(rc.BuildDir(), n.NodeName)
	}
	archivePath := filepath.Join(outputDir, n.archiveName())

	signature := noderuntime.ContentSignature(n.TypeName(), n.Config())
	store := full.Envelope().Store
	upstream := full.Envelope().Upstream

	if entry, err := store.Get(signature, cacheKey); err != nil {
		return nil, err
	} else if entry != nil {
		if hit, err := store.Validate(entry, upstream); err != nil {
			return nil, err
		} else if hit {
			rc.Log().Info("cache hit", "node", n.NodeName, "item", cacheKey)
			return []node.Output{{outputName: {archivePath}}}, nil
		}
	}

	rc.Log().Info("cache miss", "node", n.NodeName, "item", cacheKey)
	if err := writeArchive(items, archivePath); err != nil {
		return nil, fmt.Errorf("zip: %w", err)
	}

	built, err := store.Build(cachestore.BuildInput{
		Items:         items,
		OutputsByKey:  map[string][]string{outputName: {archivePath}},
		OutputBaseDir: outputDir,
		CacheKey:      cacheKey,
		NowMillis:     time.Now().UnixMilli(),
	})
	if err != nil {
		return nil, err
	}
	if err := store.Put(signature, cacheKey, built); err != nil {
		return nil, err
	}

	return []node.Output{{outputName: {archivePath}}}, nil
}

func writeArchive(items []string, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	zw := zip.NewWriter(tmp)
	for _, item := range items {
		if err := addFileToZip(zw, item); err != nil {
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return err
	}
	committed = true
	return nil
}

func addFileToZip(zw *zip.Writer, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()
	w, err := zw.Create(filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(w, src)
	return err
}
