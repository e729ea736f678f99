package zip

import (
	"archive/zip"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"sitekiln/internal/ctxlog"
	"sitekiln/internal/input"
	"sitekiln/internal/noderuntime"
	"sitekiln/internal/pipeline"
	"sitekiln/internal/workerpool"
)

func testContext() context.Context {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return ctxlog.WithLogger(context.Background(), logger)
}

func newTestPipeline(t *testing.T, buildDir, cacheDir string, pool *workerpool.Pool) *pipeline.Pipeline {
	t.Helper()
	return pipeline.New(buildDir, cacheDir, pool)
}

func readZipNames(t *testing.T, path string) []string {
	t.Helper()
	r, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("opening archive %s: %v", path, err)
	}
	defer r.Close()
	var names []string
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	return names
}

// TestZip_ArchivesAllMatchedFiles verifies every resolved input member
// ends up in the produced archive.
func TestZip_ArchivesAllMatchedFiles(t *testing.T) {
	srcDir := t.TempDir()
	a := filepath.Join(srcDir, "a.txt")
	b := filepath.Join(srcDir, "b.txt")
	if err := os.WriteFile(a, []byte("a"), 0644); err != nil {
		t.Fatalf("write a: %v", err)
	}
	if err := os.WriteFile(b, []byte("b"), 0644); err != nil {
		t.Fatalf("write b: %v", err)
	}

	buildDir := t.TempDir()
	pool := workerpool.New(2, map[string]workerpool.PerformFunc{noderuntime.Workload: noderuntime.ItemWorkload})
	defer pool.Terminate()

	p := newTestPipeline(t, buildDir, t.TempDir(), pool)
	n := New("bundle", input.List{Items: []input.Input{
		input.FileRef{Path: a},
		input.FileRef{Path: b},
	}}, "", nil)
	if err := p.AddNode(n); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	if err := p.Run(testContext(), pipeline.Sequential); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	archivePath := filepath.Join(buildDir, "bundle", "bundle.zip")
	names := readZipNames(t, archivePath)
	if len(names) != 2 {
		t.Fatalf("archive has %d entries, want 2: %v", len(names), names)
	}
}

// TestZip_CustomArchiveNameHonored verifies an explicit archive name
// overrides the default "<nodeName>.zip".
func TestZip_CustomArchiveNameHonored(t *testing.T) {
	srcDir := t.TempDir()
	a := filepath.Join(srcDir, "a.txt")
	if err := os.WriteFile(a, []byte("a"), 0644); err != nil {
		t.Fatalf("write a: %v", err)
	}

	buildDir := t.TempDir()
	pool := workerpool.New(2, map[string]workerpool.PerformFunc{noderuntime.Workload: noderuntime.ItemWorkload})
	defer pool.Terminate()

	p := newTestPipeline(t, buildDir, t.TempDir(), pool)
	n := New("bundle", input.FileRef{Path: a}, "site.zip", nil)
	if err := p.AddNode(n); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	if err := p.Run(testContext(), pipeline.Sequential); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	archivePath := filepath.Join(buildDir, "bundle", "site.zip")
	if _, err := os.Stat(archivePath); err != nil {
		t.Errorf("expected archive at %s: %v", archivePath, err)
	}
}

// TestZip_RerunWithoutChangesHitsCache verifies re-running with no
// input changes still produces (or leaves intact) a valid archive via
// the whole-node cache entry rather than the per-item envelope.
func TestZip_RerunWithoutChangesHitsCache(t *testing.T) {
	srcDir := t.TempDir()
	a := filepath.Join(srcDir, "a.txt")
	if err := os.WriteFile(a, []byte("a"), 0644); err != nil {
		t.Fatalf("write a: %v", err)
	}

	buildDir := t.TempDir()
	cacheDir := t.TempDir()
	pool := workerpool.New(2, map[string]workerpool.PerformFunc{noderuntime.Workload: noderuntime.ItemWorkload})
	defer pool.Terminate()

	build := func() {
		p := newTestPipeline(t, buildDir, cacheDir, pool)
		n := New("bundle", input.FileRef{Path: a}, "", nil)
		if err := p.AddNode(n); err != nil {
			t.Fatalf("AddNode: %v", err)
		}
		if err := p.Run(testContext(), pipeline.Sequential); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
	}

	build()
	archivePath := filepath.Join(buildDir, "bundle", "bundle.zip")
	first, err := os.Stat(archivePath)
	if err != nil {
		t.Fatalf("expected archive after first build: %v", err)
	}

	build()
	second, err := os.Stat(archivePath)
	if err != nil {
		t.Fatalf("expected archive after second build: %v", err)
	}
	if !second.ModTime().Equal(first.ModTime()) {
		t.Error("expected the second build to hit the cache and leave the archive untouched")
	}
	names := readZipNames(t, archivePath)
	if len(names) != 1 || names[0] != "a.txt" {
		t.Errorf("archive entries = %v, want [a.txt]", names)
	}
}
