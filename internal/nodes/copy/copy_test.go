package copy

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
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

func newTestPool(t *testing.T) *workerpool.Pool {
	t.Helper()
	pool := workerpool.New(2, map[string]workerpool.PerformFunc{
		noderuntime.Workload: noderuntime.ItemWorkload,
	})
	t.Cleanup(pool.Terminate)
	return pool
}

func newTestPipeline(t *testing.T) *pipeline.Pipeline {
	t.Helper()
	return pipeline.New(t.TempDir(), t.TempDir(), newTestPool(t))
}

// expectedOutputPath mirrors copy.Node.Run's own shaping so tests don't
// need to predict filepath.Rel's behavior against an absolute temp-dir
// source that lies outside buildDir.
func expectedOutputPath(t *testing.T, buildDir, nodeName string, outputOpts map[string]any, src string) string {
	t.Helper()
	oc := noderuntime.ParseOutputConfig(outputOpts)
	defaultDir := oc.OutputDir
	if defaultDir == "" {
		defaultDir = filepath.Join(buildDir, nodeName)
	}
	cleaned := noderuntime.CleanInputPath(src, buildDir, ".")
	got, err := noderuntime.ShapeOutputPath(oc, cleaned, defaultDir)
	if err != nil {
		t.Fatalf("ShapeOutputPath: %v", err)
	}
	return got
}

// TestCopy_CopiesFileIntoBuildDir verifies a single FileRef input is
// copied verbatim into the node's build subdirectory.
func TestCopy_CopiesFileIntoBuildDir(t *testing.T) {
	srcDir := t.TempDir()
	src := filepath.Join(srcDir, "index.md")
	if err := os.WriteFile(src, []byte("# hello"), 0644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	p := newTestPipeline(t)
	n := New("pages", input.FileRef{Path: src}, nil)
	if err := p.AddNode(n); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	if err := p.Run(testContext(), pipeline.Sequential); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := expectedOutputPath(t, p.BuildDir, "pages", nil, src)
	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("expected output at %s: %v", want, err)
	}
	if string(data) != "# hello" {
		t.Errorf("output content = %q, want %q", data, "# hello")
	}
}

// TestCopy_RerunWithoutChangesIsACacheHit verifies a second Run against
// unchanged inputs does not rewrite the output (exercised indirectly via
// the cache's hit path not erroring and output remaining intact).
func TestCopy_RerunWithoutChangesIsACacheHit(t *testing.T) {
	srcDir := t.TempDir()
	src := filepath.Join(srcDir, "index.md")
	if err := os.WriteFile(src, []byte("# hello"), 0644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	buildDir := t.TempDir()
	cacheDir := t.TempDir()
	pool := newTestPool(t)

	p1 := pipeline.New(buildDir, cacheDir, pool)
	if err := p1.AddNode(New("pages", input.FileRef{Path: src}, nil)); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	if err := p1.Run(testContext(), pipeline.Sequential); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}

	p2 := pipeline.New(buildDir, cacheDir, pool)
	if err := p2.AddNode(New("pages", input.FileRef{Path: src}, nil)); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	if err := p2.Run(testContext(), pipeline.Sequential); err != nil {
		t.Fatalf("second Run failed: %v", err)
	}

	want := expectedOutputPath(t, buildDir, "pages", nil, src)
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("expected output to still exist after cached re-run: %v", err)
	}
}

// TestCopy_OutputDirOptionOverridesDefault verifies the OutputOpts
// "outputDir" key relocates outputs away from the default
// "<buildDir>/<nodeName>" location.
func TestCopy_OutputDirOptionOverridesDefault(t *testing.T) {
	srcDir := t.TempDir()
	src := filepath.Join(srcDir, "a.txt")
	if err := os.WriteFile(src, []byte("data"), 0644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	p := newTestPipeline(t)
	customDir := filepath.Join(p.BuildDir, "assets-custom")
	outputOpts := map[string]any{"outputDir": customDir}
	n := New("assets", input.FileRef{Path: src}, outputOpts)
	if err := p.AddNode(n); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	if err := p.Run(testContext(), pipeline.Sequential); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := expectedOutputPath(t, p.BuildDir, "assets", outputOpts, src)
	if !strings.HasPrefix(want, customDir) {
		t.Fatalf("sanity check: expected path %s should be rooted under %s", want, customDir)
	}
	if _, err := os.Stat(want); err != nil {
		t.Errorf("expected output under custom outputDir at %s: %v", want, err)
	}
}
