package config

import (
	"os"
	"path/filepath"
	"testing"
)

// chdirTemp switches the process into a fresh temp directory for the
// duration of the test, restoring the original working directory on
// cleanup (pre-1.24 stand-in for testing.T.Chdir).
func chdirTemp(t *testing.T) {
	t.Helper()
	original, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	dir := t.TempDir()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Chdir(original)
	})
}

// TestDefault_PassesValidate verifies the zero-flags default config is
// always internally consistent.
func TestDefault_PassesValidate(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Default() failed Validate: %v", err)
	}
}

// TestLoad_MissingConfigFileReturnsDefaults verifies Load does not
// error when no config file is found anywhere in the search path.
func TestLoad_MissingConfigFileReturnsDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Pipeline.BuildDir != Default().Pipeline.BuildDir {
		t.Errorf("BuildDir = %q, want default %q", cfg.Pipeline.BuildDir, Default().Pipeline.BuildDir)
	}
}

// TestLoad_ExplicitConfigFileOverridesDefaults verifies values present
// in an explicit config file override Default()'s.
func TestLoad_ExplicitConfigFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sitekiln.yaml")
	yaml := "pipeline:\n  build_dir: public\n  strategy: sequential\ncache:\n  dir: .cache\n"
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Pipeline.BuildDir != "public" {
		t.Errorf("BuildDir = %q, want %q", cfg.Pipeline.BuildDir, "public")
	}
	if cfg.Pipeline.Strategy != "sequential" {
		t.Errorf("Strategy = %q, want %q", cfg.Pipeline.Strategy, "sequential")
	}
	if cfg.Cache.Dir != ".cache" {
		t.Errorf("Cache.Dir = %q, want %q", cfg.Cache.Dir, ".cache")
	}
}

// TestLoad_EnvironmentOverridesDefaults verifies SITEKILN_-prefixed
// environment variables take effect over the built-in defaults.
func TestLoad_EnvironmentOverridesDefaults(t *testing.T) {
	t.Setenv("SITEKILN_PIPELINE_BUILD_DIR", "env-dist")
	chdirTemp(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Pipeline.BuildDir != "env-dist" {
		t.Errorf("BuildDir = %q, want %q (from environment)", cfg.Pipeline.BuildDir, "env-dist")
	}
}

// TestValidate_RejectsUnknownStrategy verifies an invalid strategy
// string is rejected.
func TestValidate_RejectsUnknownStrategy(t *testing.T) {
	cfg := Default()
	cfg.Pipeline.Strategy = "bogus"
	if err := cfg.Validate(); err == nil {
		t.Error("expected an unknown strategy to fail validation")
	}
}

// TestValidate_RejectsEmptyDefinitionFile verifies a blank pipeline
// definition file path is rejected.
func TestValidate_RejectsEmptyDefinitionFile(t *testing.T) {
	cfg := Default()
	cfg.Pipeline.DefinitionFile = "   "
	if err := cfg.Validate(); err == nil {
		t.Error("expected a blank definition file to fail validation")
	}
}

// TestValidate_RejectsNegativeWorkerCount verifies a negative worker
// count is rejected.
func TestValidate_RejectsNegativeWorkerCount(t *testing.T) {
	cfg := Default()
	cfg.Workers.Count = -1
	if err := cfg.Validate(); err == nil {
		t.Error("expected a negative worker count to fail validation")
	}
}
