package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"sitekiln/internal/cachestore"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and garbage-collect the Cache Store",
}

var cacheLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List every content-signature directory on disk",
	RunE:  runCacheLs,
}

var cacheGCFlags struct {
	dryRun bool
}

var cacheGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "Remove signature directories not touched by the most recent run",
	Long: "gc removes cache signature directories that the most recent `sitekiln run`\n" +
		"never touched — orphans left behind by a renamed, removed, or reconfigured\n" +
		"node. It relies on the touched-signature manifest `run` writes on exit, so\n" +
		"run sitekiln once after the change you expect to have orphaned entries\n" +
		"before gc'ing.",
	RunE: runCacheGC,
}

func init() {
	cacheGCCmd.Flags().BoolVar(&cacheGCFlags.dryRun, "dry-run", false, "print what would be removed without removing it")
	cacheCmd.AddCommand(cacheLsCmd)
	cacheCmd.AddCommand(cacheGCCmd)
}

func runCacheLs(cmd *cobra.Command, args []string) error {
	store := cachestore.New(cfg.Cache.Dir)
	dirs, err := store.AllSignatureDirs()
	if err != nil {
		return err
	}
	touched, err := readTouchedManifest(cfg.Cache.Dir)
	if err != nil {
		return err
	}
	for _, d := range dirs {
		status := "orphaned"
		if touched[d] {
			status = "touched"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", d, status)
	}
	return nil
}

func runCacheGC(cmd *cobra.Command, args []string) error {
	store := cachestore.New(cfg.Cache.Dir)
	dirs, err := store.AllSignatureDirs()
	if err != nil {
		return err
	}
	touched, err := readTouchedManifest(cfg.Cache.Dir)
	if err != nil {
		return err
	}

	var removed int
	for _, d := range dirs {
		if touched[d] {
			continue
		}
		if cacheGCFlags.dryRun {
			fmt.Fprintf(cmd.OutOrStdout(), "would remove %s\n", d)
			continue
		}
		if err := store.RemoveSignatureDir(d); err != nil {
			return fmt.Errorf("cache gc: removing %q: %w", d, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", d)
		removed++
	}
	if !cacheGCFlags.dryRun {
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d orphaned signature directories\n", removed)
	}
	return nil
}

func touchedManifestPath(cacheDir string) string {
	return filepath.Join(cacheDir, ".touched.json")
}

// writeTouchedManifest persists the signature directories a run touched,
// so a later `cache gc` invocation can tell "still referenced" apart
// from "orphaned" without needing to re-run the pipeline.
func writeTouchedManifest(cacheDir string, dirs []string) error {
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return err
	}
	data, err := json.Marshal(dirs)
	if err != nil {
		return err
	}
	return writeFileAtomic(touchedManifestPath(cacheDir), data)
}

func readTouchedManifest(cacheDir string) (map[string]bool, error) {
	data, err := os.ReadFile(touchedManifestPath(cacheDir))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]bool{}, nil
		}
		return nil, err
	}
	var dirs []string
	if err := json.Unmarshal(data, &dirs); err != nil {
		return nil, fmt.Errorf("cache: parsing touched manifest: %w", err)
	}
	out := make(map[string]bool, len(dirs))
	for _, d := range dirs {
		out[d] = true
	}
	return out, nil
}
