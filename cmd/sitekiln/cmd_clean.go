package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove the build directory and the cache directory entirely",
	RunE:  runClean,
}

func runClean(cmd *cobra.Command, args []string) error {
	for _, dir := range []string{cfg.Pipeline.BuildDir, cfg.Cache.Dir} {
		if dir == "" {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("clean: removing %q: %w", dir, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", dir)
	}
	return nil
}
