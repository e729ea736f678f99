package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"sitekiln/internal/config"
)

// version is set at build time via -ldflags.
var version = "dev"

var cfgFile string

var cfg config.Config

var rootCmd = &cobra.Command{
	Use:   "sitekiln",
	Short: "Incremental, content-addressed build orchestrator for static-site pipelines",
	Long: "sitekiln runs a pipeline of content-processing nodes, caching each node's\n" +
		"per-item output by content and re-running only what actually changed.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: .sitekiln/config.yaml)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(traceCmd)
	rootCmd.Version = version
}

func rootLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
