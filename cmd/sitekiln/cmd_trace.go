package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"sitekiln/internal/exectrace"
)

var traceCmd = &cobra.Command{
	Use:   "trace",
	Short: "Inspect a saved execution trace",
}

var traceShowCmd = &cobra.Command{
	Use:   "show <trace-file>",
	Short: "Pretty-print an execution trace produced by `run --trace-out`",
	Args:  cobra.ExactArgs(1),
	RunE:  runTraceShow,
}

func init() {
	traceCmd.AddCommand(traceShowCmd)
}

func runTraceShow(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	var trace exectrace.ExecutionTrace
	if err := json.Unmarshal(data, &trace); err != nil {
		return fmt.Errorf("trace show: parsing %q: %w", args[0], err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "pipeline %s\n", trace.PipelineHash)

	t := table.NewWriter()
	t.AppendHeader(table.Row{"Node", "Kind", "Item", "Reason", "Cause", "Outputs"})
	for _, e := range trace.Events {
		t.AppendRow(table.Row{e.NodeName, e.Kind, e.Item, e.Reason, e.CauseNode, len(e.Outputs)})
	}
	fmt.Fprintln(out, t.Render())
	return nil
}
