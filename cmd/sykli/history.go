// Copyright Contributors to the Sykli project

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yairfalse/sykli/internal/config"
	"github.com/yairfalse/sykli/internal/manifest"
)

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().StringVar(&historyPipeline, "pipeline", "", "Pipeline name to look up (required unless --run-id is set)")
	historyCmd.Flags().StringVar(&historyRunID, "run-id", "", "Look up a single run by ID across all pipelines")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 10, "Maximum number of runs to list (0 = unbounded)")
}

var (
	historyPipeline string
	historyRunID    string
	historyLimit    int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect past pipeline runs",
	RunE:  runHistory,
}

func runHistory(cmd *cobra.Command, args []string) error {
	h := manifest.NewHistory(config.Load().HistoryDir, config.DefaultHistorySize)

	if historyRunID != "" {
		rec, ok, err := h.ByID(historyRunID)
		if err != nil {
			return invocationError(err)
		}
		if !ok {
			return taskFailure(fmt.Errorf("no run found with id %q", historyRunID))
		}
		return printJSON(rec)
	}

	if historyPipeline == "" {
		return invocationError(fmt.Errorf("--pipeline or --run-id is required"))
	}

	records, err := h.List(historyPipeline, historyLimit)
	if err != nil {
		return invocationError(err)
	}
	return printJSON(records)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
