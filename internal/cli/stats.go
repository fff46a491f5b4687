package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/kindred-go/internal/metrics"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show catalog and process statistics",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	count, err := dbClient.CountGames(ctx)
	if err != nil {
		return fmt.Errorf("count games: %w", err)
	}
	incomplete, err := dbClient.GetIncompleteJobs(ctx)
	if err != nil {
		return fmt.Errorf("incomplete jobs: %w", err)
	}

	fmt.Printf("Games in catalog:  %d\n", count)
	fmt.Printf("Incomplete jobs:   %d\n", len(incomplete))
	printMetrics()
	return nil
}

// printMetrics renders the process operation timings, skipping operations
// this process never performed.
func printMetrics() {
	snap := stats.Snapshot()

	ops := []struct {
		name string
		op   *metrics.OperationSnapshot
	}{
		{"store_fetch", snap.StoreFetch},
		{"store_search", snap.StoreSearch},
		{"llm_generate", snap.LLMGenerate},
		{"embedding", snap.Embedding},
		{"db_query", snap.DBQuery},
	}

	header := false
	for _, entry := range ops {
		if entry.op == nil {
			continue
		}
		if !header {
			fmt.Printf("\n%-14s %-8s %-8s %-10s %-10s %-10s\n",
				"OPERATION", "COUNT", "ERRORS", "AVG(ms)", "MIN(ms)", "MAX(ms)")
			header = true
		}
		fmt.Printf("%-14s %-8d %-8d %-10.1f %-10d %-10d\n",
			entry.name, entry.op.Count, entry.op.Errors,
			entry.op.AvgTimeMs, entry.op.MinTimeMs, entry.op.MaxTimeMs)
	}
}
