package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Validate and heal every stored suggestion",
	Long: `Check every suggested game id in the catalog against the external
store. Dead ids are re-searched by title: when a new listing is found,
every referencing suggestion list is rewritten to it and the new id is
ingested; otherwise the stale reference is removed everywhere.

Each distinct id costs one store lookup, paced by the shared rate
limit, so a sweep over a large catalog takes a while.`,
	Args: cobra.NoArgs,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := getServices(ctx)
	if err != nil {
		return err
	}

	fmt.Println("Sweeping suggestion references...")
	report, err := s.heal.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}

	fmt.Printf("Games scanned: %d\n", report.GamesScanned)
	fmt.Printf("Ids checked:   %d\n", report.IDsChecked)
	fmt.Printf("Healed:        %d\n", report.Healed)
	if len(report.Errors) > 0 {
		fmt.Printf("Errors (%d):\n", len(report.Errors))
		for _, e := range report.Errors {
			fmt.Printf("  - %s\n", e)
		}
	}
	return nil
}
