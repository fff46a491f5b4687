package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/kindred-go/internal/service"
)

var (
	ingestForce          bool
	ingestSkipEnrichment bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <game-id>",
	Short: "Fetch and store one catalog entry",
	Long: `Fetch a game from the external store and persist it.

Already-ingested games return the cached row without a network call;
use --force to refetch. Unless --skip-enrichment is given, the suggestion
list is built right after the entry is stored.

Examples:
  kindred ingest 1042
  kindred ingest 1042 --force`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().BoolVarP(&ingestForce, "force", "f", false, "refetch even if already ingested")
	ingestCmd.Flags().BoolVar(&ingestSkipEnrichment, "skip-enrichment", false, "skip the background suggestion refresh")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	gameID, err := parseGameID(args[0])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	s, err := getServices(ctx)
	if err != nil {
		return err
	}

	// Enrichment runs synchronously here; a detached goroutine would not
	// survive process exit.
	game, err := s.ingest.Ingest(ctx, gameID, service.IngestOptions{
		Force:          ingestForce,
		SkipEnrichment: true,
	})
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	if game == nil {
		fmt.Printf("Game %d is being ingested by another process; try again shortly.\n", gameID)
		return nil
	}

	fmt.Printf("Ingested: %s (id %d)\n", game.Title, game.GameID)
	if len(game.Tags) > 0 {
		fmt.Printf("  Tags: %v\n", game.Tags)
	}
	if len(game.Developers) > 0 {
		fmt.Printf("  Developers: %v\n", game.Developers)
	}

	if !ingestSkipEnrichment {
		fmt.Println("Building suggestion list...")
		if err := s.suggest.Refresh(ctx, gameID); err != nil {
			return fmt.Errorf("enrich: %w", err)
		}
		return printSuggestions(ctx, gameID)
	}
	return nil
}

func parseGameID(arg string) (int64, error) {
	gameID, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid game id %q", arg)
	}
	return gameID, nil
}
