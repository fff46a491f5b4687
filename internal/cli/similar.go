package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	similarNearest  int
	similarMinScore float64
)

var similarCmd = &cobra.Command{
	Use:   "similar <game-id>",
	Short: "Show a game's similar-games list",
	Long: `Show the stored suggestion list for a game, ranked by score.

With --nearest, the game's facet embedding is used instead to find the
closest catalog entries by cosine similarity.

Examples:
  kindred similar 1042
  kindred similar 1042 --nearest 10 --min-score 0.5`,
	Args: cobra.ExactArgs(1),
	RunE: runSimilar,
}

func init() {
	similarCmd.Flags().IntVar(&similarNearest, "nearest", 0, "show the N nearest games by facet embedding instead")
	similarCmd.Flags().Float64Var(&similarMinScore, "min-score", 0.3, "minimum cosine similarity for --nearest")
	rootCmd.AddCommand(similarCmd)
}

func runSimilar(cmd *cobra.Command, args []string) error {
	gameID, err := parseGameID(args[0])
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	if similarNearest <= 0 {
		return printSuggestions(ctx, gameID)
	}

	game, err := dbClient.GetGame(ctx, gameID)
	if err != nil {
		return err
	}
	if game == nil {
		return fmt.Errorf("game not found: %d", gameID)
	}
	if len(game.Embedding) == 0 {
		return fmt.Errorf("game %d has no facet embedding yet; run refresh first", gameID)
	}

	rows, err := dbClient.Nearest(ctx, game.Embedding, similarNearest+1, similarMinScore)
	if err != nil {
		return fmt.Errorf("nearest: %w", err)
	}

	fmt.Printf("Nearest to %s (id %d) by facet embedding:\n\n", game.Title, game.GameID)
	fmt.Printf("  %-8s %-6s %s\n", "COSINE", "ID", "TITLE")
	shown := 0
	for _, row := range rows {
		if row.GameID == gameID {
			continue
		}
		fmt.Printf("  %-8.3f %-6d %s\n", row.Score, row.GameID, row.Title)
		shown++
		if shown == similarNearest {
			break
		}
	}
	if shown == 0 {
		fmt.Println("  (no games above the similarity threshold)")
	}
	return nil
}
