package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh <game-id>",
	Short: "Rebuild a game's similar-games list",
	Long: `Rebuild the suggestion list for an already-ingested game: generate
candidates with every strategy, merge by consensus, curate, resolve
titles against the store, score and persist.

Examples:
  kindred refresh 1042`,
	Args: cobra.ExactArgs(1),
	RunE: runRefresh,
}

func init() {
	rootCmd.AddCommand(refreshCmd)
}

func runRefresh(cmd *cobra.Command, args []string) error {
	gameID, err := parseGameID(args[0])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	s, err := getServices(ctx)
	if err != nil {
		return err
	}

	if err := s.suggest.Refresh(ctx, gameID); err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	return printSuggestions(ctx, gameID)
}

// printSuggestions renders the stored suggestion list for one game.
func printSuggestions(ctx context.Context, gameID int64) error {
	game, err := dbClient.GetGame(ctx, gameID)
	if err != nil {
		return err
	}
	if game == nil {
		return fmt.Errorf("game not found: %d", gameID)
	}

	if len(game.Suggested) == 0 {
		fmt.Printf("%s (id %d): no suggestions stored\n", game.Title, game.GameID)
		return nil
	}

	fmt.Printf("Similar to %s (id %d):\n\n", game.Title, game.GameID)
	fmt.Printf("  %-5s %-8s %-6s %s\n", "GRADE", "SCORE", "ID", "TITLE")
	for _, s := range game.Suggested {
		fmt.Printf("  %-5s %-8.3f %-6d %s\n", s.Grade, s.Score, s.GameID, s.Title)
	}
	return nil
}
