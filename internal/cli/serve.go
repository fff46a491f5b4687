package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/kindred-go/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the catalog over HTTP",
	Long: `Run the read-only HTTP API: stored games, their suggestion lists and
embedding-based nearest-neighbor lookups. The server never writes, so
any number of instances can run against the same database.

Endpoints:
  GET /health
  GET /games/{id}
  GET /games/{id}/similar
  GET /games/{id}/nearest?limit=10&min_score=0.3`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "listen address")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := server.New(serveAddr, Version, dbClient, logger)
	return srv.Run(ctx)
}
