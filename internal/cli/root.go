// Package cli provides the command-line interface for kindred.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/kindred-go/internal/config"
	"github.com/raphaelgruber/kindred-go/internal/coord"
	"github.com/raphaelgruber/kindred-go/internal/db"
	"github.com/raphaelgruber/kindred-go/internal/llm"
	"github.com/raphaelgruber/kindred-go/internal/metrics"
	"github.com/raphaelgruber/kindred-go/internal/scoring"
	"github.com/raphaelgruber/kindred-go/internal/service"
	"github.com/raphaelgruber/kindred-go/internal/similar"
	"github.com/raphaelgruber/kindred-go/internal/storeapi"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global config, logger and db client
	cfg      config.Config
	logger   *slog.Logger
	closeLog func() error
	dbClient *db.Client
	stats    = metrics.NewCollector()

	// Lazy-initialized service graph
	svcs *services
)

// services is the fully wired pipeline behind the commands.
type services struct {
	ingest  *service.IngestService
	suggest *service.SuggestService
	heal    *service.HealService
	jobs    *service.JobManager
}

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "kindred",
	Short: "Game catalog similarity pipeline",
	Long: `Kindred ingests game catalog entries from an external store and builds
LLM-generated similar-games lists for them: multi-strategy candidate
generation, consensus merging, curation, hallucination validation and
adaptive facet scoring.

All coordination (per-game fetch locks, store API rate pacing) goes
through the shared database, so any number of kindred processes can run
against the same catalog.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip DB connection for version and help commands
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		cfg = config.Load()
		logger, closeLog = config.SetupLogger(cfg)

		ctx := context.Background()
		dbCfg := db.Config{
			URL:       cfg.SurrealDBURL,
			Namespace: cfg.SurrealDBNamespace,
			Database:  cfg.SurrealDBDatabase,
			Username:  cfg.SurrealDBUser,
			Password:  cfg.SurrealDBPass,
			AuthLevel: cfg.SurrealDBAuthLevel,
		}

		var err error
		dbClient, err = db.NewClient(ctx, dbCfg, logger)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}

		if err := dbClient.InitSchema(ctx, cfg.EmbedDimension); err != nil {
			return fmt.Errorf("initialize schema: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if dbClient != nil {
			if err := dbClient.Close(context.Background()); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close database: %v\n", err)
			}
		}
		if closeLog != nil {
			_ = closeLog()
		}
	},
}

// getServices wires the full pipeline, including the LLM-backed parts.
// The services reference each other (ingestion detaches enrichment,
// enrichment ingests resolved suggestions and triggers healing), so the
// cycle is closed through setters after construction.
func getServices(ctx context.Context) (*services, error) {
	if svcs != nil {
		return svcs, nil
	}

	model, err := llm.NewModel(cfg)
	if err != nil {
		return nil, fmt.Errorf("init model: %w", err)
	}
	embedder, err := llm.NewEmbedder(cfg)
	if err != nil {
		return nil, fmt.Errorf("init embedder: %w", err)
	}
	weights, err := scoring.LoadWeightsFile(cfg.WeightsFile)
	if err != nil {
		return nil, fmt.Errorf("load weights: %w", err)
	}

	fetcher := storeapi.NewClient(cfg.StoreAPIBaseURL, cfg.StoreAPIKey)
	locker := coord.NewLocker(dbClient, logger, cfg.LockTTL, cfg.LockWaitInterval)
	limiter := coord.NewLimiter(dbClient, logger, cfg.RateRetryAttempts, cfg.RateRetryInterval)

	ingestSvc := service.NewIngestService(dbClient, fetcher, locker, limiter, stats, logger, service.IngestConfig{
		StoreMinDelay: cfg.StoreMinDelay,
		WaitAttempts:  cfg.IngestWaitAttempts,
		WaitInterval:  cfg.IngestWaitInterval,
	})

	engine := similar.NewEngine(model, logger)
	classifier := scoring.NewClassifier(model, logger, weights)
	grader := scoring.NewGrader(model)
	suggestSvc := service.NewSuggestService(dbClient, fetcher, engine, classifier, grader,
		embedder, model, stats, logger, cfg.SuggestionTopK, cfg.CurationEnabled)

	healSvc := service.NewHealService(dbClient, fetcher, logger)
	healSvc.SetRateLimiter(limiter, cfg.StoreMinDelay)

	ingestNoEnrich := func(ctx context.Context, gameID int64) error {
		_, err := ingestSvc.Ingest(ctx, gameID, service.IngestOptions{SkipEnrichment: true})
		return err
	}
	ingestSvc.SetEnricher(suggestSvc)
	suggestSvc.SetHealer(healSvc)
	suggestSvc.SetIngest(ingestNoEnrich)
	healSvc.SetIngest(ingestNoEnrich)

	svcs = &services{
		ingest:  ingestSvc,
		suggest: suggestSvc,
		heal:    healSvc,
		jobs:    service.NewJobManager(dbClient, logger, backfillConcurrency, backfillDelay),
	}
	return svcs, nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}
