package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/kindred-go/internal/service"
)

var (
	backfillConcurrency int
	backfillDelay       time.Duration
	backfillNoProgress  bool
	backfillShowStats   bool
)

var backfillCmd = &cobra.Command{
	Use:   "backfill <ingest|refresh> <game-id>...",
	Short: "Run a batch job over a list of game ids",
	Long: `Process many games as one tracked job: "ingest" fetches and stores
each id, "refresh" rebuilds each id's suggestion list.

Games are processed in batches of --concurrency with a pause between
batches, so bulk work does not monopolize the shared store rate limit.
Job state is persisted; interrupted jobs can be restarted with
"backfill resume".

Examples:
  kindred backfill ingest 100 101 102 103
  kindred backfill refresh 100 101 --concurrency 2 --delay 5s
  kindred backfill resume`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBackfill,
}

func init() {
	backfillCmd.Flags().IntVarP(&backfillConcurrency, "concurrency", "c", 4, "games processed in parallel per batch")
	backfillCmd.Flags().DurationVar(&backfillDelay, "delay", 2*time.Second, "pause between batches")
	backfillCmd.Flags().BoolVar(&backfillNoProgress, "no-progress", false, "plain output instead of the progress display")
	backfillCmd.Flags().BoolVar(&backfillShowStats, "stats", false, "print operation timings when done")
	rootCmd.AddCommand(backfillCmd)
}

func runBackfill(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := getServices(ctx)
	if err != nil {
		return err
	}

	if args[0] == "resume" {
		return resumeBackfill(ctx, s)
	}

	if len(args) < 2 {
		return fmt.Errorf("no game ids given")
	}
	jobType, err := backfillJobType(args[0])
	if err != nil {
		return err
	}
	gameIDs := make([]int64, 0, len(args)-1)
	for _, arg := range args[1:] {
		gameID, err := parseGameID(arg)
		if err != nil {
			return err
		}
		gameIDs = append(gameIDs, gameID)
	}

	job, err := s.jobs.CreateJob(ctx, jobType, gameIDs)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}

	fmt.Printf("Job %s: %s %d games\n", job.ID, jobType, len(gameIDs))
	s.jobs.Start(job, gameFuncFor(s, jobType))

	if err := watchJob(job); err != nil {
		return err
	}
	if backfillShowStats {
		printMetrics()
	}
	return nil
}

func backfillJobType(arg string) (string, error) {
	switch arg {
	case service.JobTypeIngest, service.JobTypeRefresh:
		return arg, nil
	default:
		return "", fmt.Errorf("unknown backfill mode %q (want ingest or refresh)", arg)
	}
}

// gameFuncFor maps a job type to its per-game operation. Backfill ingest
// skips enrichment; suggestion lists are built by an explicit refresh pass.
func gameFuncFor(s *services, jobType string) service.GameFunc {
	if jobType == service.JobTypeRefresh {
		return s.suggest.Refresh
	}
	return func(ctx context.Context, gameID int64) error {
		_, err := s.ingest.Ingest(ctx, gameID, service.IngestOptions{SkipEnrichment: true})
		return err
	}
}

func resumeBackfill(ctx context.Context, s *services) error {
	err := s.jobs.ResumeIncompleteJobs(ctx,
		gameFuncFor(s, service.JobTypeIngest),
		gameFuncFor(s, service.JobTypeRefresh),
	)
	if err != nil {
		return fmt.Errorf("resume jobs: %w", err)
	}

	jobs := s.jobs.ListJobs()
	if len(jobs) == 0 {
		fmt.Println("Nothing to resume.")
		return nil
	}

	for _, job := range jobs {
		fmt.Printf("Resumed job %s (%s, %d games)\n", job.ID, job.Type, job.Total)
		if err := watchJob(job); err != nil {
			return err
		}
	}
	return nil
}

// watchJob blocks until the job reaches a terminal state, rendering the
// interactive progress display unless disabled.
func watchJob(job *service.Job) error {
	if !backfillNoProgress {
		return RunJobProgress(job)
	}

	for {
		snap := job.Snapshot()
		switch snap.Status {
		case service.JobStatusCompleted:
			printJobResult(snap)
			return nil
		case service.JobStatusFailed:
			return fmt.Errorf("job %s failed: %s", snap.ID, snap.Error)
		}
		time.Sleep(time.Second)
	}
}

func printJobResult(snap service.Job) {
	if snap.Result == nil {
		fmt.Printf("Job %s completed.\n", snap.ID)
		return
	}
	fmt.Printf("Job %s completed: %d processed, %d failed\n",
		snap.ID, snap.Result.Processed, snap.Result.Failed)
	for _, e := range snap.Result.Errors {
		fmt.Printf("  - %s\n", e)
	}
}
