package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/kindred-go/internal/db"
	"github.com/raphaelgruber/kindred-go/internal/models"
)

var jobsLimit int

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List persisted backfill jobs",
	Long: `List backfill jobs recorded in the database, most recent first.
Incomplete jobs can be restarted with "kindred backfill resume".

Examples:
  kindred jobs
  kindred jobs --limit 5`,
	Args: cobra.NoArgs,
	RunE: runJobs,
}

func init() {
	jobsCmd.Flags().IntVarP(&jobsLimit, "limit", "n", 20, "max jobs to show")
	rootCmd.AddCommand(jobsCmd)
}

func runJobs(cmd *cobra.Command, args []string) error {
	jobs, err := dbClient.ListBackfillJobs(cmd.Context(), jobsLimit)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	fmt.Printf("%-10s %-10s %-12s %-10s %-10s %s\n", "ID", "TYPE", "STATUS", "PROGRESS", "STARTED", "DURATION")
	fmt.Println("----------------------------------------------------------------------------")

	for _, job := range jobs {
		jobID, err := models.RecordIDString(job.ID)
		if err != nil {
			continue
		}
		fmt.Printf("%-10s %-10s %-12s %-10s %-10s %s\n",
			jobID, job.JobType, job.Status,
			fmt.Sprintf("%d/%d", job.Progress, job.Total),
			job.StartedAt.Format("15:04:05"),
			jobDuration(job))
	}
	return nil
}

func jobDuration(job db.BackfillJob) string {
	if job.CompletedAt == nil {
		return "-"
	}
	return job.CompletedAt.Sub(job.StartedAt).Round(time.Second).String()
}
