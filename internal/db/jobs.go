package db

import (
	"context"
	"fmt"
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/surrealdb/surrealdb.go"
)

// BackfillJob is a persisted batch job row.
type BackfillJob struct {
	ID          surrealmodels.RecordID `json:"id"`
	JobType     string                 `json:"job_type"`
	Status      string                 `json:"status"`
	GameIDs     []int64                `json:"game_ids"`
	Total       int                    `json:"total"`
	Progress    int                    `json:"progress"`
	Result      map[string]any         `json:"result,omitempty"`
	Error       *string                `json:"error,omitempty"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
}

// CreateBackfillJob persists a new pending job.
func (c *Client) CreateBackfillJob(ctx context.Context, jobID, jobType string, gameIDs []int64) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		CREATE type::record("backfill_job", $id) SET
			job_type = $job_type,
			status = "pending",
			game_ids = $game_ids,
			total = $total,
			progress = 0,
			started_at = time::now()
	`, map[string]any{
		"id":       jobID,
		"job_type": jobType,
		"game_ids": gameIDs,
		"total":    len(gameIDs),
	})
	if err != nil {
		return fmt.Errorf("create backfill job: %w", wrapQueryError(err))
	}
	return nil
}

// UpdateJobStatus sets the status field of a job.
func (c *Client) UpdateJobStatus(ctx context.Context, jobID, status string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("backfill_job", $id) SET status = $status
	`, map[string]any{"id": jobID, "status": status})
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	return nil
}

// UpdateJobProgress sets the progress counter of a job.
func (c *Client) UpdateJobProgress(ctx context.Context, jobID string, progress int) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("backfill_job", $id) SET progress = $progress
	`, map[string]any{"id": jobID, "progress": progress})
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	return nil
}

// CompleteJob marks a job completed with its result summary.
func (c *Client) CompleteJob(ctx context.Context, jobID string, result map[string]any) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("backfill_job", $id) SET
			status = "completed",
			result = $result,
			completed_at = time::now()
	`, map[string]any{"id": jobID, "result": result})
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

// FailJob marks a job failed with its error message.
func (c *Client) FailJob(ctx context.Context, jobID, errMsg string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("backfill_job", $id) SET
			status = "failed",
			error = $error,
			completed_at = time::now()
	`, map[string]any{"id": jobID, "error": errMsg})
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return nil
}

// ListBackfillJobs returns the most recent jobs, newest first.
func (c *Client) ListBackfillJobs(ctx context.Context, limit int) ([]BackfillJob, error) {
	results, err := surrealdb.Query[[]BackfillJob](ctx, c.db, `
		SELECT * FROM backfill_job
		ORDER BY started_at DESC
		LIMIT $limit
	`, map[string]any{"limit": limit})
	if err != nil {
		return nil, fmt.Errorf("list backfill jobs: %w", err)
	}

	if results == nil || len(*results) == 0 {
		return []BackfillJob{}, nil
	}
	return (*results)[0].Result, nil
}

// GetIncompleteJobs returns jobs still pending or running, oldest first.
func (c *Client) GetIncompleteJobs(ctx context.Context) ([]BackfillJob, error) {
	results, err := surrealdb.Query[[]BackfillJob](ctx, c.db, `
		SELECT * FROM backfill_job
		WHERE status IN ["pending", "running"]
		ORDER BY started_at ASC
	`, nil)
	if err != nil {
		return nil, fmt.Errorf("get incomplete jobs: %w", err)
	}

	if results == nil || len(*results) == 0 {
		return []BackfillJob{}, nil
	}
	return (*results)[0].Result, nil
}
