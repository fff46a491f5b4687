package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/raphaelgruber/kindred-go/internal/db"
	"github.com/raphaelgruber/kindred-go/internal/models"
)

// JobStatus represents the state of a background job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Backfill job types.
const (
	JobTypeIngest  = "ingest"
	JobTypeRefresh = "refresh"
)

// GameFunc processes one game id within a backfill job.
type GameFunc func(ctx context.Context, gameID int64) error

// BackfillResult summarizes a finished backfill job.
type BackfillResult struct {
	Processed int
	Failed    int
	Errors    []string
}

// Job represents a background backfill over a list of game ids.
type Job struct {
	ID        string
	Type      string
	Status    JobStatus
	GameIDs   []int64
	Progress  int
	Total     int
	Result    *BackfillResult
	Error     string
	StartedAt time.Time

	mu                 sync.RWMutex
	lastProgressUpdate time.Time
}

// Snapshot returns a thread-safe copy of the job's state.
func (j *Job) Snapshot() Job {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return Job{
		ID:        j.ID,
		Type:      j.Type,
		Status:    j.Status,
		Progress:  j.Progress,
		Total:     j.Total,
		Result:    j.Result,
		Error:     j.Error,
		StartedAt: j.StartedAt,
	}
}

// JobStore is the job persistence surface. *db.Client satisfies it.
type JobStore interface {
	CreateBackfillJob(ctx context.Context, jobID, jobType string, gameIDs []int64) error
	UpdateJobStatus(ctx context.Context, jobID, status string) error
	UpdateJobProgress(ctx context.Context, jobID string, progress int) error
	CompleteJob(ctx context.Context, jobID string, result map[string]any) error
	FailJob(ctx context.Context, jobID, errMsg string) error
	GetIncompleteJobs(ctx context.Context) ([]db.BackfillJob, error)
}

// JobManager tracks and runs backfill jobs: a concurrency-limited batch
// loop with an inter-batch delay so bulk work does not starve live
// requests of the shared rate limit. Jobs persist across restarts.
type JobManager struct {
	jobs        map[string]*Job
	mu          sync.RWMutex
	store       JobStore
	log         *slog.Logger
	concurrency int
	batchDelay  time.Duration
}

func NewJobManager(store JobStore, log *slog.Logger, concurrency int, batchDelay time.Duration) *JobManager {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &JobManager{
		jobs:        make(map[string]*Job),
		store:       store,
		log:         log,
		concurrency: concurrency,
		batchDelay:  batchDelay,
	}
}

// Concurrency returns the configured batch width.
func (m *JobManager) Concurrency() int { return m.concurrency }

// CreateJob creates and persists a new pending job.
func (m *JobManager) CreateJob(ctx context.Context, jobType string, gameIDs []int64) (*Job, error) {
	job := &Job{
		ID:        uuid.New().String()[:8],
		Type:      jobType,
		Status:    JobStatusPending,
		GameIDs:   gameIDs,
		Total:     len(gameIDs),
		StartedAt: time.Now(),
	}

	if m.store != nil {
		if err := m.store.CreateBackfillJob(ctx, job.ID, jobType, gameIDs); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	m.log.Info("job created", "job_id", job.ID, "type", jobType, "games", len(gameIDs))
	return job, nil
}

// GetJob retrieves a job by ID, or nil.
func (m *JobManager) GetJob(id string) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobs[id]
}

// ListJobs returns all known jobs, most recent first.
func (m *JobManager) ListJobs() []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	slices.SortFunc(jobs, func(a, b *Job) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	return jobs
}

// Start runs the job in the background, applying fn to each game id.
func (m *JobManager) Start(job *Job, fn GameFunc) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				m.log.Error("job goroutine panicked", "job_id", job.ID, "panic", r)
				m.fail(context.Background(), job, fmt.Errorf("internal panic: %v", r))
			}
		}()

		ctx := context.Background()
		m.setRunning(ctx, job)

		result := m.runBatches(ctx, job, fn)
		m.complete(ctx, job, result)
	}()
}

// runBatches processes ids in batches of the configured width, pausing
// batchDelay between batches. Per-game failures are recorded, never fatal
// to the job.
func (m *JobManager) runBatches(ctx context.Context, job *Job, fn GameFunc) *BackfillResult {
	result := &BackfillResult{}
	var resultMu sync.Mutex

	ids := job.GameIDs
	for start := 0; start < len(ids); start += m.concurrency {
		if start > 0 && m.batchDelay > 0 {
			time.Sleep(m.batchDelay)
		}

		end := start + m.concurrency
		if end > len(ids) {
			end = len(ids)
		}

		var wg sync.WaitGroup
		for _, gameID := range ids[start:end] {
			wg.Add(1)
			go func(gameID int64) {
				defer wg.Done()
				err := fn(ctx, gameID)

				resultMu.Lock()
				defer resultMu.Unlock()
				if err != nil {
					result.Failed++
					result.Errors = append(result.Errors, fmt.Sprintf("game %d: %v", gameID, err))
					m.log.Warn("backfill item failed", "job_id", job.ID, "game_id", gameID, "error", err)
					return
				}
				result.Processed++
			}(gameID)
		}
		wg.Wait()

		m.updateProgress(ctx, job, end)
	}
	return result
}

// updateProgress updates job progress with debounced persistence.
func (m *JobManager) updateProgress(ctx context.Context, job *Job, current int) {
	job.mu.Lock()
	job.Progress = current
	shouldPersist := m.store != nil &&
		(time.Since(job.lastProgressUpdate) > 5*time.Second || current == job.Total)
	if shouldPersist {
		job.lastProgressUpdate = time.Now()
	}
	job.mu.Unlock()

	if shouldPersist {
		if err := m.store.UpdateJobProgress(ctx, job.ID, current); err != nil {
			m.log.Warn("failed to persist job progress", "job_id", job.ID, "error", err)
		}
	}
}

func (m *JobManager) setRunning(ctx context.Context, job *Job) {
	job.mu.Lock()
	job.Status = JobStatusRunning
	job.mu.Unlock()

	if m.store != nil {
		if err := m.store.UpdateJobStatus(ctx, job.ID, string(JobStatusRunning)); err != nil {
			m.log.Warn("failed to set job running", "job_id", job.ID, "error", err)
		}
	}
}

func (m *JobManager) complete(ctx context.Context, job *Job, result *BackfillResult) {
	job.mu.Lock()
	job.Status = JobStatusCompleted
	job.Result = result
	job.mu.Unlock()

	if m.store != nil {
		resultMap := map[string]any{
			"processed": result.Processed,
			"failed":    result.Failed,
			"errors":    result.Errors,
		}
		if err := m.store.CompleteJob(ctx, job.ID, resultMap); err != nil {
			m.log.Warn("failed to persist job completion", "job_id", job.ID, "error", err)
		}
	}

	m.log.Info("job completed", "job_id", job.ID,
		"processed", result.Processed, "failed", result.Failed)
}

func (m *JobManager) fail(ctx context.Context, job *Job, err error) {
	job.mu.Lock()
	job.Status = JobStatusFailed
	job.Error = err.Error()
	job.mu.Unlock()

	if m.store != nil {
		if dbErr := m.store.FailJob(ctx, job.ID, err.Error()); dbErr != nil {
			m.log.Warn("failed to persist job failure", "job_id", job.ID, "error", dbErr)
		}
	}

	m.log.Error("job failed", "job_id", job.ID, "error", err)
}

// ResumeIncompleteJobs restarts jobs interrupted by a process restart.
// Restarting from the full id list is safe: ingest jobs hit the cached
// fast path for ids already done, and refresh is idempotent.
func (m *JobManager) ResumeIncompleteJobs(ctx context.Context, ingest, refresh GameFunc) error {
	if m.store == nil {
		return nil
	}

	incomplete, err := m.store.GetIncompleteJobs(ctx)
	if err != nil {
		return err
	}
	if len(incomplete) == 0 {
		m.log.Info("no incomplete jobs to resume")
		return nil
	}

	for _, dbJob := range incomplete {
		jobID, err := models.RecordIDString(dbJob.ID)
		if err != nil {
			m.log.Warn("failed to read job id", "error", err)
			continue
		}

		var fn GameFunc
		switch dbJob.JobType {
		case JobTypeIngest:
			fn = ingest
		case JobTypeRefresh:
			fn = refresh
		default:
			m.log.Warn("unknown job type, skipping", "job_id", jobID, "type", dbJob.JobType)
			continue
		}

		job := &Job{
			ID:        jobID,
			Type:      dbJob.JobType,
			Status:    JobStatusRunning,
			GameIDs:   dbJob.GameIDs,
			Progress:  dbJob.Progress,
			Total:     dbJob.Total,
			StartedAt: dbJob.StartedAt,
		}
		m.mu.Lock()
		m.jobs[job.ID] = job
		m.mu.Unlock()

		m.log.Info("resuming job", "job_id", jobID, "type", dbJob.JobType,
			"total", dbJob.Total, "progress", dbJob.Progress)
		m.Start(job, fn)
	}
	return nil
}
