package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/raphaelgruber/kindred-go/internal/db"
)

// fakeJobStore records persistence calls without a database.
type fakeJobStore struct {
	mu         sync.Mutex
	created    []string
	completed  map[string]map[string]any
	failed     map[string]string
	incomplete []db.BackfillJob
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{
		completed: make(map[string]map[string]any),
		failed:    make(map[string]string),
	}
}

func (f *fakeJobStore) CreateBackfillJob(_ context.Context, jobID, _ string, _ []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, jobID)
	return nil
}

func (f *fakeJobStore) UpdateJobStatus(_ context.Context, _, _ string) error   { return nil }
func (f *fakeJobStore) UpdateJobProgress(_ context.Context, _ string, _ int) error { return nil }

func (f *fakeJobStore) CompleteJob(_ context.Context, jobID string, result map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed[jobID] = result
	return nil
}

func (f *fakeJobStore) FailJob(_ context.Context, jobID, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[jobID] = errMsg
	return nil
}

func (f *fakeJobStore) GetIncompleteJobs(_ context.Context) ([]db.BackfillJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.incomplete, nil
}

func waitForStatus(t *testing.T, job *Job, want JobStatus) Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap := job.Snapshot()
		if snap.Status == want {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job never reached %s, last: %+v", want, job.Snapshot())
	return Job{}
}

func TestJobRunsAllGames(t *testing.T) {
	store := newFakeJobStore()
	m := NewJobManager(store, testLogger(), 2, 0)

	job, err := m.CreateJob(context.Background(), JobTypeIngest, []int64{1, 2, 3, 4, 5})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	var mu sync.Mutex
	var processed []int64
	m.Start(job, func(_ context.Context, gameID int64) error {
		mu.Lock()
		processed = append(processed, gameID)
		mu.Unlock()
		return nil
	})

	snap := waitForStatus(t, job, JobStatusCompleted)
	if snap.Result.Processed != 5 || snap.Result.Failed != 0 {
		t.Errorf("Result = %+v", snap.Result)
	}
	if snap.Progress != 5 {
		t.Errorf("Progress = %d, want 5", snap.Progress)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(processed) != 5 {
		t.Errorf("processed %d games, want 5", len(processed))
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if _, ok := store.completed[job.ID]; !ok {
		t.Error("completion not persisted")
	}
}

func TestJobPerGameFailuresAreCollected(t *testing.T) {
	m := NewJobManager(newFakeJobStore(), testLogger(), 2, 0)

	job, err := m.CreateJob(context.Background(), JobTypeRefresh, []int64{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	m.Start(job, func(_ context.Context, gameID int64) error {
		if gameID == 2 {
			return errors.New("boom")
		}
		return nil
	})

	snap := waitForStatus(t, job, JobStatusCompleted)
	if snap.Result.Processed != 2 || snap.Result.Failed != 1 {
		t.Errorf("Result = %+v", snap.Result)
	}
	if len(snap.Result.Errors) != 1 {
		t.Errorf("Errors = %v", snap.Result.Errors)
	}
}

func TestJobBatchConcurrencyBound(t *testing.T) {
	m := NewJobManager(newFakeJobStore(), testLogger(), 2, 0)

	var mu sync.Mutex
	inFlight, peak := 0, 0

	job, err := m.CreateJob(context.Background(), JobTypeIngest, []int64{1, 2, 3, 4, 5, 6})
	if err != nil {
		t.Fatal(err)
	}
	m.Start(job, func(_ context.Context, _ int64) error {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		return nil
	})

	waitForStatus(t, job, JobStatusCompleted)
	mu.Lock()
	defer mu.Unlock()
	if peak > 2 {
		t.Errorf("peak concurrency %d exceeded configured 2", peak)
	}
}

func TestJobInterBatchDelay(t *testing.T) {
	const delay = 30 * time.Millisecond
	m := NewJobManager(newFakeJobStore(), testLogger(), 1, delay)

	job, err := m.CreateJob(context.Background(), JobTypeIngest, []int64{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	m.Start(job, func(_ context.Context, _ int64) error { return nil })
	waitForStatus(t, job, JobStatusCompleted)

	// Three single-item batches mean two inter-batch pauses.
	if elapsed := time.Since(start); elapsed < 2*delay {
		t.Errorf("job finished in %v, want >= %v of batch spacing", elapsed, 2*delay)
	}
}

func TestListJobsMostRecentFirst(t *testing.T) {
	m := NewJobManager(newFakeJobStore(), testLogger(), 1, 0)

	first, _ := m.CreateJob(context.Background(), JobTypeIngest, []int64{1})
	time.Sleep(5 * time.Millisecond)
	second, _ := m.CreateJob(context.Background(), JobTypeRefresh, []int64{2})

	jobs := m.ListJobs()
	if len(jobs) != 2 {
		t.Fatalf("jobs = %d", len(jobs))
	}
	if jobs[0].ID != second.ID || jobs[1].ID != first.ID {
		t.Errorf("order = %s, %s", jobs[0].ID, jobs[1].ID)
	}
	if m.GetJob(first.ID) == nil {
		t.Error("GetJob returned nil for known id")
	}
}

func TestResumeIncompleteJobs(t *testing.T) {
	store := newFakeJobStore()
	store.incomplete = []db.BackfillJob{
		{
			ID:        surrealmodels.RecordID{Table: "backfill_job", ID: "resume1"},
			JobType:   JobTypeIngest,
			Status:    "running",
			GameIDs:   []int64{7, 8},
			Total:     2,
			StartedAt: time.Now().Add(-time.Minute),
		},
	}
	m := NewJobManager(store, testLogger(), 2, 0)

	var mu sync.Mutex
	var ingested []int64
	err := m.ResumeIncompleteJobs(context.Background(),
		func(_ context.Context, gameID int64) error {
			mu.Lock()
			ingested = append(ingested, gameID)
			mu.Unlock()
			return nil
		},
		func(_ context.Context, _ int64) error { return nil },
	)
	if err != nil {
		t.Fatalf("ResumeIncompleteJobs: %v", err)
	}

	job := m.GetJob("resume1")
	if job == nil {
		t.Fatal("resumed job not registered")
	}
	waitForStatus(t, job, JobStatusCompleted)

	mu.Lock()
	defer mu.Unlock()
	if len(ingested) != 2 {
		t.Errorf("ingested = %v, want both ids", ingested)
	}
}
