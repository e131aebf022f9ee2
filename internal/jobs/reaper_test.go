package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/muto/internal/models"
)

func newTestReaper(store *memJobStorage, queue *memQueue, maxReclaims int) *Reaper {
	return NewReaper(store, queue, arbor.NewLogger(), ReaperConfig{
		Schedule:    "* * * * *",
		StaleAfter:  10 * time.Minute,
		MaxReclaims: maxReclaims,
	})
}

func staleProcessingJob(t *testing.T, store *memJobStorage, jobID string, reclaims int) {
	t.Helper()
	ctx := context.Background()

	job := models.NewTransformJob(jobID, "user-1", "doc_1", "doc_in", "doc_out", "")
	job.ReclaimCount = reclaims
	if err := store.SaveJob(ctx, job); err != nil {
		t.Fatal(err)
	}
	claimed, err := store.ClaimJob(ctx, jobID)
	if err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-30 * time.Minute)
	claimed.StartedAt = &old
	if err := store.SaveJob(ctx, claimed); err != nil {
		t.Fatal(err)
	}
}

func TestSweepRequeuesStaleJob(t *testing.T) {
	store := newMemJobStorage()
	queue := newMemQueue()
	staleProcessingJob(t, store, "job_stale", 0)

	newTestReaper(store, queue, 2).Sweep()

	job, err := store.GetJob(context.Background(), "job_stale")
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != models.JobStatusQueued {
		t.Errorf("Expected job back in queued, got %s", job.Status)
	}
	if job.ReclaimCount != 1 {
		t.Errorf("Expected reclaim count 1, got %d", job.ReclaimCount)
	}
	if queue.size() != 1 {
		t.Errorf("Expected job re-enqueued, queue size %d", queue.size())
	}
}

func TestSweepFailsJobPastReclaimBudget(t *testing.T) {
	store := newMemJobStorage()
	queue := newMemQueue()
	staleProcessingJob(t, store, "job_done_for", 2)

	newTestReaper(store, queue, 2).Sweep()

	job, _ := store.GetJob(context.Background(), "job_done_for")
	if job.Status != models.JobStatusError {
		t.Fatalf("Expected error status, got %s", job.Status)
	}
	if job.Error == nil || job.Error.Stage != models.StagePipeline {
		t.Errorf("Expected pipeline stage error, got %+v", job.Error)
	}
	if queue.size() != 0 {
		t.Error("Expected no re-enqueue for abandoned job")
	}
}

func TestSweepIgnoresFreshJobs(t *testing.T) {
	store := newMemJobStorage()
	queue := newMemQueue()
	ctx := context.Background()

	job := models.NewTransformJob("job_fresh", "user-1", "doc_1", "doc_in", "doc_out", "")
	if err := store.SaveJob(ctx, job); err != nil {
		t.Fatal(err)
	}
	if _, err := store.ClaimJob(ctx, "job_fresh"); err != nil {
		t.Fatal(err)
	}

	newTestReaper(store, queue, 2).Sweep()

	got, _ := store.GetJob(ctx, "job_fresh")
	if got.Status != models.JobStatusProcessing {
		t.Errorf("Expected fresh job untouched, got %s", got.Status)
	}
	if queue.size() != 0 {
		t.Error("Expected nothing enqueued")
	}
}
