package badger

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/muto/internal/interfaces"
	"github.com/ternarybob/muto/internal/models"
)

func newTestJobStorage(t *testing.T) interfaces.JobStorage {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "badger-test")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	options := badgerhold.DefaultOptions
	options.Dir = tmpDir
	options.ValueDir = tmpDir
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	db := &BadgerDB{store: store}
	return NewJobStorage(db, arbor.NewLogger())
}

func newQueuedJob(jobID, ownerID string) *models.TransformJob {
	return models.NewTransformJob(jobID, ownerID, "doc_1", "tpl_in_1", "tpl_out_1", models.DocumentTypeContract)
}

func TestClaimJobTransitions(t *testing.T) {
	storage := newTestJobStorage(t)
	ctx := context.Background()

	job := newQueuedJob("job_claim", "user-1")
	if err := storage.SaveJob(ctx, job); err != nil {
		t.Fatalf("Failed to save job: %v", err)
	}

	// First claim wins
	claimed, err := storage.ClaimJob(ctx, job.JobID)
	if err != nil {
		t.Fatalf("Failed to claim job: %v", err)
	}
	if claimed.Status != models.JobStatusProcessing {
		t.Errorf("Expected status processing, got %s", claimed.Status)
	}
	if claimed.StartedAt == nil {
		t.Error("Expected StartedAt to be stamped on claim")
	}

	// Second claim on the same job must be rejected
	if _, err := storage.ClaimJob(ctx, job.JobID); err != interfaces.ErrNotClaimable {
		t.Errorf("Expected ErrNotClaimable on double claim, got %v", err)
	}

	// Unknown job
	if _, err := storage.ClaimJob(ctx, "job_missing"); err != interfaces.ErrNotFound {
		t.Errorf("Expected ErrNotFound for unknown job, got %v", err)
	}
}

func TestTerminalWriteProtection(t *testing.T) {
	storage := newTestJobStorage(t)
	ctx := context.Background()

	job := newQueuedJob("job_terminal", "user-1")
	if err := storage.SaveJob(ctx, job); err != nil {
		t.Fatalf("Failed to save job: %v", err)
	}
	if _, err := storage.ClaimJob(ctx, job.JobID); err != nil {
		t.Fatalf("Failed to claim job: %v", err)
	}

	result := &models.TransformResult{
		TransformedContent: "content",
		FileType:           models.FormatMarkdown,
		Timestamp:          time.Now(),
	}
	if err := storage.CompleteJob(ctx, job.JobID, result); err != nil {
		t.Fatalf("Failed to complete job: %v", err)
	}

	// A duplicate delivery must not overwrite the first terminal state
	jobErr := &models.JobError{Message: "late failure", Stage: models.StagePipeline}
	if err := storage.FailJob(ctx, job.JobID, jobErr); err != interfaces.ErrJobTerminal {
		t.Errorf("Expected ErrJobTerminal on write after completion, got %v", err)
	}
	if err := storage.CompleteJob(ctx, job.JobID, result); err != interfaces.ErrJobTerminal {
		t.Errorf("Expected ErrJobTerminal on double completion, got %v", err)
	}

	stored, err := storage.GetJob(ctx, job.JobID)
	if err != nil {
		t.Fatalf("Failed to get job: %v", err)
	}
	if stored.Status != models.JobStatusCompleted {
		t.Errorf("Expected status completed, got %s", stored.Status)
	}
	if stored.Result == nil || stored.Error != nil {
		t.Error("Expected result without error after completion")
	}
}

func TestFailJobStoresError(t *testing.T) {
	storage := newTestJobStorage(t)
	ctx := context.Background()

	job := newQueuedJob("job_fail", "user-1")
	if err := storage.SaveJob(ctx, job); err != nil {
		t.Fatalf("Failed to save job: %v", err)
	}
	if _, err := storage.ClaimJob(ctx, job.JobID); err != nil {
		t.Fatalf("Failed to claim job: %v", err)
	}

	jobErr := &models.JobError{Message: "model unavailable", Stage: models.StageGeneration}
	if err := storage.FailJob(ctx, job.JobID, jobErr); err != nil {
		t.Fatalf("Failed to fail job: %v", err)
	}

	stored, err := storage.GetJob(ctx, job.JobID)
	if err != nil {
		t.Fatalf("Failed to get job: %v", err)
	}
	if stored.Status != models.JobStatusError {
		t.Errorf("Expected status error, got %s", stored.Status)
	}
	if stored.Error == nil || stored.Error.Stage != models.StageGeneration {
		t.Errorf("Expected generation stage error, got %+v", stored.Error)
	}
	if stored.Result != nil {
		t.Error("Expected no result on failed job")
	}
}

func TestRequeueJob(t *testing.T) {
	storage := newTestJobStorage(t)
	ctx := context.Background()

	job := newQueuedJob("job_requeue", "user-1")
	if err := storage.SaveJob(ctx, job); err != nil {
		t.Fatalf("Failed to save job: %v", err)
	}

	// Only processing jobs can be requeued
	if _, err := storage.RequeueJob(ctx, job.JobID); err != interfaces.ErrNotClaimable {
		t.Errorf("Expected ErrNotClaimable requeuing a queued job, got %v", err)
	}

	if _, err := storage.ClaimJob(ctx, job.JobID); err != nil {
		t.Fatalf("Failed to claim job: %v", err)
	}

	requeued, err := storage.RequeueJob(ctx, job.JobID)
	if err != nil {
		t.Fatalf("Failed to requeue job: %v", err)
	}
	if requeued.Status != models.JobStatusQueued {
		t.Errorf("Expected status queued after requeue, got %s", requeued.Status)
	}
	if requeued.ReclaimCount != 1 {
		t.Errorf("Expected reclaim count 1, got %d", requeued.ReclaimCount)
	}
	if requeued.StartedAt != nil {
		t.Error("Expected StartedAt cleared after requeue")
	}

	// The job is claimable again
	if _, err := storage.ClaimJob(ctx, job.JobID); err != nil {
		t.Errorf("Expected requeued job to be claimable, got %v", err)
	}
}

func TestListJobsByOwnerNewestFirst(t *testing.T) {
	storage := newTestJobStorage(t)
	ctx := context.Background()

	for i, id := range []string{"job_a", "job_b", "job_c"} {
		job := newQueuedJob(id, "user-1")
		job.CreatedAt = time.Now().Add(time.Duration(i) * time.Second)
		if err := storage.SaveJob(ctx, job); err != nil {
			t.Fatalf("Failed to save job %s: %v", id, err)
		}
	}
	other := newQueuedJob("job_other", "user-2")
	if err := storage.SaveJob(ctx, other); err != nil {
		t.Fatalf("Failed to save job: %v", err)
	}

	jobs, err := storage.ListJobsByOwner(ctx, "user-1", 0)
	if err != nil {
		t.Fatalf("Failed to list jobs: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("Expected 3 jobs for user-1, got %d", len(jobs))
	}
	if jobs[0].JobID != "job_c" || jobs[2].JobID != "job_a" {
		t.Errorf("Expected newest-first ordering, got %s..%s", jobs[0].JobID, jobs[2].JobID)
	}

	limited, err := storage.ListJobsByOwner(ctx, "user-1", 2)
	if err != nil {
		t.Fatalf("Failed to list jobs with limit: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("Expected 2 jobs with limit, got %d", len(limited))
	}
}

func TestGetStaleJobs(t *testing.T) {
	storage := newTestJobStorage(t)
	ctx := context.Background()

	stale := newQueuedJob("job_stale", "user-1")
	if err := storage.SaveJob(ctx, stale); err != nil {
		t.Fatalf("Failed to save job: %v", err)
	}
	claimed, err := storage.ClaimJob(ctx, stale.JobID)
	if err != nil {
		t.Fatalf("Failed to claim job: %v", err)
	}
	// Backdate the claim past the staleness threshold
	old := time.Now().Add(-30 * time.Minute)
	claimed.StartedAt = &old
	if err := storage.SaveJob(ctx, claimed); err != nil {
		t.Fatalf("Failed to backdate job: %v", err)
	}

	fresh := newQueuedJob("job_fresh", "user-1")
	if err := storage.SaveJob(ctx, fresh); err != nil {
		t.Fatalf("Failed to save job: %v", err)
	}
	if _, err := storage.ClaimJob(ctx, fresh.JobID); err != nil {
		t.Fatalf("Failed to claim job: %v", err)
	}

	staleJobs, err := storage.GetStaleJobs(ctx, 10*time.Minute)
	if err != nil {
		t.Fatalf("Failed to get stale jobs: %v", err)
	}
	if len(staleJobs) != 1 {
		t.Fatalf("Expected 1 stale job, got %d", len(staleJobs))
	}
	if staleJobs[0].JobID != "job_stale" {
		t.Errorf("Expected job_stale, got %s", staleJobs[0].JobID)
	}
}

func TestCountJobsByStatus(t *testing.T) {
	storage := newTestJobStorage(t)
	ctx := context.Background()

	for _, id := range []string{"job_1", "job_2"} {
		if err := storage.SaveJob(ctx, newQueuedJob(id, "user-1")); err != nil {
			t.Fatalf("Failed to save job: %v", err)
		}
	}
	if _, err := storage.ClaimJob(ctx, "job_1"); err != nil {
		t.Fatalf("Failed to claim job: %v", err)
	}

	queued, err := storage.CountJobsByStatus(ctx, models.JobStatusQueued)
	if err != nil {
		t.Fatalf("Failed to count jobs: %v", err)
	}
	if queued != 1 {
		t.Errorf("Expected 1 queued job, got %d", queued)
	}
	processing, err := storage.CountJobsByStatus(ctx, models.JobStatusProcessing)
	if err != nil {
		t.Fatalf("Failed to count jobs: %v", err)
	}
	if processing != 1 {
		t.Errorf("Expected 1 processing job, got %d", processing)
	}
}
