package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/muto/internal/models"
)

func queuedJob(t *testing.T, store *memJobStorage, queue *memQueue, jobID string) *models.TransformJob {
	t.Helper()
	job := models.NewTransformJob(jobID, "user-1", "doc_1", "doc_in", "doc_out", "")
	if err := store.SaveJob(context.Background(), job); err != nil {
		t.Fatal(err)
	}
	if err := queue.Enqueue(context.Background(), models.TransformMessage{JobID: jobID, OwnerID: "user-1"}); err != nil {
		t.Fatal(err)
	}
	return job
}

func newTestWorker(store *memJobStorage, queue *memQueue, pipeline PipelineRunner) *Worker {
	return NewWorker(queue, store, pipeline, arbor.NewLogger(), WorkerConfig{
		Concurrency:     1,
		PollInterval:    time.Second,
		PipelineTimeout: time.Second,
	})
}

func TestWorkerCompletesJob(t *testing.T) {
	store := newMemJobStorage()
	queue := newMemQueue()
	queuedJob(t, store, queue, "job_1")

	pipeline := &fakePipeline{result: &models.TransformResult{
		TransformedContent: "done",
		FileType:           models.FormatMarkdown,
		Timestamp:          time.Now(),
	}}
	w := newTestWorker(store, queue, pipeline)

	if err := w.processNext(0); err != nil {
		t.Fatalf("processNext failed: %v", err)
	}

	job, err := store.GetJob(context.Background(), "job_1")
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != models.JobStatusCompleted {
		t.Errorf("Expected completed, got %s", job.Status)
	}
	if job.Result == nil || job.Result.TransformedContent != "done" {
		t.Errorf("Expected result persisted, got %+v", job.Result)
	}
	if job.Error != nil {
		t.Error("Expected no error on completed job")
	}
}

func TestWorkerRecordsStageFailure(t *testing.T) {
	store := newMemJobStorage()
	queue := newMemQueue()
	queuedJob(t, store, queue, "job_1")

	pipeline := &fakePipeline{err: &models.JobError{
		Message: "document has no extractable content",
		Stage:   models.StageNormalize,
	}}
	w := newTestWorker(store, queue, pipeline)

	if err := w.processNext(0); err != nil {
		t.Fatalf("processNext failed: %v", err)
	}

	job, _ := store.GetJob(context.Background(), "job_1")
	if job.Status != models.JobStatusError {
		t.Errorf("Expected error status, got %s", job.Status)
	}
	if job.Error == nil || job.Error.Stage != models.StageNormalize {
		t.Errorf("Expected normalize stage error, got %+v", job.Error)
	}
	if job.Result != nil {
		t.Error("Expected no result on failed job")
	}
}

func TestWorkerPipelineDeadline(t *testing.T) {
	store := newMemJobStorage()
	queue := newMemQueue()
	queuedJob(t, store, queue, "job_1")

	// Pipeline sleeps past the worker's deadline
	pipeline := &fakePipeline{
		delay:  time.Second,
		result: &models.TransformResult{TransformedContent: "late"},
	}
	w := NewWorker(queue, store, pipeline, arbor.NewLogger(), WorkerConfig{
		Concurrency:     1,
		PollInterval:    time.Second,
		PipelineTimeout: 20 * time.Millisecond,
	})

	if err := w.processNext(0); err != nil {
		t.Fatalf("processNext failed: %v", err)
	}

	job, _ := store.GetJob(context.Background(), "job_1")
	if job.Status != models.JobStatusError {
		t.Fatalf("Expected error status, got %s", job.Status)
	}
	if job.Error.Stage != models.StagePipeline {
		t.Errorf("Expected pipeline stage on deadline, got %s", job.Error.Stage)
	}
}

func TestWorkerStopLeavesJobForReclaim(t *testing.T) {
	store := newMemJobStorage()
	queue := newMemQueue()
	queuedJob(t, store, queue, "job_1")

	pipeline := &fakePipeline{
		delay:  time.Second,
		result: &models.TransformResult{TransformedContent: "late"},
	}
	w := newTestWorker(store, queue, pipeline)

	done := make(chan error, 1)
	go func() { done <- w.processNext(0) }()

	time.Sleep(50 * time.Millisecond)
	w.Stop()

	if err := <-done; err != nil {
		t.Fatalf("processNext failed: %v", err)
	}

	job, _ := store.GetJob(context.Background(), "job_1")
	if job.Status != models.JobStatusProcessing {
		t.Errorf("Expected interrupted job left for the reclaim sweep, got %s", job.Status)
	}
	if job.Error != nil {
		t.Errorf("Expected no terminal error on interrupted job, got %+v", job.Error)
	}
	if queue.ackCount() != 0 {
		t.Error("Expected interrupted delivery left unacknowledged")
	}
}

func TestWorkerExtendsLeaseDuringLongRun(t *testing.T) {
	store := newMemJobStorage()
	queue := newMemQueue()
	queuedJob(t, store, queue, "job_1")

	pipeline := &fakePipeline{
		delay:  120 * time.Millisecond,
		result: &models.TransformResult{TransformedContent: "done"},
	}
	w := NewWorker(queue, store, pipeline, arbor.NewLogger(), WorkerConfig{
		Concurrency:     1,
		PollInterval:    time.Second,
		PipelineTimeout: time.Second,
		LeaseExtension:  40 * time.Millisecond,
	})

	if err := w.processNext(0); err != nil {
		t.Fatalf("processNext failed: %v", err)
	}

	if queue.extendCount() == 0 {
		t.Error("Expected the lease renewed while the pipeline ran")
	}
	if queue.ackCount() != 1 {
		t.Errorf("Expected completed delivery acknowledged once, got %d", queue.ackCount())
	}
}

func TestWorkerDropsDuplicateDelivery(t *testing.T) {
	store := newMemJobStorage()
	queue := newMemQueue()
	queuedJob(t, store, queue, "job_1")

	// Simulate a prior worker already holding the claim
	if _, err := store.ClaimJob(context.Background(), "job_1"); err != nil {
		t.Fatal(err)
	}

	pipeline := &fakePipeline{result: &models.TransformResult{TransformedContent: "x"}}
	w := newTestWorker(store, queue, pipeline)

	if err := w.processNext(0); err != nil {
		t.Fatalf("processNext failed: %v", err)
	}
	if pipeline.runs != 0 {
		t.Errorf("Expected pipeline not to run on duplicate delivery, got %d runs", pipeline.runs)
	}

	job, _ := store.GetJob(context.Background(), "job_1")
	if job.Status != models.JobStatusProcessing {
		t.Errorf("Expected first claim untouched, got %s", job.Status)
	}
}

func TestWorkerDropsUnknownJob(t *testing.T) {
	store := newMemJobStorage()
	queue := newMemQueue()
	if err := queue.Enqueue(context.Background(), models.TransformMessage{JobID: "job_ghost"}); err != nil {
		t.Fatal(err)
	}

	w := newTestWorker(store, queue, &fakePipeline{})

	if err := w.processNext(0); err != nil {
		t.Fatalf("processNext failed: %v", err)
	}
	if queue.size() != 0 {
		t.Error("Expected message acknowledged")
	}
}

func TestWorkerFailsPoisonedMessage(t *testing.T) {
	store := newMemJobStorage()
	queue := newMemQueue()
	queuedJob(t, store, queue, "job_1")

	pipeline := &fakePipeline{result: &models.TransformResult{TransformedContent: "x"}}
	poisonQueue := &poisonedQueue{delivery: &models.QueueDelivery{
		MessageID:    "msg_1",
		Message:      models.TransformMessage{JobID: "job_1", OwnerID: "user-1"},
		ReceiveCount: 4,
		Poisoned:     true,
	}}
	w := NewWorker(poisonQueue, store, pipeline, arbor.NewLogger(), WorkerConfig{})

	if err := w.processNext(0); err != nil {
		t.Fatalf("processNext failed: %v", err)
	}
	if pipeline.runs != 0 {
		t.Error("Expected pipeline not to run for poisoned message")
	}

	job, _ := store.GetJob(context.Background(), "job_1")
	if job.Status != models.JobStatusError {
		t.Fatalf("Expected error status, got %s", job.Status)
	}
	if job.Error.Stage != models.StagePipeline {
		t.Errorf("Expected pipeline stage, got %s", job.Error.Stage)
	}
}

// poisonedQueue returns one canned delivery then runs dry
type poisonedQueue struct {
	memQueue
	delivery *models.QueueDelivery
}

func (q *poisonedQueue) Receive(ctx context.Context) (*models.QueueDelivery, func() error, error) {
	if q.delivery == nil {
		return nil, nil, models.ErrNoMessage
	}
	d := q.delivery
	q.delivery = nil
	return d, func() error { return nil }, nil
}
