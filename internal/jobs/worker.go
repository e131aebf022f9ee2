// -----------------------------------------------------------------------
// Jobs Worker - Pool of goroutines that pull transformation messages off
// the queue, claim the job record, and drive the pipeline under the
// per-job deadline.
// -----------------------------------------------------------------------

package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/muto/internal/common"
	"github.com/ternarybob/muto/internal/interfaces"
	"github.com/ternarybob/muto/internal/models"
)

// PipelineRunner executes the transformation pipeline for a claimed job
type PipelineRunner interface {
	Run(ctx context.Context, job *models.TransformJob) (*models.TransformResult, *models.JobError)
}

// WorkerConfig tunes the worker pool
type WorkerConfig struct {
	Concurrency     int
	PollInterval    time.Duration
	PipelineTimeout time.Duration
	// LeaseExtension is how far each renewal pushes the message
	// visibility while the pipeline runs. Should match the queue's
	// visibility timeout.
	LeaseExtension time.Duration
}

// Worker runs the transformation pipeline for queued jobs
type Worker struct {
	queue    interfaces.QueueManager
	jobs     interfaces.JobStorage
	pipeline PipelineRunner
	logger   arbor.ILogger
	config   WorkerConfig
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewWorker creates a worker pool over the queue
func NewWorker(
	queue interfaces.QueueManager,
	jobs interfaces.JobStorage,
	pipeline PipelineRunner,
	logger arbor.ILogger,
	config WorkerConfig,
) *Worker {
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	if config.PipelineTimeout <= 0 {
		config.PipelineTimeout = 5 * time.Minute
	}
	if config.LeaseExtension <= 0 {
		config.LeaseExtension = 5 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		queue:    queue,
		jobs:     jobs,
		pipeline: pipeline,
		logger:   logger,
		config:   config,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the worker goroutines
func (w *Worker) Start() {
	w.logger.Info().
		Int("concurrency", w.config.Concurrency).
		Dur("poll_interval", w.config.PollInterval).
		Dur("pipeline_timeout", w.config.PipelineTimeout).
		Msg("Starting transformation workers")

	for i := 0; i < w.config.Concurrency; i++ {
		workerID := i
		common.SafeGo(w.logger, fmt.Sprintf("worker-%d", workerID), func() {
			w.run(workerID)
		})
	}
}

// Stop signals all workers to exit after their current message
func (w *Worker) Stop() {
	w.logger.Info().Msg("Stopping transformation workers")
	w.cancel()
}

// Poll pacing: drain fast while messages flow, back off exponentially
// while the queue sits empty.
const (
	busyPollInterval = 100 * time.Millisecond
	maxIdleInterval  = 5 * time.Second
)

func (w *Worker) run(workerID int) {
	// Stagger worker starts so polls spread across the interval
	stagger := (w.config.PollInterval / time.Duration(w.config.Concurrency)) * time.Duration(workerID)
	if stagger > 0 {
		time.Sleep(stagger)
	}

	w.logger.Debug().Int("worker_id", workerID).Msg("Worker started")

	wait := w.config.PollInterval
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-w.ctx.Done():
			w.logger.Debug().Int("worker_id", workerID).Msg("Worker stopped")
			return
		case <-timer.C:
			err := w.processNext(workerID)
			switch {
			case err == nil:
				wait = busyPollInterval
			case errors.Is(err, models.ErrNoMessage):
				wait *= 2
				if wait > maxIdleInterval {
					wait = maxIdleInterval
				}
			default:
				w.logger.Warn().
					Err(err).
					Int("worker_id", workerID).
					Msg("Error processing message")
				wait = w.config.PollInterval
			}
			timer.Reset(wait)
		}
	}
}

// processNext handles one queue message end to end
func (w *Worker) processNext(workerID int) error {
	delivery, ack, err := w.queue.Receive(w.ctx)
	if err != nil {
		return err
	}

	jobID := delivery.Message.JobID

	if delivery.Poisoned {
		// Receive budget exhausted; record a terminal failure instead of
		// cycling the message forever
		jobErr := &models.JobError{
			Message: fmt.Sprintf("job abandoned after %d deliveries", delivery.ReceiveCount),
			Stage:   models.StagePipeline,
		}
		if failErr := w.jobs.FailJob(w.ctx, jobID, jobErr); failErr != nil &&
			!errors.Is(failErr, interfaces.ErrJobTerminal) && !errors.Is(failErr, interfaces.ErrNotFound) {
			return failErr
		}
		w.logger.Warn().
			Str("job_id", jobID).
			Int("receive_count", delivery.ReceiveCount).
			Msg("Poisoned message failed and dropped")
		return ack()
	}

	job, err := w.jobs.ClaimJob(w.ctx, jobID)
	if err != nil {
		switch {
		case errors.Is(err, interfaces.ErrNotFound):
			w.logger.Warn().Str("job_id", jobID).Msg("Message references unknown job, dropping")
			return ack()
		case errors.Is(err, interfaces.ErrNotClaimable):
			// Already claimed by another worker or already finished; the
			// reclaim sweep covers the crashed-worker case
			w.logger.Debug().Str("job_id", jobID).Msg("Job not claimable, dropping duplicate delivery")
			return ack()
		default:
			return err
		}
	}

	stopLease := w.keepAlive(delivery.MessageID)
	interrupted := w.execute(workerID, job)
	stopLease()

	if interrupted {
		// Leave the message in flight; it redelivers after the current
		// lease and the reclaim sweep gives the job back to the pool.
		return nil
	}
	return ack()
}

// keepAlive renews the message lease while the pipeline runs so a job
// finishing near the visibility timeout is not redelivered. The returned
// function stops the renewals.
func (w *Worker) keepAlive(messageID string) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(w.config.LeaseExtension / 2)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-w.ctx.Done():
				return
			case <-ticker.C:
				if err := w.queue.Extend(context.Background(), messageID, w.config.LeaseExtension); err != nil {
					w.logger.Warn().Err(err).Str("message_id", messageID).Msg("Failed to extend message lease")
				}
			}
		}
	}()
	return func() { close(done) }
}

// execute runs the pipeline for a claimed job and writes the terminal
// state. Panics are captured as job errors so the record never sticks in
// processing. Returns true when a shutdown cut the run short; the job is
// then left in processing for the reclaim sweep instead of being failed.
func (w *Worker) execute(workerID int, job *models.TransformJob) (interrupted bool) {
	ctx, cancel := context.WithTimeout(w.ctx, w.config.PipelineTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			stack := common.GetStackTrace()
			common.WriteCrashFile(r, stack)
			w.logger.Error().
				Str("job_id", job.JobID).
				Int("worker_id", workerID).
				Msgf("Worker panic: %v", r)
			w.fail(job.JobID, &models.JobError{
				Message: fmt.Sprintf("internal fault: %v", r),
				Stage:   models.StagePipeline,
			})
		}
	}()

	w.logger.Info().
		Str("job_id", job.JobID).
		Int("worker_id", workerID).
		Int("reclaim_count", job.ReclaimCount).
		Msg("Job processing started")

	result, jobErr := w.pipeline.Run(ctx, job)
	if jobErr != nil {
		// A worker-level cancellation means shutdown, not a job fault.
		// The record stays in processing and the reaper reclaims it.
		if w.ctx.Err() != nil {
			w.logger.Info().
				Str("job_id", job.JobID).
				Int("worker_id", workerID).
				Msg("Shutdown interrupted job, leaving it for reclaim")
			return true
		}
		w.fail(job.JobID, jobErr)
		return false
	}

	// Terminal writes use a fresh context so a shutdown or expired
	// pipeline deadline cannot leave the job stuck in processing
	if err := w.jobs.CompleteJob(context.Background(), job.JobID, result); err != nil {
		if errors.Is(err, interfaces.ErrJobTerminal) {
			w.logger.Warn().Str("job_id", job.JobID).Msg("Job already terminal, discarding duplicate result")
			return
		}
		w.logger.Error().Err(err).Str("job_id", job.JobID).Msg("Failed to write job result")
		return
	}

	w.logger.Info().
		Str("job_id", job.JobID).
		Int("worker_id", workerID).
		Msg("Job completed")
	return false
}

func (w *Worker) fail(jobID string, jobErr *models.JobError) {
	if err := w.jobs.FailJob(context.Background(), jobID, jobErr); err != nil {
		if errors.Is(err, interfaces.ErrJobTerminal) {
			w.logger.Warn().Str("job_id", jobID).Msg("Job already terminal, discarding duplicate error")
			return
		}
		w.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to write job error")
		return
	}

	w.logger.Warn().
		Str("job_id", jobID).
		Str("stage", jobErr.Stage).
		Str("error", jobErr.Message).
		Msg("Job failed")
}
