// -----------------------------------------------------------------------
// Jobs Reaper - Periodic sweep that rescues jobs stuck in processing.
// A job abandoned by a crashed worker is pushed back to queued and
// re-enqueued; after too many reclaims it is failed for good.
// -----------------------------------------------------------------------

package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/muto/internal/interfaces"
	"github.com/ternarybob/muto/internal/models"
)

// ReaperConfig tunes the stale-job sweep
type ReaperConfig struct {
	// Schedule is a cron expression for the sweep
	Schedule string
	// StaleAfter marks a processing job abandoned once its claim is
	// older than this. Must comfortably exceed the pipeline timeout.
	StaleAfter time.Duration
	// MaxReclaims caps how often a job is given back to the pool
	MaxReclaims int
}

// Reaper periodically requeues abandoned jobs
type Reaper struct {
	jobs   interfaces.JobStorage
	queue  interfaces.QueueManager
	cron   *cron.Cron
	logger arbor.ILogger
	config ReaperConfig
}

// NewReaper creates a stale-job reaper
func NewReaper(
	jobs interfaces.JobStorage,
	queue interfaces.QueueManager,
	logger arbor.ILogger,
	config ReaperConfig,
) *Reaper {
	if config.Schedule == "" {
		config.Schedule = "* * * * *"
	}
	if config.StaleAfter <= 0 {
		config.StaleAfter = 10 * time.Minute
	}
	if config.MaxReclaims <= 0 {
		config.MaxReclaims = 2
	}

	return &Reaper{
		jobs:   jobs,
		queue:  queue,
		cron:   cron.New(),
		logger: logger,
		config: config,
	}
}

// Start schedules the sweep
func (r *Reaper) Start() error {
	if _, err := r.cron.AddFunc(r.config.Schedule, r.Sweep); err != nil {
		return fmt.Errorf("failed to schedule reclaim sweep: %w", err)
	}
	r.cron.Start()

	r.logger.Info().
		Str("schedule", r.config.Schedule).
		Dur("stale_after", r.config.StaleAfter).
		Int("max_reclaims", r.config.MaxReclaims).
		Msg("Stale job reaper started")
	return nil
}

// Stop halts the sweep, waiting for a running sweep to finish
func (r *Reaper) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.logger.Info().Msg("Stale job reaper stopped")
}

// Sweep finds abandoned processing jobs and requeues or fails them
func (r *Reaper) Sweep() {
	ctx := context.Background()

	stale, err := r.jobs.GetStaleJobs(ctx, r.config.StaleAfter)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to scan for stale jobs")
		return
	}
	if len(stale) == 0 {
		return
	}

	r.logger.Warn().Int("count", len(stale)).Msg("Stale processing jobs found")

	for _, job := range stale {
		if job.ReclaimCount >= r.config.MaxReclaims {
			jobErr := &models.JobError{
				Message: fmt.Sprintf("job abandoned after %d reclaims", job.ReclaimCount),
				Stage:   models.StagePipeline,
			}
			if err := r.jobs.FailJob(ctx, job.JobID, jobErr); err != nil &&
				!errors.Is(err, interfaces.ErrJobTerminal) {
				r.logger.Error().Err(err).Str("job_id", job.JobID).Msg("Failed to fail abandoned job")
			}
			continue
		}

		requeued, err := r.jobs.RequeueJob(ctx, job.JobID)
		if err != nil {
			// ErrNotClaimable means the worker finished between the scan
			// and this write
			if !errors.Is(err, interfaces.ErrNotClaimable) {
				r.logger.Error().Err(err).Str("job_id", job.JobID).Msg("Failed to requeue stale job")
			}
			continue
		}

		msg := models.TransformMessage{JobID: requeued.JobID, OwnerID: requeued.OwnerID}
		if err := r.queue.Enqueue(ctx, msg); err != nil {
			r.logger.Error().Err(err).Str("job_id", requeued.JobID).Msg("Failed to re-enqueue reclaimed job")
			continue
		}

		r.logger.Info().
			Str("job_id", requeued.JobID).
			Int("reclaim_count", requeued.ReclaimCount).
			Msg("Stale job reclaimed and re-enqueued")
	}
}
