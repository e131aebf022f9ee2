package badger

import (
	"context"
	"fmt"
	"sort"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/muto/internal/interfaces"
	"github.com/ternarybob/muto/internal/models"
)

// JobStorage implements transformation job persistence on BadgerHold.
// Terminal writes put status and payload into one upsert so readers always
// see a consistent snapshot.
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

func (s *JobStorage) SaveJob(ctx context.Context, job *models.TransformJob) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}

	s.logger.Trace().
		Str("job_id", job.JobID).
		Str("status", string(job.Status)).
		Msg("BadgerDB: SaveJob")

	// Dereference to keep a consistent stored type with Find operations
	if err := s.db.Store().Upsert(job.JobID, *job); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.JobID).Msg("BadgerDB: Failed to upsert job")
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

func (s *JobStorage) GetJob(ctx context.Context, jobID string) (*models.TransformJob, error) {
	var job models.TransformJob
	if err := s.db.Store().Get(jobID, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// ClaimJob moves a job from queued to processing in a single Badger
// transaction. The status check and the write share the transaction, so two
// workers racing on a redelivered message cannot both claim the job.
func (s *JobStorage) ClaimJob(ctx context.Context, jobID string) (*models.TransformJob, error) {
	var job models.TransformJob

	err := s.db.Store().Badger().Update(func(txn *badgerdb.Txn) error {
		if err := s.db.Store().TxGet(txn, jobID, &job); err != nil {
			if err == badgerhold.ErrNotFound {
				return interfaces.ErrNotFound
			}
			return err
		}

		if job.Status != models.JobStatusQueued {
			return interfaces.ErrNotClaimable
		}

		job.MarkProcessing()
		return s.db.Store().TxUpdate(txn, jobID, job)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug().
		Str("job_id", jobID).
		Msg("BadgerDB: Job claimed for processing")
	return &job, nil
}

func (s *JobStorage) CompleteJob(ctx context.Context, jobID string, result *models.TransformResult) error {
	return s.finishJob(jobID, func(job *models.TransformJob) {
		job.MarkCompleted(result)
	})
}

func (s *JobStorage) FailJob(ctx context.Context, jobID string, jobErr *models.JobError) error {
	return s.finishJob(jobID, func(job *models.TransformJob) {
		job.MarkFailed(jobErr)
	})
}

// finishJob writes a terminal state. The already-terminal check runs inside
// the transaction so a reclaimed duplicate cannot overwrite the first result.
func (s *JobStorage) finishJob(jobID string, mark func(*models.TransformJob)) error {
	return s.db.Store().Badger().Update(func(txn *badgerdb.Txn) error {
		var job models.TransformJob
		if err := s.db.Store().TxGet(txn, jobID, &job); err != nil {
			if err == badgerhold.ErrNotFound {
				return interfaces.ErrNotFound
			}
			return err
		}

		if job.Status.IsTerminal() {
			return interfaces.ErrJobTerminal
		}

		mark(&job)
		return s.db.Store().TxUpdate(txn, jobID, job)
	})
}

func (s *JobStorage) RequeueJob(ctx context.Context, jobID string) (*models.TransformJob, error) {
	var job models.TransformJob

	err := s.db.Store().Badger().Update(func(txn *badgerdb.Txn) error {
		if err := s.db.Store().TxGet(txn, jobID, &job); err != nil {
			if err == badgerhold.ErrNotFound {
				return interfaces.ErrNotFound
			}
			return err
		}

		if job.Status != models.JobStatusProcessing {
			return interfaces.ErrNotClaimable
		}

		job.MarkRequeued()
		return s.db.Store().TxUpdate(txn, jobID, job)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("job_id", jobID).
		Int("reclaim_count", job.ReclaimCount).
		Msg("BadgerDB: Stale job reset to queued")
	return &job, nil
}

func (s *JobStorage) ListJobsByOwner(ctx context.Context, ownerID string, limit int) ([]*models.TransformJob, error) {
	var jobs []models.TransformJob
	if err := s.db.Store().Find(&jobs, badgerhold.Where("OwnerID").Eq(ownerID).Index("OwnerID")); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	// Newest first
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})

	if limit > 0 && limit < len(jobs) {
		jobs = jobs[:limit]
	}

	result := make([]*models.TransformJob, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

func (s *JobStorage) GetStaleJobs(ctx context.Context, staleAfter time.Duration) ([]*models.TransformJob, error) {
	threshold := time.Now().Add(-staleAfter)

	var processing []models.TransformJob
	err := s.db.Store().Find(&processing, badgerhold.Where("Status").Eq(models.JobStatusProcessing).Index("Status"))
	if err != nil {
		return nil, err
	}

	// Filter in memory rather than querying pointer fields
	var result []*models.TransformJob
	for i := range processing {
		job := &processing[i]
		if job.StartedAt == nil {
			// Claimed but never stamped; fall back to the last update
			if job.UpdatedAt.Before(threshold) {
				result = append(result, job)
			}
			continue
		}
		if job.StartedAt.Before(threshold) {
			result = append(result, job)
		}
	}

	return result, nil
}

func (s *JobStorage) CountJobsByStatus(ctx context.Context, status models.JobStatus) (int, error) {
	count, err := s.db.Store().Count(&models.TransformJob{}, badgerhold.Where("Status").Eq(status).Index("Status"))
	if err != nil {
		return 0, err
	}
	return int(count), nil
}
