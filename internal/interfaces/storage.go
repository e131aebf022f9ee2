package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/muto/internal/models"
)

// Storage sentinel errors
var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("record not found")
	// ErrNotClaimable is returned when a job is not in the queued state
	ErrNotClaimable = errors.New("job is not claimable")
	// ErrJobTerminal is returned on writes against completed or errored jobs
	ErrJobTerminal = errors.New("job is in a terminal state")
)

// JobStorage - interface for transformation job persistence
type JobStorage interface {
	// SaveJob creates or replaces a job record
	SaveJob(ctx context.Context, job *models.TransformJob) error

	// GetJob loads a job record. Returns ErrNotFound for unknown IDs.
	GetJob(ctx context.Context, jobID string) (*models.TransformJob, error)

	// ClaimJob atomically moves a job from queued to processing.
	// Returns ErrNotClaimable when the job is in any other state, so a
	// second worker holding a redelivered message backs off cleanly.
	ClaimJob(ctx context.Context, jobID string) (*models.TransformJob, error)

	// CompleteJob writes the terminal completed state with its result in a
	// single upsert. Returns ErrJobTerminal if the job already finished.
	CompleteJob(ctx context.Context, jobID string, result *models.TransformResult) error

	// FailJob writes the terminal error state. Returns ErrJobTerminal if
	// the job already finished.
	FailJob(ctx context.Context, jobID string, jobErr *models.JobError) error

	// RequeueJob resets an abandoned processing job back to queued,
	// bumping its reclaim count. Used by the reclaim sweep.
	RequeueJob(ctx context.Context, jobID string) (*models.TransformJob, error)

	// ListJobsByOwner returns the owner's jobs, newest first
	ListJobsByOwner(ctx context.Context, ownerID string, limit int) ([]*models.TransformJob, error)

	// GetStaleJobs returns processing jobs whose work started more than
	// staleAfter ago
	GetStaleJobs(ctx context.Context, staleAfter time.Duration) ([]*models.TransformJob, error)

	// CountJobsByStatus returns the number of jobs in the given state
	CountJobsByStatus(ctx context.Context, status models.JobStatus) (int, error)
}

// DocumentStorage - interface for document persistence
type DocumentStorage interface {
	SaveDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	DeleteDocument(ctx context.Context, id string) error
	ListDocumentsByOwner(ctx context.Context, ownerID string, limit int) ([]*models.Document, error)
	CountDocuments(ctx context.Context) (int, error)
}
