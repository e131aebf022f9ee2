// -----------------------------------------------------------------------
// Jobs Service - Submission and status for transformation jobs. Submission
// validates the request, writes the queued job record, and enqueues a
// reference; it never touches the generation backend.
// -----------------------------------------------------------------------

package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/muto/internal/common"
	"github.com/ternarybob/muto/internal/interfaces"
	"github.com/ternarybob/muto/internal/models"
)

// ErrForbidden is returned when a caller reads a job they do not own
var ErrForbidden = errors.New("job belongs to another user")

// ValidationError carries a user-facing submission problem
type ValidationError struct {
	Detail string
}

func (e *ValidationError) Error() string {
	return e.Detail
}

// SubmitRequest is a transformation job submission
type SubmitRequest struct {
	OwnerID          string `validate:"required"`
	DocumentID       string `validate:"required"`
	TemplateInputID  string `validate:"required"`
	TemplateOutputID string `validate:"required"`
	DocumentType     string
}

// SubmitResponse echoes the created job plus the polling URL
type SubmitResponse struct {
	JobID               string    `json:"job_id"`
	Status              string    `json:"status"`
	DocumentID          string    `json:"document_id"`
	DocumentTitle       string    `json:"document_title"`
	TemplateInputID     string    `json:"template_input_id"`
	TemplateInputTitle  string    `json:"template_input_title"`
	TemplateOutputID    string    `json:"template_output_id"`
	TemplateOutputTitle string    `json:"template_output_title"`
	CheckStatusURL      string    `json:"check_status_url"`
	CreatedAt           time.Time `json:"created_at"`
}

// Service handles job submission and status reads
type Service struct {
	jobs      interfaces.JobStorage
	documents interfaces.DocumentStorage
	queue     interfaces.QueueManager
	validate  *validator.Validate
	logger    arbor.ILogger
	listLimit int
}

// NewService creates a jobs service
func NewService(
	jobs interfaces.JobStorage,
	documents interfaces.DocumentStorage,
	queue interfaces.QueueManager,
	logger arbor.ILogger,
	listLimit int,
) *Service {
	if listLimit <= 0 {
		listLimit = 20
	}
	return &Service{
		jobs:      jobs,
		documents: documents,
		queue:     queue,
		validate:  validator.New(),
		logger:    logger,
		listLimit: listLimit,
	}
}

// Submit validates the request, persists a queued job and enqueues a
// reference for the workers. Returns quickly; the pipeline runs later.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, &ValidationError{Detail: fmt.Sprintf("invalid submission: %v", err)}
	}
	if !models.IsValidDocumentType(req.DocumentType) {
		return nil, &ValidationError{Detail: fmt.Sprintf("unknown document type %q", req.DocumentType)}
	}

	doc, err := s.ownedDocument(ctx, req.OwnerID, req.DocumentID, "document")
	if err != nil {
		return nil, err
	}
	tplInput, err := s.ownedDocument(ctx, req.OwnerID, req.TemplateInputID, "input template")
	if err != nil {
		return nil, err
	}
	tplOutput, err := s.ownedDocument(ctx, req.OwnerID, req.TemplateOutputID, "output template")
	if err != nil {
		return nil, err
	}

	if !tplInput.IsTemplate() {
		return nil, &ValidationError{Detail: fmt.Sprintf("document %s is not tagged as a template", tplInput.ID)}
	}
	if !tplOutput.IsTemplate() {
		return nil, &ValidationError{Detail: fmt.Sprintf("document %s is not tagged as a template", tplOutput.ID)}
	}

	job := models.NewTransformJob(
		common.NewJobID(),
		req.OwnerID,
		req.DocumentID,
		req.TemplateInputID,
		req.TemplateOutputID,
		req.DocumentType,
	)

	if err := s.jobs.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	msg := models.TransformMessage{JobID: job.JobID, OwnerID: job.OwnerID}
	if err := s.queue.Enqueue(ctx, msg); err != nil {
		// The record exists but no worker will ever see it, so fail it
		// now rather than leaving it queued forever.
		jobErr := &models.JobError{
			Message: fmt.Sprintf("failed to enqueue job: %v", err),
			Stage:   models.StagePipeline,
		}
		if failErr := s.jobs.FailJob(ctx, job.JobID, jobErr); failErr != nil {
			s.logger.Error().Err(failErr).Str("job_id", job.JobID).Msg("Failed to record enqueue failure")
		}
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	s.logger.Info().
		Str("job_id", job.JobID).
		Str("owner_id", job.OwnerID).
		Str("document_id", job.DocumentID).
		Msg("Transformation job submitted")

	return &SubmitResponse{
		JobID:               job.JobID,
		Status:              string(job.Status),
		DocumentID:          doc.ID,
		DocumentTitle:       doc.Title,
		TemplateInputID:     tplInput.ID,
		TemplateInputTitle:  tplInput.Title,
		TemplateOutputID:    tplOutput.ID,
		TemplateOutputTitle: tplOutput.Title,
		CheckStatusURL:      fmt.Sprintf("/api/jobs/get?id=%s", job.JobID),
		CreatedAt:           job.CreatedAt,
	}, nil
}

// Get returns a job for its owner. Returns interfaces.ErrNotFound for
// unknown IDs and ErrForbidden when the requester does not own the job.
func (s *Service) Get(ctx context.Context, jobID, requesterID string) (*models.TransformJob, error) {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != requesterID {
		return nil, ErrForbidden
	}
	return job, nil
}

// List returns the requester's most recent jobs, newest first
func (s *Service) List(ctx context.Context, requesterID string, limit int) ([]*models.TransformJob, error) {
	if limit <= 0 || limit > s.listLimit {
		limit = s.listLimit
	}
	return s.jobs.ListJobsByOwner(ctx, requesterID, limit)
}

// WaitForTerminal polls a job until it reaches a terminal state or the
// wait budget runs out. Used by the synchronous front-end; the pipeline
// itself is identical to the asynchronous path. The second return is
// false when the job was still running at the deadline.
func (s *Service) WaitForTerminal(ctx context.Context, jobID string, timeout, pollInterval time.Duration) (*models.TransformJob, bool, error) {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		job, err := s.jobs.GetJob(ctx, jobID)
		if err != nil {
			return nil, false, err
		}
		if job.Status.IsTerminal() {
			return job, true, nil
		}

		select {
		case <-ctx.Done():
			return job, false, nil
		case <-deadline.C:
			return job, false, nil
		case <-ticker.C:
		}
	}
}

func (s *Service) ownedDocument(ctx context.Context, ownerID, documentID, role string) (*models.Document, error) {
	doc, err := s.documents.GetDocument(ctx, documentID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, &ValidationError{Detail: fmt.Sprintf("%s %s not found", role, documentID)}
		}
		return nil, fmt.Errorf("failed to load %s: %w", role, err)
	}
	if doc.OwnerID != ownerID {
		return nil, &ValidationError{Detail: fmt.Sprintf("%s %s not found", role, documentID)}
	}
	return doc, nil
}
