// -----------------------------------------------------------------------
// Transform Job - Durable job record for the transformation pipeline
// -----------------------------------------------------------------------

package models

import (
	"fmt"
	"time"
)

// JobStatus represents the lifecycle state of a transformation job
type JobStatus string

const (
	// JobStatusQueued means the job is accepted and waiting for a worker
	JobStatusQueued JobStatus = "queued"
	// JobStatusProcessing means a worker has claimed the job
	JobStatusProcessing JobStatus = "processing"
	// JobStatusCompleted means the pipeline finished and a result is stored
	JobStatusCompleted JobStatus = "completed"
	// JobStatusError means the pipeline failed and an error is stored
	JobStatusError JobStatus = "error"
)

// IsTerminal returns true for states that never change again
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusError
}

// Pipeline stages reported in job errors
const (
	StageNormalize  = "normalize"
	StageBudget     = "budget"
	StagePrompt     = "prompt"
	StageGeneration = "generation"
	StagePipeline   = "pipeline"
	StagePersist    = "persist"
)

// JobError describes why a job ended in the error state
type JobError struct {
	Message string `json:"message"`
	Stage   string `json:"stage"`
}

func (e *JobError) Error() string {
	return fmt.Sprintf("%s: %s", e.Stage, e.Message)
}

// TransformJob is the durable record behind a transformation request.
// The request fields (owner, document references) are immutable after
// creation; status and the terminal payload are owned by the worker that
// claimed the job.
type TransformJob struct {
	JobID            string `badgerhold:"key" json:"job_id"`
	OwnerID          string `badgerhold:"index" json:"owner_id"`
	DocumentID       string `json:"document_id"`
	TemplateInputID  string `json:"template_input_id"`
	TemplateOutputID string `json:"template_output_id"`
	DocumentType     string `json:"document_type,omitempty"`

	Status       JobStatus `badgerhold:"index" json:"status"`
	ReclaimCount int       `json:"reclaim_count,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Exactly one of Result/Error is set, and only in a terminal state
	Result *TransformResult `json:"result,omitempty"`
	Error  *JobError        `json:"error,omitempty"`
}

// NewTransformJob creates a queued job record for the given request fields
func NewTransformJob(jobID, ownerID, documentID, templateInputID, templateOutputID, documentType string) *TransformJob {
	now := time.Now()
	return &TransformJob{
		JobID:            jobID,
		OwnerID:          ownerID,
		DocumentID:       documentID,
		TemplateInputID:  templateInputID,
		TemplateOutputID: templateOutputID,
		DocumentType:     documentType,
		Status:           JobStatusQueued,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Validate checks the job record invariants
func (j *TransformJob) Validate() error {
	if j.JobID == "" {
		return fmt.Errorf("job ID is required")
	}
	if j.OwnerID == "" {
		return fmt.Errorf("owner ID is required")
	}
	if j.DocumentID == "" {
		return fmt.Errorf("document ID is required")
	}
	if j.TemplateInputID == "" {
		return fmt.Errorf("template input ID is required")
	}
	if j.TemplateOutputID == "" {
		return fmt.Errorf("template output ID is required")
	}
	if j.Result != nil && j.Error != nil {
		return fmt.Errorf("job cannot carry both a result and an error")
	}
	if j.Status.IsTerminal() {
		if j.Result == nil && j.Error == nil {
			return fmt.Errorf("terminal job must carry a result or an error")
		}
	} else if j.Result != nil || j.Error != nil {
		return fmt.Errorf("non-terminal job cannot carry a result or an error")
	}
	return nil
}

// MarkProcessing records the queued -> processing transition
func (j *TransformJob) MarkProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.StartedAt = &now
	j.UpdatedAt = now
}

// MarkCompleted records the terminal completed state with its result
func (j *TransformJob) MarkCompleted(result *TransformResult) {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.Result = result
	j.Error = nil
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// MarkFailed records the terminal error state
func (j *TransformJob) MarkFailed(jobErr *JobError) {
	now := time.Now()
	j.Status = JobStatusError
	j.Error = jobErr
	j.Result = nil
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// MarkRequeued resets an abandoned processing job back to queued.
// Used by the reclaim sweep only.
func (j *TransformJob) MarkRequeued() {
	j.Status = JobStatusQueued
	j.StartedAt = nil
	j.ReclaimCount++
	j.UpdatedAt = time.Now()
}
