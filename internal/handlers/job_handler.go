// -----------------------------------------------------------------------
// Job Handler - HTTP endpoints for transformation job submission and
// status polling. The async endpoint returns a job reference immediately;
// the sync endpoint waits a bounded time for the same pipeline.
// -----------------------------------------------------------------------

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/muto/internal/interfaces"
	"github.com/ternarybob/muto/internal/jobs"
	"github.com/ternarybob/muto/internal/models"
)

// JobHandler exposes the transformation job API
type JobHandler struct {
	service      *jobs.Service
	logger       arbor.ILogger
	syncTimeout  time.Duration
	syncInterval time.Duration
}

// NewJobHandler creates a job handler
func NewJobHandler(service *jobs.Service, logger arbor.ILogger, syncTimeout time.Duration) *JobHandler {
	if syncTimeout <= 0 {
		syncTimeout = 25 * time.Second
	}
	return &JobHandler{
		service:      service,
		logger:       logger,
		syncTimeout:  syncTimeout,
		syncInterval: 500 * time.Millisecond,
	}
}

type transformRequest struct {
	DocumentID       string `json:"document_id"`
	TemplateInputID  string `json:"template_input_id"`
	TemplateOutputID string `json:"template_output_id"`
	DocumentType     string `json:"document_type,omitempty"`
}

// SubmitHandler accepts a transformation job and returns 202 with the
// job reference. POST /api/transform
func (h *JobHandler) SubmitHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	owner, ok := RequireUser(w, r)
	if !ok {
		return
	}

	var req transformRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	resp, err := h.service.Submit(r.Context(), jobs.SubmitRequest{
		OwnerID:          owner,
		DocumentID:       req.DocumentID,
		TemplateInputID:  req.TemplateInputID,
		TemplateOutputID: req.TemplateOutputID,
		DocumentType:     req.DocumentType,
	})
	if err != nil {
		h.writeSubmitError(w, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, resp)
}

// SyncTransformHandler runs the same pipeline but waits a bounded time
// for the result. When the wait budget elapses the response carries the
// still-running job reference instead of a result.
// POST /api/transform/sync
func (h *JobHandler) SyncTransformHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	owner, ok := RequireUser(w, r)
	if !ok {
		return
	}

	var req transformRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	resp, err := h.service.Submit(r.Context(), jobs.SubmitRequest{
		OwnerID:          owner,
		DocumentID:       req.DocumentID,
		TemplateInputID:  req.TemplateInputID,
		TemplateOutputID: req.TemplateOutputID,
		DocumentType:     req.DocumentType,
	})
	if err != nil {
		h.writeSubmitError(w, err)
		return
	}

	job, terminal, err := h.service.WaitForTerminal(r.Context(), resp.JobID, h.syncTimeout, h.syncInterval)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Failed to read job state")
		return
	}

	if !terminal {
		h.logger.Info().
			Str("job_id", resp.JobID).
			Dur("waited", h.syncTimeout).
			Msg("Sync transform still running, returning job reference")
		WriteJSON(w, http.StatusAccepted, map[string]interface{}{
			"job_id":           job.JobID,
			"status":           job.Status,
			"check_status_url": resp.CheckStatusURL,
			"message":          "Transformation still running, poll the status URL",
		})
		return
	}

	WriteJSON(w, http.StatusOK, jobView(job))
}

// GetHandler returns a single job for its owner.
// GET /api/jobs/get?id={job_id}
func (h *JobHandler) GetHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	owner, ok := RequireUser(w, r)
	if !ok {
		return
	}

	jobID := r.URL.Query().Get("id")
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "Missing id parameter")
		return
	}

	job, err := h.service.Get(r.Context(), jobID, owner)
	if err != nil {
		switch {
		case errors.Is(err, interfaces.ErrNotFound):
			WriteError(w, http.StatusNotFound, "Job not found")
		case errors.Is(err, jobs.ErrForbidden):
			WriteError(w, http.StatusForbidden, "Job belongs to another user")
		default:
			h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to load job")
			WriteError(w, http.StatusInternalServerError, "Failed to load job")
		}
		return
	}

	WriteJSON(w, http.StatusOK, jobView(job))
}

// ListHandler returns the caller's recent jobs, newest first.
// GET /api/jobs?limit=N
func (h *JobHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	owner, ok := RequireUser(w, r)
	if !ok {
		return
	}

	jobList, err := h.service.List(r.Context(), owner, GetLimitParam(r))
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list jobs")
		WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	views := make([]map[string]interface{}, len(jobList))
	for i, job := range jobList {
		views[i] = jobView(job)
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  views,
		"count": len(views),
	})
}

func (h *JobHandler) writeSubmitError(w http.ResponseWriter, err error) {
	var vErr *jobs.ValidationError
	if errors.As(err, &vErr) {
		WriteError(w, http.StatusBadRequest, vErr.Detail)
		return
	}
	h.logger.Error().Err(err).Msg("Job submission failed")
	WriteError(w, http.StatusInternalServerError, "Failed to submit job")
}

// jobView shapes a job for API responses. Result and error appear only
// in terminal states.
func jobView(job *models.TransformJob) map[string]interface{} {
	view := map[string]interface{}{
		"job_id":             job.JobID,
		"owner_id":           job.OwnerID,
		"document_id":        job.DocumentID,
		"template_input_id":  job.TemplateInputID,
		"template_output_id": job.TemplateOutputID,
		"status":             job.Status,
		"created_at":         job.CreatedAt,
		"updated_at":         job.UpdatedAt,
	}
	if job.DocumentType != "" {
		view["document_type"] = job.DocumentType
	}
	if !job.Status.IsTerminal() {
		return view
	}
	if job.Result != nil {
		view["result"] = job.Result
	}
	if job.Error != nil {
		view["error"] = job.Error
	}
	return view
}
