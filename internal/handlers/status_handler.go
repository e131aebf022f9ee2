package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/muto/internal/common"
	"github.com/ternarybob/muto/internal/interfaces"
	"github.com/ternarybob/muto/internal/models"
)

// StatusHandler exposes service health and queue depth
type StatusHandler struct {
	jobs   interfaces.JobStorage
	logger arbor.ILogger
}

// NewStatusHandler creates a status handler
func NewStatusHandler(jobs interfaces.JobStorage, logger arbor.ILogger) *StatusHandler {
	return &StatusHandler{jobs: jobs, logger: logger}
}

// HealthHandler reports liveness plus job counts by state. GET /health
func (h *StatusHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	counts := map[string]int{}
	for _, status := range []models.JobStatus{
		models.JobStatusQueued,
		models.JobStatusProcessing,
		models.JobStatusCompleted,
		models.JobStatusError,
	} {
		count, err := h.jobs.CountJobsByStatus(r.Context(), status)
		if err != nil {
			h.logger.Warn().Err(err).Str("status", string(status)).Msg("Failed to count jobs")
			continue
		}
		counts[string(status)] = count
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": common.GetVersion(),
		"jobs":    counts,
	})
}
