package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Transformation jobs
	mux.HandleFunc("/api/transform", s.app.JobHandler.SubmitHandler)          // POST - async submit, returns 202
	mux.HandleFunc("/api/transform/sync", s.app.JobHandler.SyncTransformHandler) // POST - bounded wait
	mux.HandleFunc("/api/jobs", s.app.JobHandler.ListHandler)                 // GET - list caller's jobs
	mux.HandleFunc("/api/jobs/get", s.app.JobHandler.GetHandler)              // GET - job status by id

	// Documents and templates
	mux.HandleFunc("/api/documents", s.handleDocumentsRoute)           // GET (list), POST (create)
	mux.HandleFunc("/api/documents/get", s.app.DocumentHandler.GetHandler) // GET - document by id

	// Health
	mux.HandleFunc("/health", s.app.StatusHandler.HealthHandler)

	return mux
}

// handleDocumentsRoute dispatches /api/documents by method
func (s *Server) handleDocumentsRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.app.DocumentHandler.ListHandler(w, r)
	case http.MethodPost:
		s.app.DocumentHandler.CreateHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
