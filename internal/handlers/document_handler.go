// -----------------------------------------------------------------------
// Document Handler - HTTP endpoints for uploading and listing the
// documents and templates that feed transformation jobs.
// -----------------------------------------------------------------------

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/muto/internal/common"
	"github.com/ternarybob/muto/internal/interfaces"
	"github.com/ternarybob/muto/internal/models"
)

// DocumentHandler exposes document CRUD
type DocumentHandler struct {
	documents interfaces.DocumentStorage
	logger    arbor.ILogger
}

// NewDocumentHandler creates a document handler
func NewDocumentHandler(documents interfaces.DocumentStorage, logger arbor.ILogger) *DocumentHandler {
	return &DocumentHandler{documents: documents, logger: logger}
}

type createDocumentRequest struct {
	Title    string `json:"title"`
	Filename string `json:"filename,omitempty"`
	Format   string `json:"format"`
	Tag      string `json:"tag,omitempty"`
	Content  string `json:"content,omitempty"`
	Raw      []byte `json:"raw,omitempty"`
}

// CreateHandler stores a new document. POST /api/documents
func (h *DocumentHandler) CreateHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	owner, ok := RequireUser(w, r)
	if !ok {
		return
	}

	var req createDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	doc := &models.Document{
		ID:       common.NewDocumentID(),
		OwnerID:  owner,
		Title:    req.Title,
		Filename: req.Filename,
		Format:   req.Format,
		Tag:      req.Tag,
		Content:  req.Content,
		Raw:      req.Raw,
	}

	if err := h.documents.SaveDocument(r.Context(), doc); err != nil {
		h.logger.Error().Err(err).Msg("Failed to save document")
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.logger.Info().
		Str("document_id", doc.ID).
		Str("owner_id", owner).
		Str("format", doc.Format).
		Msg("Document created")

	WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"id":         doc.ID,
		"title":      doc.Title,
		"format":     doc.Format,
		"tag":        doc.Tag,
		"created_at": doc.CreatedAt,
	})
}

// GetHandler returns a document. GET /api/documents/get?id={id}
func (h *DocumentHandler) GetHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	owner, ok := RequireUser(w, r)
	if !ok {
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "Missing id parameter")
		return
	}

	doc, err := h.documents.GetDocument(r.Context(), id)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "Document not found")
			return
		}
		h.logger.Error().Err(err).Str("document_id", id).Msg("Failed to load document")
		WriteError(w, http.StatusInternalServerError, "Failed to load document")
		return
	}
	if doc.OwnerID != owner {
		WriteError(w, http.StatusNotFound, "Document not found")
		return
	}

	WriteJSON(w, http.StatusOK, doc)
}

// ListHandler returns the caller's documents, newest first.
// GET /api/documents?limit=N
func (h *DocumentHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	owner, ok := RequireUser(w, r)
	if !ok {
		return
	}

	docs, err := h.documents.ListDocumentsByOwner(r.Context(), owner, GetLimitParam(r))
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list documents")
		WriteError(w, http.StatusInternalServerError, "Failed to list documents")
		return
	}

	summaries := make([]map[string]interface{}, len(docs))
	for i, doc := range docs {
		summaries[i] = map[string]interface{}{
			"id":         doc.ID,
			"title":      doc.Title,
			"format":     doc.Format,
			"tag":        doc.Tag,
			"size_bytes": doc.SizeBytes,
			"created_at": doc.CreatedAt,
		}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"documents": summaries,
		"count":     len(summaries),
	})
}
