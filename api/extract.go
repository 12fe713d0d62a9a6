package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/facturaIA/extraction-service/internal/auth"
	"github.com/facturaIA/extraction-service/internal/models"
	"github.com/facturaIA/extraction-service/internal/pipeline"
)

// Extract handles a multipart upload: "file" (or "document"), "kind" and an
// optional "supplier" hint
func (h *Handler) Extract(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize)
	if err := r.ParseMultipartForm(MaxUploadSize); err != nil {
		h.sendError(w, http.StatusBadRequest, "File too large or invalid form data")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		file, header, err = r.FormFile("document")
		if err != nil {
			h.sendError(w, http.StatusBadRequest, "No file provided (use 'file' or 'document' field)")
			return
		}
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "Failed to read file")
		return
	}

	kind, err := models.ParseDocumentKind(r.FormValue("kind"))
	if err != nil {
		h.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	req := models.ExtractionRequest{
		Document:     data,
		Kind:         kind,
		SupplierHint: strings.TrimSpace(r.FormValue("supplier")),
		TenantID:     auth.TenantFromContext(r.Context()),
		FileName:     header.Filename,
	}
	res, err := h.deps.Coordinator.Extract(r.Context(), req)
	if err != nil {
		h.sendPipelineError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, map[string]any{"result": res})
}

// reviewBody is the JSON body of the review and confirm endpoints
type reviewBody struct {
	Kind          string                   `json:"kind"`
	Fields        models.ExtractedFieldSet `json:"fields"`
	Edits         map[string]string        `json:"edits"`
	Supplier      models.SupplierKey       `json:"supplier"`
	Text          string                   `json:"text"`
	LearnTemplate bool                     `json:"learnTemplate"`
	DocumentPath  string                   `json:"documentPath"`
}

func (h *Handler) decodeReview(w http.ResponseWriter, r *http.Request) (reviewBody, models.DocumentKind, bool) {
	var body reviewBody
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize)
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid request body")
		return body, "", false
	}
	kind, err := models.ParseDocumentKind(body.Kind)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, err.Error())
		return body, "", false
	}
	return body, kind, true
}

// Review previews a reviewer's edits: renormalized fields and totals feedback
func (h *Handler) Review(w http.ResponseWriter, r *http.Request) {
	body, kind, ok := h.decodeReview(w, r)
	if !ok {
		return
	}
	res, err := h.deps.Coordinator.Review(pipeline.ReviewRequest{Kind: kind, Fields: body.Fields, Edits: body.Edits})
	if err != nil {
		h.sendPipelineError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, map[string]any{"result": res})
}

// Confirm confirms a reviewed extraction, optionally learning the supplier
// template from it
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	body, kind, ok := h.decodeReview(w, r)
	if !ok {
		return
	}
	res, err := h.deps.Coordinator.ConfirmFallback(r.Context(), pipeline.ConfirmRequest{
		ReviewRequest: pipeline.ReviewRequest{Kind: kind, Fields: body.Fields, Edits: body.Edits},
		TenantID:      auth.TenantFromContext(r.Context()),
		Supplier:      body.Supplier,
		Text:          body.Text,
		LearnTemplate: body.LearnTemplate,
		DocumentPath:  body.DocumentPath,
	})
	if err != nil {
		h.sendPipelineError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, map[string]any{"result": res})
}

// GetTemplate returns the tenant's template for ?taxId= or ?name=
func (h *Handler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	if h.deps.Templates == nil {
		h.sendError(w, http.StatusServiceUnavailable, "template store not configured")
		return
	}
	key := models.SupplierKey{
		TaxID: strings.TrimSpace(r.URL.Query().Get("taxId")),
		Name:  strings.TrimSpace(r.URL.Query().Get("name")),
	}
	if key.IsZero() {
		h.sendError(w, http.StatusBadRequest, "taxId or name is required")
		return
	}

	tmpl, err := h.deps.Templates.Lookup(r.Context(), auth.TenantFromContext(r.Context()), key)
	if err != nil {
		h.logger.Error("template lookup failed", "error", err)
		h.sendError(w, http.StatusInternalServerError, "template lookup failed")
		return
	}
	if tmpl == nil {
		h.sendError(w, http.StatusNotFound, "template not found")
		return
	}
	h.sendJSON(w, http.StatusOK, map[string]any{"template": tmpl})
}

// sendPipelineError maps pipeline errors to status codes
func (h *Handler) sendPipelineError(w http.ResponseWriter, err error) {
	switch {
	case models.IsUnreadable(err):
		h.sendError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, models.ErrUnknownKind), errors.Is(err, pipeline.ErrUnknownField):
		h.sendError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("extraction failed", "error", err)
		h.sendError(w, http.StatusInternalServerError, "extraction failed")
	}
}
