package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerpeak/advisorkb/internal/knowledge"
	"github.com/ledgerpeak/advisorkb/internal/logging"
	"github.com/ledgerpeak/advisorkb/internal/store"
)

// handleDocumentCreate handles POST /api/documents: a multipart upload with a
// "file" part and scope fields. The payload is stored, the document row is
// created in UPLOADED, ingestion is enqueued, and the caller gets a 202 —
// processing happens asynchronously.
func (s *Server) handleDocumentCreate(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file part is required")
		return
	}
	defer file.Close()

	doc := &knowledge.Document{
		ID:         uuid.NewString(),
		Title:      r.FormValue("title"),
		Scope:      knowledge.Scope(r.FormValue("scope")),
		TenantID:   r.FormValue("tenant_id"),
		CustomerID: r.FormValue("customer_id"),
		PackID:     r.FormValue("pack_id"),
		Status:     knowledge.StatusUploaded,
		MIMEHint:   header.Header.Get("Content-Type"),
		CreatedAt:  time.Now(),
	}
	if doc.Title == "" {
		doc.Title = header.Filename
	}
	if err := doc.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	locator, err := s.deps.Blobs.Store(r.Context(), doc.ID+"-"+header.Filename, file)
	if err != nil {
		log.Error("upload: blob store failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "could not store payload")
		return
	}
	doc.SourceLocator = locator

	if err := s.deps.Docs.CreateDocument(r.Context(), doc); err != nil {
		log.Error("upload: create document failed", slog.Any("error", err))
		_ = s.deps.Blobs.Delete(r.Context(), locator)
		writeError(w, http.StatusInternalServerError, "could not create document")
		return
	}

	if err := s.deps.Runner.Enqueue(doc.ID); err != nil {
		// The row stays in UPLOADED; a later re-upload or manual ingest
		// can pick it up.
		log.Error("upload: enqueue failed", slog.Any("error", err), slog.String("document_id", doc.ID))
	}

	writeJSON(w, http.StatusAccepted, toDocumentResponse(doc))
}

// handleDocumentList handles GET /api/documents with optional tenant_id,
// scope, status, and limit query parameters.
func (s *Server) handleDocumentList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lq := store.ListQuery{
		TenantID: q.Get("tenant_id"),
		Scope:    knowledge.Scope(q.Get("scope")),
		Status:   knowledge.Status(q.Get("status")),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		lq.Limit = n
	}

	docs, err := s.deps.Docs.ListDocuments(r.Context(), lq)
	if err != nil {
		logging.FromContext(r.Context()).Error("list documents failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "could not list documents")
		return
	}

	out := make([]documentResponse, 0, len(docs))
	for i := range docs {
		out = append(out, toDocumentResponse(&docs[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": out})
}

// handleDocumentGet handles GET /api/documents/{id}.
func (s *Server) handleDocumentGet(w http.ResponseWriter, r *http.Request) {
	doc, err := s.deps.Docs.GetDocument(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	if err != nil {
		logging.FromContext(r.Context()).Error("get document failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "could not load document")
		return
	}
	writeJSON(w, http.StatusOK, toDocumentResponse(doc))
}

// handleDocumentDelete handles DELETE /api/documents/{id}: chunks, payload,
// and the row itself are removed.
func (s *Server) handleDocumentDelete(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	id := r.PathValue("id")

	doc, err := s.deps.Docs.GetDocument(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	if err != nil {
		log.Error("delete: load document failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "could not load document")
		return
	}

	if err := s.deps.Index.DeleteByDocument(r.Context(), id); err != nil {
		log.Error("delete: remove chunks failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "could not delete document chunks")
		return
	}
	if doc.SourceLocator != "" {
		if err := s.deps.Blobs.Delete(r.Context(), doc.SourceLocator); err != nil {
			// Orphaned payloads are harmless; log and continue.
			log.Warn("delete: remove payload failed", slog.Any("error", err))
		}
	}
	if err := s.deps.Docs.DeleteDocument(r.Context(), id); err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Error("delete: remove row failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "could not delete document")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// toDocumentResponse maps a document to its API shape.
func toDocumentResponse(doc *knowledge.Document) documentResponse {
	return documentResponse{
		ID:         doc.ID,
		Title:      doc.Title,
		Scope:      string(doc.Scope),
		TenantID:   doc.TenantID,
		CustomerID: doc.CustomerID,
		PackID:     doc.PackID,
		Status:     string(doc.Status),
		MIMEHint:   doc.MIMEHint,
		CreatedAt:  doc.CreatedAt.UTC().Format(time.RFC3339),
	}
}
