package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ledgerpeak/advisorkb/internal/answer"
	"github.com/ledgerpeak/advisorkb/internal/knowledge"
	"github.com/ledgerpeak/advisorkb/internal/logging"
	"github.com/ledgerpeak/advisorkb/internal/retrieve"
)

// handleChat handles POST /api/chat: scoped retrieval followed by generation.
// A retrieval failure does not fail the turn — the answer is generated
// without knowledge context and the response carries degraded=true so the
// client can surface the reduced confidence.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if req.TenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id is required")
		return
	}

	filter := knowledge.SearchFilter{
		TenantID:   req.TenantID,
		CustomerID: req.CustomerID,
		PackIDs:    req.PackIDs,
	}

	degraded := false
	hits, err := s.deps.Retriever.Search(r.Context(), retrieve.Query{
		Text:   req.Message,
		Filter: filter,
		Limit:  req.Limit,
	})
	if err != nil {
		log.Warn("chat: retrieval failed, answering without context", slog.Any("error", err))
		degraded = true
		hits = nil
	}

	if s.deps.Generator == nil {
		// Retrieval-only mode: no model configured.
		citations := make([]knowledge.Citation, 0, len(hits))
		for _, h := range hits {
			citations = append(citations, h.Cite())
		}
		s.metrics.chatRequestsTotal.WithLabelValues(chatOutcome(degraded)).Inc()
		writeJSON(w, http.StatusOK, chatResponse{Citations: citations, Degraded: degraded})
		return
	}

	resp, err := s.deps.Generator.Generate(r.Context(), answer.Request{
		ConversationID: req.ConversationID,
		Question:       req.Message,
		Hits:           hits,
		PackNames:      req.PackNames,
	})
	if err != nil {
		log.Error("chat: generation failed", slog.Any("error", err))
		s.metrics.chatRequestsTotal.WithLabelValues("error").Inc()
		writeError(w, http.StatusBadGateway, "generation failed")
		return
	}

	s.metrics.chatRequestsTotal.WithLabelValues(chatOutcome(degraded)).Inc()
	writeJSON(w, http.StatusOK, chatResponse{
		Answer:    resp.Answer,
		Citations: resp.Citations,
		Degraded:  degraded,
	})
}

func chatOutcome(degraded bool) string {
	if degraded {
		return "degraded"
	}
	return "ok"
}
