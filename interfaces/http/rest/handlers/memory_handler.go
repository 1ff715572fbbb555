package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"synccore/application/ports"
	"synccore/infrastructure/remote"
)

// MemoryHandler serves working-memory context fetches and per-field patches
type MemoryHandler struct {
	store  *remote.MemoryStore
	logger *zap.Logger
}

// NewMemoryHandler creates a new working-memory handler
func NewMemoryHandler(store *remote.MemoryStore, logger *zap.Logger) *MemoryHandler {
	return &MemoryHandler{store: store, logger: logger}
}

// FetchContext handles POST /working-memory/context
func (h *MemoryHandler) FetchContext(w http.ResponseWriter, r *http.Request) {
	var query ports.ContextQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		respondError(w, h.logger, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if query.SessionID == "" && query.ProjectID == "" {
		respondError(w, h.logger, http.StatusBadRequest, "session_id or project_id is required")
		return
	}

	payload, err := h.store.FetchWorkingMemoryContext(r.Context(), query)
	if err != nil {
		h.logger.Error("Failed to fetch working-memory context",
			zap.String("sessionID", query.SessionID),
			zap.Error(err),
		)
		respondError(w, h.logger, statusForError(err), "Failed to fetch context")
		return
	}

	respondJSON(w, h.logger, http.StatusOK, payload)
}

// PatchPart handles PATCH /working-memory/{part}
func (h *MemoryHandler) PatchPart(w http.ResponseWriter, r *http.Request) {
	part := chi.URLParam(r, "part")
	if part == "" {
		respondError(w, h.logger, http.StatusBadRequest, "Part is required")
		return
	}

	var patch ports.MemoryPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		respondError(w, h.logger, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if err := h.store.PatchWorkingMemory(r.Context(), part, patch); err != nil {
		h.logger.Error("Failed to patch working memory",
			zap.String("part", part),
			zap.String("sessionID", patch.SessionID),
			zap.Error(err),
		)
		respondError(w, h.logger, statusForError(err), "Failed to patch working memory")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
