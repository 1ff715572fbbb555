package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"synccore/infrastructure/remote"
)

// GraphHandler serves project graph fetches
type GraphHandler struct {
	store  *remote.MemoryStore
	logger *zap.Logger
}

// NewGraphHandler creates a new graph handler
func NewGraphHandler(store *remote.MemoryStore, logger *zap.Logger) *GraphHandler {
	return &GraphHandler{store: store, logger: logger}
}

// GetGraph handles GET /projects/{projectID}/graph
func (h *GraphHandler) GetGraph(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if projectID == "" {
		respondError(w, h.logger, http.StatusBadRequest, "Project ID is required")
		return
	}

	payload, err := h.store.FetchGraph(r.Context(), projectID)
	if err != nil {
		h.logger.Error("Failed to fetch graph",
			zap.String("projectID", projectID),
			zap.Error(err),
		)
		respondError(w, h.logger, statusForError(err), "Failed to fetch graph")
		return
	}

	respondJSON(w, h.logger, http.StatusOK, payload)
}
