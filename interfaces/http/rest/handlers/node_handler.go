package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"synccore/application/ports"
	"synccore/domain/core/entities"
	"synccore/infrastructure/remote"
)

// NodeHandler serves partial node updates
type NodeHandler struct {
	store  *remote.MemoryStore
	logger *zap.Logger
}

// NewNodeHandler creates a new node handler
func NewNodeHandler(store *remote.MemoryStore, logger *zap.Logger) *NodeHandler {
	return &NodeHandler{store: store, logger: logger}
}

// UpdateNodeRequest represents the request body for a partial node update
type UpdateNodeRequest struct {
	Label       *string                `json:"label,omitempty"`
	Content     *string                `json:"content,omitempty"`
	MetaUpdates map[string]interface{} `json:"meta_updates,omitempty"`
}

// UpdateNode handles PATCH /nodes/{nodeID}
func (h *NodeHandler) UpdateNode(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "nodeID")
	if nodeID == "" {
		respondError(w, h.logger, http.StatusBadRequest, "Node ID is required")
		return
	}
	projectID := r.URL.Query().Get("project_id")
	if projectID == "" {
		respondError(w, h.logger, http.StatusBadRequest, "project_id is required")
		return
	}

	var req UpdateNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, h.logger, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	change := entities.NodeChange{
		Label:       req.Label,
		Content:     req.Content,
		MetaUpdates: req.MetaUpdates,
	}
	if change.IsEmpty() {
		respondError(w, h.logger, http.StatusBadRequest, "Update must change at least one field")
		return
	}

	opts := ports.RequestOptions{ProjectID: projectID}
	if err := h.store.UpdateNode(r.Context(), nodeID, change, opts); err != nil {
		h.logger.Error("Failed to update node",
			zap.String("nodeID", nodeID),
			zap.String("projectID", projectID),
			zap.Error(err),
		)
		respondError(w, h.logger, statusForError(err), "Failed to update node")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
