package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"synccore/application/ports"
	"synccore/domain/core/entities"
	"synccore/infrastructure/remote"
	"synccore/pkg/utils"
)

// EdgeHandler serves edge mutations
type EdgeHandler struct {
	store  *remote.MemoryStore
	logger *zap.Logger
}

// NewEdgeHandler creates a new edge handler
func NewEdgeHandler(store *remote.MemoryStore, logger *zap.Logger) *EdgeHandler {
	return &EdgeHandler{store: store, logger: logger}
}

// EdgeRequest represents the request body for an edge mutation
type EdgeRequest struct {
	From  string                 `json:"from" validate:"required"`
	To    string                 `json:"to" validate:"required"`
	Type  string                 `json:"type,omitempty"`
	Props map[string]interface{} `json:"props,omitempty"`
}

// CreateEdge handles POST /edges
func (h *EdgeHandler) CreateEdge(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "create", h.store.CreateEdge, http.StatusCreated)
}

// DeleteEdge handles DELETE /edges
func (h *EdgeHandler) DeleteEdge(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "delete", h.store.DeleteEdge, http.StatusNoContent)
}

// UpdateEdge handles PATCH /edges
func (h *EdgeHandler) UpdateEdge(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "update", h.store.UpdateEdge, http.StatusOK)
}

type edgeOp func(ctx context.Context, edge *entities.Edge, opts ports.RequestOptions) error

func (h *EdgeHandler) mutate(w http.ResponseWriter, r *http.Request, action string, op edgeOp, okStatus int) {
	projectID := r.URL.Query().Get("project_id")
	if projectID == "" {
		respondError(w, h.logger, http.StatusBadRequest, "project_id is required")
		return
	}

	var req EdgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, h.logger, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		respondError(w, h.logger, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	edge, err := entities.NewEdge(req.From, req.To, req.Type, req.Props)
	if err != nil {
		respondError(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}

	if err := op(r.Context(), edge, ports.RequestOptions{ProjectID: projectID}); err != nil {
		h.logger.Error("Failed to apply edge mutation",
			zap.String("action", action),
			zap.String("from", req.From),
			zap.String("to", req.To),
			zap.Error(err),
		)
		respondError(w, h.logger, statusForError(err), "Failed to "+action+" edge")
		return
	}

	if okStatus == http.StatusNoContent {
		w.WriteHeader(okStatus)
		return
	}
	respondJSON(w, h.logger, okStatus, map[string]interface{}{
		"from": edge.From,
		"to":   edge.To,
		"type": edge.Type,
	})
}
