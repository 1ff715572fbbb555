// Package handlers implements the dev server's HTTP handlers for the
// remote-store contract the sync core consumes.
package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	pkgerrors "synccore/pkg/errors"
)

func respondJSON(w http.ResponseWriter, logger *zap.Logger, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("Failed to encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, logger *zap.Logger, status int, message string) {
	respondJSON(w, logger, status, map[string]interface{}{
		"error":   true,
		"message": message,
		"code":    status,
	})
}

// statusForError maps a sync error to the HTTP status the dev server returns
func statusForError(err error) int {
	switch {
	case pkgerrors.IsValidation(err):
		return http.StatusBadRequest
	case pkgerrors.IsNotFound(err):
		return http.StatusNotFound
	case pkgerrors.IsType(err, pkgerrors.ErrorTypeConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
