// Package handler provides HTTP handlers for the API.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/omnidesk/support-router/internal/channel"
	"github.com/omnidesk/support-router/internal/model"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// writeDomainError maps a domain error to its HTTP representation.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, model.ErrAlreadyClaimed):
		writeError(w, http.StatusConflict, "conversation already claimed")
	case errors.Is(err, model.ErrNotOwner):
		writeError(w, http.StatusForbidden, "not the owning agent")
	case errors.Is(err, model.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, channel.ErrUnknownChannel):
		writeError(w, http.StatusNotFound, "unknown channel")
	case errors.Is(err, model.ErrDeliveryFailed):
		writeError(w, http.StatusBadGateway, "delivery failed")
	case errors.Is(err, model.ErrStorageUnavailable):
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
