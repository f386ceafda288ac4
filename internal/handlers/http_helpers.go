package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/loksaikotini/EduCast/internal/auth"
	"github.com/loksaikotini/EduCast/internal/service"
)

type errorResponse struct {
	Message string `json:"message"`
}

// respondJSON writes payload as JSON; a nil payload writes only the status.
func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Warn("failed to encode response", "err", err)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorResponse{Message: msg})
}

// writeServiceError maps a service error to its HTTP status. Unexpected
// errors are logged and reported as 500 without detail.
func writeServiceError(w http.ResponseWriter, log *slog.Logger, err error) {
	msg := service.ErrorPayload(err).Message
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		auth.Reject(w, err)
	case errors.Is(err, service.ErrNotAuthorizedForRoom):
		respondError(w, http.StatusForbidden, msg)
	case errors.Is(err, service.ErrRoomNotFound), errors.Is(err, service.ErrClassroomNotFound):
		respondError(w, http.StatusNotFound, msg)
	case errors.Is(err, service.ErrMalformedMessage), errors.Is(err, service.ErrNotInRoom):
		respondError(w, http.StatusBadRequest, msg)
	case errors.Is(err, service.ErrCodeGenerationFailed):
		log.Warn("meeting code space exhausted", "err", err)
		respondError(w, http.StatusServiceUnavailable, "Could not allocate a meeting code, try again.")
	default:
		log.Error("request failed", "err", err)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
