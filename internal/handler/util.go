package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/lostfound/messaging/internal/service"
	"github.com/lostfound/messaging/pkg/logger"
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

// errorStatus maps service errors to an HTTP status and a client message.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrUnauthenticated):
		return http.StatusUnauthorized, "authentication required"
	case errors.Is(err, service.ErrInvalidParticipants):
		return http.StatusBadRequest, "cannot start a conversation with yourself"
	case errors.Is(err, service.ErrConversationNotFound):
		return http.StatusNotFound, "conversation not found"
	case errors.Is(err, service.ErrNotParticipant):
		return http.StatusForbidden, "not a participant in this conversation"
	case errors.Is(err, service.ErrResolutionFailed):
		return http.StatusServiceUnavailable, "conversation unavailable, please try again"
	case errors.Is(err, service.ErrSendFailed):
		return http.StatusServiceUnavailable, "message could not be sent, please try again"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// writeServiceError writes the mapped error and logs server-side failures.
func writeServiceError(w http.ResponseWriter, log *logger.Logger, op string, err error) {
	status, msg := errorStatus(err)
	if status >= http.StatusInternalServerError {
		log.Error(op+" failed", zap.Error(err))
	}
	writeError(w, status, msg)
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	flusher.Flush()

	return nil
}
