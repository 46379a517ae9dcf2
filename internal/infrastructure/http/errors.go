package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	ierr "3tcapital/ecfcore/internal/infrastructure/errors"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Message   string   `json:"message"`
	Code      string   `json:"code,omitempty"`
	Retryable bool     `json:"retryable"`
	Errors    []string `json:"errors"`
}

// WriteError writes a JSON error response with an explicit status.
func WriteError(w http.ResponseWriter, statusCode int, message string, errors []string, log *slog.Logger) {
	writeResponse(w, statusCode, ErrorResponse{Message: message, Errors: errors}, log)
}

// WriteDomainError maps err through the error taxonomy: status from its kind,
// code from its sentinel, message from its hints. Internal errors are logged
// and reported without their cause.
func WriteDomainError(w http.ResponseWriter, err error, log *slog.Logger) {
	status := ierr.HTTPStatus(err)
	if status >= http.StatusInternalServerError && log != nil {
		log.Error("request failed", "code", ierr.CodeOf(err), "error", err)
	}

	errors := ierr.Details(err)
	if errors == nil {
		errors = []string{}
	}
	writeResponse(w, status, ErrorResponse{
		Message:   ierr.UserMessage(err),
		Code:      ierr.CodeOf(err),
		Retryable: ierr.IsRetryable(err),
		Errors:    errors,
	}, log)
}

func writeResponse(w http.ResponseWriter, statusCode int, response ErrorResponse, log *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(response); err != nil && log != nil {
		// The status line is already out.
		log.Error("failed to encode error response", "error", err)
	}
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, statusCode int, v any, log *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil && log != nil {
		log.Error("failed to encode response", "error", err)
	}
}
