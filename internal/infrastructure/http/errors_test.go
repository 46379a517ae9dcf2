package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	ierr "3tcapital/ecfcore/internal/infrastructure/errors"
	"3tcapital/ecfcore/internal/testutil"
)

type failingResponseWriter struct {
	http.ResponseWriter
}

func (f *failingResponseWriter) Write([]byte) (int, error) {
	return 0, errors.New("broken pipe")
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", ct)
	}
	var response ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return response
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		message    string
		errors     []string
		withLogger bool
	}{
		{name: "single error", statusCode: http.StatusBadRequest, message: "invalid request body", errors: []string{"document_type is required"}, withLogger: true},
		{name: "multiple errors", statusCode: http.StatusUnprocessableEntity, message: "validation failed", errors: []string{"a", "b", "c"}},
		{name: "empty errors", statusCode: http.StatusUnauthorized, message: "missing bearer token", errors: []string{}, withLogger: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			var logger *slog.Logger
			if tt.withLogger {
				logger = testutil.NewTestLogger()
			}

			WriteError(w, tt.statusCode, tt.message, tt.errors, logger)

			if w.Code != tt.statusCode {
				t.Errorf("expected status code %d, got %d", tt.statusCode, w.Code)
			}
			response := decodeError(t, w)
			if response.Message != tt.message || len(response.Errors) != len(tt.errors) {
				t.Errorf("unexpected response %+v", response)
			}
		})
	}
}

func TestWriteDomainError(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantStatus    int
		wantCode      string
		wantRetryable bool
		wantMessage   string
	}{
		{
			name:        "configuration error",
			err:         ierr.New("no row").WithHint("no fiscal sequence for document type 31").Mark(ierr.ErrSequenceNotConfigured),
			wantStatus:  http.StatusUnprocessableEntity,
			wantCode:    ierr.CodeSequenceNotConfigured,
			wantMessage: "no fiscal sequence for document type 31",
		},
		{
			name:          "transient error",
			err:           ierr.WithError(errors.New("dial tcp: refused")).Mark(ierr.ErrPersistence),
			wantStatus:    http.StatusServiceUnavailable,
			wantCode:      ierr.CodePersistence,
			wantRetryable: true,
			wantMessage:   "persistence error",
		},
		{
			name:        "unmarked error hides cause",
			err:         errors.New("nil pointer somewhere"),
			wantStatus:  http.StatusInternalServerError,
			wantCode:    ierr.CodeInternal,
			wantMessage: "internal error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteDomainError(w, tt.err, testutil.NewNullLogger())

			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, w.Code)
			}
			response := decodeError(t, w)
			if response.Code != tt.wantCode || response.Retryable != tt.wantRetryable || response.Message != tt.wantMessage {
				t.Errorf("unexpected response %+v", response)
			}
			if response.Errors == nil {
				t.Error("errors must be an array")
			}
		})
	}
}

func TestWriteError_EncodingFailureDoesNotPanic(t *testing.T) {
	w := &failingResponseWriter{ResponseWriter: httptest.NewRecorder()}
	WriteError(w, http.StatusBadRequest, "Test", []string{"Error"}, testutil.NewTestLogger())
}
