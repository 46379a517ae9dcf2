package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// ErrorBody mirrors the JSON error envelope written by the HTTP layer.
type ErrorBody struct {
	Message   string   `json:"message"`
	Code      string   `json:"code"`
	Retryable bool     `json:"retryable"`
	Errors    []string `json:"errors"`
}

// ReadJSONResponse checks the status and decodes the body into v.
func ReadJSONResponse(t testing.TB, w *httptest.ResponseRecorder, wantStatus int, v any) {
	t.Helper()
	if w.Code != wantStatus {
		t.Fatalf("expected status %d, got %d: %s", wantStatus, w.Code, w.Body.String())
	}
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}
}

// ReadErrorResponse checks the status and decodes the error envelope.
func ReadErrorResponse(t testing.TB, w *httptest.ResponseRecorder, wantStatus int) ErrorBody {
	t.Helper()
	var body ErrorBody
	ReadJSONResponse(t, w, wantStatus, &body)
	return body
}

// CreateRequest creates an HTTP request with an optional JSON body and headers.
func CreateRequest(method, path string, body any, headers map[string]string) *http.Request {
	var payload []byte
	if body != nil {
		payload, _ = json.Marshal(body)
	}

	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req
}
