package errors

import (
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestMark_IsAndKind(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		reference *Error
		kind      Kind
		retryable bool
		status    int
	}{
		{
			name:      "exhausted sequence",
			err:       New("counter 11 above bound 10").WithHint("sequence exhausted, contact support").Mark(ErrSequenceExhausted),
			reference: ErrSequenceExhausted,
			kind:      KindValidity,
			status:    http.StatusUnprocessableEntity,
		},
		{
			name:      "wrapped persistence error",
			err:       fmt.Errorf("issue invoice: %w", WithError(fmt.Errorf("connection reset")).Mark(ErrPersistence)),
			reference: ErrPersistence,
			kind:      KindTransient,
			retryable: true,
			status:    http.StatusServiceUnavailable,
		},
		{
			name:      "document rejected",
			err:       New("reception failed with status 400").Mark(ErrDocumentRejected),
			reference: ErrDocumentRejected,
			kind:      KindRejected,
			status:    http.StatusUnprocessableEntity,
		},
		{
			name:      "invalid data",
			err:       New("total mismatch").Mark(ErrInvalidInvoiceData),
			reference: ErrInvalidInvoiceData,
			kind:      KindData,
			status:    http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !Is(tt.err, tt.reference) {
				t.Fatalf("expected error to match %v", tt.reference)
			}
			if got := KindOf(tt.err); got != tt.kind {
				t.Errorf("expected kind %q, got %q", tt.kind, got)
			}
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("expected retryable=%v, got %v", tt.retryable, got)
			}
			if got := HTTPStatus(tt.err); got != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, got)
			}
		})
	}
}

func TestIs_DistinguishesSentinels(t *testing.T) {
	err := New("before start").Mark(ErrSequenceNotYetActive)
	if Is(err, ErrSequenceExpired) {
		t.Fatal("not-yet-active must not match expired")
	}
	if CodeOf(err) != CodeSequenceNotYetActive {
		t.Errorf("unexpected code %q", CodeOf(err))
	}
}

func TestUserMessage(t *testing.T) {
	withHint := New("db: 42P01").WithHint("invoice totals inconsistent").Mark(ErrInvalidInvoiceData)
	if got := UserMessage(withHint); got != "invoice totals inconsistent" {
		t.Errorf("expected hint, got %q", got)
	}

	noHint := New("secret cause").Mark(ErrSequenceExpired)
	if got := UserMessage(noHint); got != ErrSequenceExpired.Message {
		t.Errorf("expected sentinel message, got %q", got)
	}

	plain := fmt.Errorf("boom")
	if got := UserMessage(plain); got != "internal error" {
		t.Errorf("expected generic message, got %q", got)
	}
	if KindOf(plain) != KindInternal {
		t.Errorf("expected internal kind for unmarked error")
	}
}

func TestWithReportableDetails(t *testing.T) {
	err := New("exhausted").
		WithReportableDetails(map[string]any{"tenant_id": 7, "document_type": "31"}).
		Mark(ErrSequenceExhausted)

	details := strings.Join(Details(err), " ")
	if !strings.Contains(details, `"tenant_id":7`) {
		t.Errorf("expected details to carry tenant id, got %q", details)
	}
}
