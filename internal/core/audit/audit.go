// Package audit records every exchange with the tax authority.
package audit

import (
	"context"
	"time"
)

// ExchangeLog is one request/response pair sent to an external fiscal
// endpoint. Bodies are stored sanitized and truncated.
type ExchangeLog struct {
	ID              int64
	CorrelationID   string
	TenantID        *int64
	FiscalNumber    string
	Provider        string
	Operation       string
	RequestMethod   string
	RequestURL      string
	RequestHeaders  map[string]string
	RequestBody     string
	ResponseStatus  *int
	ResponseHeaders map[string]string
	ResponseBody    string
	DurationMs      int64
	ErrorMessage    string
	CreatedAt       time.Time
}

// Repository stores and reads exchange logs.
type Repository interface {
	// Save persists one exchange.
	Save(ctx context.Context, log ExchangeLog) error

	// FindByFiscalNumber returns every exchange about a document, newest first.
	FindByFiscalNumber(ctx context.Context, tenantID int64, fiscalNumber string) ([]ExchangeLog, error)
}

type contextKey struct{}

// Subject tags outgoing calls with the document they concern.
type Subject struct {
	TenantID     int64
	FiscalNumber string
}

// WithSubject attaches s to ctx so traced clients can record it.
func WithSubject(ctx context.Context, s Subject) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// SubjectFrom returns the subject attached to ctx.
func SubjectFrom(ctx context.Context) (Subject, bool) {
	s, ok := ctx.Value(contextKey{}).(Subject)
	return s, ok
}
