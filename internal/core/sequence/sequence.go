// Package sequence models the per tenant, per document type counters that
// fiscal numbers are drawn from.
package sequence

import (
	"context"
	"fmt"
	"time"

	ierr "3tcapital/ecfcore/internal/infrastructure/errors"
)

// CounterScope decides whether electronic and traditional numbers share one
// counter per document type or keep one each.
type CounterScope string

const (
	ScopeShared  CounterScope = "shared"
	ScopePerMode CounterScope = "per_mode"
)

func (s CounterScope) Valid() bool {
	return s == ScopeShared || s == ScopePerMode
}

// Key identifies one sequence row. Mode is empty under the shared scope.
type Key struct {
	TenantID     int64
	DocumentType string
	Mode         Mode
}

// KeyFor builds the row key for an allocation request under scope.
func KeyFor(scope CounterScope, tenantID int64, documentType string, mode Mode) Key {
	key := Key{TenantID: tenantID, DocumentType: documentType}
	if scope == ScopePerMode {
		key.Mode = mode
	}
	return key
}

func (k Key) String() string {
	if k.Mode == "" {
		return fmt.Sprintf("%d/%s", k.TenantID, k.DocumentType)
	}
	return fmt.Sprintf("%d/%s/%s", k.TenantID, k.DocumentType, k.Mode)
}

// FiscalSequence is the durable counter behind a Key.
type FiscalSequence struct {
	TenantID     int64
	DocumentType string
	Mode         Mode
	NextNumber   uint64
	ValidFrom    *time.Time
	ValidUntil   *time.Time
	MaxNumber    *uint64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Key returns the row key of s.
func (s FiscalSequence) Key() Key {
	return Key{TenantID: s.TenantID, DocumentType: s.DocumentType, Mode: s.Mode}
}

// Validate checks a sequence before it is provisioned.
func (s FiscalSequence) Validate() error {
	switch {
	case s.TenantID <= 0:
		return ierr.New("tenant id must be positive").WithHint("tenant id is required").Mark(ierr.ErrValidation)
	case !ValidDocumentType(s.DocumentType):
		return ierr.Newf("unknown document type %q", s.DocumentType).
			WithHintf("document type %q is not supported", s.DocumentType).
			Mark(ierr.ErrValidation)
	case s.Mode != "" && !s.Mode.Valid():
		return ierr.Newf("unknown mode %q", s.Mode).WithHint("mode must be E, B or empty").Mark(ierr.ErrValidation)
	case s.NextNumber == 0 || s.NextNumber > MaxCounter:
		return ierr.Newf("next number %d out of range", s.NextNumber).
			WithHint("next number must be between 1 and 9999999999").
			Mark(ierr.ErrValidation)
	case s.MaxNumber != nil && (*s.MaxNumber == 0 || *s.MaxNumber > MaxCounter):
		return ierr.Newf("max number %d out of range", *s.MaxNumber).
			WithHint("max number must be between 1 and 9999999999").
			Mark(ierr.ErrValidation)
	case s.ValidFrom != nil && s.ValidUntil != nil && s.ValidUntil.Before(*s.ValidFrom):
		return ierr.New("validity window ends before it starts").
			WithHint("valid until must not be before valid from").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// Reserve checks the validity window and the bound at now, returns the current
// counter and advances NextNumber. It must only run while the row is locked.
func (s *FiscalSequence) Reserve(now time.Time) (uint64, error) {
	details := map[string]any{
		"tenant_id":     s.TenantID,
		"document_type": s.DocumentType,
		"next_number":   s.NextNumber,
	}

	if s.ValidFrom != nil && now.Before(*s.ValidFrom) {
		return 0, ierr.Newf("sequence %s starts at %s", s.Key(), s.ValidFrom.Format(time.RFC3339)).
			WithHintf("fiscal sequence for document type %s is not active until %s", s.DocumentType, s.ValidFrom.Format("2006-01-02")).
			WithReportableDetails(details).
			Mark(ierr.ErrSequenceNotYetActive)
	}
	if s.ValidUntil != nil && now.After(*s.ValidUntil) {
		return 0, ierr.Newf("sequence %s ended at %s", s.Key(), s.ValidUntil.Format(time.RFC3339)).
			WithHintf("fiscal sequence for document type %s expired on %s, provision a new one", s.DocumentType, s.ValidUntil.Format("2006-01-02")).
			WithReportableDetails(details).
			Mark(ierr.ErrSequenceExpired)
	}

	limit := MaxCounter
	if s.MaxNumber != nil && *s.MaxNumber < limit {
		limit = *s.MaxNumber
	}
	if s.NextNumber == 0 || s.NextNumber > limit {
		return 0, ierr.Newf("sequence %s at %d exceeds bound %d", s.Key(), s.NextNumber, limit).
			WithHint("sequence exhausted, contact support").
			WithReportableDetails(details).
			Mark(ierr.ErrSequenceExhausted)
	}

	counter := s.NextNumber
	s.NextNumber++
	s.UpdatedAt = now
	return counter, nil
}

// Repository persists sequences. Implementations must serialize UpdateLocked
// per key across every process sharing the store.
type Repository interface {
	// UpdateLocked loads the row for key under an exclusive row lock and runs
	// fn against it. When fn returns nil the new NextNumber is committed before
	// UpdateLocked returns. A missing row yields ErrSequenceNotConfigured.
	UpdateLocked(ctx context.Context, key Key, fn func(seq *FiscalSequence) error) error

	// Get returns the row for key without locking it.
	Get(ctx context.Context, key Key) (*FiscalSequence, error)

	// Create inserts a new row. An existing key yields ErrSequenceAlreadyExists.
	Create(ctx context.Context, seq FiscalSequence) error
}

// NotConfigured builds the error returned when no row exists for key.
func NotConfigured(key Key) error {
	return ierr.Newf("no fiscal sequence for %s", key).
		WithHintf("no fiscal sequence configured for document type %s", key.DocumentType).
		WithReportableDetails(map[string]any{"tenant_id": key.TenantID, "document_type": key.DocumentType, "mode": string(key.Mode)}).
		Mark(ierr.ErrSequenceNotConfigured)
}

// AlreadyExists builds the error returned when Create hits an existing key.
func AlreadyExists(key Key) error {
	return ierr.Newf("fiscal sequence %s already exists", key).
		WithHintf("a fiscal sequence for document type %s already exists", key.DocumentType).
		Mark(ierr.ErrSequenceAlreadyExists)
}
