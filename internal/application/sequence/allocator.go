// Package sequence hands out fiscal numbers.
package sequence

import (
	"context"
	"log/slog"
	"time"

	coresequence "3tcapital/ecfcore/internal/core/sequence"
	ierr "3tcapital/ecfcore/internal/infrastructure/errors"
)

// Allocator issues the next fiscal number for a (tenant, document type) pair.
// Serialization comes from the repository's row lock, not from this type.
type Allocator struct {
	repo  coresequence.Repository
	scope coresequence.CounterScope
	now   func() time.Time
	log   *slog.Logger
}

func NewAllocator(repo coresequence.Repository, scope coresequence.CounterScope, log *slog.Logger) *Allocator {
	if !scope.Valid() {
		scope = coresequence.ScopeShared
	}
	return &Allocator{repo: repo, scope: scope, now: time.Now, log: log}
}

// WithClock replaces the clock used for validity checks.
func (a *Allocator) WithClock(now func() time.Time) *Allocator {
	a.now = now
	return a
}

// Scope returns the configured counter scope.
func (a *Allocator) Scope() coresequence.CounterScope {
	return a.scope
}

// Allocate reserves and returns the next fiscal number. When it returns nil
// the counter increment has been committed, or belongs to the transaction ctx
// carries.
func (a *Allocator) Allocate(ctx context.Context, tenantID int64, documentType string, mode coresequence.Mode) (coresequence.FiscalNumber, error) {
	if !mode.Valid() {
		return "", ierr.Newf("invalid issuance mode %q", mode).WithHint("issuance mode must be E or B").Mark(ierr.ErrValidation)
	}
	if !coresequence.ValidDocumentType(documentType) {
		return "", ierr.Newf("invalid document type %q", documentType).
			WithHintf("document type %q is not supported", documentType).
			Mark(ierr.ErrValidation)
	}

	key := coresequence.KeyFor(a.scope, tenantID, documentType, mode)

	var number coresequence.FiscalNumber
	err := a.repo.UpdateLocked(ctx, key, func(seq *coresequence.FiscalSequence) error {
		counter, err := seq.Reserve(a.now())
		if err != nil {
			return err
		}
		number, err = coresequence.FormatFiscalNumber(mode, documentType, counter)
		return err
	})
	if err != nil {
		a.log.Warn("Fiscal number allocation failed",
			"tenant_id", tenantID,
			"document_type", documentType,
			"mode", string(mode),
			"code", ierr.CodeOf(err),
			"error", err,
		)
		return "", err
	}

	a.log.Info("Fiscal number allocated",
		"tenant_id", tenantID,
		"document_type", documentType,
		"fiscal_number", number.String(),
	)
	return number, nil
}

// Provision creates a sequence. Under the shared scope the row has no mode;
// under the per-mode scope it must name one.
func (a *Allocator) Provision(ctx context.Context, seq coresequence.FiscalSequence) error {
	if err := seq.Validate(); err != nil {
		return err
	}
	switch {
	case a.scope == coresequence.ScopeShared && seq.Mode != "":
		return ierr.New("mode set under shared counter scope").
			WithHint("sequences are shared between E and B numbers, leave mode empty").
			Mark(ierr.ErrValidation)
	case a.scope == coresequence.ScopePerMode && seq.Mode == "":
		return ierr.New("mode missing under per-mode counter scope").
			WithHint("sequences are kept per issuance mode, mode must be E or B").
			Mark(ierr.ErrValidation)
	}

	now := a.now()
	seq.CreatedAt = now
	seq.UpdatedAt = now
	return a.repo.Create(ctx, seq)
}

// Get returns the sequence an allocation for the arguments would draw from.
func (a *Allocator) Get(ctx context.Context, tenantID int64, documentType string, mode coresequence.Mode) (*coresequence.FiscalSequence, error) {
	return a.repo.Get(ctx, coresequence.KeyFor(a.scope, tenantID, documentType, mode))
}
