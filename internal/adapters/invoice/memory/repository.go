// Package memory keeps invoices in process memory for tests and local runs.
package memory

import (
	"context"
	"sync"
	"time"

	"3tcapital/ecfcore/internal/core/invoice"
	"3tcapital/ecfcore/internal/core/sequence"
	ierr "3tcapital/ecfcore/internal/infrastructure/errors"
)

type key struct {
	tenantID  int64
	invoiceID int64
}

// Repository implements invoice.Repository in memory. Reads return copies.
type Repository struct {
	mu       sync.RWMutex
	invoices map[key]invoice.Invoice
}

func NewRepository() *Repository {
	return &Repository{invoices: make(map[key]invoice.Invoice)}
}

// Put stores inv as given, replacing any previous version.
func (r *Repository) Put(inv invoice.Invoice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invoices[key{inv.TenantID, inv.ID}] = clone(inv)
}

func (r *Repository) Get(ctx context.Context, tenantID, invoiceID int64) (*invoice.Invoice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inv, ok := r.invoices[key{tenantID, invoiceID}]
	if !ok {
		return nil, notFound(tenantID, invoiceID)
	}
	c := clone(inv)
	return &c, nil
}

// GetForUpdate is Get; Transactor provides the mutual exclusion.
func (r *Repository) GetForUpdate(ctx context.Context, tenantID, invoiceID int64) (*invoice.Invoice, error) {
	return r.Get(ctx, tenantID, invoiceID)
}

func (r *Repository) AssignFiscalNumber(ctx context.Context, tenantID, invoiceID int64, number sequence.FiscalNumber, at time.Time) error {
	return r.transition(tenantID, invoiceID, invoice.StatusDraft, func(inv *invoice.Invoice) {
		inv.Status = invoice.StatusNumbered
		inv.FiscalNumber = number
		inv.NumberedAt = &at
		inv.UpdatedAt = at
	})
}

func (r *Repository) MarkInventoryDeducted(ctx context.Context, tenantID, invoiceID int64) error {
	return r.transition(tenantID, invoiceID, invoice.StatusNumbered, func(inv *invoice.Invoice) {
		inv.InventoryDeducted = true
	})
}

func (r *Repository) SaveSigned(ctx context.Context, tenantID, invoiceID int64, artifact invoice.SignedArtifact) error {
	return r.transition(tenantID, invoiceID, invoice.StatusNumbered, func(inv *invoice.Invoice) {
		inv.Status = invoice.StatusSigned
		inv.SignedXML = artifact.XML
		inv.SecurityCode = artifact.SecurityCode
		inv.SignedAt = &artifact.SignedAt
		inv.UpdatedAt = artifact.SignedAt
	})
}

func (r *Repository) MarkCompleted(ctx context.Context, tenantID, invoiceID int64, at time.Time) error {
	return r.transition(tenantID, invoiceID, invoice.StatusNumbered, func(inv *invoice.Invoice) {
		inv.Status = invoice.StatusCompleted
		inv.UpdatedAt = at
	})
}

func (r *Repository) MarkSent(ctx context.Context, tenantID, invoiceID int64, trackID string, at time.Time) error {
	return r.transition(tenantID, invoiceID, invoice.StatusSigned, func(inv *invoice.Invoice) {
		inv.Status = invoice.StatusSent
		inv.TrackID = trackID
		inv.SentAt = &at
		inv.UpdatedAt = at
	})
}

func (r *Repository) transition(tenantID, invoiceID int64, from invoice.Status, apply func(inv *invoice.Invoice)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{tenantID, invoiceID}
	inv, ok := r.invoices[k]
	if !ok {
		return notFound(tenantID, invoiceID)
	}
	if inv.Status != from {
		return ierr.Newf("invoice %d is %s, expected %s", invoiceID, inv.Status, from).
			WithHintf("invoice is %s and cannot be changed this way", inv.Status).
			Mark(ierr.ErrInvalidTransition)
	}
	apply(&inv)
	r.invoices[k] = inv
	return nil
}

// Transactor serializes every transaction. Nothing is rolled back on error,
// which matches the repositories here: each write is a single step.
type Transactor struct {
	mu sync.Mutex
}

func (t *Transactor) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return fn(ctx)
}

func clone(inv invoice.Invoice) invoice.Invoice {
	inv.Lines = append([]invoice.Line(nil), inv.Lines...)
	return inv
}

func notFound(tenantID, invoiceID int64) error {
	return ierr.Newf("invoice %d not found for tenant %d", invoiceID, tenantID).
		WithHint("invoice not found").
		Mark(ierr.ErrInvoiceNotFound)
}
