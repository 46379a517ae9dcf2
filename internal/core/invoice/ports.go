package invoice

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"3tcapital/ecfcore/internal/core/sequence"
)

// SignedArtifact is written together with the signed status.
type SignedArtifact struct {
	XML          string
	SecurityCode string
	SignedAt     time.Time
}

// Repository persists invoices. Every state changing method is guarded by the
// expected current status and fails with ErrInvalidTransition when the row is
// not in it.
type Repository interface {
	// Get loads an invoice with its lines. Missing rows yield ErrInvoiceNotFound.
	Get(ctx context.Context, tenantID, invoiceID int64) (*Invoice, error)

	// GetForUpdate is Get under a row lock. It must run inside a transaction.
	GetForUpdate(ctx context.Context, tenantID, invoiceID int64) (*Invoice, error)

	// AssignFiscalNumber moves a draft to numbered.
	AssignFiscalNumber(ctx context.Context, tenantID, invoiceID int64, number sequence.FiscalNumber, at time.Time) error

	// MarkInventoryDeducted records that stock has been deducted.
	MarkInventoryDeducted(ctx context.Context, tenantID, invoiceID int64) error

	// SaveSigned stores the artifact and moves numbered to signed in one write.
	SaveSigned(ctx context.Context, tenantID, invoiceID int64, artifact SignedArtifact) error

	// MarkCompleted moves a traditional invoice from numbered to completed.
	MarkCompleted(ctx context.Context, tenantID, invoiceID int64, at time.Time) error

	// MarkSent moves signed to sent and records the tracking id.
	MarkSent(ctx context.Context, tenantID, invoiceID int64, trackID string, at time.Time) error
}

// Inventory deducts stock. A repeated reason must not deduct twice.
type Inventory interface {
	Deduct(ctx context.Context, tenantID, productID int64, quantity decimal.Decimal, reason string) error
}

// TransmitRequest is what the transmission collaborator needs to deliver a
// signed document.
type TransmitRequest struct {
	TenantID     int64
	IssuerTaxID  string
	FiscalNumber sequence.FiscalNumber
	SignedXML    string
}

// Transmitter delivers signed documents to the tax authority and returns its
// tracking id. It does not retry.
type Transmitter interface {
	Transmit(ctx context.Context, req TransmitRequest) (string, error)
}

// Transactor runs fn in one database transaction shared by every repository
// call made with the ctx it receives.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}
