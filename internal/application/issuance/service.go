// Package issuance drives an invoice through numbering, composition, signing
// and transmission.
package issuance

import (
	"context"
	"log/slog"
	"time"

	"3tcapital/ecfcore/internal/core/ecf"
	"3tcapital/ecfcore/internal/core/invoice"
	"3tcapital/ecfcore/internal/core/sequence"
	"3tcapital/ecfcore/internal/core/signing"
	ierr "3tcapital/ecfcore/internal/infrastructure/errors"
)

// Allocator reserves fiscal numbers.
type Allocator interface {
	Allocate(ctx context.Context, tenantID int64, documentType string, mode sequence.Mode) (sequence.FiscalNumber, error)
}

// Composer renders an invoice document as e-CF XML.
type Composer interface {
	Compose(doc ecf.InvoiceDocument) (string, error)
}

// IdentitySource returns a tenant's signing identity.
type IdentitySource interface {
	Identity(ctx context.Context, tenantID int64) (*signing.Identity, error)
}

// Dependencies groups the collaborators of Service. Inventory may be nil when
// stock is not tracked; Transmitter may be nil when transmission is disabled.
type Dependencies struct {
	Invoices    invoice.Repository
	Tx          invoice.Transactor
	Allocator   Allocator
	Inventory   invoice.Inventory
	Composer    Composer
	Identities  IdentitySource
	Signing     *SigningPool
	Transmitter invoice.Transmitter

	// SignSelector names the element that carries the signature. Empty signs
	// the document root.
	SignSelector string

	// Location is the issuer's time zone for document dates and the security
	// code. It must match the composer's. Nil uses ecf.DefaultLocation.
	Location *time.Location
}

// IssueResult is what Issue reports back. SignedXML is nil unless the
// invoice reached the signed state.
type IssueResult struct {
	Status       invoice.Status
	FiscalNumber sequence.FiscalNumber
	SignedXML    *string
}

// TransmitResult is what TransmitIssued reports back.
type TransmitResult struct {
	Status  invoice.Status
	TrackID string
}

// Service orchestrates invoice issuance.
type Service struct {
	deps Dependencies
	now  func() time.Time
	log  *slog.Logger
}

func NewService(deps Dependencies, log *slog.Logger) *Service {
	return &Service{deps: deps, now: time.Now, log: log}
}

// WithClock replaces the clock used for state timestamps.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Issue numbers the invoice if needed, deducts stock once, and then either
// completes a traditional invoice or composes and signs an electronic one.
// A failure after numbering leaves the invoice numbered; calling Issue again
// resumes with the same fiscal number.
func (s *Service) Issue(ctx context.Context, tenantID, invoiceID int64) (*IssueResult, error) {
	inv, err := s.deps.Invoices.Get(ctx, tenantID, invoiceID)
	if err != nil {
		return nil, err
	}

	switch inv.Status {
	case invoice.StatusSigned, invoice.StatusSent, invoice.StatusCompleted:
		return resultOf(inv), nil
	case invoice.StatusDraft:
		if err := ecf.ValidateDraft(inv.Input()); err != nil {
			return nil, err
		}
		if inv, err = s.number(ctx, tenantID, invoiceID); err != nil {
			return nil, err
		}
		if inv.Status != invoice.StatusNumbered {
			return resultOf(inv), nil
		}
	case invoice.StatusNumbered:
		s.log.Info("Resuming issuance of numbered invoice",
			"tenant_id", tenantID,
			"invoice_id", invoiceID,
			"fiscal_number", inv.FiscalNumber.String(),
		)
	default:
		return nil, ierr.Newf("invoice %d has unknown status %q", invoiceID, inv.Status).
			Mark(ierr.ErrInvalidTransition)
	}

	if err := s.deductInventory(ctx, inv); err != nil {
		return s.afterConflict(ctx, inv, "inventory", err)
	}

	if !inv.Electronic {
		return s.complete(ctx, inv)
	}
	return s.sign(ctx, inv)
}

// number locks the invoice row and, unless a concurrent request got there
// first, allocates a fiscal number and stores it in the same transaction.
func (s *Service) number(ctx context.Context, tenantID, invoiceID int64) (*invoice.Invoice, error) {
	var numbered *invoice.Invoice
	err := s.deps.Tx.WithTx(ctx, func(ctx context.Context) error {
		locked, err := s.deps.Invoices.GetForUpdate(ctx, tenantID, invoiceID)
		if err != nil {
			return err
		}
		if locked.Status.Numbered() {
			numbered = locked
			return nil
		}

		number, err := s.deps.Allocator.Allocate(ctx, tenantID, locked.DocumentType, locked.Mode())
		if err != nil {
			return err
		}
		at := s.now()
		if err := s.deps.Invoices.AssignFiscalNumber(ctx, tenantID, invoiceID, number, at); err != nil {
			return err
		}

		locked.Status = invoice.StatusNumbered
		locked.FiscalNumber = number
		locked.NumberedAt = &at
		numbered = locked
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Invoice numbered",
		"tenant_id", tenantID,
		"invoice_id", invoiceID,
		"fiscal_number", numbered.FiscalNumber.String(),
		"status", string(numbered.Status),
	)
	return numbered, nil
}

func (s *Service) deductInventory(ctx context.Context, inv *invoice.Invoice) error {
	if inv.InventoryDeducted || s.deps.Inventory == nil {
		return nil
	}

	for i, line := range inv.Lines {
		if line.ProductID == nil {
			continue
		}
		if err := s.deps.Inventory.Deduct(ctx, inv.TenantID, *line.ProductID, line.Quantity, inv.DeductionReason(i+1)); err != nil {
			return err
		}
	}

	if err := s.deps.Invoices.MarkInventoryDeducted(ctx, inv.TenantID, inv.ID); err != nil {
		return err
	}
	inv.InventoryDeducted = true
	return nil
}

func (s *Service) complete(ctx context.Context, inv *invoice.Invoice) (*IssueResult, error) {
	if err := s.deps.Invoices.MarkCompleted(ctx, inv.TenantID, inv.ID, s.now()); err != nil {
		return s.afterConflict(ctx, inv, "complete", err)
	}
	inv.Status = invoice.StatusCompleted

	s.log.Info("Traditional invoice completed",
		"tenant_id", inv.TenantID,
		"invoice_id", inv.ID,
		"fiscal_number", inv.FiscalNumber.String(),
	)
	return resultOf(inv), nil
}

func (s *Service) sign(ctx context.Context, inv *invoice.Invoice) (*IssueResult, error) {
	in := inv.Input()
	in.Location = s.deps.Location
	doc, err := ecf.NewInvoiceDocument(in)
	if err != nil {
		s.logFailure(inv, "validate", err)
		return nil, err
	}

	xml, err := s.deps.Composer.Compose(doc)
	if err != nil {
		s.logFailure(inv, "compose", err)
		return nil, err
	}

	identity, err := s.deps.Identities.Identity(ctx, inv.TenantID)
	if err != nil {
		s.logFailure(inv, "identity", err)
		return nil, err
	}

	signed, err := s.deps.Signing.Sign(ctx, xml, identity, s.deps.SignSelector)
	if err != nil {
		s.logFailure(inv, "sign", err)
		return nil, err
	}

	at := s.now()
	artifact := invoice.SignedArtifact{XML: signed, SecurityCode: doc.SecurityCode(), SignedAt: at}
	if err := s.deps.Invoices.SaveSigned(ctx, inv.TenantID, inv.ID, artifact); err != nil {
		return s.afterConflict(ctx, inv, "persist", err)
	}

	inv.Status = invoice.StatusSigned
	inv.SignedXML = signed
	inv.SecurityCode = artifact.SecurityCode
	inv.SignedAt = &at

	s.log.Info("Invoice signed",
		"tenant_id", inv.TenantID,
		"invoice_id", inv.ID,
		"fiscal_number", inv.FiscalNumber.String(),
		"security_code", artifact.SecurityCode,
		"signer", identity,
	)
	return resultOf(inv), nil
}

// afterConflict reports the stored state when a guarded write lost a race
// with another request that already moved the invoice on. Other errors are
// returned as they are.
func (s *Service) afterConflict(ctx context.Context, inv *invoice.Invoice, step string, writeErr error) (*IssueResult, error) {
	if !ierr.Is(writeErr, ierr.ErrInvalidTransition) {
		s.logFailure(inv, step, writeErr)
		return nil, writeErr
	}
	current, err := s.deps.Invoices.Get(ctx, inv.TenantID, inv.ID)
	if err != nil {
		return nil, err
	}
	if current.Status == invoice.StatusNumbered || current.Status == invoice.StatusDraft {
		return nil, writeErr
	}
	return resultOf(current), nil
}

// TransmitIssued hands a signed invoice to the transmission collaborator and
// records the tracking id. Only signed invoices are accepted.
func (s *Service) TransmitIssued(ctx context.Context, tenantID, invoiceID int64) (*TransmitResult, error) {
	inv, err := s.deps.Invoices.Get(ctx, tenantID, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Status != invoice.StatusSigned {
		return nil, ierr.Newf("invoice %d is %s, not signed", invoiceID, inv.Status).
			WithHintf("only signed invoices can be transmitted (current status: %s)", inv.Status).
			Mark(ierr.ErrInvalidTransition)
	}
	if s.deps.Transmitter == nil {
		return nil, ierr.New("no transmitter configured").
			WithHint("transmission to the tax authority is not enabled").
			Mark(ierr.ErrTransmission)
	}

	trackID, err := s.deps.Transmitter.Transmit(ctx, invoice.TransmitRequest{
		TenantID:     tenantID,
		IssuerTaxID:  inv.Issuer.TaxID,
		FiscalNumber: inv.FiscalNumber,
		SignedXML:    inv.SignedXML,
	})
	if err != nil {
		if ierr.Sentinel(err) == nil {
			err = ierr.WithError(err).WithHint("transmission to the tax authority failed").Mark(ierr.ErrTransmission)
		}
		s.logFailure(inv, "transmit", err)
		return nil, err
	}

	if err := s.deps.Invoices.MarkSent(ctx, tenantID, invoiceID, trackID, s.now()); err != nil {
		s.log.Error("Transmitted invoice could not be marked sent",
			"tenant_id", tenantID,
			"invoice_id", invoiceID,
			"fiscal_number", inv.FiscalNumber.String(),
			"track_id", trackID,
			"error", err,
		)
		return nil, err
	}

	s.log.Info("Invoice transmitted",
		"tenant_id", tenantID,
		"invoice_id", invoiceID,
		"fiscal_number", inv.FiscalNumber.String(),
		"track_id", trackID,
	)
	return &TransmitResult{Status: invoice.StatusSent, TrackID: trackID}, nil
}

func (s *Service) logFailure(inv *invoice.Invoice, step string, err error) {
	s.log.Warn("Issuance step failed",
		"step", step,
		"tenant_id", inv.TenantID,
		"invoice_id", inv.ID,
		"status", string(inv.Status),
		"fiscal_number", inv.FiscalNumber.String(),
		"code", ierr.CodeOf(err),
		"retryable", ierr.IsRetryable(err),
		"error", err,
	)
}

func resultOf(inv *invoice.Invoice) *IssueResult {
	r := &IssueResult{Status: inv.Status, FiscalNumber: inv.FiscalNumber}
	if inv.Status == invoice.StatusSigned || inv.Status == invoice.StatusSent {
		xml := inv.SignedXML
		r.SignedXML = &xml
	}
	return r
}
