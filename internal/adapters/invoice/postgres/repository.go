package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"3tcapital/ecfcore/internal/core/invoice"
	"3tcapital/ecfcore/internal/core/sequence"
	"3tcapital/ecfcore/internal/infrastructure/database"
	ierr "3tcapital/ecfcore/internal/infrastructure/errors"
)

const invoiceColumns = `id, tenant_id, document_type, electronic, status, fiscal_number,
	issuer_tax_id, issuer_name, recipient_tax_id, recipient_name, payment_method,
	issued_at, expires_at, subtotal, tax_total, total, signed_xml, security_code, track_id,
	inventory_deducted, numbered_at, signed_at, sent_at, updated_at`

// Repository implements invoice.Repository on PostgreSQL. State changes are
// conditional updates on the expected current status.
type Repository struct {
	pool database.Pool
	log  *slog.Logger
}

// NewRepository creates a new PostgreSQL invoice repository.
func NewRepository(pool database.Pool, log *slog.Logger) *Repository {
	return &Repository{pool: pool, log: log}
}

func (r *Repository) Get(ctx context.Context, tenantID, invoiceID int64) (*invoice.Invoice, error) {
	return r.load(ctx, tenantID, invoiceID, "")
}

// GetForUpdate locks the invoice row until the transaction in ctx ends.
func (r *Repository) GetForUpdate(ctx context.Context, tenantID, invoiceID int64) (*invoice.Invoice, error) {
	if _, ok := database.TxFrom(ctx); !ok {
		return nil, errors.New("GetForUpdate called outside a transaction")
	}
	return r.load(ctx, tenantID, invoiceID, " FOR UPDATE")
}

func (r *Repository) load(ctx context.Context, tenantID, invoiceID int64, lock string) (*invoice.Invoice, error) {
	q := database.Conn(ctx, r.pool)

	inv, err := scanInvoice(q.QueryRow(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE tenant_id = $1 AND id = $2`+lock,
		tenantID, invoiceID,
	))
	if database.IsNoRows(err) {
		return nil, notFound(tenantID, invoiceID)
	}
	if err != nil {
		return nil, database.Wrap(fmt.Errorf("get invoice %d: %w", invoiceID, err), "get invoice")
	}

	rows, err := q.Query(ctx, `
		SELECT product_id, description, quantity, unit_price, tax_rate
		FROM invoice_lines
		WHERE invoice_id = $1
		ORDER BY position`,
		invoiceID,
	)
	if err != nil {
		return nil, database.Wrap(fmt.Errorf("get invoice %d lines: %w", invoiceID, err), "get invoice lines")
	}
	defer rows.Close()

	for rows.Next() {
		var line invoice.Line
		if err := rows.Scan(&line.ProductID, &line.Description, &line.Quantity, &line.UnitPrice, &line.TaxRate); err != nil {
			return nil, database.Wrap(fmt.Errorf("scan invoice %d line: %w", invoiceID, err), "get invoice lines")
		}
		inv.Lines = append(inv.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, database.Wrap(fmt.Errorf("iterate invoice %d lines: %w", invoiceID, err), "get invoice lines")
	}
	return inv, nil
}

func (r *Repository) AssignFiscalNumber(ctx context.Context, tenantID, invoiceID int64, number sequence.FiscalNumber, at time.Time) error {
	err := r.transition(ctx, tenantID, invoiceID, invoice.StatusDraft, `
		UPDATE invoices
		SET status = 'numbered', fiscal_number = $3, numbered_at = $4, updated_at = $4
		WHERE tenant_id = $1 AND id = $2 AND status = 'draft'`,
		number.String(), at,
	)
	if database.IsUniqueViolation(err) {
		return ierr.WithError(err).
			WithHintf("fiscal number %s is already assigned to another invoice", number).
			Mark(ierr.ErrDuplicateFiscalNumber)
	}
	return err
}

func (r *Repository) MarkInventoryDeducted(ctx context.Context, tenantID, invoiceID int64) error {
	return r.transition(ctx, tenantID, invoiceID, invoice.StatusNumbered, `
		UPDATE invoices
		SET inventory_deducted = TRUE, updated_at = now()
		WHERE tenant_id = $1 AND id = $2 AND status = 'numbered'`,
	)
}

// SaveSigned writes the signed XML, security code and status in one statement.
func (r *Repository) SaveSigned(ctx context.Context, tenantID, invoiceID int64, artifact invoice.SignedArtifact) error {
	return r.transition(ctx, tenantID, invoiceID, invoice.StatusNumbered, `
		UPDATE invoices
		SET status = 'signed', signed_xml = $3, security_code = $4, signed_at = $5, updated_at = $5
		WHERE tenant_id = $1 AND id = $2 AND status = 'numbered'`,
		artifact.XML, artifact.SecurityCode, artifact.SignedAt,
	)
}

func (r *Repository) MarkCompleted(ctx context.Context, tenantID, invoiceID int64, at time.Time) error {
	return r.transition(ctx, tenantID, invoiceID, invoice.StatusNumbered, `
		UPDATE invoices
		SET status = 'completed', updated_at = $3
		WHERE tenant_id = $1 AND id = $2 AND status = 'numbered'`,
		at,
	)
}

func (r *Repository) MarkSent(ctx context.Context, tenantID, invoiceID int64, trackID string, at time.Time) error {
	return r.transition(ctx, tenantID, invoiceID, invoice.StatusSigned, `
		UPDATE invoices
		SET status = 'sent', track_id = $3, sent_at = $4, updated_at = $4
		WHERE tenant_id = $1 AND id = $2 AND status = 'signed'`,
		trackID, at,
	)
}

// transition runs a guarded update. When no row changes it tells a missing
// invoice apart from one in another status.
func (r *Repository) transition(ctx context.Context, tenantID, invoiceID int64, from invoice.Status, sql string, args ...any) error {
	q := database.Conn(ctx, r.pool)

	tag, err := q.Exec(ctx, sql, append([]any{tenantID, invoiceID}, args...)...)
	if database.IsUniqueViolation(err) {
		return err
	}
	if err != nil {
		return database.Wrap(fmt.Errorf("update invoice %d: %w", invoiceID, err), "update invoice")
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var current string
	err = q.QueryRow(ctx, `SELECT status FROM invoices WHERE tenant_id = $1 AND id = $2`, tenantID, invoiceID).Scan(&current)
	if database.IsNoRows(err) {
		return notFound(tenantID, invoiceID)
	}
	if err != nil {
		return database.Wrap(fmt.Errorf("read invoice %d status: %w", invoiceID, err), "update invoice")
	}

	if r.log != nil {
		r.log.Warn("Invoice transition rejected",
			"tenant_id", tenantID,
			"invoice_id", invoiceID,
			"expected_status", string(from),
			"current_status", current,
		)
	}
	return ierr.Newf("invoice %d is %s, expected %s", invoiceID, current, from).
		WithHintf("invoice is %s and cannot be changed this way", current).
		Mark(ierr.ErrInvalidTransition)
}

func scanInvoice(row pgx.Row) (*invoice.Invoice, error) {
	var (
		inv          invoice.Invoice
		status       string
		fiscalNumber *string
		signedXML    *string
		securityCode *string
		trackID      *string
	)
	if err := row.Scan(
		&inv.ID,
		&inv.TenantID,
		&inv.DocumentType,
		&inv.Electronic,
		&status,
		&fiscalNumber,
		&inv.Issuer.TaxID,
		&inv.Issuer.Name,
		&inv.Recipient.TaxID,
		&inv.Recipient.Name,
		&inv.PaymentMethod,
		&inv.IssuedAt,
		&inv.ExpiresAt,
		&inv.Subtotal,
		&inv.TaxTotal,
		&inv.Total,
		&signedXML,
		&securityCode,
		&trackID,
		&inv.InventoryDeducted,
		&inv.NumberedAt,
		&inv.SignedAt,
		&inv.SentAt,
		&inv.UpdatedAt,
	); err != nil {
		return nil, err
	}

	inv.Status = invoice.Status(status)
	inv.FiscalNumber = sequence.FiscalNumber(deref(fiscalNumber))
	inv.SignedXML = deref(signedXML)
	inv.SecurityCode = deref(securityCode)
	inv.TrackID = deref(trackID)
	return &inv, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func notFound(tenantID, invoiceID int64) error {
	return ierr.Newf("invoice %d not found for tenant %d", invoiceID, tenantID).
		WithHint("invoice not found").
		Mark(ierr.ErrInvoiceNotFound)
}

