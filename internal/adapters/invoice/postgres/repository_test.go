package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"

	"3tcapital/ecfcore/internal/core/invoice"
	"3tcapital/ecfcore/internal/infrastructure/database"
	ierr "3tcapital/ecfcore/internal/infrastructure/errors"
	"3tcapital/ecfcore/internal/testutil"
)

var invoiceCols = []string{
	"id", "tenant_id", "document_type", "electronic", "status", "fiscal_number",
	"issuer_tax_id", "issuer_name", "recipient_tax_id", "recipient_name", "payment_method",
	"issued_at", "expires_at", "subtotal", "tax_total", "total", "signed_xml", "security_code", "track_id",
	"inventory_deducted", "numbered_at", "signed_at", "sent_at", "updated_at",
}

var lineCols = []string{"product_id", "description", "quantity", "unit_price", "tax_rate"}

var (
	nilTime   *time.Time
	nilString *string
	nilInt    *int64
)

func strPtr(s string) *string  { return &s }
func int64Ptr(v int64) *int64 { return &v }

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("create mock: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock
}

func numberedRow(now time.Time) *pgxmock.Rows {
	return pgxmock.NewRows(invoiceCols).AddRow(
		int64(1), int64(7), "31", true, "numbered", strPtr("E310000000001"),
		"131234567", "Comercial Ejemplo SRL", "101654321", "Cliente Ejemplo SA", 1,
		now, nilTime, decimal.RequireFromString("200.00"), decimal.RequireFromString("36.00"), decimal.RequireFromString("236.00"),
		nilString, nilString, nilString,
		false, &now, nilTime, nilTime, now,
	)
}

func TestRepository_Get(t *testing.T) {
	mock := newMock(t)
	now := time.Date(2026, 4, 2, 10, 30, 0, 0, time.UTC)

	mock.ExpectQuery("FROM invoices").
		WithArgs(int64(7), int64(1)).
		WillReturnRows(numberedRow(now))
	mock.ExpectQuery("FROM invoice_lines").
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows(lineCols).
			AddRow(int64Ptr(11), "Cemento gris", decimal.RequireFromString("2"), decimal.RequireFromString("100.00"), decimal.RequireFromString("18")).
			AddRow(nilInt, "Transporte", decimal.RequireFromString("1"), decimal.RequireFromString("0"), decimal.RequireFromString("0")))

	repo := NewRepository(mock, testutil.NewNullLogger())
	inv, err := repo.Get(context.Background(), 7, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if inv.Status != invoice.StatusNumbered || inv.FiscalNumber != "E310000000001" {
		t.Errorf("unexpected invoice state %s %s", inv.Status, inv.FiscalNumber)
	}
	if inv.Issuer.TaxID != "131234567" || inv.Recipient.Name != "Cliente Ejemplo SA" {
		t.Errorf("unexpected parties %+v %+v", inv.Issuer, inv.Recipient)
	}
	if !inv.Total.Equal(decimal.RequireFromString("236")) {
		t.Errorf("unexpected total %s", inv.Total)
	}
	if len(inv.Lines) != 2 || inv.Lines[0].ProductID == nil || *inv.Lines[0].ProductID != 11 || inv.Lines[1].ProductID != nil {
		t.Errorf("unexpected lines %+v", inv.Lines)
	}
	if inv.SignedXML != "" || inv.NumberedAt == nil {
		t.Error("unexpected nullable columns")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRepository_GetNotFound(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery("FROM invoices").
		WithArgs(int64(7), int64(404)).
		WillReturnError(pgx.ErrNoRows)

	repo := NewRepository(mock, testutil.NewNullLogger())
	if _, err := repo.Get(context.Background(), 7, 404); !ierr.Is(err, ierr.ErrInvoiceNotFound) {
		t.Errorf("expected INVOICE_NOT_FOUND, got %v", err)
	}
}

func TestRepository_GetForUpdate(t *testing.T) {
	mock := newMock(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WithArgs(int64(7), int64(1)).
		WillReturnRows(numberedRow(now))
	mock.ExpectQuery("FROM invoice_lines").
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows(lineCols))
	mock.ExpectCommit()

	repo := NewRepository(mock, testutil.NewNullLogger())

	if _, err := repo.GetForUpdate(context.Background(), 7, 1); err == nil {
		t.Error("expected an error outside a transaction")
	}

	err := database.RunInTx(context.Background(), mock, func(ctx context.Context) error {
		_, err := repo.GetForUpdate(ctx, 7, 1)
		return err
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRepository_Transitions(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name        string
		setup       func(mock pgxmock.PgxPoolIface)
		call        func(repo *Repository) error
		expectedErr *ierr.Error
	}{
		{
			name: "assign fiscal number",
			setup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec("SET status = 'numbered'").
					WithArgs(int64(7), int64(1), "E310000000001", now).
					WillReturnResult(pgxmock.NewResult("UPDATE", 1))
			},
			call: func(repo *Repository) error {
				return repo.AssignFiscalNumber(context.Background(), 7, 1, "E310000000001", now)
			},
		},
		{
			name: "fiscal number used elsewhere",
			setup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec("SET status = 'numbered'").
					WithArgs(int64(7), int64(1), "E310000000001", now).
					WillReturnError(&pgconn.PgError{Code: "23505"})
			},
			call: func(repo *Repository) error {
				return repo.AssignFiscalNumber(context.Background(), 7, 1, "E310000000001", now)
			},
			expectedErr: ierr.ErrDuplicateFiscalNumber,
		},
		{
			name: "save signed from numbered",
			setup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec("SET status = 'signed'").
					WithArgs(int64(7), int64(1), "<ECF/>", "A1B2C3", now).
					WillReturnResult(pgxmock.NewResult("UPDATE", 1))
			},
			call: func(repo *Repository) error {
				return repo.SaveSigned(context.Background(), 7, 1, invoice.SignedArtifact{XML: "<ECF/>", SecurityCode: "A1B2C3", SignedAt: now})
			},
		},
		{
			name: "save signed rejected when already signed",
			setup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec("SET status = 'signed'").
					WithArgs(int64(7), int64(1), "<ECF/>", "A1B2C3", now).
					WillReturnResult(pgxmock.NewResult("UPDATE", 0))
				mock.ExpectQuery("SELECT status FROM invoices").
					WithArgs(int64(7), int64(1)).
					WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("sent"))
			},
			call: func(repo *Repository) error {
				return repo.SaveSigned(context.Background(), 7, 1, invoice.SignedArtifact{XML: "<ECF/>", SecurityCode: "A1B2C3", SignedAt: now})
			},
			expectedErr: ierr.ErrInvalidTransition,
		},
		{
			name: "mark sent on missing invoice",
			setup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec("SET status = 'sent'").
					WithArgs(int64(7), int64(1), "track-1", now).
					WillReturnResult(pgxmock.NewResult("UPDATE", 0))
				mock.ExpectQuery("SELECT status FROM invoices").
					WithArgs(int64(7), int64(1)).
					WillReturnError(pgx.ErrNoRows)
			},
			call: func(repo *Repository) error {
				return repo.MarkSent(context.Background(), 7, 1, "track-1", now)
			},
			expectedErr: ierr.ErrInvoiceNotFound,
		},
		{
			name: "mark completed",
			setup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec("SET status = 'completed'").
					WithArgs(int64(7), int64(1), now).
					WillReturnResult(pgxmock.NewResult("UPDATE", 1))
			},
			call: func(repo *Repository) error {
				return repo.MarkCompleted(context.Background(), 7, 1, now)
			},
		},
		{
			name: "inventory flag storage failure is transient",
			setup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec("SET inventory_deducted = TRUE").
					WithArgs(int64(7), int64(1)).
					WillReturnError(pgx.ErrTxClosed)
			},
			call: func(repo *Repository) error {
				return repo.MarkInventoryDeducted(context.Background(), 7, 1)
			},
			expectedErr: ierr.ErrPersistence,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMock(t)
			tt.setup(mock)

			err := tt.call(NewRepository(mock, testutil.NewNullLogger()))
			if tt.expectedErr != nil {
				if !ierr.Is(err, tt.expectedErr) {
					t.Fatalf("expected %s, got %v", tt.expectedErr.Code, err)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unmet expectations: %v", err)
			}
		})
	}
}
