// Package invoice holds the invoice record the issuance workflow drives
// through its states, and the ports to the collaborators it coordinates.
package invoice

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"3tcapital/ecfcore/internal/core/ecf"
	"3tcapital/ecfcore/internal/core/sequence"
)

// Line is a persisted invoice line. ProductID is set for stocked products.
type Line struct {
	ProductID   *int64
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	TaxRate     decimal.Decimal
}

// Invoice is the persisted invoice with the fields issuance reads and writes.
type Invoice struct {
	ID                int64
	TenantID          int64
	DocumentType      string
	Electronic        bool
	Status            Status
	FiscalNumber      sequence.FiscalNumber
	Issuer            ecf.Party
	Recipient         ecf.Party
	PaymentMethod     int
	IssuedAt          time.Time
	ExpiresAt         *time.Time
	Lines             []Line
	Subtotal          decimal.Decimal
	TaxTotal          decimal.Decimal
	Total             decimal.Decimal
	SignedXML         string
	SecurityCode      string
	TrackID           string
	InventoryDeducted bool
	NumberedAt        *time.Time
	SignedAt          *time.Time
	SentAt            *time.Time
	UpdatedAt         time.Time
}

// Mode returns the issuance mode of the invoice.
func (i *Invoice) Mode() sequence.Mode {
	return sequence.ModeFor(i.Electronic)
}

// Input converts the invoice into composer input.
func (i *Invoice) Input() ecf.Input {
	lines := make([]ecf.LineItem, 0, len(i.Lines))
	for _, l := range i.Lines {
		lines = append(lines, ecf.LineItem{
			Description: l.Description,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			TaxRate:     l.TaxRate,
		})
	}
	return ecf.Input{
		Issuer:        i.Issuer,
		Recipient:     i.Recipient,
		DocumentType:  i.DocumentType,
		FiscalNumber:  i.FiscalNumber,
		IssuedAt:      i.IssuedAt,
		ExpiresAt:     i.ExpiresAt,
		PaymentMethod: i.PaymentMethod,
		Lines:         lines,
		Subtotal:      i.Subtotal,
		TaxTotal:      i.TaxTotal,
		Total:         i.Total,
	}
}

// DeductionReason is the idempotency key of the stock movement for line n
// (1-based).
func (i *Invoice) DeductionReason(n int) string {
	return fmt.Sprintf("invoice:%d:line:%d", i.ID, n)
}
