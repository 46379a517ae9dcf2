// Package ecf holds the validated value type an e-CF is composed from.
package ecf

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"3tcapital/ecfcore/internal/core/sequence"
	ierr "3tcapital/ecfcore/internal/infrastructure/errors"
)

// Payment method codes.
const (
	PaymentCash   = 1
	PaymentCredit = 2
	PaymentFree   = 3
)

var (
	// DefaultLocation is the issuer's time zone when none is configured.
	// The Dominican Republic keeps UTC-4 all year, so the fixed zone is exact
	// when the zone database is missing.
	DefaultLocation = loadLocation("America/Santo_Domingo", time.FixedZone("AST", -4*60*60))

	hundred = decimal.NewFromInt(100)
	// Tolerance is the largest accepted difference between supplied and
	// computed totals.
	Tolerance = decimal.New(1, -2)
)

// Party identifies the issuer or the recipient.
type Party struct {
	TaxID string
	Name  string
}

// Blank reports whether neither field is set.
func (p Party) Blank() bool {
	return strings.TrimSpace(p.TaxID) == "" && strings.TrimSpace(p.Name) == ""
}

// LineItem is one input line. Amount and tax are derived.
type LineItem struct {
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	TaxRate     decimal.Decimal
}

// Amount is quantity times unit price, rounded to cents.
func (l LineItem) Amount() decimal.Decimal {
	return l.Quantity.Mul(l.UnitPrice).Round(2)
}

// Tax is the line amount times rate/100, rounded to cents.
func (l LineItem) Tax() decimal.Decimal {
	return l.Amount().Mul(l.TaxRate).Div(hundred).Round(2)
}

// Input is the raw data an InvoiceDocument is built from.
type Input struct {
	Issuer        Party
	Recipient     Party
	DocumentType  string
	FiscalNumber  sequence.FiscalNumber
	IssuedAt      time.Time
	ExpiresAt     *time.Time
	PaymentMethod int
	Lines         []LineItem
	// Location is the issuer's time zone. Nil means DefaultLocation.
	Location *time.Location
	Subtotal      decimal.Decimal
	TaxTotal      decimal.Decimal
	Total         decimal.Decimal
}

// Line is a numbered line with its derived amounts.
type Line struct {
	Number      int
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	TaxRate     decimal.Decimal
	Amount      decimal.Decimal
	Tax         decimal.Decimal
}

// InvoiceDocument is a reconciled invoice ready to compose. Build it with
// NewInvoiceDocument.
type InvoiceDocument struct {
	Issuer        Party
	Recipient     Party
	DocumentType  string
	FiscalNumber  sequence.FiscalNumber
	IssuedAt      time.Time
	ExpiresAt     *time.Time
	PaymentMethod int
	Lines         []Line
	Subtotal      decimal.Decimal
	TaxTotal      decimal.Decimal
	Total         decimal.Decimal
	Location      *time.Location
}

// NewInvoiceDocument validates in and returns the document. Line numbers are
// assigned here, 1-based, in input order. Dates are moved into the issuer's
// location, so the calendar day printed and hashed does not depend on the
// zone the caller's time values happen to carry.
func NewInvoiceDocument(in Input) (InvoiceDocument, error) {
	if err := validate(in, true); err != nil {
		return InvoiceDocument{}, err
	}

	loc := in.Location
	if loc == nil {
		loc = DefaultLocation
	}
	var expires *time.Time
	if in.ExpiresAt != nil {
		e := in.ExpiresAt.In(loc)
		expires = &e
	}

	doc := InvoiceDocument{
		Issuer:        trimParty(in.Issuer),
		Recipient:     trimParty(in.Recipient),
		DocumentType:  in.DocumentType,
		FiscalNumber:  in.FiscalNumber,
		IssuedAt:      in.IssuedAt.In(loc),
		ExpiresAt:     expires,
		PaymentMethod: in.PaymentMethod,
		Lines:         make([]Line, 0, len(in.Lines)),
		Subtotal:      in.Subtotal,
		TaxTotal:      in.TaxTotal,
		Total:         in.Total,
		Location:      loc,
	}
	if doc.PaymentMethod == 0 {
		doc.PaymentMethod = PaymentCash
	}
	for i, item := range in.Lines {
		doc.Lines = append(doc.Lines, Line{
			Number:      i + 1,
			Description: strings.TrimSpace(item.Description),
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			TaxRate:     item.TaxRate,
			Amount:      item.Amount(),
			Tax:         item.Tax(),
		})
	}
	return doc, nil
}

// ValidateDraft runs every check except the fiscal number ones, so data errors
// surface before a number is consumed.
func ValidateDraft(in Input) error {
	return validate(in, false)
}

// Reconcile re-checks the totals of an already built document.
func (d InvoiceDocument) Reconcile() error {
	if len(d.Lines) == 0 {
		return invalid([]string{"invoice has no lines"})
	}
	subtotal, taxTotal := decimal.Zero, decimal.Zero
	for _, l := range d.Lines {
		subtotal = subtotal.Add(l.Amount)
		taxTotal = taxTotal.Add(l.Tax)
	}
	if problems := reconcile(subtotal, taxTotal, d.Subtotal, d.TaxTotal, d.Total); len(problems) > 0 {
		return invalid(problems)
	}
	return nil
}

func validate(in Input, requireNumber bool) error {
	var problems []string

	if strings.TrimSpace(in.Issuer.TaxID) == "" {
		problems = append(problems, "issuer tax id is required")
	}
	if strings.TrimSpace(in.Issuer.Name) == "" {
		problems = append(problems, "issuer name is required")
	}
	if in.DocumentType != sequence.TypeConsumer || !in.Recipient.Blank() {
		if strings.TrimSpace(in.Recipient.TaxID) == "" {
			problems = append(problems, "recipient tax id is required")
		}
		if strings.TrimSpace(in.Recipient.Name) == "" {
			problems = append(problems, "recipient name is required")
		}
	}

	if !sequence.ValidDocumentType(in.DocumentType) {
		problems = append(problems, fmt.Sprintf("document type %q is not supported", in.DocumentType))
	}
	if requireNumber {
		_, docType, _, err := sequence.ParseFiscalNumber(string(in.FiscalNumber))
		switch {
		case err != nil:
			problems = append(problems, err.Error())
		case docType != in.DocumentType:
			problems = append(problems, fmt.Sprintf("fiscal number %s does not match document type %s", in.FiscalNumber, in.DocumentType))
		}
	}

	if in.IssuedAt.IsZero() {
		problems = append(problems, "issuance date is required")
	} else if in.ExpiresAt != nil && in.ExpiresAt.Before(in.IssuedAt) {
		problems = append(problems, "expiration date is before issuance date")
	}
	if in.PaymentMethod < 0 || in.PaymentMethod > PaymentFree {
		problems = append(problems, fmt.Sprintf("payment method %d is not supported", in.PaymentMethod))
	}

	if len(in.Lines) == 0 {
		problems = append(problems, "invoice has no lines")
		return invalid(problems)
	}

	subtotal, taxTotal := decimal.Zero, decimal.Zero
	for i, l := range in.Lines {
		n := i + 1
		if strings.TrimSpace(l.Description) == "" {
			problems = append(problems, fmt.Sprintf("line %d: description is required", n))
		}
		if !l.Quantity.IsPositive() {
			problems = append(problems, fmt.Sprintf("line %d: quantity must be positive", n))
		}
		if l.UnitPrice.IsNegative() {
			problems = append(problems, fmt.Sprintf("line %d: unit price must not be negative", n))
		}
		if l.TaxRate.IsNegative() || l.TaxRate.GreaterThan(hundred) {
			problems = append(problems, fmt.Sprintf("line %d: tax rate must be between 0 and 100", n))
		}
		subtotal = subtotal.Add(l.Amount())
		taxTotal = taxTotal.Add(l.Tax())
	}

	problems = append(problems, reconcile(subtotal, taxTotal, in.Subtotal, in.TaxTotal, in.Total)...)
	if len(problems) > 0 {
		return invalid(problems)
	}
	return nil
}

func reconcile(subtotal, taxTotal, wantSubtotal, wantTaxTotal, wantTotal decimal.Decimal) []string {
	var problems []string
	if !within(subtotal, wantSubtotal) {
		problems = append(problems, fmt.Sprintf("invoice totals inconsistent: subtotal %s, lines sum to %s", wantSubtotal.StringFixed(2), subtotal.StringFixed(2)))
	}
	if !within(taxTotal, wantTaxTotal) {
		problems = append(problems, fmt.Sprintf("invoice totals inconsistent: tax total %s, line taxes sum to %s", wantTaxTotal.StringFixed(2), taxTotal.StringFixed(2)))
	}
	if !within(wantSubtotal.Add(wantTaxTotal), wantTotal) {
		problems = append(problems, fmt.Sprintf("invoice totals inconsistent: total %s, subtotal plus tax is %s", wantTotal.StringFixed(2), wantSubtotal.Add(wantTaxTotal).StringFixed(2)))
	}
	return problems
}

func within(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Tolerance)
}

func invalid(problems []string) error {
	return ierr.New(strings.Join(problems, "; ")).
		WithHint(strings.Join(problems, "; ")).
		WithReportableDetails(map[string]any{"problems": problems}).
		Mark(ierr.ErrInvalidInvoiceData)
}

func trimParty(p Party) Party {
	return Party{TaxID: strings.TrimSpace(p.TaxID), Name: strings.TrimSpace(p.Name)}
}

// Input converts d back to raw input, dropping derived line fields.
func (d InvoiceDocument) Input() Input {
	lines := make([]LineItem, 0, len(d.Lines))
	for _, l := range d.Lines {
		lines = append(lines, LineItem{
			Description: l.Description,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			TaxRate:     l.TaxRate,
		})
	}
	return Input{
		Issuer:        d.Issuer,
		Recipient:     d.Recipient,
		DocumentType:  d.DocumentType,
		FiscalNumber:  d.FiscalNumber,
		IssuedAt:      d.IssuedAt,
		ExpiresAt:     d.ExpiresAt,
		PaymentMethod: d.PaymentMethod,
		Lines:         lines,
		Subtotal:      d.Subtotal,
		TaxTotal:      d.TaxTotal,
		Total:         d.Total,
		Location:      d.Location,
	}
}

func loadLocation(name string, fallback *time.Location) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return fallback
	}
	return loc
}
