package ecf

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"3tcapital/ecfcore/internal/core/sequence"
)

// DateLayout is the dd-MM-yyyy layout used for every date in the document.
const DateLayout = "02-01-2006"

// SecurityCodeLength is the number of hex characters kept from the digest.
const SecurityCodeLength = 6

// SecurityCode derives the short verification token printed on the invoice.
// It is a tax authority convention, not a signature.
func SecurityCode(issuerTaxID string, number sequence.FiscalNumber, total decimal.Decimal, issuedAt time.Time) string {
	var b strings.Builder
	b.WriteString(issuerTaxID)
	b.WriteString(string(number))
	b.WriteString(total.StringFixed(2))
	b.WriteString(issuedAt.Format(DateLayout))

	sum := sha256.Sum256([]byte(b.String()))
	return strings.ToUpper(hex.EncodeToString(sum[:])[:SecurityCodeLength])
}

// SecurityCode returns the security code of d.
func (d InvoiceDocument) SecurityCode() string {
	return SecurityCode(d.Issuer.TaxID, d.FiscalNumber, d.Total, d.IssuedAt)
}

// VerificationURL builds the QR payload. Parameters keep a fixed order so the
// output is reproducible.
func (d InvoiceDocument) VerificationURL(base string) string {
	params := []struct{ key, value string }{
		{"RncEmisor", d.Issuer.TaxID},
		{"ENCF", string(d.FiscalNumber)},
		{"MontoTotal", d.Total.StringFixed(2)},
		{"CodigoSeguridad", d.SecurityCode()},
	}

	var b strings.Builder
	b.WriteString(base)
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	for _, p := range params {
		b.WriteString(sep)
		b.WriteString(p.key)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.value))
		sep = "&"
	}
	return b.String()
}
