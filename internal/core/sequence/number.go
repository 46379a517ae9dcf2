package sequence

import (
	"fmt"
	"strconv"
)

// Mode is the issuance mode encoded as the first letter of a fiscal number.
type Mode string

const (
	ModeElectronic  Mode = "E"
	ModeTraditional Mode = "B"
)

// ModeFor returns the prefix for an electronic or traditional document.
func ModeFor(electronic bool) Mode {
	if electronic {
		return ModeElectronic
	}
	return ModeTraditional
}

func (m Mode) Valid() bool {
	return m == ModeElectronic || m == ModeTraditional
}

// Document type codes.
const (
	TypeFiscalCredit    = "31"
	TypeConsumer        = "32"
	TypeDebitNote       = "33"
	TypeCreditNote      = "34"
	TypePurchases       = "41"
	TypeMinorExpenses   = "43"
	TypeSpecialRegime   = "44"
	TypeGovernmental    = "45"
	TypeExports         = "46"
	TypeForeignPayments = "47"
)

var documentTypes = map[string]string{
	TypeFiscalCredit:    "Factura de Crédito Fiscal",
	TypeConsumer:        "Factura de Consumo",
	TypeDebitNote:       "Nota de Débito",
	TypeCreditNote:      "Nota de Crédito",
	TypePurchases:       "Compras",
	TypeMinorExpenses:   "Gastos Menores",
	TypeSpecialRegime:   "Regímenes Especiales",
	TypeGovernmental:    "Gubernamental",
	TypeExports:         "Exportaciones",
	TypeForeignPayments: "Pagos al Exterior",
}

// ValidDocumentType reports whether code is a known two digit type code.
func ValidDocumentType(code string) bool {
	_, ok := documentTypes[code]
	return ok
}

// DocumentTypeName returns the legal name of a document type.
func DocumentTypeName(code string) string {
	return documentTypes[code]
}

const (
	counterDigits = 10
	numberLength  = 1 + 2 + counterDigits
)

// MaxCounter is the largest counter that fits the ten digit field.
const MaxCounter uint64 = 9_999_999_999

// FiscalNumber is a formatted NCF / e-NCF such as E310000000001.
type FiscalNumber string

// FormatFiscalNumber renders mode, type and counter. The counter must be in
// 1..MaxCounter.
func FormatFiscalNumber(mode Mode, documentType string, counter uint64) (FiscalNumber, error) {
	if !mode.Valid() {
		return "", fmt.Errorf("invalid issuance mode %q", mode)
	}
	if !ValidDocumentType(documentType) {
		return "", fmt.Errorf("invalid document type %q", documentType)
	}
	if counter == 0 || counter > MaxCounter {
		return "", fmt.Errorf("counter %d outside 1..%d", counter, MaxCounter)
	}
	return FiscalNumber(fmt.Sprintf("%s%s%0*d", mode, documentType, counterDigits, counter)), nil
}

// ParseFiscalNumber splits a fiscal number into its parts.
func ParseFiscalNumber(s string) (Mode, string, uint64, error) {
	if len(s) != numberLength {
		return "", "", 0, fmt.Errorf("fiscal number %q must have %d characters", s, numberLength)
	}
	mode := Mode(s[:1])
	if !mode.Valid() {
		return "", "", 0, fmt.Errorf("fiscal number %q has invalid prefix", s)
	}
	documentType := s[1:3]
	if !ValidDocumentType(documentType) {
		return "", "", 0, fmt.Errorf("fiscal number %q has invalid document type", s)
	}
	counter, err := strconv.ParseUint(s[3:], 10, 64)
	if err != nil || counter == 0 {
		return "", "", 0, fmt.Errorf("fiscal number %q has invalid counter", s)
	}
	return mode, documentType, counter, nil
}

func (n FiscalNumber) String() string {
	return string(n)
}

// Mode returns the prefix letter.
func (n FiscalNumber) Mode() Mode {
	if n == "" {
		return ""
	}
	return Mode(n[:1])
}

// DocumentType returns the two digit type code, or "" for malformed numbers.
func (n FiscalNumber) DocumentType() string {
	if len(n) < 3 {
		return ""
	}
	return string(n[1:3])
}
