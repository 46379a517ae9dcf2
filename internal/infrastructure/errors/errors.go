// Package errors defines the typed failures of the issuance core. Callers match
// them with Is and branch on Kind to tell "retry later" from "fix configuration"
// from "fix data".
package errors

import (
	"fmt"
	"net/http"

	"github.com/cockroachdb/errors"
)

// Kind groups sentinels by what the caller has to do about them.
type Kind string

const (
	KindConfiguration Kind = "configuration"
	KindValidity      Kind = "validity"
	KindData          Kind = "data"
	KindCrypto        Kind = "crypto"
	KindTransient     Kind = "transient"
	KindRejected      Kind = "rejected"
	KindNotFound      Kind = "not_found"
	KindConflict      Kind = "conflict"
	KindInternal      Kind = "internal"
)

const (
	CodeSequenceNotConfigured    = "sequence_not_configured"
	CodeSequenceNotYetActive     = "sequence_not_yet_active"
	CodeSequenceExpired          = "sequence_expired"
	CodeSequenceExhausted        = "sequence_exhausted"
	CodeSequenceAlreadyExists    = "sequence_already_exists"
	CodeCertificateNotConfigured = "certificate_not_configured"
	CodeMalformedContainer       = "malformed_container"
	CodeInvalidInvoiceData       = "invalid_invoice_data"
	CodeValidation               = "validation_error"
	CodeDecryptionFailed         = "decryption_failed"
	CodeIdentityNotFound         = "identity_not_found"
	CodeSigningFailed            = "signing_failed"
	CodeSignatureInvalid         = "signature_invalid"
	CodePersistence              = "persistence_error"
	CodeTransmission             = "transmission_error"
	CodeDocumentRejected         = "document_rejected"
	CodeInvoiceNotFound          = "invoice_not_found"
	CodeNotFound                 = "not_found"
	CodeInvalidTransition        = "invalid_transition"
	CodeDuplicateFiscalNumber    = "duplicate_fiscal_number"
	CodeInternal                 = "internal_error"
)

// Error is a sentinel. Concrete failures are produced by marking a cause with
// one of the package level values through the builder.
type Error struct {
	Code    string
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newSentinel(code string, kind Kind, message string) *Error {
	return &Error{Code: code, Kind: kind, Message: message}
}

var (
	ErrSequenceNotConfigured    = newSentinel(CodeSequenceNotConfigured, KindConfiguration, "fiscal sequence not configured")
	ErrCertificateNotConfigured = newSentinel(CodeCertificateNotConfigured, KindConfiguration, "signing certificate not configured")
	ErrMalformedContainer       = newSentinel(CodeMalformedContainer, KindConfiguration, "malformed PKCS#12 container")

	ErrSequenceNotYetActive = newSentinel(CodeSequenceNotYetActive, KindValidity, "fiscal sequence not yet active")
	ErrSequenceExpired      = newSentinel(CodeSequenceExpired, KindValidity, "fiscal sequence expired")
	ErrSequenceExhausted    = newSentinel(CodeSequenceExhausted, KindValidity, "fiscal sequence exhausted")

	ErrInvalidInvoiceData = newSentinel(CodeInvalidInvoiceData, KindData, "invalid invoice data")
	ErrValidation         = newSentinel(CodeValidation, KindData, "validation error")

	ErrDecryptionFailed = newSentinel(CodeDecryptionFailed, KindCrypto, "PKCS#12 decryption failed")
	ErrIdentityNotFound = newSentinel(CodeIdentityNotFound, KindCrypto, "signing identity not found in container")
	ErrSigningFailed    = newSentinel(CodeSigningFailed, KindCrypto, "document signing failed")
	ErrSignatureInvalid = newSentinel(CodeSignatureInvalid, KindCrypto, "signature verification failed")

	ErrPersistence  = newSentinel(CodePersistence, KindTransient, "persistence error")
	ErrTransmission = newSentinel(CodeTransmission, KindTransient, "transmission error")

	ErrDocumentRejected = newSentinel(CodeDocumentRejected, KindRejected, "document rejected by the tax authority")

	ErrInvoiceNotFound = newSentinel(CodeInvoiceNotFound, KindNotFound, "invoice not found")
	ErrNotFound        = newSentinel(CodeNotFound, KindNotFound, "resource not found")

	ErrInvalidTransition     = newSentinel(CodeInvalidTransition, KindConflict, "invalid invoice state transition")
	ErrSequenceAlreadyExists = newSentinel(CodeSequenceAlreadyExists, KindConflict, "fiscal sequence already exists")
	ErrDuplicateFiscalNumber = newSentinel(CodeDuplicateFiscalNumber, KindConflict, "fiscal number already assigned")

	sentinels = []*Error{
		ErrSequenceNotConfigured, ErrCertificateNotConfigured, ErrMalformedContainer,
		ErrSequenceNotYetActive, ErrSequenceExpired, ErrSequenceExhausted,
		ErrInvalidInvoiceData, ErrValidation,
		ErrDecryptionFailed, ErrIdentityNotFound, ErrSigningFailed, ErrSignatureInvalid,
		ErrPersistence, ErrTransmission,
		ErrDocumentRejected,
		ErrInvoiceNotFound, ErrNotFound,
		ErrInvalidTransition, ErrSequenceAlreadyExists, ErrDuplicateFiscalNumber,
	}

	statusByKind = map[Kind]int{
		KindConfiguration: http.StatusUnprocessableEntity,
		KindValidity:      http.StatusUnprocessableEntity,
		KindData:          http.StatusBadRequest,
		KindCrypto:        http.StatusUnprocessableEntity,
		KindTransient:     http.StatusServiceUnavailable,
		KindRejected:      http.StatusUnprocessableEntity,
		KindNotFound:      http.StatusNotFound,
		KindConflict:      http.StatusConflict,
		KindInternal:      http.StatusInternalServerError,
	}
)

// Is reports whether err carries the reference mark anywhere in its chain.
func Is(err, reference error) bool {
	return errors.Is(err, reference)
}

// Sentinel returns the first sentinel err is marked with, or nil.
func Sentinel(err error) *Error {
	if err == nil {
		return nil
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s
		}
	}
	return nil
}

// KindOf classifies err. Unmarked errors are internal.
func KindOf(err error) Kind {
	if s := Sentinel(err); s != nil {
		return s.Kind
	}
	return KindInternal
}

// CodeOf returns the machine readable code of err.
func CodeOf(err error) string {
	if s := Sentinel(err); s != nil {
		return s.Code
	}
	return CodeInternal
}

// IsRetryable reports whether the caller may retry the same request unchanged.
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransient
}

// HTTPStatus maps err to a response status.
func HTTPStatus(err error) int {
	return statusByKind[KindOf(err)]
}

// UserMessage returns the hints attached to err, falling back to the sentinel
// message. Internal causes never leak through it.
func UserMessage(err error) string {
	if hints := errors.FlattenHints(err); hints != "" {
		return hints
	}
	if s := Sentinel(err); s != nil {
		return s.Message
	}
	return "internal error"
}

// Details returns the reportable details attached with WithReportableDetails.
func Details(err error) []string {
	return errors.GetAllDetails(err)
}
