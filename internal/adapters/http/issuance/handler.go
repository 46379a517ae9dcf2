// Package issuance exposes invoice issuance and transmission over HTTP.
package issuance

import (
	"context"
	"log/slog"
	"net/http"

	appissuance "3tcapital/ecfcore/internal/application/issuance"
	ctxutil "3tcapital/ecfcore/internal/infrastructure/context"
	httpx "3tcapital/ecfcore/internal/infrastructure/http"
)

// Service is the part of the issuance orchestrator the handler drives.
type Service interface {
	Issue(ctx context.Context, tenantID, invoiceID int64) (*appissuance.IssueResult, error)
	TransmitIssued(ctx context.Context, tenantID, invoiceID int64) (*appissuance.TransmitResult, error)
}

// IdentityInvalidator drops a tenant's cached signing identity.
type IdentityInvalidator interface {
	Invalidate(tenantID int64)
}

// Handler bridges HTTP traffic with the issuance service.
type Handler struct {
	service    Service
	identities IdentityInvalidator
	log        *slog.Logger
}

func NewHandler(service Service, identities IdentityInvalidator, log *slog.Logger) *Handler {
	return &Handler{service: service, identities: identities, log: log}
}

// IssueResponse is the body of a successful issue call. SignedXML is null
// for traditional invoices.
type IssueResponse struct {
	Status       string  `json:"status"`
	FiscalNumber string  `json:"fiscalNumber"`
	SignedXML    *string `json:"signedXml"`
}

// TransmitResponse is the body of a successful transmit call.
type TransmitResponse struct {
	Status  string `json:"status"`
	TrackID string `json:"trackId"`
}

// Issue handles POST /api/v1/tenants/{tenantID}/invoices/{invoiceID}/issue.
func (h *Handler) Issue(w http.ResponseWriter, r *http.Request) {
	tenantID, invoiceID, ok := h.ids(w, r)
	if !ok {
		return
	}

	result, err := h.service.Issue(r.Context(), tenantID, invoiceID)
	if err != nil {
		h.fail(w, r, "issue", tenantID, invoiceID, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, IssueResponse{
		Status:       string(result.Status),
		FiscalNumber: result.FiscalNumber.String(),
		SignedXML:    result.SignedXML,
	}, h.log)
}

// Transmit handles POST /api/v1/tenants/{tenantID}/invoices/{invoiceID}/transmit.
func (h *Handler) Transmit(w http.ResponseWriter, r *http.Request) {
	tenantID, invoiceID, ok := h.ids(w, r)
	if !ok {
		return
	}

	result, err := h.service.TransmitIssued(r.Context(), tenantID, invoiceID)
	if err != nil {
		h.fail(w, r, "transmit", tenantID, invoiceID, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, TransmitResponse{
		Status:  string(result.Status),
		TrackID: result.TrackID,
	}, h.log)
}

// InvalidateIdentity handles DELETE /api/v1/tenants/{tenantID}/signing-identity/cache.
// The next signature for the tenant reloads its certificate container.
func (h *Handler) InvalidateIdentity(w http.ResponseWriter, r *http.Request) {
	tenantID, err := httpx.PathID(r, "tenantID")
	if err != nil {
		httpx.WriteDomainError(w, err, h.log)
		return
	}

	h.identities.Invalidate(tenantID)
	h.log.Info("Signing identity cache invalidated",
		"tenant_id", tenantID,
		"correlation_id", ctxutil.GetCorrelationID(r.Context()),
	)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ids(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	tenantID, err := httpx.PathID(r, "tenantID")
	if err != nil {
		httpx.WriteDomainError(w, err, h.log)
		return 0, 0, false
	}
	invoiceID, err := httpx.PathID(r, "invoiceID")
	if err != nil {
		httpx.WriteDomainError(w, err, h.log)
		return 0, 0, false
	}
	return tenantID, invoiceID, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, tenantID, invoiceID int64, err error) {
	h.log.Warn("Issuance request failed",
		"operation", op,
		"tenant_id", tenantID,
		"invoice_id", invoiceID,
		"correlation_id", ctxutil.GetCorrelationID(r.Context()),
		"error", err,
	)
	httpx.WriteDomainError(w, err, h.log)
}
