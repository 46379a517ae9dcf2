// Package sequence exposes fiscal sequence provisioning over HTTP.
package sequence

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	coresequence "3tcapital/ecfcore/internal/core/sequence"
	ierr "3tcapital/ecfcore/internal/infrastructure/errors"
	httpx "3tcapital/ecfcore/internal/infrastructure/http"
)

// Allocator is the part of the sequence allocator the handler drives.
type Allocator interface {
	Scope() coresequence.CounterScope
	Provision(ctx context.Context, seq coresequence.FiscalSequence) error
	Get(ctx context.Context, tenantID int64, documentType string, mode coresequence.Mode) (*coresequence.FiscalSequence, error)
}

// Handler bridges HTTP traffic with the sequence allocator.
type Handler struct {
	allocator Allocator
	log       *slog.Logger
}

func NewHandler(allocator Allocator, log *slog.Logger) *Handler {
	return &Handler{allocator: allocator, log: log}
}

// ProvisionRequest is the body of a provisioning call. Mode must be empty
// under the shared counter scope and E or B under the per-mode scope.
type ProvisionRequest struct {
	DocumentType string     `json:"documentType"`
	Mode         string     `json:"mode,omitempty"`
	NextNumber   uint64     `json:"nextNumber"`
	MaxNumber    *uint64    `json:"maxNumber,omitempty"`
	ValidFrom    *time.Time `json:"validFrom,omitempty"`
	ValidUntil   *time.Time `json:"validUntil,omitempty"`
}

// SequenceResponse describes a provisioned sequence.
type SequenceResponse struct {
	TenantID     int64      `json:"tenantId"`
	DocumentType string     `json:"documentType"`
	Mode         string     `json:"mode,omitempty"`
	Scope        string     `json:"scope"`
	NextNumber   uint64     `json:"nextNumber"`
	MaxNumber    *uint64    `json:"maxNumber,omitempty"`
	ValidFrom    *time.Time `json:"validFrom,omitempty"`
	ValidUntil   *time.Time `json:"validUntil,omitempty"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Provision handles POST /api/v1/tenants/{tenantID}/sequences.
func (h *Handler) Provision(w http.ResponseWriter, r *http.Request) {
	tenantID, err := httpx.PathID(r, "tenantID")
	if err != nil {
		httpx.WriteDomainError(w, err, h.log)
		return
	}

	var body ProvisionRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		httpx.WriteDomainError(w, ierr.WithError(err).
			WithHint("request body is not a valid sequence").
			Mark(ierr.ErrValidation), h.log)
		return
	}

	seq := coresequence.FiscalSequence{
		TenantID:     tenantID,
		DocumentType: strings.TrimSpace(body.DocumentType),
		Mode:         coresequence.Mode(strings.ToUpper(strings.TrimSpace(body.Mode))),
		NextNumber:   body.NextNumber,
		MaxNumber:    body.MaxNumber,
		ValidFrom:    body.ValidFrom,
		ValidUntil:   body.ValidUntil,
	}
	if err := h.allocator.Provision(r.Context(), seq); err != nil {
		httpx.WriteDomainError(w, err, h.log)
		return
	}

	h.log.Info("Fiscal sequence provisioned",
		"tenant_id", tenantID,
		"document_type", seq.DocumentType,
		"mode", string(seq.Mode),
		"next_number", seq.NextNumber,
	)

	stored, err := h.allocator.Get(r.Context(), tenantID, seq.DocumentType, seq.Mode)
	if err != nil {
		httpx.WriteDomainError(w, err, h.log)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, h.response(stored), h.log)
}

// Get handles GET /api/v1/tenants/{tenantID}/sequences/{documentType}. Under
// the per-mode scope the ?mode= query parameter selects the counter.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID, err := httpx.PathID(r, "tenantID")
	if err != nil {
		httpx.WriteDomainError(w, err, h.log)
		return
	}
	documentType := chi.URLParam(r, "documentType")
	if !coresequence.ValidDocumentType(documentType) {
		httpx.WriteDomainError(w, ierr.Newf("unknown document type %q", documentType).
			WithHintf("document type %q is not supported", documentType).
			Mark(ierr.ErrValidation), h.log)
		return
	}

	mode := coresequence.Mode(strings.ToUpper(r.URL.Query().Get("mode")))
	if h.allocator.Scope() == coresequence.ScopePerMode && !mode.Valid() {
		httpx.WriteDomainError(w, ierr.Newf("mode %q", mode).
			WithHint("sequences are kept per issuance mode, pass mode=E or mode=B").
			Mark(ierr.ErrValidation), h.log)
		return
	}

	seq, err := h.allocator.Get(r.Context(), tenantID, documentType, mode)
	if err != nil {
		httpx.WriteDomainError(w, err, h.log)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, h.response(seq), h.log)
}

func (h *Handler) response(seq *coresequence.FiscalSequence) SequenceResponse {
	return SequenceResponse{
		TenantID:     seq.TenantID,
		DocumentType: seq.DocumentType,
		Mode:         string(seq.Mode),
		Scope:        string(h.allocator.Scope()),
		NextNumber:   seq.NextNumber,
		MaxNumber:    seq.MaxNumber,
		ValidFrom:    seq.ValidFrom,
		ValidUntil:   seq.ValidUntil,
		UpdatedAt:    seq.UpdatedAt,
	}
}
