// Package audit exposes the tax authority exchange trail of a document.
package audit

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	coreaudit "3tcapital/ecfcore/internal/core/audit"
	coresequence "3tcapital/ecfcore/internal/core/sequence"
	ierr "3tcapital/ecfcore/internal/infrastructure/errors"
	httpx "3tcapital/ecfcore/internal/infrastructure/http"
)

// Handler serves stored exchanges. Bodies and headers were sanitized before
// they were written, so they are returned as stored.
type Handler struct {
	repo coreaudit.Repository
	log  *slog.Logger
}

func NewHandler(repo coreaudit.Repository, log *slog.Logger) *Handler {
	return &Handler{repo: repo, log: log}
}

// Exchange is one entry of the trail.
type Exchange struct {
	CorrelationID  string            `json:"correlationId"`
	Operation      string            `json:"operation"`
	Method         string            `json:"method"`
	URL            string            `json:"url"`
	RequestHeaders map[string]string `json:"requestHeaders,omitempty"`
	RequestBody    string            `json:"requestBody,omitempty"`
	Status         *int              `json:"status"`
	ResponseBody   string            `json:"responseBody,omitempty"`
	DurationMs     int64             `json:"durationMs"`
	Error          string            `json:"error,omitempty"`
	At             time.Time         `json:"at"`
}

// Trail handles GET /api/v1/tenants/{tenantID}/documents/{fiscalNumber}/exchanges.
func (h *Handler) Trail(w http.ResponseWriter, r *http.Request) {
	tenantID, err := httpx.PathID(r, "tenantID")
	if err != nil {
		httpx.WriteDomainError(w, err, h.log)
		return
	}
	fiscalNumber := chi.URLParam(r, "fiscalNumber")
	if _, _, _, err := coresequence.ParseFiscalNumber(fiscalNumber); err != nil {
		httpx.WriteDomainError(w, ierr.WithError(err).
			WithHintf("%q is not a fiscal number", fiscalNumber).
			Mark(ierr.ErrValidation), h.log)
		return
	}

	logs, err := h.repo.FindByFiscalNumber(r.Context(), tenantID, fiscalNumber)
	if err != nil {
		httpx.WriteDomainError(w, err, h.log)
		return
	}

	trail := make([]Exchange, 0, len(logs))
	for _, l := range logs {
		trail = append(trail, Exchange{
			CorrelationID:  l.CorrelationID,
			Operation:      l.Operation,
			Method:         l.RequestMethod,
			URL:            l.RequestURL,
			RequestHeaders: l.RequestHeaders,
			RequestBody:    l.RequestBody,
			Status:         l.ResponseStatus,
			ResponseBody:   l.ResponseBody,
			DurationMs:     l.DurationMs,
			Error:          l.ErrorMessage,
			At:             l.CreatedAt,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, trail, h.log)
}
