package health

import (
	"log/slog"
	"net/http"

	apphealth "3tcapital/ecfcore/internal/application/health"
	corehealth "3tcapital/ecfcore/internal/core/health"
	httpjson "3tcapital/ecfcore/internal/infrastructure/http"
)

// Handler bridges HTTP traffic with the health application service.
type Handler struct {
	service *apphealth.Service
	log     *slog.Logger
}

func NewHandler(service *apphealth.Service, log *slog.Logger) *Handler {
	return &Handler{service: service, log: log}
}

// Status answers 200 while the service can issue invoices and 503 once a
// critical dependency is unreachable.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	status := h.service.Status(r.Context())

	code := http.StatusOK
	if status.Status == corehealth.StatusDown {
		code = http.StatusServiceUnavailable
	}
	httpjson.WriteJSON(w, code, status, h.log)
}
