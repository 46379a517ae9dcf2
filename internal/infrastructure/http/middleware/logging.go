package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	ctxutil "3tcapital/ecfcore/internal/infrastructure/context"
)

// CorrelationHeader echoes the correlation ID back to the caller so a failed
// issuance can be matched with the audit trail.
const CorrelationHeader = "X-Correlation-ID"

// RequestLogger logs every request once it completes and seeds the context
// with a correlation ID: the chi request ID when present, a fresh UUID
// otherwise. 5xx responses log at error and 4xx at warn.
func RequestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ctx := r.Context()
			if requestID := chimw.GetReqID(ctx); requestID != "" {
				ctx = ctxutil.WithCorrelationID(ctx, requestID)
			}
			ctx, correlationID := ctxutil.EnsureCorrelationID(ctx)
			w.Header().Set(CorrelationHeader, correlationID)

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"duration_ms", time.Since(start).Milliseconds(),
				"bytes", ww.BytesWritten(),
				"correlation_id", correlationID,
			}
			if rctx := chi.RouteContext(ctx); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					attrs = append(attrs, "route", pattern)
				}
				if tenant := rctx.URLParam("tenantID"); tenant != "" {
					attrs = append(attrs, "tenant_id", tenant)
				}
			}

			switch {
			case status >= 500:
				log.Error("HTTP request", attrs...)
			case status >= 400:
				log.Warn("HTTP request", attrs...)
			default:
				log.Debug("HTTP request", attrs...)
			}
		})
	}
}
