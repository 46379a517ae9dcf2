package middleware

import (
	"context"
	"net/http"
	"time"
)

// RequestTimeout bounds the request context. Handlers pass that context to
// sequence allocation, signing and transmission, so a slow tax authority
// cannot hold a connection past the limit. A non-positive limit disables it.
func RequestTimeout(limit time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), limit)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
