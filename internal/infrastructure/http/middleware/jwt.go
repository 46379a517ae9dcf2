package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"3tcapital/ecfcore/internal/infrastructure/config"
	httperrors "3tcapital/ecfcore/internal/infrastructure/http"
)

const (
	jwksRefreshInterval = 6 * time.Hour
	jwksHTTPTimeout     = 10 * time.Second
)

var acceptedAlgorithms = []string{
	jwt.SigningMethodRS256.Alg(),
	jwt.SigningMethodRS384.Alg(),
	jwt.SigningMethodRS512.Alg(),
	jwt.SigningMethodPS256.Alg(),
	jwt.SigningMethodES256.Alg(),
}

type tokenKey struct{}

// TokenFromContext returns the verified token stored by Middleware.
func TokenFromContext(ctx context.Context) (*jwt.Token, bool) {
	token, ok := ctx.Value(tokenKey{}).(*jwt.Token)
	return token, ok && token != nil
}

// JWTAuthenticator checks bearer tokens against the issuer's JWKS and scopes
// them to the tenant in the route.
type JWTAuthenticator struct {
	cfg    config.AuthSettings
	log    *slog.Logger
	jwks   keyfunc.Keyfunc
	parser *jwt.Parser
	cancel context.CancelFunc
	open   map[string]bool
}

func NewJWTAuthenticator(cfg config.AuthSettings, log *slog.Logger) (*JWTAuthenticator, error) {
	auth := &JWTAuthenticator{cfg: cfg, log: log, open: make(map[string]bool, len(cfg.BypassPaths))}
	for _, path := range cfg.BypassPaths {
		if path != "" {
			auth.open[path] = true
		}
	}
	if !cfg.Enabled {
		return auth, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	jwks, err := keyfunc.NewDefaultOverrideCtx(ctx, []string{cfg.JWKSetURI}, keyfunc.Override{
		RefreshInterval: jwksRefreshInterval,
		HTTPTimeout:     jwksHTTPTimeout,
		RefreshErrorHandlerFunc: func(url string) func(context.Context, error) {
			return func(_ context.Context, err error) {
				log.Error("JWKS refresh failed", "url", url, "error", err)
			}
		},
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("load JWKS from %s: %w", cfg.JWKSetURI, err)
	}

	auth.jwks = jwks
	auth.cancel = cancel
	auth.parser = jwt.NewParser(
		jwt.WithIssuer(cfg.IssuerURI),
		jwt.WithLeeway(cfg.ClockSkew),
		jwt.WithValidMethods(acceptedAlgorithms),
		jwt.WithExpirationRequired(),
	)
	return auth, nil
}

// Middleware rejects requests without a valid bearer token, except on bypass paths.
func (a *JWTAuthenticator) Middleware(next http.Handler) http.Handler {
	if !a.cfg.Enabled {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.shouldBypass(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		raw, err := extractBearerToken(r.Header.Get("Authorization"))
		if err != nil {
			httperrors.WriteError(w, http.StatusUnauthorized, "authentication required", []string{err.Error()}, a.log)
			return
		}

		token, err := a.parser.Parse(raw, a.jwks.Keyfunc)
		if err != nil || !token.Valid {
			a.log.Warn("Rejected bearer token", "path", r.URL.Path, "error", err)
			httperrors.WriteError(w, http.StatusUnauthorized, "authentication required", []string{"invalid or expired token"}, a.log)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), tokenKey{}, token)))
	})
}

// TenantGuard rejects requests whose token was issued for a different tenant
// than the {tenantID} route parameter. It is a no-op when authentication is
// disabled or the route has no tenant parameter.
func (a *JWTAuthenticator) TenantGuard(next http.Handler) http.Handler {
	if !a.cfg.Enabled || a.cfg.TenantClaim == "" {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant := chi.URLParam(r, "tenantID")
		if tenant == "" {
			next.ServeHTTP(w, r)
			return
		}

		token, _ := TokenFromContext(r.Context())
		if !tokenHasTenant(token, a.cfg.TenantClaim, tenant) {
			a.log.Warn("tenant mismatch", "tenant_id", tenant, "claim", a.cfg.TenantClaim)
			httperrors.WriteError(w, http.StatusForbidden, "tenant not allowed", []string{"token is not valid for tenant " + tenant}, a.log)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Close stops background JWKS refreshers.
func (a *JWTAuthenticator) Close() {
	if a.cancel != nil {
		a.cancel()
	}
}

func (a *JWTAuthenticator) shouldBypass(path string) bool {
	return a.open[path]
}

// tokenHasTenant accepts the claim as a JSON number, a string, or a list of either.
func tokenHasTenant(token *jwt.Token, claim, tenant string) bool {
	if token == nil {
		return false
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return false
	}

	var match func(v any) bool
	match = func(v any) bool {
		switch value := v.(type) {
		case string:
			return value == tenant
		case float64:
			return strconv.FormatFloat(value, 'f', -1, 64) == tenant
		case []any:
			for _, item := range value {
				if match(item) {
					return true
				}
			}
		}
		return false
	}
	return match(claims[claim])
}

func extractBearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("missing Authorization header")
	}

	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid Authorization header format")
	}
	return parts[1], nil
}
