package middleware

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"3tcapital/ecfcore/internal/infrastructure/config"
	"3tcapital/ecfcore/internal/testutil"
)

const testIssuer = "https://issuer.example.com"

type jwksFixture struct {
	key    *rsa.PrivateKey
	server *httptest.Server
}

func newJWKSFixture(t *testing.T) *jwksFixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	body, _ := json.Marshal(map[string]any{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": "test-key",
			"alg": "RS256",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}},
	})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	}))
	t.Cleanup(server.Close)
	return &jwksFixture{key: key, server: server}
}

func (f *jwksFixture) token(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = "test-key"
	signed, err := tok.SignedString(f.key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func (f *jwksFixture) authenticator(t *testing.T) *JWTAuthenticator {
	t.Helper()
	auth, err := NewJWTAuthenticator(config.AuthSettings{
		Enabled:     true,
		IssuerURI:   testIssuer,
		JWKSetURI:   f.server.URL,
		ClockSkew:   time.Minute,
		BypassPaths: []string{"/api/v1/health"},
		TenantClaim: "tenant_id",
	}, testutil.NewTestLogger())
	if err != nil {
		t.Fatalf("create authenticator: %v", err)
	}
	t.Cleanup(auth.Close)
	return auth
}

func validClaims(tenant any) jwt.MapClaims {
	return jwt.MapClaims{
		"iss":       testIssuer,
		"sub":       "svc-billing",
		"exp":       time.Now().Add(time.Hour).Unix(),
		"tenant_id": tenant,
	}
}

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestNewJWTAuthenticator_AuthDisabled(t *testing.T) {
	auth, err := NewJWTAuthenticator(config.AuthSettings{Enabled: false}, testutil.NewTestLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w := httptest.NewRecorder()
	auth.Middleware(auth.TenantGuard(http.HandlerFunc(okHandler))).
		ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/tenants/7/sequences/31", nil))
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	// Should not panic
	auth.Close()
}

func TestNewJWTAuthenticator_AuthEnabled_InvalidJWKSetURI(t *testing.T) {
	_, err := NewJWTAuthenticator(config.AuthSettings{
		Enabled:   true,
		IssuerURI: testIssuer,
		JWKSetURI: "invalid-uri",
	}, testutil.NewTestLogger())
	if err == nil {
		t.Fatal("expected error for invalid JWKSetURI")
	}
}

func TestJWTAuthenticator_Middleware(t *testing.T) {
	fixture := newJWKSFixture(t)
	auth := fixture.authenticator(t)
	handler := auth.Middleware(http.HandlerFunc(okHandler))

	expired := validClaims("7")
	expired["exp"] = time.Now().Add(-time.Hour).Unix()
	foreign := validClaims("7")
	foreign["iss"] = "https://someone-else.example.com"
	endless := validClaims("7")
	delete(endless, "exp")

	tests := []struct {
		name       string
		path       string
		header     string
		wantStatus int
	}{
		{name: "bypass path", path: "/api/v1/health", wantStatus: http.StatusOK},
		{name: "missing header", path: "/api/v1/tenants/7/sequences", wantStatus: http.StatusUnauthorized},
		{name: "garbage token", path: "/api/v1/tenants/7/sequences", header: "Bearer invalid.token.here", wantStatus: http.StatusUnauthorized},
		{name: "valid token", path: "/api/v1/tenants/7/sequences", header: "Bearer " + fixture.token(t, validClaims("7")), wantStatus: http.StatusOK},
		{name: "expired token", path: "/api/v1/tenants/7/sequences", header: "Bearer " + fixture.token(t, expired), wantStatus: http.StatusUnauthorized},
		{name: "wrong issuer", path: "/api/v1/tenants/7/sequences", header: "Bearer " + fixture.token(t, foreign), wantStatus: http.StatusUnauthorized},
		{name: "no expiry", path: "/api/v1/tenants/7/sequences", header: "Bearer " + fixture.token(t, endless), wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, w.Code)
			}
		})
	}
}

func TestJWTAuthenticator_StoresToken(t *testing.T) {
	fixture := newJWKSFixture(t)
	auth := fixture.authenticator(t)

	var subject string
	handler := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := TokenFromContext(r.Context())
		if !ok {
			t.Fatal("expected token in context")
		}
		subject, _ = token.Claims.GetSubject()
	}))

	claims := validClaims("7")
	claims["sub"] = "billing-service"
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tenants/7/invoices/1/issue", nil)
	req.Header.Set("Authorization", "Bearer "+fixture.token(t, claims))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if subject != "billing-service" {
		t.Errorf("expected subject billing-service, got %q", subject)
	}
	if _, ok := TokenFromContext(context.Background()); ok {
		t.Error("empty context must not yield a token")
	}
}

func TestJWTAuthenticator_TenantGuard(t *testing.T) {
	fixture := newJWKSFixture(t)
	auth := fixture.authenticator(t)

	router := chi.NewRouter()
	router.Use(auth.Middleware)
	router.With(auth.TenantGuard).Get("/api/v1/tenants/{tenantID}/sequences", okHandler)

	tests := []struct {
		name       string
		tenant     any
		path       string
		wantStatus int
	}{
		{name: "string claim matches", tenant: "7", path: "/api/v1/tenants/7/sequences", wantStatus: http.StatusOK},
		{name: "numeric claim matches", tenant: 7, path: "/api/v1/tenants/7/sequences", wantStatus: http.StatusOK},
		{name: "list claim matches", tenant: []any{"3", 7}, path: "/api/v1/tenants/7/sequences", wantStatus: http.StatusOK},
		{name: "other tenant", tenant: "8", path: "/api/v1/tenants/7/sequences", wantStatus: http.StatusForbidden},
		{name: "claim missing", tenant: nil, path: "/api/v1/tenants/7/sequences", wantStatus: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := validClaims(tt.tenant)
			if tt.tenant == nil {
				delete(claims, "tenant_id")
			}
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			req.Header.Set("Authorization", "Bearer "+fixture.token(t, claims))
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d (%s)", tt.wantStatus, w.Code, w.Body.String())
			}
		})
	}
}

func TestJWTAuthenticator_shouldBypass(t *testing.T) {
	auth, _ := NewJWTAuthenticator(config.AuthSettings{
		BypassPaths: []string{"/api/v1/health", "", "/public"},
	}, testutil.NewTestLogger())

	tests := []struct {
		path     string
		expected bool
	}{
		{"/api/v1/health", true},
		{"/public", true},
		{"/api/v1/tenants/1/sequences", false},
		{"/api/v1/health/deep", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := auth.shouldBypass(tt.path); got != tt.expected {
				t.Errorf("expected shouldBypass(%q)=%v, got %v", tt.path, tt.expected, got)
			}
		})
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name        string
		header      string
		expectedTok string
		expectedErr bool
	}{
		{name: "empty header", header: "", expectedErr: true},
		{name: "no Bearer prefix", header: "token123", expectedErr: true},
		{name: "no space", header: "Bearertoken", expectedErr: true},
		{name: "too many parts", header: "Bearer token extra", expectedErr: true},
		{name: "basic scheme", header: "Basic dXNlcjpwYXNz", expectedErr: true},
		{name: "valid", header: "Bearer token123", expectedTok: "token123"},
		{name: "case insensitive", header: "bEaReR token123", expectedTok: "token123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := extractBearerToken(tt.header)
			if tt.expectedErr {
				if err == nil {
					t.Errorf("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if token != tt.expectedTok {
				t.Errorf("expected token %q, got %q", tt.expectedTok, token)
			}
		})
	}
}
