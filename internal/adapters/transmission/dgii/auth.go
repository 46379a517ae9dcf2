package dgii

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/singleflight"

	"3tcapital/ecfcore/internal/core/signing"
	"3tcapital/ecfcore/internal/infrastructure/cache"
	ierr "3tcapital/ecfcore/internal/infrastructure/errors"
	ihttp "3tcapital/ecfcore/internal/infrastructure/http"
)

// HTTPClient lets the adapter run on the traced client or a plain one.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// IdentitySource supplies the tenant identity that signs the seed.
type IdentitySource interface {
	Identity(ctx context.Context, tenantID int64) (*signing.Identity, error)
}

// Signer signs the seed document.
type Signer interface {
	Sign(document string, identity *signing.Identity, selector string) (string, error)
}

const defaultTokenTTL = 55 * time.Minute

// TokenManager obtains and caches the per-tenant bearer token. A token is
// earned by fetching a seed, signing it with the tenant's certificate and
// posting it back.
type TokenManager struct {
	baseURL    string
	client     HTTPClient
	identities IdentitySource
	signer     Signer
	skew       time.Duration
	tokens     *cache.TenantCache[string]
	loads      singleflight.Group
	now        func() time.Time
	log        *slog.Logger
}

// NewTokenManager creates a token manager. Tokens are dropped skew before the
// expiry the authority reports.
func NewTokenManager(baseURL string, client HTTPClient, identities IdentitySource, signer Signer, skew time.Duration, log *slog.Logger) *TokenManager {
	return &TokenManager{
		baseURL:    strings.TrimRight(baseURL, "/"),
		client:     client,
		identities: identities,
		signer:     signer,
		skew:       skew,
		tokens:     cache.NewTenantCache[string](defaultTokenTTL),
		now:        time.Now,
		log:        log,
	}
}

// Token returns a valid token for the tenant, authenticating when none is cached.
func (m *TokenManager) Token(ctx context.Context, tenantID int64) (string, error) {
	if token, ok := m.tokens.Get(tenantID); ok {
		return token, nil
	}

	v, err, _ := m.loads.Do(strconv.FormatInt(tenantID, 10), func() (any, error) {
		if token, ok := m.tokens.Get(tenantID); ok {
			return token, nil
		}
		token, ttl, err := m.authenticate(ctx, tenantID)
		if err != nil {
			return "", err
		}
		m.tokens.SetWithTTL(tenantID, token, ttl)
		m.log.Debug("DGII token cached", "tenant_id", tenantID, "ttl", ttl)
		return token, nil
	})
	if err != nil {
		m.log.Warn("DGII authentication failed", "tenant_id", tenantID, "code", ierr.CodeOf(err), "error", err)
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached token, forcing authentication on next use.
func (m *TokenManager) Invalidate(tenantID int64) {
	m.tokens.Delete(tenantID)
}

func (m *TokenManager) authenticate(ctx context.Context, tenantID int64) (string, time.Duration, error) {
	identity, err := m.identities.Identity(ctx, tenantID)
	if err != nil {
		return "", 0, err
	}

	seed, err := m.fetchSeed(ctx)
	if err != nil {
		return "", 0, err
	}

	signed, err := m.signer.Sign(seed, identity, "")
	if err != nil {
		return "", 0, err
	}

	return m.validateSeed(ctx, signed)
}

func (m *TokenManager) fetchSeed(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ihttp.WithOperation(ctx, "GetSeed"), http.MethodGet, m.baseURL+seedPath, nil)
	if err != nil {
		return "", transmissionError(err, "create seed request")
	}
	req.Header.Set("Accept", "application/xml")

	body, status, err := do(m.client, req)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", statusError(status, body, "seed request")
	}

	var seed seedResponse
	if err := xml.Unmarshal(body, &seed); err != nil {
		return "", ierr.WithError(fmt.Errorf("decode seed: %w", err)).
			WithHint("tax authority returned an unreadable seed").
			Mark(ierr.ErrTransmission)
	}
	if seed.Value == "" {
		return "", ierr.New("seed has no value").
			WithHint("tax authority returned an unreadable seed").
			Mark(ierr.ErrTransmission)
	}
	return string(body), nil
}

func (m *TokenManager) validateSeed(ctx context.Context, signedSeed string) (string, time.Duration, error) {
	payload, contentType, err := multipartXML("semilla.xml", signedSeed)
	if err != nil {
		return "", 0, transmissionError(err, "build seed form")
	}

	req, err := http.NewRequestWithContext(ihttp.WithOperation(ctx, "ValidateSeed"), http.MethodPost, m.baseURL+validatePath, payload)
	if err != nil {
		return "", 0, transmissionError(err, "create validate request")
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	body, status, err := do(m.client, req)
	if err != nil {
		return "", 0, err
	}
	if status != http.StatusOK {
		return "", 0, statusError(status, body, "seed validation")
	}

	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.Token == "" {
		return "", 0, ierr.New("seed validation returned no token").
			WithHint("tax authority did not issue a token").
			Mark(ierr.ErrTransmission)
	}

	ttl := defaultTokenTTL
	if expires, ok := parseExpiry(resp.Expires); ok {
		ttl = expires.Sub(m.now())
	}
	ttl -= m.skew
	if ttl <= 0 {
		// Expired on arrival; use it once without caching.
		ttl = time.Nanosecond
	}
	return resp.Token, ttl, nil
}

// multipartXML wraps document as the single file of a form.
func multipartXML(filename, document string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(formFileField, filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.WriteString(part, document); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// do executes req and reads the whole body. Transport failures are marked as
// endpoint failures; callers judge the status.
func do(client HTTPClient, req *http.Request) ([]byte, int, error) {
	resp, err := client.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, 0, errors.Wrap(ctxErr, "dgii request")
		}
		return nil, 0, ierr.WithError(errors.Mark(fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err), errEndpointDown)).
			WithHint("tax authority unreachable, retry later").
			Mark(ierr.ErrTransmission)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, ierr.WithError(errors.Mark(fmt.Errorf("read response: %w", err), errEndpointDown)).
			Mark(ierr.ErrTransmission)
	}
	return body, resp.StatusCode, nil
}

// statusError classifies a non-success answer. 5xx counts against the breaker
// and, like 408 and 429, means retry later. Any other status is a rejection
// that resending the same document will not change.
func statusError(status int, body []byte, what string) error {
	err := fmt.Errorf("%s failed with status %d", what, status)
	detail := strings.TrimSpace(string(body))
	if len(detail) > 512 {
		detail = detail[:512]
	}
	details := map[string]any{"status": status, "response": detail}

	switch {
	case status >= http.StatusInternalServerError:
		return ierr.WithError(errors.Mark(err, errEndpointDown)).
			WithHintf("tax authority unavailable during %s (status %d), retry later", what, status).
			WithReportableDetails(details).
			Mark(ierr.ErrTransmission)
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
		return ierr.WithError(err).
			WithHintf("tax authority is busy (status %d), retry later", status).
			WithReportableDetails(details).
			Mark(ierr.ErrTransmission)
	default:
		return ierr.WithError(err).
			WithHintf("tax authority rejected the %s (status %d)", what, status).
			WithReportableDetails(details).
			Mark(ierr.ErrDocumentRejected)
	}
}

func transmissionError(err error, what string) error {
	return ierr.WithError(fmt.Errorf("%s: %w", what, err)).Mark(ierr.ErrTransmission)
}
