// Package dgii delivers signed e-CF documents to the Dominican tax authority.
package dgii

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"3tcapital/ecfcore/internal/core/audit"
	"3tcapital/ecfcore/internal/core/invoice"
	ierr "3tcapital/ecfcore/internal/infrastructure/errors"
	ihttp "3tcapital/ecfcore/internal/infrastructure/http"
)

// Config holds the reception client settings.
type Config struct {
	BaseURL            string
	MaxConcurrent      int
	BreakerMaxFailures int
	BreakerFailureRate float64
	BreakerCooldown    time.Duration
}

// Client submits signed documents. It implements invoice.Transmitter and
// never retries; the breaker only short-circuits while the endpoint is down.
type Client struct {
	baseURL string
	http    HTTPClient
	tokens  *TokenManager
	breaker *CircuitBreaker
	limiter *Limiter
	log     *slog.Logger
}

var _ invoice.Transmitter = (*Client)(nil)

func NewClient(cfg Config, httpClient HTTPClient, tokens *TokenManager, log *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    httpClient,
		tokens:  tokens,
		breaker: NewCircuitBreaker(cfg.BreakerMaxFailures, cfg.BreakerFailureRate, cfg.BreakerCooldown),
		limiter: NewLimiter(cfg.MaxConcurrent),
		log:     log,
	}
}

// Breaker exposes the circuit breaker state for health reporting.
func (c *Client) Breaker() *CircuitBreaker {
	return c.breaker
}

// Transmit posts the signed document and returns the authority's track id.
func (c *Client) Transmit(ctx context.Context, req invoice.TransmitRequest) (string, error) {
	if strings.TrimSpace(req.SignedXML) == "" {
		return "", ierr.New("empty signed document").
			WithHint("only signed documents can be transmitted").
			Mark(ierr.ErrValidation)
	}

	ctx = audit.WithSubject(ctx, audit.Subject{TenantID: req.TenantID, FiscalNumber: req.FiscalNumber.String()})

	if err := c.limiter.Acquire(ctx); err != nil {
		return "", errors.Wrap(err, "wait for transmission slot")
	}
	defer c.limiter.Release()

	var trackID string
	err := c.breaker.Execute(func() error {
		token, err := c.tokens.Token(ctx, req.TenantID)
		if err != nil {
			return err
		}
		trackID, err = c.submit(ctx, token, req)
		return err
	})
	if errors.Is(err, ErrBreakerOpen) {
		err = ierr.WithError(err).
			WithHint("tax authority is unavailable, retry later").
			Mark(ierr.ErrTransmission)
	}
	if err != nil {
		c.log.Warn("e-CF transmission failed",
			"tenant_id", req.TenantID,
			"fiscal_number", req.FiscalNumber.String(),
			"breaker", c.breaker.State().String(),
			"code", ierr.CodeOf(err),
			"error", err,
		)
		return "", err
	}

	c.log.Info("e-CF transmitted",
		"tenant_id", req.TenantID,
		"fiscal_number", req.FiscalNumber.String(),
		"track_id", trackID,
	)
	return trackID, nil
}

func (c *Client) submit(ctx context.Context, token string, req invoice.TransmitRequest) (string, error) {
	payload, contentType, err := multipartXML(req.IssuerTaxID+req.FiscalNumber.String()+".xml", req.SignedXML)
	if err != nil {
		return "", transmissionError(err, "build reception form")
	}

	httpReq, err := http.NewRequestWithContext(ihttp.WithOperation(ctx, "SubmitECF"), http.MethodPost, c.baseURL+receptionPath, payload)
	if err != nil {
		return "", transmissionError(err, "create reception request")
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	body, status, err := do(c.http, httpReq)
	if err != nil {
		return "", err
	}
	if status == http.StatusUnauthorized {
		c.tokens.Invalidate(req.TenantID)
		return "", ierr.Newf("reception rejected token for tenant %d", req.TenantID).
			WithHint("tax authority session expired, retry the transmission").
			Mark(ierr.ErrTransmission)
	}
	if status != http.StatusOK && status != http.StatusAccepted {
		return "", statusError(status, body, "document submission")
	}

	var resp receptionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", transmissionError(err, "decode reception response")
	}
	if resp.TrackID == "" {
		reason := resp.Error
		if reason == "" {
			reason = resp.Message
		}
		return "", ierr.Newf("reception returned no track id: %s", reason).
			WithHintf("tax authority did not accept the document: %s", reason).
			Mark(ierr.ErrDocumentRejected)
	}
	return resp.TrackID, nil
}
