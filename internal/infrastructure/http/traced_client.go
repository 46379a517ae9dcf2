package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"3tcapital/ecfcore/internal/core/audit"
	ctxutil "3tcapital/ecfcore/internal/infrastructure/context"
	"3tcapital/ecfcore/internal/infrastructure/security"
)

type operationKey struct{}

// WithOperation names the outgoing call for logs and the audit trail.
// Without it the last URL path segment is used.
func WithOperation(ctx context.Context, operation string) context.Context {
	return context.WithValue(ctx, operationKey{}, operation)
}

// TracedClient wraps an HTTP client so that every exchange with a fiscal
// endpoint is logged and, when enabled, written to the audit repository.
// Bodies and headers are sanitized before they leave the process.
type TracedClient struct {
	client       *http.Client
	log          *slog.Logger
	auditRepo    audit.Repository
	provider     string
	auditEnabled bool
	logReqBody   bool
	logRespBody  bool
	maxBodySize  int
	auditTimeout time.Duration
	pending      sync.WaitGroup
}

// TracedClientConfig holds configuration for the traced HTTP client.
type TracedClientConfig struct {
	Timeout         time.Duration
	AuditEnabled    bool
	LogRequestBody  bool
	LogResponseBody bool
	MaxBodySize     int
	MaxConnsPerHost int
	// Transport replaces the pooled transport, mostly for tests.
	Transport http.RoundTripper
}

// NewTracedClient creates a traced client with its own connection pool.
func NewTracedClient(cfg *TracedClientConfig, log *slog.Logger, auditRepo audit.Repository, provider string) *TracedClient {
	if cfg.MaxBodySize == 0 {
		cfg.MaxBodySize = 100 * 1024
	}
	maxConnsPerHost := cfg.MaxConnsPerHost
	if maxConnsPerHost == 0 {
		maxConnsPerHost = 50
	}

	// Header timeout never drops below 60s; the authority is slow under load.
	responseHeaderTimeout := cfg.Timeout
	if responseHeaderTimeout < 60*time.Second {
		responseHeaderTimeout = 60 * time.Second
	}

	transport := cfg.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   maxConnsPerHost,
			MaxConnsPerHost:       maxConnsPerHost,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: responseHeaderTimeout,
			ExpectContinueTimeout: 1 * time.Second,
		}
	}

	return &TracedClient{
		client:       NewClient(&ClientConfig{Timeout: cfg.Timeout, Transport: transport}),
		log:          log,
		auditRepo:    auditRepo,
		provider:     provider,
		auditEnabled: cfg.AuditEnabled,
		logReqBody:   cfg.LogRequestBody,
		logRespBody:  cfg.LogResponseBody,
		maxBodySize:  cfg.MaxBodySize,
		auditTimeout: 10 * time.Second,
	}
}

// Do executes req, logging it and persisting an audit entry in the
// background. The request and response bodies stay readable for the caller.
func (c *TracedClient) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	correlationID := ctxutil.GetCorrelationID(ctx)
	operation := c.operation(req)
	start := time.Now()

	if correlationID != "" {
		req.Header.Set("X-Correlation-ID", correlationID)
	}

	var requestBody []byte
	if req.Body != nil {
		var err error
		requestBody, err = io.ReadAll(req.Body)
		if err != nil {
			c.log.Error("Failed to read request body for tracing", "error", err, "correlation_id", correlationID)
		}
		req.Body.Close()
		req.Body = io.NopCloser(bytes.NewReader(requestBody))
	}

	c.logRequest(correlationID, operation, req, requestBody)

	resp, err := c.client.Do(req)
	duration := time.Since(start)

	var responseBody []byte
	if resp != nil && resp.Body != nil {
		responseBody, _ = io.ReadAll(resp.Body)
		resp.Body.Close()
		resp.Body = io.NopCloser(bytes.NewReader(responseBody))
	}

	c.logResponse(correlationID, operation, req, resp, err, duration, responseBody)

	if !c.auditEnabled || c.auditRepo == nil {
		return resp, err
	}

	if correlationID == "" {
		correlationID = fmt.Sprintf("audit-%d", time.Now().UnixNano())
		c.log.Warn("Missing correlation ID, generated fallback", "fallback_id", correlationID, "operation", operation)
	}

	entry := c.buildEntry(ctx, correlationID, operation, req, resp, err, duration, requestBody, responseBody)

	// The request context ends with the caller, the audit write must not.
	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		defer func() {
			if r := recover(); r != nil {
				c.log.Error("Panic in audit log persistence", "panic", r, "correlation_id", correlationID, "operation", operation)
			}
		}()

		saveCtx, cancel := context.WithTimeout(context.Background(), c.auditTimeout)
		defer cancel()
		c.persist(saveCtx, entry)
	}()

	return resp, err
}

// Close waits for in-flight audit writes.
func (c *TracedClient) Close() {
	c.pending.Wait()
}

func (c *TracedClient) logRequest(correlationID, operation string, req *http.Request, body []byte) {
	attrs := []any{
		"correlation_id", correlationID,
		"provider", c.provider,
		"operation", operation,
		"method", req.Method,
		"url", security.SanitizeURL(req.URL.String()),
	}
	if c.logReqBody && len(body) > 0 {
		attrs = append(attrs, "request_body", security.SanitizeBody(body, c.maxBodySize))
	}
	c.log.Info("provider_request", attrs...)
}

func (c *TracedClient) logResponse(correlationID, operation string, req *http.Request, resp *http.Response, err error, duration time.Duration, body []byte) {
	attrs := []any{
		"correlation_id", correlationID,
		"provider", c.provider,
		"operation", operation,
		"method", req.Method,
		"url", security.SanitizeURL(req.URL.String()),
		"duration_ms", duration.Milliseconds(),
	}

	if err != nil {
		attrs = append(attrs, "error", err.Error())
		c.log.Error("provider_request_failed", attrs...)
		return
	}

	attrs = append(attrs, "status", resp.StatusCode, "response_size_bytes", len(body))
	if c.logRespBody && len(body) > 0 {
		attrs = append(attrs, "response_body", security.SanitizeBody(body, c.maxBodySize))
	}

	switch {
	case resp.StatusCode >= 500:
		c.log.Error("provider_response", attrs...)
	case resp.StatusCode >= 400:
		c.log.Warn("provider_response", attrs...)
	default:
		c.log.Info("provider_response", attrs...)
	}
}

func (c *TracedClient) buildEntry(ctx context.Context, correlationID, operation string, req *http.Request, resp *http.Response, err error, duration time.Duration, requestBody, responseBody []byte) audit.ExchangeLog {
	entry := audit.ExchangeLog{
		CorrelationID:  correlationID,
		Provider:       c.provider,
		Operation:      operation,
		RequestMethod:  req.Method,
		RequestURL:     security.SanitizeURL(req.URL.String()),
		RequestHeaders: security.SanitizeHeaders(req.Header),
		RequestBody:    security.SanitizeBody(requestBody, c.maxBodySize),
		DurationMs:     duration.Milliseconds(),
	}
	if subject, ok := audit.SubjectFrom(ctx); ok {
		tenantID := subject.TenantID
		entry.TenantID = &tenantID
		entry.FiscalNumber = subject.FiscalNumber
	}
	if resp != nil {
		status := resp.StatusCode
		entry.ResponseStatus = &status
		entry.ResponseHeaders = security.SanitizeHeaders(resp.Header)
		entry.ResponseBody = security.SanitizeBody(responseBody, c.maxBodySize)
	}
	if err != nil {
		entry.ErrorMessage = err.Error()
	}
	return entry
}

func (c *TracedClient) persist(ctx context.Context, entry audit.ExchangeLog) {
	if err := c.auditRepo.Save(ctx, entry); err != nil {
		c.log.Error("Failed to persist audit log",
			"error", err,
			"correlation_id", entry.CorrelationID,
			"provider", c.provider,
			"operation", entry.Operation,
			"response_status", entry.ResponseStatus,
			"duration_ms", entry.DurationMs,
		)
		return
	}
	c.log.Debug("Audit log persisted",
		"correlation_id", entry.CorrelationID,
		"provider", c.provider,
		"operation", entry.Operation,
		"fiscal_number", entry.FiscalNumber,
	)
}

// operation prefers the name set with WithOperation, then the last path
// segment, then method and provider.
func (c *TracedClient) operation(req *http.Request) string {
	if op, ok := req.Context().Value(operationKey{}).(string); ok && op != "" {
		return op
	}
	parts := strings.Split(strings.Trim(req.URL.Path, "/"), "/")
	if last := parts[len(parts)-1]; last != "" {
		return strings.ToUpper(last[:1]) + last[1:]
	}
	return fmt.Sprintf("%s_%s", req.Method, c.provider)
}
