package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"3tcapital/ecfcore/internal/core/audit"
	"3tcapital/ecfcore/internal/infrastructure/database"
)

// Repository implements audit.Repository on PostgreSQL.
type Repository struct {
	pool database.Pool
	log  *slog.Logger
}

// NewRepository creates a new PostgreSQL audit repository. log may be nil.
func NewRepository(pool database.Pool, log *slog.Logger) *Repository {
	return &Repository{pool: pool, log: log}
}

// Save persists one exchange. Audit writes never join the caller's
// transaction so a rolled back issuance still leaves its trail.
func (r *Repository) Save(ctx context.Context, entry audit.ExchangeLog) error {
	requestHeaders, err := marshalHeaders(entry.RequestHeaders)
	if err != nil {
		return fmt.Errorf("marshal request headers: %w", err)
	}
	responseHeaders, err := marshalHeaders(entry.ResponseHeaders)
	if err != nil {
		return fmt.Errorf("marshal response headers: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO provider_audit_log (
			correlation_id, tenant_id, fiscal_number, provider, operation, request_method, request_url,
			request_headers, request_body, response_status, response_headers,
			response_body, duration_ms, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		entry.CorrelationID,
		entry.TenantID,
		nullable(entry.FiscalNumber),
		entry.Provider,
		entry.Operation,
		entry.RequestMethod,
		entry.RequestURL,
		requestHeaders,
		nullable(entry.RequestBody),
		entry.ResponseStatus,
		responseHeaders,
		nullable(entry.ResponseBody),
		entry.DurationMs,
		entry.ErrorMessage,
	)
	if err != nil {
		if r.log != nil {
			r.log.Error("Failed to insert audit log",
				"correlation_id", entry.CorrelationID,
				"provider", entry.Provider,
				"operation", entry.Operation,
				"error", err,
			)
		}
		return database.Wrap(fmt.Errorf("insert audit log: %w", err), "save audit log")
	}

	if r.log != nil {
		r.log.Debug("Audit log saved",
			"correlation_id", entry.CorrelationID,
			"provider", entry.Provider,
			"operation", entry.Operation,
			"response_status", entry.ResponseStatus,
			"duration_ms", entry.DurationMs,
		)
	}
	return nil
}

// FindByFiscalNumber returns every exchange about a document, newest first.
func (r *Repository) FindByFiscalNumber(ctx context.Context, tenantID int64, fiscalNumber string) ([]audit.ExchangeLog, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, correlation_id, tenant_id, fiscal_number, provider, operation, request_method, request_url,
		       request_headers, request_body, response_status, response_headers,
		       response_body, duration_ms, error_message, created_at
		FROM provider_audit_log
		WHERE tenant_id = $1 AND fiscal_number = $2
		ORDER BY created_at DESC, id DESC`,
		tenantID, fiscalNumber,
	)
	if err != nil {
		return nil, database.Wrap(fmt.Errorf("query audit logs: %w", err), "find audit logs")
	}
	defer rows.Close()

	var logs []audit.ExchangeLog
	for rows.Next() {
		var (
			entry                           audit.ExchangeLog
			fiscal, requestBody, respBody   *string
			requestHeaders, responseHeaders []byte
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.CorrelationID,
			&entry.TenantID,
			&fiscal,
			&entry.Provider,
			&entry.Operation,
			&entry.RequestMethod,
			&entry.RequestURL,
			&requestHeaders,
			&requestBody,
			&entry.ResponseStatus,
			&responseHeaders,
			&respBody,
			&entry.DurationMs,
			&entry.ErrorMessage,
			&entry.CreatedAt,
		); err != nil {
			return nil, database.Wrap(fmt.Errorf("scan audit log: %w", err), "find audit logs")
		}

		if err := unmarshalHeaders(requestHeaders, &entry.RequestHeaders); err != nil {
			return nil, fmt.Errorf("unmarshal request headers: %w", err)
		}
		if err := unmarshalHeaders(responseHeaders, &entry.ResponseHeaders); err != nil {
			return nil, fmt.Errorf("unmarshal response headers: %w", err)
		}
		entry.FiscalNumber = deref(fiscal)
		entry.RequestBody = deref(requestBody)
		entry.ResponseBody = deref(respBody)

		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, database.Wrap(fmt.Errorf("iterate audit logs: %w", err), "find audit logs")
	}
	return logs, nil
}

func marshalHeaders(h map[string]string) ([]byte, error) {
	if h == nil {
		h = map[string]string{}
	}
	return json.Marshal(h)
}

func unmarshalHeaders(raw []byte, dst *map[string]string) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
