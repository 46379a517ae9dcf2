package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"3tcapital/ecfcore/internal/core/sequence"
	"3tcapital/ecfcore/internal/infrastructure/database"

	"github.com/jackc/pgx/v5"
)

const sequenceColumns = `tenant_id, document_type, mode, next_number, valid_from, valid_until, max_number, created_at, updated_at`

// Repository implements sequence.Repository on PostgreSQL. Allocation holds a
// SELECT ... FOR UPDATE lock on the single (tenant, type, mode) row.
type Repository struct {
	pool database.Pool
	log  *slog.Logger
}

// NewRepository creates a new PostgreSQL sequence repository.
func NewRepository(pool database.Pool, log *slog.Logger) *Repository {
	return &Repository{pool: pool, log: log}
}

// UpdateLocked locks the row for key, runs fn and persists the new counter in
// the same transaction. It joins a transaction already carried by ctx.
func (r *Repository) UpdateLocked(ctx context.Context, key sequence.Key, fn func(seq *sequence.FiscalSequence) error) error {
	err := database.RunInTx(ctx, r.pool, func(ctx context.Context) error {
		q := database.Conn(ctx, r.pool)

		seq, err := scanSequence(q.QueryRow(ctx, `
			SELECT `+sequenceColumns+`
			FROM fiscal_sequences
			WHERE tenant_id = $1 AND document_type = $2 AND mode = $3
			FOR UPDATE`,
			key.TenantID, key.DocumentType, string(key.Mode),
		))
		if database.IsNoRows(err) {
			return sequence.NotConfigured(key)
		}
		if err != nil {
			return fmt.Errorf("lock fiscal sequence %s: %w", key, err)
		}

		if err := fn(seq); err != nil {
			return err
		}

		tag, err := q.Exec(ctx, `
			UPDATE fiscal_sequences
			SET next_number = $4, updated_at = now()
			WHERE tenant_id = $1 AND document_type = $2 AND mode = $3`,
			key.TenantID, key.DocumentType, string(key.Mode), int64(seq.NextNumber),
		)
		if err != nil {
			return fmt.Errorf("advance fiscal sequence %s: %w", key, err)
		}
		if tag.RowsAffected() != 1 {
			return fmt.Errorf("advance fiscal sequence %s: %d rows affected", key, tag.RowsAffected())
		}
		return nil
	})
	if err != nil {
		return database.Wrap(err, "update fiscal sequence")
	}

	if r.log != nil {
		r.log.Debug("Fiscal sequence advanced", "sequence", key.String())
	}
	return nil
}

// Get returns the row for key without locking it.
func (r *Repository) Get(ctx context.Context, key sequence.Key) (*sequence.FiscalSequence, error) {
	seq, err := scanSequence(database.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+sequenceColumns+`
		FROM fiscal_sequences
		WHERE tenant_id = $1 AND document_type = $2 AND mode = $3`,
		key.TenantID, key.DocumentType, string(key.Mode),
	))
	if database.IsNoRows(err) {
		return nil, sequence.NotConfigured(key)
	}
	if err != nil {
		return nil, database.Wrap(fmt.Errorf("get fiscal sequence %s: %w", key, err), "get fiscal sequence")
	}
	return seq, nil
}

// Create inserts a new sequence row.
func (r *Repository) Create(ctx context.Context, seq sequence.FiscalSequence) error {
	var maxNumber *int64
	if seq.MaxNumber != nil {
		v := int64(*seq.MaxNumber)
		maxNumber = &v
	}

	_, err := database.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO fiscal_sequences (
			tenant_id, document_type, mode, next_number, valid_from, valid_until, max_number
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		seq.TenantID, seq.DocumentType, string(seq.Mode), int64(seq.NextNumber),
		seq.ValidFrom, seq.ValidUntil, maxNumber,
	)
	if database.IsUniqueViolation(err) {
		return sequence.AlreadyExists(seq.Key())
	}
	if err != nil {
		return database.Wrap(fmt.Errorf("insert fiscal sequence %s: %w", seq.Key(), err), "create fiscal sequence")
	}

	if r.log != nil {
		r.log.Info("Fiscal sequence provisioned",
			"tenant_id", seq.TenantID,
			"document_type", seq.DocumentType,
			"mode", string(seq.Mode),
			"next_number", seq.NextNumber,
		)
	}
	return nil
}

func scanSequence(row pgx.Row) (*sequence.FiscalSequence, error) {
	var (
		seq        sequence.FiscalSequence
		mode       string
		nextNumber int64
		maxNumber  *int64
		validFrom  *time.Time
		validUntil *time.Time
	)
	if err := row.Scan(
		&seq.TenantID,
		&seq.DocumentType,
		&mode,
		&nextNumber,
		&validFrom,
		&validUntil,
		&maxNumber,
		&seq.CreatedAt,
		&seq.UpdatedAt,
	); err != nil {
		return nil, err
	}

	seq.Mode = sequence.Mode(mode)
	seq.NextNumber = uint64(nextNumber)
	seq.ValidFrom = validFrom
	seq.ValidUntil = validUntil
	if maxNumber != nil {
		v := uint64(*maxNumber)
		seq.MaxNumber = &v
	}
	return &seq, nil
}
