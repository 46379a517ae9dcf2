// Package postgres keeps a stock ledger whose movements are unique per
// (tenant, reason), which makes deductions idempotent.
package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"3tcapital/ecfcore/internal/infrastructure/database"
	ierr "3tcapital/ecfcore/internal/infrastructure/errors"
)

// Repository implements invoice.Inventory on PostgreSQL.
type Repository struct {
	pool database.Pool
	log  *slog.Logger
}

// NewRepository creates a new PostgreSQL inventory repository.
func NewRepository(pool database.Pool, log *slog.Logger) *Repository {
	return &Repository{pool: pool, log: log}
}

// Deduct records a movement of -quantity for the product and applies it to
// the stock level. A reason that was already recorded is a no-op.
func (r *Repository) Deduct(ctx context.Context, tenantID, productID int64, quantity decimal.Decimal, reason string) error {
	if !quantity.IsPositive() {
		return ierr.Newf("deduct %s of product %d", quantity, productID).
			WithHint("stock deductions must be positive").
			Mark(ierr.ErrValidation)
	}

	applied := false
	err := database.RunInTx(ctx, r.pool, func(ctx context.Context) error {
		q := database.Conn(ctx, r.pool)

		tag, err := q.Exec(ctx, `
			INSERT INTO stock_movements (id, tenant_id, product_id, quantity, reason)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (tenant_id, reason) DO NOTHING`,
			uuid.New(), tenantID, productID, quantity.Neg(), reason,
		)
		if err != nil {
			return fmt.Errorf("record stock movement %q: %w", reason, err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		_, err = q.Exec(ctx, `
			INSERT INTO product_stock (tenant_id, product_id, quantity)
			VALUES ($1, $2, $3)
			ON CONFLICT (tenant_id, product_id)
			DO UPDATE SET quantity = product_stock.quantity + EXCLUDED.quantity, updated_at = now()`,
			tenantID, productID, quantity.Neg(),
		)
		if err != nil {
			return fmt.Errorf("apply stock movement %q: %w", reason, err)
		}
		applied = true
		return nil
	})
	if err != nil {
		return database.Wrap(err, "deduct stock")
	}

	if r.log != nil {
		r.log.Debug("Stock deduction",
			"tenant_id", tenantID,
			"product_id", productID,
			"quantity", quantity.String(),
			"reason", reason,
			"applied", applied,
		)
	}
	return nil
}
