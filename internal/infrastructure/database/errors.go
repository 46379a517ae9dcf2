package database

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	ierr "3tcapital/ecfcore/internal/infrastructure/errors"
)

const uniqueViolation = "23505"

// IsNoRows reports whether err means the query matched nothing.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// IsUniqueViolation reports whether err is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// Wrap marks an unclassified storage failure as a transient persistence
// error. Errors that already carry a sentinel pass through unchanged.
func Wrap(err error, op string) error {
	if err == nil || ierr.Sentinel(err) != nil {
		return err
	}
	return ierr.WithError(err).
		WithMessage(op).
		WithHint("temporary storage failure, retry later").
		Mark(ierr.ErrPersistence)
}
