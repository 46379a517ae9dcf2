// Package postgres reads tenant PKCS#12 containers from tenant_certificates.
// A row either holds the container bytes or the key of an object kept in
// object storage.
package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"3tcapital/ecfcore/internal/core/signing"
	"3tcapital/ecfcore/internal/infrastructure/database"
	ierr "3tcapital/ecfcore/internal/infrastructure/errors"
)

// ObjectFetcher loads container bytes stored outside the database.
type ObjectFetcher interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// Store implements signing.CertificateStore.
type Store struct {
	pool    database.Pool
	objects ObjectFetcher
	log     *slog.Logger
}

// NewStore creates a store. objects may be nil when every container lives in
// the database.
func NewStore(pool database.Pool, objects ObjectFetcher, log *slog.Logger) *Store {
	return &Store{pool: pool, objects: objects, log: log}
}

func (s *Store) Container(ctx context.Context, tenantID int64) (signing.Container, error) {
	var (
		data      []byte
		objectKey *string
		password  string
	)
	err := database.Conn(ctx, s.pool).QueryRow(ctx, `
		SELECT container, object_key, password
		FROM tenant_certificates
		WHERE tenant_id = $1`,
		tenantID,
	).Scan(&data, &objectKey, &password)
	if database.IsNoRows(err) {
		return signing.Container{}, notConfigured(tenantID)
	}
	if err != nil {
		return signing.Container{}, database.Wrap(fmt.Errorf("get certificate of tenant %d: %w", tenantID, err), "get certificate")
	}

	if len(data) == 0 && objectKey != nil && *objectKey != "" {
		if s.objects == nil {
			return signing.Container{}, ierr.Newf("tenant %d certificate is in object storage but none is configured", tenantID).
				WithHint("signing certificate storage is not configured").
				Mark(ierr.ErrCertificateNotConfigured)
		}
		data, err = s.objects.Fetch(ctx, *objectKey)
		if err != nil {
			return signing.Container{}, err
		}
	}
	if len(data) == 0 {
		return signing.Container{}, notConfigured(tenantID)
	}

	container := signing.Container{Data: data, Password: password}
	if s.log != nil {
		s.log.Debug("Certificate container read", "tenant_id", tenantID, "container", container)
	}
	return container, nil
}

func notConfigured(tenantID int64) error {
	return ierr.Newf("tenant %d has no signing certificate", tenantID).
		WithHint("no signing certificate configured for this tenant").
		Mark(ierr.ErrCertificateNotConfigured)
}
