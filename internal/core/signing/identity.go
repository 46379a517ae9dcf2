// Package signing defines the signing identity extracted from a tenant's
// PKCS#12 container and the port that supplies those containers.
package signing

import (
	"context"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"
)

// Identity is a private key with its certificate. It never renders the key.
type Identity struct {
	Key         *rsa.PrivateKey
	Certificate *x509.Certificate
	Chain       []*x509.Certificate
}

// Fingerprint is the SHA-256 of the certificate DER, hex encoded.
func (i *Identity) Fingerprint() string {
	if i == nil || i.Certificate == nil {
		return ""
	}
	sum := sha256.Sum256(i.Certificate.Raw)
	return hex.EncodeToString(sum[:])
}

// ExpiresAt is the certificate NotAfter.
func (i *Identity) ExpiresAt() time.Time {
	if i == nil || i.Certificate == nil {
		return time.Time{}
	}
	return i.Certificate.NotAfter
}

func (i *Identity) String() string {
	if i == nil || i.Certificate == nil {
		return "signing identity <empty>"
	}
	return fmt.Sprintf("signing identity %s (serial %s)", i.Certificate.Subject.CommonName, i.Certificate.SerialNumber)
}

// LogValue keeps key material out of structured logs.
func (i *Identity) LogValue() slog.Value {
	if i == nil || i.Certificate == nil {
		return slog.StringValue("<empty>")
	}
	return slog.GroupValue(
		slog.String("subject", i.Certificate.Subject.CommonName),
		slog.String("serial", i.Certificate.SerialNumber.String()),
		slog.String("fingerprint", i.Fingerprint()),
		slog.Time("not_after", i.Certificate.NotAfter),
	)
}

// Container is a tenant's raw PKCS#12 bytes and password.
type Container struct {
	Data     []byte
	Password string
}

// LogValue hides the container contents.
func (c Container) LogValue() slog.Value {
	return slog.GroupValue(slog.Int("size_bytes", len(c.Data)))
}

// CertificateStore supplies containers by tenant. A tenant without one yields
// ErrCertificateNotConfigured.
type CertificateStore interface {
	Container(ctx context.Context, tenantID int64) (Container, error)
}
