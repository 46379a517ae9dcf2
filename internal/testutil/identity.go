package testutil

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"sync"
	"testing"
	"time"

	"software.sslmate.com/src/go-pkcs12"

	"3tcapital/ecfcore/internal/core/signing"
	ierr "3tcapital/ecfcore/internal/infrastructure/errors"
)

var (
	identityOnce sync.Once
	identityKey  *rsa.PrivateKey
	identityCert *x509.Certificate
	identityErr  error
)

// NewSigningIdentity returns a self-signed RSA identity. Key generation runs
// once per test binary.
func NewSigningIdentity(t testing.TB) *signing.Identity {
	t.Helper()
	identityOnce.Do(func() {
		identityKey, identityCert, identityErr = generateIdentity("Test Issuer SRL", 2048)
	})
	if identityErr != nil {
		t.Fatalf("failed to generate signing identity: %v", identityErr)
	}
	return &signing.Identity{Key: identityKey, Certificate: identityCert}
}

// NewPKCS12 encodes the shared test identity as a PKCS#12 container.
func NewPKCS12(t testing.TB, password string) []byte {
	t.Helper()
	id := NewSigningIdentity(t)
	data, err := pkcs12.Modern.Encode(id.Key, id.Certificate, nil, password)
	if err != nil {
		t.Fatalf("failed to encode PKCS#12: %v", err)
	}
	return data
}

// NewCertificateOnlyPKCS12 encodes the shared test certificate without its key.
func NewCertificateOnlyPKCS12(t testing.TB, password string) []byte {
	t.Helper()
	id := NewSigningIdentity(t)
	data, err := pkcs12.Modern.EncodeTrustStore([]*x509.Certificate{id.Certificate}, password)
	if err != nil {
		t.Fatalf("failed to encode PKCS#12 trust store: %v", err)
	}
	return data
}

func generateIdentity(commonName string, bits int) (*rsa.PrivateKey, *x509.Certificate, error) {
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, nil, err
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		Subject:               pkix.Name{CommonName: commonName, Organization: []string{commonName}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageContentCommitment,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, err
	}
	return key, cert, nil
}

// StaticCertificateStore serves fixed containers by tenant and counts calls.
type StaticCertificateStore struct {
	mu         sync.Mutex
	Containers map[int64]signing.Container
	Err        error
	Calls      int
}

func (s *StaticCertificateStore) Container(_ context.Context, tenantID int64) (signing.Container, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls++
	if s.Err != nil {
		return signing.Container{}, s.Err
	}
	c, ok := s.Containers[tenantID]
	if !ok {
		return signing.Container{}, ierr.Newf("tenant %d has no certificate", tenantID).
			WithHint("no signing certificate configured").
			Mark(ierr.ErrCertificateNotConfigured)
	}
	return c, nil
}
