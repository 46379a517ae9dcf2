// Package xmldsig loads signing identities from PKCS#12 containers and
// produces and checks enveloped XML signatures (inclusive C14N 1.0, SHA-256,
// RSA) over e-CF documents.
package xmldsig

import (
	"bytes"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"strings"

	"software.sslmate.com/src/go-pkcs12"

	"3tcapital/ecfcore/internal/core/signing"
	ierr "3tcapital/ecfcore/internal/infrastructure/errors"
)

// LoadIdentity extracts the private key and its certificate from a PKCS#12
// container. The certificate returned is the one whose public key matches
// the key; the remaining certificates form the chain.
func LoadIdentity(container []byte, password string) (*signing.Identity, error) {
	if len(container) == 0 {
		return nil, ierr.New("empty PKCS#12 container").
			WithHint("the signing certificate file is empty").
			Mark(ierr.ErrMalformedContainer)
	}

	key, leaf, chain, err := pkcs12.DecodeChain(container, password)
	if err != nil {
		return nil, classifyDecodeError(container, password, err)
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, ierr.Newf("unsupported private key type %T", key).
			WithHint("the signing certificate must carry an RSA private key").
			Mark(ierr.ErrIdentityNotFound)
	}

	certs := append([]*x509.Certificate{leaf}, chain...)
	for i, cert := range certs {
		if !matchesKey(cert, rsaKey) {
			continue
		}
		rest := make([]*x509.Certificate, 0, len(certs)-1)
		rest = append(rest, certs[:i]...)
		rest = append(rest, certs[i+1:]...)
		return &signing.Identity{Key: rsaKey, Certificate: cert, Chain: rest}, nil
	}

	return nil, ierr.New("no certificate matches the private key").
		WithHint("the signing certificate file has no certificate for its private key").
		Mark(ierr.ErrIdentityNotFound)
}

func classifyDecodeError(container []byte, password string, err error) error {
	if errors.Is(err, pkcs12.ErrIncorrectPassword) {
		return ierr.WithError(err).
			WithHint("the signing certificate password is incorrect").
			Mark(ierr.ErrDecryptionFailed)
	}

	msg := err.Error()
	if strings.Contains(msg, "private key missing") || strings.Contains(msg, "certificate missing") {
		return ierr.WithError(err).
			WithHint("the signing certificate file has no private key or certificate").
			Mark(ierr.ErrIdentityNotFound)
	}

	// A readable container with certificates only.
	if certs, tsErr := pkcs12.DecodeTrustStore(container, password); tsErr == nil && len(certs) > 0 {
		return ierr.WithError(err).
			WithHint("the signing certificate file has no private key").
			Mark(ierr.ErrIdentityNotFound)
	}

	return ierr.WithError(err).
		WithHint("the signing certificate file is not a valid PKCS#12 container").
		Mark(ierr.ErrMalformedContainer)
}

func matchesKey(cert *x509.Certificate, key *rsa.PrivateKey) bool {
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return false
	}
	return pub.E == key.E && bytes.Equal(pub.N.Bytes(), key.N.Bytes())
}
