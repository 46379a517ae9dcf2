package xmldsig

import (
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"
	"github.com/russellhaering/goxmldsig/etreeutils"

	ierr "3tcapital/ecfcore/internal/infrastructure/errors"
)

// Verify checks the first enveloped signature in document against the
// certificate embedded in its KeyInfo and returns that certificate. Digest and
// signature checks are done by goxmldsig; this function only pins the
// algorithms and locates the signed element.
func Verify(document string) (*x509.Certificate, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(document); err != nil {
		return nil, invalidSignature(err, "document is not well-formed XML")
	}
	root := doc.Root()
	if root == nil {
		return nil, invalidSignature(nil, "document has no root element")
	}

	sig := findSignature(root)
	if sig == nil {
		return nil, invalidSignature(nil, "document carries no signature")
	}
	signedInfo := sig.SelectElement(signedInfoTag)
	if signedInfo == nil {
		return nil, invalidSignature(nil, "signature has no SignedInfo")
	}
	if err := checkAlgorithms(signedInfo); err != nil {
		return nil, err
	}
	ref := signedInfo.SelectElement(referenceTag)
	if ref == nil {
		return nil, invalidSignature(nil, "signature has no Reference")
	}

	target, err := resolveReference(root, ref.SelectAttrValue("URI", ""))
	if err != nil {
		return nil, err
	}
	if sig.Parent() != target {
		return nil, invalidSignature(nil, "signature is not enveloped by the referenced element")
	}

	cert, err := embeddedCertificate(sig)
	if err != nil {
		return nil, err
	}

	// A sub-element is validated detached, carrying the namespaces it inherits.
	nsCtx, err := etreeutils.NSBuildParentContext(target)
	if err != nil {
		return nil, invalidSignature(err, "could not resolve namespaces of the signed element")
	}
	detached, err := etreeutils.NSDetatch(nsCtx, target)
	if err != nil {
		return nil, invalidSignature(err, "could not detach the signed element")
	}

	validation := dsig.NewDefaultValidationContext(&dsig.MemoryX509CertificateStore{
		Roots: []*x509.Certificate{cert},
	})
	if attr := idAttribute(target); attr != "" {
		validation.IdAttribute = attr
	}
	if _, err := validation.Validate(detached); err != nil {
		return nil, invalidSignature(err, "signature does not validate against the embedded certificate")
	}
	return cert, nil
}

func findSignature(el *etree.Element) *etree.Element {
	if el.Tag == signatureTag && el.NamespaceURI() == NamespaceDSig {
		return el
	}
	for _, child := range el.ChildElements() {
		if found := findSignature(child); found != nil {
			return found
		}
	}
	return nil
}

func checkAlgorithms(signedInfo *etree.Element) error {
	want := []struct{ path, algorithm string }{
		{"CanonicalizationMethod", AlgorithmC14N10},
		{"SignatureMethod", AlgorithmRSASHA256},
		{"Reference/DigestMethod", AlgorithmSHA256},
	}
	for _, w := range want {
		el := signedInfo.FindElement(w.path)
		if el == nil {
			return invalidSignature(nil, fmt.Sprintf("SignedInfo is missing %s", w.path))
		}
		if got := el.SelectAttrValue("Algorithm", ""); got != w.algorithm {
			return invalidSignature(nil, fmt.Sprintf("unsupported %s algorithm %q", w.path, got))
		}
	}
	for _, t := range signedInfo.FindElements("Reference/Transforms/Transform") {
		switch algorithm := t.SelectAttrValue("Algorithm", ""); algorithm {
		case AlgorithmEnveloped, AlgorithmC14N10:
		default:
			return invalidSignature(nil, fmt.Sprintf("unsupported transform %q", algorithm))
		}
	}
	return nil
}

func resolveReference(root *etree.Element, uri string) (*etree.Element, error) {
	if uri == "" {
		return root, nil
	}
	if !strings.HasPrefix(uri, "#") {
		return nil, invalidSignature(nil, fmt.Sprintf("unsupported reference URI %q", uri))
	}
	if el := findByID(root, uri[1:]); el != nil {
		return el, nil
	}
	return nil, invalidSignature(nil, fmt.Sprintf("reference %q does not resolve", uri))
}

func findByID(el *etree.Element, id string) *etree.Element {
	if elementID(el) == id {
		return el
	}
	for _, child := range el.ChildElements() {
		if found := findByID(child, id); found != nil {
			return found
		}
	}
	return nil
}

// idAttribute names the id attribute el carries, as elementID reads it.
func idAttribute(el *etree.Element) string {
	for _, key := range idKeys {
		if attr := el.SelectAttr(key); attr != nil && attr.Space == "" {
			return key
		}
	}
	return ""
}

func embeddedCertificate(sig *etree.Element) (*x509.Certificate, error) {
	el := sig.FindElement("KeyInfo/X509Data/X509Certificate")
	if el == nil {
		return nil, invalidSignature(nil, "signature carries no X509Certificate")
	}
	der, err := decodeBase64(el.Text())
	if err != nil {
		return nil, invalidSignature(err, "X509Certificate is not base64")
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, invalidSignature(err, "X509Certificate is not a valid certificate")
	}
	return cert, nil
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, s)
	return base64.StdEncoding.DecodeString(s)
}

func invalidSignature(cause error, hint string) error {
	if cause == nil {
		return ierr.New(hint).WithHint(hint).Mark(ierr.ErrSignatureInvalid)
	}
	return ierr.WithError(cause).WithHint(hint).Mark(ierr.ErrSignatureInvalid)
}
