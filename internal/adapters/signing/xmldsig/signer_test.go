package xmldsig

import (
	"crypto/x509"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/beevik/etree"

	ierr "3tcapital/ecfcore/internal/infrastructure/errors"
	"3tcapital/ecfcore/internal/testutil"
)

const sampleECF = `<?xml version="1.0" encoding="UTF-8"?>` +
	`<ECF xmlns="http://dgii.gov.do/ecf" version="1.0"><Encabezado><IdDoc><eNCF>E310000000001</eNCF></IdDoc></Encabezado>` +
	`<DetallesItems Id="items"><Item><NumeroLinea>1</NumeroLinea></Item></DetallesItems></ECF>`

func TestSign_RootRoundTrip(t *testing.T) {
	id := testutil.NewSigningIdentity(t)

	signed, err := Sign(sampleECF, id, "")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	cert, err := Verify(signed)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !cert.Equal(id.Certificate) {
		t.Error("expected the embedded certificate to be the signer's")
	}

	sigStart := strings.Index(signed, "<Signature ")
	if sigStart < 0 {
		t.Fatalf("no Signature element in %s", signed)
	}
	sigEnd := strings.Index(signed, "</Signature>") + len("</Signature>")
	stripped := signed[:sigStart] + signed[sigEnd:]
	if stripped != sampleECF {
		t.Errorf("content outside the signature changed:\n got: %s\nwant: %s", stripped, sampleECF)
	}
	if !strings.HasSuffix(signed, "</Signature></ECF>") {
		t.Error("expected the signature to be the last child of the root")
	}
}

func TestSign_SimpleDocument(t *testing.T) {
	id := testutil.NewSigningIdentity(t)
	input := "<eCF><Info>Test</Info></eCF>"

	signed, err := Sign(input, id, "")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromString(signed); err != nil {
		t.Fatalf("signed output is not XML: %v", err)
	}
	root := doc.Root()
	children := root.ChildElements()
	if len(children) != 2 || children[0].Tag != "Info" || children[1].Tag != "Signature" {
		t.Fatalf("expected Info then Signature under eCF, got %d children", len(children))
	}
	sig := children[1]
	if sig.NamespaceURI() != NamespaceDSig {
		t.Errorf("expected signature namespace %s, got %s", NamespaceDSig, sig.NamespaceURI())
	}
	if got := sig.FindElement("SignedInfo/Reference").SelectAttrValue("URI", "missing"); got != "" {
		t.Errorf("expected empty reference URI, got %q", got)
	}
	if got := sig.FindElement("SignedInfo/SignatureMethod").SelectAttrValue("Algorithm", ""); got != AlgorithmRSASHA256 {
		t.Errorf("unexpected signature method %s", got)
	}
	if got := sig.FindElement("SignedInfo/Reference/DigestMethod").SelectAttrValue("Algorithm", ""); got != AlgorithmSHA256 {
		t.Errorf("unexpected digest method %s", got)
	}
	transforms := sig.FindElements("SignedInfo/Reference/Transforms/Transform")
	if len(transforms) != 2 ||
		transforms[0].SelectAttrValue("Algorithm", "") != AlgorithmEnveloped ||
		transforms[1].SelectAttrValue("Algorithm", "") != AlgorithmC14N10 {
		t.Error("expected enveloped-signature then C14N transforms")
	}

	der := sig.FindElement("KeyInfo/X509Data/X509Certificate").Text()
	raw, err := decodeBase64(der)
	if err != nil {
		t.Fatalf("certificate is not base64: %v", err)
	}
	cert, err := x509.ParseCertificate(raw)
	if err != nil || !cert.Equal(id.Certificate) {
		t.Errorf("embedded certificate does not match the identity (err=%v)", err)
	}

	if _, err := Verify(signed); err != nil {
		t.Errorf("Verify: %v", err)
	}
}

func TestSign_SubElement(t *testing.T) {
	id := testutil.NewSigningIdentity(t)

	signed, err := Sign(sampleECF, id, "DetallesItems")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !strings.Contains(signed, `<Reference URI="#items">`) {
		t.Errorf("expected reference to #items in %s", signed)
	}
	if !strings.Contains(signed, "</Signature></DetallesItems></ECF>") {
		t.Error("expected the signature to close the DetallesItems element")
	}
	if _, err := Verify(signed); err != nil {
		t.Errorf("Verify: %v", err)
	}
}

func TestSign_SelfClosingTarget(t *testing.T) {
	id := testutil.NewSigningIdentity(t)
	input := `<Root><Empty Id="e"/><Tail/></Root>`

	signed, err := Sign(input, id, "Empty")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !strings.HasPrefix(signed, `<Root><Empty Id="e"><Signature `) {
		t.Errorf("unexpected output %s", signed)
	}
	if !strings.HasSuffix(signed, `</Signature></Empty><Tail/></Root>`) {
		t.Errorf("unexpected output %s", signed)
	}
	if _, err := Verify(signed); err != nil {
		t.Errorf("Verify: %v", err)
	}
}

func TestSign_Failures(t *testing.T) {
	id := testutil.NewSigningIdentity(t)

	tests := []struct {
		name     string
		document string
		selector string
	}{
		{name: "malformed document", document: "<ECF><Open></ECF>"},
		{name: "empty document", document: ""},
		{name: "selector not found", document: sampleECF, selector: "Missing"},
		{name: "selected element without Id", document: sampleECF, selector: "Encabezado"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Sign(tt.document, id, tt.selector)
			if !ierr.Is(err, ierr.ErrSigningFailed) {
				t.Fatalf("expected SIGNING_FAILED, got %v", err)
			}
			if out != "" {
				t.Error("expected no output on failure")
			}
		})
	}

	if _, err := Sign(sampleECF, nil, ""); !ierr.Is(err, ierr.ErrSigningFailed) {
		t.Errorf("expected SIGNING_FAILED for a nil identity, got %v", err)
	}
}

func TestVerify_DetectsTampering(t *testing.T) {
	id := testutil.NewSigningIdentity(t)
	signed, err := Sign(sampleECF, id, "")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	itemsSigned, err := Sign(sampleECF, id, "DetallesItems")
	if err != nil {
		t.Fatalf("Sign items: %v", err)
	}
	otherCert := base64.StdEncoding.EncodeToString(testutil.NewSigningIdentity(t).Certificate.Raw)

	tests := []struct {
		name   string
		mutate func(string) string
	}{
		{
			name:   "content changed",
			mutate: func(s string) string { return strings.Replace(s, "E310000000001", "E310000000002", 1) },
		},
		{
			name: "signature value changed",
			mutate: func(s string) string {
				i := strings.Index(s, "<SignatureValue>") + len("<SignatureValue>")
				b := []byte(s)
				if b[i] == 'A' {
					b[i] = 'B'
				} else {
					b[i] = 'A'
				}
				return string(b)
			},
		},
		{
			name: "certificate swapped",
			mutate: func(s string) string {
				start := strings.Index(s, "<X509Certificate>") + len("<X509Certificate>")
				end := strings.Index(s, "</X509Certificate>")
				return s[:start] + otherCert + s[end:]
			},
		},
		{
			name: "signed element changed",
			mutate: func(string) string {
				return strings.Replace(itemsSigned, "<NumeroLinea>1</NumeroLinea>", "<NumeroLinea>2</NumeroLinea>", 1)
			},
		},
		{
			name: "inherited namespace changed",
			mutate: func(string) string {
				return strings.Replace(itemsSigned, `xmlns="http://dgii.gov.do/ecf"`, `xmlns="http://example.test/other"`, 1)
			},
		},
		{
			name: "signature removed",
			mutate: func(s string) string {
				return s[:strings.Index(s, "<Signature ")] + s[strings.Index(s, "</Signature>")+len("</Signature>"):]
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Verify(tt.mutate(signed)); !ierr.Is(err, ierr.ErrSignatureInvalid) {
				t.Errorf("expected SIGNATURE_INVALID, got %v", err)
			}
		})
	}
}

func TestEngine(t *testing.T) {
	var e Engine
	id := testutil.NewSigningIdentity(t)

	signed, err := e.Sign(sampleECF, id, "")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := e.Verify(signed); err != nil {
		t.Errorf("Verify: %v", err)
	}
}
