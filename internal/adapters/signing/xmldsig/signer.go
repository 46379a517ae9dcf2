package xmldsig

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"
	"github.com/russellhaering/goxmldsig/etreeutils"

	"3tcapital/ecfcore/internal/core/signing"
	ierr "3tcapital/ecfcore/internal/infrastructure/errors"
)

// Engine signs and verifies documents. The zero value is ready to use.
type Engine struct{}

// Sign implements issuance signing with the package level Sign.
func (Engine) Sign(document string, identity *signing.Identity, selector string) (string, error) {
	return Sign(document, identity, selector)
}

// Verify implements signature checking with the package level Verify.
func (Engine) Verify(document string) error {
	_, err := Verify(document)
	return err
}

// Sign appends an enveloped signature as the last child of the element named
// by selector (local name, first match in document order), or of the root when
// selector is empty. Everything outside the inserted Signature element is
// returned byte for byte as given.
func Sign(document string, identity *signing.Identity, selector string) (string, error) {
	if identity == nil || identity.Key == nil || identity.Certificate == nil {
		return "", ierr.New("signing identity is incomplete").
			WithHint("no signing identity available").
			Mark(ierr.ErrSigningFailed)
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromString(document); err != nil {
		return "", signingFailed(err, "document is not well-formed XML")
	}
	root := doc.Root()
	if root == nil {
		return "", signingFailed(nil, "document has no root element")
	}

	target := root
	if selector != "" {
		target = findByLocalName(root, selector)
		if target == nil {
			return "", signingFailed(nil, fmt.Sprintf("element %q not found", selector))
		}
	}

	uri := ""
	if target != root {
		id := elementID(target)
		if id == "" {
			return "", signingFailed(nil, fmt.Sprintf("element %q has no Id attribute to reference", selector))
		}
		uri = "#" + id
	}

	canon := dsig.MakeC14N10RecCanonicalizer()

	digest, err := digestElement(canon, target)
	if err != nil {
		return "", signingFailed(err, "could not canonicalize the signed element")
	}

	sig := buildSignature(uri, digest, identity.Certificate.Raw)
	target.AddChild(sig)

	signedInfo := sig.SelectElement(signedInfoTag)
	canonicalInfo, err := canonicalInContext(canon, signedInfo)
	if err != nil {
		return "", signingFailed(err, "could not canonicalize SignedInfo")
	}

	hashed := sha256.Sum256(canonicalInfo)
	value, err := rsa.SignPKCS1v15(rand.Reader, identity.Key, crypto.SHA256, hashed[:])
	if err != nil {
		return "", signingFailed(err, "RSA signature failed")
	}
	sig.SelectElement(signatureValueTag).SetText(base64.StdEncoding.EncodeToString(value))

	fragment, err := serialize(sig)
	if err != nil {
		return "", signingFailed(err, "could not serialize the signature")
	}

	signed, err := spliceBeforeEnd(document, target.Tag, selector == "", fragment)
	if err != nil {
		return "", signingFailed(err, "could not insert the signature")
	}

	if _, err := Verify(signed); err != nil {
		return "", signingFailed(err, "signed document failed self-check")
	}
	return signed, nil
}

func buildSignature(uri string, digest []byte, certDER []byte) *etree.Element {
	sig := etree.NewElement(signatureTag)
	sig.CreateAttr("xmlns", NamespaceDSig)

	info := sig.CreateElement(signedInfoTag)
	info.CreateElement("CanonicalizationMethod").CreateAttr("Algorithm", AlgorithmC14N10)
	info.CreateElement("SignatureMethod").CreateAttr("Algorithm", AlgorithmRSASHA256)

	ref := info.CreateElement(referenceTag)
	ref.CreateAttr("URI", uri)
	transforms := ref.CreateElement("Transforms")
	transforms.CreateElement("Transform").CreateAttr("Algorithm", AlgorithmEnveloped)
	transforms.CreateElement("Transform").CreateAttr("Algorithm", AlgorithmC14N10)
	ref.CreateElement("DigestMethod").CreateAttr("Algorithm", AlgorithmSHA256)
	ref.CreateElement(digestValueTag).SetText(base64.StdEncoding.EncodeToString(digest))

	sig.CreateElement(signatureValueTag)

	sig.CreateElement("KeyInfo").
		CreateElement("X509Data").
		CreateElement("X509Certificate").
		SetText(base64.StdEncoding.EncodeToString(certDER))
	return sig
}

// digestElement hashes the canonical form of el with its in-scope namespaces.
func digestElement(canon dsig.Canonicalizer, el *etree.Element) ([]byte, error) {
	out, err := canonicalInContext(canon, el)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(out)
	return sum[:], nil
}

func canonicalInContext(canon dsig.Canonicalizer, el *etree.Element) ([]byte, error) {
	ctx, err := etreeutils.NSBuildParentContext(el)
	if err != nil {
		return nil, err
	}
	detached, err := etreeutils.NSDetatch(ctx, el)
	if err != nil {
		return nil, err
	}
	return canon.Canonicalize(detached)
}

func serialize(el *etree.Element) (string, error) {
	doc := etree.NewDocument()
	doc.SetRoot(el.Copy())
	return doc.WriteToString()
}

func findByLocalName(el *etree.Element, name string) *etree.Element {
	if el.Tag == name {
		return el
	}
	for _, child := range el.ChildElements() {
		if found := findByLocalName(child, name); found != nil {
			return found
		}
	}
	return nil
}

var idKeys = []string{"Id", "ID", "id"}

func elementID(el *etree.Element) string {
	for _, key := range idKeys {
		if attr := el.SelectAttr(key); attr != nil && attr.Space == "" {
			return attr.Value
		}
	}
	return ""
}

// spliceBeforeEnd inserts fragment right before the end tag of the target
// element in the original text. The target is the root when root is true,
// otherwise the first element whose local name is local.
func spliceBeforeEnd(document, local string, root bool, fragment string) (string, error) {
	dec := xml.NewDecoder(strings.NewReader(document))
	dec.Strict = true

	depth := 0
	targetDepth := -1
	var startOffset int64
	var qname string

	for {
		before := dec.InputOffset()
		tok, err := dec.RawToken()
		if err == io.EOF {
			return "", fmt.Errorf("element %q not found", local)
		}
		if err != nil {
			return "", err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if targetDepth < 0 && ((root && depth == 1) || (!root && t.Name.Local == local)) {
				targetDepth = depth
				startOffset = before
				qname = t.Name.Local
				if t.Name.Space != "" {
					qname = t.Name.Space + ":" + t.Name.Local
				}
			}
		case xml.EndElement:
			if depth == targetDepth {
				after := dec.InputOffset()
				if after == before {
					// Self-closing element: rewrite "<x .../>" as "<x ...>sig</x>".
					open := document[startOffset:after]
					if !strings.HasSuffix(open, "/>") {
						return "", fmt.Errorf("unexpected empty element form %q", open)
					}
					var b strings.Builder
					b.WriteString(document[:startOffset])
					b.WriteString(strings.TrimSuffix(open, "/>"))
					b.WriteString(">")
					b.WriteString(fragment)
					b.WriteString("</" + qname + ">")
					b.WriteString(document[after:])
					return b.String(), nil
				}
				return document[:before] + fragment + document[before:], nil
			}
			depth--
		}
	}
}

func signingFailed(cause error, hint string) error {
	if cause == nil {
		return ierr.New(hint).WithHint(hint).Mark(ierr.ErrSigningFailed)
	}
	return ierr.WithError(cause).WithHint(hint).Mark(ierr.ErrSigningFailed)
}
