package xmldsig

// Algorithm identifiers written into SignedInfo.
const (
	NamespaceDSig = "http://www.w3.org/2000/09/xmldsig#"

	AlgorithmC14N10    = "http://www.w3.org/TR/2001/REC-xml-c14n-20010315"
	AlgorithmEnveloped = "http://www.w3.org/2000/09/xmldsig#enveloped-signature"
	AlgorithmSHA256    = "http://www.w3.org/2001/04/xmlenc#sha256"
	AlgorithmRSASHA256 = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"
)

const (
	signatureTag      = "Signature"
	signedInfoTag     = "SignedInfo"
	signatureValueTag = "SignatureValue"
	referenceTag      = "Reference"
	digestValueTag    = "DigestValue"
)
