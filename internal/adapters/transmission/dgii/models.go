package dgii

import (
	"encoding/xml"
	"strings"
	"time"
)

const (
	seedPath      = "/autenticacion/api/autenticacion/semilla"
	validatePath  = "/autenticacion/api/autenticacion/validarsemilla"
	receptionPath = "/recepcion/api/facturaselectronicas"

	// Form field the authority reads the XML file from.
	formFileField = "xml"
)

// seedResponse is the challenge returned by the seed endpoint.
type seedResponse struct {
	XMLName xml.Name `xml:"SemillaModel"`
	Value   string   `xml:"valor"`
	Date    string   `xml:"fecha"`
}

// tokenResponse is returned after a signed seed is accepted.
type tokenResponse struct {
	Token    string `json:"token"`
	Expires  string `json:"expira"`
	IssuedAt string `json:"expedido"`
}

// receptionResponse is returned by the e-CF reception endpoint.
type receptionResponse struct {
	TrackID string `json:"trackId"`
	Error   string `json:"error"`
	Message string `json:"mensaje"`
}

var expiryLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// parseExpiry reads the token expiry. Values without a zone are UTC.
func parseExpiry(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range expiryLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
