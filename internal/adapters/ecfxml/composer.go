// Package ecfxml renders e-CF documents as XML.
package ecfxml

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"3tcapital/ecfcore/internal/core/ecf"
)

const (
	// Namespace of the e-CF root element.
	Namespace = "http://dgii.gov.do/ecf"
	// Version written on the root element and in the header.
	Version = "1.0"
	// RootElement is the local name of the document root, the default
	// signing reference.
	RootElement = "ECF"
	// DefaultVerificationURL is the tax authority's stamp lookup page.
	DefaultVerificationURL = "https://ecf.dgii.gov.do/ecf/ConsultaTimbre"
)

// Composer turns an InvoiceDocument into its XML serialization. It holds no
// state besides configuration, so one value can be shared across goroutines.
type Composer struct {
	verificationURL string
	location        *time.Location
}

// NewComposer returns a composer that prints QR payloads against baseURL and
// dates in loc. A nil loc uses ecf.DefaultLocation.
func NewComposer(baseURL string, loc *time.Location) *Composer {
	if baseURL == "" {
		baseURL = DefaultVerificationURL
	}
	if loc == nil {
		loc = ecf.DefaultLocation
	}
	return &Composer{verificationURL: baseURL, location: loc}
}

// Compose renders doc. The same document always yields the same bytes. Line
// numbers are regenerated from line order.
func (c *Composer) Compose(doc ecf.InvoiceDocument) (string, error) {
	in := doc.Input()
	in.Location = c.location
	doc, err := ecf.NewInvoiceDocument(in)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	w := &writer{enc: xml.NewEncoder(&buf)}

	w.token(xml.ProcInst{Target: "xml", Inst: []byte(`version="1.0" encoding="UTF-8"`)})
	w.start(RootElement,
		xml.Attr{Name: xml.Name{Local: "xmlns"}, Value: Namespace},
		xml.Attr{Name: xml.Name{Local: "version"}, Value: Version},
	)

	w.start("Encabezado")
	w.text("Version", Version)
	c.writeIdentity(w, doc)
	c.writeParties(w, doc)
	c.writeTotals(w, doc)
	w.end("Encabezado")

	w.start("DetallesItems")
	for _, line := range doc.Lines {
		w.start("Item")
		w.text("NumeroLinea", strconv.Itoa(line.Number))
		w.text("NombreItem", line.Description)
		w.text("CantidadItem", measure(line.Quantity))
		w.text("PrecioUnitarioItem", measure(line.UnitPrice))
		w.text("TasaITBIS", amount(line.TaxRate))
		w.text("MontoITBIS", amount(line.Tax))
		w.text("MontoItem", amount(line.Amount))
		w.end("Item")
	}
	w.end("DetallesItems")

	w.text("CodigoSeguridad", doc.SecurityCode())
	w.text("URLVerificacion", doc.VerificationURL(c.verificationURL))
	w.end(RootElement)

	if w.err == nil {
		w.err = w.enc.Flush()
	}
	if w.err != nil {
		return "", fmt.Errorf("encode e-CF %s: %w", doc.FiscalNumber, w.err)
	}
	return buf.String(), nil
}

func (c *Composer) writeIdentity(w *writer, doc ecf.InvoiceDocument) {
	w.start("IdDoc")
	w.text("TipoeCF", doc.DocumentType)
	w.text("eNCF", string(doc.FiscalNumber))
	if doc.ExpiresAt != nil {
		w.text("FechaVencimiento", doc.ExpiresAt.Format(ecf.DateLayout))
	}
	w.text("TipoPago", strconv.Itoa(doc.PaymentMethod))
	w.end("IdDoc")
}

func (c *Composer) writeParties(w *writer, doc ecf.InvoiceDocument) {
	w.start("Emisor")
	w.text("RNCEmisor", doc.Issuer.TaxID)
	w.text("RazonSocialEmisor", doc.Issuer.Name)
	w.text("FechaEmision", doc.IssuedAt.Format(ecf.DateLayout))
	w.end("Emisor")

	if doc.Recipient.Blank() {
		return
	}
	w.start("Comprador")
	w.text("RNCComprador", doc.Recipient.TaxID)
	w.text("RazonSocialComprador", doc.Recipient.Name)
	w.end("Comprador")
}

func (c *Composer) writeTotals(w *writer, doc ecf.InvoiceDocument) {
	taxed, exempt := decimal.Zero, decimal.Zero
	for _, line := range doc.Lines {
		if line.TaxRate.IsZero() {
			exempt = exempt.Add(line.Amount)
		} else {
			taxed = taxed.Add(line.Amount)
		}
	}

	w.start("Totales")
	w.text("MontoGravadoTotal", amount(taxed))
	w.text("MontoExento", amount(exempt))
	w.text("TotalITBIS", amount(doc.TaxTotal))
	w.text("MontoTotal", amount(doc.Total))
	w.end("Totales")
}

// amount renders money with exactly two decimals.
func amount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// measure renders a quantity or unit price with at least two decimals and
// never fewer than the value carries, so quantity times price still yields
// the printed line amount.
func measure(d decimal.Decimal) string {
	places := int32(2)
	if exp := -d.Exponent(); exp > places {
		places = exp
	}
	return d.StringFixed(places)
}

// writer keeps the first encoding error so the builders above stay linear.
type writer struct {
	enc *xml.Encoder
	err error
}

func (w *writer) token(t xml.Token) {
	if w.err != nil {
		return
	}
	w.err = w.enc.EncodeToken(t)
}

func (w *writer) start(name string, attrs ...xml.Attr) {
	w.token(xml.StartElement{Name: xml.Name{Local: name}, Attr: attrs})
}

func (w *writer) end(name string) {
	w.token(xml.EndElement{Name: xml.Name{Local: name}})
}

func (w *writer) text(name, value string) {
	w.start(name)
	w.token(xml.CharData(value))
	w.end(name)
}
