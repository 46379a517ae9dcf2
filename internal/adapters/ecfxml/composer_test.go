package ecfxml

import (
	"encoding/xml"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"3tcapital/ecfcore/internal/core/ecf"
	ierr "3tcapital/ecfcore/internal/infrastructure/errors"
)

type parsedECF struct {
	XMLName    xml.Name `xml:"ECF"`
	Version    string   `xml:"version,attr"`
	Encabezado struct {
		IdDoc struct {
			TipoeCF          string `xml:"TipoeCF"`
			ENCF             string `xml:"eNCF"`
			FechaVencimiento string `xml:"FechaVencimiento"`
		} `xml:"IdDoc"`
		Emisor struct {
			RNC          string `xml:"RNCEmisor"`
			FechaEmision string `xml:"FechaEmision"`
		} `xml:"Emisor"`
		Comprador *struct {
			RNC string `xml:"RNCComprador"`
		} `xml:"Comprador"`
		Totales struct {
			Gravado string `xml:"MontoGravadoTotal"`
			Exento  string `xml:"MontoExento"`
			ITBIS   string `xml:"TotalITBIS"`
			Total   string `xml:"MontoTotal"`
		} `xml:"Totales"`
	} `xml:"Encabezado"`
	Items []struct {
		Numero   int    `xml:"NumeroLinea"`
		Cantidad string `xml:"CantidadItem"`
		Precio   string `xml:"PrecioUnitarioItem"`
		ITBIS    string `xml:"MontoITBIS"`
		Monto    string `xml:"MontoItem"`
	} `xml:"DetallesItems>Item"`
	CodigoSeguridad string `xml:"CodigoSeguridad"`
	URL             string `xml:"URLVerificacion"`
}

var fixedDecimal = regexp.MustCompile(`^[0-9]+\.[0-9]{2}$`)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func sampleDocument(t *testing.T, mutate func(in *ecf.Input)) ecf.InvoiceDocument {
	t.Helper()
	in := ecf.Input{
		Issuer:       ecf.Party{TaxID: "131234567", Name: "Comercial Ejemplo SRL"},
		Recipient:    ecf.Party{TaxID: "101654321", Name: "Cliente & Hijos SA"},
		DocumentType: "31",
		FiscalNumber: "E310000000001",
		IssuedAt:     time.Date(2026, 4, 2, 10, 30, 0, 0, time.UTC),
		Lines: []ecf.LineItem{
			{Description: "Servicio", Quantity: dec("2"), UnitPrice: dec("100.00"), TaxRate: dec("18")},
		},
		Subtotal: dec("200.00"),
		TaxTotal: dec("36.00"),
		Total:    dec("236.00"),
	}
	if mutate != nil {
		mutate(&in)
	}
	doc, err := ecf.NewInvoiceDocument(in)
	if err != nil {
		t.Fatalf("build document: %v", err)
	}
	return doc
}

func TestCompose_SingleLineScenario(t *testing.T) {
	composer := NewComposer("", nil)
	out, err := composer.Compose(sampleDocument(t, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.HasPrefix(out, `<?xml version="1.0" encoding="UTF-8"?><ECF xmlns="http://dgii.gov.do/ecf" version="1.0">`) {
		t.Errorf("unexpected prologue: %.120s", out)
	}

	var parsed parsedECF
	if err := xml.Unmarshal([]byte(out), &parsed); err != nil {
		t.Fatalf("output is not well formed: %v", err)
	}
	if parsed.Version != Version {
		t.Errorf("expected version %s, got %s", Version, parsed.Version)
	}
	if parsed.Encabezado.IdDoc.ENCF != "E310000000001" || parsed.Encabezado.IdDoc.TipoeCF != "31" {
		t.Errorf("unexpected identity %+v", parsed.Encabezado.IdDoc)
	}
	if parsed.Encabezado.Emisor.FechaEmision != "02-04-2026" {
		t.Errorf("unexpected issue date %q", parsed.Encabezado.Emisor.FechaEmision)
	}
	if len(parsed.Items) != 1 {
		t.Fatalf("expected one item, got %d", len(parsed.Items))
	}
	item := parsed.Items[0]
	if item.Numero != 1 || item.Monto != "200.00" || item.ITBIS != "36.00" || item.Cantidad != "2.00" || item.Precio != "100.00" {
		t.Errorf("unexpected item %+v", item)
	}
	totals := parsed.Encabezado.Totales
	if totals.Gravado != "200.00" || totals.Exento != "0.00" || totals.ITBIS != "36.00" || totals.Total != "236.00" {
		t.Errorf("unexpected totals %+v", totals)
	}
	if parsed.CodigoSeguridad == "" || !strings.Contains(parsed.URL, "CodigoSeguridad="+parsed.CodigoSeguridad) {
		t.Errorf("security code missing from QR payload: %q / %q", parsed.CodigoSeguridad, parsed.URL)
	}
	if !strings.Contains(out, "Cliente &amp; Hijos SA") {
		t.Errorf("expected escaped recipient name")
	}
}

func TestCompose_Deterministic(t *testing.T) {
	composer := NewComposer("https://example.test/timbre", nil)
	doc := sampleDocument(t, nil)

	first, err := composer.Compose(doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := composer.Compose(doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Fatal("compose must be byte-identical for identical input")
	}
}

func TestCompose_RejectsUnreconciledTotals(t *testing.T) {
	doc := sampleDocument(t, nil)
	doc.Total = dec("999.00")

	out, err := NewComposer("", nil).Compose(doc)
	if !ierr.Is(err, ierr.ErrInvalidInvoiceData) {
		t.Fatalf("expected invalid invoice data, got %v", err)
	}
	if out != "" {
		t.Error("failed composition must produce no output")
	}
}

func TestCompose_RegeneratesLineNumbers(t *testing.T) {
	doc := sampleDocument(t, func(in *ecf.Input) {
		in.Lines = append(in.Lines, ecf.LineItem{Description: "Exento", Quantity: dec("1"), UnitPrice: dec("50"), TaxRate: dec("0")})
		in.Subtotal = dec("250.00")
		in.Total = dec("286.00")
	})
	doc.Lines[0].Number = 9
	doc.Lines[1].Number = 9

	out, err := NewComposer("", nil).Compose(doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var parsed parsedECF
	if err := xml.Unmarshal([]byte(out), &parsed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for i, item := range parsed.Items {
		if item.Numero != i+1 {
			t.Errorf("item %d numbered %d", i, item.Numero)
		}
	}
	if parsed.Encabezado.Totales.Exento != "50.00" {
		t.Errorf("expected exempt total 50.00, got %s", parsed.Encabezado.Totales.Exento)
	}
}

func TestCompose_FixedDecimalNumbers(t *testing.T) {
	doc := sampleDocument(t, func(in *ecf.Input) {
		in.Lines[0].Quantity = dec("1")
		in.Lines[0].UnitPrice = dec("12500000")
		in.Subtotal = dec("12500000")
		in.TaxTotal = dec("2250000")
		in.Total = dec("14750000")
	})

	out, err := NewComposer("", nil).Compose(doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var parsed parsedECF
	if err := xml.Unmarshal([]byte(out), &parsed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	totals := parsed.Encabezado.Totales
	for _, v := range []string{totals.Gravado, totals.Exento, totals.ITBIS, totals.Total} {
		if !fixedDecimal.MatchString(v) {
			t.Errorf("expected plain fixed decimal, got %q", v)
		}
	}
	if !strings.Contains(out, "<MontoTotal>14750000.00</MontoTotal>") {
		t.Errorf("unexpected total rendering")
	}
}

func TestCompose_ConsumerInvoiceWithoutRecipient(t *testing.T) {
	doc := sampleDocument(t, func(in *ecf.Input) {
		in.DocumentType = "32"
		in.FiscalNumber = "E320000000010"
		in.Recipient = ecf.Party{}
		expires := in.IssuedAt.AddDate(0, 0, 30)
		in.ExpiresAt = &expires
	})

	out, err := NewComposer("", nil).Compose(doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var parsed parsedECF
	if err := xml.Unmarshal([]byte(out), &parsed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if parsed.Encabezado.Comprador != nil {
		t.Error("consumer invoice without recipient must omit Comprador")
	}
	if parsed.Encabezado.IdDoc.FechaVencimiento != "02-05-2026" {
		t.Errorf("unexpected expiry %q", parsed.Encabezado.IdDoc.FechaVencimiento)
	}
}

func TestCompose_LineMeasuresKeepPrecision(t *testing.T) {
	doc := sampleDocument(t, func(in *ecf.Input) {
		in.Lines[0].Quantity = dec("0.125")
		in.Lines[0].UnitPrice = dec("8.0000")
		in.Subtotal = dec("1.00")
		in.TaxTotal = dec("0.18")
		in.Total = dec("1.18")
	})

	out, err := NewComposer("", nil).Compose(doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var parsed parsedECF
	if err := xml.Unmarshal([]byte(out), &parsed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	item := parsed.Items[0]
	if item.Cantidad != "0.125" || item.Precio != "8.0000" || item.Monto != "1.00" {
		t.Fatalf("unexpected line %+v", item)
	}
	if got := dec(item.Cantidad).Mul(dec(item.Precio)).Round(2).StringFixed(2); got != item.Monto {
		t.Errorf("printed quantity times price is %s, line amount is %s", got, item.Monto)
	}
}

func TestCompose_DatesUseIssuerLocation(t *testing.T) {
	santoDomingo := time.FixedZone("AST", -4*60*60)
	instant := time.Date(2026, 4, 3, 1, 30, 0, 0, time.UTC)
	expiry := instant.AddDate(0, 0, 30)

	tests := []struct {
		name string
		at   time.Time
	}{
		{name: "utc value", at: instant},
		{name: "local value", at: instant.In(santoDomingo)},
		{name: "other zone value", at: instant.In(time.FixedZone("CET", 2*60*60))},
	}

	composer := NewComposer("", santoDomingo)
	var first string
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := sampleDocument(t, func(in *ecf.Input) {
				in.IssuedAt = tt.at
				e := expiry.In(tt.at.Location())
				in.ExpiresAt = &e
			})
			out, err := composer.Compose(doc)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			var parsed parsedECF
			if err := xml.Unmarshal([]byte(out), &parsed); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if parsed.Encabezado.Emisor.FechaEmision != "02-04-2026" {
				t.Errorf("expected the issuer's calendar day 02-04-2026, got %s", parsed.Encabezado.Emisor.FechaEmision)
			}
			if parsed.Encabezado.IdDoc.FechaVencimiento != "02-05-2026" {
				t.Errorf("expected expiry 02-05-2026, got %s", parsed.Encabezado.IdDoc.FechaVencimiento)
			}
			if first == "" {
				first = out
			} else if out != first {
				t.Error("output must not depend on the zone of the input values")
			}
		})
	}
}
