// Package pdf renders invoices and credit notes with maroto.
package pdf

import (
	"fmt"
	"strings"
	"time"

	"github.com/dkortekaas/declair/internal/models"
	"github.com/dkortekaas/declair/internal/money"
	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/row"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"
	"github.com/shopspring/decimal"
)

// WatermarkText is printed on every page of documents of free accounts.
const WatermarkText = "Gemaakt met Declair Gratis"

const dateLayout = "02-01-2006"

type Line struct {
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	VATRate     decimal.Decimal
	Net         decimal.Decimal
}

// Document is everything printed on one invoice or credit note.
type Document struct {
	Title         string
	Number        string
	Reference     string
	Date          time.Time
	DueDate       *time.Time
	Company       models.CompanySettings
	Customer      models.Customer
	Currency      string
	Lines         []Line
	Subtotal      decimal.Decimal
	VAT           decimal.Decimal
	Total         decimal.Decimal
	VATTreatment  models.VATTreatment
	Notes         string
	PaymentURL    string
	Watermark     bool
	InvoiceNumber string
}

// FromInvoice builds the document of an invoice. Customer must be loaded.
func FromInvoice(inv *models.Invoice, company models.CompanySettings, plan models.Plan) Document {
	due := inv.DueDate
	doc := Document{
		Title:        "Factuur",
		Number:       inv.Number,
		Reference:    inv.Reference,
		Date:         inv.InvoiceDate,
		DueDate:      &due,
		Company:      company,
		Currency:     inv.Currency,
		Subtotal:     inv.Subtotal,
		VAT:          inv.VATAmount,
		Total:        inv.Total,
		VATTreatment: inv.VATTreatment,
		Notes:        inv.Notes,
		Watermark:    plan != models.PlanPro,
	}
	if inv.Customer != nil {
		doc.Customer = *inv.Customer
	}
	for _, it := range inv.Items {
		doc.Lines = append(doc.Lines, Line{it.Description, it.Quantity, it.UnitPrice, it.VATRate, it.NetAmount})
	}
	return doc
}

// FromCreditNote builds the document of a credit note. Invoice and its
// customer must be loaded.
func FromCreditNote(cn *models.CreditNote, company models.CompanySettings, plan models.Plan) Document {
	doc := Document{
		Title:        "Creditnota",
		Number:       cn.Number,
		Date:         cn.IssueDate,
		Company:      company,
		Currency:     cn.Currency,
		Subtotal:     cn.Subtotal,
		VAT:          cn.VATAmount,
		Total:        cn.Total,
		VATTreatment: cn.VATTreatment,
		Notes:        cn.Reason,
		Watermark:    plan != models.PlanPro,
	}
	if cn.Invoice != nil {
		doc.InvoiceNumber = cn.Invoice.Number
		if cn.Invoice.Customer != nil {
			doc.Customer = *cn.Invoice.Customer
		}
	}
	for _, it := range cn.Items {
		doc.Lines = append(doc.Lines, Line{it.Description, it.Quantity, it.UnitPrice, it.VATRate, it.NetAmount})
	}
	return doc
}

// treatmentNote is the legally required remark for zero-rated supplies.
func treatmentNote(t models.VATTreatment) string {
	switch t {
	case models.VATReverseCharge:
		return "BTW verlegd"
	case models.VATIntraEU:
		return "Intracommunautaire levering, BTW verlegd (art. 138 Btw-richtlijn)"
	case models.VATExport:
		return "Export buiten de EU, 0% BTW"
	}
	return ""
}

var (
	gray      = &props.Color{Red: 120, Green: 120, Blue: 120}
	lightGray = &props.Color{Red: 215, Green: 215, Blue: 215}
	bold      = props.Text{Style: fontstyle.Bold}
	right     = props.Text{Align: align.Right}
	rightBold = props.Text{Align: align.Right, Style: fontstyle.Bold}
)

// Render produces the PDF bytes of doc.
func Render(doc Document) ([]byte, error) {
	cfg := config.NewBuilder().
		WithLeftMargin(15).
		WithTopMargin(15).
		WithRightMargin(15).
		Build()
	m := maroto.New(cfg)

	if doc.Watermark {
		wm := text.NewRow(12, WatermarkText, props.Text{Size: 14, Style: fontstyle.Bold, Align: align.Center, Color: lightGray})
		if err := m.RegisterFooter(wm); err != nil {
			return nil, err
		}
	}

	m.AddRows(header(doc)...)
	m.AddRows(line.NewRow(4))
	m.AddRows(lineRows(doc)...)
	m.AddRows(line.NewRow(4))
	m.AddRows(totalRows(doc)...)
	m.AddRows(footer(doc)...)

	out, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate pdf: %w", err)
	}
	return out.GetBytes(), nil
}

func header(doc Document) []core.Row {
	c := doc.Company
	rows := []core.Row{
		text.NewRow(10, c.Name, props.Text{Size: 16, Style: fontstyle.Bold}),
	}
	for _, l := range nonEmpty(c.Address, strings.TrimSpace(c.PostalCode+" "+c.City), c.Email, c.Phone) {
		rows = append(rows, text.NewRow(5, l, props.Text{Size: 9, Color: gray}))
	}
	ids := nonEmpty(prefixed("KvK ", c.KvKNumber), prefixed("BTW ", c.VATNumber), prefixed("IBAN ", c.IBAN))
	if len(ids) > 0 {
		rows = append(rows, text.NewRow(5, strings.Join(ids, "  |  "), props.Text{Size: 9, Color: gray}))
	}

	rows = append(rows, text.NewRow(14, doc.Title+" "+doc.Number, props.Text{Size: 14, Style: fontstyle.Bold, Top: 6}))

	cust := doc.Customer
	custLines := append([]string{cust.Name}, strings.Split(cust.FullAddress(), "\n")...)
	if cust.VATNumber != "" {
		custLines = append(custLines, "BTW "+cust.VATNumber)
	}
	meta := []string{"Datum: " + doc.Date.Format(dateLayout)}
	if doc.DueDate != nil {
		meta = append(meta, "Vervaldatum: "+doc.DueDate.Format(dateLayout))
	}
	if doc.InvoiceNumber != "" {
		meta = append(meta, "Factuur: "+doc.InvoiceNumber)
	}
	if doc.Reference != "" {
		meta = append(meta, "Referentie: "+doc.Reference)
	}
	custLines = nonEmpty(custLines...)
	for i := 0; i < max(len(custLines), len(meta)); i++ {
		rows = append(rows, doubleRow(at(custLines, i), at(meta, i)))
	}
	return rows
}

func doubleRow(left, rightText string) core.Row {
	return newRow(5, text.NewCol(7, left, props.Text{Size: 10}), text.NewCol(5, rightText, props.Text{Size: 10, Align: align.Right}))
}

func lineRows(doc Document) []core.Row {
	rows := []core.Row{newRow(7,
		text.NewCol(6, "Omschrijving", bold),
		text.NewCol(1, "Aantal", rightBold),
		text.NewCol(2, "Prijs", rightBold),
		text.NewCol(1, "BTW", rightBold),
		text.NewCol(2, "Bedrag", rightBold),
	)}
	for _, l := range doc.Lines {
		rows = append(rows, newRow(6,
			text.NewCol(6, l.Description),
			text.NewCol(1, l.Quantity.String(), right),
			text.NewCol(2, money.Format(l.UnitPrice, doc.Currency), right),
			text.NewCol(1, l.VATRate.String()+"%", right),
			text.NewCol(2, money.Format(l.Net, doc.Currency), right),
		))
	}
	return rows
}

func totalRows(doc Document) []core.Row {
	return []core.Row{
		newRow(6, text.NewCol(9, "Subtotaal", right), text.NewCol(3, money.Format(doc.Subtotal, doc.Currency), right)),
		newRow(6, text.NewCol(9, "BTW", right), text.NewCol(3, money.Format(doc.VAT, doc.Currency), right)),
		newRow(8, text.NewCol(9, "Totaal", rightBold), text.NewCol(3, money.Format(doc.Total, doc.Currency), rightBold)),
	}
}

func footer(doc Document) []core.Row {
	var rows []core.Row
	if note := treatmentNote(doc.VATTreatment); note != "" {
		rows = append(rows, text.NewRow(8, note, props.Text{Size: 9, Style: fontstyle.Italic, Top: 3}))
	}
	if doc.DueDate != nil && doc.Company.IBAN != "" {
		msg := fmt.Sprintf("Graag voor %s overmaken op %s o.v.v. %s.", doc.DueDate.Format(dateLayout), doc.Company.IBAN, doc.Number)
		rows = append(rows, text.NewRow(8, msg, props.Text{Size: 9, Top: 3}))
	}
	if doc.PaymentURL != "" {
		rows = append(rows, text.NewRow(6, "Online betalen: "+doc.PaymentURL, props.Text{Size: 9}))
	}
	if doc.Notes != "" {
		rows = append(rows, text.NewRow(10, doc.Notes, props.Text{Size: 9, Top: 3, Color: gray}))
	}
	return rows
}

func newRow(height float64, cols ...core.Col) core.Row {
	return row.New(height).Add(cols...)
}

func nonEmpty(ss ...string) []string {
	out := ss[:0:0]
	for _, s := range ss {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

func prefixed(prefix, v string) string {
	if v == "" {
		return ""
	}
	return prefix + v
}

func at(ss []string, i int) string {
	if i < len(ss) {
		return ss[i]
	}
	return ""
}
