package pdf

import (
	"bytes"
	"testing"
	"time"

	"github.com/dkortekaas/declair/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleInvoice() *models.Invoice {
	return &models.Invoice{
		Number:       "2025-0008",
		InvoiceDate:  time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		DueDate:      time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC),
		Currency:     "EUR",
		VATTreatment: models.VATIntraEU,
		Subtotal:     decimal.RequireFromString("1000"),
		VATAmount:    decimal.Zero,
		Total:        decimal.RequireFromString("1000"),
		Customer:     &models.Customer{Name: "Müller GmbH", Country: "DE", VATNumber: "DE123456789", City: "Berlin"},
		Items: []models.InvoiceItem{{
			Description: "Consultancy maart",
			Quantity:    decimal.RequireFromString("10"),
			UnitPrice:   decimal.RequireFromString("100"),
			VATRate:     decimal.Zero,
			NetAmount:   decimal.RequireFromString("1000"),
		}},
	}
}

func TestFromInvoice(t *testing.T) {
	company := models.CompanySettings{Name: "Kortekaas ICT", IBAN: "NL91ABNA0417164300"}

	free := FromInvoice(sampleInvoice(), company, models.PlanFree)
	assert.True(t, free.Watermark)
	assert.Equal(t, "Factuur", free.Title)
	assert.Equal(t, "Müller GmbH", free.Customer.Name)
	require.Len(t, free.Lines, 1)
	assert.Equal(t, "1000", free.Lines[0].Net.String())

	pro := FromInvoice(sampleInvoice(), company, models.PlanPro)
	assert.False(t, pro.Watermark)
}

func TestFromCreditNote(t *testing.T) {
	inv := sampleInvoice()
	cn := &models.CreditNote{
		Number:    "CN-2025-0001",
		IssueDate: time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC),
		Reason:    "Dubbel gefactureerd",
		Currency:  "EUR",
		Total:     decimal.RequireFromString("-1000"),
		Invoice:   inv,
	}
	doc := FromCreditNote(cn, models.CompanySettings{Name: "Kortekaas ICT"}, models.PlanPro)
	assert.Equal(t, "Creditnota", doc.Title)
	assert.Equal(t, "2025-0008", doc.InvoiceNumber)
	assert.Nil(t, doc.DueDate)
	assert.Equal(t, "Müller GmbH", doc.Customer.Name)
}

func TestRender(t *testing.T) {
	company := models.CompanySettings{Name: "Kortekaas ICT", KvKNumber: "12345678", IBAN: "NL91ABNA0417164300"}
	for _, plan := range []models.Plan{models.PlanFree, models.PlanPro} {
		t.Run(string(plan), func(t *testing.T) {
			out, err := Render(FromInvoice(sampleInvoice(), company, plan))
			require.NoError(t, err)
			assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
		})
	}
}

func TestTreatmentNote(t *testing.T) {
	assert.Empty(t, treatmentNote(models.VATStandard))
	assert.Equal(t, "BTW verlegd", treatmentNote(models.VATReverseCharge))
	assert.Contains(t, treatmentNote(models.VATExport), "0% BTW")
}
