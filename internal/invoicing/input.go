package invoicing

import (
	"strconv"
	"strings"
	"time"

	"github.com/dkortekaas/declair/internal/models"
	"github.com/dkortekaas/declair/validation"
	"github.com/shopspring/decimal"
)

type ItemInput struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	VATRate     decimal.Decimal `json:"vat_rate"`
}

// Input is the body of create and update. Dates are YYYY-MM-DD; an empty
// invoice date means today and an empty due date applies the payment term.
type Input struct {
	CustomerID   uint                `json:"customer_id"`
	InvoiceDate  string              `json:"invoice_date"`
	DueDate      string              `json:"due_date"`
	VATTreatment models.VATTreatment `json:"vat_treatment"`
	Currency     string              `json:"currency"`
	Reference    string              `json:"reference"`
	Notes        string              `json:"notes"`
	Items        []ItemInput         `json:"items"`
}

func parseDate(s string) (time.Time, bool) {
	t, err := time.Parse(time.DateOnly, strings.TrimSpace(s))
	return t, err == nil
}

// Validate checks the input without touching the database.
func (in Input) Validate() validation.Violations {
	v := validation.Violations{}
	if in.CustomerID == 0 {
		v.Add("customer_id", "required")
	}
	var invDate, dueDate time.Time
	var okInv, okDue bool
	if in.InvoiceDate != "" {
		if invDate, okInv = parseDate(in.InvoiceDate); !okInv {
			v.Add("invoice_date", "invalid_date")
		}
	}
	if in.DueDate != "" {
		if dueDate, okDue = parseDate(in.DueDate); !okDue {
			v.Add("due_date", "invalid_date")
		}
	}
	if okInv && okDue && dueDate.Before(invDate) {
		v.Add("due_date", "out_of_range")
	}
	if in.VATTreatment != "" && !in.VATTreatment.Valid() {
		v.Add("vat_treatment", "invalid")
	}
	if c := strings.TrimSpace(in.Currency); c != "" && len(c) != 3 {
		v.Add("currency", "invalid")
	}
	if len(in.Items) == 0 {
		v.Add("items", "required")
	}
	for i, it := range in.Items {
		p := "items." + strconv.Itoa(i) + "."
		validation.Required(p+"description", it.Description, v)
		validation.PositiveDecimal(p+"quantity", it.Quantity, v)
		validation.NonNegativeDecimal(p+"unit_price", it.UnitPrice, v)
		validation.VATRate(p+"vat_rate", it.VATRate, v)
	}
	return v
}
