package models

import (
	"testing"
	"time"
)

func TestInvoiceStatus_Transitions(t *testing.T) {
	tests := []struct {
		from, to InvoiceStatus
		ok       bool
	}{
		{InvoiceDraft, InvoiceSent, true},
		{InvoiceDraft, InvoiceCancelled, true},
		{InvoiceDraft, InvoicePaid, false},
		{InvoiceSent, InvoicePaid, true},
		{InvoiceSent, InvoiceOverdue, true},
		{InvoiceOverdue, InvoicePaid, true},
		{InvoiceOverdue, InvoiceSent, false},
		{InvoicePaid, InvoiceCancelled, false},
		{InvoiceCancelled, InvoiceDraft, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.ok {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
	if !InvoicePaid.Terminal() || InvoiceSent.Terminal() {
		t.Errorf("terminal states wrong")
	}
	if InvoiceStatus("draft").Valid() {
		t.Errorf("lowercase status must be invalid")
	}
}

func TestInvoice_EffectiveStatus(t *testing.T) {
	due := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)
	inv := &Invoice{Status: InvoiceSent, DueDate: due}

	if got := inv.EffectiveStatus(due.Add(20 * time.Hour)); got != InvoiceSent {
		t.Errorf("on due date: got %s", got)
	}
	if got := inv.EffectiveStatus(due.AddDate(0, 0, 1)); got != InvoiceOverdue {
		t.Errorf("day after due date: got %s", got)
	}
	inv.Status = InvoicePaid
	if got := inv.EffectiveStatus(due.AddDate(1, 0, 0)); got != InvoicePaid {
		t.Errorf("paid stays paid: got %s", got)
	}
	if d := inv.DaysOverdue(due.AddDate(0, 0, 14).Add(3 * time.Hour)); d != 14 {
		t.Errorf("DaysOverdue = %d, want 14", d)
	}
}

func TestRecurringStatus_Transitions(t *testing.T) {
	if !RecurringActive.CanTransitionTo(RecurringPaused) || !RecurringPaused.CanTransitionTo(RecurringActive) {
		t.Errorf("pause/resume must be allowed")
	}
	if RecurringCancelled.CanTransitionTo(RecurringActive) || RecurringPaused.CanTransitionTo(RecurringEnded) {
		t.Errorf("cancelled is terminal and only active templates end")
	}
}

func TestCustomer_DefaultVATTreatment(t *testing.T) {
	tests := []struct {
		name     string
		customer Customer
		want     VATTreatment
	}{
		{"domestic", Customer{Country: "NL"}, VATStandard},
		{"no country", Customer{}, VATStandard},
		{"eu business", Customer{Country: "de", VATNumber: "DE123456789"}, VATIntraEU},
		{"eu consumer", Customer{Country: "BE"}, VATStandard},
		{"outside eu", Customer{Country: "US"}, VATExport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.customer.DefaultVATTreatment(); got != tt.want {
				t.Errorf("got %s want %s", got, tt.want)
			}
		})
	}
}

func TestCustomer_FullAddress(t *testing.T) {
	tests := []struct {
		name     string
		customer Customer
		want     string
	}{
		{"domestic", Customer{Address: "Keizersgracht 1", PostalCode: "1015 CJ", City: "Amsterdam", Country: "NL"}, "Keizersgracht 1\n1015 CJ Amsterdam"},
		{"foreign", Customer{Address: "Hauptstr. 5", PostalCode: "10115", City: "Berlin", Country: "de"}, "Hauptstr. 5\n10115 Berlin\nDE"},
		{"only city", Customer{City: "Utrecht"}, "Utrecht"},
		{"empty", Customer{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.customer.FullAddress(); got != tt.want {
				t.Errorf("FullAddress() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPaymentLink_Usable(t *testing.T) {
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	l := &PaymentLink{Status: PaymentLinkActive, ExpiresAt: now.Add(time.Hour)}
	if !l.Usable(now) {
		t.Errorf("active link before expiry must be usable")
	}
	if l.Usable(now.Add(2 * time.Hour)) {
		t.Errorf("expired link must not be usable")
	}
	l.Status = PaymentLinkPaid
	if l.Usable(now) {
		t.Errorf("paid link must not be usable")
	}
}
