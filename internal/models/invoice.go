package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Invoice is a sales invoice. Amounts are in Currency; ExchangeRate converts
// them to EUR for VAT reporting.
type Invoice struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	UserID     uint      `gorm:"not null;uniqueIndex:idx_invoice_user_number" json:"user_id"`
	Number     string    `gorm:"size:20;not null;uniqueIndex:idx_invoice_user_number" json:"number"`
	CustomerID uint      `gorm:"index;not null" json:"customer_id"`
	Customer   *Customer `gorm:"foreignKey:CustomerID" json:"customer,omitempty"`

	InvoiceDate time.Time     `gorm:"not null;index" json:"invoice_date"`
	DueDate     time.Time     `gorm:"not null" json:"due_date"`
	Status      InvoiceStatus `gorm:"size:20;not null;default:'DRAFT';index" json:"status"`
	SentAt      *time.Time    `json:"sent_at,omitempty"`
	PaidAt      *time.Time    `json:"paid_at,omitempty"`

	VATTreatment VATTreatment    `gorm:"size:20;not null;default:'STANDARD'" json:"vat_treatment"`
	Currency     string          `gorm:"size:3;not null;default:'EUR'" json:"currency"`
	ExchangeRate decimal.Decimal `gorm:"type:decimal(18,8);not null;default:1" json:"exchange_rate"`

	Subtotal  decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"subtotal"`
	VATAmount decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"vat_amount"`
	Total     decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"total"`

	Reference string `gorm:"size:100" json:"reference,omitempty"`
	Notes     string `gorm:"type:text" json:"notes,omitempty"`

	RecurringInvoiceID *uint `gorm:"index" json:"recurring_invoice_id,omitempty"`
	QuoteID            *uint `gorm:"index" json:"quote_id,omitempty"`

	Items []InvoiceItem `gorm:"foreignKey:InvoiceID;constraint:OnDelete:CASCADE" json:"items,omitempty"`
}

func (i *Invoice) GetUserID() uint { return i.UserID }

// EffectiveStatus is the stored status with OVERDUE derived for sent
// invoices whose due date lies before now.
func (i *Invoice) EffectiveStatus(now time.Time) InvoiceStatus {
	if i.Status == InvoiceSent && now.After(endOfDay(i.DueDate)) {
		return InvoiceOverdue
	}
	return i.Status
}

// DaysOverdue counts whole days past the due date; negative before it.
func (i *Invoice) DaysOverdue(now time.Time) int {
	due := time.Date(i.DueDate.Year(), i.DueDate.Month(), i.DueDate.Day(), 0, 0, 0, 0, time.UTC)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return int(today.Sub(due).Hours() / 24)
}

type InvoiceItem struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	InvoiceID   uint            `gorm:"index;not null" json:"invoice_id"`
	Description string          `gorm:"size:500;not null" json:"description"`
	Quantity    decimal.Decimal `gorm:"type:decimal(12,3);not null;default:1" json:"quantity"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"unit_price"`
	VATRate     decimal.Decimal `gorm:"type:decimal(5,2);not null" json:"vat_rate"`
	NetAmount   decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"net_amount"`
	VATAmount   decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"vat_amount"`
	Position    int             `gorm:"default:0" json:"position"`
}

// InvoiceSequence is the per (user, kind, year) counter behind invoice and
// credit note numbers.
type InvoiceSequence struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_sequence_scope" json:"user_id"`
	Kind      string    `gorm:"size:20;not null;uniqueIndex:idx_sequence_scope" json:"kind"`
	Year      int       `gorm:"not null;uniqueIndex:idx_sequence_scope" json:"year"`
	LastValue int       `gorm:"not null;default:0" json:"last_value"`
}

// CreditNote fully or partially reverses an issued invoice. Amounts are
// stored negative.
type CreditNote struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	UserID    uint     `gorm:"not null;uniqueIndex:idx_credit_note_user_number" json:"user_id"`
	Number    string   `gorm:"size:20;not null;uniqueIndex:idx_credit_note_user_number" json:"number"`
	InvoiceID uint     `gorm:"index;not null" json:"invoice_id"`
	Invoice   *Invoice `gorm:"foreignKey:InvoiceID" json:"invoice,omitempty"`

	IssueDate    time.Time       `gorm:"not null" json:"issue_date"`
	Reason       string          `gorm:"size:500" json:"reason,omitempty"`
	VATTreatment VATTreatment    `gorm:"size:20;not null;default:'STANDARD'" json:"vat_treatment"`
	Currency     string          `gorm:"size:3;not null;default:'EUR'" json:"currency"`
	ExchangeRate decimal.Decimal `gorm:"type:decimal(18,8);not null;default:1" json:"exchange_rate"`
	Subtotal     decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"subtotal"`
	VATAmount    decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"vat_amount"`
	Total        decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"total"`

	Items []CreditNoteItem `gorm:"foreignKey:CreditNoteID;constraint:OnDelete:CASCADE" json:"items,omitempty"`
}

func (c *CreditNote) GetUserID() uint { return c.UserID }

type CreditNoteItem struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	CreditNoteID uint            `gorm:"index;not null" json:"credit_note_id"`
	Description  string          `gorm:"size:500;not null" json:"description"`
	Quantity     decimal.Decimal `gorm:"type:decimal(12,3);not null" json:"quantity"`
	UnitPrice    decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"unit_price"`
	VATRate      decimal.Decimal `gorm:"type:decimal(5,2);not null" json:"vat_rate"`
	NetAmount    decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"net_amount"`
	VATAmount    decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"vat_amount"`
	Position     int             `gorm:"default:0" json:"position"`
}

// PaymentReminder records that a reminder of a type went out; the unique
// index makes each type at most once per invoice.
type PaymentReminder struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	InvoiceID uint      `gorm:"not null;uniqueIndex:idx_reminder_invoice_type" json:"invoice_id"`
	Type      string    `gorm:"size:20;not null;uniqueIndex:idx_reminder_invoice_type" json:"type"`
	SentAt    time.Time `gorm:"not null" json:"sent_at"`
	Recipient string    `gorm:"size:255" json:"recipient"`
}

type PaymentLinkStatus string

const (
	PaymentLinkActive  PaymentLinkStatus = "ACTIVE"
	PaymentLinkPaid    PaymentLinkStatus = "PAID"
	PaymentLinkExpired PaymentLinkStatus = "EXPIRED"
)

// PaymentLink is a hosted checkout URL for one invoice.
type PaymentLink struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UserID     uint              `gorm:"index;not null" json:"user_id"`
	InvoiceID  uint              `gorm:"index;not null" json:"invoice_id"`
	Token      string            `gorm:"size:36;uniqueIndex;not null" json:"token"`
	Provider   string            `gorm:"size:20;not null;default:'stripe'" json:"provider"`
	ProviderID string            `gorm:"size:255;index" json:"-"`
	URL        string            `gorm:"size:1000;not null" json:"url"`
	Amount     decimal.Decimal   `gorm:"type:decimal(12,2);not null" json:"amount"`
	Currency   string            `gorm:"size:3;not null" json:"currency"`
	ExpiresAt  time.Time         `gorm:"not null" json:"expires_at"`
	Status     PaymentLinkStatus `gorm:"size:20;not null;default:'ACTIVE'" json:"status"`
}

func (p *PaymentLink) GetUserID() uint { return p.UserID }

func (p *PaymentLink) Usable(now time.Time) bool {
	return p.Status == PaymentLinkActive && now.Before(p.ExpiresAt)
}

func endOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, int(time.Second-time.Nanosecond), t.Location())
}
