package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Frequency is the base period of a recurring invoice.
type Frequency string

const (
	FrequencyWeekly    Frequency = "WEEKLY"
	FrequencyBiweekly  Frequency = "BIWEEKLY"
	FrequencyMonthly   Frequency = "MONTHLY"
	FrequencyQuarterly Frequency = "QUARTERLY"
	FrequencyBiannual  Frequency = "BIANNUAL"
	FrequencyAnnual    Frequency = "ANNUAL"
)

// Frequencies lists every supported frequency.
var Frequencies = []Frequency{
	FrequencyWeekly, FrequencyBiweekly, FrequencyMonthly,
	FrequencyQuarterly, FrequencyBiannual, FrequencyAnnual,
}

// RecurringInvoice is a template that spawns invoices on a schedule.
type RecurringInvoice struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	UserID     uint      `gorm:"index;not null" json:"user_id"`
	CustomerID uint      `gorm:"index;not null" json:"customer_id"`
	Customer   *Customer `gorm:"foreignKey:CustomerID" json:"customer,omitempty"`

	Name       string    `gorm:"size:255;not null" json:"name"`
	Frequency  Frequency `gorm:"size:20;not null" json:"frequency"`
	Interval   int       `gorm:"not null;default:1" json:"interval"`
	DayOfMonth *int      `json:"day_of_month,omitempty"`

	StartDate time.Time  `gorm:"not null" json:"start_date"`
	EndDate   *time.Time `json:"end_date,omitempty"`
	NextDate  time.Time  `gorm:"not null;index" json:"next_date"`

	Status          RecurringStatus `gorm:"size:20;not null;default:'ACTIVE';index" json:"status"`
	AutoSend        bool            `gorm:"default:false" json:"auto_send"`
	PaymentTermDays int             `gorm:"not null;default:30" json:"payment_term_days"`
	Currency        string          `gorm:"size:3;not null;default:'EUR'" json:"currency"`
	Notes           string          `gorm:"type:text" json:"notes,omitempty"`

	LastGeneratedAt *time.Time `json:"last_generated_at,omitempty"`
	GeneratedCount  int        `gorm:"not null;default:0" json:"generated_count"`

	Items []RecurringInvoiceItem `gorm:"foreignKey:RecurringInvoiceID;constraint:OnDelete:CASCADE" json:"items,omitempty"`
}

func (r *RecurringInvoice) GetUserID() uint { return r.UserID }

type RecurringInvoiceItem struct {
	ID                 uint            `gorm:"primaryKey" json:"id"`
	RecurringInvoiceID uint            `gorm:"index;not null" json:"recurring_invoice_id"`
	Description        string          `gorm:"size:500;not null" json:"description"`
	Quantity           decimal.Decimal `gorm:"type:decimal(12,3);not null;default:1" json:"quantity"`
	UnitPrice          decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"unit_price"`
	VATRate            decimal.Decimal `gorm:"type:decimal(5,2);not null" json:"vat_rate"`
	Position           int             `gorm:"default:0" json:"position"`
}
