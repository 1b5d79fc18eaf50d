package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Expense is a purchase receipt. Net and VAT are derived from the gross amount.
type Expense struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	UserID      uint      `gorm:"index;not null" json:"user_id"`
	Date        time.Time `gorm:"not null;index" json:"date"`
	Supplier    string    `gorm:"size:255;not null" json:"supplier"`
	Description string    `gorm:"size:500" json:"description,omitempty"`

	GrossAmount   decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"gross_amount"`
	VATRate       decimal.Decimal `gorm:"type:decimal(5,2);not null" json:"vat_rate"`
	NetAmount     decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"net_amount"`
	VATAmount     decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"vat_amount"`
	DeductiblePct decimal.Decimal `gorm:"type:decimal(5,2);not null;default:100" json:"deductible_pct"`

	Currency     string          `gorm:"size:3;not null;default:'EUR'" json:"currency"`
	ExchangeRate decimal.Decimal `gorm:"type:decimal(18,8);not null;default:1" json:"exchange_rate"`

	Category          string `gorm:"size:100;index" json:"category"`
	PredictedCategory string `gorm:"size:100" json:"predicted_category,omitempty"`
	ReceiptURL        string `gorm:"size:1000" json:"receipt_url,omitempty"`
}

func (e *Expense) GetUserID() uint { return e.UserID }

// CategoryCorrection records a manual override of a predicted category.
type CategoryCorrection struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	CreatedAt         time.Time `json:"created_at"`
	UserID            uint      `gorm:"index;not null" json:"user_id"`
	ExpenseID         uint      `gorm:"index;not null" json:"expense_id"`
	Vendor            string    `gorm:"size:255;not null;index" json:"vendor"`
	PredictedCategory string    `gorm:"size:100;not null" json:"predicted_category"`
	ActualCategory    string    `gorm:"size:100;not null" json:"actual_category"`
}

// VendorCategoryStat counts how often a vendor's expenses ended up in a category.
type VendorCategoryStat struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	UserID     uint      `gorm:"not null;uniqueIndex:idx_vendor_category" json:"user_id"`
	Vendor     string    `gorm:"size:255;not null;uniqueIndex:idx_vendor_category" json:"vendor"`
	Category   string    `gorm:"size:100;not null;uniqueIndex:idx_vendor_category" json:"category"`
	Count      int       `gorm:"not null;default:0" json:"count"`
	LastUsedAt time.Time `json:"last_used_at"`
}
