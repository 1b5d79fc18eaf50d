package models

import (
	"time"

	"gorm.io/gorm"
)

// CompanySettings is the sender block printed on invoices, quotes and credit notes.
type CompanySettings struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	UserID uint `gorm:"uniqueIndex;not null" json:"user_id"`

	Name    string `gorm:"size:255;not null" json:"name"`
	Email   string `gorm:"size:255" json:"email,omitempty"`
	Phone   string `gorm:"size:50" json:"phone,omitempty"`
	Website string `gorm:"size:255" json:"website,omitempty"`

	Address    string `gorm:"size:500" json:"address,omitempty"`
	City       string `gorm:"size:100" json:"city,omitempty"`
	PostalCode string `gorm:"size:20" json:"postal_code,omitempty"`
	Country    string `gorm:"size:2;default:'NL'" json:"country,omitempty"`

	KvKNumber string `gorm:"size:8" json:"kvk_number,omitempty"`
	VATNumber string `gorm:"size:20" json:"vat_number,omitempty"`
	IBAN      string `gorm:"size:34" json:"iban,omitempty"`

	// PaymentTermDays is the default due date offset for new invoices.
	PaymentTermDays int    `gorm:"default:30" json:"payment_term_days"`
	LogoURL         string `gorm:"size:500" json:"logo_url,omitempty"`
}

func (c *CompanySettings) GetUserID() uint { return c.UserID }
