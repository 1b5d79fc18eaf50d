package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Quote is an offer that a customer can sign through a public link.
type Quote struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	UserID     uint      `gorm:"not null;uniqueIndex:idx_quote_user_number" json:"user_id"`
	Number     string    `gorm:"size:20;not null;uniqueIndex:idx_quote_user_number" json:"number"`
	CustomerID uint      `gorm:"index;not null" json:"customer_id"`
	Customer   *Customer `gorm:"foreignKey:CustomerID" json:"customer,omitempty"`

	QuoteDate  time.Time   `gorm:"not null" json:"quote_date"`
	ValidUntil time.Time   `gorm:"not null" json:"valid_until"`
	Status     QuoteStatus `gorm:"size:20;not null;default:'DRAFT'" json:"status"`

	Currency  string          `gorm:"size:3;not null;default:'EUR'" json:"currency"`
	Subtotal  decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"subtotal"`
	VATAmount decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"vat_amount"`
	Total     decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"total"`
	Notes     string          `gorm:"type:text" json:"notes,omitempty"`

	SigningToken     *string       `gorm:"size:36;uniqueIndex" json:"-"`
	SigningEnabled   bool          `gorm:"default:false" json:"signing_enabled"`
	SigningExpiresAt *time.Time    `json:"signing_expires_at,omitempty"`
	SigningStatus    SigningStatus `gorm:"size:20;not null;default:'PENDING'" json:"signing_status"`
	SignedAt         *time.Time    `json:"signed_at,omitempty"`
	SignerName       string        `gorm:"size:255" json:"signer_name,omitempty"`
	SignerEmail      string        `gorm:"size:255" json:"signer_email,omitempty"`
	SignerIP         string        `gorm:"size:64" json:"-"`
	DeclineReason    string        `gorm:"size:1000" json:"decline_reason,omitempty"`

	ConvertedInvoiceID *uint `json:"converted_invoice_id,omitempty"`

	Items []QuoteItem `gorm:"foreignKey:QuoteID;constraint:OnDelete:CASCADE" json:"items,omitempty"`
}

func (q *Quote) GetUserID() uint { return q.UserID }

type QuoteItem struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	QuoteID     uint            `gorm:"index;not null" json:"quote_id"`
	Description string          `gorm:"size:500;not null" json:"description"`
	Quantity    decimal.Decimal `gorm:"type:decimal(12,3);not null;default:1" json:"quantity"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"unit_price"`
	VATRate     decimal.Decimal `gorm:"type:decimal(5,2);not null" json:"vat_rate"`
	NetAmount   decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"net_amount"`
	VATAmount   decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"vat_amount"`
	Position    int             `gorm:"default:0" json:"position"`
}
