package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type VATReportStatus string

const (
	VATReportDraft     VATReportStatus = "DRAFT"
	VATReportSubmitted VATReportStatus = "SUBMITTED"
)

// VATReport is the quarterly VAT return of one user. All amounts are EUR.
type VATReport struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UserID  uint `gorm:"not null;uniqueIndex:idx_vat_report_period" json:"user_id"`
	Year    int  `gorm:"not null;uniqueIndex:idx_vat_report_period" json:"year"`
	Quarter int  `gorm:"not null;uniqueIndex:idx_vat_report_period" json:"quarter"`

	HighNet      decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"high_net"`
	HighVAT      decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"high_vat"`
	LowNet       decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"low_net"`
	LowVAT       decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"low_vat"`
	ZeroNet      decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"zero_net"`
	ReversedNet  decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"reversed_net"`
	EUNet        decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"eu_net"`
	ExportNet    decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"export_net"`
	ExpensesNet  decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"expenses_net"`
	ExpensesVAT  decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"expenses_vat"`
	RevenueTotal decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"revenue_total"`

	VATOwed       decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"vat_owed"`
	VATDeductible decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"vat_deductible"`
	VATBalance    decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"vat_balance"`
	UsedKOR       bool            `gorm:"default:false" json:"used_kor"`

	InvoiceCount int             `gorm:"not null;default:0" json:"invoice_count"`
	ExpenseCount int             `gorm:"not null;default:0" json:"expense_count"`
	Status       VATReportStatus `gorm:"size:20;not null;default:'DRAFT'" json:"status"`
	SubmittedAt  *time.Time      `json:"submitted_at,omitempty"`
}

func (r *VATReport) GetUserID() uint { return r.UserID }
