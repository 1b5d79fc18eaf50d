package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TimeEntry is tracked work. Once Invoiced is set the entry is frozen.
type TimeEntry struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	UserID    uint     `gorm:"index;not null" json:"user_id"`
	ProjectID uint     `gorm:"index;not null" json:"project_id"`
	Project   *Project `gorm:"foreignKey:ProjectID" json:"project,omitempty"`

	Description     string          `gorm:"size:500" json:"description"`
	StartTime       time.Time       `gorm:"not null;index" json:"start_time"`
	EndTime         *time.Time      `json:"end_time,omitempty"`
	DurationMinutes int             `gorm:"not null;default:0" json:"duration_minutes"`
	HourlyRate      decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"hourly_rate"`
	Amount          decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"amount"`
	Billable        bool            `gorm:"default:true" json:"billable"`

	Invoiced  bool  `gorm:"default:false;index" json:"invoiced"`
	InvoiceID *uint `gorm:"index" json:"invoice_id,omitempty"`
}

func (t *TimeEntry) GetUserID() uint { return t.UserID }
