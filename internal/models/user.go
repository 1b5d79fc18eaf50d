package models

import (
	"time"

	"gorm.io/gorm"
)

// Plan is the subscription tier of an account.
type Plan string

const (
	PlanFree Plan = "FREE"
	PlanPro  Plan = "PRO"
)

// User represents an account holder. Every business record is owned by one.
type User struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
	Email     string         `gorm:"uniqueIndex;size:255;not null" json:"email"`
	Name      string         `gorm:"size:255" json:"name,omitempty"`
	Password  string         `gorm:"size:255;not null" json:"-"`
	// ProfileID links the user to an authorization profile.
	ProfileID *uint    `gorm:"index" json:"profile_id,omitempty"`
	Profile   *Profile `gorm:"foreignKey:ProfileID" json:"profile,omitempty"`

	// UseKOR marks the small-business VAT exemption (kleineondernemersregeling).
	UseKOR bool `gorm:"default:false" json:"use_kor"`

	Plan                 Plan       `gorm:"size:10;default:'FREE'" json:"plan"`
	StripeCustomerID     string     `gorm:"size:100;index" json:"-"`
	StripeSubscriptionID string     `gorm:"size:100;index" json:"-"`
	SubscriptionStatus   string     `gorm:"size:30" json:"subscription_status,omitempty"`
	CurrentPeriodEnd     *time.Time `json:"current_period_end,omitempty"`
}

func (u *User) GetUserID() uint { return u.ID }
