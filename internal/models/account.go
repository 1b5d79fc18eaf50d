package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type DiscountType string

const (
	DiscountPercent DiscountType = "PERCENT"
	DiscountFixed   DiscountType = "FIXED"
)

// DiscountCode is an admin-managed code applied to subscription checkout.
type DiscountCode struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Code           string          `gorm:"size:50;uniqueIndex;not null" json:"code"`
	Description    string          `gorm:"size:255" json:"description,omitempty"`
	Type           DiscountType    `gorm:"size:10;not null" json:"type"`
	Value          decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"value"`
	MaxUses        *int            `json:"max_uses,omitempty"`
	UsedCount      int             `gorm:"not null;default:0" json:"used_count"`
	ExpiresAt      *time.Time      `json:"expires_at,omitempty"`
	Active         bool            `gorm:"default:true" json:"active"`
	StripeCouponID string          `gorm:"size:100" json:"stripe_coupon_id,omitempty"`
}

type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "PENDING"
	InvitationAccepted InvitationStatus = "ACCEPTED"
	InvitationRevoked  InvitationStatus = "REVOKED"
)

// Invitation lets an admin onboard a user with a preset profile.
type Invitation struct {
	ID         uint             `gorm:"primaryKey" json:"id"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
	Email      string           `gorm:"size:255;not null;index" json:"email"`
	Token      string           `gorm:"size:36;uniqueIndex;not null" json:"-"`
	ProfileID  *uint            `json:"profile_id,omitempty"`
	InvitedBy  uint             `gorm:"index;not null" json:"invited_by"`
	ExpiresAt  time.Time        `gorm:"not null" json:"expires_at"`
	Status     InvitationStatus `gorm:"size:20;not null;default:'PENDING'" json:"status"`
	AcceptedAt *time.Time       `json:"accepted_at,omitempty"`
	UserID     *uint            `json:"user_id,omitempty"`
}

// PasswordResetToken stores the SHA-256 of a reset token, never the token.
type PasswordResetToken struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UserID    uint      `gorm:"index;not null"`
	TokenHash string    `gorm:"size:64;uniqueIndex;not null"`
	ExpiresAt time.Time `gorm:"not null"`
	UsedAt    *time.Time
}

// AuditLog is an append-only, per-user hash chained record of changes.
type AuditLog struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	CreatedAt    time.Time      `gorm:"not null" json:"created_at"`
	UserID       uint           `gorm:"index;not null" json:"user_id"`
	EntityType   string         `gorm:"size:50;not null;index:idx_audit_entity" json:"entity_type"`
	EntityID     uint           `gorm:"not null;index:idx_audit_entity" json:"entity_id"`
	Action       string         `gorm:"size:50;not null" json:"action"`
	Changes      datatypes.JSON `json:"changes,omitempty"`
	IPAddress    string         `gorm:"size:64" json:"ip_address,omitempty"`
	PreviousHash string         `gorm:"size:64;not null" json:"previous_hash"`
	Hash         string         `gorm:"size:64;not null;uniqueIndex" json:"hash"`
}

type Currency struct {
	Code     string `gorm:"primaryKey;size:3" json:"code"`
	Name     string `gorm:"size:100;not null" json:"name"`
	Symbol   string `gorm:"size:10" json:"symbol"`
	Decimals int    `gorm:"not null;default:2" json:"decimals"`
	Active   bool   `gorm:"default:true" json:"active"`
}

// ExchangeRate gives how many Quote units one Base unit buys on Date.
type ExchangeRate struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	Base      string          `gorm:"size:3;not null;uniqueIndex:idx_rate_pair_date" json:"base"`
	Quote     string          `gorm:"size:3;not null;uniqueIndex:idx_rate_pair_date" json:"quote"`
	Date      time.Time       `gorm:"not null;uniqueIndex:idx_rate_pair_date" json:"date"`
	Rate      decimal.Decimal `gorm:"type:decimal(18,8);not null" json:"rate"`
	Source    string          `gorm:"size:50" json:"source,omitempty"`
}

type SubscriberStatus string

const (
	SubscriberPending      SubscriberStatus = "PENDING"
	SubscriberConfirmed    SubscriberStatus = "CONFIRMED"
	SubscriberUnsubscribed SubscriberStatus = "UNSUBSCRIBED"
)

type NewsletterSubscriber struct {
	ID             uint             `gorm:"primaryKey" json:"id"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
	Email          string           `gorm:"size:255;uniqueIndex;not null" json:"email"`
	Status         SubscriberStatus `gorm:"size:20;not null;default:'PENDING'" json:"status"`
	ConfirmToken   string           `gorm:"size:36;index" json:"-"`
	ConfirmedAt    *time.Time       `json:"confirmed_at,omitempty"`
	UnsubscribedAt *time.Time       `json:"unsubscribed_at,omitempty"`
}
