// Package discount manages the codes customers can enter at subscription
// checkout.
package discount

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/dkortekaas/declair/internal/models"
	"github.com/dkortekaas/declair/internal/money"
	"github.com/dkortekaas/declair/validation"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrNotFound  = errors.New("discount code not found")
	ErrInactive  = errors.New("discount code is not active")
	ErrExpired   = errors.New("discount code has expired")
	ErrExhausted = errors.New("discount code has no uses left")
)

var (
	codePattern = regexp.MustCompile(`^[A-Z0-9_-]{3,50}$`)
	hundred     = decimal.NewFromInt(100)
)

// Normalize uppercases and trims a code the way it is stored.
func Normalize(code string) string { return strings.ToUpper(strings.TrimSpace(code)) }

type Input struct {
	Code           string              `json:"code"`
	Description    string              `json:"description"`
	Type           models.DiscountType `json:"type"`
	Value          decimal.Decimal     `json:"value"`
	MaxUses        *int                `json:"max_uses"`
	ExpiresAt      *time.Time          `json:"expires_at"`
	StripeCouponID string              `json:"stripe_coupon_id"`
}

func (in Input) Validate() validation.Violations {
	v := validation.Violations{}
	if !codePattern.MatchString(Normalize(in.Code)) {
		v.Add("code", "invalid")
	}
	switch in.Type {
	case models.DiscountPercent:
		if !in.Value.IsPositive() || in.Value.GreaterThan(hundred) {
			v.Add("value", "out_of_range")
		}
	case models.DiscountFixed:
		validation.PositiveDecimal("value", in.Value, v)
	default:
		v.Add("type", "invalid")
	}
	if in.MaxUses != nil && *in.MaxUses < 1 {
		v.Add("max_uses", "must_be_positive")
	}
	return v
}

// Apply returns amount after the discount, never below zero.
func Apply(d *models.DiscountCode, amount decimal.Decimal) decimal.Decimal {
	var out decimal.Decimal
	switch d.Type {
	case models.DiscountPercent:
		out = amount.Sub(money.Percent(amount, d.Value))
	case models.DiscountFixed:
		out = amount.Sub(d.Value)
	default:
		out = amount
	}
	if out.IsNegative() {
		return decimal.Zero
	}
	return money.Round(out)
}

// Usable checks a code against now without touching the database.
func Usable(d *models.DiscountCode, now time.Time) error {
	switch {
	case !d.Active:
		return ErrInactive
	case d.ExpiresAt != nil && !now.Before(*d.ExpiresAt):
		return ErrExpired
	case d.MaxUses != nil && d.UsedCount >= *d.MaxUses:
		return ErrExhausted
	}
	return nil
}

type Service struct {
	db  *gorm.DB
	now func() time.Time
}

func NewService(db *gorm.DB) *Service { return &Service{db: db, now: time.Now} }

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) Create(ctx context.Context, in Input) (*models.DiscountCode, error) {
	if v := in.Validate(); !v.Empty() {
		return nil, v
	}
	d := &models.DiscountCode{
		Code:           Normalize(in.Code),
		Description:    strings.TrimSpace(in.Description),
		Type:           in.Type,
		Value:          in.Value,
		MaxUses:        in.MaxUses,
		ExpiresAt:      in.ExpiresAt,
		Active:         true,
		StripeCouponID: strings.TrimSpace(in.StripeCouponID),
	}
	err := s.db.WithContext(ctx).Create(d).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, validation.Violations{"code": "taken"}
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Service) List(ctx context.Context) ([]models.DiscountCode, error) {
	var out []models.DiscountCode
	err := s.db.WithContext(ctx).Order("created_at desc, id desc").Find(&out).Error
	return out, err
}

// SetActive switches a code on or off.
func (s *Service) SetActive(ctx context.Context, id uint, active bool) (*models.DiscountCode, error) {
	var d models.DiscountCode
	if err := s.db.WithContext(ctx).First(&d, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(&d).Update("active", active).Error; err != nil {
		return nil, err
	}
	d.Active = active
	return &d, nil
}

// Validate looks up code and reports why it cannot be used, if so.
func (s *Service) Validate(ctx context.Context, code string) (*models.DiscountCode, error) {
	var d models.DiscountCode
	err := s.db.WithContext(ctx).Where("code = ?", Normalize(code)).Take(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := Usable(&d, s.now()); err != nil {
		return nil, err
	}
	return &d, nil
}

// Redeem counts one use of code. The increment is conditional, so two
// concurrent redemptions of the last use cannot both succeed.
func (s *Service) Redeem(ctx context.Context, tx *gorm.DB, code string) error {
	if tx == nil {
		tx = s.db
	}
	now := s.now()
	res := tx.WithContext(ctx).Model(&models.DiscountCode{}).
		Where("code = ? AND active = ?", Normalize(code), true).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Where("max_uses IS NULL OR used_count < max_uses").
		Update("used_count", gorm.Expr("used_count + 1"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}
	if _, err := s.Validate(ctx, code); err != nil {
		return err
	}
	return ErrExhausted
}
