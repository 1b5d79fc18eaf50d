// Package currency looks up exchange rates and converts amounts.
package currency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dkortekaas/declair/internal/models"
	"github.com/dkortekaas/declair/internal/money"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Base is the bookkeeping currency.
const Base = "EUR"

var (
	ErrNoRate          = errors.New("no exchange rate available")
	ErrUnknownCurrency = errors.New("unknown currency")
)

// Service reads and writes rates. Identical concurrent lookups share one
// database round trip.
type Service struct {
	db    *gorm.DB
	group singleflight.Group
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

func normalize(code string) string { return strings.ToUpper(strings.TrimSpace(code)) }

// Rate returns how many units of to one unit of from buys on the given day,
// using the latest rate on or before it. Direct pairs win over the inverse
// pair, which wins over a cross rate through EUR.
func (s *Service) Rate(ctx context.Context, from, to string, on time.Time) (decimal.Decimal, error) {
	from, to = normalize(from), normalize(to)
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	day := on.UTC().Format(time.DateOnly)
	key := from + "|" + to + "|" + day
	v, err, _ := s.group.Do(key, func() (any, error) {
		return s.lookup(ctx, from, to, on)
	})
	if err != nil {
		return decimal.Zero, err
	}
	return v.(decimal.Decimal), nil
}

func (s *Service) lookup(ctx context.Context, from, to string, on time.Time) (decimal.Decimal, error) {
	if r, err := s.latest(ctx, from, to, on); err == nil {
		return r, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, err
	}
	if r, err := s.latest(ctx, to, from, on); err == nil && !r.IsZero() {
		return decimal.NewFromInt(1).DivRound(r, 8), nil
	} else if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, err
	}
	if from != Base && to != Base {
		a, errA := s.lookup(ctx, from, Base, on)
		b, errB := s.lookup(ctx, Base, to, on)
		if errA == nil && errB == nil {
			return a.Mul(b).Round(8), nil
		}
	}
	return decimal.Zero, fmt.Errorf("%w: %s/%s on %s", ErrNoRate, from, to, on.Format(time.DateOnly))
}

func (s *Service) latest(ctx context.Context, base, quote string, on time.Time) (decimal.Decimal, error) {
	var r models.ExchangeRate
	err := s.db.WithContext(ctx).
		Where("base = ? AND quote = ? AND date <= ?", base, quote, endOfDay(on)).
		Order("date desc").Take(&r).Error
	return r.Rate, err
}

func endOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 23, 59, 59, 0, time.UTC)
}

// Convert converts amount and rounds to cents.
func (s *Service) Convert(ctx context.Context, amount decimal.Decimal, from, to string, on time.Time) (decimal.Decimal, error) {
	rate, err := s.Rate(ctx, from, to, on)
	if err != nil {
		return decimal.Zero, err
	}
	return money.Round(amount.Mul(rate)), nil
}

// ToBase returns the rate that converts from into EUR on the given day.
func (s *Service) ToBase(ctx context.Context, from string, on time.Time) (decimal.Decimal, error) {
	return s.Rate(ctx, from, Base, on)
}

// SetRate stores or replaces the rate of a pair for a day.
func (s *Service) SetRate(ctx context.Context, base, quote string, on time.Time, rate decimal.Decimal, source string) (*models.ExchangeRate, error) {
	base, quote = normalize(base), normalize(quote)
	if !rate.IsPositive() {
		return nil, fmt.Errorf("rate must be positive")
	}
	for _, code := range []string{base, quote} {
		if err := s.known(ctx, code); err != nil {
			return nil, err
		}
	}
	y, m, d := on.UTC().Date()
	r := models.ExchangeRate{Base: base, Quote: quote, Date: time.Date(y, m, d, 0, 0, 0, 0, time.UTC), Rate: rate, Source: source}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "base"}, {Name: "quote"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{"rate", "source"}),
	}).Create(&r).Error
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Service) known(ctx context.Context, code string) error {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.Currency{}).Where("code = ? AND active = ?", code, true).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownCurrency, code)
	}
	return nil
}

// Supported reports whether code is an active currency.
func (s *Service) Supported(ctx context.Context, code string) (bool, error) {
	err := s.known(ctx, normalize(code))
	if errors.Is(err, ErrUnknownCurrency) {
		return false, nil
	}
	return err == nil, err
}

// Currencies lists the active currencies.
func (s *Service) Currencies(ctx context.Context) ([]models.Currency, error) {
	var out []models.Currency
	err := s.db.WithContext(ctx).Where("active = ?", true).Order("code").Find(&out).Error
	return out, err
}

// Rates lists stored rates, newest first.
func (s *Service) Rates(ctx context.Context, base string, limit int) ([]models.ExchangeRate, error) {
	q := s.db.WithContext(ctx)
	if base != "" {
		q = q.Where("base = ?", normalize(base))
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []models.ExchangeRate
	err := q.Order("date desc, base, quote").Limit(limit).Find(&out).Error
	return out, err
}
