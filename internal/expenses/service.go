// Package expenses records purchases and learns their categories: a new
// expense without a category gets the one most often used for its vendor,
// and manual corrections of such predictions feed back into the counts.
package expenses

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/dkortekaas/declair/internal/audit"
	"github.com/dkortekaas/declair/internal/models"
	"github.com/dkortekaas/declair/internal/money"
	"github.com/dkortekaas/declair/internal/policy"
	"github.com/dkortekaas/declair/validation"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const EntityExpense = "expense"

var (
	ErrNotFound = errors.New("expense not found")
	ErrNoRate   = errors.New("no exchange rate for expense currency")
)

// Categories are the suggested expense categories.
var Categories = []string{
	"Kantoorkosten", "Software", "Hardware", "Reiskosten", "Autokosten",
	"Telefoon en internet", "Opleiding", "Marketing", "Representatie",
	"Verzekeringen", "Huisvesting", "Abonnementen", "Overig",
}

var hundred = decimal.NewFromInt(100)

// Input is the body of create and update. Date is YYYY-MM-DD.
type Input struct {
	Date          string           `json:"date"`
	Supplier      string           `json:"supplier"`
	Description   string           `json:"description"`
	GrossAmount   decimal.Decimal  `json:"gross_amount"`
	VATRate       decimal.Decimal  `json:"vat_rate"`
	DeductiblePct *decimal.Decimal `json:"deductible_pct"`
	Currency      string           `json:"currency"`
	Category      string           `json:"category"`
	ReceiptURL    string           `json:"receipt_url"`
}

func (in Input) Validate() validation.Violations {
	v := validation.Violations{}
	if _, err := time.Parse(time.DateOnly, strings.TrimSpace(in.Date)); err != nil {
		v.Add("date", "invalid_date")
	}
	validation.Required("supplier", in.Supplier, v)
	validation.PositiveDecimal("gross_amount", in.GrossAmount, v)
	validation.VATRate("vat_rate", in.VATRate, v)
	if in.DeductiblePct != nil {
		validation.RangeDecimal("deductible_pct", *in.DeductiblePct, decimal.Zero, hundred, v)
	}
	if c := strings.TrimSpace(in.Currency); c != "" && len(c) != 3 {
		v.Add("currency", "invalid")
	}
	return v
}

// RateSource converts expense currencies to EUR.
type RateSource interface {
	ToBase(ctx context.Context, from string, on time.Time) (decimal.Decimal, error)
}

type Service struct {
	db    *gorm.DB
	audit *audit.Log
	rates RateSource
	plans *policy.PlanResolver
	now   func() time.Time
}

type Option func(*Service)

func WithRates(r RateSource) Option         { return func(s *Service) { s.rates = r } }
func WithAudit(l *audit.Log) Option         { return func(s *Service) { s.audit = l } }
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(db *gorm.DB, opts ...Option) *Service {
	s := &Service{db: db, audit: audit.New(db), plans: policy.NewPlanResolver(db), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

var (
	legalForm  = regexp.MustCompile(`\b(b\.?v\.?|n\.?v\.?|v\.?o\.?f\.?|gmbh|ltd|inc|llc)$`)
	nonAlnum   = regexp.MustCompile(`[^\p{L}\p{N}]+`)
	whitespace = regexp.MustCompile(`\s+`)
)

// VendorKey normalizes a supplier name so that "Bol.com B.V." and
// "bol.com" count as the same vendor.
func VendorKey(supplier string) string {
	k := strings.ToLower(strings.TrimSpace(supplier))
	k = whitespace.ReplaceAllString(k, " ")
	k = strings.TrimSpace(legalForm.ReplaceAllString(k, ""))
	k = nonAlnum.ReplaceAllString(k, "")
	return k
}

// Predict returns the category used most often for the vendor; ties go to
// the most recently used one.
func (s *Service) Predict(ctx context.Context, userID uint, supplier string) (string, bool) {
	key := VendorKey(supplier)
	if key == "" {
		return "", false
	}
	var stat models.VendorCategoryStat
	err := s.db.WithContext(ctx).Where("user_id = ? AND vendor = ?", userID, key).
		Order("count desc, last_used_at desc").Take(&stat).Error
	if err != nil {
		return "", false
	}
	return stat.Category, true
}

func (s *Service) bump(tx *gorm.DB, userID uint, vendor, category string) error {
	if vendor == "" || category == "" {
		return nil
	}
	now := s.now()
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "vendor"}, {Name: "category"}},
		DoUpdates: clause.Assignments(map[string]any{
			"count":        gorm.Expr("vendor_category_stats.count + 1"),
			"last_used_at": now,
			"updated_at":   now,
		}),
	}).Create(&models.VendorCategoryStat{UserID: userID, Vendor: vendor, Category: category, Count: 1, LastUsedAt: now}).Error
}

func (s *Service) apply(ctx context.Context, e *models.Expense, in Input) error {
	e.Date, _ = time.Parse(time.DateOnly, strings.TrimSpace(in.Date))
	e.Supplier = strings.TrimSpace(in.Supplier)
	e.Description = strings.TrimSpace(in.Description)
	e.GrossAmount = money.Round(in.GrossAmount)
	e.VATRate = in.VATRate
	e.NetAmount, e.VATAmount = money.SplitGross(e.GrossAmount, e.VATRate)
	e.DeductiblePct = hundred
	if in.DeductiblePct != nil {
		e.DeductiblePct = *in.DeductiblePct
	}
	e.ReceiptURL = strings.TrimSpace(in.ReceiptURL)

	e.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	if e.Currency == "" {
		e.Currency = "EUR"
	}
	e.ExchangeRate = decimal.NewFromInt(1)
	if e.Currency != "EUR" {
		if err := s.plans.Check(ctx, e.UserID, policy.FeatureMultiCurrency); err != nil {
			return err
		}
		if s.rates == nil {
			return ErrNoRate
		}
		rate, err := s.rates.ToBase(ctx, e.Currency, e.Date)
		if err != nil {
			return errors.Join(ErrNoRate, err)
		}
		e.ExchangeRate = rate
	}
	return nil
}

// Create stores an expense. Without a category the vendor's usual one is
// filled in and remembered as the prediction.
func (s *Service) Create(ctx context.Context, userID uint, in Input) (*models.Expense, error) {
	if v := in.Validate(); !v.Empty() {
		return nil, v
	}
	e := &models.Expense{UserID: userID}
	if err := s.apply(ctx, e, in); err != nil {
		return nil, err
	}
	e.Category = strings.TrimSpace(in.Category)
	if e.Category == "" {
		if c, ok := s.Predict(ctx, userID, e.Supplier); ok {
			e.Category = c
			e.PredictedCategory = c
		}
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(e).Error; err != nil {
			return err
		}
		if e.PredictedCategory == "" {
			if err := s.bump(tx, userID, VendorKey(e.Supplier), e.Category); err != nil {
				return err
			}
		}
		_, err := s.audit.Record(ctx, tx, audit.Entry{
			UserID: userID, EntityType: EntityExpense, EntityID: e.ID, Action: audit.ActionCreate,
			Changes: map[string]any{"supplier": e.Supplier, "gross": e.GrossAmount, "category": e.Category},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Service) Get(ctx context.Context, userID, id uint) (*models.Expense, error) {
	var e models.Expense
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&e, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Update replaces an expense. Overriding a predicted category records a
// correction and credits the vendor with the chosen category.
func (s *Service) Update(ctx context.Context, userID, id uint, in Input) (*models.Expense, error) {
	if v := in.Validate(); !v.Empty() {
		return nil, v
	}
	e, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	prevCategory := e.Category
	if err := s.apply(ctx, e, in); err != nil {
		return nil, err
	}
	if c := strings.TrimSpace(in.Category); c != "" {
		e.Category = c
	}
	corrected := e.PredictedCategory != "" && e.Category != prevCategory && e.Category != e.PredictedCategory

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Select("date", "supplier", "description", "gross_amount", "vat_rate", "net_amount",
			"vat_amount", "deductible_pct", "currency", "exchange_rate", "category", "receipt_url").
			Updates(e).Error; err != nil {
			return err
		}
		if corrected {
			vendor := VendorKey(e.Supplier)
			if err := tx.Create(&models.CategoryCorrection{
				UserID: userID, ExpenseID: e.ID, Vendor: vendor,
				PredictedCategory: e.PredictedCategory, ActualCategory: e.Category,
			}).Error; err != nil {
				return err
			}
			if err := s.bump(tx, userID, vendor, e.Category); err != nil {
				return err
			}
		}
		_, err := s.audit.Record(ctx, tx, audit.Entry{
			UserID: userID, EntityType: EntityExpense, EntityID: e.ID, Action: audit.ActionUpdate,
			Changes: map[string]any{"gross": e.GrossAmount, "category": e.Category},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Service) Delete(ctx context.Context, userID, id uint) error {
	e, err := s.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(e).Error; err != nil {
			return err
		}
		_, err := s.audit.Record(ctx, tx, audit.Entry{
			UserID: userID, EntityType: EntityExpense, EntityID: e.ID, Action: audit.ActionDelete,
			Changes: map[string]any{"supplier": e.Supplier, "gross": e.GrossAmount},
		})
		return err
	})
}

// Filter narrows List; To is exclusive.
type Filter struct {
	From, To time.Time
	Category string
	Limit    int
	Offset   int
}

func (s *Service) List(ctx context.Context, userID uint, f Filter) ([]models.Expense, error) {
	q := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if !f.From.IsZero() {
		q = q.Where("date >= ?", f.From)
	}
	if !f.To.IsZero() {
		q = q.Where("date < ?", f.To)
	}
	if f.Category != "" {
		q = q.Where("category = ?", f.Category)
	}
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 200
	}
	var out []models.Expense
	err := q.Order("date desc, id desc").Limit(f.Limit).Offset(f.Offset).Find(&out).Error
	return out, err
}

// Corrections lists the recorded category overrides, newest first.
func (s *Service) Corrections(ctx context.Context, userID uint) ([]models.CategoryCorrection, error) {
	var out []models.CategoryCorrection
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at desc, id desc").Find(&out).Error
	return out, err
}
