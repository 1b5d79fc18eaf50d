package recurring

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/dkortekaas/declair/internal/audit"
	"github.com/dkortekaas/declair/internal/invoicing"
	"github.com/dkortekaas/declair/internal/models"
	"github.com/dkortekaas/declair/internal/money"
	"github.com/dkortekaas/declair/validation"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const EntityRecurring = "recurring_invoice"

var (
	ErrNotFound          = errors.New("recurring invoice not found")
	ErrCustomerNotFound  = errors.New("customer not found")
	ErrInvalidTransition = errors.New("invalid recurring invoice status transition")
)

// Input is the body of create and update. Dates are YYYY-MM-DD.
type Input struct {
	CustomerID      uint                  `json:"customer_id"`
	Name            string                `json:"name"`
	Frequency       models.Frequency      `json:"frequency"`
	Interval        int                   `json:"interval"`
	DayOfMonth      *int                  `json:"day_of_month"`
	StartDate       string                `json:"start_date"`
	EndDate         string                `json:"end_date"`
	AutoSend        bool                  `json:"auto_send"`
	PaymentTermDays int                   `json:"payment_term_days"`
	Currency        string                `json:"currency"`
	Notes           string                `json:"notes"`
	Items           []invoicing.ItemInput `json:"items"`
}

func parseDate(s string) (time.Time, bool) {
	t, err := time.Parse(time.DateOnly, strings.TrimSpace(s))
	return t, err == nil
}

func (in Input) Validate() validation.Violations {
	v := validation.Violations{}
	if in.CustomerID == 0 {
		v.Add("customer_id", "required")
	}
	validation.Required("name", in.Name, v)
	if !ValidFrequency(in.Frequency) {
		v.Add("frequency", "invalid")
	}
	if in.Interval < 0 {
		v.Add("interval", "must_be_positive")
	}
	if in.DayOfMonth != nil && (*in.DayOfMonth < 1 || *in.DayOfMonth > 31) {
		v.Add("day_of_month", "out_of_range")
	}
	start, okStart := parseDate(in.StartDate)
	if !okStart {
		v.Add("start_date", "invalid_date")
	}
	if in.EndDate != "" {
		end, ok := parseDate(in.EndDate)
		switch {
		case !ok:
			v.Add("end_date", "invalid_date")
		case okStart && end.Before(start):
			v.Add("end_date", "out_of_range")
		}
	}
	if in.PaymentTermDays < 0 || in.PaymentTermDays > 365 {
		v.Add("payment_term_days", "out_of_range")
	}
	if c := strings.TrimSpace(in.Currency); c != "" && len(c) != 3 {
		v.Add("currency", "invalid")
	}
	if len(in.Items) == 0 {
		v.Add("items", "required")
	}
	for i, it := range in.Items {
		p := "items." + strconv.Itoa(i) + "."
		validation.Required(p+"description", it.Description, v)
		validation.PositiveDecimal(p+"quantity", it.Quantity, v)
		validation.NonNegativeDecimal(p+"unit_price", it.UnitPrice, v)
		validation.VATRate(p+"vat_rate", it.VATRate, v)
	}
	return v
}

// Service manages recurring invoice templates. Generation lives in Generator.
type Service struct {
	db    *gorm.DB
	audit *audit.Log
	now   func() time.Time
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db, audit: audit.New(db), now: time.Now}
}

// WithClock replaces the time source, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) today() time.Time {
	y, m, d := s.now().UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (s *Service) Get(ctx context.Context, userID, id uint) (*models.RecurringInvoice, error) {
	var r models.RecurringInvoice
	err := s.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("position, id") }).
		Preload("Customer", func(db *gorm.DB) *gorm.DB { return db.Unscoped() }).
		Where("user_id = ?", userID).First(&r, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Summary is a template with its monthly recurring revenue.
type Summary struct {
	models.RecurringInvoice
	MonthlyAmount decimal.Decimal `json:"monthly_amount"`
}

func (s *Service) List(ctx context.Context, userID uint) ([]Summary, error) {
	var rows []models.RecurringInvoice
	err := s.db.WithContext(ctx).Preload("Items").
		Preload("Customer", func(db *gorm.DB) *gorm.DB { return db.Unscoped() }).
		Where("user_id = ?", userID).Order("next_date, id").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]Summary, len(rows))
	for i, r := range rows {
		out[i] = Summary{RecurringInvoice: r}
		if r.Status == models.RecurringActive {
			out[i].MonthlyAmount, _ = MonthlyAmount(Subtotal(r.Items), r.Frequency, r.Interval)
		}
	}
	return out, nil
}

// Subtotal is the net amount of one generated invoice.
func Subtotal(items []models.RecurringInvoiceItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(money.Line{Quantity: it.Quantity, UnitPrice: it.UnitPrice}.Net())
	}
	return total
}

// MRR sums the monthly amount of the user's ACTIVE templates.
func (s *Service) MRR(ctx context.Context, userID uint) (decimal.Decimal, error) {
	var rows []models.RecurringInvoice
	err := s.db.WithContext(ctx).Preload("Items").
		Where("user_id = ? AND status = ?", userID, models.RecurringActive).Find(&rows).Error
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, r := range rows {
		m, err := MonthlyAmount(Subtotal(r.Items), r.Frequency, r.Interval)
		if err != nil {
			continue
		}
		total = total.Add(m)
	}
	return total, nil
}

func (s *Service) apply(ctx context.Context, r *models.RecurringInvoice, in Input) error {
	var cust models.Customer
	err := s.db.WithContext(ctx).Where("user_id = ?", r.UserID).First(&cust, in.CustomerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrCustomerNotFound
	}
	if err != nil {
		return err
	}
	r.CustomerID = cust.ID
	r.Name = strings.TrimSpace(in.Name)
	r.Frequency = in.Frequency
	r.Interval = max(in.Interval, 1)
	r.DayOfMonth = in.DayOfMonth
	r.StartDate, _ = parseDate(in.StartDate)
	r.EndDate = nil
	if end, ok := parseDate(in.EndDate); ok {
		r.EndDate = &end
	}
	r.AutoSend = in.AutoSend
	r.PaymentTermDays = in.PaymentTermDays
	if r.PaymentTermDays == 0 {
		r.PaymentTermDays = 30
	}
	r.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	if r.Currency == "" {
		r.Currency = "EUR"
	}
	r.Notes = in.Notes
	r.Items = make([]models.RecurringInvoiceItem, len(in.Items))
	for i, it := range in.Items {
		r.Items[i] = models.RecurringInvoiceItem{
			Description: strings.TrimSpace(it.Description),
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			VATRate:     it.VATRate,
			Position:    i,
		}
	}
	return nil
}

// Create stores an ACTIVE template whose first invoice is due on the start
// date.
func (s *Service) Create(ctx context.Context, userID uint, in Input) (*models.RecurringInvoice, error) {
	if v := in.Validate(); !v.Empty() {
		return nil, v
	}
	r := &models.RecurringInvoice{UserID: userID, Status: models.RecurringActive}
	if err := s.apply(ctx, r, in); err != nil {
		return nil, err
	}
	r.NextDate = r.StartDate
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Customer").Create(r).Error; err != nil {
			return err
		}
		_, err := s.audit.Record(ctx, tx, audit.Entry{
			UserID: userID, EntityType: EntityRecurring, EntityID: r.ID, Action: audit.ActionCreate,
			Changes: map[string]any{"name": r.Name, "frequency": r.Frequency, "interval": r.Interval},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Update replaces the template. Changing the schedule recomputes NextDate:
// the first occurrence of the new schedule after the last generated
// invoice, or the start date when nothing was generated yet.
func (s *Service) Update(ctx context.Context, userID, id uint, in Input) (*models.RecurringInvoice, error) {
	if v := in.Validate(); !v.Empty() {
		return nil, v
	}
	r, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if r.Status == models.RecurringEnded || r.Status == models.RecurringCancelled {
		return nil, ErrInvalidTransition
	}
	before := scheduleOf(r)
	if err := s.apply(ctx, r, in); err != nil {
		return nil, err
	}
	if scheduleOf(r) != before {
		if r.NextDate, err = s.recompute(r); err != nil {
			return nil, err
		}
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("recurring_invoice_id = ?", r.ID).Delete(&models.RecurringInvoiceItem{}).Error; err != nil {
			return err
		}
		for i := range r.Items {
			r.Items[i].RecurringInvoiceID = r.ID
		}
		if err := tx.Create(&r.Items).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.RecurringInvoice{}).Where("id = ?", r.ID).Select(
			"customer_id", "name", "frequency", "interval", "day_of_month", "start_date", "end_date",
			"next_date", "auto_send", "payment_term_days", "currency", "notes",
		).Updates(r).Error; err != nil {
			return err
		}
		_, err := s.audit.Record(ctx, tx, audit.Entry{
			UserID: userID, EntityType: EntityRecurring, EntityID: r.ID, Action: audit.ActionUpdate,
			Changes: map[string]any{"next_date": r.NextDate.Format(time.DateOnly)},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

type schedule struct {
	freq     models.Frequency
	interval int
	day      int
	start    time.Time
}

func scheduleOf(r *models.RecurringInvoice) schedule {
	sc := schedule{freq: r.Frequency, interval: r.Interval, start: r.StartDate}
	if r.DayOfMonth != nil {
		sc.day = *r.DayOfMonth
	}
	return sc
}

func (s *Service) recompute(r *models.RecurringInvoice) (time.Time, error) {
	if r.GeneratedCount == 0 || r.LastGeneratedAt == nil {
		return r.StartDate, nil
	}
	return firstAfter(r.StartDate, r.LastGeneratedAt.UTC(), r.Frequency, r.Interval, r.DayOfMonth)
}

// firstAfter steps the schedule from start until it passes after.
func firstAfter(start, after time.Time, freq models.Frequency, interval int, dayOfMonth *int) (time.Time, error) {
	next := start
	for i := 0; !next.After(after); i++ {
		if i > 5000 {
			return time.Time{}, ErrInvalidInterval
		}
		var err error
		if next, err = NextDate(next, freq, interval, dayOfMonth); err != nil {
			return time.Time{}, err
		}
	}
	return next, nil
}

func (s *Service) transition(ctx context.Context, userID, id uint, to models.RecurringStatus, mutate func(r *models.RecurringInvoice) error) (*models.RecurringInvoice, error) {
	r, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if !r.Status.CanTransitionTo(to) || to == models.RecurringEnded {
		return nil, ErrInvalidTransition
	}
	from := r.Status
	if mutate != nil {
		if err := mutate(r); err != nil {
			return nil, err
		}
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.RecurringInvoice{}).Where("id = ? AND status = ?", r.ID, from).
			Updates(map[string]any{"status": to, "next_date": r.NextDate})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInvalidTransition
		}
		_, err := s.audit.Record(ctx, tx, audit.Entry{
			UserID: userID, EntityType: EntityRecurring, EntityID: r.ID, Action: audit.ActionUpdate,
			Changes: map[string]any{"from": from, "to": to},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	r.Status = to
	return r, nil
}

func (s *Service) Pause(ctx context.Context, userID, id uint) (*models.RecurringInvoice, error) {
	return s.transition(ctx, userID, id, models.RecurringPaused, nil)
}

// Resume reactivates a paused template. Occurrences missed while paused are
// skipped rather than billed.
func (s *Service) Resume(ctx context.Context, userID, id uint) (*models.RecurringInvoice, error) {
	return s.transition(ctx, userID, id, models.RecurringActive, func(r *models.RecurringInvoice) error {
		today := s.today()
		if !r.NextDate.Before(today) {
			return nil
		}
		next, err := firstAfter(r.NextDate, today.Add(-time.Nanosecond), r.Frequency, r.Interval, r.DayOfMonth)
		if err != nil {
			return err
		}
		r.NextDate = next
		return nil
	})
}

func (s *Service) Cancel(ctx context.Context, userID, id uint) (*models.RecurringInvoice, error) {
	return s.transition(ctx, userID, id, models.RecurringCancelled, nil)
}

// Delete soft deletes a template; invoices already generated stay.
func (s *Service) Delete(ctx context.Context, userID, id uint) error {
	r, err := s.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&models.RecurringInvoice{}, r.ID).Error; err != nil {
			return err
		}
		_, err := s.audit.Record(ctx, tx, audit.Entry{
			UserID: userID, EntityType: EntityRecurring, EntityID: r.ID, Action: audit.ActionDelete,
			Changes: map[string]any{"name": r.Name},
		})
		return err
	})
}
