// Package analytics computes the dashboard figures of an administration.
package analytics

import (
	"context"
	"time"

	"github.com/dkortekaas/declair/internal/models"
	"github.com/dkortekaas/declair/internal/money"
	"github.com/dkortekaas/declair/internal/recurring"
	"github.com/dkortekaas/declair/internal/vat"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// Dashboard holds EUR amounts; invoices in other currencies are converted
// at their stored rate.
type Dashboard struct {
	Year           int               `json:"year"`
	Quarter        int               `json:"quarter"`
	RevenueYTD     decimal.Decimal   `json:"revenue_ytd"`
	RevenueByMonth []decimal.Decimal `json:"revenue_by_month"`
	Outstanding    decimal.Decimal   `json:"outstanding"`
	OpenCount      int               `json:"open_count"`
	OverdueCount   int               `json:"overdue_count"`
	ExpensesYTD    decimal.Decimal   `json:"expenses_ytd"`
	ProfitYTD      decimal.Decimal   `json:"profit_ytd"`
	MRR            decimal.Decimal   `json:"mrr"`
	VATBalance     decimal.Decimal   `json:"vat_balance"`
}

type Service struct {
	db        *gorm.DB
	recurring *recurring.Service
	vat       *vat.Service
	now       func() time.Time
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db, recurring: recurring.NewService(db), vat: vat.NewService(db), now: time.Now}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	s.recurring.WithClock(now)
	return s
}

// Dashboard loads the figures of userID concurrently; the first failing
// query cancels the others.
func (s *Service) Dashboard(ctx context.Context, userID uint) (*Dashboard, error) {
	now := s.now().UTC()
	year, quarter := vat.QuarterOf(now)
	start := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(1, 0, 0)
	d := &Dashboard{Year: year, Quarter: quarter}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		byMonth, total, err := s.revenue(ctx, userID, start, end)
		d.RevenueByMonth, d.RevenueYTD = byMonth, total
		return err
	})
	g.Go(func() error {
		var err error
		d.Outstanding, d.OpenCount, d.OverdueCount, err = s.outstanding(ctx, userID, now)
		return err
	})
	g.Go(func() error {
		var err error
		d.ExpensesYTD, err = s.expenses(ctx, userID, start, end)
		return err
	})
	g.Go(func() error {
		var err error
		d.MRR, err = s.recurring.MRR(ctx, userID)
		return err
	})
	g.Go(func() error {
		r, err := s.vat.Compute(ctx, userID, year, quarter)
		d.VATBalance = r.VATBalance
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	d.ProfitYTD = d.RevenueYTD.Sub(d.ExpensesYTD)
	return d, nil
}

// revenue sums the net amount of paid invoices by invoice month.
func (s *Service) revenue(ctx context.Context, userID uint, start, end time.Time) ([]decimal.Decimal, decimal.Decimal, error) {
	var rows []models.Invoice
	err := s.db.WithContext(ctx).Select("id", "invoice_date", "subtotal", "exchange_rate").
		Where("user_id = ? AND status = ? AND invoice_date >= ? AND invoice_date < ?", userID, models.InvoicePaid, start, end).
		Find(&rows).Error
	if err != nil {
		return nil, decimal.Zero, err
	}
	months := make([]decimal.Decimal, 12)
	for i := range months {
		months[i] = decimal.Zero
	}
	total := decimal.Zero
	for _, inv := range rows {
		net := money.ToEUR(inv.Subtotal, inv.ExchangeRate)
		m := inv.InvoiceDate.Month() - 1
		months[m] = months[m].Add(net)
		total = total.Add(net)
	}
	return months, total, nil
}

func (s *Service) outstanding(ctx context.Context, userID uint, now time.Time) (decimal.Decimal, int, int, error) {
	var rows []models.Invoice
	err := s.db.WithContext(ctx).Select("id", "status", "due_date", "total", "exchange_rate").
		Where("user_id = ? AND status IN ?", userID, []models.InvoiceStatus{models.InvoiceSent, models.InvoiceOverdue}).
		Find(&rows).Error
	if err != nil {
		return decimal.Zero, 0, 0, err
	}
	total := decimal.Zero
	overdue := 0
	for _, inv := range rows {
		total = total.Add(money.ToEUR(inv.Total, inv.ExchangeRate))
		if inv.EffectiveStatus(now) == models.InvoiceOverdue {
			overdue++
		}
	}
	return total, len(rows), overdue, nil
}

func (s *Service) expenses(ctx context.Context, userID uint, start, end time.Time) (decimal.Decimal, error) {
	var rows []models.Expense
	err := s.db.WithContext(ctx).Select("id", "net_amount", "exchange_rate").
		Where("user_id = ? AND date >= ? AND date < ?", userID, start, end).
		Find(&rows).Error
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, e := range rows {
		total = total.Add(money.ToEUR(e.NetAmount, e.ExchangeRate))
	}
	return total, nil
}
