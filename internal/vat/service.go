package vat

import (
	"context"
	"errors"
	"time"

	"github.com/dkortekaas/declair/internal/models"
	"gorm.io/gorm"
)

var (
	ErrReportSubmitted = errors.New("vat report already submitted")
	ErrReportNotFound  = errors.New("vat report not found")
)

// Service persists quarterly VAT reports.
type Service struct {
	db  *gorm.DB
	now func() time.Time
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db, now: time.Now}
}

// Result is a computed quarter before it is stored.
type Result struct {
	Totals
	UsedKOR      bool
	InvoiceCount int
	ExpenseCount int
}

// Compute aggregates the quarter without storing anything.
func (s *Service) Compute(ctx context.Context, userID uint, year, quarter int) (Result, error) {
	start, end, err := Quarter(year, quarter)
	if err != nil {
		return Result{}, err
	}
	tx := s.db.WithContext(ctx)

	var user models.User
	if err := tx.Select("id", "use_kor").First(&user, userID).Error; err != nil {
		return Result{}, err
	}

	var invoices []models.Invoice
	if err := tx.Preload("Items").
		Where("user_id = ? AND status = ? AND invoice_date >= ? AND invoice_date < ?",
			userID, models.InvoicePaid, start, end).
		Find(&invoices).Error; err != nil {
		return Result{}, err
	}
	var credits []models.CreditNote
	if err := tx.Preload("Items").
		Joins("JOIN invoices ON invoices.id = credit_notes.invoice_id").
		Where("credit_notes.user_id = ? AND invoices.status = ? AND credit_notes.issue_date >= ? AND credit_notes.issue_date < ?",
			userID, models.InvoicePaid, start, end).
		Find(&credits).Error; err != nil {
		return Result{}, err
	}
	var expenses []models.Expense
	if err := tx.Where("user_id = ? AND date >= ? AND date < ?", userID, start, end).
		Find(&expenses).Error; err != nil {
		return Result{}, err
	}

	revenue := make([]RevenueLine, 0, len(invoices)*2)
	for _, inv := range invoices {
		for _, it := range inv.Items {
			revenue = append(revenue, RevenueLine{
				Net: it.NetAmount, VAT: it.VATAmount, Rate: it.VATRate,
				Treatment: inv.VATTreatment, ExchangeRate: inv.ExchangeRate,
			})
		}
	}
	for _, cn := range credits {
		for _, it := range cn.Items {
			revenue = append(revenue, RevenueLine{
				Net: it.NetAmount, VAT: it.VATAmount, Rate: it.VATRate,
				Treatment: cn.VATTreatment, ExchangeRate: cn.ExchangeRate,
			})
		}
	}
	lines := make([]ExpenseLine, len(expenses))
	for i, e := range expenses {
		lines[i] = ExpenseLine{Net: e.NetAmount, VAT: e.VATAmount, DeductiblePct: e.DeductiblePct, ExchangeRate: e.ExchangeRate}
	}

	totals, err := Aggregate(revenue, lines, user.UseKOR)
	if err != nil {
		return Result{}, err
	}
	return Result{Totals: totals, UsedKOR: user.UseKOR, InvoiceCount: len(invoices), ExpenseCount: len(expenses)}, nil
}

// Generate computes the quarter and upserts the single report row for
// (user, year, quarter). A submitted report is never recomputed.
func (s *Service) Generate(ctx context.Context, userID uint, year, quarter int) (*models.VATReport, error) {
	res, err := s.Compute(ctx, userID, year, quarter)
	if err != nil {
		return nil, err
	}

	var report models.VATReport
	save := func(tx *gorm.DB) error {
		err := tx.Where("user_id = ? AND year = ? AND quarter = ?", userID, year, quarter).First(&report).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			report = models.VATReport{UserID: userID, Year: year, Quarter: quarter, Status: models.VATReportDraft}
		case err != nil:
			return err
		case report.Status == models.VATReportSubmitted:
			return ErrReportSubmitted
		}
		apply(&report, res)
		return tx.Save(&report).Error
	}

	err = s.db.WithContext(ctx).Transaction(save)
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// A concurrent Generate inserted the row first; update it instead.
		err = s.db.WithContext(ctx).Transaction(save)
	}
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// Submit freezes a report.
func (s *Service) Submit(ctx context.Context, userID, id uint) (*models.VATReport, error) {
	var report models.VATReport
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND user_id = ?", id, userID).First(&report).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrReportNotFound
			}
			return err
		}
		if report.Status == models.VATReportSubmitted {
			return ErrReportSubmitted
		}
		now := s.now().UTC()
		report.Status = models.VATReportSubmitted
		report.SubmittedAt = &now
		return tx.Save(&report).Error
	})
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// List returns the reports of a user, newest quarter first.
func (s *Service) List(ctx context.Context, userID uint) ([]models.VATReport, error) {
	var reports []models.VATReport
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("year desc, quarter desc").Find(&reports).Error
	return reports, err
}

func apply(r *models.VATReport, t Result) {
	r.HighNet, r.HighVAT = t.Buckets[BucketHigh].Net, t.Buckets[BucketHigh].VAT
	r.LowNet, r.LowVAT = t.Buckets[BucketLow].Net, t.Buckets[BucketLow].VAT
	r.ZeroNet = t.Buckets[BucketZero].Net
	r.ReversedNet = t.Buckets[BucketReversed].Net
	r.EUNet = t.Buckets[BucketEU].Net
	r.ExportNet = t.Buckets[BucketExport].Net
	r.ExpensesNet, r.ExpensesVAT = t.ExpensesNet, t.ExpensesVAT
	r.RevenueTotal = t.RevenueTotal
	r.VATOwed, r.VATDeductible, r.VATBalance = t.VATOwed, t.VATDeductible, t.VATBalance
	r.UsedKOR = t.UsedKOR
	r.InvoiceCount, r.ExpenseCount = t.InvoiceCount, t.ExpenseCount
}
