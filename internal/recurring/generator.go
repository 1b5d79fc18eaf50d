package recurring

import (
	"context"
	"errors"
	"time"

	"github.com/dkortekaas/declair/internal/invoicing"
	"github.com/dkortekaas/declair/internal/logger"
	"github.com/dkortekaas/declair/internal/models"
	"github.com/dkortekaas/declair/internal/policy"
	"gorm.io/gorm"
)

// maxCatchUp bounds how many missed occurrences one run generates per
// template.
const maxCatchUp = 24

// errRaced means another run advanced the template first.
var errRaced = errors.New("recurring invoice advanced concurrently")

// Result reports one template of a run.
type Result struct {
	TemplateID uint     `json:"template_id"`
	UserID     uint     `json:"user_id"`
	Invoices   []string `json:"invoices,omitempty"`
	Sent       int      `json:"sent"`
	Ended      bool     `json:"ended,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// Generator creates the invoices of due templates.
type Generator struct {
	db       *gorm.DB
	invoices *invoicing.Service
	plans    *policy.PlanResolver
}

func NewGenerator(db *gorm.DB, invoices *invoicing.Service) *Generator {
	return &Generator{db: db, invoices: invoices, plans: policy.NewPlanResolver(db)}
}

// RunDue generates an invoice for every ACTIVE template whose next date is
// on or before now, catching up on missed occurrences. A failing template
// is reported in its result and does not stop the others.
func (g *Generator) RunDue(ctx context.Context, now time.Time) ([]Result, error) {
	var due []models.RecurringInvoice
	err := g.db.WithContext(ctx).Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("position, id") }).
		Where("status = ? AND next_date <= ?", models.RecurringActive, now).
		Order("next_date, id").Find(&due).Error
	if err != nil {
		return nil, err
	}
	log := logger.Ctx(ctx)
	results := make([]Result, 0, len(due))
	for i := range due {
		res := g.run(ctx, &due[i], now)
		if res.Error != "" {
			log.Warn().Uint("recurring_id", res.TemplateID).Str("error", res.Error).Msg("recurring invoice failed")
		}
		results = append(results, res)
	}
	log.Info().Int("templates", len(results)).Msg("recurring run finished")
	return results, nil
}

func (g *Generator) run(ctx context.Context, r *models.RecurringInvoice, now time.Time) Result {
	res := Result{TemplateID: r.ID, UserID: r.UserID}
	if err := g.plans.Check(ctx, r.UserID, policy.FeatureRecurring); err != nil {
		res.Error = err.Error()
		return res
	}
	for i := 0; i < maxCatchUp && r.Status == models.RecurringActive && !r.NextDate.After(now); i++ {
		if r.EndDate != nil && r.NextDate.After(*r.EndDate) {
			if err := g.end(ctx, r); err != nil {
				res.Error = err.Error()
			}
			res.Ended = true
			return res
		}
		inv, err := g.generate(ctx, r, now)
		if errors.Is(err, errRaced) {
			return res
		}
		if err != nil {
			res.Error = err.Error()
			return res
		}
		res.Invoices = append(res.Invoices, inv.Number)
		res.Ended = r.Status == models.RecurringEnded
		if r.AutoSend {
			if _, err := g.invoices.Send(ctx, r.UserID, inv.ID, invoicing.SendOptions{}); err != nil {
				res.Error = "send " + inv.Number + ": " + err.Error()
				continue
			}
			res.Sent++
		}
	}
	return res
}

func (g *Generator) generate(ctx context.Context, r *models.RecurringInvoice, now time.Time) (*models.Invoice, error) {
	on := r.NextDate
	next, err := NextDate(on, r.Frequency, r.Interval, r.DayOfMonth)
	if err != nil {
		return nil, err
	}
	status := models.RecurringActive
	if r.EndDate != nil && next.After(*r.EndDate) {
		status = models.RecurringEnded
	}

	in := invoicing.Input{
		CustomerID:  r.CustomerID,
		InvoiceDate: on.Format(time.DateOnly),
		DueDate:     on.AddDate(0, 0, r.PaymentTermDays).Format(time.DateOnly),
		Currency:    r.Currency,
		Reference:   r.Name,
		Notes:       r.Notes,
	}
	for _, it := range r.Items {
		in.Items = append(in.Items, invoicing.ItemInput{
			Description: it.Description, Quantity: it.Quantity, UnitPrice: it.UnitPrice, VATRate: it.VATRate,
		})
	}
	inv, err := g.invoices.CreateFrom(ctx, r.UserID, in, func(inv *models.Invoice) {
		inv.RecurringInvoiceID = &r.ID
	}, func(tx *gorm.DB, inv *models.Invoice) error {
		res := tx.Model(&models.RecurringInvoice{}).
			Where("id = ? AND next_date = ? AND status = ?", r.ID, on, models.RecurringActive).
			Updates(map[string]any{
				"next_date":         next,
				"status":            status,
				"last_generated_at": now,
				"generated_count":   gorm.Expr("generated_count + 1"),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errRaced
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.NextDate = next
	r.Status = status
	r.LastGeneratedAt = &now
	r.GeneratedCount++
	return inv, nil
}

func (g *Generator) end(ctx context.Context, r *models.RecurringInvoice) error {
	r.Status = models.RecurringEnded
	return g.db.WithContext(ctx).Model(&models.RecurringInvoice{}).
		Where("id = ? AND status = ?", r.ID, models.RecurringActive).
		Update("status", models.RecurringEnded).Error
}
