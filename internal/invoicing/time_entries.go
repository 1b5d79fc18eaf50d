package invoicing

import (
	"context"
	"fmt"
	"slices"

	"github.com/dkortekaas/declair/internal/models"
	"github.com/dkortekaas/declair/internal/timetracking"
	"github.com/dkortekaas/declair/validation"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TimeEntriesInput bills tracked time. VATRate defaults to 21.
type TimeEntriesInput struct {
	EntryIDs    []uint           `json:"entry_ids"`
	VATRate     *decimal.Decimal `json:"vat_rate"`
	InvoiceDate string           `json:"invoice_date"`
	DueDate     string           `json:"due_date"`
	Notes       string           `json:"notes"`
}

func (in TimeEntriesInput) Validate() validation.Violations {
	v := validation.Violations{}
	if len(in.EntryIDs) == 0 {
		v.Add("entry_ids", "required")
	}
	if in.VATRate != nil {
		validation.VATRate("vat_rate", *in.VATRate, v)
	}
	return v
}

var sixty = decimal.NewFromInt(60)

// FromTimeEntries creates a DRAFT invoice with one line per billable,
// not yet invoiced entry and marks the entries invoiced in the same
// transaction. All entries must belong to projects of one customer.
func (s *Service) FromTimeEntries(ctx context.Context, userID uint, in TimeEntriesInput) (*models.Invoice, error) {
	if v := in.Validate(); !v.Empty() {
		return nil, v
	}
	ids := slices.Compact(slices.Sorted(slices.Values(in.EntryIDs)))

	var entries []models.TimeEntry
	err := s.db.WithContext(ctx).Preload("Project").
		Where("user_id = ? AND id IN ? AND billable = ? AND invoiced = ? AND duration_minutes > 0", userID, ids, true, false).
		Order("start_time, id").Find(&entries).Error
	if err != nil {
		return nil, err
	}
	if len(entries) != len(ids) {
		return nil, ErrEntriesUnavailable
	}

	rate := decimal.NewFromInt(21)
	if in.VATRate != nil {
		rate = *in.VATRate
	}
	input := Input{InvoiceDate: in.InvoiceDate, DueDate: in.DueDate, Notes: in.Notes}
	for _, e := range entries {
		if e.Project == nil {
			return nil, ErrEntriesUnavailable
		}
		if input.CustomerID == 0 {
			input.CustomerID = e.Project.CustomerID
		} else if input.CustomerID != e.Project.CustomerID {
			return nil, ErrMixedCustomers
		}
		item := entryItem(e)
		item.VATRate = rate
		input.Items = append(input.Items, item)
	}
	return s.CreateFrom(ctx, userID, input, nil, func(tx *gorm.DB, inv *models.Invoice) error {
		res := tx.Model(&models.TimeEntry{}).
			Where("id IN ? AND user_id = ? AND invoiced = ?", ids, userID, false).
			Updates(map[string]any{"invoiced": true, "invoice_id": inv.ID})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != int64(len(ids)) {
			return ErrEntriesUnavailable
		}
		return nil
	})
}

// entryItem bills hours at the entry's rate. A duration that is not a
// multiple of three minutes has no exact decimal hour count; it is billed
// as one unit of the entry amount so the line matches the tracked value.
func entryItem(e models.TimeEntry) ItemInput {
	if e.DurationMinutes%3 == 0 {
		return ItemInput{
			Description: describeEntry(e),
			Quantity:    decimal.NewFromInt(int64(e.DurationMinutes)).Div(sixty),
			UnitPrice:   e.HourlyRate,
		}
	}
	return ItemInput{
		Description: fmt.Sprintf("%s, %d min à %s/u", describeEntry(e), e.DurationMinutes, e.HourlyRate.StringFixed(2)),
		Quantity:    decimal.NewFromInt(1),
		UnitPrice:   timetracking.Amount(e.DurationMinutes, e.HourlyRate),
	}
}

func describeEntry(e models.TimeEntry) string {
	desc := e.Description
	if desc == "" {
		desc = "Werkzaamheden"
	}
	return fmt.Sprintf("%s: %s (%s)", e.Project.Name, desc, e.StartTime.Format(dateLayout))
}
