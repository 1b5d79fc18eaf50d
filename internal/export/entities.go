package export

import (
	"context"
	"fmt"
	"time"

	"github.com/dkortekaas/declair/internal/models"
	"github.com/dkortekaas/declair/internal/policy"
	"gorm.io/gorm"
)

// Entities that can be exported.
const (
	EntityInvoices    = "invoices"
	EntityExpenses    = "expenses"
	EntityTimeEntries = "time_entries"
)

var InvoiceColumns = []Column[models.Invoice]{
	{"number", "Factuurnummer", func(i models.Invoice) any { return i.Number }},
	{"invoice_date", "Factuurdatum", func(i models.Invoice) any { return i.InvoiceDate }},
	{"due_date", "Vervaldatum", func(i models.Invoice) any { return i.DueDate }},
	{"customer", "Klant", func(i models.Invoice) any {
		if i.Customer == nil {
			return ""
		}
		return i.Customer.Name
	}},
	{"status", "Status", func(i models.Invoice) any { return string(i.Status) }},
	{"currency", "Valuta", func(i models.Invoice) any { return i.Currency }},
	{"subtotal", "Subtotaal", func(i models.Invoice) any { return i.Subtotal }},
	{"vat_amount", "BTW", func(i models.Invoice) any { return i.VATAmount }},
	{"total", "Totaal", func(i models.Invoice) any { return i.Total }},
	{"paid_at", "Betaald op", func(i models.Invoice) any { return i.PaidAt }},
	{"reference", "Referentie", func(i models.Invoice) any { return i.Reference }},
}

var ExpenseColumns = []Column[models.Expense]{
	{"date", "Datum", func(e models.Expense) any { return e.Date }},
	{"supplier", "Leverancier", func(e models.Expense) any { return e.Supplier }},
	{"description", "Omschrijving", func(e models.Expense) any { return e.Description }},
	{"category", "Categorie", func(e models.Expense) any { return e.Category }},
	{"gross_amount", "Bedrag incl. BTW", func(e models.Expense) any { return e.GrossAmount }},
	{"vat_rate", "BTW-tarief", func(e models.Expense) any { return e.VATRate }},
	{"net_amount", "Bedrag excl. BTW", func(e models.Expense) any { return e.NetAmount }},
	{"vat_amount", "BTW", func(e models.Expense) any { return e.VATAmount }},
	{"deductible_pct", "Aftrekbaar %", func(e models.Expense) any { return e.DeductiblePct }},
	{"currency", "Valuta", func(e models.Expense) any { return e.Currency }},
}

var TimeEntryColumns = []Column[models.TimeEntry]{
	{"date", "Datum", func(e models.TimeEntry) any { return e.StartTime }},
	{"project", "Project", func(e models.TimeEntry) any {
		if e.Project == nil {
			return ""
		}
		return e.Project.Name
	}},
	{"description", "Omschrijving", func(e models.TimeEntry) any { return e.Description }},
	{"minutes", "Minuten", func(e models.TimeEntry) any { return e.DurationMinutes }},
	{"hourly_rate", "Uurtarief", func(e models.TimeEntry) any { return e.HourlyRate }},
	{"amount", "Bedrag", func(e models.TimeEntry) any { return e.Amount }},
	{"billable", "Declarabel", func(e models.TimeEntry) any { return e.Billable }},
	{"invoiced", "Gefactureerd", func(e models.TimeEntry) any { return e.Invoiced }},
}

// Range limits the exported rows by their date; To is exclusive.
type Range struct {
	From, To time.Time
}

func (r Range) apply(q *gorm.DB, column string) *gorm.DB {
	if !r.From.IsZero() {
		q = q.Where(column+" >= ?", r.From)
	}
	if !r.To.IsZero() {
		q = q.Where(column+" < ?", r.To)
	}
	return q
}

// File is a rendered export.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

type Exporter struct {
	db    *gorm.DB
	plans *policy.PlanResolver
	now   func() time.Time
}

func NewExporter(db *gorm.DB) *Exporter {
	return &Exporter{db: db, plans: policy.NewPlanResolver(db), now: time.Now}
}

// Export renders the user's rows of entity. XLSX needs the PRO plan.
func (x *Exporter) Export(ctx context.Context, userID uint, entity string, r Range, o Options) (*File, error) {
	o, err := o.withDefaults()
	if err != nil {
		return nil, err
	}
	if o.Format == FormatXLSX {
		if err := x.plans.Check(ctx, userID, policy.FeatureXLSXExport); err != nil {
			return nil, err
		}
	}
	t, err := x.table(ctx, userID, entity, r, o.Columns)
	if err != nil {
		return nil, err
	}
	data, contentType, err := Write(t, o)
	if err != nil {
		return nil, err
	}
	name := fmt.Sprintf("%s-%s.%s", entity, x.now().Format("20060102"), o.Format)
	return &File{Name: name, ContentType: contentType, Data: data}, nil
}

func (x *Exporter) table(ctx context.Context, userID uint, entity string, r Range, cols []string) (Table, error) {
	db := x.db.WithContext(ctx).Where("user_id = ?", userID)
	switch entity {
	case EntityInvoices:
		var rows []models.Invoice
		q := r.apply(db.Preload("Customer", func(db *gorm.DB) *gorm.DB { return db.Unscoped() }), "invoice_date")
		if err := q.Order("invoice_date, number").Find(&rows).Error; err != nil {
			return Table{}, err
		}
		return Build(InvoiceColumns, cols, rows)
	case EntityExpenses:
		var rows []models.Expense
		if err := r.apply(db, "date").Order("date, id").Find(&rows).Error; err != nil {
			return Table{}, err
		}
		return Build(ExpenseColumns, cols, rows)
	case EntityTimeEntries:
		var rows []models.TimeEntry
		if err := r.apply(db.Preload("Project"), "start_time").Order("start_time, id").Find(&rows).Error; err != nil {
			return Table{}, err
		}
		return Build(TimeEntryColumns, cols, rows)
	}
	return Table{}, fmt.Errorf("%w: %q", ErrUnknownEntity, entity)
}
