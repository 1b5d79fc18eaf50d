// Package invoicing manages sales invoices and credit notes: numbering,
// the status lifecycle, delivery by email and the audit trail.
package invoicing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dkortekaas/declair/internal/audit"
	"github.com/dkortekaas/declair/internal/events"
	"github.com/dkortekaas/declair/internal/mail"
	"github.com/dkortekaas/declair/internal/models"
	"github.com/dkortekaas/declair/internal/money"
	"github.com/dkortekaas/declair/internal/numbering"
	"github.com/dkortekaas/declair/internal/pdf"
	"github.com/dkortekaas/declair/internal/policy"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	EntityInvoice    = "invoice"
	EntityCreditNote = "credit_note"

	defaultPaymentTerm = 30
	dateLayout         = "02-01-2006"
)

// RateSource converts invoice currencies to EUR.
type RateSource interface {
	ToBase(ctx context.Context, from string, on time.Time) (decimal.Decimal, error)
}

type Service struct {
	db     *gorm.DB
	audit  *audit.Log
	mailer mail.Mailer
	events events.Publisher
	rates  RateSource
	plans  *policy.PlanResolver
	now    func() time.Time
}

type Option func(*Service)

func WithMailer(m mail.Mailer) Option       { return func(s *Service) { s.mailer = m } }
func WithEvents(p events.Publisher) Option  { return func(s *Service) { s.events = p } }
func WithRates(r RateSource) Option         { return func(s *Service) { s.rates = r } }
func WithAudit(l *audit.Log) Option         { return func(s *Service) { s.audit = l } }
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(db *gorm.DB, opts ...Option) *Service {
	s := &Service{
		db:     db,
		audit:  audit.New(db),
		mailer: mail.LogMailer{},
		events: events.Nop{},
		plans:  policy.NewPlanResolver(db),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) today() time.Time {
	y, m, d := s.now().UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func itemsByPosition(db *gorm.DB) *gorm.DB { return db.Order("position, id") }

func (s *Service) load(tx *gorm.DB, userID, id uint) (*models.Invoice, error) {
	var inv models.Invoice
	q := tx.Preload("Items", itemsByPosition).Preload("Customer", func(db *gorm.DB) *gorm.DB { return db.Unscoped() })
	if tx.Dialector.Name() != "sqlite" {
		q = q.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate})
	}
	err := q.Where("user_id = ?", userID).First(&inv, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// Get returns an invoice of userID with items and customer.
func (s *Service) Get(ctx context.Context, userID, id uint) (*models.Invoice, error) {
	var inv models.Invoice
	err := s.db.WithContext(ctx).
		Preload("Items", itemsByPosition).
		Preload("Customer", func(db *gorm.DB) *gorm.DB { return db.Unscoped() }).
		Where("user_id = ?", userID).First(&inv, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// Filter narrows List. Status OVERDUE also matches SENT invoices past due.
type Filter struct {
	Status     models.InvoiceStatus
	CustomerID uint
	From, To   time.Time
	Limit      int
	Offset     int
}

func (s *Service) List(ctx context.Context, userID uint, f Filter) ([]models.Invoice, error) {
	q := s.db.WithContext(ctx).Preload("Customer", func(db *gorm.DB) *gorm.DB { return db.Unscoped() }).
		Where("user_id = ?", userID)
	today := s.today()
	switch f.Status {
	case "":
	case models.InvoiceOverdue:
		q = q.Where("(status = ? OR (status = ? AND due_date < ?))", models.InvoiceOverdue, models.InvoiceSent, today)
	case models.InvoiceSent:
		q = q.Where("status = ? AND due_date >= ?", models.InvoiceSent, today)
	default:
		q = q.Where("status = ?", f.Status)
	}
	if f.CustomerID != 0 {
		q = q.Where("customer_id = ?", f.CustomerID)
	}
	if !f.From.IsZero() {
		q = q.Where("invoice_date >= ?", f.From)
	}
	if !f.To.IsZero() {
		q = q.Where("invoice_date < ?", f.To)
	}
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	var out []models.Invoice
	err := q.Order("invoice_date desc, number desc").Limit(f.Limit).Offset(f.Offset).Find(&out).Error
	return out, err
}

// View is an invoice as returned to clients, with the derived status.
type View struct {
	*models.Invoice
	EffectiveStatus models.InvoiceStatus `json:"effective_status"`
	DaysOverdue     int                  `json:"days_overdue,omitempty"`
}

func (s *Service) View(inv *models.Invoice) View {
	now := s.now()
	v := View{Invoice: inv, EffectiveStatus: inv.EffectiveStatus(now)}
	if v.EffectiveStatus == models.InvoiceOverdue {
		v.DaysOverdue = inv.DaysOverdue(now)
	}
	return v
}

// Create validates in and stores a numbered DRAFT invoice.
func (s *Service) Create(ctx context.Context, userID uint, in Input) (*models.Invoice, error) {
	return s.CreateFrom(ctx, userID, in, nil, nil)
}

// CreateFrom is Create for invoices derived from other records. prepare may
// adjust the invoice before it is stored; within runs inside its transaction.
func (s *Service) CreateFrom(ctx context.Context, userID uint, in Input, prepare func(*models.Invoice), within func(tx *gorm.DB, inv *models.Invoice) error) (*models.Invoice, error) {
	if v := in.Validate(); !v.Empty() {
		return nil, v
	}
	inv := &models.Invoice{UserID: userID}
	if err := s.apply(ctx, s.db.WithContext(ctx), inv, in); err != nil {
		return nil, err
	}
	if prepare != nil {
		prepare(inv)
	}
	if err := s.Insert(ctx, inv, within); err != nil {
		return nil, err
	}
	return inv, nil
}

// apply copies in onto inv: customer, dates, treatment, currency and items.
func (s *Service) apply(ctx context.Context, tx *gorm.DB, inv *models.Invoice, in Input) error {
	var cust models.Customer
	err := tx.Where("user_id = ?", inv.UserID).First(&cust, in.CustomerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrCustomerNotFound
	}
	if err != nil {
		return err
	}

	invDate := s.today()
	if d, ok := parseDate(in.InvoiceDate); ok {
		invDate = d
	}
	due, ok := parseDate(in.DueDate)
	if !ok {
		due = invDate.AddDate(0, 0, s.paymentTerm(tx, inv.UserID))
	}

	treatment := in.VATTreatment
	if treatment == "" {
		treatment = cust.DefaultVATTreatment()
	}
	cur := strings.ToUpper(strings.TrimSpace(in.Currency))
	if cur == "" {
		cur = "EUR"
	}
	rate, err := s.rateFor(ctx, inv.UserID, cur, invDate)
	if err != nil {
		return err
	}

	inv.CustomerID = cust.ID
	inv.Customer = &cust
	inv.InvoiceDate = invDate
	inv.DueDate = due
	inv.VATTreatment = treatment
	inv.Currency = cur
	inv.ExchangeRate = rate
	inv.Reference = in.Reference
	inv.Notes = in.Notes
	inv.Items = make([]models.InvoiceItem, len(in.Items))
	for i, it := range in.Items {
		inv.Items[i] = models.InvoiceItem{
			Description: strings.TrimSpace(it.Description),
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			VATRate:     it.VATRate,
		}
	}
	return nil
}

func (s *Service) paymentTerm(tx *gorm.DB, userID uint) int {
	var cs models.CompanySettings
	if err := tx.Select("payment_term_days").Where("user_id = ?", userID).Take(&cs).Error; err == nil && cs.PaymentTermDays > 0 {
		return cs.PaymentTermDays
	}
	return defaultPaymentTerm
}

// rateFor returns the EUR rate of cur; foreign currencies need the
// multi-currency feature and a stored rate.
func (s *Service) rateFor(ctx context.Context, userID uint, cur string, on time.Time) (decimal.Decimal, error) {
	if cur == "EUR" {
		return decimal.NewFromInt(1), nil
	}
	if err := s.plans.Check(ctx, userID, policy.FeatureMultiCurrency); err != nil {
		return decimal.Zero, err
	}
	if s.rates == nil {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrNoRate, cur)
	}
	rate, err := s.rates.ToBase(ctx, cur, on)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrNoRate, err)
	}
	return rate, nil
}

// ComputeTotals derives line and invoice amounts from the items. Zero rated
// treatments carry no VAT.
func ComputeTotals(inv *models.Invoice) {
	zeroVAT := inv.VATTreatment != "" && inv.VATTreatment != models.VATStandard
	lines := make([]money.Line, len(inv.Items))
	for i := range inv.Items {
		it := &inv.Items[i]
		l := money.Line{Quantity: it.Quantity, UnitPrice: it.UnitPrice, VATRate: it.VATRate}
		lines[i] = l
		it.Position = i
		it.NetAmount = l.Net()
		it.VATAmount = decimal.Zero
		if !zeroVAT {
			it.VATAmount = l.VAT()
		}
	}
	inv.Subtotal, inv.VATAmount, inv.Total = money.Totals(lines, zeroVAT)
}

// Insert numbers and stores a prepared invoice. within runs in the same
// transaction once the invoice has an ID; the whole transaction is retried
// on a numbering collision.
func (s *Service) Insert(ctx context.Context, inv *models.Invoice, within func(tx *gorm.DB, inv *models.Invoice) error) error {
	if inv.Status == "" {
		inv.Status = models.InvoiceDraft
	}
	if inv.Currency == "" {
		inv.Currency = "EUR"
	}
	if inv.ExchangeRate.IsZero() {
		inv.ExchangeRate = decimal.NewFromInt(1)
	}
	ComputeTotals(inv)

	err := numbering.Allocate(ctx, s.db, inv.UserID, numbering.KindInvoice, inv.InvoiceDate.Year(), func(tx *gorm.DB, number string) error {
		inv.ID = 0
		for i := range inv.Items {
			inv.Items[i].ID, inv.Items[i].InvoiceID = 0, 0
		}
		inv.Number = number
		if err := tx.Omit("Customer").Create(inv).Error; err != nil {
			return err
		}
		if within != nil {
			if err := within(tx, inv); err != nil {
				return err
			}
		}
		_, err := s.audit.Record(ctx, tx, audit.Entry{
			UserID: inv.UserID, EntityType: EntityInvoice, EntityID: inv.ID, Action: audit.ActionCreate,
			Changes: map[string]any{"number": inv.Number, "status": inv.Status, "total": inv.Total, "currency": inv.Currency},
		})
		return err
	})
	if err != nil {
		return err
	}
	events.Emit(ctx, s.events, events.Event{
		Type: events.InvoiceCreated, UserID: inv.UserID, EntityID: inv.ID, OccurredAt: s.now(),
		Data: map[string]any{"number": inv.Number, "total": inv.Total.String(), "currency": inv.Currency},
	})
	return nil
}

// Update replaces the content of a DRAFT invoice. The number is kept.
func (s *Service) Update(ctx context.Context, userID, id uint, in Input) (*models.Invoice, error) {
	if v := in.Validate(); !v.Empty() {
		return nil, v
	}
	var out *models.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := s.load(tx, userID, id)
		if err != nil {
			return err
		}
		if inv.Status != models.InvoiceDraft {
			return ErrNotDraft
		}
		if err := s.apply(ctx, tx, inv, in); err != nil {
			return err
		}
		ComputeTotals(inv)
		if err := tx.Where("invoice_id = ?", inv.ID).Delete(&models.InvoiceItem{}).Error; err != nil {
			return err
		}
		if err := tx.Omit(clause.Associations).Save(inv).Error; err != nil {
			return err
		}
		for i := range inv.Items {
			inv.Items[i].InvoiceID = inv.ID
		}
		if err := tx.Create(&inv.Items).Error; err != nil {
			return err
		}
		out = inv
		_, err = s.audit.Record(ctx, tx, audit.Entry{
			UserID: userID, EntityType: EntityInvoice, EntityID: inv.ID, Action: audit.ActionUpdate,
			Changes: map[string]any{"total": inv.Total, "items": len(inv.Items)},
		})
		return err
	})
	return out, err
}

// Delete removes a DRAFT invoice and releases the time entries billed on it.
func (s *Service) Delete(ctx context.Context, userID, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := s.load(tx, userID, id)
		if err != nil {
			return err
		}
		if inv.Status != models.InvoiceDraft {
			return ErrNotDraft
		}
		if err := tx.Model(&models.TimeEntry{}).Where("invoice_id = ?", inv.ID).
			Updates(map[string]any{"invoiced": false, "invoice_id": nil}).Error; err != nil {
			return err
		}
		if err := tx.Delete(inv).Error; err != nil {
			return err
		}
		_, err = s.audit.Record(ctx, tx, audit.Entry{
			UserID: userID, EntityType: EntityInvoice, EntityID: inv.ID, Action: audit.ActionDelete,
			Changes: map[string]any{"number": inv.Number},
		})
		return err
	})
}

// transition moves an invoice to status to. mutate may set timestamps and
// run side effects that must roll back with the change.
func (s *Service) transition(ctx context.Context, userID, id uint, to models.InvoiceStatus, action string, mutate func(tx *gorm.DB, inv *models.Invoice) error) (*models.Invoice, error) {
	var out *models.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := s.load(tx, userID, id)
		if err != nil {
			return err
		}
		from := inv.Status
		if !from.CanTransitionTo(to) {
			return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, to)
		}
		inv.Status = to
		if mutate != nil {
			if err := mutate(tx, inv); err != nil {
				return err
			}
		}
		res := tx.Model(inv).Where("status = ?", from).Select("status", "sent_at", "paid_at").Updates(inv)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %s changed concurrently", ErrInvalidTransition, inv.Number)
		}
		out = inv
		_, err = s.audit.Record(ctx, tx, audit.Entry{
			UserID: userID, EntityType: EntityInvoice, EntityID: inv.ID, Action: action,
			Changes: map[string]any{"from": from, "to": to},
		})
		return err
	})
	return out, err
}

// SendOptions tune the email of Send.
type SendOptions struct {
	PaymentURL string
}

// Send emails a DRAFT invoice and marks it SENT; the status only changes when
// the message was handed to the mailer. Open invoices are emailed again
// without a status change.
func (s *Service) Send(ctx context.Context, userID, id uint, opts SendOptions) (*models.Invoice, error) {
	current, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if current.Status.Open() {
		return current, s.deliver(ctx, s.db.WithContext(ctx), current, opts)
	}
	inv, err := s.transition(ctx, userID, id, models.InvoiceSent, audit.ActionSend, func(tx *gorm.DB, inv *models.Invoice) error {
		now := s.now()
		inv.SentAt = &now
		return s.deliver(ctx, tx, inv, opts)
	})
	if err != nil {
		return nil, err
	}
	events.Emit(ctx, s.events, events.Event{
		Type: events.InvoiceSent, UserID: userID, EntityID: inv.ID, OccurredAt: s.now(),
		Data: map[string]any{"number": inv.Number},
	})
	return inv, nil
}

func (s *Service) deliver(ctx context.Context, tx *gorm.DB, inv *models.Invoice, opts SendOptions) error {
	if inv.Customer == nil || strings.TrimSpace(inv.Customer.Email) == "" {
		return ErrNoRecipient
	}
	company, plan, err := Sender(tx, inv.UserID)
	if err != nil {
		return err
	}
	doc := pdf.FromInvoice(inv, company, plan)
	doc.PaymentURL = opts.PaymentURL
	file, err := pdf.Render(doc)
	if err != nil {
		return err
	}
	msg, err := mail.Compose(inv.Customer.Email, mail.TplInvoiceSent, MailData(inv, company, opts.PaymentURL, s.now()))
	if err != nil {
		return err
	}
	msg.Attachments = []mail.Attachment{{Name: "factuur-" + inv.Number + ".pdf", ContentType: "application/pdf", Data: file}}
	return s.mailer.Send(ctx, msg)
}

// Sender loads the company settings and plan of userID. A missing settings
// row falls back to the user's name.
func Sender(tx *gorm.DB, userID uint) (models.CompanySettings, models.Plan, error) {
	var u models.User
	if err := tx.Select("id", "name", "email", "plan").First(&u, userID).Error; err != nil {
		return models.CompanySettings{}, "", err
	}
	var cs models.CompanySettings
	err := tx.Where("user_id = ?", userID).Take(&cs).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		cs = models.CompanySettings{UserID: userID, Name: u.Name, Email: u.Email}
	} else if err != nil {
		return models.CompanySettings{}, "", err
	}
	plan := u.Plan
	if plan == "" {
		plan = models.PlanFree
	}
	return cs, plan, nil
}

// MailData fills the invoice templates.
func MailData(inv *models.Invoice, company models.CompanySettings, paymentURL string, now time.Time) mail.InvoiceData {
	d := mail.InvoiceData{
		Number:     inv.Number,
		Company:    company.Name,
		Amount:     money.Format(inv.Total, inv.Currency),
		DueDate:    inv.DueDate.Format(dateLayout),
		IBAN:       company.IBAN,
		PaymentURL: paymentURL,
	}
	if inv.Customer != nil {
		d.CustomerName = inv.Customer.Name
	}
	if days := inv.DaysOverdue(now); days > 0 {
		d.DaysOverdue = days
	}
	return d
}

// MarkPaid moves a SENT or OVERDUE invoice to PAID. A nil paidAt means now.
func (s *Service) MarkPaid(ctx context.Context, userID, id uint, paidAt *time.Time) (*models.Invoice, error) {
	return s.MarkPaidWithin(ctx, userID, id, paidAt, nil)
}

// MarkPaidWithin is MarkPaid with within run in the transaction of the
// status change, so records settled by the payment commit or roll back
// together with the invoice.
func (s *Service) MarkPaidWithin(ctx context.Context, userID, id uint, paidAt *time.Time, within func(tx *gorm.DB, inv *models.Invoice) error) (*models.Invoice, error) {
	inv, err := s.transition(ctx, userID, id, models.InvoicePaid, audit.ActionPay, func(tx *gorm.DB, inv *models.Invoice) error {
		at := s.now()
		if paidAt != nil {
			at = *paidAt
		}
		inv.PaidAt = &at
		if within != nil {
			return within(tx, inv)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	events.Emit(ctx, s.events, events.Event{
		Type: events.InvoicePaid, UserID: userID, EntityID: inv.ID, OccurredAt: s.now(),
		Data: map[string]any{"number": inv.Number, "total": inv.Total.String(), "currency": inv.Currency},
	})
	return inv, nil
}

// Cancel moves a DRAFT, SENT or OVERDUE invoice to CANCELLED.
func (s *Service) Cancel(ctx context.Context, userID, id uint) (*models.Invoice, error) {
	inv, err := s.transition(ctx, userID, id, models.InvoiceCancelled, audit.ActionCancel, nil)
	if err != nil {
		return nil, err
	}
	events.Emit(ctx, s.events, events.Event{
		Type: events.InvoiceCancelled, UserID: userID, EntityID: inv.ID, OccurredAt: s.now(),
	})
	return inv, nil
}

// MarkOverdue stores OVERDUE on every SENT invoice whose due date has passed
// and returns how many changed.
func (s *Service) MarkOverdue(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Invoice{}).
		Where("status = ? AND due_date < ?", models.InvoiceSent, s.today()).
		Update("status", models.InvoiceOverdue)
	return res.RowsAffected, res.Error
}

// PDF renders an invoice; free accounts get the watermark.
func (s *Service) PDF(ctx context.Context, userID, id uint, paymentURL string) ([]byte, string, error) {
	inv, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, "", err
	}
	company, plan, err := Sender(s.db.WithContext(ctx), userID)
	if err != nil {
		return nil, "", err
	}
	doc := pdf.FromInvoice(inv, company, plan)
	doc.PaymentURL = paymentURL
	out, err := pdf.Render(doc)
	return out, "factuur-" + inv.Number + ".pdf", err
}
