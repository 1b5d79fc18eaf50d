// Package reminders sends payment reminders for open invoices. It runs as a
// batch, triggered by the cron endpoint or the CLI.
package reminders

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dkortekaas/declair/internal/invoicing"
	"github.com/dkortekaas/declair/internal/logger"
	"github.com/dkortekaas/declair/internal/mail"
	"github.com/dkortekaas/declair/internal/models"
	"gorm.io/gorm"
)

// Type is a reminder stage.
type Type string

const (
	Friendly Type = "FRIENDLY"
	First    Type = "FIRST"
	Second   Type = "SECOND"
	Final    Type = "FINAL"
)

// schedule lists the stages from least to most advanced with the day,
// relative to the due date, from which each applies.
var schedule = []struct {
	Type     Type
	Offset   int
	Template string
}{
	{Friendly, -3, mail.TplReminderFriendly},
	{First, 1, mail.TplReminderFirst},
	{Second, 14, mail.TplReminderSecond},
	{Final, 30, mail.TplReminderFinal},
}

// Stage returns the most advanced stage that applies daysOverdue days after
// the due date.
func Stage(daysOverdue int) (Type, bool) {
	for i := len(schedule) - 1; i >= 0; i-- {
		if daysOverdue >= schedule[i].Offset {
			return schedule[i].Type, true
		}
	}
	return "", false
}

func template(t Type) string {
	for _, s := range schedule {
		if s.Type == t {
			return s.Template
		}
	}
	return ""
}

// Result statuses.
const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

type Result struct {
	InvoiceID uint   `json:"invoice_id"`
	Number    string `json:"number"`
	Type      Type   `json:"type,omitempty"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

type Report struct {
	MarkedOverdue int64    `json:"marked_overdue"`
	Sent          int      `json:"sent"`
	Failed        int      `json:"failed"`
	Results       []Result `json:"results"`
}

// LinkSource finds a usable payment link for an invoice, or "".
type LinkSource interface {
	ActiveURL(ctx context.Context, invoiceID uint) string
}

type Service struct {
	db       *gorm.DB
	invoices *invoicing.Service
	mailer   mail.Mailer
	links    LinkSource
	now      func() time.Time
}

type Option func(*Service)

func WithMailer(m mail.Mailer) Option       { return func(s *Service) { s.mailer = m } }
func WithLinks(l LinkSource) Option         { return func(s *Service) { s.links = l } }
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(db *gorm.DB, invoices *invoicing.Service, opts ...Option) *Service {
	s := &Service{db: db, invoices: invoices, mailer: mail.LogMailer{}, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

var errNoRecipient = errors.New("customer has no email address")

// Run marks overdue invoices and sends every reminder that is due. A stage
// already sent for an invoice is never sent again, and a stage that was
// skipped is not sent late once a later stage applies. Failures are reported
// per invoice; only a failure to load the batch aborts.
func (s *Service) Run(ctx context.Context) (*Report, error) {
	log := logger.WithComponent("reminders")
	now := s.now()
	marked, err := s.invoices.MarkOverdue(ctx)
	if err != nil {
		return nil, err
	}
	rep := &Report{MarkedOverdue: marked, Results: []Result{}}

	horizon := now.AddDate(0, 0, -schedule[0].Offset)
	var open []models.Invoice
	err = s.db.WithContext(ctx).
		Preload("Customer", func(db *gorm.DB) *gorm.DB { return db.Unscoped() }).
		Where("status IN ? AND due_date <= ?", []models.InvoiceStatus{models.InvoiceSent, models.InvoiceOverdue}, horizon).
		Order("due_date, id").Find(&open).Error
	if err != nil {
		return nil, err
	}

	for i := range open {
		inv := &open[i]
		stage, ok := Stage(inv.DaysOverdue(now))
		if !ok {
			continue
		}
		res := Result{InvoiceID: inv.ID, Number: inv.Number, Type: stage}
		sent, err := s.send(ctx, inv, stage, now)
		switch {
		case err != nil:
			res.Status, res.Error = StatusFailed, errorCode(err)
			rep.Failed++
			log.Warn().Err(err).Uint("invoice_id", inv.ID).Str("type", string(stage)).Msg("reminder failed")
		case !sent:
			continue
		default:
			res.Status = StatusSent
			rep.Sent++
		}
		rep.Results = append(rep.Results, res)
	}
	log.Info().Int64("overdue", marked).Int("sent", rep.Sent).Int("failed", rep.Failed).Msg("reminder run finished")
	return rep, nil
}

func errorCode(err error) string {
	if errors.Is(err, errNoRecipient) {
		return "no_recipient"
	}
	return err.Error()
}

// send records the reminder and mails it in one transaction; the unique
// (invoice, type) index turns a concurrent second run into a no-op.
func (s *Service) send(ctx context.Context, inv *models.Invoice, stage Type, now time.Time) (bool, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.PaymentReminder{}).
		Where("invoice_id = ? AND type = ?", inv.ID, stage).Count(&n).Error; err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	if inv.Customer == nil || strings.TrimSpace(inv.Customer.Email) == "" {
		return false, errNoRecipient
	}
	sent := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&models.PaymentReminder{InvoiceID: inv.ID, Type: string(stage), SentAt: now, Recipient: inv.Customer.Email}).Error; err != nil {
			return err
		}
		company, _, err := invoicing.Sender(tx, inv.UserID)
		if err != nil {
			return err
		}
		var url string
		if s.links != nil {
			url = s.links.ActiveURL(ctx, inv.ID)
		}
		msg, err := mail.Compose(inv.Customer.Email, template(stage), invoicing.MailData(inv, company, url, now))
		if err != nil {
			return err
		}
		if err := s.mailer.Send(ctx, msg); err != nil {
			return err
		}
		sent = true
		return nil
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return false, nil
	}
	return sent, err
}

// History lists the reminders sent for an invoice.
func (s *Service) History(ctx context.Context, userID, invoiceID uint) ([]models.PaymentReminder, error) {
	var inv models.Invoice
	err := s.db.WithContext(ctx).Select("id").Where("user_id = ?", userID).First(&inv, invoiceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, invoicing.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var out []models.PaymentReminder
	err = s.db.WithContext(ctx).Where("invoice_id = ?", invoiceID).Order("sent_at, id").Find(&out).Error
	return out, err
}
