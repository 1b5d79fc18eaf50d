// Package quotes manages quotes, their public signing links and the
// conversion of accepted quotes into invoices.
package quotes

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dkortekaas/declair/httpx"
	"github.com/dkortekaas/declair/internal/audit"
	"github.com/dkortekaas/declair/internal/events"
	"github.com/dkortekaas/declair/internal/invoicing"
	"github.com/dkortekaas/declair/internal/mail"
	"github.com/dkortekaas/declair/internal/models"
	"github.com/dkortekaas/declair/internal/money"
	"github.com/dkortekaas/declair/internal/numbering"
	"github.com/dkortekaas/declair/internal/policy"
	"github.com/dkortekaas/declair/validation"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	EntityQuote = "quote"

	defaultValidDays   = 30
	defaultSigningDays = 14
)

var (
	ErrNotFound         = errors.New("quote not found")
	ErrCustomerNotFound = errors.New("customer not found")
	ErrNotDraft         = errors.New("quote is not a draft")
	ErrNotSignable      = errors.New("quote cannot be offered for signing")
	ErrNotAccepted      = errors.New("quote is not accepted")
	ErrNoRecipient      = errors.New("customer has no email address")
)

// Input is the body of create and update. Dates are YYYY-MM-DD.
type Input struct {
	CustomerID uint                  `json:"customer_id"`
	QuoteDate  string                `json:"quote_date"`
	ValidUntil string                `json:"valid_until"`
	Currency   string                `json:"currency"`
	Notes      string                `json:"notes"`
	Items      []invoicing.ItemInput `json:"items"`
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
	var from, until time.Time
	var okFrom, okUntil bool
	if in.QuoteDate != "" {
		if from, okFrom = parseDate(in.QuoteDate); !okFrom {
			v.Add("quote_date", "invalid_date")
		}
	}
	if in.ValidUntil != "" {
		if until, okUntil = parseDate(in.ValidUntil); !okUntil {
			v.Add("valid_until", "invalid_date")
		}
	}
	if okFrom && okUntil && until.Before(from) {
		v.Add("valid_until", "out_of_range")
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

// SignInput is what the customer submits on the public signing page.
type SignInput struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (in SignInput) Validate() validation.Violations {
	v := validation.Violations{}
	validation.Required("name", in.Name, v)
	if strings.TrimSpace(in.Name) != "" {
		validation.MinLength("name", strings.TrimSpace(in.Name), 2, v)
	}
	if in.Email != "" {
		validation.Email("email", in.Email, v)
	}
	return v
}

type Service struct {
	db          *gorm.DB
	guard       *Guard
	invoices    *invoicing.Service
	audit       *audit.Log
	mailer      mail.Mailer
	events      events.Publisher
	plans       *policy.PlanResolver
	baseURL     string
	signingDays int
	now         func() time.Time
}

type Option func(*Service)

func WithMailer(m mail.Mailer) Option       { return func(s *Service) { s.mailer = m } }
func WithEvents(p events.Publisher) Option  { return func(s *Service) { s.events = p } }
func WithAudit(l *audit.Log) Option         { return func(s *Service) { s.audit = l } }
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithBaseURL sets the public origin used in signing links.
func WithBaseURL(u string) Option { return func(s *Service) { s.baseURL = strings.TrimRight(u, "/") } }

// WithSigningDays sets how long a signing link stays valid.
func WithSigningDays(n int) Option { return func(s *Service) { s.signingDays = n } }

func NewService(db *gorm.DB, guard *Guard, invoices *invoicing.Service, opts ...Option) *Service {
	s := &Service{
		db:          db,
		guard:       guard,
		invoices:    invoices,
		audit:       audit.New(db),
		mailer:      mail.LogMailer{},
		events:      events.Nop{},
		plans:       policy.NewPlanResolver(db),
		baseURL:     "http://localhost:8080",
		signingDays: defaultSigningDays,
		now:         time.Now,
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

func byPosition(db *gorm.DB) *gorm.DB { return db.Order("position, id") }

func (s *Service) Get(ctx context.Context, userID, id uint) (*models.Quote, error) {
	var q models.Quote
	err := s.db.WithContext(ctx).
		Preload("Items", byPosition).
		Preload("Customer", func(db *gorm.DB) *gorm.DB { return db.Unscoped() }).
		Where("user_id = ?", userID).First(&q, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func (s *Service) List(ctx context.Context, userID uint, status models.QuoteStatus) ([]models.Quote, error) {
	q := s.db.WithContext(ctx).Preload("Customer", func(db *gorm.DB) *gorm.DB { return db.Unscoped() }).
		Where("user_id = ?", userID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []models.Quote
	err := q.Order("quote_date desc, number desc").Find(&out).Error
	return out, err
}

// apply copies in onto q and recomputes the totals.
func (s *Service) apply(ctx context.Context, q *models.Quote, in Input) error {
	var cust models.Customer
	err := s.db.WithContext(ctx).Where("user_id = ?", q.UserID).First(&cust, in.CustomerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrCustomerNotFound
	}
	if err != nil {
		return err
	}
	cur := strings.ToUpper(strings.TrimSpace(in.Currency))
	if cur == "" {
		cur = "EUR"
	}
	if cur != "EUR" {
		if err := s.plans.Check(ctx, q.UserID, policy.FeatureMultiCurrency); err != nil {
			return err
		}
	}
	from := s.today()
	if d, ok := parseDate(in.QuoteDate); ok {
		from = d
	}
	until, ok := parseDate(in.ValidUntil)
	if !ok {
		until = from.AddDate(0, 0, defaultValidDays)
	}

	q.CustomerID = cust.ID
	q.Customer = &cust
	q.QuoteDate = from
	q.ValidUntil = until
	q.Currency = cur
	q.Notes = in.Notes

	zeroVAT := cust.DefaultVATTreatment() != models.VATStandard
	lines := make([]money.Line, len(in.Items))
	q.Items = make([]models.QuoteItem, len(in.Items))
	for i, it := range in.Items {
		l := money.Line{Quantity: it.Quantity, UnitPrice: it.UnitPrice, VATRate: it.VATRate}
		lines[i] = l
		item := models.QuoteItem{
			Description: strings.TrimSpace(it.Description),
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			VATRate:     it.VATRate,
			NetAmount:   l.Net(),
			Position:    i,
		}
		if !zeroVAT {
			item.VATAmount = l.VAT()
		}
		q.Items[i] = item
	}
	q.Subtotal, q.VATAmount, q.Total = money.Totals(lines, zeroVAT)
	return nil
}

// Create stores a numbered DRAFT quote.
func (s *Service) Create(ctx context.Context, userID uint, in Input) (*models.Quote, error) {
	if v := in.Validate(); !v.Empty() {
		return nil, v
	}
	q := &models.Quote{UserID: userID, Status: models.QuoteDraft, SigningStatus: models.SigningPending}
	if err := s.apply(ctx, q, in); err != nil {
		return nil, err
	}
	err := numbering.Allocate(ctx, s.db, userID, numbering.KindQuote, q.QuoteDate.Year(), func(tx *gorm.DB, number string) error {
		q.ID = 0
		for i := range q.Items {
			q.Items[i].ID, q.Items[i].QuoteID = 0, 0
		}
		q.Number = number
		if err := tx.Omit("Customer").Create(q).Error; err != nil {
			return err
		}
		_, err := s.audit.Record(ctx, tx, audit.Entry{
			UserID: userID, EntityType: EntityQuote, EntityID: q.ID, Action: audit.ActionCreate,
			Changes: map[string]any{"number": number, "total": q.Total},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return q, nil
}

// Update replaces the contents of a DRAFT quote.
func (s *Service) Update(ctx context.Context, userID, id uint, in Input) (*models.Quote, error) {
	if v := in.Validate(); !v.Empty() {
		return nil, v
	}
	q, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if q.Status != models.QuoteDraft {
		return nil, ErrNotDraft
	}
	if err := s.apply(ctx, q, in); err != nil {
		return nil, err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("quote_id = ?", q.ID).Delete(&models.QuoteItem{}).Error; err != nil {
			return err
		}
		for i := range q.Items {
			q.Items[i].ID = 0
			q.Items[i].QuoteID = q.ID
		}
		if err := tx.Create(&q.Items).Error; err != nil {
			return err
		}
		res := tx.Model(&models.Quote{}).Where("id = ? AND status = ?", q.ID, models.QuoteDraft).Updates(map[string]any{
			"customer_id": q.CustomerID, "quote_date": q.QuoteDate, "valid_until": q.ValidUntil,
			"currency": q.Currency, "notes": q.Notes,
			"subtotal": q.Subtotal, "vat_amount": q.VATAmount, "total": q.Total,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotDraft
		}
		_, err := s.audit.Record(ctx, tx, audit.Entry{
			UserID: userID, EntityType: EntityQuote, EntityID: q.ID, Action: audit.ActionUpdate,
			Changes: map[string]any{"total": q.Total},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return q, nil
}

// Delete soft deletes a quote that has not been signed or converted. Its
// signing link stops resolving.
func (s *Service) Delete(ctx context.Context, userID, id uint) error {
	q, err := s.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	if q.Status != models.QuoteDraft && q.Status != models.QuoteSent {
		return ErrNotSignable
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&models.Quote{}, q.ID).Error; err != nil {
			return err
		}
		_, err := s.audit.Record(ctx, tx, audit.Entry{
			UserID: userID, EntityType: EntityQuote, EntityID: q.ID, Action: audit.ActionDelete,
			Changes: map[string]any{"number": q.Number},
		})
		return err
	})
}

// SigningURL is the public page for token.
func (s *Service) SigningURL(token string) string {
	return s.baseURL + "/offerte/" + token
}

// EnableSigning issues a signing link for a DRAFT or SENT quote and mails it
// to the customer. The link expires after the configured number of days but
// never after the quote's validity. A DRAFT quote becomes SENT.
func (s *Service) EnableSigning(ctx context.Context, userID, id uint) (*models.Quote, string, error) {
	q, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, "", err
	}
	if (q.Status != models.QuoteDraft && q.Status != models.QuoteSent) || q.SigningStatus != models.SigningPending {
		return nil, "", ErrNotSignable
	}
	if q.Customer == nil || strings.TrimSpace(q.Customer.Email) == "" {
		return nil, "", ErrNoRecipient
	}

	token := uuid.NewString()
	if q.SigningToken != nil {
		token = *q.SigningToken
	}
	expires := s.now().AddDate(0, 0, s.signingDays)
	if end := q.ValidUntil.Add(24*time.Hour - time.Second); end.Before(expires) {
		expires = end
	}
	link := s.SigningURL(token)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Quote{}).
			Where("id = ? AND status IN ? AND signing_status = ?", q.ID, []models.QuoteStatus{models.QuoteDraft, models.QuoteSent}, models.SigningPending).
			Updates(map[string]any{
				"signing_token": token, "signing_enabled": true, "signing_expires_at": expires,
				"status": models.QuoteSent,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotSignable
		}
		company, _, err := invoicing.Sender(tx, userID)
		if err != nil {
			return err
		}
		msg, err := mail.Compose(q.Customer.Email, mail.TplQuoteSigning, mail.QuoteData{
			Number:       q.Number,
			Company:      company.Name,
			CustomerName: q.Customer.Name,
			Amount:       money.Format(q.Total, q.Currency),
			URL:          link,
			ExpiresAt:    expires.Format("02-01-2006"),
		})
		if err != nil {
			return err
		}
		if err := s.mailer.Send(ctx, msg); err != nil {
			return err
		}
		_, err = s.audit.Record(ctx, tx, audit.Entry{
			UserID: userID, EntityType: EntityQuote, EntityID: q.ID, Action: audit.ActionSend,
			Changes: map[string]any{"to": q.Customer.Email, "expires_at": expires},
		})
		return err
	})
	if err != nil {
		return nil, "", err
	}
	q.SigningToken = &token
	q.SigningEnabled = true
	q.SigningExpiresAt = &expires
	q.Status = models.QuoteSent
	return q, link, nil
}

// DisableSigning turns the link off; the token keeps resolving to 403.
func (s *Service) DisableSigning(ctx context.Context, userID, id uint) error {
	q, err := s.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Quote{}).Where("id = ?", q.ID).Update("signing_enabled", false).Error; err != nil {
			return err
		}
		_, err := s.audit.Record(ctx, tx, audit.Entry{
			UserID: userID, EntityType: EntityQuote, EntityID: q.ID, Action: audit.ActionUpdate,
			Changes: map[string]any{"signing_enabled": false},
		})
		return err
	})
}

// PublicQuote is what the signing page shows. It carries no internal ids.
type PublicQuote struct {
	Number           string            `json:"number"`
	Company          string            `json:"company"`
	CustomerName     string            `json:"customer_name"`
	QuoteDate        time.Time         `json:"quote_date"`
	ValidUntil       time.Time         `json:"valid_until"`
	Currency         string            `json:"currency"`
	Items            []PublicQuoteItem `json:"items"`
	Subtotal         decimal.Decimal   `json:"subtotal"`
	VATAmount        decimal.Decimal   `json:"vat_amount"`
	Total            decimal.Decimal   `json:"total"`
	Notes            string            `json:"notes,omitempty"`
	SigningExpiresAt *time.Time        `json:"signing_expires_at,omitempty"`
}

type PublicQuoteItem struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	VATRate     decimal.Decimal `json:"vat_rate"`
	NetAmount   decimal.Decimal `json:"net_amount"`
}

// Public returns the quote behind token after the guard has passed.
func (s *Service) Public(ctx context.Context, token string) (*PublicQuote, error) {
	res, err := s.guard.Check(ctx, token)
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, res.Err()
	}
	q := res.Quote
	company, _, err := invoicing.Sender(s.db.WithContext(ctx), q.UserID)
	if err != nil {
		return nil, err
	}
	out := &PublicQuote{
		Number: q.Number, Company: company.Name, QuoteDate: q.QuoteDate, ValidUntil: q.ValidUntil,
		Currency: q.Currency, Subtotal: q.Subtotal, VATAmount: q.VATAmount, Total: q.Total,
		Notes: q.Notes, SigningExpiresAt: q.SigningExpiresAt,
	}
	if q.Customer != nil {
		out.CustomerName = q.Customer.Name
	}
	for _, it := range q.Items {
		out.Items = append(out.Items, PublicQuoteItem{
			Description: it.Description, Quantity: it.Quantity, UnitPrice: it.UnitPrice,
			VATRate: it.VATRate, NetAmount: it.NetAmount,
		})
	}
	return out, nil
}

// Sign accepts the quote behind token. The client address is taken from
// ctx (audit.WithIP).
func (s *Service) Sign(ctx context.Context, token string, in SignInput) (*models.Quote, error) {
	res, err := s.guard.Check(ctx, token)
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, res.Err()
	}
	if v := in.Validate(); !v.Empty() {
		return nil, v
	}
	q := res.Quote
	now := s.now()
	ip := audit.IPFromContext(ctx)
	name := strings.TrimSpace(in.Name)
	email := strings.TrimSpace(in.Email)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.settle(tx, q.ID, models.SigningSigned, models.QuoteAccepted, map[string]any{
			"signed_at": now, "signer_name": name, "signer_email": email, "signer_ip": ip,
		}); err != nil {
			return err
		}
		_, err := s.audit.Record(ctx, tx, audit.Entry{
			UserID: q.UserID, EntityType: EntityQuote, EntityID: q.ID, Action: audit.ActionSign,
			Changes: map[string]any{"signer_name": name, "signer_email": email},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	q.SigningStatus = models.SigningSigned
	q.Status = models.QuoteAccepted
	q.SignedAt = &now
	q.SignerName, q.SignerEmail, q.SignerIP = name, email, ip
	events.Emit(ctx, s.events, events.Event{
		Type: events.QuoteSigned, UserID: q.UserID, EntityID: q.ID, OccurredAt: now,
		Data: map[string]any{"number": q.Number, "signer": name},
	})
	return q, nil
}

// Decline rejects the quote behind token with an optional reason.
func (s *Service) Decline(ctx context.Context, token, reason string) (*models.Quote, error) {
	res, err := s.guard.Check(ctx, token)
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, res.Err()
	}
	q := res.Quote
	now := s.now()
	reason = truncate(strings.TrimSpace(reason), maxDeclineReason)
	ip := audit.IPFromContext(ctx)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.settle(tx, q.ID, models.SigningDeclined, models.QuoteDeclined, map[string]any{
			"signed_at": now, "signer_ip": ip, "decline_reason": reason,
		}); err != nil {
			return err
		}
		_, err := s.audit.Record(ctx, tx, audit.Entry{
			UserID: q.UserID, EntityType: EntityQuote, EntityID: q.ID, Action: audit.ActionDecline,
			Changes: map[string]any{"reason": reason},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	q.SigningStatus = models.SigningDeclined
	q.Status = models.QuoteDeclined
	q.DeclineReason = reason
	events.Emit(ctx, s.events, events.Event{
		Type: events.QuoteDeclined, UserID: q.UserID, EntityID: q.ID, OccurredAt: now,
		Data: map[string]any{"number": q.Number},
	})
	return q, nil
}

// maxDeclineReason is the length of the decline_reason column in characters.
const maxDeclineReason = 1000

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// settle moves a pending quote to its final signing state. A concurrent
// sign or decline that won the race is reported as the matching 410.
func (s *Service) settle(tx *gorm.DB, id uint, signing models.SigningStatus, status models.QuoteStatus, fields map[string]any) error {
	fields["signing_status"] = signing
	fields["status"] = status
	res := tx.Model(&models.Quote{}).
		Where("id = ? AND signing_status = ? AND signing_enabled = ? AND status = ?", id, models.SigningPending, true, models.QuoteSent).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	var cur models.Quote
	if err := tx.Select("id", "signing_status").First(&cur, id).Error; err != nil {
		return err
	}
	switch cur.SigningStatus {
	case models.SigningDeclined:
		return httpx.NewError(httpx.KindGone, ReasonAlreadyDeclined)
	case models.SigningSigned:
		return httpx.NewError(httpx.KindGone, ReasonAlreadySigned)
	}
	return httpx.NewError(httpx.KindGone, ReasonExpired)
}

// Convert turns an accepted quote into a DRAFT invoice and marks the quote
// CONVERTED in the same transaction.
func (s *Service) Convert(ctx context.Context, userID, id uint) (*models.Invoice, error) {
	q, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if q.Status != models.QuoteAccepted || q.ConvertedInvoiceID != nil {
		return nil, ErrNotAccepted
	}
	in := invoicing.Input{CustomerID: q.CustomerID, Currency: q.Currency, Reference: q.Number, Notes: q.Notes}
	for _, it := range q.Items {
		in.Items = append(in.Items, invoicing.ItemInput{
			Description: it.Description, Quantity: it.Quantity, UnitPrice: it.UnitPrice, VATRate: it.VATRate,
		})
	}
	return s.invoices.CreateFrom(ctx, userID, in,
		func(inv *models.Invoice) { inv.QuoteID = &q.ID },
		func(tx *gorm.DB, inv *models.Invoice) error {
			res := tx.Model(&models.Quote{}).
				Where("id = ? AND status = ? AND converted_invoice_id IS NULL", q.ID, models.QuoteAccepted).
				Updates(map[string]any{"status": models.QuoteConverted, "converted_invoice_id": inv.ID})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return ErrNotAccepted
			}
			_, err := s.audit.Record(ctx, tx, audit.Entry{
				UserID: userID, EntityType: EntityQuote, EntityID: q.ID, Action: audit.ActionConvert,
				Changes: map[string]any{"invoice": inv.Number},
			})
			return err
		})
}

// ExpireOverdue marks SENT quotes past their validity EXPIRED and returns
// how many changed.
func (s *Service) ExpireOverdue(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Quote{}).
		Where("status = ? AND signing_status = ? AND valid_until < ?", models.QuoteSent, models.SigningPending, s.today()).
		Update("status", models.QuoteExpired)
	return res.RowsAffected, res.Error
}
