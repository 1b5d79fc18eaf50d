package payments

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"strconv"
	"strings"
	"time"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"
	"github.com/dkortekaas/declair/internal/invoicing"
	"github.com/dkortekaas/declair/internal/logger"
	"github.com/dkortekaas/declair/internal/models"
	"github.com/dkortekaas/declair/internal/policy"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

var (
	ErrNotPayable   = errors.New("invoice cannot be paid online")
	ErrLinkNotFound = errors.New("payment link not found")
)

const (
	DefaultLinkTTL = 24 * time.Hour
	DefaultQRSize  = 256
	maxQRSize      = 1024
	minQRSize      = 64
)

// Links hands out hosted payment pages for open invoices.
type Links struct {
	db       *gorm.DB
	gateway  Gateway
	invoices *invoicing.Service
	plans    *policy.PlanResolver
	group    singleflight.Group
	baseURL  string
	ttl      time.Duration
	now      func() time.Time
}

type LinksOption func(*Links)

func WithLinkTTL(d time.Duration) LinksOption        { return func(l *Links) { l.ttl = d } }
func WithLinkClock(now func() time.Time) LinksOption { return func(l *Links) { l.now = now } }

func NewLinks(db *gorm.DB, gateway Gateway, invoices *invoicing.Service, baseURL string, opts ...LinksOption) *Links {
	l := &Links{
		db:       db,
		gateway:  gateway,
		invoices: invoices,
		plans:    policy.NewPlanResolver(db),
		baseURL:  strings.TrimRight(baseURL, "/"),
		ttl:      DefaultLinkTTL,
		now:      time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Create returns the active link of an invoice or makes a new one.
// Concurrent calls for the same invoice share a single checkout session.
func (l *Links) Create(ctx context.Context, userID, invoiceID uint) (*models.PaymentLink, error) {
	if err := l.plans.Check(ctx, userID, policy.FeaturePaymentLinks); err != nil {
		return nil, err
	}
	key := strconv.FormatUint(uint64(userID), 10) + ":" + strconv.FormatUint(uint64(invoiceID), 10)
	v, err, shared := l.group.Do(key, func() (any, error) {
		return l.create(ctx, userID, invoiceID)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		logger.Ctx(ctx).Debug().Uint("invoice_id", invoiceID).Msg("payment link shared")
	}
	link := *v.(*models.PaymentLink)
	return &link, nil
}

func (l *Links) create(ctx context.Context, userID, invoiceID uint) (*models.PaymentLink, error) {
	inv, err := l.invoices.Get(ctx, userID, invoiceID)
	if err != nil {
		return nil, err
	}
	now := l.now()
	if existing, err := l.active(ctx, invoiceID, now); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrLinkNotFound) {
		return nil, err
	}
	if !inv.Status.Open() || !inv.Total.IsPositive() {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotPayable, inv.Number, inv.Status)
	}

	token := uuid.NewString()
	req := InvoiceRequest{
		UserID:      userID,
		InvoiceID:   inv.ID,
		Number:      inv.Number,
		Description: inv.Reference,
		AmountCents: inv.Total.Shift(2).Round(0).IntPart(),
		Currency:    strings.ToLower(inv.Currency),
		ExpiresAt:   now.Add(l.ttl),
		SuccessURL:  l.baseURL + "/pay/" + token + "?status=success",
		CancelURL:   l.baseURL + "/pay/" + token + "?status=cancelled",
	}
	if inv.Customer != nil {
		req.Email = inv.Customer.Email
	}
	sess, err := l.gateway.InvoiceCheckout(ctx, req)
	if err != nil {
		return nil, err
	}
	expires := sess.ExpiresAt
	if expires.IsZero() {
		expires = req.ExpiresAt
	}
	link := &models.PaymentLink{
		UserID:     userID,
		InvoiceID:  inv.ID,
		Token:      token,
		Provider:   "stripe",
		ProviderID: sess.ID,
		URL:        sess.URL,
		Amount:     inv.Total,
		Currency:   inv.Currency,
		ExpiresAt:  expires,
		Status:     models.PaymentLinkActive,
	}
	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.PaymentLink{}).
			Where("invoice_id = ? AND status = ?", inv.ID, models.PaymentLinkActive).
			Update("status", models.PaymentLinkExpired).Error; err != nil {
			return err
		}
		return tx.Create(link).Error
	})
	if err != nil {
		return nil, err
	}
	logger.Ctx(ctx).Info().Uint("invoice_id", inv.ID).Str("session", sess.ID).Msg("payment link created")
	return link, nil
}

func (l *Links) active(ctx context.Context, invoiceID uint, now time.Time) (*models.PaymentLink, error) {
	var link models.PaymentLink
	err := l.db.WithContext(ctx).
		Where("invoice_id = ? AND status = ? AND expires_at > ?", invoiceID, models.PaymentLinkActive, now).
		Order("id desc").Take(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrLinkNotFound
	}
	if err != nil {
		return nil, err
	}
	return &link, nil
}

// ActiveURL is the checkout URL of a usable link, or empty.
func (l *Links) ActiveURL(ctx context.Context, invoiceID uint) string {
	link, err := l.active(ctx, invoiceID, l.now())
	if err != nil {
		return ""
	}
	return link.URL
}

// Resolve finds a link by its public token.
func (l *Links) Resolve(ctx context.Context, token string) (*models.PaymentLink, error) {
	if _, err := uuid.Parse(token); err != nil {
		return nil, ErrLinkNotFound
	}
	var link models.PaymentLink
	err := l.db.WithContext(ctx).Where("token = ?", token).Take(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrLinkNotFound
	}
	if err != nil {
		return nil, err
	}
	if link.Status == models.PaymentLinkActive && !link.Usable(l.now()) {
		link.Status = models.PaymentLinkExpired
	}
	return &link, nil
}

// QR renders the checkout URL of the invoice's link as a PNG of size pixels.
func (l *Links) QR(ctx context.Context, userID, invoiceID uint, size int) ([]byte, error) {
	link, err := l.Create(ctx, userID, invoiceID)
	if err != nil {
		return nil, err
	}
	return QRCode(link.URL, size)
}

// QRCode encodes content as a square PNG.
func QRCode(content string, size int) ([]byte, error) {
	switch {
	case size == 0:
		size = DefaultQRSize
	case size < minQRSize:
		size = minQRSize
	case size > maxQRSize:
		size = maxQRSize
	}
	code, err := qr.Encode(content, qr.M, qr.Auto)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	code, err = barcode.Scale(code, size, size)
	if err != nil {
		return nil, fmt.Errorf("scale qr: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, code); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
