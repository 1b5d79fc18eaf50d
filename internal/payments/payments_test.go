package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/dkortekaas/declair/internal/db/dbtest"
	"github.com/dkortekaas/declair/internal/discount"
	"github.com/dkortekaas/declair/internal/events"
	"github.com/dkortekaas/declair/internal/invoicing"
	"github.com/dkortekaas/declair/internal/models"
	"github.com/dkortekaas/declair/internal/policy"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79/webhook"
	"gorm.io/gorm"
)

type fakeGateway struct {
	mu       sync.Mutex
	invoices []InvoiceRequest
	subs     []SubscriptionRequest
	err      error
}

func (g *fakeGateway) SubscriptionCheckout(_ context.Context, req SubscriptionRequest) (*Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	g.subs = append(g.subs, req)
	return &Session{ID: "cs_sub", URL: "https://checkout.example/sub"}, nil
}

func (g *fakeGateway) InvoiceCheckout(_ context.Context, req InvoiceRequest) (*Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	g.invoices = append(g.invoices, req)
	n := len(g.invoices)
	return &Session{ID: fmt.Sprintf("cs_%d", n), URL: fmt.Sprintf("https://checkout.example/%d", n), ExpiresAt: req.ExpiresAt}, nil
}

func openInvoice(t *testing.T, conn *gorm.DB, userID uint, number string, status models.InvoiceStatus) models.Invoice {
	t.Helper()
	cust := dbtest.Customer(t, conn, userID, "NL", "")
	inv := models.Invoice{
		UserID: userID, Number: number, CustomerID: cust.ID, Status: status, Currency: "EUR",
		InvoiceDate: time.Now(), DueDate: time.Now().AddDate(0, 0, 14),
		Total: decimal.RequireFromString("121.50"),
	}
	require.NoError(t, conn.Create(&inv).Error)
	return inv
}

func TestLinks_Create(t *testing.T) {
	conn := dbtest.Seeded(t)
	pro := dbtest.User(t, conn, "pro@example.nl", models.PlanPro)
	free := dbtest.User(t, conn, "free@example.nl", models.PlanFree)
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	gw := &fakeGateway{}
	links := NewLinks(conn, gw, invoicing.NewService(conn), "https://app.example/", WithLinkClock(clock))
	ctx := context.Background()

	inv := openInvoice(t, conn, pro.ID, "2025-0001", models.InvoiceSent)

	first, err := links.Create(ctx, pro.ID, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.example/1", first.URL)
	assert.Equal(t, now.Add(DefaultLinkTTL), first.ExpiresAt)
	require.Len(t, gw.invoices, 1)
	assert.EqualValues(t, 12150, gw.invoices[0].AmountCents)
	assert.Equal(t, "eur", gw.invoices[0].Currency)
	assert.Equal(t, "klant@example.nl", gw.invoices[0].Email)
	assert.Contains(t, gw.invoices[0].SuccessURL, "https://app.example/pay/"+first.Token)

	again, err := links.Create(ctx, pro.ID, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Token, again.Token)
	assert.Len(t, gw.invoices, 1, "a usable link is reused")
	assert.Equal(t, first.URL, links.ActiveURL(ctx, inv.ID))

	t.Run("expired link is replaced", func(t *testing.T) {
		now = now.Add(25 * time.Hour)
		defer func() { now = now.Add(-25 * time.Hour) }()
		assert.Empty(t, links.ActiveURL(ctx, inv.ID))

		fresh, err := links.Create(ctx, pro.ID, inv.ID)
		require.NoError(t, err)
		assert.NotEqual(t, first.Token, fresh.Token)

		old, err := links.Resolve(ctx, first.Token)
		require.NoError(t, err)
		assert.Equal(t, models.PaymentLinkExpired, old.Status)
	})

	t.Run("draft is not payable", func(t *testing.T) {
		draft := openInvoice(t, conn, pro.ID, "2025-0002", models.InvoiceDraft)
		_, err := links.Create(ctx, pro.ID, draft.ID)
		assert.ErrorIs(t, err, ErrNotPayable)
	})

	t.Run("free plan", func(t *testing.T) {
		own := openInvoice(t, conn, free.ID, "2025-0001", models.InvoiceSent)
		_, err := links.Create(ctx, free.ID, own.ID)
		assert.ErrorIs(t, err, policy.ErrFeatureNotAvailable)
	})

	t.Run("foreign invoice", func(t *testing.T) {
		_, err := links.Create(ctx, pro.ID, 9999)
		assert.ErrorIs(t, err, invoicing.ErrNotFound)
	})

	t.Run("resolve", func(t *testing.T) {
		_, err := links.Resolve(ctx, "not-a-token")
		assert.ErrorIs(t, err, ErrLinkNotFound)
		_, err = links.Resolve(ctx, "6f1c3a52-8d1e-4c47-9a0b-1f2e3d4c5b6a")
		assert.ErrorIs(t, err, ErrLinkNotFound)
	})

	t.Run("qr", func(t *testing.T) {
		data, err := links.QR(ctx, pro.ID, inv.ID, 5000)
		require.NoError(t, err)
		img, err := png.Decode(bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, maxQRSize, img.Bounds().Dx())
	})
}

func TestQRCode_DefaultSize(t *testing.T) {
	data, err := QRCode("https://checkout.example/1", 0)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, DefaultQRSize, img.Bounds().Dx())
	assert.Equal(t, DefaultQRSize, img.Bounds().Dy())
}

func TestBilling_Checkout(t *testing.T) {
	conn := dbtest.Seeded(t)
	u := dbtest.User(t, conn, "abonnee@example.nl", models.PlanFree)
	discounts := discount.NewService(conn)
	ctx := context.Background()
	_, err := discounts.Create(ctx, discount.Input{Code: "START", Type: models.DiscountPercent, Value: decimal.NewFromInt(50), StripeCouponID: "co_start"})
	require.NoError(t, err)

	gw := &fakeGateway{}
	billing := NewBilling(conn, gw, discounts, "https://app.example")

	sess, err := billing.Checkout(ctx, u.ID, " start ")
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.example/sub", sess.URL)
	require.Len(t, gw.subs, 1)
	assert.Equal(t, "co_start", gw.subs[0].CouponID)
	assert.Equal(t, "START", gw.subs[0].DiscountCode)
	assert.Equal(t, "abonnee@example.nl", gw.subs[0].Email)

	_, err = billing.Checkout(ctx, u.ID, "ONBEKEND")
	assert.ErrorIs(t, err, discount.ErrNotFound)

	require.NoError(t, conn.Model(&u).Updates(map[string]any{"plan": models.PlanPro, "subscription_status": "active"}).Error)
	_, err = billing.Checkout(ctx, u.ID, "")
	assert.ErrorIs(t, err, ErrAlreadySubscribed)
}

const secret = "whsec_test"

func signed(t *testing.T, eventType string, object any) ([]byte, string) {
	t.Helper()
	raw, err := json.Marshal(object)
	require.NoError(t, err)
	payload, err := json.Marshal(map[string]any{
		"id":          "evt_" + eventType,
		"object":      "event",
		"type":        eventType,
		"api_version": "2020-08-27",
		"data":        map[string]json.RawMessage{"object": raw},
	})
	require.NoError(t, err)
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: secret})
	return payload, sp.Header
}

func TestWebhook(t *testing.T) {
	conn := dbtest.Seeded(t)
	u := dbtest.User(t, conn, "klant@declair.nl", models.PlanFree)
	discounts := discount.NewService(conn)
	ctx := context.Background()
	one := 1
	_, err := discounts.Create(ctx, discount.Input{Code: "EENMALIG", Type: models.DiscountFixed, Value: decimal.NewFromInt(5), MaxUses: &one})
	require.NoError(t, err)

	rec := &events.Recorder{}
	invoices := invoicing.NewService(conn, invoicing.WithEvents(rec))
	h := NewWebhook(conn, secret, invoices, discounts, rec)

	t.Run("bad signature", func(t *testing.T) {
		payload, _ := signed(t, "checkout.session.completed", map[string]any{"id": "cs_x"})
		_, err := h.Handle(ctx, payload, "t=1,v1=deadbeef")
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("subscription checkout", func(t *testing.T) {
		session := map[string]any{
			"id": "cs_sub", "object": "checkout.session", "mode": "subscription",
			"client_reference_id": fmt.Sprint(u.ID),
			"customer":            "cus_123",
			"subscription":        "sub_123",
			"metadata":            map[string]string{"user_id": fmt.Sprint(u.ID), "discount_code": "EENMALIG"},
		}
		payload, header := signed(t, "checkout.session.completed", session)
		out, err := h.Handle(ctx, payload, header)
		require.NoError(t, err)
		assert.Equal(t, OutcomeSubscription, out)

		var got models.User
		require.NoError(t, conn.First(&got, u.ID).Error)
		assert.Equal(t, models.PlanPro, got.Plan)
		assert.Equal(t, "cus_123", got.StripeCustomerID)
		assert.Equal(t, "sub_123", got.StripeSubscriptionID)

		_, err = discounts.Validate(ctx, "EENMALIG")
		assert.ErrorIs(t, err, discount.ErrExhausted)

		out, err = h.Handle(ctx, payload, header)
		require.NoError(t, err)
		assert.Equal(t, OutcomeDuplicate, out)
	})

	t.Run("subscription deleted", func(t *testing.T) {
		sub := map[string]any{
			"id": "sub_123", "object": "subscription", "status": "canceled",
			"current_period_end": time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC).Unix(),
		}
		payload, header := signed(t, "customer.subscription.deleted", sub)
		out, err := h.Handle(ctx, payload, header)
		require.NoError(t, err)
		assert.Equal(t, OutcomeSubscription, out)

		var got models.User
		require.NoError(t, conn.First(&got, u.ID).Error)
		assert.Equal(t, models.PlanFree, got.Plan)
		assert.Equal(t, "canceled", got.SubscriptionStatus)
		require.NotNil(t, got.CurrentPeriodEnd)
		assert.Equal(t, 2025, got.CurrentPeriodEnd.Year())
	})

	t.Run("unknown subscription", func(t *testing.T) {
		payload, header := signed(t, "customer.subscription.updated", map[string]any{"id": "sub_nope", "status": "active"})
		_, err := h.Handle(ctx, payload, header)
		assert.ErrorIs(t, err, ErrUnknownUser)
	})

	t.Run("invoice paid", func(t *testing.T) {
		inv := openInvoice(t, conn, u.ID, "2025-0007", models.InvoiceSent)
		link := models.PaymentLink{
			UserID: u.ID, InvoiceID: inv.ID, Token: "0b6d7a4e-1c1f-4d3a-a9a2-5e2f8f9c0d11", ProviderID: "cs_pay",
			URL: "https://checkout.example/pay", Amount: inv.Total, Currency: "EUR",
			ExpiresAt: time.Now().Add(time.Hour), Status: models.PaymentLinkActive,
		}
		require.NoError(t, conn.Create(&link).Error)

		session := map[string]any{"id": "cs_pay", "object": "checkout.session", "mode": "payment", "payment_status": "paid"}
		payload, header := signed(t, "checkout.session.completed", session)
		out, err := h.Handle(ctx, payload, header)
		require.NoError(t, err)
		assert.Equal(t, OutcomeInvoicePaid, out)

		var stored models.Invoice
		require.NoError(t, conn.First(&stored, inv.ID).Error)
		assert.Equal(t, models.InvoicePaid, stored.Status)
		assert.NotNil(t, stored.PaidAt)
		assert.Contains(t, rec.Types(), events.InvoicePaid)

		out, err = h.Handle(ctx, payload, header)
		require.NoError(t, err)
		assert.Equal(t, OutcomeDuplicate, out)
	})

	t.Run("unpaid and unknown events are ignored", func(t *testing.T) {
		payload, header := signed(t, "checkout.session.completed", map[string]any{"id": "cs_wait", "mode": "payment", "payment_status": "unpaid"})
		out, err := h.Handle(ctx, payload, header)
		require.NoError(t, err)
		assert.Equal(t, OutcomeIgnored, out)

		payload, header = signed(t, "invoice.created", map[string]any{"id": "in_1"})
		out, err = h.Handle(ctx, payload, header)
		require.NoError(t, err)
		assert.Equal(t, OutcomeIgnored, out)
	})
}

func TestWebhook_InvoicePaidAfterFailedDelivery(t *testing.T) {
	conn := dbtest.Seeded(t)
	u := dbtest.User(t, conn, "retry@declair.nl", models.PlanPro)
	ctx := context.Background()
	h := NewWebhook(conn, secret, invoicing.NewService(conn), nil, nil)

	inv := openInvoice(t, conn, u.ID, "2025-0011", models.InvoiceOverdue)
	link := models.PaymentLink{
		UserID: u.ID, InvoiceID: inv.ID, Token: "7f3c2b1a-9d8e-4c6b-8a5f-1e2d3c4b5a69", ProviderID: "cs_retry",
		URL: "https://checkout.example/retry", Amount: inv.Total, Currency: "EUR",
		ExpiresAt: time.Now().Add(time.Hour), Status: models.PaymentLinkActive,
	}
	require.NoError(t, conn.Create(&link).Error)

	failNext := true
	require.NoError(t, conn.Callback().Update().Before("gorm:update").Register("test:fail_invoice_update", func(db *gorm.DB) {
		if failNext && db.Statement.Table == "invoices" {
			failNext = false
			db.AddError(errors.New("connection reset"))
		}
	}))

	session := map[string]any{"id": "cs_retry", "object": "checkout.session", "mode": "payment", "payment_status": "paid"}
	payload, header := signed(t, "checkout.session.completed", session)
	_, err := h.Handle(ctx, payload, header)
	require.Error(t, err)

	var stored models.PaymentLink
	require.NoError(t, conn.First(&stored, link.ID).Error)
	assert.Equal(t, models.PaymentLinkActive, stored.Status, "link stays open while the invoice is unpaid")

	out, err := h.Handle(ctx, payload, header)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInvoicePaid, out)

	var paid models.Invoice
	require.NoError(t, conn.First(&paid, inv.ID).Error)
	assert.Equal(t, models.InvoicePaid, paid.Status)
	require.NoError(t, conn.First(&stored, link.ID).Error)
	assert.Equal(t, models.PaymentLinkPaid, stored.Status)
}
