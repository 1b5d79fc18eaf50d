// Package payments connects the app to the payment provider: PRO
// subscription checkout, hosted payment links for invoices and the webhook
// that reports the outcome back.
package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
)

var (
	ErrProviderDown   = errors.New("payment provider unavailable")
	ErrProviderFailed = errors.New("payment provider rejected the request")
	ErrNotConfigured  = errors.New("payment provider not configured")
)

// Session is a hosted checkout page.
type Session struct {
	ID        string
	URL       string
	ExpiresAt time.Time
}

// SubscriptionRequest starts a PRO subscription for a user.
type SubscriptionRequest struct {
	UserID       uint
	Email        string
	CustomerID   string
	CouponID     string
	DiscountCode string
	SuccessURL   string
	CancelURL    string
}

// InvoiceRequest asks for a one-off payment of an invoice.
type InvoiceRequest struct {
	UserID      uint
	InvoiceID   uint
	Number      string
	Description string
	AmountCents int64
	Currency    string
	Email       string
	ExpiresAt   time.Time
	SuccessURL  string
	CancelURL   string
}

// Gateway creates checkout sessions at the provider.
type Gateway interface {
	SubscriptionCheckout(ctx context.Context, req SubscriptionRequest) (*Session, error)
	InvoiceCheckout(ctx context.Context, req InvoiceRequest) (*Session, error)
}

// Metadata keys set on sessions and read back by the webhook.
const (
	metaUserID       = "user_id"
	metaInvoiceID    = "invoice_id"
	metaDiscountCode = "discount_code"
	metaKind         = "kind"
	kindSubscription = "subscription"
	kindInvoice      = "invoice"
)

// StripeGateway implements Gateway with Stripe Checkout.
type StripeGateway struct {
	client  *client.API
	priceID string
}

func NewStripeGateway(apiKey, proPriceID string) *StripeGateway {
	sc := &client.API{}
	sc.Init(apiKey, nil)
	return &StripeGateway{client: sc, priceID: proPriceID}
}

func (g *StripeGateway) SubscriptionCheckout(ctx context.Context, req SubscriptionRequest) (*Session, error) {
	if g.priceID == "" {
		return nil, ErrNotConfigured
	}
	uid := strconv.FormatUint(uint64(req.UserID), 10)
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(uid),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(g.priceID), Quantity: stripe.Int64(1)},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{metaUserID: uid},
		},
	}
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	} else {
		params.CustomerEmail = stripe.String(req.Email)
	}
	if req.CouponID != "" {
		params.Discounts = []*stripe.CheckoutSessionDiscountParams{{Coupon: stripe.String(req.CouponID)}}
	} else {
		params.AllowPromotionCodes = stripe.Bool(false)
	}
	params.AddMetadata(metaKind, kindSubscription)
	params.AddMetadata(metaUserID, uid)
	if req.DiscountCode != "" {
		params.AddMetadata(metaDiscountCode, req.DiscountCode)
	}
	params.Context = ctx

	cs, err := g.client.CheckoutSessions.New(params)
	if err != nil {
		return nil, mapStripeError(err)
	}
	return &Session{ID: cs.ID, URL: cs.URL, ExpiresAt: time.Unix(cs.ExpiresAt, 0).UTC()}, nil
}

func (g *StripeGateway) InvoiceCheckout(ctx context.Context, req InvoiceRequest) (*Session, error) {
	if req.AmountCents <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrProviderFailed)
	}
	uid := strconv.FormatUint(uint64(req.UserID), 10)
	iid := strconv.FormatUint(uint64(req.InvoiceID), 10)
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(iid),
		ExpiresAt:         stripe.Int64(req.ExpiresAt.Unix()),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(req.Currency),
				UnitAmount: stripe.Int64(req.AmountCents),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name:        stripe.String("Factuur " + req.Number),
					Description: stripe.String(req.Description),
				},
			},
		}},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{metaInvoiceID: iid, metaUserID: uid},
		},
	}
	if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}
	params.AddMetadata(metaKind, kindInvoice)
	params.AddMetadata(metaUserID, uid)
	params.AddMetadata(metaInvoiceID, iid)
	params.SetIdempotencyKey("invoice-" + iid + "-" + strconv.FormatInt(req.ExpiresAt.Unix(), 10))
	params.Context = ctx

	cs, err := g.client.CheckoutSessions.New(params)
	if err != nil {
		return nil, mapStripeError(err)
	}
	return &Session{ID: cs.ID, URL: cs.URL, ExpiresAt: time.Unix(cs.ExpiresAt, 0).UTC()}, nil
}

// mapStripeError keeps stripe types out of the callers.
func mapStripeError(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		if se.HTTPStatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("%w: %s", ErrProviderDown, se.Msg)
		}
		return fmt.Errorf("%w: %s (%s)", ErrProviderFailed, se.Msg, se.Code)
	}
	return fmt.Errorf("%w: %v", ErrProviderDown, err)
}
