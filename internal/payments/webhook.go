package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dkortekaas/declair/internal/discount"
	"github.com/dkortekaas/declair/internal/events"
	"github.com/dkortekaas/declair/internal/invoicing"
	"github.com/dkortekaas/declair/internal/logger"
	"github.com/dkortekaas/declair/internal/models"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
	"gorm.io/gorm"
)

var (
	ErrInvalidSignature = errors.New("webhook signature invalid")
	ErrUnknownUser      = errors.New("webhook refers to an unknown user")
)

// Outcome tells what a webhook call changed, for logging and tests.
type Outcome string

const (
	OutcomeIgnored      Outcome = "ignored"
	OutcomeSubscription Outcome = "subscription_updated"
	OutcomeInvoicePaid  Outcome = "invoice_paid"
	OutcomeDuplicate    Outcome = "duplicate"
)

// Webhook applies provider events to users and invoices. Every branch is
// idempotent; the provider redelivers until it gets a 2xx.
type Webhook struct {
	db        *gorm.DB
	secret    string
	invoices  *invoicing.Service
	discounts *discount.Service
	events    events.Publisher
	now       func() time.Time
}

func NewWebhook(db *gorm.DB, secret string, invoices *invoicing.Service, discounts *discount.Service, pub events.Publisher) *Webhook {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Webhook{db: db, secret: secret, invoices: invoices, discounts: discounts, events: pub, now: time.Now}
}

// Handle verifies the Stripe-Signature header and dispatches the event.
func (h *Webhook) Handle(ctx context.Context, payload []byte, signature string) (Outcome, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, h.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	log := logger.Ctx(ctx).With().Str("event_id", event.ID).Str("event_type", string(event.Type)).Logger()
	if event.Data == nil {
		return OutcomeIgnored, nil
	}

	var out Outcome
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
			return "", err
		}
		out, err = h.checkoutCompleted(ctx, &cs)
	case stripe.EventTypeCustomerSubscriptionUpdated, stripe.EventTypeCustomerSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return "", err
		}
		out, err = h.subscriptionChanged(ctx, &sub, event.Type == stripe.EventTypeCustomerSubscriptionDeleted)
	default:
		out = OutcomeIgnored
	}
	if err != nil {
		log.Error().Err(err).Msg("webhook failed")
		return "", err
	}
	log.Info().Str("outcome", string(out)).Msg("webhook handled")
	return out, nil
}

func (h *Webhook) checkoutCompleted(ctx context.Context, cs *stripe.CheckoutSession) (Outcome, error) {
	switch cs.Mode {
	case stripe.CheckoutSessionModeSubscription:
		return h.subscriptionStarted(ctx, cs)
	case stripe.CheckoutSessionModePayment:
		if cs.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
			return OutcomeIgnored, nil
		}
		return h.invoicePaid(ctx, cs)
	}
	return OutcomeIgnored, nil
}

func metaUint(m map[string]string, key string) uint {
	v, err := strconv.ParseUint(m[key], 10, 64)
	if err != nil {
		return 0
	}
	return uint(v)
}

func (h *Webhook) subscriptionStarted(ctx context.Context, cs *stripe.CheckoutSession) (Outcome, error) {
	userID := metaUint(cs.Metadata, metaUserID)
	if userID == 0 {
		if id, err := strconv.ParseUint(cs.ClientReferenceID, 10, 64); err == nil {
			userID = uint(id)
		}
	}
	var u models.User
	if err := h.db.WithContext(ctx).First(&u, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("%w: %d", ErrUnknownUser, userID)
		}
		return "", err
	}
	var subID, custID string
	if cs.Subscription != nil {
		subID = cs.Subscription.ID
	}
	if cs.Customer != nil {
		custID = cs.Customer.ID
	}
	if subID != "" && u.StripeSubscriptionID == subID && u.Plan == models.PlanPro {
		return OutcomeDuplicate, nil
	}

	err := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&u).Updates(map[string]any{
			"plan":                   models.PlanPro,
			"stripe_customer_id":     custID,
			"stripe_subscription_id": subID,
			"subscription_status":    string(stripe.SubscriptionStatusActive),
		}).Error; err != nil {
			return err
		}
		if code := cs.Metadata[metaDiscountCode]; code != "" && h.discounts != nil {
			// The provider already granted the coupon; a code used up in
			// the meantime is logged, not refused.
			if err := h.discounts.Redeem(ctx, tx, code); err != nil {
				logger.Ctx(ctx).Warn().Err(err).Str("code", code).Msg("discount not redeemed")
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	events.Emit(ctx, h.events, events.Event{
		Type: events.SubscriptionUpdated, UserID: u.ID, OccurredAt: h.now(),
		Data: map[string]any{"plan": models.PlanPro, "status": stripe.SubscriptionStatusActive},
	})
	return OutcomeSubscription, nil
}

func (h *Webhook) invoicePaid(ctx context.Context, cs *stripe.CheckoutSession) (Outcome, error) {
	var link models.PaymentLink
	err := h.db.WithContext(ctx).Where("provider_id = ?", cs.ID).Take(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		logger.Ctx(ctx).Warn().Str("session", cs.ID).Msg("payment for unknown link")
		return OutcomeIgnored, nil
	}
	if err != nil {
		return "", err
	}
	if link.Status == models.PaymentLinkPaid {
		return OutcomeDuplicate, nil
	}
	paidAt := h.now()
	_, err = h.invoices.MarkPaidWithin(ctx, link.UserID, link.InvoiceID, &paidAt, func(tx *gorm.DB, _ *models.Invoice) error {
		return settleLink(tx, &link)
	})
	if errors.Is(err, invoicing.ErrInvalidTransition) {
		// Already marked paid by hand, or cancelled meanwhile.
		logger.Ctx(ctx).Warn().Uint("invoice_id", link.InvoiceID).Msg("paid invoice not open")
		if err := settleLink(h.db.WithContext(ctx), &link); err != nil {
			return "", err
		}
		return OutcomeDuplicate, nil
	}
	if err != nil {
		return "", err
	}
	return OutcomeInvoicePaid, nil
}

func settleLink(tx *gorm.DB, link *models.PaymentLink) error {
	return tx.Model(link).Update("status", models.PaymentLinkPaid).Error
}

// proStatuses keep the PRO plan.
var proStatuses = map[stripe.SubscriptionStatus]bool{
	stripe.SubscriptionStatusActive:   true,
	stripe.SubscriptionStatusTrialing: true,
	stripe.SubscriptionStatusPastDue:  true,
}

func (h *Webhook) subscriptionChanged(ctx context.Context, sub *stripe.Subscription, deleted bool) (Outcome, error) {
	q := h.db.WithContext(ctx).Where("stripe_subscription_id = ?", sub.ID)
	if id := metaUint(sub.Metadata, metaUserID); id != 0 {
		q = h.db.WithContext(ctx).Where("id = ? OR stripe_subscription_id = ?", id, sub.ID)
	}
	var u models.User
	if err := q.Take(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("%w: subscription %s", ErrUnknownUser, sub.ID)
		}
		return "", err
	}
	status := sub.Status
	if deleted {
		status = stripe.SubscriptionStatusCanceled
	}
	plan := models.PlanFree
	if proStatuses[status] {
		plan = models.PlanPro
	}
	updates := map[string]any{
		"plan":                   plan,
		"subscription_status":    string(status),
		"stripe_subscription_id": sub.ID,
	}
	if sub.CurrentPeriodEnd > 0 {
		updates["current_period_end"] = time.Unix(sub.CurrentPeriodEnd, 0).UTC()
	}
	if sub.Customer != nil && sub.Customer.ID != "" {
		updates["stripe_customer_id"] = sub.Customer.ID
	}
	if err := h.db.WithContext(ctx).Model(&u).Updates(updates).Error; err != nil {
		return "", err
	}
	events.Emit(ctx, h.events, events.Event{
		Type: events.SubscriptionUpdated, UserID: u.ID, OccurredAt: h.now(),
		Data: map[string]any{"plan": plan, "status": status},
	})
	return OutcomeSubscription, nil
}
