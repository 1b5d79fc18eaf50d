package payments

import (
	"context"
	"errors"
	"strings"

	"github.com/dkortekaas/declair/internal/discount"
	"github.com/dkortekaas/declair/internal/models"
	"gorm.io/gorm"
)

var ErrAlreadySubscribed = errors.New("user already has an active subscription")

// Billing starts PRO subscriptions.
type Billing struct {
	db        *gorm.DB
	gateway   Gateway
	discounts *discount.Service
	baseURL   string
}

func NewBilling(db *gorm.DB, gateway Gateway, discounts *discount.Service, baseURL string) *Billing {
	return &Billing{db: db, gateway: gateway, discounts: discounts, baseURL: strings.TrimRight(baseURL, "/")}
}

// Checkout opens a subscription checkout. An optional discount code is
// checked here and counted once the webhook confirms payment.
func (b *Billing) Checkout(ctx context.Context, userID uint, code string) (*Session, error) {
	var u models.User
	if err := b.db.WithContext(ctx).First(&u, userID).Error; err != nil {
		return nil, err
	}
	if u.Plan == models.PlanPro && u.SubscriptionStatus == "active" {
		return nil, ErrAlreadySubscribed
	}
	req := SubscriptionRequest{
		UserID:     u.ID,
		Email:      u.Email,
		CustomerID: u.StripeCustomerID,
		SuccessURL: b.baseURL + "/settings/billing?checkout=success",
		CancelURL:  b.baseURL + "/settings/billing?checkout=cancelled",
	}
	if code = strings.TrimSpace(code); code != "" {
		d, err := b.discounts.Validate(ctx, code)
		if err != nil {
			return nil, err
		}
		req.DiscountCode = d.Code
		req.CouponID = d.StripeCouponID
	}
	return b.gateway.SubscriptionCheckout(ctx, req)
}
