package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkortekaas/declair/httpx"
	"github.com/dkortekaas/declair/internal/models"
	"gorm.io/gorm"
)

// Feature is a capability that depends on the subscription plan.
type Feature string

const (
	FeatureRecurring     Feature = "recurring_invoices"
	FeatureVATReports    Feature = "vat_reports"
	FeatureXLSXExport    Feature = "xlsx_export"
	FeaturePaymentLinks  Feature = "payment_links"
	FeatureMultiCurrency Feature = "multi_currency"
)

var proFeatures = map[Feature]bool{
	FeatureRecurring:     true,
	FeatureVATReports:    true,
	FeatureXLSXExport:    true,
	FeaturePaymentLinks:  true,
	FeatureMultiCurrency: true,
}

var ErrFeatureNotAvailable = errors.New("feature not available on plan")

// Allows reports whether plan includes f.
func Allows(plan models.Plan, f Feature) bool {
	return plan == models.PlanPro || !proFeatures[f]
}

// PlanResolver reads the plan of a user.
type PlanResolver struct {
	db *gorm.DB
}

func NewPlanResolver(db *gorm.DB) *PlanResolver { return &PlanResolver{db: db} }

func (r *PlanResolver) Plan(ctx context.Context, userID uint) (models.Plan, error) {
	var u models.User
	if err := r.db.WithContext(ctx).Select("id", "plan").First(&u, userID).Error; err != nil {
		return "", err
	}
	if u.Plan == "" {
		return models.PlanFree, nil
	}
	return u.Plan, nil
}

// Check returns ErrFeatureNotAvailable when the user's plan lacks f.
func (r *PlanResolver) Check(ctx context.Context, userID uint, f Feature) error {
	plan, err := r.Plan(ctx, userID)
	if err != nil {
		return err
	}
	if !Allows(plan, f) {
		return fmt.Errorf("%w: %s", ErrFeatureNotAvailable, f)
	}
	return nil
}

// FeatureError maps ErrFeatureNotAvailable to a 403 and anything else to a 500.
func FeatureError(err error) error {
	if errors.Is(err, ErrFeatureNotAvailable) {
		return httpx.NewError(httpx.KindForbidden, "feature_not_available")
	}
	return httpx.Internal(err)
}
