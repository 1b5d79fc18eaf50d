package discount

import (
	"context"
	"testing"
	"time"

	"github.com/dkortekaas/declair/internal/db/dbtest"
	"github.com/dkortekaas/declair/internal/models"
	"github.com/dkortekaas/declair/validation"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestApply(t *testing.T) {
	tests := []struct {
		typ    models.DiscountType
		value  string
		amount string
		want   string
	}{
		{models.DiscountPercent, "25", "12", "9"},
		{models.DiscountPercent, "100", "12", "0"},
		{models.DiscountPercent, "33", "9.99", "6.69"},
		{models.DiscountFixed, "5", "12", "7"},
		{models.DiscountFixed, "50", "12", "0"},
	}
	for _, tc := range tests {
		got := Apply(&models.DiscountCode{Type: tc.typ, Value: d(tc.value)}, d(tc.amount))
		assert.Equal(t, tc.want, got.String(), "%s %s of %s", tc.typ, tc.value, tc.amount)
	}
}

func TestInput_Validate(t *testing.T) {
	zero := 0
	v := Input{Code: "x", Type: "HALF", MaxUses: &zero}.Validate()
	assert.Equal(t, validation.Violations{"code": "invalid", "type": "invalid", "max_uses": "must_be_positive"}, v)

	v = Input{Code: "zomer-25", Type: models.DiscountPercent, Value: d("120")}.Validate()
	assert.Equal(t, validation.Violations{"value": "out_of_range"}, v)

	assert.Empty(t, Input{Code: "zomer-25", Type: models.DiscountFixed, Value: d("5")}.Validate())
}

func TestService(t *testing.T) {
	conn := dbtest.New(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := NewService(conn).WithClock(func() time.Time { return now })
	ctx := context.Background()

	one := 1
	code, err := svc.Create(ctx, Input{Code: " welkom ", Type: models.DiscountPercent, Value: d("50"), MaxUses: &one, StripeCouponID: "co_123"})
	require.NoError(t, err)
	assert.Equal(t, "WELKOM", code.Code)

	_, err = svc.Create(ctx, Input{Code: "WELKOM", Type: models.DiscountFixed, Value: d("5")})
	assert.Equal(t, validation.Violations{"code": "taken"}, err)

	got, err := svc.Validate(ctx, "welkom")
	require.NoError(t, err)
	assert.Equal(t, "co_123", got.StripeCouponID)

	_, err = svc.Validate(ctx, "ONBEKEND")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, svc.Redeem(ctx, nil, "welkom"))
	assert.ErrorIs(t, svc.Redeem(ctx, nil, "welkom"), ErrExhausted)
	_, err = svc.Validate(ctx, "welkom")
	assert.ErrorIs(t, err, ErrExhausted)

	past := now.Add(-time.Hour)
	_, err = svc.Create(ctx, Input{Code: "OUD", Type: models.DiscountFixed, Value: d("5"), ExpiresAt: &past})
	require.NoError(t, err)
	assert.ErrorIs(t, svc.Redeem(ctx, nil, "oud"), ErrExpired)

	off, err := svc.Create(ctx, Input{Code: "UIT", Type: models.DiscountFixed, Value: d("5")})
	require.NoError(t, err)
	_, err = svc.SetActive(ctx, off.ID, false)
	require.NoError(t, err)
	_, err = svc.Validate(ctx, "uit")
	assert.ErrorIs(t, err, ErrInactive)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 3)
}
