package expenses

import (
	"context"
	"testing"
	"time"

	"github.com/dkortekaas/declair/internal/db/dbtest"
	"github.com/dkortekaas/declair/internal/models"
	"github.com/dkortekaas/declair/internal/policy"
	"github.com/dkortekaas/declair/validation"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestVendorKey(t *testing.T) {
	tests := map[string]string{
		"Bol.com B.V.":       "bolcom",
		"  bol.com ":         "bolcom",
		"Albert Heijn BV":    "albertheijn",
		"KPN N.V.":           "kpn",
		"Jansen & Zonen VOF": "jansenzonen",
		"Café 't Hoekje":     "caféthoekje",
		"":                   "",
	}
	for in, want := range tests {
		assert.Equal(t, want, VendorKey(in), in)
	}
}

func input(supplier, category string) Input {
	return Input{Date: "2025-02-10", Supplier: supplier, GrossAmount: d("121"), VATRate: d("21"), Category: category}
}

func TestCreate_DerivesAmounts(t *testing.T) {
	conn := dbtest.Seeded(t)
	u := dbtest.User(t, conn, "kosten@example.nl", models.PlanFree)
	svc := NewService(conn)

	e, err := svc.Create(context.Background(), u.ID, input("Coolblue", "Hardware"))
	require.NoError(t, err)
	assert.Equal(t, "100", e.NetAmount.String())
	assert.Equal(t, "21", e.VATAmount.String())
	assert.Equal(t, "100", e.DeductiblePct.String())
	assert.Equal(t, "EUR", e.Currency)
	assert.Empty(t, e.PredictedCategory)

	_, err = svc.Create(context.Background(), u.ID, Input{Date: "10-02-2025", VATRate: d("19")})
	var v validation.Violations
	require.ErrorAs(t, err, &v)
	assert.Equal(t, "invalid_date", v["date"])
	assert.Equal(t, "required", v["supplier"])
	assert.Equal(t, "must_be_positive", v["gross_amount"])
	assert.Equal(t, "invalid_vat_rate", v["vat_rate"])

	usd := input("Apple", "Hardware")
	usd.Currency = "usd"
	_, err = svc.Create(context.Background(), u.ID, usd)
	assert.ErrorIs(t, err, policy.ErrFeatureNotAvailable)
}

func TestPredictionAndCorrection(t *testing.T) {
	conn := dbtest.Seeded(t)
	u := dbtest.User(t, conn, "kosten@example.nl", models.PlanFree)
	now := time.Date(2025, 2, 10, 9, 0, 0, 0, time.UTC)
	svc := NewService(conn, WithClock(func() time.Time { now = now.Add(time.Minute); return now }))
	ctx := context.Background()

	_, ok := svc.Predict(ctx, u.ID, "Bol.com")
	assert.False(t, ok, "no history")

	for _, c := range []string{"Kantoorkosten", "Kantoorkosten", "Hardware"} {
		_, err := svc.Create(ctx, u.ID, input("Bol.com B.V.", c))
		require.NoError(t, err)
	}

	e, err := svc.Create(ctx, u.ID, input("bol.com", ""))
	require.NoError(t, err)
	assert.Equal(t, "Kantoorkosten", e.Category)
	assert.Equal(t, "Kantoorkosten", e.PredictedCategory)

	corrected, err := svc.Update(ctx, u.ID, e.ID, input("bol.com", "Hardware"))
	require.NoError(t, err)
	assert.Equal(t, "Hardware", corrected.Category)

	corrections, err := svc.Corrections(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, corrections, 1)
	assert.Equal(t, "bolcom", corrections[0].Vendor)
	assert.Equal(t, "Kantoorkosten", corrections[0].PredictedCategory)
	assert.Equal(t, "Hardware", corrections[0].ActualCategory)

	var stat models.VendorCategoryStat
	require.NoError(t, conn.Where("user_id = ? AND vendor = ? AND category = ?", u.ID, "bolcom", "Hardware").First(&stat).Error)
	assert.Equal(t, 2, stat.Count)

	c, ok := svc.Predict(ctx, u.ID, "BOL.COM")
	require.True(t, ok)
	assert.Equal(t, "Hardware", c, "tie on count goes to the most recent category")

	t.Run("editing without changing the category records nothing", func(t *testing.T) {
		in := input("bol.com", "Hardware")
		in.GrossAmount = d("242")
		_, err := svc.Update(ctx, u.ID, e.ID, in)
		require.NoError(t, err)
		corrections, err := svc.Corrections(ctx, u.ID)
		require.NoError(t, err)
		assert.Len(t, corrections, 1)
	})
}

func TestListAndDelete(t *testing.T) {
	conn := dbtest.Seeded(t)
	u := dbtest.User(t, conn, "kosten@example.nl", models.PlanFree)
	svc := NewService(conn)
	ctx := context.Background()

	jan := input("KPN", "Telefoon en internet")
	jan.Date = "2025-01-05"
	first, err := svc.Create(ctx, u.ID, jan)
	require.NoError(t, err)
	_, err = svc.Create(ctx, u.ID, input("Shell", "Autokosten"))
	require.NoError(t, err)

	feb, err := svc.List(ctx, u.ID, Filter{From: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	require.Len(t, feb, 1)
	assert.Equal(t, "Shell", feb[0].Supplier)

	require.NoError(t, svc.Delete(ctx, u.ID, first.ID))
	_, err = svc.Get(ctx, u.ID, first.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, u.ID+1, feb[0].ID), ErrNotFound)
}
