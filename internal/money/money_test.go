package money

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestSplitGross(t *testing.T) {
	tests := []struct {
		gross, rate, net, vat string
	}{
		{"121.00", "21", "100", "21"},
		{"109.00", "9", "100", "9"},
		{"50.00", "0", "50", "0"},
		{"10.00", "21", "8.26", "1.74"},
		{"0.01", "21", "0.01", "0"},
		{"-121.00", "21", "-100", "-21"},
	}
	for _, tt := range tests {
		net, vat := SplitGross(d(tt.gross), d(tt.rate))
		assert.True(t, net.Equal(d(tt.net)), "net of %s@%s = %s", tt.gross, tt.rate, net)
		assert.True(t, vat.Equal(d(tt.vat)), "vat of %s@%s = %s", tt.gross, tt.rate, vat)
	}
}

func TestNetPlusVATIsGross(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	rates := []decimal.Decimal{d("0"), d("9"), d("21")}
	for i := 0; i < 2000; i++ {
		gross := decimal.New(rng.Int63n(10_000_000), -2)
		rate := rates[rng.Intn(len(rates))]
		net := NetFromGross(gross, rate)
		vat := VATFromGross(gross, rate)
		require.True(t, net.Add(vat).Equal(gross), "gross %s rate %s", gross, rate)
		require.True(t, vat.Equal(gross.Sub(net)))
	}
}

func TestLineTotals(t *testing.T) {
	lines := []Line{
		{Quantity: d("2"), UnitPrice: d("100"), VATRate: d("21")},
		{Quantity: d("1"), UnitPrice: d("50"), VATRate: d("9")},
		{Quantity: d("3"), UnitPrice: d("10.333"), VATRate: d("0")},
	}
	sub, vat, total := Totals(lines, false)
	assert.Equal(t, "281", sub.String())
	assert.Equal(t, "46.5", vat.String())
	assert.Equal(t, "327.5", total.String())

	sub, vat, total = Totals(lines, true)
	assert.True(t, vat.IsZero())
	assert.True(t, total.Equal(sub))
}

func TestToEUR(t *testing.T) {
	assert.Equal(t, "92.5", ToEUR(d("100"), d("0.925")).String())
	assert.Equal(t, "100", ToEUR(d("100"), decimal.Zero).String())
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "€ 1.234,56", Format(d("1234.56"), "EUR"))
	assert.Equal(t, "€ 0,50", Format(d("0.5"), "EUR"))
	assert.Equal(t, "€ 1.000.000,00", Format(d("1000000"), "EUR"))
	assert.Equal(t, "€ -121,00", Format(d("-121"), "EUR"))
	assert.Equal(t, "CHF 10,00", Format(d("10"), "CHF"))
	assert.Equal(t, "$ 999,99", Format(d("999.99"), "USD"))
}
