// Package money holds the VAT arithmetic shared by invoices, quotes and
// expenses. Rates are percentages (21, 9, 0); amounts are rounded to cents
// half away from zero.
package money

import (
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Round rounds to cents.
func Round(d decimal.Decimal) decimal.Decimal { return d.Round(2) }

// NetFromGross returns gross / (1 + rate/100), rounded to cents.
func NetFromGross(gross, rate decimal.Decimal) decimal.Decimal {
	return Round(gross.Div(decimal.NewFromInt(1).Add(rate.Div(hundred))))
}

// VATFromGross is gross minus the rounded net, so net + vat == gross exactly.
func VATFromGross(gross, rate decimal.Decimal) decimal.Decimal {
	return gross.Sub(NetFromGross(gross, rate))
}

// SplitGross returns net and VAT of a gross amount.
func SplitGross(gross, rate decimal.Decimal) (net, vat decimal.Decimal) {
	net = NetFromGross(gross, rate)
	return net, gross.Sub(net)
}

// VATFromNet returns net * rate/100, rounded to cents.
func VATFromNet(net, rate decimal.Decimal) decimal.Decimal {
	return Round(net.Mul(rate).Div(hundred))
}

// Percent returns pct percent of amount, rounded to cents.
func Percent(amount, pct decimal.Decimal) decimal.Decimal {
	return Round(amount.Mul(pct).Div(hundred))
}

// Line is a quantity times unit price line with its VAT rate.
type Line struct {
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
	VATRate   decimal.Decimal
}

// Net returns the rounded line total excluding VAT.
func (l Line) Net() decimal.Decimal { return Round(l.Quantity.Mul(l.UnitPrice)) }

// VAT is computed per line on the rounded net.
func (l Line) VAT() decimal.Decimal { return VATFromNet(l.Net(), l.VATRate) }

// Totals sums lines. zeroVAT forces VAT to zero (reverse charge, EU, export).
func Totals(lines []Line, zeroVAT bool) (subtotal, vat, total decimal.Decimal) {
	subtotal, vat = decimal.Zero, decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.Net())
		if !zeroVAT {
			vat = vat.Add(l.VAT())
		}
	}
	return subtotal, vat, subtotal.Add(vat)
}

// ToEUR converts an amount using a rate expressed as EUR per unit.
func ToEUR(amount, rate decimal.Decimal) decimal.Decimal {
	if rate.IsZero() {
		return amount
	}
	return Round(amount.Mul(rate))
}

var symbols = map[string]string{"EUR": "€", "USD": "$", "GBP": "£"}

// Format renders an amount the Dutch way: "€ 1.234,56", "€ -12,00".
func Format(amount decimal.Decimal, currency string) string {
	s := amount.StringFixed(2)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	whole, frac, _ := strings.Cut(s, ".")
	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	sym, ok := symbols[currency]
	if !ok {
		sym = currency
	}
	sign := ""
	if neg {
		sign = "-"
	}
	return sym + " " + sign + b.String() + "," + frac
}
