// Package vat builds the quarterly Dutch VAT return (btw-aangifte).
package vat

import (
	"errors"
	"fmt"
	"time"

	"github.com/dkortekaas/declair/internal/models"
	"github.com/dkortekaas/declair/internal/money"
	"github.com/shopspring/decimal"
)

// Bucket is a box of the VAT return.
type Bucket string

const (
	BucketHigh     Bucket = "high"     // 1a, 21%
	BucketLow      Bucket = "low"      // 1b, 9%
	BucketZero     Bucket = "zero"     // 1e, 0% or exempt
	BucketReversed Bucket = "reversed" // 2a, domestic reverse charge
	BucketEU       Bucket = "eu"       // 3b, intra-community supplies
	BucketExport   Bucket = "export"   // 3a, outside the EU
)

var ErrUnsupportedRate = errors.New("unsupported VAT rate")

var (
	rateHigh = decimal.NewFromInt(21)
	rateLow  = decimal.NewFromInt(9)
)

// BucketFor assigns a revenue line to its bucket. The treatment flag wins
// over the rate.
func BucketFor(rate decimal.Decimal, treatment models.VATTreatment) (Bucket, error) {
	switch treatment {
	case models.VATReverseCharge:
		return BucketReversed, nil
	case models.VATIntraEU:
		return BucketEU, nil
	case models.VATExport:
		return BucketExport, nil
	}
	switch {
	case rate.Equal(rateHigh):
		return BucketHigh, nil
	case rate.Equal(rateLow):
		return BucketLow, nil
	case rate.IsZero():
		return BucketZero, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedRate, rate)
}

// RevenueLine is one invoice line as it enters the return. Net and VAT are
// in the invoice currency; ExchangeRate converts to EUR.
type RevenueLine struct {
	Net          decimal.Decimal
	VAT          decimal.Decimal
	Rate         decimal.Decimal
	Treatment    models.VATTreatment
	ExchangeRate decimal.Decimal
}

// ExpenseLine is one purchase with its recorded VAT.
type ExpenseLine struct {
	Net           decimal.Decimal
	VAT           decimal.Decimal
	DeductiblePct decimal.Decimal
	ExchangeRate  decimal.Decimal
}

// Amounts is the net and VAT sum of one bucket.
type Amounts struct {
	Net decimal.Decimal `json:"net"`
	VAT decimal.Decimal `json:"vat"`
}

// Totals is the computed return. VATBalance > 0 means money is owed.
type Totals struct {
	Buckets       map[Bucket]Amounts `json:"buckets"`
	ExpensesNet   decimal.Decimal    `json:"expenses_net"`
	ExpensesVAT   decimal.Decimal    `json:"expenses_vat"`
	RevenueTotal  decimal.Decimal    `json:"revenue_total"`
	VATOwed       decimal.Decimal    `json:"vat_owed"`
	VATDeductible decimal.Decimal    `json:"vat_deductible"`
	VATBalance    decimal.Decimal    `json:"vat_balance"`
}

// Aggregate sums revenue and expenses into the return boxes. Decimal
// addition is exact, so the result does not depend on input order. With
// useKOR no expense VAT is deductible.
func Aggregate(revenue []RevenueLine, expenses []ExpenseLine, useKOR bool) (Totals, error) {
	t := Totals{
		Buckets:       make(map[Bucket]Amounts, 6),
		ExpensesNet:   decimal.Zero,
		ExpensesVAT:   decimal.Zero,
		RevenueTotal:  decimal.Zero,
		VATOwed:       decimal.Zero,
		VATDeductible: decimal.Zero,
	}
	for _, b := range []Bucket{BucketHigh, BucketLow, BucketZero, BucketReversed, BucketEU, BucketExport} {
		t.Buckets[b] = Amounts{Net: decimal.Zero, VAT: decimal.Zero}
	}

	for _, l := range revenue {
		b, err := BucketFor(l.Rate, l.Treatment)
		if err != nil {
			return Totals{}, err
		}
		net := money.ToEUR(l.Net, l.ExchangeRate)
		vat := money.ToEUR(l.VAT, l.ExchangeRate)
		if b == BucketReversed || b == BucketEU || b == BucketExport {
			vat = decimal.Zero
		}
		a := t.Buckets[b]
		t.Buckets[b] = Amounts{Net: a.Net.Add(net), VAT: a.VAT.Add(vat)}
		t.RevenueTotal = t.RevenueTotal.Add(net)
		t.VATOwed = t.VATOwed.Add(vat)
	}

	for _, e := range expenses {
		net := money.ToEUR(e.Net, e.ExchangeRate)
		vat := money.ToEUR(e.VAT, e.ExchangeRate)
		t.ExpensesNet = t.ExpensesNet.Add(net)
		t.ExpensesVAT = t.ExpensesVAT.Add(vat)
		if useKOR {
			continue
		}
		t.VATDeductible = t.VATDeductible.Add(money.Percent(vat, e.DeductiblePct))
	}

	t.VATBalance = t.VATOwed.Sub(t.VATDeductible)
	return t, nil
}

// Quarter returns the half-open UTC range [start, end) of a quarter.
func Quarter(year, quarter int) (time.Time, time.Time, error) {
	if quarter < 1 || quarter > 4 {
		return time.Time{}, time.Time{}, fmt.Errorf("quarter %d out of range", quarter)
	}
	start := time.Date(year, time.Month((quarter-1)*3+1), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 3, 0), nil
}

// QuarterOf returns the year and quarter t falls in.
func QuarterOf(t time.Time) (int, int) {
	return t.Year(), (int(t.Month())-1)/3 + 1
}
