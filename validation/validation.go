package validation

import (
	"net/mail"
	"slices"
	"strings"

	"github.com/dkortekaas/declair/i18n"
	"github.com/shopspring/decimal"
)

// Violations maps a field name to a machine readable code. The first
// violation recorded for a field wins.
type Violations map[string]string

func (v Violations) Empty() bool { return len(v) == 0 }

func (v Violations) Add(field, code string) {
	if _, ok := v[field]; !ok {
		v[field] = code
	}
}

// Localize turns the codes into messages for lang.
func (v Violations) Localize(lang string) map[string]string {
	out := make(map[string]string, len(v))
	for field, code := range v {
		out[field] = i18n.T(lang, code)
	}
	return out
}

// VATRates are the Dutch rates accepted on invoice and expense lines.
var VATRates = []int64{0, 9, 21}

func Required(field, value string, v Violations) {
	if strings.TrimSpace(value) == "" {
		v.Add(field, "required")
	}
}

func Email(field, value string, v Violations) {
	if strings.TrimSpace(value) == "" {
		v.Add(field, "required")
		return
	}
	if a, err := mail.ParseAddress(value); err != nil || a.Address != value {
		v.Add(field, "invalid_email")
	}
}

func MinLength(field, value string, n int, v Violations) {
	if len(value) < n {
		v.Add(field, "too_short")
	}
}

func PositiveDecimal(field string, val decimal.Decimal, v Violations) {
	if !val.IsPositive() {
		v.Add(field, "must_be_positive")
	}
}

func NonNegativeDecimal(field string, val decimal.Decimal, v Violations) {
	if val.IsNegative() {
		v.Add(field, "invalid_amount")
	}
}

func RangeDecimal(field string, val, minVal, maxVal decimal.Decimal, v Violations) {
	if val.LessThan(minVal) || val.GreaterThan(maxVal) {
		v.Add(field, "out_of_range")
	}
}

func VATRate(field string, rate decimal.Decimal, v Violations) {
	if !rate.IsInteger() || !slices.Contains(VATRates, rate.IntPart()) {
		v.Add(field, "invalid_vat_rate")
	}
}

func OneOf[T comparable](field string, val T, allowed []T, v Violations) {
	if !slices.Contains(allowed, val) {
		v.Add(field, "invalid")
	}
}

// Error makes Violations usable as an error returned by services.
func (v Violations) Error() string {
	fields := make([]string, 0, len(v))
	for f, code := range v {
		fields = append(fields, f+": "+code)
	}
	slices.Sort(fields)
	return "validation failed: " + strings.Join(fields, ", ")
}

// Err returns v as an error, or nil when there are no violations.
func (v Violations) Err() error {
	if v.Empty() {
		return nil
	}
	return v
}
