// Package recurring schedules and generates recurring invoices.
package recurring

import (
	"errors"
	"fmt"
	"time"

	"github.com/dkortekaas/declair/internal/models"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidFrequency = errors.New("invalid frequency")
	ErrInvalidInterval  = errors.New("interval must be at least 1")
)

// monthsPer is the length of the month based frequencies.
var monthsPer = map[models.Frequency]int{
	models.FrequencyMonthly:   1,
	models.FrequencyQuarterly: 3,
	models.FrequencyBiannual:  6,
	models.FrequencyAnnual:    12,
}

var daysPer = map[models.Frequency]int{
	models.FrequencyWeekly:   7,
	models.FrequencyBiweekly: 14,
}

var periodsPerYear = map[models.Frequency]int64{
	models.FrequencyWeekly:    52,
	models.FrequencyBiweekly:  26,
	models.FrequencyMonthly:   12,
	models.FrequencyQuarterly: 4,
	models.FrequencyBiannual:  2,
	models.FrequencyAnnual:    1,
}

// ValidFrequency reports whether f is one of the supported frequencies.
func ValidFrequency(f models.Frequency) bool {
	_, ok := periodsPerYear[f]
	return ok
}

func check(freq models.Frequency, interval int) error {
	if !ValidFrequency(freq) {
		return fmt.Errorf("%w: %q", ErrInvalidFrequency, freq)
	}
	if interval < 1 {
		return ErrInvalidInterval
	}
	return nil
}

// NextDate returns the occurrence after base. Month based frequencies never
// overflow into the following month: Jan 31 plus one month is the last day
// of February. When dayOfMonth is set, month based results move to that day,
// clamped to the length of the month. Weekly schedules ignore dayOfMonth.
func NextDate(base time.Time, freq models.Frequency, interval int, dayOfMonth *int) (time.Time, error) {
	if err := check(freq, interval); err != nil {
		return time.Time{}, err
	}
	if days, ok := daysPer[freq]; ok {
		return base.AddDate(0, 0, days*interval), nil
	}

	months := monthsPer[freq] * interval
	y, m, d := base.Date()
	target := time.Date(y, m+time.Month(months), 1, base.Hour(), base.Minute(), base.Second(), base.Nanosecond(), base.Location())
	day := d
	if dayOfMonth != nil && *dayOfMonth >= 1 {
		day = *dayOfMonth
	}
	if last := daysIn(target.Year(), target.Month()); day > last {
		day = last
	}
	return target.AddDate(0, 0, day-1), nil
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// MonthlyAmount is the monthly recurring revenue of amount billed every
// interval periods of freq.
func MonthlyAmount(amount decimal.Decimal, freq models.Frequency, interval int) (decimal.Decimal, error) {
	if err := check(freq, interval); err != nil {
		return decimal.Zero, err
	}
	perYear := decimal.NewFromInt(periodsPerYear[freq])
	return amount.Mul(perYear).Div(decimal.NewFromInt(12)).Div(decimal.NewFromInt(int64(interval))).Round(2), nil
}
