// Package numbering hands out gap-free document numbers of the form
// YYYY-NNNN per user and year.
package numbering

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dkortekaas/declair/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Kind selects the sequence and the number prefix.
type Kind string

const (
	KindInvoice    Kind = "invoice"
	KindCreditNote Kind = "credit_note"
	KindQuote      Kind = "quote"
)

// MaxAttempts bounds the retries of Allocate on unique violations.
const MaxAttempts = 3

var ErrMalformed = errors.New("malformed document number")

func (k Kind) prefix() string {
	switch k {
	case KindCreditNote:
		return "CN-"
	case KindQuote:
		return "OFF-"
	}
	return ""
}

// Format renders the n-th number of year, zero padded to four digits.
func Format(kind Kind, year, n int) string {
	return fmt.Sprintf("%s%d-%04d", kind.prefix(), year, n)
}

// Parse returns the year and sequence of a number of the given kind.
func Parse(kind Kind, number string) (year, n int, err error) {
	rest, ok := strings.CutPrefix(number, kind.prefix())
	if !ok {
		return 0, 0, ErrMalformed
	}
	y, seq, ok := strings.Cut(rest, "-")
	if !ok || len(y) != 4 || len(seq) < 4 {
		return 0, 0, ErrMalformed
	}
	if year, err = strconv.Atoi(y); err != nil {
		return 0, 0, ErrMalformed
	}
	if n, err = strconv.Atoi(seq); err != nil || n < 1 {
		return 0, 0, ErrMalformed
	}
	return year, n, nil
}

// Next increments the (user, kind, year) sequence inside tx and returns the
// new number. A missing sequence row is seeded from the highest existing
// number of that year, so numbering continues after imports.
func Next(tx *gorm.DB, userID uint, kind Kind, year int) (string, error) {
	var seq models.InvoiceSequence
	q := tx
	if tx.Dialector.Name() != "sqlite" {
		q = tx.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate})
	}
	err := q.Where("user_id = ? AND kind = ? AND year = ?", userID, string(kind), year).First(&seq).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		last, err := highestExisting(tx, userID, kind, year)
		if err != nil {
			return "", err
		}
		seq = models.InvoiceSequence{UserID: userID, Kind: string(kind), Year: year, LastValue: last + 1}
		// Two first allocations race here; the loser gets ErrDuplicatedKey.
		if err := tx.Create(&seq).Error; err != nil {
			return "", err
		}
	case err != nil:
		return "", err
	default:
		res := tx.Model(&models.InvoiceSequence{}).
			Where("id = ? AND last_value = ?", seq.ID, seq.LastValue).
			Update("last_value", gorm.Expr("last_value + 1"))
		if res.Error != nil {
			return "", res.Error
		}
		if res.RowsAffected == 0 {
			return "", gorm.ErrDuplicatedKey
		}
		seq.LastValue++
	}
	return Format(kind, year, seq.LastValue), nil
}

func highestExisting(tx *gorm.DB, userID uint, kind Kind, year int) (int, error) {
	var model any
	switch kind {
	case KindCreditNote:
		model = &models.CreditNote{}
	case KindQuote:
		model = &models.Quote{}
	default:
		model = &models.Invoice{}
	}
	var numbers []string
	err := tx.Unscoped().Model(model).
		Where("user_id = ? AND number LIKE ?", userID, fmt.Sprintf("%s%d-%%", kind.prefix(), year)).
		Pluck("number", &numbers).Error
	if err != nil {
		return 0, err
	}
	highest := 0
	for _, num := range numbers {
		if _, n, err := Parse(kind, num); err == nil && n > highest {
			highest = n
		}
	}
	return highest, nil
}

// Allocate runs fn in a transaction with a freshly allocated number. The
// whole transaction is retried when a unique constraint fires, either on the
// sequence row or on the document number itself.
func Allocate(ctx context.Context, db *gorm.DB, userID uint, kind Kind, year int, fn func(tx *gorm.DB, number string) error) error {
	var err error
	for attempt := 0; attempt < MaxAttempts; attempt++ {
		err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			number, err := Next(tx, userID, kind, year)
			if err != nil {
				return err
			}
			return fn(tx, number)
		})
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return err
		}
	}
	return fmt.Errorf("allocate %s number after %d attempts: %w", kind, MaxAttempts, err)
}
