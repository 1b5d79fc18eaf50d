package numbering

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dkortekaas/declair/internal/db/dbtest"
	"github.com/dkortekaas/declair/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestFormatParse(t *testing.T) {
	assert.Equal(t, "2025-0001", Format(KindInvoice, 2025, 1))
	assert.Equal(t, "2025-12345", Format(KindInvoice, 2025, 12345))
	assert.Equal(t, "CN-2025-0042", Format(KindCreditNote, 2025, 42))

	y, n, err := Parse(KindInvoice, "2025-0008")
	require.NoError(t, err)
	assert.Equal(t, 2025, y)
	assert.Equal(t, 8, n)

	for _, bad := range []string{"", "2025", "25-0001", "2025-01", "2025-abcd", "CN-2025-0001", "2025-0000"} {
		_, _, err := Parse(KindInvoice, bad)
		assert.ErrorIs(t, err, ErrMalformed, bad)
	}
	_, n, err = Parse(KindCreditNote, "CN-2024-0003")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func seedInvoice(t *testing.T, conn *gorm.DB, userID, customerID uint, number string) {
	t.Helper()
	inv := models.Invoice{
		UserID: userID, CustomerID: customerID, Number: number,
		InvoiceDate: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), DueDate: time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
		Status: models.InvoiceDraft, Currency: "EUR", ExchangeRate: decimal.NewFromInt(1),
	}
	require.NoError(t, conn.Create(&inv).Error)
}

func TestNext_ContinuesFromExisting(t *testing.T) {
	conn := dbtest.New(t)
	user := dbtest.User(t, conn, "num@test.nl", models.PlanFree)
	cust := dbtest.Customer(t, conn, user.ID, "NL", "")
	seedInvoice(t, conn, user.ID, cust.ID, "2025-0003")
	seedInvoice(t, conn, user.ID, cust.ID, "2025-0007")
	seedInvoice(t, conn, user.ID, cust.ID, "2024-0099")

	var got []string
	for i := 0; i < 2; i++ {
		require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
			n, err := Next(tx, user.ID, KindInvoice, 2025)
			got = append(got, n)
			return err
		}))
	}
	assert.Equal(t, []string{"2025-0008", "2025-0009"}, got)
}

func TestNext_FirstOfYear(t *testing.T) {
	conn := dbtest.New(t)
	user := dbtest.User(t, conn, "first@test.nl", models.PlanFree)
	other := dbtest.User(t, conn, "other@test.nl", models.PlanFree)
	cust := dbtest.Customer(t, conn, other.ID, "NL", "")
	seedInvoice(t, conn, other.ID, cust.ID, "2026-0005")

	var n string
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) (err error) {
		n, err = Next(tx, user.ID, KindInvoice, 2026)
		return err
	}))
	assert.Equal(t, "2026-0001", n, "numbers are per user")

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) (err error) {
		n, err = Next(tx, user.ID, KindCreditNote, 2026)
		return err
	}))
	assert.Equal(t, "CN-2026-0001", n, "credit notes have their own sequence")
}

func TestAllocate_RollsBackOnError(t *testing.T) {
	conn := dbtest.New(t)
	user := dbtest.User(t, conn, "rb@test.nl", models.PlanFree)
	ctx := context.Background()
	boom := errors.New("boom")

	err := Allocate(ctx, conn, user.ID, KindInvoice, 2025, func(tx *gorm.DB, number string) error {
		assert.Equal(t, "2025-0001", number)
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = Allocate(ctx, conn, user.ID, KindInvoice, 2025, func(tx *gorm.DB, number string) error {
		assert.Equal(t, "2025-0001", number, "failed allocation leaves no gap")
		return nil
	})
	require.NoError(t, err)
}

func TestAllocate_RetriesOnDuplicate(t *testing.T) {
	conn := dbtest.New(t)
	user := dbtest.User(t, conn, "dup@test.nl", models.PlanFree)
	cust := dbtest.Customer(t, conn, user.ID, "NL", "")

	calls := 0
	var numbers []string
	err := Allocate(context.Background(), conn, user.ID, KindInvoice, 2025, func(tx *gorm.DB, number string) error {
		calls++
		numbers = append(numbers, number)
		if calls == 1 {
			return gorm.ErrDuplicatedKey
		}
		inv := models.Invoice{
			UserID: user.ID, CustomerID: cust.ID, Number: number,
			InvoiceDate: time.Now().UTC(), DueDate: time.Now().UTC(),
			Status: models.InvoiceDraft, Currency: "EUR", ExchangeRate: decimal.NewFromInt(1),
		}
		return tx.Create(&inv).Error
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []string{"2025-0001", "2025-0001"}, numbers, "the failed attempt is rolled back")
}

func TestInvoiceNumberUnique(t *testing.T) {
	conn := dbtest.New(t)
	user := dbtest.User(t, conn, "uniq@test.nl", models.PlanFree)
	cust := dbtest.Customer(t, conn, user.ID, "NL", "")
	seedInvoice(t, conn, user.ID, cust.ID, "2025-0001")

	dup := models.Invoice{
		UserID: user.ID, CustomerID: cust.ID, Number: "2025-0001",
		InvoiceDate: time.Now().UTC(), DueDate: time.Now().UTC(),
		Status: models.InvoiceDraft, Currency: "EUR", ExchangeRate: decimal.NewFromInt(1),
	}
	assert.ErrorIs(t, conn.Create(&dup).Error, gorm.ErrDuplicatedKey)
}

func TestAllocate_GivesUp(t *testing.T) {
	conn := dbtest.New(t)
	user := dbtest.User(t, conn, "giveup@test.nl", models.PlanFree)

	calls := 0
	err := Allocate(context.Background(), conn, user.ID, KindInvoice, 2025, func(tx *gorm.DB, number string) error {
		calls++
		return gorm.ErrDuplicatedKey
	})
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)
	assert.Equal(t, MaxAttempts, calls)
}
