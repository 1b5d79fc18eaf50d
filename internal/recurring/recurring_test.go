package recurring

import (
	"context"
	"testing"
	"time"

	"github.com/dkortekaas/declair/internal/db/dbtest"
	"github.com/dkortekaas/declair/internal/invoicing"
	"github.com/dkortekaas/declair/internal/mail"
	"github.com/dkortekaas/declair/internal/models"
	"github.com/dkortekaas/declair/validation"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var runAt = time.Date(2025, 3, 10, 6, 0, 0, 0, time.UTC)

type fixture struct {
	conn     *gorm.DB
	svc      *Service
	gen      *Generator
	outbox   *mail.Outbox
	user     models.User
	customer models.Customer
	now      *time.Time
}

func setup(t *testing.T) *fixture {
	t.Helper()
	conn := dbtest.Seeded(t)
	now := runAt
	f := &fixture{conn: conn, outbox: &mail.Outbox{}, now: &now}
	clock := func() time.Time { return *f.now }
	f.user = dbtest.User(t, conn, "abonnement@example.nl", models.PlanPro)
	f.customer = dbtest.Customer(t, conn, f.user.ID, "NL", "")
	invoices := invoicing.NewService(conn, invoicing.WithMailer(f.outbox), invoicing.WithClock(clock))
	f.svc = NewService(conn).WithClock(clock)
	f.gen = NewGenerator(conn, invoices)
	return f
}

func (f *fixture) input(start string) Input {
	return Input{
		CustomerID: f.customer.ID,
		Name:       "Hosting",
		Frequency:  models.FrequencyMonthly,
		Interval:   1,
		StartDate:  start,
		Items: []invoicing.ItemInput{
			{Description: "Hosting", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(100), VATRate: decimal.NewFromInt(21)},
		},
	}
}

func (f *fixture) template(t *testing.T, in Input) *models.RecurringInvoice {
	t.Helper()
	r, err := f.svc.Create(context.Background(), f.user.ID, in)
	require.NoError(t, err)
	return r
}

func TestCreate_Validation(t *testing.T) {
	f := setup(t)
	in := f.input("2025-13-01")
	in.Frequency = "DAILY"
	in.DayOfMonth = intp(32)
	_, err := f.svc.Create(context.Background(), f.user.ID, in)
	var v validation.Violations
	require.ErrorAs(t, err, &v)
	assert.Equal(t, "invalid_date", v["start_date"])
	assert.Equal(t, "invalid", v["frequency"])
	assert.Equal(t, "out_of_range", v["day_of_month"])
}

func TestRunDue_CatchesUp(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	r := f.template(t, f.input("2025-01-15"))
	assert.Equal(t, date(2025, 1, 15), r.NextDate)

	results, err := f.gen.RunDue(ctx, runAt)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Empty(t, results[0].Error)
	assert.Equal(t, []string{"2025-0001", "2025-0002"}, results[0].Invoices)

	var invoices []models.Invoice
	require.NoError(t, f.conn.Order("number").Find(&invoices).Error)
	require.Len(t, invoices, 2)
	assert.Equal(t, "2025-01-15", invoices[0].InvoiceDate.Format(time.DateOnly))
	assert.Equal(t, "2025-02-14", invoices[0].DueDate.Format(time.DateOnly))
	assert.Equal(t, "2025-02-15", invoices[1].InvoiceDate.Format(time.DateOnly))
	assert.Equal(t, models.InvoiceDraft, invoices[1].Status)
	require.NotNil(t, invoices[0].RecurringInvoiceID)
	assert.Equal(t, r.ID, *invoices[0].RecurringInvoiceID)
	assert.Equal(t, "121", invoices[0].Total.String())

	stored, err := f.svc.Get(ctx, f.user.ID, r.ID)
	require.NoError(t, err)
	assert.Equal(t, date(2025, 3, 15), stored.NextDate)
	assert.Equal(t, 2, stored.GeneratedCount)
	assert.Equal(t, models.RecurringActive, stored.Status)

	again, err := f.gen.RunDue(ctx, runAt)
	require.NoError(t, err)
	assert.Empty(t, again, "nothing due twice")
}

func TestRunDue_AutoSendAndEnd(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	in := f.input("2025-02-01")
	in.AutoSend = true
	in.EndDate = "2025-03-05"
	r := f.template(t, in)

	results, err := f.gen.RunDue(ctx, runAt)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 2, results[0].Sent)
	assert.True(t, results[0].Ended)
	assert.Len(t, f.outbox.Messages(), 2)

	stored, err := f.svc.Get(ctx, f.user.ID, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RecurringEnded, stored.Status)

	var sent int64
	f.conn.Model(&models.Invoice{}).Where("status = ?", models.InvoiceSent).Count(&sent)
	assert.EqualValues(t, 2, sent)
}

func TestRunDue_FailureDoesNotStopBatch(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	t.Run("free plan template fails", func(t *testing.T) {
		free := dbtest.User(t, f.conn, "gratis@example.nl", models.PlanFree)
		cust := dbtest.Customer(t, f.conn, free.ID, "NL", "")
		in := f.input("2025-03-01")
		in.CustomerID = cust.ID
		_, err := f.svc.Create(ctx, free.ID, in)
		require.NoError(t, err)
	})
	f.template(t, f.input("2025-03-01"))

	results, err := f.gen.RunDue(ctx, runAt)
	require.NoError(t, err)
	require.Len(t, results, 2)
	var failed, ok int
	for _, r := range results {
		if r.Error != "" {
			failed++
			assert.Empty(t, r.Invoices)
		} else {
			ok++
			assert.Len(t, r.Invoices, 1)
		}
	}
	assert.Equal(t, 1, failed)
	assert.Equal(t, 1, ok)
}

func TestPauseResumeCancel(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	r := f.template(t, f.input("2025-01-15"))

	_, err := f.svc.Pause(ctx, f.user.ID, r.ID)
	require.NoError(t, err)
	results, err := f.gen.RunDue(ctx, runAt)
	require.NoError(t, err)
	assert.Empty(t, results, "paused templates are skipped")

	resumed, err := f.svc.Resume(ctx, f.user.ID, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RecurringActive, resumed.Status)
	assert.Equal(t, date(2025, 3, 15), resumed.NextDate, "missed periods are not billed")

	_, err = f.svc.Resume(ctx, f.user.ID, r.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.svc.Cancel(ctx, f.user.ID, r.ID)
	require.NoError(t, err)
	_, err = f.svc.Pause(ctx, f.user.ID, r.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestUpdate_RecomputesNextDate(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	r := f.template(t, f.input("2025-01-15"))
	_, err := f.gen.RunDue(ctx, runAt)
	require.NoError(t, err)

	in := f.input("2025-01-15")
	in.DayOfMonth = intp(1)
	updated, err := f.svc.Update(ctx, f.user.ID, r.ID, in)
	require.NoError(t, err)
	assert.Equal(t, date(2025, 4, 1), updated.NextDate)

	in.Name = "Hosting en onderhoud"
	renamed, err := f.svc.Update(ctx, f.user.ID, r.ID, in)
	require.NoError(t, err)
	assert.Equal(t, date(2025, 4, 1), renamed.NextDate, "unchanged schedule keeps the next date")
}

func TestMRR(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.template(t, f.input("2025-01-01"))
	quarterly := f.input("2025-01-01")
	quarterly.Frequency = models.FrequencyQuarterly
	quarterly.Items[0].UnitPrice = decimal.NewFromInt(300)
	f.template(t, quarterly)
	paused := f.template(t, f.input("2025-01-01"))
	_, err := f.svc.Pause(ctx, f.user.ID, paused.ID)
	require.NoError(t, err)

	mrr, err := f.svc.MRR(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, "200", mrr.String())

	list, err := f.svc.List(ctx, f.user.ID)
	require.NoError(t, err)
	require.Len(t, list, 3)
}
