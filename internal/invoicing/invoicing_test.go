package invoicing

import (
	"context"
	"testing"
	"time"

	"github.com/dkortekaas/declair/internal/currency"
	"github.com/dkortekaas/declair/internal/db/dbtest"
	"github.com/dkortekaas/declair/internal/events"
	"github.com/dkortekaas/declair/internal/mail"
	"github.com/dkortekaas/declair/internal/models"
	"github.com/dkortekaas/declair/internal/policy"
	"github.com/dkortekaas/declair/internal/timetracking"
	"github.com/dkortekaas/declair/validation"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var fixedNow = time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	conn     *gorm.DB
	svc      *Service
	outbox   *mail.Outbox
	recorder *events.Recorder
	user     models.User
	customer models.Customer
	now      *time.Time
}

func setup(t *testing.T, plan models.Plan) *fixture {
	t.Helper()
	conn := dbtest.Seeded(t)
	f := &fixture{conn: conn, outbox: &mail.Outbox{}, recorder: &events.Recorder{}}
	now := fixedNow
	f.now = &now
	f.user = dbtest.User(t, conn, "zzp@example.nl", plan)
	require.NoError(t, conn.Create(&models.CompanySettings{
		UserID: f.user.ID, Name: "Kortekaas ICT", IBAN: "NL91ABNA0417164300", PaymentTermDays: 14,
	}).Error)
	f.customer = dbtest.Customer(t, conn, f.user.ID, "NL", "")
	f.svc = NewService(conn,
		WithMailer(f.outbox),
		WithEvents(f.recorder),
		WithRates(currency.NewService(conn)),
		WithClock(func() time.Time { return *f.now }),
	)
	return f
}

func (f *fixture) input() Input {
	return Input{
		CustomerID:  f.customer.ID,
		InvoiceDate: "2025-03-01",
		Items: []ItemInput{
			{Description: "Ontwikkeling", Quantity: d("10"), UnitPrice: d("100"), VATRate: d("21")},
			{Description: "Boek", Quantity: d("1"), UnitPrice: d("50"), VATRate: d("9")},
		},
	}
}

func (f *fixture) create(t *testing.T) *models.Invoice {
	t.Helper()
	inv, err := f.svc.Create(context.Background(), f.user.ID, f.input())
	require.NoError(t, err)
	return inv
}

func TestCreate(t *testing.T) {
	f := setup(t, models.PlanFree)
	inv := f.create(t)

	assert.Equal(t, "2025-0001", inv.Number)
	assert.Equal(t, models.InvoiceDraft, inv.Status)
	assert.Equal(t, models.VATStandard, inv.VATTreatment)
	assert.Equal(t, "1050", inv.Subtotal.String())
	assert.Equal(t, "214.5", inv.VATAmount.String())
	assert.Equal(t, "1264.5", inv.Total.String())
	assert.Equal(t, "2025-03-15", inv.DueDate.Format(time.DateOnly), "company payment term applies")

	second := f.create(t)
	assert.Equal(t, "2025-0002", second.Number)

	got, err := f.svc.Get(context.Background(), f.user.ID, inv.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 2)
	assert.Equal(t, "Ontwikkeling", got.Items[0].Description)
	assert.Equal(t, "4.5", got.Items[1].VATAmount.String())

	assert.Equal(t, []string{events.InvoiceCreated, events.InvoiceCreated}, f.recorder.Types())
	var audits int64
	f.conn.Model(&models.AuditLog{}).Where("user_id = ? AND entity_type = ?", f.user.ID, EntityInvoice).Count(&audits)
	assert.Equal(t, int64(2), audits)
}

func TestCreate_ZeroRatedForEUBusiness(t *testing.T) {
	f := setup(t, models.PlanFree)
	eu := dbtest.Customer(t, f.conn, f.user.ID, "DE", "DE123456789")
	in := f.input()
	in.CustomerID = eu.ID

	inv, err := f.svc.Create(context.Background(), f.user.ID, in)
	require.NoError(t, err)
	assert.Equal(t, models.VATIntraEU, inv.VATTreatment)
	assert.True(t, inv.VATAmount.IsZero())
	assert.Equal(t, "1050", inv.Total.String())
}

func TestCreate_Validation(t *testing.T) {
	f := setup(t, models.PlanFree)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, f.user.ID, Input{CustomerID: f.customer.ID})
	var v validation.Violations
	require.ErrorAs(t, err, &v)
	assert.Equal(t, "required", v["items"])

	in := f.input()
	in.Items[0].VATRate = d("19")
	_, err = f.svc.Create(ctx, f.user.ID, in)
	require.ErrorAs(t, err, &v)
	assert.Equal(t, "invalid_vat_rate", v["items.0.vat_rate"])

	other := dbtest.User(t, f.conn, "other@example.nl", models.PlanFree)
	_, err = f.svc.Create(ctx, other.ID, f.input())
	assert.ErrorIs(t, err, ErrCustomerNotFound, "customers of another user are invisible")
}

func TestCreate_ForeignCurrency(t *testing.T) {
	ctx := context.Background()

	t.Run("free plan", func(t *testing.T) {
		f := setup(t, models.PlanFree)
		in := f.input()
		in.Currency = "USD"
		_, err := f.svc.Create(ctx, f.user.ID, in)
		assert.ErrorIs(t, err, policy.ErrFeatureNotAvailable)
	})

	t.Run("pro plan", func(t *testing.T) {
		f := setup(t, models.PlanPro)
		in := f.input()
		in.Currency = "usd"
		_, err := f.svc.Create(ctx, f.user.ID, in)
		assert.ErrorIs(t, err, ErrNoRate)

		_, err = currency.NewService(f.conn).SetRate(ctx, "USD", "EUR", time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC), d("0.92"), "ecb")
		require.NoError(t, err)
		inv, err := f.svc.Create(ctx, f.user.ID, in)
		require.NoError(t, err)
		assert.Equal(t, "USD", inv.Currency)
		assert.Equal(t, "0.92", inv.ExchangeRate.String())
	})
}

func TestUpdateAndDelete_OnlyDraft(t *testing.T) {
	f := setup(t, models.PlanFree)
	ctx := context.Background()
	inv := f.create(t)

	in := f.input()
	in.Items = in.Items[:1]
	in.Reference = "PO-77"
	updated, err := f.svc.Update(ctx, f.user.ID, inv.ID, in)
	require.NoError(t, err)
	assert.Equal(t, inv.Number, updated.Number)
	assert.Equal(t, "1210", updated.Total.String())

	got, err := f.svc.Get(ctx, f.user.ID, inv.ID)
	require.NoError(t, err)
	assert.Len(t, got.Items, 1)
	assert.Equal(t, "PO-77", got.Reference)

	_, err = f.svc.Send(ctx, f.user.ID, inv.ID, SendOptions{})
	require.NoError(t, err)
	_, err = f.svc.Update(ctx, f.user.ID, inv.ID, in)
	assert.ErrorIs(t, err, ErrNotDraft)
	assert.ErrorIs(t, f.svc.Delete(ctx, f.user.ID, inv.ID), ErrNotDraft)

	draft := f.create(t)
	require.NoError(t, f.svc.Delete(ctx, f.user.ID, draft.ID))
	_, err = f.svc.Get(ctx, f.user.ID, draft.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSend(t *testing.T) {
	f := setup(t, models.PlanFree)
	ctx := context.Background()
	inv := f.create(t)

	sent, err := f.svc.Send(ctx, f.user.ID, inv.ID, SendOptions{PaymentURL: "https://pay.example/abc"})
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceSent, sent.Status)
	require.NotNil(t, sent.SentAt)

	msgs := f.outbox.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "klant@example.nl", msgs[0].To)
	assert.Equal(t, "Factuur 2025-0001 van Kortekaas ICT", msgs[0].Subject)
	assert.Contains(t, msgs[0].Body, "https://pay.example/abc")
	require.Len(t, msgs[0].Attachments, 1)
	assert.Equal(t, "application/pdf", msgs[0].Attachments[0].ContentType)
	assert.Contains(t, f.recorder.Types(), events.InvoiceSent)

	// Sending an open invoice again only repeats the email.
	_, err = f.svc.Send(ctx, f.user.ID, inv.ID, SendOptions{})
	require.NoError(t, err)
	assert.Len(t, f.outbox.Messages(), 2)
}

func TestSend_FailureKeepsDraft(t *testing.T) {
	f := setup(t, models.PlanFree)
	ctx := context.Background()
	inv := f.create(t)

	require.NoError(t, f.conn.Model(&f.customer).Update("email", "").Error)
	_, err := f.svc.Send(ctx, f.user.ID, inv.ID, SendOptions{})
	assert.ErrorIs(t, err, ErrNoRecipient)

	require.NoError(t, f.conn.Model(&f.customer).Update("email", "bounce@example.nl").Error)
	f.outbox.Fail("bounce@example.nl", assert.AnError)
	_, err = f.svc.Send(ctx, f.user.ID, inv.ID, SendOptions{})
	assert.Error(t, err)

	got, err := f.svc.Get(ctx, f.user.ID, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceDraft, got.Status)
	assert.Nil(t, got.SentAt)
}

func TestStatusTransitions(t *testing.T) {
	f := setup(t, models.PlanFree)
	ctx := context.Background()
	inv := f.create(t)

	_, err := f.svc.MarkPaid(ctx, f.user.ID, inv.ID, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition, "a draft cannot be paid")

	_, err = f.svc.Send(ctx, f.user.ID, inv.ID, SendOptions{})
	require.NoError(t, err)
	paidAt := time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC)
	paid, err := f.svc.MarkPaid(ctx, f.user.ID, inv.ID, &paidAt)
	require.NoError(t, err)
	assert.Equal(t, models.InvoicePaid, paid.Status)
	assert.True(t, paid.PaidAt.Equal(paidAt))

	_, err = f.svc.Cancel(ctx, f.user.ID, inv.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition, "paid is terminal")

	draft := f.create(t)
	cancelled, err := f.svc.Cancel(ctx, f.user.ID, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceCancelled, cancelled.Status)

	_, err = f.svc.MarkPaid(ctx, f.user.ID+100, inv.ID, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarkOverdue(t *testing.T) {
	f := setup(t, models.PlanFree)
	ctx := context.Background()
	inv := f.create(t)
	_, err := f.svc.Send(ctx, f.user.ID, inv.ID, SendOptions{})
	require.NoError(t, err)

	n, err := f.svc.MarkOverdue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "due date 2025-03-15 has not passed")

	*f.now = time.Date(2025, 3, 16, 8, 0, 0, 0, time.UTC)
	list, err := f.svc.List(ctx, f.user.ID, Filter{Status: models.InvoiceOverdue})
	require.NoError(t, err)
	require.Len(t, list, 1, "derived overdue is listed before the batch runs")
	assert.Equal(t, models.InvoiceOverdue, f.svc.View(&list[0]).EffectiveStatus)
	assert.Equal(t, 1, f.svc.View(&list[0]).DaysOverdue)

	n, err = f.svc.MarkOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	paid, err := f.svc.MarkPaid(ctx, f.user.ID, inv.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.InvoicePaid, paid.Status)
}

func TestCreditNote(t *testing.T) {
	f := setup(t, models.PlanFree)
	ctx := context.Background()
	inv := f.create(t)

	_, err := f.svc.CreditNote(ctx, f.user.ID, inv.ID, "fout")
	assert.ErrorIs(t, err, ErrNotCreditable)

	_, err = f.svc.Send(ctx, f.user.ID, inv.ID, SendOptions{})
	require.NoError(t, err)
	_, err = f.svc.MarkPaid(ctx, f.user.ID, inv.ID, nil)
	require.NoError(t, err)

	cn, err := f.svc.CreditNote(ctx, f.user.ID, inv.ID, "Dubbel gefactureerd")
	require.NoError(t, err)
	assert.Equal(t, "CN-2025-0001", cn.Number)
	assert.Equal(t, "-1264.5", cn.Total.String())
	assert.Equal(t, "-214.5", cn.VATAmount.String())
	require.Len(t, cn.Items, 2)
	assert.Equal(t, "-10", cn.Items[0].Quantity.String())
	assert.Equal(t, models.InvoicePaid, cn.Invoice.Status, "paid invoices stay paid")

	_, err = f.svc.CreditNote(ctx, f.user.ID, inv.ID, "nog eens")
	assert.ErrorIs(t, err, ErrAlreadyCredited)

	require.NoError(t, f.svc.SendCreditNote(ctx, f.user.ID, cn.ID))
	last := f.outbox.Messages()[len(f.outbox.Messages())-1]
	assert.Equal(t, "Creditnota CN-2025-0001 van Kortekaas ICT", last.Subject)
	assert.Contains(t, last.Body, "2025-0001")
}

func TestCreditNote_CancelsOpenInvoice(t *testing.T) {
	f := setup(t, models.PlanFree)
	ctx := context.Background()
	inv := f.create(t)
	_, err := f.svc.Send(ctx, f.user.ID, inv.ID, SendOptions{})
	require.NoError(t, err)

	cn, err := f.svc.CreditNote(ctx, f.user.ID, inv.ID, "")
	require.NoError(t, err)
	got, err := f.svc.Get(ctx, f.user.ID, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceCancelled, got.Status)

	out, name, err := f.svc.CreditNotePDF(ctx, f.user.ID, cn.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, out)
	assert.Equal(t, "creditnota-CN-2025-0001.pdf", name)
}

func TestFromTimeEntries(t *testing.T) {
	f := setup(t, models.PlanFree)
	ctx := context.Background()
	project := models.Project{UserID: f.user.ID, CustomerID: f.customer.ID, Name: "Website", HourlyRate: d("80")}
	require.NoError(t, f.conn.Create(&project).Error)
	start := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	entries := []models.TimeEntry{
		{UserID: f.user.ID, ProjectID: project.ID, Description: "Ontwerp", StartTime: start, DurationMinutes: 90, HourlyRate: d("80"), Amount: d("120"), Billable: true},
		{UserID: f.user.ID, ProjectID: project.ID, Description: "Overleg", StartTime: start.AddDate(0, 0, 1), DurationMinutes: 30, HourlyRate: d("80"), Amount: d("40"), Billable: true},
	}
	require.NoError(t, f.conn.Create(&entries).Error)
	ids := []uint{entries[0].ID, entries[1].ID}

	inv, err := f.svc.FromTimeEntries(ctx, f.user.ID, TimeEntriesInput{EntryIDs: ids})
	require.NoError(t, err)
	assert.Equal(t, "160", inv.Subtotal.String())
	assert.Equal(t, "193.6", inv.Total.String())
	require.Len(t, inv.Items, 2)
	assert.Equal(t, "Website: Ontwerp (03-03-2025)", inv.Items[0].Description)
	assert.Equal(t, "1.5", inv.Items[0].Quantity.String())

	var invoiced int64
	f.conn.Model(&models.TimeEntry{}).Where("invoice_id = ? AND invoiced = ?", inv.ID, true).Count(&invoiced)
	assert.Equal(t, int64(2), invoiced)

	_, err = f.svc.FromTimeEntries(ctx, f.user.ID, TimeEntriesInput{EntryIDs: ids})
	assert.ErrorIs(t, err, ErrEntriesUnavailable, "entries cannot be billed twice")

	require.NoError(t, f.svc.Delete(ctx, f.user.ID, inv.ID))
	f.conn.Model(&models.TimeEntry{}).Where("invoiced = ?", true).Count(&invoiced)
	assert.Zero(t, invoiced, "deleting the draft releases the entries")
}

func TestFromTimeEntries_BillsTrackedAmount(t *testing.T) {
	f := setup(t, models.PlanFree)
	project := models.Project{UserID: f.user.ID, CustomerID: f.customer.ID, Name: "Support", HourlyRate: d("100")}
	require.NoError(t, f.conn.Create(&project).Error)

	tests := []struct {
		minutes  int
		rate     string
		quantity string
		net      string
	}{
		{20, "100", "1", "33.33"},
		{7, "95", "1", "11.08"},
		{45, "100", "0.75", "75"},
		{1, "100", "1", "1.67"},
	}
	for i, tt := range tests {
		e := models.TimeEntry{
			UserID: f.user.ID, ProjectID: project.ID, StartTime: fixedNow.Add(time.Duration(i) * time.Hour),
			DurationMinutes: tt.minutes, HourlyRate: d(tt.rate), Billable: true,
		}
		e.Amount = timetracking.Amount(e.DurationMinutes, e.HourlyRate)
		require.NoError(t, f.conn.Create(&e).Error)

		inv, err := f.svc.FromTimeEntries(context.Background(), f.user.ID, TimeEntriesInput{EntryIDs: []uint{e.ID}})
		require.NoError(t, err)
		require.Len(t, inv.Items, 1)
		assert.Equal(t, tt.quantity, inv.Items[0].Quantity.String(), "%d min", tt.minutes)
		assert.Equal(t, tt.net, inv.Subtotal.String(), "%d min", tt.minutes)
		assert.True(t, e.Amount.Equal(inv.Subtotal), "invoice matches the tracked amount for %d min", tt.minutes)
	}
}

func TestFromTimeEntries_MixedCustomers(t *testing.T) {
	f := setup(t, models.PlanFree)
	other := dbtest.Customer(t, f.conn, f.user.ID, "BE", "")
	var ids []uint
	for _, c := range []models.Customer{f.customer, other} {
		p := models.Project{UserID: f.user.ID, CustomerID: c.ID, Name: "P"}
		require.NoError(t, f.conn.Create(&p).Error)
		e := models.TimeEntry{UserID: f.user.ID, ProjectID: p.ID, StartTime: fixedNow, DurationMinutes: 60, HourlyRate: d("50"), Billable: true}
		require.NoError(t, f.conn.Create(&e).Error)
		ids = append(ids, e.ID)
	}
	_, err := f.svc.FromTimeEntries(context.Background(), f.user.ID, TimeEntriesInput{EntryIDs: ids})
	assert.ErrorIs(t, err, ErrMixedCustomers)
}

func TestPDF(t *testing.T) {
	f := setup(t, models.PlanFree)
	inv := f.create(t)
	out, name, err := f.svc.PDF(context.Background(), f.user.ID, inv.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "factuur-2025-0001.pdf", name)
	assert.Equal(t, "%PDF", string(out[:4]))
}
