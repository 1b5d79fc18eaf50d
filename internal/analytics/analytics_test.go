package analytics

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/dkortekaas/declair/internal/db/dbtest"
	"github.com/dkortekaas/declair/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func date(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestDashboard(t *testing.T) {
	conn := dbtest.Seeded(t)
	u := dbtest.User(t, conn, "cijfers@example.nl", models.PlanPro)
	other := dbtest.User(t, conn, "ander@example.nl", models.PlanPro)
	cust := dbtest.Customer(t, conn, u.ID, "NL", "")
	now := time.Date(2025, 5, 20, 12, 0, 0, 0, time.UTC)

	n := 0
	invoice := func(owner uint, on, due string, status models.InvoiceStatus, net, vatAmt, rate string) {
		t.Helper()
		n++
		inv := models.Invoice{
			UserID: owner, Number: fmt.Sprintf("2025-%04d", n), CustomerID: cust.ID,
			InvoiceDate: date(on), DueDate: date(due), Status: status, Currency: "EUR",
			ExchangeRate: d(rate), Subtotal: d(net), VATAmount: d(vatAmt), Total: d(net).Add(d(vatAmt)),
			Items: []models.InvoiceItem{{
				Description: "Werk", Quantity: d("1"), UnitPrice: d(net), VATRate: d("21"),
				NetAmount: d(net), VATAmount: d(vatAmt),
			}},
		}
		require.NoError(t, conn.Create(&inv).Error)
	}
	invoice(u.ID, "2025-01-15", "2025-02-14", models.InvoicePaid, "1000", "210", "1")
	invoice(u.ID, "2025-04-10", "2025-05-10", models.InvoicePaid, "500", "105", "1")
	invoice(u.ID, "2025-05-01", "2025-05-31", models.InvoicePaid, "100", "21", "1.1")
	invoice(u.ID, "2024-12-01", "2024-12-31", models.InvoicePaid, "9999", "0", "1")
	invoice(u.ID, "2025-04-01", "2025-05-01", models.InvoiceSent, "200", "42", "1")
	invoice(u.ID, "2025-05-15", "2025-06-14", models.InvoiceSent, "300", "63", "1")
	invoice(u.ID, "2025-05-02", "2025-05-03", models.InvoiceDraft, "50", "0", "1")
	invoice(other.ID, "2025-05-02", "2025-05-03", models.InvoicePaid, "777", "0", "1")

	require.NoError(t, conn.Create(&models.Expense{
		UserID: u.ID, Date: date("2025-04-20"), Supplier: "KPN", GrossAmount: d("121"), VATRate: d("21"),
		NetAmount: d("100"), VATAmount: d("21"), DeductiblePct: d("100"), Currency: "EUR", ExchangeRate: d("1"),
	}).Error)
	require.NoError(t, conn.Create(&models.RecurringInvoice{
		UserID: u.ID, CustomerID: cust.ID, Name: "Hosting", Frequency: models.FrequencyQuarterly, Interval: 1,
		StartDate: date("2025-01-01"), NextDate: date("2025-07-01"), Status: models.RecurringActive, Currency: "EUR",
		Items: []models.RecurringInvoiceItem{{Description: "Hosting", Quantity: d("1"), UnitPrice: d("300"), VATRate: d("21")}},
	}).Error)

	svc := NewService(conn).WithClock(func() time.Time { return now })
	got, err := svc.Dashboard(context.Background(), u.ID)
	require.NoError(t, err)

	assert.Equal(t, 2025, got.Year)
	assert.Equal(t, 2, got.Quarter)
	assert.Equal(t, "1610", got.RevenueYTD.String(), "1000 + 500 + 100 at 1.1")
	require.Len(t, got.RevenueByMonth, 12)
	assert.Equal(t, "1000", got.RevenueByMonth[0].String())
	assert.Equal(t, "110", got.RevenueByMonth[4].String())
	assert.Equal(t, "605", got.Outstanding.String())
	assert.Equal(t, 2, got.OpenCount)
	assert.Equal(t, 1, got.OverdueCount)
	assert.Equal(t, "100", got.ExpensesYTD.String())
	assert.Equal(t, "1510", got.ProfitYTD.String())
	assert.Equal(t, "100", got.MRR.String())
	// Q2: owed 105 + 23.10, deductible 21.
	assert.True(t, got.VATBalance.Equal(d("107.1")), got.VATBalance.String())
}
