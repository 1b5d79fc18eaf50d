package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/dkortekaas/declair/internal/config"
	"github.com/dkortekaas/declair/internal/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	cfg := config.Load()
	cfg.Redis.Addr, cfg.Kafka.Broker, cfg.RabbitMQ.URL = "", "", ""
	cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret = "", ""
	cfg.App.CronSecret = "cron-test"

	s, err := newStack(cfg, dbtest.Seeded(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	s.installAuth()
	return NewApp(s)
}

func do(app *App, method, path, body string, cookie *http.Cookie, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rr := httptest.NewRecorder()
	app.ServeHTTP(rr, req)
	return rr
}

func signup(t *testing.T, app *App, email string) *http.Cookie {
	t.Helper()
	rr := do(app, http.MethodPost, "/api/auth/signup", `{"email":"`+email+`","password":"geheim123","name":"Test"}`, nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	for _, c := range rr.Result().Cookies() {
		if c.Name == "session" {
			return c
		}
	}
	t.Fatal("no session cookie")
	return nil
}

func TestHealth(t *testing.T) {
	app := newTestApp(t)
	rr := do(app, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))

	rr = do(app, http.MethodGet, "/healthz", "", nil, "X-Request-ID", "abc-123")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "abc-123", rr.Header().Get("X-Request-ID"))
}

func TestRoutes_RequireSession(t *testing.T) {
	app := newTestApp(t)
	for _, path := range []string{"/api/customers", "/api/invoices", "/api/dashboard", "/api/settings/company"} {
		rr := do(app, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code, path)
	}
	rr := do(app, http.MethodPost, "/api/cron/reminders", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRoutes_OwnerFlow(t *testing.T) {
	app := newTestApp(t)
	cookie := signup(t, app, "eigenaar@example.nl")

	rr := do(app, http.MethodPost, "/api/customers", `{"name":"Bakkerij de Vries","email":"info@devries.nl"}`, cookie)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var cust struct {
		ID uint `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &cust))

	rr = do(app, http.MethodPost, "/api/invoices",
		`{"customer_id":`+jsonUint(cust.ID)+`,"items":[{"description":"Advies","quantity":"1","unit_price":"100","vat_rate":"21"}]}`, cookie)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = do(app, http.MethodGet, "/api/invoices", "", cookie)
	require.Equal(t, http.StatusOK, rr.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	rr = do(app, http.MethodGet, "/api/dashboard", "", cookie)
	assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	// Another account cannot see the customer.
	other := signup(t, app, "ander@example.nl")
	rr = do(app, http.MethodGet, "/api/customers/"+jsonUint(cust.ID), "", other)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRoutes_PlanAndAdminGates(t *testing.T) {
	app := newTestApp(t)
	cookie := signup(t, app, "gratis@example.nl")

	for _, path := range []string{"/api/vat-reports", "/api/vat-reports/preview?year=2025&quarter=1"} {
		rr := do(app, http.MethodGet, path, "", cookie)
		assert.Equal(t, http.StatusForbidden, rr.Code, path)
		assert.Contains(t, rr.Body.String(), "feature_not_available")
	}
	rr := do(app, http.MethodPost, "/api/recurring-invoices", `{}`, cookie)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = do(app, http.MethodGet, "/api/recurring-invoices", "", cookie)
	assert.Equal(t, http.StatusOK, rr.Code, "a free plan still lists its templates")

	rr = do(app, http.MethodGet, "/api/admin/profiles", "", cookie)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestPublicSign_RateLimitedPerToken(t *testing.T) {
	app := newTestApp(t)
	path := "/api/public/quotes/00000000-0000-4000-8000-000000000000/sign"
	body := `{"name":"Jan Jansen"}`

	for i := 1; i <= 10; i++ {
		rr := do(app, http.MethodPost, path, body, nil)
		require.Equal(t, http.StatusNotFound, rr.Code, "attempt %d", i)
		assert.Empty(t, rr.Header().Get("Retry-After"))
	}

	rr := do(app, http.MethodPost, path, body, nil)
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Contains(t, rr.Body.String(), "rate_limited")
	secs, err := strconv.Atoi(rr.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.Positive(t, secs)
	assert.LessOrEqual(t, secs, 3600)

	rr = do(app, http.MethodPost, "/api/public/quotes/11111111-1111-4111-8111-111111111111/sign", body, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code, "other tokens keep their own budget")
}

func TestRoutes_Language(t *testing.T) {
	app := newTestApp(t)
	body := `{"email":"geen-email","password":"geheim123"}`

	rr := do(app, http.MethodPost, "/api/auth/signup", body, nil, "Accept-Language", "en-GB,en;q=0.9")
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "Invalid email address")

	rr = do(app, http.MethodPost, "/api/auth/signup", body, nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.NotContains(t, rr.Body.String(), "Invalid email address")
}

func jsonUint(n uint) string {
	b, _ := json.Marshal(n)
	return string(b)
}
