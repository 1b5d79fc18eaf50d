package main

import (
	"net/http"
	"time"

	"github.com/dkortekaas/declair/auth"
	"github.com/dkortekaas/declair/gate"
	"github.com/dkortekaas/declair/i18n"
	"github.com/dkortekaas/declair/internal/handlers"
	"github.com/dkortekaas/declair/internal/logger"
	"github.com/dkortekaas/declair/internal/policy"
	"github.com/google/uuid"
)

type middleware func(http.Handler) http.Handler

// App is the root http.Handler of the API.
type App struct {
	mux     *http.ServeMux
	gate    *policy.AuthGate
	handler http.Handler
}

// NewApp registers the routes and the global middleware: session, request
// logging, language and client address.
func NewApp(s *stack) *App {
	a := &App{mux: http.NewServeMux(), gate: s.gate}
	a.routes(s)
	proxies, err := s.cfg.Server.Proxies()
	if err != nil {
		l := logger.WithComponent("server")
		l.Warn().Err(err).Msg("ignoring TRUSTED_PROXIES")
		proxies = nil
	}
	a.handler = auth.Middleware(withRequestLog(withLang(handlers.ClientIP(proxies)(a.mux))))
	return a
}

func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.handler.ServeHTTP(w, r)
}

// public registers a route that needs no session.
func (a *App) public(pattern string, h http.HandlerFunc) {
	a.mux.Handle(pattern, h)
}

// private registers a route behind RequireAuth and the given checks, which
// run in order.
func (a *App) private(pattern string, h http.HandlerFunc, checks ...middleware) {
	var next http.Handler = h
	for i := len(checks) - 1; i >= 0; i-- {
		next = checks[i](next)
	}
	a.mux.Handle(pattern, auth.RequireAuth(next))
}

func (a *App) can(resource string, action gate.Action) middleware {
	return a.gate.RequirePermission(resource, action)
}

func (a *App) feature(f policy.Feature) middleware { return a.gate.RequireFeature(f) }

func (a *App) admin() middleware { return a.gate.RequireAdmin() }

// crud registers list, create, get, update and delete of one resource.
func (a *App) crud(path, resource string, list, create, get, update, del http.HandlerFunc, extra ...middleware) {
	with := func(action gate.Action) []middleware {
		return append([]middleware{a.can(resource, action)}, extra...)
	}
	a.private("GET "+path, list, with(gate.ActionList)...)
	a.private("POST "+path, create, with(gate.ActionCreate)...)
	a.private("GET "+path+"/{id}", get, with(gate.ActionView)...)
	a.private("PUT "+path+"/{id}", update, with(gate.ActionUpdate)...)
	a.private("DELETE "+path+"/{id}", del, with(gate.ActionDelete)...)
}

func (a *App) routes(s *stack) {
	health := handlers.NewHealthHandler(s.db)
	a.public("GET /health", health.Live)
	a.public("GET /healthz", health.Ready)

	// Authentication
	ah := handlers.NewAuthHandler(s.accounts, s.invitations)
	a.public("POST /api/auth/signup", ah.Signup)
	a.public("POST /api/auth/login", ah.Login)
	a.public("POST /api/auth/logout", ah.Logout)
	a.public("POST /api/auth/password-reset", ah.RequestReset)
	a.public("POST /api/auth/password-reset/confirm", ah.ConfirmReset)
	a.public("POST /api/invitations/accept", ah.AcceptInvitation)

	// Public signing page of a quote
	qh := handlers.NewQuoteHandler(s.quotes, s.invoices)
	a.public("GET /api/public/quotes/{token}", qh.PublicGet)
	a.public("POST /api/public/quotes/{token}/sign", qh.PublicSign)
	a.public("POST /api/public/quotes/{token}/decline", qh.PublicDecline)

	nh := handlers.NewNewsletterHandler(s.newsletter)
	a.public("POST /api/newsletter/subscribe", nh.Subscribe)
	a.public("GET /api/newsletter/confirm", nh.Confirm)
	a.public("GET /api/newsletter/unsubscribe", nh.Unsubscribe)
	a.private("GET /api/newsletter/subscribers", nh.Subscribers, a.admin())

	if s.webhook != nil {
		a.public("POST /api/stripe/webhook", handlers.NewWebhookHandler(s.webhook).Stripe)
	}

	cron := handlers.NewCronHandler(s.cfg.App.CronSecret, s.reminders, s.quotes, s.generator)
	a.public("POST /api/cron/reminders", cron.Reminders)
	a.public("POST /api/cron/recurring", cron.Recurring)

	// Relations
	ch := handlers.NewCustomerHandler(s.db)
	a.crud("/api/customers", "customer", ch.List, ch.Create, ch.Get, ch.Update, ch.Delete)
	ph := handlers.NewProjectHandler(s.db)
	a.crud("/api/projects", "project", ph.List, ph.Create, ph.Get, ph.Update, ph.Delete)

	th := handlers.NewTimeEntryHandler(s.timeEntries, s.invoices)
	a.crud("/api/time-entries", "time_entry", th.List, th.Create, th.Get, th.Update, th.Delete)
	a.private("POST /api/time-entries/invoice", th.Invoice, a.can("invoice", gate.ActionCreate))

	eh := handlers.NewExpenseHandler(s.expenses)
	a.crud("/api/expenses", "expense", eh.List, eh.Create, eh.Get, eh.Update, eh.Delete)
	a.private("GET /api/expenses/categories", eh.Categories, a.can("expense", gate.ActionList))
	a.private("GET /api/expenses/corrections", eh.Corrections, a.can("expense", gate.ActionList))
	a.private("POST /api/import/expenses", eh.Import, a.can("expense", gate.ActionImport))

	// Invoices and credit notes
	ih := handlers.NewInvoiceHandler(s.invoices, s.links, s.reminders)
	a.crud("/api/invoices", "invoice", ih.List, ih.Create, ih.Get, ih.Update, ih.Delete)
	a.private("POST /api/invoices/{id}/send", ih.Send, a.can("invoice", gate.ActionSend))
	a.private("POST /api/invoices/{id}/pay", ih.Pay, a.can("invoice", gate.ActionUpdate))
	a.private("POST /api/invoices/{id}/cancel", ih.Cancel, a.can("invoice", gate.ActionUpdate))
	a.private("GET /api/invoices/{id}/pdf", ih.PDF, a.can("invoice", gate.ActionView))
	a.private("GET /api/invoices/{id}/reminders", ih.Reminders, a.can("invoice", gate.ActionView))
	a.private("POST /api/invoices/{id}/credit-note", ih.CreditNote, a.can("credit_note", gate.ActionCreate))
	a.private("POST /api/invoices/{id}/payment-link", ih.PaymentLink,
		a.can("invoice", gate.ActionSend), a.feature(policy.FeaturePaymentLinks))
	a.private("GET /api/invoices/{id}/payment-link/qr", ih.PaymentQR,
		a.can("invoice", gate.ActionView), a.feature(policy.FeaturePaymentLinks))
	a.private("GET /api/credit-notes", ih.ListCreditNotes, a.can("credit_note", gate.ActionList))
	a.private("GET /api/credit-notes/{id}", ih.GetCreditNote, a.can("credit_note", gate.ActionView))
	a.private("GET /api/credit-notes/{id}/pdf", ih.CreditNotePDF, a.can("credit_note", gate.ActionView))
	a.private("POST /api/credit-notes/{id}/send", ih.SendCreditNote, a.can("invoice", gate.ActionSend))

	// Quotes
	a.crud("/api/quotes", "quote", qh.List, qh.Create, qh.Get, qh.Update, qh.Delete)
	a.private("POST /api/quotes/{id}/signing", qh.EnableSigning, a.can("quote", gate.ActionSend))
	a.private("DELETE /api/quotes/{id}/signing", qh.DisableSigning, a.can("quote", gate.ActionUpdate))
	a.private("POST /api/quotes/{id}/convert", qh.Convert, a.can("quote", gate.ActionUpdate), a.can("invoice", gate.ActionCreate))

	// Recurring invoices: templates stay manageable after a downgrade, only
	// creating, changing and resuming needs the plan.
	rh := handlers.NewRecurringHandler(s.recurring)
	recurringPlan := a.feature(policy.FeatureRecurring)
	a.private("GET /api/recurring-invoices", rh.List, a.can("recurring_invoice", gate.ActionList))
	a.private("POST /api/recurring-invoices", rh.Create, a.can("recurring_invoice", gate.ActionCreate), recurringPlan)
	a.private("GET /api/recurring-invoices/{id}", rh.Get, a.can("recurring_invoice", gate.ActionView))
	a.private("PUT /api/recurring-invoices/{id}", rh.Update, a.can("recurring_invoice", gate.ActionUpdate), recurringPlan)
	a.private("DELETE /api/recurring-invoices/{id}", rh.Delete, a.can("recurring_invoice", gate.ActionDelete))
	a.private("POST /api/recurring-invoices/{id}/pause", rh.Pause, a.can("recurring_invoice", gate.ActionUpdate))
	a.private("POST /api/recurring-invoices/{id}/resume", rh.Resume, a.can("recurring_invoice", gate.ActionUpdate), recurringPlan)
	a.private("POST /api/recurring-invoices/{id}/cancel", rh.Cancel, a.can("recurring_invoice", gate.ActionUpdate))

	// VAT returns
	vh := handlers.NewVATHandler(s.vat)
	vatPlan := a.feature(policy.FeatureVATReports)
	a.private("GET /api/vat-reports", vh.List, a.can("vat_report", gate.ActionList), vatPlan)
	a.private("GET /api/vat-reports/preview", vh.Preview, a.can("vat_report", gate.ActionView), vatPlan)
	a.private("POST /api/vat-reports", vh.Generate, a.can("vat_report", gate.ActionCreate), vatPlan)
	a.private("POST /api/vat-reports/{id}/submit", vh.Submit, a.can("vat_report", gate.ActionSubmit), vatPlan)

	a.private("GET /api/export/{entity}", handlers.NewExportHandler(s.exporter).Export, a.can("export", gate.ActionExport))

	// Reference data
	cur := handlers.NewCurrencyHandler(s.currency)
	a.private("GET /api/currencies", cur.List, a.can("currency", gate.ActionList))
	a.private("GET /api/currencies/rates", cur.Rates, a.can("currency", gate.ActionList))
	a.private("GET /api/currencies/convert", cur.Convert, a.can("currency", gate.ActionView))
	a.private("POST /api/currencies/rates", cur.SetRate, a.admin())

	dh := handlers.NewDiscountHandler(s.discounts)
	a.private("GET /api/discount-codes", dh.List, a.admin())
	a.private("POST /api/discount-codes", dh.Create, a.admin())
	a.private("PUT /api/discount-codes/{id}/active", dh.SetActive, a.admin())
	a.private("POST /api/discount-codes/validate", dh.Validate)

	// Account
	inv := handlers.NewInvitationHandler(s.invitations)
	a.private("GET /api/invitations", inv.List, a.can("invitation", gate.ActionList))
	a.private("POST /api/invitations", inv.Create, a.can("invitation", gate.ActionCreate))
	a.private("DELETE /api/invitations/{id}", inv.Revoke, a.can("invitation", gate.ActionDelete))

	if s.billing != nil {
		a.private("POST /api/billing/checkout", handlers.NewBillingHandler(s.billing).Checkout)
	}

	dash := handlers.NewDashboardHandler(s.analytics, s.audit)
	a.private("GET /api/dashboard", dash.Dashboard)
	a.private("GET /api/audit", dash.AuditLog, a.can("audit", gate.ActionView))
	a.private("GET /api/audit/verify", dash.VerifyAudit, a.can("audit", gate.ActionView))

	company := handlers.NewCompanyHandler(s.db)
	a.private("GET /api/settings/company", company.Get, a.can("company", gate.ActionView))
	a.private("PUT /api/settings/company", company.Update, a.can("company", gate.ActionUpdate))

	// Administration of profiles and permissions
	aph := handlers.NewAdminProfileHandler(s.db, s.gate)
	a.private("GET /api/admin/profiles", aph.List, a.admin())
	a.private("POST /api/admin/profiles", aph.Create, a.admin())
	a.private("PUT /api/admin/profiles/{id}", aph.Update, a.admin())
	a.private("DELETE /api/admin/profiles/{id}", aph.Delete, a.admin())
	a.private("PUT /api/admin/profiles/{id}/permissions", aph.SetPermissions, a.admin())
	a.private("GET /api/admin/permissions", aph.ListPermissions, a.admin())
	a.private("GET /api/admin/users", aph.ListUsers, a.admin())
	a.private("PUT /api/admin/users/{id}/profile", aph.AssignProfile, a.admin())
}

// withLang picks the response language from ?lang=, the lang cookie or
// Accept-Language, in that order.
func withLang(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lang := r.URL.Query().Get("lang")
		if lang == "" {
			if c, err := r.Cookie("lang"); err == nil {
				lang = c.Value
			}
		}
		if lang == "" {
			lang = r.Header.Get("Accept-Language")
		}
		ctx := i18n.WithLang(r.Context(), i18n.DetectLanguage(lang))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// withRequestLog tags the request with an id, stores a request scoped
// logger in the context and logs the outcome.
func withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		uid, _ := auth.UserIDFromContext(r.Context())
		ctx := logger.WithRequest(r.Context(), id, uid)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		logger.Ctx(ctx).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}
