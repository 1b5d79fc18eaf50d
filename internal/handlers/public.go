package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dkortekaas/declair/auth"
	"github.com/dkortekaas/declair/httpx"
	"github.com/dkortekaas/declair/internal/logger"
	"github.com/dkortekaas/declair/internal/models"
	"github.com/dkortekaas/declair/internal/newsletter"
	"github.com/dkortekaas/declair/internal/payments"
	"github.com/dkortekaas/declair/internal/quotes"
	"github.com/dkortekaas/declair/internal/recurring"
	"github.com/dkortekaas/declair/internal/reminders"
	"gorm.io/gorm"
)

type NewsletterHandler struct {
	newsletter *newsletter.Service
}

func NewNewsletterHandler(svc *newsletter.Service) *NewsletterHandler {
	return &NewsletterHandler{newsletter: svc}
}

type subscribeInput struct {
	Email string `json:"email"`
}

// Subscribe answers 202 whether or not the address was already known.
func (h *NewsletterHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var in subscribeInput
	if err := decode(r, &in); err != nil {
		fail(w, r, err)
		return
	}
	respond(w, r, http.StatusAccepted, map[string]bool{"ok": true}, h.newsletter.Subscribe(r.Context(), in.Email))
}

func (h *NewsletterHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	sub, err := h.newsletter.Confirm(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		fail(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, map[string]string{"email": sub.Email, "status": string(sub.Status)}, nil)
}

// Unsubscribe handles the one-click link; GET and POST behave the same.
func (h *NewsletterHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id, err := strconv.ParseUint(q.Get("id"), 10, 64)
	if err != nil {
		fail(w, r, newsletter.ErrInvalidToken)
		return
	}
	err = h.newsletter.Unsubscribe(r.Context(), uint(id), q.Get("email"), q.Get("token"))
	respond(w, r, http.StatusOK, map[string]bool{"unsubscribed": true}, err)
}

// Subscribers lists confirmed addresses; admin only.
func (h *NewsletterHandler) Subscribers(w http.ResponseWriter, r *http.Request) {
	list, err := h.newsletter.Confirmed(r.Context())
	if list == nil {
		list = []models.NewsletterSubscriber{}
	}
	respond(w, r, http.StatusOK, list, err)
}

// maxWebhookBytes is the body size Stripe documents as the event limit.
const maxWebhookBytes = 64 << 10

type WebhookHandler struct {
	webhook *payments.Webhook
}

func NewWebhookHandler(wh *payments.Webhook) *WebhookHandler {
	return &WebhookHandler{webhook: wh}
}

// Stripe verifies and applies one event. Events about users that no longer
// exist are acknowledged so Stripe stops retrying them.
func (h *WebhookHandler) Stripe(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		fail(w, r, httpx.NewError(httpx.KindValidation, "invalid_json"))
		return
	}
	outcome, err := h.webhook.Handle(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if errors.Is(err, payments.ErrUnknownUser) {
		logger.Ctx(r.Context()).Warn().Err(err).Msg("stripe webhook for unknown user")
		outcome, err = payments.OutcomeIgnored, nil
	}
	respond(w, r, http.StatusOK, map[string]string{"outcome": string(outcome)}, err)
}

type CronHandler struct {
	secret    string
	reminders *reminders.Service
	quotes    *quotes.Service
	generator *recurring.Generator
	now       func() time.Time
}

func NewCronHandler(secret string, rem *reminders.Service, q *quotes.Service, gen *recurring.Generator) *CronHandler {
	return &CronHandler{secret: secret, reminders: rem, quotes: q, generator: gen, now: time.Now}
}

type reminderRun struct {
	*reminders.Report
	QuotesExpired int64 `json:"quotes_expired"`
}

// Reminders runs the daily batch: overdue marking, reminder mails and
// expiry of quotes past their validity.
func (h *CronHandler) Reminders(w http.ResponseWriter, r *http.Request) {
	if !auth.BearerMatches(r, h.secret) {
		fail(w, r, httpx.Unauthorized())
		return
	}
	rep, err := h.reminders.Run(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	expired, err := h.quotes.ExpireOverdue(r.Context())
	respond(w, r, http.StatusOK, reminderRun{Report: rep, QuotesExpired: expired}, err)
}

type recurringRun struct {
	Results []recurring.Result `json:"results"`
}

func (h *CronHandler) Recurring(w http.ResponseWriter, r *http.Request) {
	if !auth.BearerMatches(r, h.secret) {
		fail(w, r, httpx.Unauthorized())
		return
	}
	res, err := h.generator.RunDue(r.Context(), h.now())
	if res == nil {
		res = []recurring.Result{}
	}
	respond(w, r, http.StatusOK, recurringRun{Results: res}, err)
}

type HealthHandler struct {
	db *gorm.DB
}

func NewHealthHandler(db *gorm.DB) *HealthHandler {
	return &HealthHandler{db: db}
}

// Live only says the process serves requests.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready also pings the database.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(r.Context())
	}
	if err != nil {
		logger.Ctx(r.Context()).Error().Err(err).Msg("health check failed")
		httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
