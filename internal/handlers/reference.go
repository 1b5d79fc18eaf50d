package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/dkortekaas/declair/internal/currency"
	"github.com/dkortekaas/declair/internal/discount"
	"github.com/dkortekaas/declair/internal/models"
	"github.com/dkortekaas/declair/validation"
	"github.com/shopspring/decimal"
)

type CurrencyHandler struct {
	currencies *currency.Service
}

func NewCurrencyHandler(svc *currency.Service) *CurrencyHandler {
	return &CurrencyHandler{currencies: svc}
}

func (h *CurrencyHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.currencies.Currencies(r.Context())
	if list == nil {
		list = []models.Currency{}
	}
	respond(w, r, http.StatusOK, list, err)
}

// Rates lists stored rates, optionally of one ?base= currency.
func (h *CurrencyHandler) Rates(w http.ResponseWriter, r *http.Request) {
	list, err := h.currencies.Rates(r.Context(), r.URL.Query().Get("base"), queryInt(r, "limit", 100))
	if list == nil {
		list = []models.ExchangeRate{}
	}
	respond(w, r, http.StatusOK, list, err)
}

type rateInput struct {
	Base   string          `json:"base"`
	Quote  string          `json:"quote"`
	Date   string          `json:"date"`
	Rate   decimal.Decimal `json:"rate"`
	Source string          `json:"source"`
}

// SetRate stores a manual rate; admin only.
func (h *CurrencyHandler) SetRate(w http.ResponseWriter, r *http.Request) {
	var in rateInput
	if err := decode(r, &in); err != nil {
		fail(w, r, err)
		return
	}
	on := time.Now().UTC().Truncate(24 * time.Hour)
	if in.Date != "" {
		t, err := time.Parse(dateLayout, in.Date)
		if err != nil {
			fail(w, r, validation.Violations{"date": "invalid_date"})
			return
		}
		on = t
	}
	if in.Source == "" {
		in.Source = "manual"
	}
	rate, err := h.currencies.SetRate(r.Context(), in.Base, in.Quote, on, in.Rate, in.Source)
	respond(w, r, http.StatusCreated, rate, err)
}

type conversion struct {
	Amount    decimal.Decimal `json:"amount"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Date      string          `json:"date"`
	Converted decimal.Decimal `json:"converted"`
}

// Convert answers ?amount=&from=&to=&date= at the latest rate on or before
// date.
func (h *CurrencyHandler) Convert(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	amount, err := decimal.NewFromString(q.Get("amount"))
	if err != nil {
		fail(w, r, validation.Violations{"amount": "invalid_amount"})
		return
	}
	on, err := queryDate(r, "date")
	if err != nil {
		fail(w, r, err)
		return
	}
	if on.IsZero() {
		on = time.Now().UTC()
	}
	to := q.Get("to")
	if to == "" {
		to = currency.Base
	}
	out, err := h.currencies.Convert(r.Context(), amount, q.Get("from"), to, on)
	respond(w, r, http.StatusOK, conversion{
		Amount: amount, From: strings.ToUpper(q.Get("from")), To: strings.ToUpper(to),
		Date: on.Format(dateLayout), Converted: out,
	}, err)
}

type DiscountHandler struct {
	discounts *discount.Service
}

func NewDiscountHandler(svc *discount.Service) *DiscountHandler {
	return &DiscountHandler{discounts: svc}
}

func (h *DiscountHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.discounts.List(r.Context())
	if list == nil {
		list = []models.DiscountCode{}
	}
	respond(w, r, http.StatusOK, list, err)
}

func (h *DiscountHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in discount.Input
	if err := decode(r, &in); err != nil {
		fail(w, r, err)
		return
	}
	d, err := h.discounts.Create(r.Context(), in)
	respond(w, r, http.StatusCreated, d, err)
}

type activeInput struct {
	Active bool `json:"active"`
}

func (h *DiscountHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	var in activeInput
	if err := decode(r, &in); err != nil {
		fail(w, r, err)
		return
	}
	d, err := h.discounts.SetActive(r.Context(), id, in.Active)
	respond(w, r, http.StatusOK, d, err)
}

type validateInput struct {
	Code   string           `json:"code"`
	Amount *decimal.Decimal `json:"amount"`
}

type validatedCode struct {
	Code        string              `json:"code"`
	Type        models.DiscountType `json:"type"`
	Value       decimal.Decimal     `json:"value"`
	Discounted  *decimal.Decimal    `json:"discounted,omitempty"`
	Description string              `json:"description,omitempty"`
}

// Validate checks a code before checkout and, given an amount, returns the
// discounted price.
func (h *DiscountHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var in validateInput
	if err := decode(r, &in); err != nil {
		fail(w, r, err)
		return
	}
	d, err := h.discounts.Validate(r.Context(), in.Code)
	if err != nil {
		fail(w, r, err)
		return
	}
	out := validatedCode{Code: d.Code, Type: d.Type, Value: d.Value, Description: d.Description}
	if in.Amount != nil {
		price := discount.Apply(d, *in.Amount)
		out.Discounted = &price
	}
	respond(w, r, http.StatusOK, out, nil)
}
