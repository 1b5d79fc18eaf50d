package handlers

import (
	"net/http"
	"strings"

	"github.com/dkortekaas/declair/internal/invoicing"
	"github.com/dkortekaas/declair/internal/models"
	"github.com/dkortekaas/declair/internal/quotes"
)

type QuoteHandler struct {
	quotes   *quotes.Service
	invoices *invoicing.Service
}

func NewQuoteHandler(q *quotes.Service, inv *invoicing.Service) *QuoteHandler {
	return &QuoteHandler{quotes: q, invoices: inv}
}

func (h *QuoteHandler) List(w http.ResponseWriter, r *http.Request) {
	status := models.QuoteStatus(strings.ToUpper(r.URL.Query().Get("status")))
	list, err := h.quotes.List(r.Context(), currentUser(r), status)
	if list == nil {
		list = []models.Quote{}
	}
	respond(w, r, http.StatusOK, list, err)
}

func (h *QuoteHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	q, err := h.quotes.Get(r.Context(), currentUser(r), id)
	respond(w, r, http.StatusOK, q, err)
}

func (h *QuoteHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in quotes.Input
	if err := decode(r, &in); err != nil {
		fail(w, r, err)
		return
	}
	q, err := h.quotes.Create(r.Context(), currentUser(r), in)
	respond(w, r, http.StatusCreated, q, err)
}

func (h *QuoteHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	var in quotes.Input
	if err := decode(r, &in); err != nil {
		fail(w, r, err)
		return
	}
	q, err := h.quotes.Update(r.Context(), currentUser(r), id, in)
	respond(w, r, http.StatusOK, q, err)
}

func (h *QuoteHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	respond(w, r, http.StatusNoContent, nil, h.quotes.Delete(r.Context(), currentUser(r), id))
}

type signingResponse struct {
	Quote *models.Quote `json:"quote"`
	URL   string        `json:"url"`
}

// EnableSigning mails the customer a signing link.
func (h *QuoteHandler) EnableSigning(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	q, url, err := h.quotes.EnableSigning(r.Context(), currentUser(r), id)
	respond(w, r, http.StatusOK, signingResponse{Quote: q, URL: url}, err)
}

func (h *QuoteHandler) DisableSigning(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	respond(w, r, http.StatusNoContent, nil, h.quotes.DisableSigning(r.Context(), currentUser(r), id))
}

func (h *QuoteHandler) Convert(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	inv, err := h.quotes.Convert(r.Context(), currentUser(r), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	respond(w, r, http.StatusCreated, h.invoices.View(inv), nil)
}

// Public endpoints below are reached through the signing token only.

func (h *QuoteHandler) PublicGet(w http.ResponseWriter, r *http.Request) {
	q, err := h.quotes.Public(r.Context(), r.PathValue("token"))
	respond(w, r, http.StatusOK, q, err)
}

type signedQuote struct {
	Number string             `json:"number"`
	Status models.QuoteStatus `json:"status"`
}

func (h *QuoteHandler) PublicSign(w http.ResponseWriter, r *http.Request) {
	var in quotes.SignInput
	if err := decode(r, &in); err != nil {
		fail(w, r, err)
		return
	}
	q, err := h.quotes.Sign(r.Context(), r.PathValue("token"), in)
	if err != nil {
		fail(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, signedQuote{Number: q.Number, Status: q.Status}, nil)
}

type declineInput struct {
	Reason string `json:"reason"`
}

func (h *QuoteHandler) PublicDecline(w http.ResponseWriter, r *http.Request) {
	var in declineInput
	if r.ContentLength != 0 {
		if err := decode(r, &in); err != nil {
			fail(w, r, err)
			return
		}
	}
	q, err := h.quotes.Decline(r.Context(), r.PathValue("token"), in.Reason)
	if err != nil {
		fail(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, signedQuote{Number: q.Number, Status: q.Status}, nil)
}
