package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/dkortekaas/declair/internal/invoicing"
	"github.com/dkortekaas/declair/internal/models"
	"github.com/dkortekaas/declair/internal/payments"
	"github.com/dkortekaas/declair/internal/reminders"
)

type InvoiceHandler struct {
	invoices  *invoicing.Service
	links     *payments.Links
	reminders *reminders.Service
}

// NewInvoiceHandler builds the invoice endpoints. links may be nil when no
// payment provider is configured; the payment link routes then answer 404.
func NewInvoiceHandler(inv *invoicing.Service, links *payments.Links, rem *reminders.Service) *InvoiceHandler {
	return &InvoiceHandler{invoices: inv, links: links, reminders: rem}
}

// List accepts ?status=, ?customer_id=, ?from=, ?to=, ?limit= and ?offset=.
func (h *InvoiceHandler) List(w http.ResponseWriter, r *http.Request) {
	from, err := queryDate(r, "from")
	if err != nil {
		fail(w, r, err)
		return
	}
	to, err := queryDate(r, "to")
	if err != nil {
		fail(w, r, err)
		return
	}
	list, err := h.invoices.List(r.Context(), currentUser(r), invoicing.Filter{
		Status:     models.InvoiceStatus(strings.ToUpper(r.URL.Query().Get("status"))),
		CustomerID: queryUint(r, "customer_id"),
		From:       from,
		To:         to,
		Limit:      queryInt(r, "limit", 50),
		Offset:     queryInt(r, "offset", 0),
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	out := make([]invoicing.View, len(list))
	for i := range list {
		out[i] = h.invoices.View(&list[i])
	}
	respond(w, r, http.StatusOK, out, nil)
}

func (h *InvoiceHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	inv, err := h.invoices.Get(r.Context(), currentUser(r), id)
	h.view(w, r, http.StatusOK, inv, err)
}

func (h *InvoiceHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in invoicing.Input
	if err := decode(r, &in); err != nil {
		fail(w, r, err)
		return
	}
	inv, err := h.invoices.Create(r.Context(), currentUser(r), in)
	h.view(w, r, http.StatusCreated, inv, err)
}

func (h *InvoiceHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	var in invoicing.Input
	if err := decode(r, &in); err != nil {
		fail(w, r, err)
		return
	}
	inv, err := h.invoices.Update(r.Context(), currentUser(r), id, in)
	h.view(w, r, http.StatusOK, inv, err)
}

func (h *InvoiceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	respond(w, r, http.StatusNoContent, nil, h.invoices.Delete(r.Context(), currentUser(r), id))
}

// Send emails the invoice, with the pay button when a link is active.
func (h *InvoiceHandler) Send(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	inv, err := h.invoices.Send(r.Context(), currentUser(r), id, invoicing.SendOptions{PaymentURL: h.paymentURL(r, id)})
	h.view(w, r, http.StatusOK, inv, err)
}

type payInput struct {
	PaidAt string `json:"paid_at"`
}

// Pay marks the invoice paid, today unless paid_at is given. The body is
// optional.
func (h *InvoiceHandler) Pay(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	var in payInput
	if r.ContentLength != 0 {
		if err := decode(r, &in); err != nil {
			fail(w, r, err)
			return
		}
	}
	var paidAt *time.Time
	if in.PaidAt != "" {
		t, err := time.Parse(dateLayout, in.PaidAt)
		if err != nil {
			fail(w, r, invalidField("paid_at", "invalid_date")())
			return
		}
		paidAt = &t
	}
	inv, err := h.invoices.MarkPaid(r.Context(), currentUser(r), id, paidAt)
	h.view(w, r, http.StatusOK, inv, err)
}

func (h *InvoiceHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	inv, err := h.invoices.Cancel(r.Context(), currentUser(r), id)
	h.view(w, r, http.StatusOK, inv, err)
}

func (h *InvoiceHandler) PDF(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	data, name, err := h.invoices.PDF(r.Context(), currentUser(r), id, h.paymentURL(r, id))
	if err != nil {
		fail(w, r, err)
		return
	}
	attachment(w, "application/pdf", name, data)
}

type creditNoteInput struct {
	Reason string `json:"reason"`
}

func (h *InvoiceHandler) CreditNote(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	var in creditNoteInput
	if err := decode(r, &in); err != nil {
		fail(w, r, err)
		return
	}
	cn, err := h.invoices.CreditNote(r.Context(), currentUser(r), id, in.Reason)
	respond(w, r, http.StatusCreated, cn, err)
}

// PaymentLink creates or reuses the online payment link of an open invoice.
func (h *InvoiceHandler) PaymentLink(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	if h.links == nil {
		fail(w, r, payments.ErrLinkNotFound)
		return
	}
	link, err := h.links.Create(r.Context(), currentUser(r), id)
	respond(w, r, http.StatusOK, link, err)
}

// PaymentQR renders the payment link as a PNG; ?size= is in pixels.
func (h *InvoiceHandler) PaymentQR(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	if h.links == nil {
		fail(w, r, payments.ErrLinkNotFound)
		return
	}
	png, err := h.links.QR(r.Context(), currentUser(r), id, queryInt(r, "size", 0))
	if err != nil {
		fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}

func (h *InvoiceHandler) Reminders(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	list, err := h.reminders.History(r.Context(), currentUser(r), id)
	if list == nil {
		list = []models.PaymentReminder{}
	}
	respond(w, r, http.StatusOK, list, err)
}

func (h *InvoiceHandler) ListCreditNotes(w http.ResponseWriter, r *http.Request) {
	list, err := h.invoices.ListCreditNotes(r.Context(), currentUser(r))
	if list == nil {
		list = []models.CreditNote{}
	}
	respond(w, r, http.StatusOK, list, err)
}

func (h *InvoiceHandler) GetCreditNote(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	cn, err := h.invoices.GetCreditNote(r.Context(), currentUser(r), id)
	respond(w, r, http.StatusOK, cn, err)
}

func (h *InvoiceHandler) CreditNotePDF(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	data, name, err := h.invoices.CreditNotePDF(r.Context(), currentUser(r), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	attachment(w, "application/pdf", name, data)
}

func (h *InvoiceHandler) SendCreditNote(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	respond(w, r, http.StatusNoContent, nil, h.invoices.SendCreditNote(r.Context(), currentUser(r), id))
}

func (h *InvoiceHandler) paymentURL(r *http.Request, invoiceID uint) string {
	if h.links == nil {
		return ""
	}
	return h.links.ActiveURL(r.Context(), invoiceID)
}

func (h *InvoiceHandler) view(w http.ResponseWriter, r *http.Request, status int, inv *models.Invoice, err error) {
	if err != nil {
		fail(w, r, err)
		return
	}
	respond(w, r, status, h.invoices.View(inv), nil)
}
