package handlers

import (
	"context"
	"net/http"

	"github.com/dkortekaas/declair/internal/models"
	"github.com/dkortekaas/declair/internal/recurring"
)

type RecurringHandler struct {
	recurring *recurring.Service
}

func NewRecurringHandler(svc *recurring.Service) *RecurringHandler {
	return &RecurringHandler{recurring: svc}
}

type recurringList struct {
	Items []recurring.Summary `json:"items"`
	MRR   string              `json:"mrr"`
}

// List returns the templates with their monthly equivalent and the total
// monthly recurring revenue.
func (h *RecurringHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := currentUser(r)
	items, err := h.recurring.List(r.Context(), userID)
	if err != nil {
		fail(w, r, err)
		return
	}
	mrr, err := h.recurring.MRR(r.Context(), userID)
	if items == nil {
		items = []recurring.Summary{}
	}
	respond(w, r, http.StatusOK, recurringList{Items: items, MRR: mrr.StringFixed(2)}, err)
}

func (h *RecurringHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	t, err := h.recurring.Get(r.Context(), currentUser(r), id)
	respond(w, r, http.StatusOK, t, err)
}

func (h *RecurringHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in recurring.Input
	if err := decode(r, &in); err != nil {
		fail(w, r, err)
		return
	}
	t, err := h.recurring.Create(r.Context(), currentUser(r), in)
	respond(w, r, http.StatusCreated, t, err)
}

func (h *RecurringHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	var in recurring.Input
	if err := decode(r, &in); err != nil {
		fail(w, r, err)
		return
	}
	t, err := h.recurring.Update(r.Context(), currentUser(r), id, in)
	respond(w, r, http.StatusOK, t, err)
}

func (h *RecurringHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	respond(w, r, http.StatusNoContent, nil, h.recurring.Delete(r.Context(), currentUser(r), id))
}

func (h *RecurringHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.recurring.Pause)
}

func (h *RecurringHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.recurring.Resume)
}

func (h *RecurringHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.recurring.Cancel)
}

type recurringTransition func(ctx context.Context, userID, id uint) (*models.RecurringInvoice, error)

func (h *RecurringHandler) transition(w http.ResponseWriter, r *http.Request, fn recurringTransition) {
	id, err := pathID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	t, err := fn(r.Context(), currentUser(r), id)
	respond(w, r, http.StatusOK, t, err)
}
