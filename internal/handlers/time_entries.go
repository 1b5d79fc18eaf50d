package handlers

import (
	"net/http"

	"github.com/dkortekaas/declair/internal/invoicing"
	"github.com/dkortekaas/declair/internal/models"
	"github.com/dkortekaas/declair/internal/timetracking"
)

type TimeEntryHandler struct {
	entries  *timetracking.Service
	invoices *invoicing.Service
}

func NewTimeEntryHandler(entries *timetracking.Service, inv *invoicing.Service) *TimeEntryHandler {
	return &TimeEntryHandler{entries: entries, invoices: inv}
}

// List accepts ?project_id=, ?from=, ?to= and ?unbilled=true.
func (h *TimeEntryHandler) List(w http.ResponseWriter, r *http.Request) {
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
	list, err := h.entries.List(r.Context(), currentUser(r), timetracking.Filter{
		ProjectID: queryUint(r, "project_id"),
		From:      from,
		To:        to,
		Unbilled:  r.URL.Query().Get("unbilled") == "true",
	})
	if list == nil {
		list = []models.TimeEntry{}
	}
	respond(w, r, http.StatusOK, list, err)
}

func (h *TimeEntryHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	e, err := h.entries.Get(r.Context(), currentUser(r), id)
	respond(w, r, http.StatusOK, e, err)
}

func (h *TimeEntryHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in timetracking.Input
	if err := decode(r, &in); err != nil {
		fail(w, r, err)
		return
	}
	e, err := h.entries.Create(r.Context(), currentUser(r), in)
	respond(w, r, http.StatusCreated, e, err)
}

func (h *TimeEntryHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	var in timetracking.Input
	if err := decode(r, &in); err != nil {
		fail(w, r, err)
		return
	}
	e, err := h.entries.Update(r.Context(), currentUser(r), id, in)
	respond(w, r, http.StatusOK, e, err)
}

func (h *TimeEntryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	respond(w, r, http.StatusNoContent, nil, h.entries.Delete(r.Context(), currentUser(r), id))
}

// Invoice bills the selected entries on a new draft invoice.
func (h *TimeEntryHandler) Invoice(w http.ResponseWriter, r *http.Request) {
	var in invoicing.TimeEntriesInput
	if err := decode(r, &in); err != nil {
		fail(w, r, err)
		return
	}
	inv, err := h.invoices.FromTimeEntries(r.Context(), currentUser(r), in)
	if err != nil {
		fail(w, r, err)
		return
	}
	respond(w, r, http.StatusCreated, h.invoices.View(inv), nil)
}
