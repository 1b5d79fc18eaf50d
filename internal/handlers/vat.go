package handlers

import (
	"net/http"

	"github.com/dkortekaas/declair/internal/models"
	"github.com/dkortekaas/declair/internal/vat"
	"github.com/dkortekaas/declair/validation"
)

type VATHandler struct {
	vat *vat.Service
}

func NewVATHandler(svc *vat.Service) *VATHandler {
	return &VATHandler{vat: svc}
}

type periodInput struct {
	Year    int `json:"year"`
	Quarter int `json:"quarter"`
}

func (in periodInput) Validate() validation.Violations {
	v := validation.Violations{}
	if in.Year < 2000 || in.Year > 2100 {
		v.Add("year", "out_of_range")
	}
	if in.Quarter < 1 || in.Quarter > 4 {
		v.Add("quarter", "out_of_range")
	}
	return v
}

func (h *VATHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.vat.List(r.Context(), currentUser(r))
	if list == nil {
		list = []models.VATReport{}
	}
	respond(w, r, http.StatusOK, list, err)
}

type vatPreview struct {
	Year         int  `json:"year"`
	Quarter      int  `json:"quarter"`
	UsedKOR      bool `json:"used_kor"`
	InvoiceCount int  `json:"invoice_count"`
	ExpenseCount int  `json:"expense_count"`
	vat.Totals
}

// Preview computes ?year=&quarter= without storing a report.
func (h *VATHandler) Preview(w http.ResponseWriter, r *http.Request) {
	in := periodInput{Year: queryInt(r, "year", 0), Quarter: queryInt(r, "quarter", 0)}
	if v := in.Validate(); !v.Empty() {
		fail(w, r, v)
		return
	}
	res, err := h.vat.Compute(r.Context(), currentUser(r), in.Year, in.Quarter)
	respond(w, r, http.StatusOK, vatPreview{
		Year: in.Year, Quarter: in.Quarter, UsedKOR: res.UsedKOR,
		InvoiceCount: res.InvoiceCount, ExpenseCount: res.ExpenseCount, Totals: res.Totals,
	}, err)
}

// Generate stores or refreshes the draft report of a quarter.
func (h *VATHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var in periodInput
	if err := decode(r, &in); err != nil {
		fail(w, r, err)
		return
	}
	if v := in.Validate(); !v.Empty() {
		fail(w, r, v)
		return
	}
	report, err := h.vat.Generate(r.Context(), currentUser(r), in.Year, in.Quarter)
	respond(w, r, http.StatusOK, report, err)
}

func (h *VATHandler) Submit(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	report, err := h.vat.Submit(r.Context(), currentUser(r), id)
	respond(w, r, http.StatusOK, report, err)
}
