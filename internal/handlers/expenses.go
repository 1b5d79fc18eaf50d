package handlers

import (
	"io"
	"net/http"
	"strings"

	"github.com/dkortekaas/declair/internal/expenses"
	"github.com/dkortekaas/declair/internal/importer"
	"github.com/dkortekaas/declair/internal/models"
	"github.com/shopspring/decimal"
)

// maxImportBytes bounds an uploaded bank or bookkeeping export.
const maxImportBytes = 5 << 20

type ExpenseHandler struct {
	expenses *expenses.Service
	importer *importer.Importer
}

func NewExpenseHandler(svc *expenses.Service) *ExpenseHandler {
	return &ExpenseHandler{expenses: svc, importer: importer.New(svc)}
}

// List accepts ?from=, ?to=, ?category=, ?limit= and ?offset=.
func (h *ExpenseHandler) List(w http.ResponseWriter, r *http.Request) {
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
	list, err := h.expenses.List(r.Context(), currentUser(r), expenses.Filter{
		From:     from,
		To:       to,
		Category: r.URL.Query().Get("category"),
		Limit:    queryInt(r, "limit", 50),
		Offset:   queryInt(r, "offset", 0),
	})
	if list == nil {
		list = []models.Expense{}
	}
	respond(w, r, http.StatusOK, list, err)
}

func (h *ExpenseHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	e, err := h.expenses.Get(r.Context(), currentUser(r), id)
	respond(w, r, http.StatusOK, e, err)
}

func (h *ExpenseHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in expenses.Input
	if err := decode(r, &in); err != nil {
		fail(w, r, err)
		return
	}
	e, err := h.expenses.Create(r.Context(), currentUser(r), in)
	respond(w, r, http.StatusCreated, e, err)
}

func (h *ExpenseHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	var in expenses.Input
	if err := decode(r, &in); err != nil {
		fail(w, r, err)
		return
	}
	e, err := h.expenses.Update(r.Context(), currentUser(r), id, in)
	respond(w, r, http.StatusOK, e, err)
}

func (h *ExpenseHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	respond(w, r, http.StatusNoContent, nil, h.expenses.Delete(r.Context(), currentUser(r), id))
}

type categoryHint struct {
	Supplier   string   `json:"supplier"`
	Category   string   `json:"category,omitempty"`
	Predicted  bool     `json:"predicted"`
	Categories []string `json:"categories"`
}

// Categories lists the suggested categories and, with ?supplier=, the
// category learned for that supplier.
func (h *ExpenseHandler) Categories(w http.ResponseWriter, r *http.Request) {
	out := categoryHint{Supplier: r.URL.Query().Get("supplier"), Categories: expenses.Categories}
	if out.Supplier != "" {
		out.Category, out.Predicted = h.expenses.Predict(r.Context(), currentUser(r), out.Supplier)
	}
	respond(w, r, http.StatusOK, out, nil)
}

func (h *ExpenseHandler) Corrections(w http.ResponseWriter, r *http.Request) {
	list, err := h.expenses.Corrections(r.Context(), currentUser(r))
	if list == nil {
		list = []models.CategoryCorrection{}
	}
	respond(w, r, http.StatusOK, list, err)
}

// Import reads a CSV either as a multipart "file" field or as the raw
// body. ?dry_run=true validates without storing and ?vat_rate= sets the
// rate for rows without one. Multipart fields named map_<field> pick the
// header used for a field.
func (h *ExpenseHandler) Import(w http.ResponseWriter, r *http.Request) {
	opts := importer.Options{DryRun: r.URL.Query().Get("dry_run") == "true"}
	if s := r.URL.Query().Get("vat_rate"); s != "" {
		rate, err := decimal.NewFromString(s)
		if err != nil {
			fail(w, r, invalidField("vat_rate", "invalid_vat_rate")())
			return
		}
		opts.DefaultVATRate = &rate
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxImportBytes)
	var src io.Reader = r.Body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxImportBytes); err != nil {
			fail(w, r, invalidField("file", "required")())
			return
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			fail(w, r, invalidField("file", "required")())
			return
		}
		defer f.Close()
		src = f
		for key, vals := range r.MultipartForm.Value {
			if field, ok := strings.CutPrefix(key, "map_"); ok && len(vals) > 0 {
				if opts.Mapping == nil {
					opts.Mapping = importer.Mapping{}
				}
				opts.Mapping[field] = vals[0]
			}
		}
	}

	report, err := h.importer.Expenses(r.Context(), currentUser(r), src, opts)
	respond(w, r, http.StatusOK, report, err)
}
