package handlers

import (
	"net/http"
	"strings"

	"github.com/dkortekaas/declair/internal/export"
)

type ExportHandler struct {
	exporter *export.Exporter
}

func NewExportHandler(e *export.Exporter) *ExportHandler {
	return &ExportHandler{exporter: e}
}

// Export streams /api/export/{entity} as a download. Query parameters:
// format (csv|xlsx), from and to (inclusive, YYYY-MM-DD), date_format,
// decimal and a comma separated columns list.
func (h *ExportHandler) Export(w http.ResponseWriter, r *http.Request) {
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
	if !to.IsZero() {
		to = to.AddDate(0, 0, 1)
	}
	q := r.URL.Query()
	opts := export.Options{
		Format:           export.Format(strings.ToLower(q.Get("format"))),
		DateFormat:       q.Get("date_format"),
		DecimalSeparator: q.Get("decimal"),
	}
	if cols := q.Get("columns"); cols != "" {
		for _, c := range strings.Split(cols, ",") {
			if c = strings.TrimSpace(c); c != "" {
				opts.Columns = append(opts.Columns, c)
			}
		}
	}
	f, err := h.exporter.Export(r.Context(), currentUser(r), r.PathValue("entity"), export.Range{From: from, To: to}, opts)
	if err != nil {
		fail(w, r, err)
		return
	}
	attachment(w, f.ContentType, f.Name, f.Data)
}
