// Package importer reads expenses from bank or bookkeeping CSV exports.
// Headers are matched by name, Dutch number and date notations are accepted
// and every row gets its own result so one bad line never blocks the rest.
package importer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/dkortekaas/declair/internal/expenses"
	"github.com/dkortekaas/declair/internal/logger"
	"github.com/dkortekaas/declair/internal/policy"
	"github.com/dkortekaas/declair/validation"
	"github.com/shopspring/decimal"
)

// MaxRows bounds a single import.
const MaxRows = 5000

var (
	ErrEmpty          = errors.New("import file has no rows")
	ErrTooManyRows    = errors.New("import file has too many rows")
	ErrMissingColumns = errors.New("import file lacks required columns")
)

// Fields an expense row can fill.
const (
	FieldDate          = "date"
	FieldSupplier      = "supplier"
	FieldDescription   = "description"
	FieldGrossAmount   = "gross_amount"
	FieldVATRate       = "vat_rate"
	FieldCategory      = "category"
	FieldCurrency      = "currency"
	FieldDeductiblePct = "deductible_pct"
)

var required = []string{FieldDate, FieldSupplier, FieldGrossAmount}

// aliases are the lowercased header names recognized per field.
var aliases = map[string][]string{
	FieldDate:          {"datum", "date", "factuurdatum", "boekdatum"},
	FieldSupplier:      {"leverancier", "supplier", "vendor", "naam", "tegenpartij", "crediteur"},
	FieldDescription:   {"omschrijving", "description", "mededelingen", "notitie"},
	FieldGrossAmount:   {"bedrag incl. btw", "bedrag", "amount", "totaal", "gross_amount", "bedrag (eur)"},
	FieldVATRate:       {"btw-tarief", "btw tarief", "btw %", "btw", "vat_rate", "vat"},
	FieldCategory:      {"categorie", "category", "rubriek"},
	FieldCurrency:      {"valuta", "currency", "munt"},
	FieldDeductiblePct: {"aftrekbaar %", "aftrekbaar", "deductible_pct"},
}

// Mapping assigns a field to a header name. Fields left out are resolved
// through the built-in aliases.
type Mapping map[string]string

// Options control one import run.
type Options struct {
	DryRun  bool
	Mapping Mapping
	// DefaultVATRate is used when the file has no VAT column or an empty cell.
	DefaultVATRate *decimal.Decimal
}

// Row statuses.
const (
	StatusImported = "imported"
	StatusValid    = "valid"
	StatusInvalid  = "invalid"
	StatusSkipped  = "skipped"
	StatusFailed   = "failed"
)

// RowResult is the outcome of one data line. Line counts from 1 at the
// header, the way spreadsheet programs show it.
type RowResult struct {
	Line      int               `json:"line"`
	Status    string            `json:"status"`
	Errors    map[string]string `json:"errors,omitempty"`
	ExpenseID uint              `json:"expense_id,omitempty"`
	Category  string            `json:"category,omitempty"`
	Predicted bool              `json:"predicted,omitempty"`
}

// Report summarizes an import.
type Report struct {
	DryRun   bool              `json:"dry_run"`
	Columns  map[string]string `json:"columns"`
	Total    int               `json:"total"`
	Imported int               `json:"imported"`
	Valid    int               `json:"valid"`
	Invalid  int               `json:"invalid"`
	Skipped  int               `json:"skipped"`
	Failed   int               `json:"failed"`
	Rows     []RowResult       `json:"rows"`
}

func (r *Report) add(row RowResult) {
	r.Rows = append(r.Rows, row)
	switch row.Status {
	case StatusImported:
		r.Imported++
	case StatusValid:
		r.Valid++
	case StatusInvalid:
		r.Invalid++
	case StatusSkipped:
		r.Skipped++
	case StatusFailed:
		r.Failed++
	}
}

type Importer struct {
	expenses *expenses.Service
}

func New(svc *expenses.Service) *Importer {
	return &Importer{expenses: svc}
}

// Expenses reads a CSV from r and creates one expense per valid row. In a
// dry run nothing is stored; rows are validated and the category that would
// be predicted is reported.
func (im *Importer) Expenses(ctx context.Context, userID uint, r io.Reader, o Options) (*Report, error) {
	header, records, err := read(r)
	if err != nil {
		return nil, err
	}
	cols, err := resolve(header, o.Mapping)
	if err != nil {
		return nil, err
	}
	rep := &Report{DryRun: o.DryRun, Columns: make(map[string]string, len(cols)), Total: len(records)}
	for field, idx := range cols {
		rep.Columns[field] = header[idx]
	}

	log := logger.Ctx(ctx)
	for i, rec := range records {
		line := i + 2
		if blank(rec) {
			rep.add(RowResult{Line: line, Status: StatusSkipped})
			continue
		}
		in, v := parseRow(rec, cols, o)
		if v.Empty() {
			v = in.Validate()
		}
		if !v.Empty() {
			rep.add(RowResult{Line: line, Status: StatusInvalid, Errors: v})
			continue
		}
		if o.DryRun {
			row := RowResult{Line: line, Status: StatusValid, Category: in.Category}
			if in.Category == "" {
				row.Category, row.Predicted = im.expenses.Predict(ctx, userID, in.Supplier)
			}
			rep.add(row)
			continue
		}
		e, err := im.expenses.Create(ctx, userID, in)
		var violations validation.Violations
		switch {
		case errors.As(err, &violations):
			rep.add(RowResult{Line: line, Status: StatusInvalid, Errors: violations})
		case err != nil:
			log.Warn().Err(err).Int("line", line).Msg("import row failed")
			rep.add(RowResult{Line: line, Status: StatusFailed, Errors: map[string]string{"row": errorCode(err)}})
		default:
			rep.add(RowResult{Line: line, Status: StatusImported, ExpenseID: e.ID, Category: e.Category, Predicted: e.PredictedCategory != ""})
		}
	}
	log.Info().Uint("user_id", userID).Bool("dry_run", o.DryRun).
		Int("rows", rep.Total).Int("imported", rep.Imported).Int("invalid", rep.Invalid).
		Msg("expense import finished")
	return rep, nil
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, expenses.ErrNoRate):
		return "no_rate"
	case errors.Is(err, policy.ErrFeatureNotAvailable):
		return "feature_not_available"
	}
	return "internal"
}

// read strips a UTF-8 BOM, sniffs the delimiter from the header line and
// returns the header and data records.
func read(r io.Reader) ([]string, [][]string, error) {
	br := bufio.NewReader(r)
	if b, err := br.Peek(3); err == nil && bytes.Equal(b, []byte("\xef\xbb\xbf")) {
		_, _ = br.Discard(3)
	}
	data, err := io.ReadAll(io.LimitReader(br, 16<<20))
	if err != nil {
		return nil, nil, err
	}
	first, _, _ := bytes.Cut(data, []byte("\n"))
	cr := csv.NewReader(bytes.NewReader(data))
	cr.Comma = sniff(string(first))
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	all, err := cr.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(all) < 2 {
		return nil, nil, ErrEmpty
	}
	if len(all)-1 > MaxRows {
		return nil, nil, fmt.Errorf("%w: max %d", ErrTooManyRows, MaxRows)
	}
	return all[0], all[1:], nil
}

func sniff(line string) rune {
	best, count := ',', -1
	for _, c := range []rune{';', ',', '\t'} {
		if n := strings.Count(line, string(c)); n > count {
			best, count = c, n
		}
	}
	return best
}

// resolve maps fields to column indexes. Explicit mappings win over aliases.
func resolve(header []string, m Mapping) (map[string]int, error) {
	index := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		if _, dup := index[key]; !dup {
			index[key] = i
		}
	}
	cols := make(map[string]int)
	for field, names := range aliases {
		if name, ok := m[field]; ok {
			if i, ok := index[strings.ToLower(strings.TrimSpace(name))]; ok {
				cols[field] = i
			}
			continue
		}
		for _, name := range names {
			if i, ok := index[name]; ok {
				cols[field] = i
				break
			}
		}
	}
	var missing []string
	for _, f := range required {
		if _, ok := cols[f]; !ok {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}
	return cols, nil
}

func blank(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func cell(rec []string, cols map[string]int, field string) string {
	i, ok := cols[field]
	if !ok || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func parseRow(rec []string, cols map[string]int, o Options) (expenses.Input, validation.Violations) {
	v := validation.Violations{}
	in := expenses.Input{
		Supplier:    cell(rec, cols, FieldSupplier),
		Description: cell(rec, cols, FieldDescription),
		Category:    cell(rec, cols, FieldCategory),
		Currency:    strings.ToUpper(cell(rec, cols, FieldCurrency)),
	}
	if d, ok := ParseDate(cell(rec, cols, FieldDate)); ok {
		in.Date = d.Format(time.DateOnly)
	} else {
		v.Add(FieldDate, "invalid_date")
	}
	if amt, err := ParseAmount(cell(rec, cols, FieldGrossAmount)); err == nil {
		in.GrossAmount = amt.Abs()
	} else {
		v.Add(FieldGrossAmount, "invalid_amount")
	}
	in.VATRate = decimal.NewFromInt(21)
	if o.DefaultVATRate != nil {
		in.VATRate = *o.DefaultVATRate
	}
	if s := strings.TrimSuffix(cell(rec, cols, FieldVATRate), "%"); s != "" {
		if rate, err := ParseAmount(s); err == nil {
			in.VATRate = rate
		} else {
			v.Add(FieldVATRate, "invalid_vat_rate")
		}
	}
	if s := strings.TrimSuffix(cell(rec, cols, FieldDeductiblePct), "%"); s != "" {
		if pct, err := ParseAmount(s); err == nil {
			in.DeductiblePct = &pct
		} else {
			v.Add(FieldDeductiblePct, "out_of_range")
		}
	}
	return in, v
}

var currencyNoise = regexp.MustCompile(`[€$£\s]|EUR|USD|GBP`)

// ParseAmount reads "1.234,56", "1234,56", "1,234.56", "45.99" and "€ -12,50".
// The separator that appears last is taken as the decimal mark.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = currencyNoise.ReplaceAllString(strings.TrimSpace(s), "")
	if s == "" {
		return decimal.Zero, errors.New("empty amount")
	}
	comma, dot := strings.LastIndex(s, ","), strings.LastIndex(s, ".")
	switch {
	case comma > dot:
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	case dot > comma && comma >= 0:
		s = strings.ReplaceAll(s, ",", "")
	case dot >= 0 && strings.Count(s, ".") > 1:
		s = strings.ReplaceAll(s, ".", "")
	}
	return decimal.NewFromString(s)
}

var dateLayouts = []string{"02-01-2006", "2-1-2006", "2006-01-02", "02/01/2006", "2/1/2006", "02.01.2006", "20060102"}

// ParseDate accepts the Dutch day-first notations and ISO dates.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, l := range dateLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
