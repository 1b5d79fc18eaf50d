// Package export writes invoices, expenses and time entries as CSV or XLSX
// with Dutch defaults: dd-MM-yyyy dates and decimal commas.
package export

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// Date formats accepted in Options.
const (
	DateDutch = "dd-MM-yyyy"
	DateISO   = "yyyy-MM-dd"
)

var (
	ErrUnknownEntity = errors.New("unknown export entity")
	ErrUnknownColumn = errors.New("unknown export column")
	ErrInvalidOption = errors.New("invalid export option")
)

var layouts = map[string]string{
	DateDutch: "02-01-2006",
	DateISO:   "2006-01-02",
}

// Options select the output. Empty fields take the Dutch defaults and all
// columns of the entity.
type Options struct {
	Format           Format
	DateFormat       string
	DecimalSeparator string
	Columns          []string
}

func (o Options) withDefaults() (Options, error) {
	if o.Format == "" {
		o.Format = FormatCSV
	}
	if o.Format != FormatCSV && o.Format != FormatXLSX {
		return o, fmt.Errorf("%w: format %q", ErrInvalidOption, o.Format)
	}
	if o.DateFormat == "" {
		o.DateFormat = DateDutch
	}
	if _, ok := layouts[o.DateFormat]; !ok {
		return o, fmt.Errorf("%w: date format %q", ErrInvalidOption, o.DateFormat)
	}
	if o.DecimalSeparator == "" {
		o.DecimalSeparator = ","
	}
	if o.DecimalSeparator != "," && o.DecimalSeparator != "." {
		return o, fmt.Errorf("%w: decimal separator %q", ErrInvalidOption, o.DecimalSeparator)
	}
	return o, nil
}

// Sanitize neutralizes spreadsheet formulas: a cell starting with = + - @
// tab or carriage return is prefixed with a single quote.
func Sanitize(s string) string {
	if s == "" {
		return s
	}
	switch s[0] {
	case '=', '+', '-', '@', '\t', '\r':
		return "'" + s
	}
	return s
}

// Column is one selectable field of T.
type Column[T any] struct {
	Key    string
	Header string
	Value  func(T) any
}

// Table is the selected columns of a list of rows, values still typed.
type Table struct {
	Headers []string
	Rows    [][]any
}

// Build projects items onto the columns named in keys, or all columns when
// keys is empty.
func Build[T any](cols []Column[T], keys []string, items []T) (Table, error) {
	selected := cols
	if len(keys) > 0 {
		byKey := make(map[string]Column[T], len(cols))
		for _, c := range cols {
			byKey[c.Key] = c
		}
		selected = make([]Column[T], 0, len(keys))
		for _, k := range keys {
			c, ok := byKey[strings.TrimSpace(k)]
			if !ok {
				return Table{}, fmt.Errorf("%w: %q", ErrUnknownColumn, k)
			}
			selected = append(selected, c)
		}
	}
	t := Table{Headers: make([]string, len(selected)), Rows: make([][]any, len(items))}
	for i, c := range selected {
		t.Headers[i] = c.Header
	}
	for r, item := range items {
		row := make([]any, len(selected))
		for i, c := range selected {
			row[i] = c.Value(item)
		}
		t.Rows[r] = row
	}
	return t, nil
}

// Cell renders v as text. Strings are sanitized; numbers, dates and
// booleans pass through their formatting unchanged.
func Cell(v any, o Options) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return Sanitize(x)
	case time.Time:
		if x.IsZero() {
			return ""
		}
		return x.Format(layouts[o.DateFormat])
	case *time.Time:
		if x == nil {
			return ""
		}
		return Cell(*x, o)
	case decimal.Decimal:
		s := x.StringFixed(2)
		if o.DecimalSeparator == "," {
			s = strings.Replace(s, ".", ",", 1)
		}
		return s
	case bool:
		if x {
			return "ja"
		}
		return "nee"
	default:
		return fmt.Sprint(x)
	}
}

// Write encodes t in the requested format and returns its content type.
func Write(t Table, o Options) ([]byte, string, error) {
	o, err := o.withDefaults()
	if err != nil {
		return nil, "", err
	}
	if o.Format == FormatXLSX {
		b, err := writeXLSX(t, o)
		return b, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", err
	}
	b, err := writeCSV(t, o)
	return b, "text/csv; charset=utf-8", err
}

// writeCSV separates fields with ';' when decimals use a comma. Output
// starts with a UTF-8 BOM for Excel.
func writeCSV(t Table, o Options) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("\ufeff")
	w := csv.NewWriter(&buf)
	if o.DecimalSeparator == "," {
		w.Comma = ';'
	}
	headers := make([]string, len(t.Headers))
	for i, h := range t.Headers {
		headers[i] = Sanitize(h)
	}
	if err := w.Write(headers); err != nil {
		return nil, err
	}
	record := make([]string, len(t.Headers))
	for _, row := range t.Rows {
		for i, v := range row {
			record[i] = Cell(v, o)
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

const sheet = "Export"

// writeXLSX stores amounts as numeric cells with a two decimal format.
func writeXLSX(t Table, o Options) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return nil, err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}
	amount, err := f.NewStyle(&excelize.Style{NumFmt: 4})
	if err != nil {
		return nil, err
	}

	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return nil, err
	}
	header := make([]any, len(t.Headers))
	for i, h := range t.Headers {
		header[i] = excelize.Cell{StyleID: bold, Value: Sanitize(h)}
	}
	if err := sw.SetRow("A1", header); err != nil {
		return nil, err
	}
	for r, row := range t.Rows {
		cells := make([]any, len(row))
		for i, v := range row {
			switch x := v.(type) {
			case decimal.Decimal:
				cells[i] = excelize.Cell{StyleID: amount, Value: x.InexactFloat64()}
			case int, int64, uint:
				cells[i] = x
			default:
				cells[i] = Cell(v, o)
			}
		}
		ref, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return nil, err
		}
		if err := sw.SetRow(ref, cells); err != nil {
			return nil, err
		}
	}
	if err := sw.Flush(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
