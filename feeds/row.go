// Package feeds normalizes the operator-uploaded spreadsheet feeds (STI, STA,
// PA, GDI, XBS) into typed, date-filtered, aggregated domain records.
//
// Every parser follows the same contract: locate the expected sheet by name
// (SchemaError when absent), decode rows through a permissive header-mapped
// intermediate, filter to rows strictly after sinceDate, group by the feed's
// natural key and sum quantities, resolve strategies against the snapshot passed
// in explicitly. Rows with missing or unparseable fields are skipped with a
// warning, never fatal; an empty result set is a valid day, not an error.
package feeds

import (
	"errors"
	"fmt"
	"strings"

	"bitbucket.org/mmdatafocus/stockledger_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// Row is the permissive intermediate record: canonical header name -> raw cell
// string. Missing and extra columns are tolerated; validation happens per field.
type Row map[string]string

// sheetRows fetches the named sheet. A missing sheet is a SchemaError (fatal to
// the upload); an existing-but-empty sheet returns zero rows, which normalizers
// treat as an empty aggregate.
func sheetRows(f *excelize.File, feed string, sheet string) ([][]string, error) {
	idx, err := f.GetSheetIndex(sheet)
	if err != nil || idx < 0 {
		return nil, &utils.SchemaError{Feed: feed, Sheet: sheet, Cause: err}
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, &utils.SchemaError{Feed: feed, Sheet: sheet, Cause: err}
	}
	return rows, nil
}

// canonical lower-cases a header cell and collapses internal whitespace, so
// "Batch  Number " and "batch number" address the same column.
func canonical(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// tableRows maps every data row through the header row into Row records.
func tableRows(rows [][]string) []Row {
	if len(rows) < 2 {
		return nil
	}
	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = canonical(h)
	}

	out := make([]Row, 0, len(rows)-1)
	for _, raw := range rows[1:] {
		row := Row{}
		for i, cell := range raw {
			if i >= len(header) || header[i] == "" {
				continue
			}
			row[header[i]] = strings.TrimSpace(cell)
		}
		out = append(out, row)
	}
	return out
}

// requireColumns fails with a SchemaError when an expected column is absent from
// a non-empty sheet.
func requireColumns(feed string, sheet string, rows [][]string, cols ...string) error {
	if len(rows) == 0 {
		return nil
	}
	present := map[string]bool{}
	for _, h := range rows[0] {
		present[canonical(h)] = true
	}
	for _, col := range cols {
		if !present[col] {
			return &utils.SchemaError{Feed: feed, Sheet: sheet, Cause: fmt.Errorf("missing column %q", col)}
		}
	}
	return nil
}

var errMissingValue = errors.New("missing value, row skipped")

// rowWarning renders one skipped row as a utils.ParseError so every normalizer
// reports the same shape.
func rowWarning(feed string, row int, field string, cause error) string {
	return (&utils.ParseError{Feed: feed, Row: row, Field: field, Cause: cause}).Error()
}

func (r Row) text(col string) (string, bool) {
	v, ok := r[col]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (r Row) qty(col string) (decimal.Decimal, error) {
	v, ok := r[col]
	if !ok || v == "" {
		return decimal.Zero, fmt.Errorf("missing %q", col)
	}
	return utils.ParseDecimal(v)
}

// qtyOrZero is for optional numeric columns (declared loss fields).
func (r Row) qtyOrZero(col string) decimal.Decimal {
	v, ok := r[col]
	if !ok || v == "" {
		return decimal.Zero
	}
	d, err := utils.ParseDecimal(v)
	if err != nil {
		return decimal.Zero
	}
	return d
}
