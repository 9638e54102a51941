package feeds

import (
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/stockledger_backend/models"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const gdiSheet = "GDI"

// DispatchLine is one normalized GDI line, kept for persistence.
type DispatchLine struct {
	Date           time.Time
	DispatchNumber string
	TicketNumber   string
	BatchNumber    string
	Grade          string
	Strategy       string
	Qty            decimal.Decimal
}

// DispatchResult is the normalized GDI (outbound dispatch) feed.
type DispatchResult struct {
	Aggregate
	Lines []DispatchLine
}

// ParseGDI normalizes the dispatch feed, grouped per (dispatch, batch) line.
// Only strictly positive quantities feed the outbound buckets. A line whose batch
// does not resolve is excluded and surfaced as a ghost candidate; the rest of the
// feed still applies.
func ParseGDI(f *excelize.File, sinceDate time.Time, snapshot *models.StockSnapshot) (*DispatchResult, error) {
	rows, err := sheetRows(f, string(models.SourceTypeDispatch), gdiSheet)
	if err != nil {
		return nil, err
	}
	if err := requireColumns(string(models.SourceTypeDispatch), gdiSheet, rows,
		"dispatch date", "dispatch number", "batch number", "grade", "quantity"); err != nil {
		return nil, err
	}

	feed := string(models.SourceTypeDispatch)
	result := &DispatchResult{Aggregate: newAggregate()}

	type lineKey struct {
		dispatch string
		batch    string
	}
	sums := map[lineKey]*DispatchLine{}
	order := []lineKey{}

	for i, row := range tableRows(rows) {
		rowNum := i + 2

		rawDate, ok := row.text("dispatch date")
		if !ok {
			result.warnRow(feed, rowNum, "dispatch date", errMissingValue)
			continue
		}
		date, ok := ParseFeedDate(rawDate)
		if !ok {
			result.warnRow(feed, rowNum, "dispatch date", fmt.Errorf("unparseable value %q, row excluded from filter", rawDate))
			continue
		}
		if !afterCutoff(date, sinceDate) {
			continue
		}

		dispatch, ok := row.text("dispatch number")
		if !ok {
			result.warnRow(feed, rowNum, "dispatch number", errMissingValue)
			continue
		}
		batch, ok := row.text("batch number")
		if !ok {
			result.warnRow(feed, rowNum, "batch number", errMissingValue)
			continue
		}
		grade, ok := row.text("grade")
		if !ok {
			result.warnRow(feed, rowNum, "grade", errMissingValue)
			continue
		}
		qty, err := row.qty("quantity")
		if err != nil {
			result.warnRow(feed, rowNum, "quantity", err)
			continue
		}
		ticket, _ := row.text("ticket number")

		key := lineKey{dispatch: dispatch, batch: batch}
		line, seen := sums[key]
		if !seen {
			line = &DispatchLine{
				Date:           date,
				DispatchNumber: dispatch,
				TicketNumber:   ticket,
				BatchNumber:    batch,
				Grade:          grade,
			}
			sums[key] = line
			order = append(order, key)
		}
		line.Qty = line.Qty.Add(qty)
	}

	for _, key := range order {
		line := sums[key]
		if !line.Qty.IsPositive() {
			continue
		}
		strategy, resolved := snapshot.ResolveStrategy(line.BatchNumber)
		if !resolved {
			result.Ghosts = append(result.Ghosts, GhostLine{
				BatchNumber: line.BatchNumber,
				Grade:       line.Grade,
				Qty:         line.Qty,
				Date:        line.Date,
			})
			continue
		}
		line.Strategy = strategy
		result.add(line.Grade, strategy, line.Qty)
		result.Lines = append(result.Lines, *line)
	}

	return result, nil
}
