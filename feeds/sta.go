package feeds

import (
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/stockledger_backend/models"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const staSheet = "STA"

// AdjustmentLine is one normalized STA line, kept for persistence.
type AdjustmentLine struct {
	Date         time.Time
	TicketNumber string
	Reason       string
	BatchNumber  string
	Grade        string
	Strategy     string
	Qty          decimal.Decimal // signed
}

// AdjustmentResult is the normalized STA (stock adjustment) feed.
// Unlike the additive feeds, adjustment quantities keep their sign: negative for
// write-offs, positive for found stock.
type AdjustmentResult struct {
	Aggregate
	Lines []AdjustmentLine
}

// ParseSTA normalizes the adjustment feed, grouped per (ticket, batch) line.
func ParseSTA(f *excelize.File, sinceDate time.Time, snapshot *models.StockSnapshot) (*AdjustmentResult, error) {
	rows, err := sheetRows(f, string(models.SourceTypeAdjustment), staSheet)
	if err != nil {
		return nil, err
	}
	if err := requireColumns(string(models.SourceTypeAdjustment), staSheet, rows,
		"adjustment date", "ticket number", "batch number", "grade", "quantity"); err != nil {
		return nil, err
	}

	feed := string(models.SourceTypeAdjustment)
	result := &AdjustmentResult{Aggregate: newAggregate()}

	for i, row := range tableRows(rows) {
		rowNum := i + 2

		rawDate, ok := row.text("adjustment date")
		if !ok {
			result.warnRow(feed, rowNum, "adjustment date", errMissingValue)
			continue
		}
		date, ok := ParseFeedDate(rawDate)
		if !ok {
			result.warnRow(feed, rowNum, "adjustment date", fmt.Errorf("unparseable value %q, row excluded from filter", rawDate))
			continue
		}
		if !afterCutoff(date, sinceDate) {
			continue
		}

		ticket, ok := row.text("ticket number")
		if !ok {
			result.warnRow(feed, rowNum, "ticket number", errMissingValue)
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
		if qty.IsZero() {
			continue
		}
		reason, _ := row.text("reason")

		strategy, resolved := snapshot.ResolveStrategy(batch)
		if !resolved {
			result.Ghosts = append(result.Ghosts, GhostLine{
				BatchNumber: batch,
				Grade:       grade,
				Qty:         qty,
				Date:        date,
			})
			continue
		}

		result.add(grade, strategy, qty)
		result.Lines = append(result.Lines, AdjustmentLine{
			Date:         date,
			TicketNumber: ticket,
			Reason:       reason,
			BatchNumber:  batch,
			Grade:        grade,
			Strategy:     strategy,
			Qty:          qty,
		})
	}

	return result, nil
}
