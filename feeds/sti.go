package feeds

import (
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/stockledger_backend/models"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const stiSheet = "STI"

// TransferResult is the normalized STI (stock transfer inbound) feed.
type TransferResult struct {
	Aggregate
	// Batches counts the aggregated batch groups that fed the inbound buckets;
	// the application reports it as the source's row count.
	Batches int
}

// ParseSTI normalizes the transfer feed. Rows are grouped by batch number, sums
// accumulated per batch, and only strictly positive batch totals feed the inbound
// buckets — zero and negative values are dropped from directional aggregation by
// business rule. Strategies resolve through the snapshot's batch table.
func ParseSTI(f *excelize.File, sinceDate time.Time, snapshot *models.StockSnapshot) (*TransferResult, error) {
	rows, err := sheetRows(f, string(models.SourceTypeTransfer), stiSheet)
	if err != nil {
		return nil, err
	}
	if err := requireColumns(string(models.SourceTypeTransfer), stiSheet, rows,
		"transfer date", "transfer number", "batch number", "grade", "quantity"); err != nil {
		return nil, err
	}

	feed := string(models.SourceTypeTransfer)
	result := &TransferResult{Aggregate: newAggregate()}

	type batchSum struct {
		grade string
		date  time.Time
		qty   decimal.Decimal
	}
	sums := map[string]*batchSum{}
	order := []string{}

	for i, row := range tableRows(rows) {
		rowNum := i + 2

		rawDate, ok := row.text("transfer date")
		if !ok {
			result.warnRow(feed, rowNum, "transfer date", errMissingValue)
			continue
		}
		date, ok := ParseFeedDate(rawDate)
		if !ok {
			result.warnRow(feed, rowNum, "transfer date", fmt.Errorf("unparseable value %q, row excluded from filter", rawDate))
			continue
		}
		if !afterCutoff(date, sinceDate) {
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

		s, seen := sums[batch]
		if !seen {
			s = &batchSum{grade: grade, date: date}
			sums[batch] = s
			order = append(order, batch)
		}
		s.qty = s.qty.Add(qty)
	}

	for _, batch := range order {
		s := sums[batch]
		if !s.qty.IsPositive() {
			continue
		}
		strategy, ok := snapshot.ResolveStrategy(batch)
		if !ok {
			result.Ghosts = append(result.Ghosts, GhostLine{
				BatchNumber: batch,
				Grade:       s.grade,
				Qty:         s.qty,
				Date:        s.date,
			})
			continue
		}
		result.add(s.grade, strategy, s.qty)
		result.Batches++
	}

	return result, nil
}
