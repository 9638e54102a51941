package feeds

import (
	"time"

	"bitbucket.org/mmdatafocus/stockledger_backend/models"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const xbsSheet = "XBS"

// XBSResult wraps the parsed snapshot together with absorbed row warnings.
type XBSResult struct {
	Snapshot *models.StockSnapshot
	Warnings []string
}

// ParseXBS parses the current-stock report into a StockSnapshot. The report is a
// point-in-time balance, so there is no date filter; every upload regenerates the
// snapshot whole. Per-grade and per-strategy closing balances include every line;
// BLOCKED and WIP lines are additionally totalled into their own fields.
func ParseXBS(f *excelize.File, asOf time.Time) (*XBSResult, error) {
	rows, err := sheetRows(f, string(models.SourceTypeSnapshot), xbsSheet)
	if err != nil {
		return nil, err
	}
	if err := requireColumns(string(models.SourceTypeSnapshot), xbsSheet, rows,
		"batch number", "grade", "strategy", "quantity"); err != nil {
		return nil, err
	}

	feed := string(models.SourceTypeSnapshot)
	result := &XBSResult{
		Snapshot: &models.StockSnapshot{
			AsOf:             asOf,
			GradeBalances:    map[string]decimal.Decimal{},
			StrategyBalances: map[string]decimal.Decimal{},
			Batches:          map[string]models.SnapshotBatch{},
		},
	}
	snap := result.Snapshot

	for i, row := range tableRows(rows) {
		rowNum := i + 2

		batch, ok := row.text("batch number")
		if !ok {
			result.Warnings = append(result.Warnings, rowWarning(feed, rowNum, "batch number", errMissingValue))
			continue
		}
		grade, ok := row.text("grade")
		if !ok {
			result.Warnings = append(result.Warnings, rowWarning(feed, rowNum, "grade", errMissingValue))
			continue
		}
		strategy, ok := row.text("strategy")
		if !ok {
			result.Warnings = append(result.Warnings, rowWarning(feed, rowNum, "strategy", errMissingValue))
			continue
		}
		qty, err := row.qty("quantity")
		if err != nil {
			result.Warnings = append(result.Warnings, rowWarning(feed, rowNum, "quantity", err))
			continue
		}

		snap.GradeBalances[grade] = snap.GradeBalances[grade].Add(qty)
		snap.StrategyBalances[strategy] = snap.StrategyBalances[strategy].Add(qty)
		snap.TotalClosingQty = snap.TotalClosingQty.Add(qty)

		rawStatus, _ := row.text("status")
		switch models.ParseBatchStockStatus(rawStatus) {
		case models.BatchStockStatusBlocked:
			snap.BlockedForProcessingQty = snap.BlockedForProcessingQty.Add(qty)
		case models.BatchStockStatusWip:
			snap.WorkInProgressQty = snap.WorkInProgressQty.Add(qty)
		}

		if existing, seen := snap.Batches[batch]; seen {
			existing.Qty = existing.Qty.Add(qty)
			snap.Batches[batch] = existing
		} else {
			snap.Batches[batch] = models.SnapshotBatch{
				Grade:    grade,
				Strategy: strategy,
				Qty:      qty,
			}
		}
	}

	return result, nil
}
