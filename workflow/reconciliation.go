package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"bitbucket.org/mmdatafocus/stockledger_backend/config"
	"bitbucket.org/mmdatafocus/stockledger_backend/models"
	"bitbucket.org/mmdatafocus/stockledger_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Discrepancy is one per-key reconciliation line: snapshot closing vs the
// ledger's computed closing, the difference recorded as regrade discrepancy.
type Discrepancy struct {
	Kind            string          `json:"kind"` // "grade" or "strategy"
	Key             string          `json:"key"`
	XbsClosing      decimal.Decimal `json:"xbs_closing"`
	ComputedClosing decimal.Decimal `json:"computed_closing"`
	Discrepancy     decimal.Decimal `json:"discrepancy"`
}

// CloseResult is the outcome of closing a summary. Over-tolerance discrepancies
// are surfaced as warnings, never errors: the day still closes.
type CloseResult struct {
	SummaryId     int             `json:"summary_id"`
	Discrepancies []Discrepancy   `json:"discrepancies"`
	ClosingQty    decimal.Decimal `json:"closing_qty"`
	Warnings      []string        `json:"warnings,omitempty"`
}

// CloseSummary reconciles every activity row against the snapshot's closing
// balances and finalizes the day.
//
// For each grade and strategy: regrade_discrepancy = xbs_closing - computed
// closing per the conservation formula. The discrepancy is recorded, never
// explained or corrected here. A key over the configured tolerance produces a
// warning in the result.
func CloseSummary(ctx context.Context, db *gorm.DB, summary *models.DailySummary, snapshot *models.StockSnapshot) (*CloseResult, error) {
	if summary.NeedsRecompute != nil && *summary.NeedsRecompute {
		return nil, utils.ErrRecomputeRequired
	}

	release, err := utils.SummaryLock(ctx, summary.ID, moduleName, "CloseSummary")
	if err != nil {
		return nil, err
	}
	defer release()

	tolerance := config.DiscrepancyTolerance()
	result := &CloseResult{SummaryId: summary.ID}

	// Lock on the pinned connection so it spans the commit, not just the closure.
	err = db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		if err := AcquireSummaryPostingLock(conn, summary.ID); err != nil {
			return err
		}
		defer ReleaseSummaryPostingLock(conn, summary.ID)

		return conn.Transaction(func(tx *gorm.DB) error {
			ledger, err := loadLedger(tx, summary.ID)
			if err != nil {
				return err
			}

			for _, grade := range sortedGradeKeys(ledger.grades) {
				row := ledger.grades[grade]
				xbs := snapshot.GradeBalances[grade]
				computed := row.ComputedClosing()
				disc := xbs.Sub(computed)

				row.XbsClosingStock = xbs
				row.RegradeDiscrepancy = disc
				result.Discrepancies = append(result.Discrepancies, Discrepancy{
					Kind: "grade", Key: grade,
					XbsClosing: xbs, ComputedClosing: computed, Discrepancy: disc,
				})
				if disc.Abs().GreaterThan(tolerance) {
					result.Warnings = append(result.Warnings,
						fmt.Sprintf("grade %s: discrepancy %s exceeds tolerance %s", grade, disc, tolerance))
				}
			}
			for _, strategy := range sortedStrategyKeys(ledger.strategies) {
				row := ledger.strategies[strategy]
				xbs := snapshot.StrategyBalances[strategy]
				computed := row.ComputedClosing()
				disc := xbs.Sub(computed)

				row.XbsClosingStock = xbs
				row.RegradeDiscrepancy = disc
				result.Discrepancies = append(result.Discrepancies, Discrepancy{
					Kind: "strategy", Key: strategy,
					XbsClosing: xbs, ComputedClosing: computed, Discrepancy: disc,
				})
				if disc.Abs().GreaterThan(tolerance) {
					result.Warnings = append(result.Warnings,
						fmt.Sprintf("strategy %s: discrepancy %s exceeds tolerance %s", strategy, disc, tolerance))
				}
			}

			// Keys that appeared in the closing snapshot but were never initialized on
			// the ledger: their balance is unaccounted for, surfaced but not fatal.
			for _, grade := range snapshot.Grades() {
				if _, ok := ledger.grades[grade]; !ok {
					result.Warnings = append(result.Warnings,
						fmt.Sprintf("grade %s: present in snapshot (%s) but missing from ledger", grade, snapshot.GradeBalances[grade]))
				}
			}
			for _, strategy := range snapshot.Strategies() {
				if _, ok := ledger.strategies[strategy]; !ok {
					result.Warnings = append(result.Warnings,
						fmt.Sprintf("strategy %s: present in snapshot (%s) but missing from ledger", strategy, snapshot.StrategyBalances[strategy]))
				}
			}

			if err := ledger.save(tx); err != nil {
				return err
			}

			summary.SnapshotBlockedQty = snapshot.BlockedForProcessingQty
			summary.SnapshotWipQty = snapshot.WorkInProgressQty
			summary.SnapshotClosingQty = snapshot.TotalClosingQty
			summary.IsClosed = utils.NewTrue()
			return tx.Save(summary).Error
		})
	})
	if err != nil {
		return nil, err
	}

	logger := config.GetLogger()
	for _, warning := range result.Warnings {
		logger.WithField("summary_id", summary.ID).Warn(warning)
	}
	result.ClosingQty = snapshot.TotalClosingQty
	return result, nil
}

// RecomputeSummary rebuilds a summary's ledger from its stored source deltas.
//
// Every movement field of every activity row is zeroed (opening balances are
// kept), then each applied source's stored delta is re-folded in source order and
// the summary totals recalculated. Clears needs_recompute and reopens the day;
// a fresh close is required afterwards.
func RecomputeSummary(ctx context.Context, db *gorm.DB, summary *models.DailySummary) error {
	release, err := utils.SummaryLock(ctx, summary.ID, moduleName, "RecomputeSummary")
	if err != nil {
		return err
	}
	defer release()

	return db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		if err := AcquireSummaryPostingLock(conn, summary.ID); err != nil {
			return err
		}
		defer ReleaseSummaryPostingLock(conn, summary.ID)

		return conn.Transaction(func(tx *gorm.DB) error {
			ledger, err := loadLedger(tx, summary.ID)
			if err != nil {
				return err
			}
			for _, row := range ledger.grades {
				row.InboundQty = decimal.Zero
				row.OutboundQty = decimal.Zero
				row.ToProcessingQty = decimal.Zero
				row.FromProcessingQty = decimal.Zero
				row.StockAdjustmentQty = decimal.Zero
				row.LossGainQty = decimal.Zero
				row.XbsClosingStock = decimal.Zero
				row.RegradeDiscrepancy = decimal.Zero
			}
			for _, row := range ledger.strategies {
				row.InboundQty = decimal.Zero
				row.OutboundQty = decimal.Zero
				row.ToProcessingQty = decimal.Zero
				row.FromProcessingQty = decimal.Zero
				row.StockAdjustmentQty = decimal.Zero
				row.LossGainQty = decimal.Zero
				row.XbsClosingStock = decimal.Zero
				row.RegradeDiscrepancy = decimal.Zero
			}

			markers, err := models.ListAppliedSources(tx, summary.ID)
			if err != nil {
				return err
			}
			sort.Slice(markers, func(i, j int) bool { return markers[i].CreatedAt.Before(markers[j].CreatedAt) })

			summary.TotalInboundQty = decimal.Zero
			summary.TotalOutboundQty = decimal.Zero
			summary.TotalAdjustmentQty = decimal.Zero
			summary.TotalToProcessingQty = decimal.Zero
			summary.TotalFromProcessingQty = decimal.Zero
			summary.TotalMillingLossQty = decimal.Zero
			summary.TotalProcessingLossGainQty = decimal.Zero

			for _, marker := range markers {
				if len(marker.DeltaJson) == 0 {
					continue
				}
				var stored LedgerDelta
				if err := json.Unmarshal(marker.DeltaJson, &stored); err != nil {
					return err
				}
				if err := ledger.fold(&stored); err != nil {
					return err
				}
				applyToSummary(summary, &stored)
			}

			if err := ledger.save(tx); err != nil {
				return err
			}

			summary.IsClosed = utils.NewFalse()
			summary.NeedsRecompute = utils.NewFalse()
			return tx.Save(summary).Error
		})
	})
}
