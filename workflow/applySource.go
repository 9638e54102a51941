package workflow

import (
	"context"
	"encoding/json"
	"errors"

	"bitbucket.org/mmdatafocus/stockledger_backend/config"
	"bitbucket.org/mmdatafocus/stockledger_backend/models"
	"bitbucket.org/mmdatafocus/stockledger_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const moduleName = "workflow"

// ApplyOptions carries the caller's flags for one source application.
type ApplyOptions struct {
	// Force allows re-applying an already-applied source (the previous application
	// is reversed from its stored delta first) and posting to a closed summary.
	Force         bool
	CorrelationId string
}

// ApplyResult is returned to the boundary on a successful application.
type ApplyResult struct {
	Source          models.SourceType `json:"source"`
	SummaryId       int               `json:"summary_id"`
	RowCount        int               `json:"row_count"`
	TotalQty        string            `json:"total_qty"`
	GhostCandidates int               `json:"ghost_candidates"`
	Warnings        []string          `json:"warnings,omitempty"`
}

// ApplySource folds one staged LedgerDelta into a summary's activity ledger.
//
// All-or-nothing per source: the activity mutations, the per-line movement rows,
// the process-record upserts, the ghost candidates and the applied-source marker
// commit in one transaction. Validation failures roll everything back and leave
// the summary in its prior state. Serialization is two-layered: a best-effort
// redis lock sheds contention early, the MySQL advisory lock inside the
// transaction is the hard guarantee.
func ApplySource(ctx context.Context, db *gorm.DB, summary *models.DailySummary, delta *LedgerDelta, opts ApplyOptions) (*ApplyResult, error) {
	logger := config.GetLogger()

	if summary.IsClosed != nil && *summary.IsClosed && !opts.Force {
		return nil, utils.ErrSummaryClosed
	}
	if err := delta.Validate(); err != nil {
		return nil, err
	}

	release, err := utils.SummaryLock(ctx, summary.ID, moduleName, "ApplySource")
	if err != nil {
		return nil, err
	}
	defer release()

	wasClosed := summary.IsClosed != nil && *summary.IsClosed

	// The advisory lock is acquired on a pinned connection wrapping the whole
	// transaction, so it is still held when COMMIT runs. Releasing inside the
	// transaction closure would open a window where a second request reads the
	// activity rows before this one's commit lands.
	err = db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		if err := AcquireSummaryPostingLock(conn, summary.ID); err != nil {
			return err
		}
		defer ReleaseSummaryPostingLock(conn, summary.ID)

		return conn.Transaction(func(tx *gorm.DB) error {
			marker, err := models.GetAppliedSource(tx, summary.ID, delta.Source)
			if err != nil {
				return err
			}
			if marker != nil && !opts.Force {
				return utils.ErrSourceAlreadyApplied
			}

			ledger, err := loadLedger(tx, summary.ID)
			if err != nil {
				return err
			}

			if marker != nil {
				if err := reverseApplication(tx, summary, ledger, marker); err != nil {
					return err
				}
			}
			if wasClosed {
				reopenForPosting(summary, ledger)
			}

			if err := ledger.fold(delta); err != nil {
				return err
			}
			if err := ledger.save(tx); err != nil {
				return err
			}
			if err := persistMovements(tx, delta); err != nil {
				return err
			}
			if err := persistGhostCandidates(tx, delta, opts.CorrelationId); err != nil {
				return err
			}

			applyToSummary(summary, delta)
			summary.NeedsRecompute = utils.NewFalse()
			if err := tx.Save(summary).Error; err != nil {
				return err
			}

			deltaJson, err := json.Marshal(delta)
			if err != nil {
				return err
			}
			return models.MarkSourceApplied(tx, summary.ID, delta.Source, delta.RowCount, delta.TotalQty, opts.CorrelationId, deltaJson)
		})
	})
	if err != nil {
		if !errors.Is(err, utils.ErrSourceAlreadyApplied) && !errors.Is(err, utils.ErrConcurrentUpdate) {
			config.LogError(logger, moduleName, "ApplySource", "Source application failed", map[string]interface{}{
				"summary_id": summary.ID,
				"source":     delta.Source,
			}, err)
		}
		return nil, err
	}

	for _, warning := range delta.Warnings {
		logger.WithField("summary_id", summary.ID).WithField("source", delta.Source).Warn(warning)
	}

	return &ApplyResult{
		Source:          delta.Source,
		SummaryId:       summary.ID,
		RowCount:        delta.RowCount,
		TotalQty:        delta.TotalQty.String(),
		GhostCandidates: len(delta.Ghosts),
		Warnings:        delta.Warnings,
	}, nil
}

// reverseApplication backs out a previously applied source: the stored bucket
// delta is negated and folded, the source's movement rows are deleted, the
// summary totals are walked back and the marker removed. Process records are
// natural-key upserts shared across summaries, so re-applying overwrites them
// and no reversal is needed there.
func reverseApplication(tx *gorm.DB, summary *models.DailySummary, ledger *activityLedger, marker *models.AppliedSource) error {
	if len(marker.DeltaJson) > 0 {
		var stored LedgerDelta
		if err := json.Unmarshal(marker.DeltaJson, &stored); err != nil {
			return err
		}
		reversed := stored.Negate()
		if err := ledger.fold(reversed); err != nil {
			return err
		}
		applyToSummary(summary, reversed)
	}

	switch marker.SourceType {
	case models.SourceTypeAdjustment:
		if err := tx.Where("summary_id = ?", summary.ID).Delete(&models.AdjustmentRecord{}).Error; err != nil {
			return err
		}
	case models.SourceTypeDispatch:
		if err := tx.Where("summary_id = ?", summary.ID).Delete(&models.OutboundRecord{}).Error; err != nil {
			return err
		}
	}

	return models.ClearSourceApplied(tx, summary.ID, marker.SourceType)
}

func persistMovements(tx *gorm.DB, delta *LedgerDelta) error {
	for i := range delta.Outbounds {
		if err := tx.Create(&delta.Outbounds[i]).Error; err != nil {
			return err
		}
	}
	for i := range delta.Adjustments {
		if err := tx.Create(&delta.Adjustments[i]).Error; err != nil {
			return err
		}
	}
	for _, record := range delta.Processes {
		if err := models.UpsertProcessRecord(tx, record); err != nil {
			return err
		}
	}
	return nil
}

func persistGhostCandidates(tx *gorm.DB, delta *LedgerDelta, correlationId string) error {
	for i := range delta.Ghosts {
		ghost := delta.Ghosts[i]
		ghost.CorrelationId = correlationId
		if err := models.UpsertGhostBatch(tx, &ghost); err != nil {
			return err
		}
	}
	return nil
}

// reopenForPosting clears a prior close before a forced application: the day
// reopens and the reconciliation fields reset, so a superseded close is never
// served as final. The next CloseSummary recomputes them against a fresh snapshot.
func reopenForPosting(summary *models.DailySummary, ledger *activityLedger) {
	for _, row := range ledger.grades {
		row.XbsClosingStock = decimal.Zero
		row.RegradeDiscrepancy = decimal.Zero
	}
	for _, row := range ledger.strategies {
		row.XbsClosingStock = decimal.Zero
		row.RegradeDiscrepancy = decimal.Zero
	}
	summary.SnapshotBlockedQty = decimal.Zero
	summary.SnapshotWipQty = decimal.Zero
	summary.SnapshotClosingQty = decimal.Zero
	summary.IsClosed = utils.NewFalse()
}

func applyToSummary(summary *models.DailySummary, delta *LedgerDelta) {
	summary.TotalInboundQty = summary.TotalInboundQty.Add(delta.Inbound.GradeTotal())
	summary.TotalOutboundQty = summary.TotalOutboundQty.Add(delta.Outbound.GradeTotal())
	summary.TotalAdjustmentQty = summary.TotalAdjustmentQty.Add(delta.Adjustment.GradeTotal())
	summary.TotalToProcessingQty = summary.TotalToProcessingQty.Add(delta.ToProcessing.GradeTotal())
	summary.TotalFromProcessingQty = summary.TotalFromProcessingQty.Add(delta.FromProcessing.GradeTotal())
	summary.TotalMillingLossQty = summary.TotalMillingLossQty.Add(delta.MillingLoss)
	summary.TotalProcessingLossGainQty = summary.TotalProcessingLossGainQty.Add(delta.ProcessingLossGain)
}

// FlagNeedsRecompute marks a summary whose write failed mid-way. Best effort,
// outside any transaction; the flag blocks closing until a recompute.
func FlagNeedsRecompute(ctx context.Context, db *gorm.DB, summaryId int) {
	logger := config.GetLogger()
	err := db.WithContext(ctx).Model(&models.DailySummary{}).
		Where("id = ?", summaryId).
		Update("needs_recompute", true).Error
	if err != nil {
		config.LogError(logger, moduleName, "FlagNeedsRecompute", "Could not flag summary", summaryId, err)
	}
}
