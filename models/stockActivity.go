package models

import (
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/stockledger_backend/config"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// GradeActivity is one row per (summary_id, grade) for a given date.
//
// Invariant: opening_qty + inbound_qty + from_processing_qty - to_processing_qty
// - outbound_qty + stock_adjustment_qty + loss_gain_qty
// == xbs_closing_stock + regrade_discrepancy.
// The discrepancy absorbs measurement/reporting error; a large value is a
// data-quality signal, recorded but never silently corrected.
type GradeActivity struct {
	ID        int    `gorm:"primary_key" json:"id"`
	SummaryId int    `gorm:"not null;index:uniq_grade_activity,unique" json:"summary_id"`
	Grade     string `gorm:"size:100;not null;index:uniq_grade_activity,unique" json:"grade"`

	OpeningQty         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"opening_qty"`
	InboundQty         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"inbound_qty"`
	OutboundQty        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"outbound_qty"`
	ToProcessingQty    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"to_processing_qty"`
	FromProcessingQty  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"from_processing_qty"`
	StockAdjustmentQty decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"stock_adjustment_qty"`
	LossGainQty        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"loss_gain_qty"`
	XbsClosingStock    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"xbs_closing_stock"`
	RegradeDiscrepancy decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"regrade_discrepancy"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// StrategyActivity is the strategy-level view of the same physical movement,
// one row per (summary_id, strategy). Same conservation invariant as GradeActivity.
type StrategyActivity struct {
	ID        int    `gorm:"primary_key" json:"id"`
	SummaryId int    `gorm:"not null;index:uniq_strategy_activity,unique" json:"summary_id"`
	Strategy  string `gorm:"size:100;not null;index:uniq_strategy_activity,unique" json:"strategy"`

	OpeningQty         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"opening_qty"`
	InboundQty         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"inbound_qty"`
	OutboundQty        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"outbound_qty"`
	ToProcessingQty    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"to_processing_qty"`
	FromProcessingQty  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"from_processing_qty"`
	StockAdjustmentQty decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"stock_adjustment_qty"`
	LossGainQty        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"loss_gain_qty"`
	XbsClosingStock    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"xbs_closing_stock"`
	RegradeDiscrepancy decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"regrade_discrepancy"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// ComputedClosing derives the ledger-side closing balance from the conservation formula.
func (a *GradeActivity) ComputedClosing() decimal.Decimal {
	return a.OpeningQty.
		Add(a.InboundQty).
		Add(a.FromProcessingQty).
		Sub(a.ToProcessingQty).
		Sub(a.OutboundQty).
		Add(a.StockAdjustmentQty).
		Add(a.LossGainQty)
}

func (a *StrategyActivity) ComputedClosing() decimal.Decimal {
	return a.OpeningQty.
		Add(a.InboundQty).
		Add(a.FromProcessingQty).
		Sub(a.ToProcessingQty).
		Sub(a.OutboundQty).
		Add(a.StockAdjustmentQty).
		Add(a.LossGainQty)
}

// InitializeActivities creates one activity row per grade and per strategy present
// in the snapshot, all quantity fields zero except opening_qty.
//
// Opening policy (config.OpeningBalancePolicy):
//   - snapshot:   opening_qty is the snapshot's per-grade / per-strategy balance
//   - continuity: opening_qty is the prior day's computed closing for the same key;
//     the snapshot balance is used only when no prior activity row exists
//
// Calling it again for an already-initialized summary is a no-op: the ledger must
// be fully initialized exactly once before any source is processed.
func InitializeActivities(tx *gorm.DB, summary *DailySummary, snapshot *StockSnapshot) error {
	if summary == nil || snapshot == nil {
		return errors.New("summary and snapshot are required")
	}

	var existing int64
	if err := tx.Model(&GradeActivity{}).Where("summary_id = ?", summary.ID).Count(&existing).Error; err != nil {
		return err
	}
	if existing > 0 {
		return nil
	}

	policy := config.OpeningBalancePolicy()

	priorGrades := map[string]decimal.Decimal{}
	priorStrategies := map[string]decimal.Decimal{}
	if policy == config.OpeningBalanceContinuity {
		prior, err := priorDaySummary(tx, summary.Date)
		if err != nil {
			return err
		}
		if prior != nil {
			var rows []GradeActivity
			if err := tx.Where("summary_id = ?", prior.ID).Find(&rows).Error; err != nil {
				return err
			}
			for i := range rows {
				priorGrades[rows[i].Grade] = rows[i].ComputedClosing()
			}
			var srows []StrategyActivity
			if err := tx.Where("summary_id = ?", prior.ID).Find(&srows).Error; err != nil {
				return err
			}
			for i := range srows {
				priorStrategies[srows[i].Strategy] = srows[i].ComputedClosing()
			}
		}
	}

	for _, grade := range snapshot.Grades() {
		opening := snapshot.GradeBalances[grade]
		if policy == config.OpeningBalanceContinuity {
			if prior, ok := priorGrades[grade]; ok {
				opening = prior
			}
		}
		row := GradeActivity{SummaryId: summary.ID, Grade: grade, OpeningQty: opening}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
	}
	for _, strategy := range snapshot.Strategies() {
		opening := snapshot.StrategyBalances[strategy]
		if policy == config.OpeningBalanceContinuity {
			if prior, ok := priorStrategies[strategy]; ok {
				opening = prior
			}
		}
		row := StrategyActivity{SummaryId: summary.ID, Strategy: strategy, OpeningQty: opening}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
	}
	return nil
}

func priorDaySummary(tx *gorm.DB, date time.Time) (*DailySummary, error) {
	var prior DailySummary
	err := tx.Where("date < ?", date).Order("date DESC").First(&prior).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &prior, nil
}
