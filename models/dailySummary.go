package models

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DailySummary is one row per calendar date. It carries the aggregate movement
// weights folded in so far plus the snapshot totals used to close the day.
//
// The row is created (or fetched) at the start of a processing day and mutated as
// each source feed is applied. It is never auto-deleted; DeleteDailySummary is the
// only removal path and cascades to the activity rows.
type DailySummary struct {
	ID   int       `gorm:"primary_key" json:"id"`
	Date time.Time `gorm:"uniqueIndex;not null" json:"date"`

	TotalInboundQty        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_inbound_qty"`
	TotalOutboundQty       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_outbound_qty"`
	TotalAdjustmentQty     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_adjustment_qty"`
	TotalToProcessingQty   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_to_processing_qty"`
	TotalFromProcessingQty decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_from_processing_qty"`

	// Declared physical loss accumulated from processing runs. Non-conserved:
	// informational, not part of the per-grade conservation formula.
	TotalMillingLossQty        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_milling_loss_qty"`
	TotalProcessingLossGainQty decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_processing_loss_gain_qty"`

	// Snapshot totals recorded when the day is closed.
	SnapshotBlockedQty decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"snapshot_blocked_qty"`
	SnapshotWipQty     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"snapshot_wip_qty"`
	SnapshotClosingQty decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"snapshot_closing_qty"`

	IsClosed *bool `gorm:"not null;default:false" json:"is_closed"`
	// NeedsRecompute is set when a source application failed mid-write. The summary
	// must be re-run with force before it can be closed.
	NeedsRecompute *bool `gorm:"not null;default:false" json:"needs_recompute"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// GetOrCreateDailySummary is idempotent per calendar date: concurrent callers for
// the same date converge on one row.
func GetOrCreateDailySummary(ctx context.Context, db *gorm.DB, date time.Time) (*DailySummary, error) {
	dateOnly := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)

	var summary DailySummary
	err := db.WithContext(ctx).Where("date = ?", dateOnly).First(&summary).Error
	if err == nil {
		return &summary, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	summary = DailySummary{Date: dateOnly}
	if err := db.WithContext(ctx).Create(&summary).Error; err != nil {
		// Lost a create race; the row exists now.
		var existing DailySummary
		if ferr := db.WithContext(ctx).Where("date = ?", dateOnly).First(&existing).Error; ferr == nil {
			return &existing, nil
		}
		return nil, err
	}
	return &summary, nil
}

func GetDailySummaryById(ctx context.Context, db *gorm.DB, id int) (*DailySummary, error) {
	var summary DailySummary
	if err := db.WithContext(ctx).First(&summary, id).Error; err != nil {
		return nil, err
	}
	return &summary, nil
}

func ListDailySummaries(ctx context.Context, db *gorm.DB, from, to time.Time) ([]DailySummary, error) {
	var summaries []DailySummary
	q := db.WithContext(ctx).Model(&DailySummary{}).Order("date")
	if !from.IsZero() {
		q = q.Where("date >= ?", from)
	}
	if !to.IsZero() {
		q = q.Where("date <= ?", to)
	}
	if err := q.Find(&summaries).Error; err != nil {
		return nil, err
	}
	return summaries, nil
}

// DeleteDailySummary removes the summary and everything hanging off it:
// activity rows, applied-source markers and the movement rows of that summary.
func DeleteDailySummary(ctx context.Context, db *gorm.DB, id int) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var summary DailySummary
		if err := tx.First(&summary, id).Error; err != nil {
			return err
		}
		if err := tx.Where("summary_id = ?", id).Delete(&GradeActivity{}).Error; err != nil {
			return err
		}
		if err := tx.Where("summary_id = ?", id).Delete(&StrategyActivity{}).Error; err != nil {
			return err
		}
		if err := tx.Where("summary_id = ?", id).Delete(&AppliedSource{}).Error; err != nil {
			return err
		}
		if err := tx.Where("summary_id = ?", id).Delete(&OutboundRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Where("summary_id = ?", id).Delete(&AdjustmentRecord{}).Error; err != nil {
			return err
		}
		return tx.Delete(&summary).Error
	})
}
