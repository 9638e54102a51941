package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// GhostBatch is a batch_number referenced by a processing-input or dispatch line
// with no corresponding entry in the current snapshot or the trade table. Rows are
// persisted for manual resolution and only removed by explicit operator action.
type GhostBatch struct {
	ID            int              `gorm:"primary_key" json:"id"`
	BatchNumber   string           `gorm:"size:100;not null;uniqueIndex" json:"batch_number"`
	SourceFeed    SourceType       `gorm:"size:10;not null" json:"source_feed"`
	Grade         string           `gorm:"size:100" json:"grade"`
	InferredQty   decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"inferred_qty"`
	Status        GhostBatchStatus `gorm:"size:20;not null;index" json:"status"`
	FirstSeenDate time.Time        `json:"first_seen_date"`
	CorrelationId string           `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

// UnhedgedBatch is the second needs-resolution set: batches present in trades but
// missing a hedge-level allocation.
type UnhedgedBatch struct {
	ID          int             `gorm:"primary_key" json:"id"`
	BatchNumber string          `gorm:"size:100;not null;uniqueIndex" json:"batch_number"`
	Strategy    string          `gorm:"size:100" json:"strategy"`
	Qty         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty"`
	TradeDate   time.Time       `json:"trade_date"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// Absorb merges a fresh observation of the same batch into an existing row.
// A persisted row never demotes back to candidate: the full scan's quantity and
// status stand until a scan or the operator supersedes them, so an upload-time
// candidate sighting only refreshes the correlation id. The earliest non-zero
// FirstSeenDate is kept.
func (g *GhostBatch) Absorb(incoming *GhostBatch) {
	if !incoming.FirstSeenDate.IsZero() &&
		(g.FirstSeenDate.IsZero() || incoming.FirstSeenDate.Before(g.FirstSeenDate)) {
		g.FirstSeenDate = incoming.FirstSeenDate
	}
	if incoming.CorrelationId != "" {
		g.CorrelationId = incoming.CorrelationId
	}
	if g.Status == GhostBatchStatusPersisted && incoming.Status == GhostBatchStatusCandidate {
		return
	}
	g.SourceFeed = incoming.SourceFeed
	g.Grade = incoming.Grade
	g.InferredQty = incoming.InferredQty
	g.Status = incoming.Status
}

// UpsertGhostBatch is idempotent per batch_number: a re-scan refreshes the
// existing row (quantity, status) instead of duplicating it.
func UpsertGhostBatch(tx *gorm.DB, ghost *GhostBatch) error {
	var existing GhostBatch
	err := tx.Where("batch_number = ?", ghost.BatchNumber).First(&existing).Error
	if err == nil {
		existing.Absorb(ghost)
		return tx.Save(&existing).Error
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return tx.Create(ghost).Error
}

func UpsertUnhedgedBatch(tx *gorm.DB, row *UnhedgedBatch) error {
	var existing UnhedgedBatch
	err := tx.Where("batch_number = ?", row.BatchNumber).First(&existing).Error
	if err == nil {
		existing.Strategy = row.Strategy
		existing.Qty = row.Qty
		existing.TradeDate = row.TradeDate
		return tx.Save(&existing).Error
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return tx.Create(row).Error
}

func ListGhostBatches(tx *gorm.DB) ([]GhostBatch, error) {
	var rows []GhostBatch
	if err := tx.Order("batch_number").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// DeleteGhostBatch is the operator-triggered removal path; the engine itself
// never deletes ghost rows.
func DeleteGhostBatch(tx *gorm.DB, batchNumber string) error {
	result := tx.Where("batch_number = ?", batchNumber).Delete(&GhostBatch{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
