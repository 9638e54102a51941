package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// AppliedSource records that a source feed has been folded into a summary.
// Unique constraint: (summary_id, source_type). The engine refuses a second
// application of the same source without an explicit force-recompute.
type AppliedSource struct {
	ID            int             `gorm:"primary_key" json:"id"`
	SummaryId     int             `gorm:"not null;index:uniq_applied_source,unique" json:"summary_id"`
	SourceType    SourceType      `gorm:"size:10;not null;index:uniq_applied_source,unique" json:"source_type"`
	RowCount      int             `gorm:"not null;default:0" json:"row_count"`
	TotalQty      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_qty"`
	CorrelationId string          `gorm:"size:64;index" json:"correlation_id"`
	// DeltaJson is the bucketed ledger delta that was folded in, kept so a force
	// recompute can reverse this application exactly.
	DeltaJson []byte    `gorm:"type:json" json:"-"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func MarkSourceApplied(tx *gorm.DB, summaryId int, sourceType SourceType, rowCount int, totalQty decimal.Decimal, correlationId string, deltaJson []byte) error {
	marker := AppliedSource{
		SummaryId:     summaryId,
		SourceType:    sourceType,
		RowCount:      rowCount,
		TotalQty:      totalQty,
		CorrelationId: correlationId,
		DeltaJson:     deltaJson,
	}
	return tx.Create(&marker).Error
}

func GetAppliedSource(tx *gorm.DB, summaryId int, sourceType SourceType) (*AppliedSource, error) {
	var marker AppliedSource
	err := tx.Where("summary_id = ? AND source_type = ?", summaryId, sourceType).First(&marker).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &marker, nil
}

func ListAppliedSources(tx *gorm.DB, summaryId int) ([]AppliedSource, error) {
	var markers []AppliedSource
	if err := tx.Where("summary_id = ?", summaryId).Order("source_type").Find(&markers).Error; err != nil {
		return nil, err
	}
	return markers, nil
}

// ClearSourceApplied removes the marker so a force recompute can reapply the source.
func ClearSourceApplied(tx *gorm.DB, summaryId int, sourceType SourceType) error {
	return tx.Where("summary_id = ? AND source_type = ?", summaryId, sourceType).Delete(&AppliedSource{}).Error
}
