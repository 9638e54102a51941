package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// OutboundRecord is one dispatch line of a GDI feed.
type OutboundRecord struct {
	ID             int             `gorm:"primary_key" json:"id"`
	SummaryId      int             `gorm:"not null;index" json:"summary_id"`
	DispatchNumber string          `gorm:"size:50;not null;index" json:"dispatch_number"`
	TicketNumber   string          `gorm:"size:50" json:"ticket_number"`
	Date           time.Time       `gorm:"index" json:"date"`
	Grade          string          `gorm:"size:100;not null" json:"grade"`
	Strategy       string          `gorm:"size:100;not null" json:"strategy"`
	BatchNumber    string          `gorm:"size:100;index" json:"batch_number"`
	Qty            decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// AdjustmentRecord is one line of an STA feed. Qty is signed: negative for
// write-offs (spoilage, shrinkage), positive for found stock.
type AdjustmentRecord struct {
	ID               int             `gorm:"primary_key" json:"id"`
	SummaryId        int             `gorm:"not null;index" json:"summary_id"`
	TicketNumber     string          `gorm:"size:50;not null;index" json:"ticket_number"`
	AdjustmentReason string          `gorm:"size:100" json:"adjustment_reason"`
	Date             time.Time       `gorm:"index" json:"date"`
	Grade            string          `gorm:"size:100;not null" json:"grade"`
	Strategy         string          `gorm:"size:100;not null" json:"strategy"`
	BatchNumber      string          `gorm:"size:100;index" json:"batch_number"`
	Qty              decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// ListOutboundBatchNumbers returns every batch referenced by a dispatch line,
// for the ghost scan.
func ListOutboundBatchNumbers(tx *gorm.DB) ([]OutboundRecord, error) {
	var rows []OutboundRecord
	if err := tx.Where("batch_number <> ''").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
