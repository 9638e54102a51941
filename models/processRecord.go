package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ConservationEpsilon is the tolerance for the processing-run mass balance:
// sum(inputs) == sum(outputs) + milling_loss + processing_loss_gain.
var ConservationEpsilon = decimal.NewFromFloat(0.01)

// ProcessRecord is one processing/milling run. process_number is the natural key;
// re-ingesting the same number updates the run instead of duplicating it.
type ProcessRecord struct {
	ID             int       `gorm:"primary_key" json:"id"`
	ProcessNumber  string    `gorm:"size:50;not null;uniqueIndex" json:"process_number"`
	ProcessType    string    `gorm:"size:50" json:"process_type"`
	IssueDate      time.Time `json:"issue_date"`
	ProcessingDate time.Time `gorm:"index" json:"processing_date"`

	TotalInputQty  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_input_qty"`
	TotalOutputQty decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_output_qty"`
	// MillingLoss and ProcessingLossGain are real physical loss/gain declared by the
	// mill, not balancing errors. They are accumulated on the daily summary as
	// non-conserved totals; the activity rows carry the mass through
	// to_processing/from_processing only.
	MillingLoss        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"milling_loss"`
	ProcessingLossGain decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"processing_loss_gain"`

	Details []ProcessRecordDetail `gorm:"foreignKey:ProcessRecordId" json:"details"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// ProcessRecordDetail is one input or output line of a run: a (grade, batch,
// strategy, qty) tuple. Input lines debit to_processing on their grade/strategy;
// output lines credit from_processing.
type ProcessRecordDetail struct {
	ID              int              `gorm:"primary_key" json:"id"`
	ProcessRecordId int              `gorm:"not null;index" json:"process_record_id"`
	Direction       ProcessDirection `gorm:"type:enum('I','O');not null" json:"direction"`
	Grade           string           `gorm:"size:100;not null;index" json:"grade"`
	BatchNumber     string           `gorm:"size:100;index" json:"batch_number"`
	Strategy        string           `gorm:"size:100;index" json:"strategy"`
	Qty             decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"qty"`
}

// CheckConservation verifies the declared loss fields reconcile the run within
// ConservationEpsilon.
func (p *ProcessRecord) CheckConservation() error {
	diff := p.TotalInputQty.Sub(p.TotalOutputQty).Sub(p.MillingLoss).Sub(p.ProcessingLossGain)
	if diff.Abs().GreaterThan(ConservationEpsilon) {
		return fmt.Errorf("process %s does not conserve: inputs %s, outputs %s, milling loss %s, loss/gain %s (residual %s)",
			p.ProcessNumber, p.TotalInputQty, p.TotalOutputQty, p.MillingLoss, p.ProcessingLossGain, diff)
	}
	return nil
}

// UpsertProcessRecord makes re-ingestion of a process_number idempotent: an
// existing run is updated in place and its detail lines replaced.
func UpsertProcessRecord(tx *gorm.DB, record *ProcessRecord) error {
	var existing ProcessRecord
	err := tx.Where("process_number = ?", record.ProcessNumber).First(&existing).Error
	if err == nil {
		record.ID = existing.ID
		record.CreatedAt = existing.CreatedAt
		if err := tx.Where("process_record_id = ?", existing.ID).Delete(&ProcessRecordDetail{}).Error; err != nil {
			return err
		}
		for i := range record.Details {
			record.Details[i].ID = 0
			record.Details[i].ProcessRecordId = existing.ID
		}
		return tx.Save(record).Error
	}
	if err != gorm.ErrRecordNotFound {
		return err
	}
	return tx.Create(record).Error
}

// ListProcessInputDetails returns every input line of every run, for the ghost scan.
func ListProcessInputDetails(tx *gorm.DB) ([]ProcessRecordDetail, error) {
	var details []ProcessRecordDetail
	err := tx.Where("direction = ?", ProcessDirectionInput).Find(&details).Error
	if err != nil {
		return nil, err
	}
	return details, nil
}
