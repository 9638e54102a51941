package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TradeBatch is the trade/purchase table: the authoritative record that a batch
// was bought into a strategy. A batch referenced by a feed but absent from here
// and from the current snapshot is a ghost. HedgeNumber empty means the trade has
// no hedge-level allocation yet.
type TradeBatch struct {
	ID          int             `gorm:"primary_key" json:"id"`
	BatchNumber string          `gorm:"size:100;not null;uniqueIndex" json:"batch_number"`
	Grade       string          `gorm:"size:100;not null;index" json:"grade"`
	Strategy    string          `gorm:"size:100;not null;index" json:"strategy"`
	Qty         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty"`
	HedgeNumber string          `gorm:"size:50;index" json:"hedge_number"`
	TradeDate   time.Time       `gorm:"index" json:"trade_date"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// KnownTradeBatchNumbers returns the set of batch numbers present in the trade table.
func KnownTradeBatchNumbers(tx *gorm.DB) (map[string]struct{}, error) {
	var numbers []string
	if err := tx.Model(&TradeBatch{}).Pluck("batch_number", &numbers).Error; err != nil {
		return nil, err
	}
	known := make(map[string]struct{}, len(numbers))
	for _, n := range numbers {
		known[n] = struct{}{}
	}
	return known, nil
}

// ListUnhedgedTradeBatches returns trades missing a hedge allocation.
func ListUnhedgedTradeBatches(tx *gorm.DB) ([]TradeBatch, error) {
	var rows []TradeBatch
	if err := tx.Where("hedge_number = ''").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
