package models

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/stockledger_backend/config"
	"github.com/shopspring/decimal"
)

// SnapshotBatch is one batch line of the XBS report.
type SnapshotBatch struct {
	Grade    string          `json:"grade"`
	Strategy string          `json:"strategy"`
	Qty      decimal.Decimal `json:"qty"`
}

// StockSnapshot is the parsed XBS report: the authoritative closing-balance
// reference and the batch -> strategy resolution table for one processing day.
//
// It is derived data, regenerated whole on every XBS upload and never merged with
// a prior snapshot. It is not a gorm table: it lives in redis (keyed by summary id)
// for the duration of the day's uploads, with an in-process fallback when redis
// is unavailable.
type StockSnapshot struct {
	AsOf time.Time `json:"as_of"`

	BlockedForProcessingQty decimal.Decimal `json:"blocked_for_processing_qty"`
	WorkInProgressQty       decimal.Decimal `json:"work_in_progress_qty"`
	TotalClosingQty         decimal.Decimal `json:"total_closing_qty"`

	GradeBalances    map[string]decimal.Decimal `json:"grade_balances"`
	StrategyBalances map[string]decimal.Decimal `json:"strategy_balances"`
	Batches          map[string]SnapshotBatch   `json:"batches"`
}

// ResolveStrategy maps a batch_number to its strategy as of upload time.
// The second return is false for batches the snapshot does not know — those are
// ghost candidates, never silently defaulted.
func (s *StockSnapshot) ResolveStrategy(batchNumber string) (string, bool) {
	b, ok := s.Batches[batchNumber]
	if !ok {
		return "", false
	}
	return b.Strategy, true
}

// Grades returns the known grades in deterministic order.
func (s *StockSnapshot) Grades() []string {
	keys := make([]string, 0, len(s.GradeBalances))
	for g := range s.GradeBalances {
		keys = append(keys, g)
	}
	sort.Strings(keys)
	return keys
}

// Strategies returns the known strategies in deterministic order.
func (s *StockSnapshot) Strategies() []string {
	keys := make([]string, 0, len(s.StrategyBalances))
	for st := range s.StrategyBalances {
		keys = append(keys, st)
	}
	sort.Strings(keys)
	return keys
}

// In-process fallback cache so a redis outage does not break a day mid-upload.
var (
	snapshotCacheMu sync.RWMutex
	snapshotCache   = map[int]*StockSnapshot{}
)

func snapshotKey(summaryId int) string {
	return fmt.Sprintf("Snapshot:%d", summaryId)
}

// CacheSnapshot stores the snapshot for later feed uploads of the same summary.
func CacheSnapshot(summaryId int, snapshot *StockSnapshot) error {
	snapshotCacheMu.Lock()
	snapshotCache[summaryId] = snapshot
	snapshotCacheMu.Unlock()

	return config.SetRedisObject(snapshotKey(summaryId), snapshot, 48*time.Hour)
}

// LoadSnapshot fetches the snapshot for a summary; ok is false when no XBS report
// has been uploaded for it yet.
func LoadSnapshot(summaryId int) (*StockSnapshot, bool, error) {
	var snapshot StockSnapshot
	found, err := config.GetRedisObject(snapshotKey(summaryId), &snapshot)
	if err == nil && found {
		return &snapshot, true, nil
	}

	snapshotCacheMu.RLock()
	cached, ok := snapshotCache[summaryId]
	snapshotCacheMu.RUnlock()
	if ok {
		return cached, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	return nil, false, nil
}

// DropSnapshot removes the cached snapshot (summary deletion).
func DropSnapshot(summaryId int) {
	snapshotCacheMu.Lock()
	delete(snapshotCache, summaryId)
	snapshotCacheMu.Unlock()
	_ = config.DeleteRedisKey(snapshotKey(summaryId))
}
