package workflow

import (
	"context"
	"sort"
	"time"

	"bitbucket.org/mmdatafocus/stockledger_backend/config"
	"bitbucket.org/mmdatafocus/stockledger_backend/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// BatchRef is one historical batch reference from a processing-input or dispatch
// line, fed to the ghost scan.
type BatchRef struct {
	BatchNumber string
	Grade       string
	Qty         decimal.Decimal
	Source      models.SourceType
	Date        time.Time
}

// CollectGhostCandidates is the pure core of the scan: every referenced batch
// absent from the known set yields exactly one ghost row, quantities summed
// across references, first seen date kept. Deterministic order by batch number,
// so running the scan twice yields the same set.
func CollectGhostCandidates(refs []BatchRef, known map[string]struct{}) []models.GhostBatch {
	byBatch := map[string]*models.GhostBatch{}
	order := []string{}

	for _, ref := range refs {
		if ref.BatchNumber == "" {
			continue
		}
		if _, ok := known[ref.BatchNumber]; ok {
			continue
		}
		ghost, seen := byBatch[ref.BatchNumber]
		if !seen {
			ghost = &models.GhostBatch{
				BatchNumber:   ref.BatchNumber,
				SourceFeed:    ref.Source,
				Grade:         ref.Grade,
				Status:        models.GhostBatchStatusPersisted,
				FirstSeenDate: ref.Date,
			}
			byBatch[ref.BatchNumber] = ghost
			order = append(order, ref.BatchNumber)
		}
		ghost.InferredQty = ghost.InferredQty.Add(ref.Qty)
		if !ref.Date.IsZero() && (ghost.FirstSeenDate.IsZero() || ref.Date.Before(ghost.FirstSeenDate)) {
			ghost.FirstSeenDate = ref.Date
		}
	}

	sort.Strings(order)
	out := make([]models.GhostBatch, 0, len(order))
	for _, batch := range order {
		out = append(out, *byBatch[batch])
	}
	return out
}

// GhostScanResult is the outcome of a full historical ghost scan.
type GhostScanResult struct {
	ReferencesScanned int                 `json:"references_scanned"`
	Ghosts            []models.GhostBatch `json:"ghosts"`
}

// DetectGhostBatches runs the full scan: every batch referenced by a stored
// processing-input or dispatch line is checked against the current snapshot and
// the trade table. Misses are upserted as PERSISTED ghost rows, idempotently.
//
// The scan is read-mostly over historical data and writes only the ghost table,
// so it runs concurrently with daily processing without taking the summary lock.
// snapshot may be nil when no current-stock report has been uploaded yet; the
// trade table alone then defines the known set.
func DetectGhostBatches(ctx context.Context, db *gorm.DB, snapshot *models.StockSnapshot, correlationId string) (*GhostScanResult, error) {
	logger := config.GetLogger()
	tx := db.WithContext(ctx)

	known, err := models.KnownTradeBatchNumbers(tx)
	if err != nil {
		return nil, err
	}
	if snapshot != nil {
		for batch := range snapshot.Batches {
			known[batch] = struct{}{}
		}
	}

	var refs []BatchRef
	inputs, err := models.ListProcessInputDetails(tx)
	if err != nil {
		return nil, err
	}
	for _, line := range inputs {
		refs = append(refs, BatchRef{
			BatchNumber: line.BatchNumber,
			Grade:       line.Grade,
			Qty:         line.Qty,
			Source:      models.SourceTypeProcessing,
		})
	}
	dispatches, err := models.ListOutboundBatchNumbers(tx)
	if err != nil {
		return nil, err
	}
	for _, line := range dispatches {
		refs = append(refs, BatchRef{
			BatchNumber: line.BatchNumber,
			Grade:       line.Grade,
			Qty:         line.Qty,
			Source:      models.SourceTypeDispatch,
			Date:        line.Date,
		})
	}

	ghosts := CollectGhostCandidates(refs, known)
	for i := range ghosts {
		ghosts[i].CorrelationId = correlationId
		if err := models.UpsertGhostBatch(tx, &ghosts[i]); err != nil {
			return nil, err
		}
	}

	logger.WithField("references", len(refs)).WithField("ghosts", len(ghosts)).Info("Ghost scan complete")
	return &GhostScanResult{ReferencesScanned: len(refs), Ghosts: ghosts}, nil
}

// DetectUnhedgedBatches refreshes the second needs-resolution set: trades whose
// hedge allocation is still missing. Idempotent per batch number.
func DetectUnhedgedBatches(ctx context.Context, db *gorm.DB) ([]models.UnhedgedBatch, error) {
	tx := db.WithContext(ctx)

	trades, err := models.ListUnhedgedTradeBatches(tx)
	if err != nil {
		return nil, err
	}

	out := make([]models.UnhedgedBatch, 0, len(trades))
	for _, trade := range trades {
		row := models.UnhedgedBatch{
			BatchNumber: trade.BatchNumber,
			Strategy:    trade.Strategy,
			Qty:         trade.Qty,
			TradeDate:   trade.TradeDate,
		}
		if err := models.UpsertUnhedgedBatch(tx, &row); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}
