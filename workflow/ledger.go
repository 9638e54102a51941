// Package workflow is the engine core: it folds normalized feed results into the
// grade/strategy activity ledger, closes summaries against the snapshot and runs
// the ghost/consistency scans. All ledger mutation is staged in memory, validated,
// then persisted in one transaction under the summary posting lock.
package workflow

import (
	"sort"

	"bitbucket.org/mmdatafocus/stockledger_backend/feeds"
	"bitbucket.org/mmdatafocus/stockledger_backend/models"
	"bitbucket.org/mmdatafocus/stockledger_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// BucketDelta is one directional bucket of a source application, carried in both
// the grade view and the strategy view of the same physical movement.
type BucketDelta struct {
	ByGrade    map[string]decimal.Decimal `json:"by_grade"`
	ByStrategy map[string]decimal.Decimal `json:"by_strategy"`
}

func NewBucketDelta() BucketDelta {
	return BucketDelta{
		ByGrade:    map[string]decimal.Decimal{},
		ByStrategy: map[string]decimal.Decimal{},
	}
}

func (b *BucketDelta) Add(grade string, strategy string, qty decimal.Decimal) {
	b.ByGrade[grade] = b.ByGrade[grade].Add(qty)
	b.ByStrategy[strategy] = b.ByStrategy[strategy].Add(qty)
}

func (b BucketDelta) GradeTotal() decimal.Decimal {
	total := decimal.Zero
	for _, qty := range b.ByGrade {
		total = total.Add(qty)
	}
	return total
}

func (b BucketDelta) StrategyTotal() decimal.Decimal {
	total := decimal.Zero
	for _, qty := range b.ByStrategy {
		total = total.Add(qty)
	}
	return total
}

func (b BucketDelta) Empty() bool {
	return len(b.ByGrade) == 0 && len(b.ByStrategy) == 0
}

// Negate returns the reversing bucket, used by force recompute to back out a
// previously applied source.
func (b BucketDelta) Negate() BucketDelta {
	out := NewBucketDelta()
	for grade, qty := range b.ByGrade {
		out.ByGrade[grade] = qty.Neg()
	}
	for strategy, qty := range b.ByStrategy {
		out.ByStrategy[strategy] = qty.Neg()
	}
	return out
}

// LedgerDelta is the staged, validated mutation of one source application. The
// six buckets are what gets folded into the activity rows; the record slices are
// the per-line rows persisted alongside.
type LedgerDelta struct {
	Source models.SourceType `json:"source"`

	Inbound        BucketDelta `json:"inbound"`
	Outbound       BucketDelta `json:"outbound"`
	Adjustment     BucketDelta `json:"adjustment"`
	ToProcessing   BucketDelta `json:"to_processing"`
	FromProcessing BucketDelta `json:"from_processing"`
	LossGain       BucketDelta `json:"loss_gain"`

	MillingLoss        decimal.Decimal `json:"milling_loss"`
	ProcessingLossGain decimal.Decimal `json:"processing_loss_gain"`

	RowCount int             `json:"row_count"`
	TotalQty decimal.Decimal `json:"total_qty"`

	Outbounds   []models.OutboundRecord   `json:"-"`
	Adjustments []models.AdjustmentRecord `json:"-"`
	Processes   []*models.ProcessRecord   `json:"-"`
	Ghosts      []models.GhostBatch       `json:"-"`
	Warnings    []string                  `json:"-"`
}

func NewLedgerDelta(source models.SourceType) *LedgerDelta {
	return &LedgerDelta{
		Source:         source,
		Inbound:        NewBucketDelta(),
		Outbound:       NewBucketDelta(),
		Adjustment:     NewBucketDelta(),
		ToProcessing:   NewBucketDelta(),
		FromProcessing: NewBucketDelta(),
		LossGain:       NewBucketDelta(),
	}
}

// Validate enforces the cross-view conservation invariant: the grade-level and
// strategy-level totals of each bucket describe the same physical movement and
// must net to the same quantity.
func (d *LedgerDelta) Validate() error {
	buckets := []struct {
		name   string
		bucket BucketDelta
	}{
		{"inbound", d.Inbound},
		{"outbound", d.Outbound},
		{"adjustment", d.Adjustment},
		{"to_processing", d.ToProcessing},
		{"from_processing", d.FromProcessing},
		{"loss_gain", d.LossGain},
	}
	for _, b := range buckets {
		diff := b.bucket.GradeTotal().Sub(b.bucket.StrategyTotal())
		if diff.Abs().GreaterThan(models.ConservationEpsilon) {
			return &utils.UnbalancedDeltaError{
				Source: string(d.Source),
				Bucket: b.name,
				Diff:   diff,
			}
		}
	}
	return nil
}

// Negate returns a delta that reverses the six buckets. Record slices are not
// carried over; row reversal is handled separately by the force recompute path.
func (d *LedgerDelta) Negate() *LedgerDelta {
	out := NewLedgerDelta(d.Source)
	out.Inbound = d.Inbound.Negate()
	out.Outbound = d.Outbound.Negate()
	out.Adjustment = d.Adjustment.Negate()
	out.ToProcessing = d.ToProcessing.Negate()
	out.FromProcessing = d.FromProcessing.Negate()
	out.LossGain = d.LossGain.Negate()
	out.MillingLoss = d.MillingLoss.Neg()
	out.ProcessingLossGain = d.ProcessingLossGain.Neg()
	out.RowCount = -d.RowCount
	out.TotalQty = d.TotalQty.Neg()
	return out
}

func ghostsFromLines(source models.SourceType, lines []feeds.GhostLine) []models.GhostBatch {
	out := make([]models.GhostBatch, 0, len(lines))
	for _, line := range lines {
		out = append(out, models.GhostBatch{
			BatchNumber:   line.BatchNumber,
			SourceFeed:    source,
			Grade:         line.Grade,
			InferredQty:   line.Qty,
			Status:        models.GhostBatchStatusCandidate,
			FirstSeenDate: line.Date,
		})
	}
	return out
}

// DeltaFromTransfers folds a normalized STI feed into an inbound delta.
func DeltaFromTransfers(res *feeds.TransferResult) *LedgerDelta {
	d := NewLedgerDelta(models.SourceTypeTransfer)
	for grade, qty := range res.ByGrade {
		d.Inbound.ByGrade[grade] = qty
	}
	for strategy, qty := range res.ByStrategy {
		d.Inbound.ByStrategy[strategy] = qty
	}
	d.RowCount = res.Batches
	d.TotalQty = res.Total
	d.Ghosts = ghostsFromLines(models.SourceTypeTransfer, res.Ghosts)
	d.Warnings = res.Warnings
	return d
}

// DeltaFromAdjustments folds a normalized STA feed into a signed adjustment delta
// plus the per-line AdjustmentRecord rows.
func DeltaFromAdjustments(summaryId int, res *feeds.AdjustmentResult) *LedgerDelta {
	d := NewLedgerDelta(models.SourceTypeAdjustment)
	for grade, qty := range res.ByGrade {
		d.Adjustment.ByGrade[grade] = qty
	}
	for strategy, qty := range res.ByStrategy {
		d.Adjustment.ByStrategy[strategy] = qty
	}
	for _, line := range res.Lines {
		d.Adjustments = append(d.Adjustments, models.AdjustmentRecord{
			SummaryId:        summaryId,
			TicketNumber:     line.TicketNumber,
			AdjustmentReason: line.Reason,
			Date:             line.Date,
			Grade:            line.Grade,
			Strategy:         line.Strategy,
			BatchNumber:      line.BatchNumber,
			Qty:              line.Qty,
		})
	}
	d.RowCount = len(res.Lines)
	d.TotalQty = res.Total
	d.Ghosts = ghostsFromLines(models.SourceTypeAdjustment, res.Ghosts)
	d.Warnings = res.Warnings
	return d
}

// DeltaFromDispatches folds a normalized GDI feed into an outbound delta plus the
// per-line OutboundRecord rows.
func DeltaFromDispatches(summaryId int, res *feeds.DispatchResult) *LedgerDelta {
	d := NewLedgerDelta(models.SourceTypeDispatch)
	for grade, qty := range res.ByGrade {
		d.Outbound.ByGrade[grade] = qty
	}
	for strategy, qty := range res.ByStrategy {
		d.Outbound.ByStrategy[strategy] = qty
	}
	for _, line := range res.Lines {
		d.Outbounds = append(d.Outbounds, models.OutboundRecord{
			SummaryId:      summaryId,
			DispatchNumber: line.DispatchNumber,
			TicketNumber:   line.TicketNumber,
			Date:           line.Date,
			Grade:          line.Grade,
			Strategy:       line.Strategy,
			BatchNumber:    line.BatchNumber,
			Qty:            line.Qty,
		})
	}
	d.RowCount = len(res.Lines)
	d.TotalQty = res.Total
	d.Ghosts = ghostsFromLines(models.SourceTypeDispatch, res.Ghosts)
	d.Warnings = res.Warnings
	return d
}

// DeltaFromProcessing folds a normalized PA feed into to/from-processing deltas.
// A run that fails its mass-balance check is skipped whole with a warning: either
// all of a run's lines fold in, or none do. Unresolved lines (empty strategy) are
// already excluded from the buckets by the normalizer; they still count toward the
// run's declared totals, so a run is never half-applied because of a ghost.
func DeltaFromProcessing(res *feeds.ProcessingResult) *LedgerDelta {
	d := NewLedgerDelta(models.SourceTypeProcessing)
	d.Warnings = append(d.Warnings, res.Warnings...)
	d.Ghosts = ghostsFromLines(models.SourceTypeProcessing, res.Ghosts)

	for _, run := range res.Runs {
		record := &models.ProcessRecord{
			ProcessNumber:      run.ProcessNumber,
			ProcessType:        run.ProcessType,
			IssueDate:          run.IssueDate,
			ProcessingDate:     run.ProcessingDate,
			TotalInputQty:      run.TotalInputQty,
			TotalOutputQty:     run.TotalOutputQty,
			MillingLoss:        run.MillingLoss,
			ProcessingLossGain: run.ProcessingLossGain,
		}
		if err := record.CheckConservation(); err != nil {
			d.Warnings = append(d.Warnings, err.Error()+", run skipped")
			continue
		}

		for _, line := range run.Inputs {
			record.Details = append(record.Details, models.ProcessRecordDetail{
				Direction:   models.ProcessDirectionInput,
				Grade:       line.Grade,
				BatchNumber: line.BatchNumber,
				Strategy:    line.Strategy,
				Qty:         line.Qty,
			})
			if line.Strategy == "" {
				continue
			}
			d.ToProcessing.Add(line.Grade, line.Strategy, line.Qty)
		}
		for _, line := range run.Outputs {
			record.Details = append(record.Details, models.ProcessRecordDetail{
				Direction:   models.ProcessDirectionOutput,
				Grade:       line.Grade,
				BatchNumber: line.BatchNumber,
				Strategy:    line.Strategy,
				Qty:         line.Qty,
			})
			if line.Strategy == "" {
				continue
			}
			d.FromProcessing.Add(line.Grade, line.Strategy, line.Qty)
		}

		d.MillingLoss = d.MillingLoss.Add(run.MillingLoss)
		d.ProcessingLossGain = d.ProcessingLossGain.Add(run.ProcessingLossGain)
		d.TotalQty = d.TotalQty.Add(run.TotalInputQty)
		d.RowCount++
		d.Processes = append(d.Processes, record)
	}
	return d
}

// activityLedger is the in-memory working copy of one summary's activity rows.
// Folding mutates the loaded structs only; nothing touches the database until the
// caller persists inside its transaction.
type activityLedger struct {
	grades     map[string]*models.GradeActivity
	strategies map[string]*models.StrategyActivity
}

func loadLedger(tx *gorm.DB, summaryId int) (*activityLedger, error) {
	var gradeRows []models.GradeActivity
	if err := tx.Where("summary_id = ?", summaryId).Find(&gradeRows).Error; err != nil {
		return nil, err
	}
	var strategyRows []models.StrategyActivity
	if err := tx.Where("summary_id = ?", summaryId).Find(&strategyRows).Error; err != nil {
		return nil, err
	}
	if len(gradeRows) == 0 && len(strategyRows) == 0 {
		return nil, utils.ErrLedgerNotInitialized
	}

	ledger := &activityLedger{
		grades:     make(map[string]*models.GradeActivity, len(gradeRows)),
		strategies: make(map[string]*models.StrategyActivity, len(strategyRows)),
	}
	for i := range gradeRows {
		ledger.grades[gradeRows[i].Grade] = &gradeRows[i]
	}
	for i := range strategyRows {
		ledger.strategies[strategyRows[i].Strategy] = &strategyRows[i]
	}
	return ledger, nil
}

// fold applies every bucket of the delta to the matching activity rows. A key the
// ledger was never initialized with is fatal to the whole source application.
func (l *activityLedger) fold(d *LedgerDelta) error {
	steps := []struct {
		bucket   BucketDelta
		grade    func(*models.GradeActivity) *decimal.Decimal
		strategy func(*models.StrategyActivity) *decimal.Decimal
	}{
		{d.Inbound,
			func(a *models.GradeActivity) *decimal.Decimal { return &a.InboundQty },
			func(a *models.StrategyActivity) *decimal.Decimal { return &a.InboundQty }},
		{d.Outbound,
			func(a *models.GradeActivity) *decimal.Decimal { return &a.OutboundQty },
			func(a *models.StrategyActivity) *decimal.Decimal { return &a.OutboundQty }},
		{d.Adjustment,
			func(a *models.GradeActivity) *decimal.Decimal { return &a.StockAdjustmentQty },
			func(a *models.StrategyActivity) *decimal.Decimal { return &a.StockAdjustmentQty }},
		{d.ToProcessing,
			func(a *models.GradeActivity) *decimal.Decimal { return &a.ToProcessingQty },
			func(a *models.StrategyActivity) *decimal.Decimal { return &a.ToProcessingQty }},
		{d.FromProcessing,
			func(a *models.GradeActivity) *decimal.Decimal { return &a.FromProcessingQty },
			func(a *models.StrategyActivity) *decimal.Decimal { return &a.FromProcessingQty }},
		{d.LossGain,
			func(a *models.GradeActivity) *decimal.Decimal { return &a.LossGainQty },
			func(a *models.StrategyActivity) *decimal.Decimal { return &a.LossGainQty }},
	}

	for _, step := range steps {
		for _, grade := range sortedKeys(step.bucket.ByGrade) {
			row, ok := l.grades[grade]
			if !ok {
				return &utils.UnknownGradeOrStrategyError{Kind: "grade", Key: grade}
			}
			field := step.grade(row)
			*field = field.Add(step.bucket.ByGrade[grade])
		}
		for _, strategy := range sortedKeys(step.bucket.ByStrategy) {
			row, ok := l.strategies[strategy]
			if !ok {
				return &utils.UnknownGradeOrStrategyError{Kind: "strategy", Key: strategy}
			}
			field := step.strategy(row)
			*field = field.Add(step.bucket.ByStrategy[strategy])
		}
	}
	return nil
}

func (l *activityLedger) save(tx *gorm.DB) error {
	for _, grade := range sortedGradeKeys(l.grades) {
		if err := tx.Save(l.grades[grade]).Error; err != nil {
			return err
		}
	}
	for _, strategy := range sortedStrategyKeys(l.strategies) {
		if err := tx.Save(l.strategies[strategy]).Error; err != nil {
			return err
		}
	}
	return nil
}

func sortedKeys(m map[string]decimal.Decimal) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedGradeKeys(m map[string]*models.GradeActivity) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedStrategyKeys(m map[string]*models.StrategyActivity) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
