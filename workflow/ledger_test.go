package workflow

// These tests are intentionally DB-free. They validate the staging semantics:
// cross-view conservation, all-or-nothing run folding, unknown-key rejection and
// exact reversal. DB-backed application is covered by integration tests in an
// environment that can run MySQL.

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/stockledger_backend/feeds"
	"bitbucket.org/mmdatafocus/stockledger_backend/models"
	"bitbucket.org/mmdatafocus/stockledger_backend/utils"
	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testLedger() *activityLedger {
	return &activityLedger{
		grades: map[string]*models.GradeActivity{
			"GradeA": {Grade: "GradeA", OpeningQty: dec("500")},
			"GradeB": {Grade: "GradeB", OpeningQty: dec("200")},
		},
		strategies: map[string]*models.StrategyActivity{
			"S1": {Strategy: "S1", OpeningQty: dec("400")},
			"S2": {Strategy: "S2", OpeningQty: dec("300")},
		},
	}
}

func TestValidateRejectsUnbalancedBucket(t *testing.T) {
	d := NewLedgerDelta(models.SourceTypeTransfer)
	d.Inbound.ByGrade["GradeA"] = dec("100")
	d.Inbound.ByStrategy["S1"] = dec("90")

	err := d.Validate()
	var unbalanced *utils.UnbalancedDeltaError
	if !errors.As(err, &unbalanced) {
		t.Fatalf("expected UnbalancedDeltaError, got %v", err)
	}
	if unbalanced.Bucket != "inbound" {
		t.Fatalf("wrong bucket: %s", unbalanced.Bucket)
	}
}

func TestValidateAcceptsBalancedDelta(t *testing.T) {
	d := NewLedgerDelta(models.SourceTypeTransfer)
	d.Inbound.Add("GradeA", "S1", dec("100"))
	d.Inbound.Add("GradeB", "S1", dec("40"))
	if err := d.Validate(); err != nil {
		t.Fatalf("balanced delta rejected: %v", err)
	}
}

func TestFoldUnknownKeyIsFatal(t *testing.T) {
	d := NewLedgerDelta(models.SourceTypeTransfer)
	d.Inbound.Add("GradeX", "S1", dec("10"))

	err := testLedger().fold(d)
	var unknown *utils.UnknownGradeOrStrategyError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownGradeOrStrategyError, got %v", err)
	}
	if unknown.Kind != "grade" || unknown.Key != "GradeX" {
		t.Fatalf("wrong key: %+v", unknown)
	}
}

func TestFoldProcessingRunKeepsConservation(t *testing.T) {
	// Inputs 100 of GradeA/S1, outputs 90 of GradeB/S1, milling loss 10.
	d := NewLedgerDelta(models.SourceTypeProcessing)
	d.ToProcessing.Add("GradeA", "S1", dec("100"))
	d.FromProcessing.Add("GradeB", "S1", dec("90"))
	d.MillingLoss = dec("10")

	ledger := testLedger()
	if err := ledger.fold(d); err != nil {
		t.Fatalf("fold: %v", err)
	}

	if got := ledger.grades["GradeA"].ToProcessingQty; !got.Equal(dec("100")) {
		t.Fatalf("GradeA to_processing: got %s", got)
	}
	if got := ledger.grades["GradeB"].FromProcessingQty; !got.Equal(dec("90")) {
		t.Fatalf("GradeB from_processing: got %s", got)
	}
	if got := ledger.strategies["S1"].ToProcessingQty; !got.Equal(dec("100")) {
		t.Fatalf("S1 to_processing: got %s", got)
	}
	if got := ledger.strategies["S1"].FromProcessingQty; !got.Equal(dec("90")) {
		t.Fatalf("S1 from_processing: got %s", got)
	}

	// Computed closings track the physical movement: S1 nets -10 (the lost mass).
	if got := ledger.strategies["S1"].ComputedClosing(); !got.Equal(dec("390")) {
		t.Fatalf("S1 computed closing: got %s, want 390", got)
	}
	if got := ledger.grades["GradeA"].ComputedClosing(); !got.Equal(dec("400")) {
		t.Fatalf("GradeA computed closing: got %s, want 400", got)
	}
	if got := ledger.grades["GradeB"].ComputedClosing(); !got.Equal(dec("290")) {
		t.Fatalf("GradeB computed closing: got %s, want 290", got)
	}
}

func TestNegatedFoldReversesExactly(t *testing.T) {
	d := NewLedgerDelta(models.SourceTypeAdjustment)
	d.Adjustment.Add("GradeA", "S1", dec("-50"))
	d.Adjustment.Add("GradeB", "S2", dec("12.5"))

	ledger := testLedger()
	if err := ledger.fold(d); err != nil {
		t.Fatalf("fold: %v", err)
	}
	if err := ledger.fold(d.Negate()); err != nil {
		t.Fatalf("fold negated: %v", err)
	}

	for grade, row := range ledger.grades {
		if !row.StockAdjustmentQty.IsZero() {
			t.Fatalf("grade %s adjustment not reversed: %s", grade, row.StockAdjustmentQty)
		}
	}
	for strategy, row := range ledger.strategies {
		if !row.StockAdjustmentQty.IsZero() {
			t.Fatalf("strategy %s adjustment not reversed: %s", strategy, row.StockAdjustmentQty)
		}
	}
}

func TestDeltaRoundTripsThroughJson(t *testing.T) {
	d := NewLedgerDelta(models.SourceTypeDispatch)
	d.Outbound.Add("GradeA", "S1", dec("33.25"))
	d.TotalQty = dec("33.25")
	d.RowCount = 1

	raw, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back LedgerDelta
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !back.Outbound.ByGrade["GradeA"].Equal(dec("33.25")) {
		t.Fatalf("bucket lost in round trip: %+v", back.Outbound)
	}
	if back.Source != models.SourceTypeDispatch || back.RowCount != 1 {
		t.Fatalf("metadata lost in round trip: %+v", back)
	}
}

func TestDeltaFromProcessingSkipsNonConservingRun(t *testing.T) {
	day := time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC)
	res := &feeds.ProcessingResult{
		Runs: []feeds.ProcessRun{
			{
				ProcessNumber:  "1001",
				ProcessingDate: day,
				Inputs:         []feeds.ProcessLine{{Direction: models.ProcessDirectionInput, Grade: "GradeA", BatchNumber: "B100", Strategy: "S1", Qty: dec("100")}},
				Outputs:        []feeds.ProcessLine{{Direction: models.ProcessDirectionOutput, Grade: "GradeB", BatchNumber: "B300", Strategy: "S1", Qty: dec("90")}},
				MillingLoss:    dec("10"),
				TotalInputQty:  dec("100"),
				TotalOutputQty: dec("90"),
			},
			{
				// Declares no loss but is 25 short: skipped whole.
				ProcessNumber:  "1002",
				ProcessingDate: day,
				Inputs:         []feeds.ProcessLine{{Direction: models.ProcessDirectionInput, Grade: "GradeA", BatchNumber: "B101", Strategy: "S2", Qty: dec("100")}},
				Outputs:        []feeds.ProcessLine{{Direction: models.ProcessDirectionOutput, Grade: "GradeB", BatchNumber: "B301", Strategy: "S2", Qty: dec("75")}},
				TotalInputQty:  dec("100"),
				TotalOutputQty: dec("75"),
			},
		},
	}

	d := DeltaFromProcessing(res)
	if len(d.Processes) != 1 || d.Processes[0].ProcessNumber != "1001" {
		t.Fatalf("non-conserving run must be skipped: %+v", d.Processes)
	}
	if !d.ToProcessing.ByGrade["GradeA"].Equal(dec("100")) {
		t.Fatalf("to_processing: %+v", d.ToProcessing.ByGrade)
	}
	if _, ok := d.ToProcessing.ByStrategy["S2"]; ok {
		t.Fatal("skipped run leaked into the buckets")
	}
	if len(d.Warnings) == 0 {
		t.Fatal("skipped run must leave a warning")
	}
	if !d.MillingLoss.Equal(dec("10")) {
		t.Fatalf("milling loss: got %s", d.MillingLoss)
	}
}

func TestDeltaFromProcessingExcludesUnresolvedLinesFromBuckets(t *testing.T) {
	day := time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC)
	res := &feeds.ProcessingResult{
		Runs: []feeds.ProcessRun{
			{
				ProcessNumber:  "2002",
				ProcessingDate: day,
				Inputs: []feeds.ProcessLine{
					{Direction: models.ProcessDirectionInput, Grade: "GradeA", BatchNumber: "B100", Strategy: "S1", Qty: dec("60")},
					{Direction: models.ProcessDirectionInput, Grade: "GradeA", BatchNumber: "B999", Strategy: "", Qty: dec("40")},
				},
				Outputs:        []feeds.ProcessLine{{Direction: models.ProcessDirectionOutput, Grade: "GradeB", BatchNumber: "B300", Strategy: "S1", Qty: dec("100")}},
				TotalInputQty:  dec("100"),
				TotalOutputQty: dec("100"),
			},
		},
	}

	d := DeltaFromProcessing(res)
	// The ghost line stays out of the ledger buckets but remains on the stored run.
	if !d.ToProcessing.ByGrade["GradeA"].Equal(dec("60")) {
		t.Fatalf("to_processing must exclude the unresolved line: %+v", d.ToProcessing.ByGrade)
	}
	if len(d.Processes[0].Details) != 3 {
		t.Fatalf("run details must keep every line: %d", len(d.Processes[0].Details))
	}
}

func TestDeltaFromTransfersCountsAggregatedBatches(t *testing.T) {
	res := &feeds.TransferResult{Batches: 2}
	res.Aggregate = feeds.Aggregate{
		ByGrade:    map[string]decimal.Decimal{"GradeA": dec("50"), "GradeB": dec("40")},
		ByStrategy: map[string]decimal.Decimal{"S1": dec("90")},
		Total:      dec("90"),
	}

	d := DeltaFromTransfers(res)
	if d.RowCount != 2 {
		t.Fatalf("row count must be the aggregated batch count, got %d", d.RowCount)
	}
	if err := d.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestReopenForPostingClearsCloseState(t *testing.T) {
	ledger := testLedger()
	ledger.grades["GradeA"].XbsClosingStock = dec("470")
	ledger.grades["GradeA"].RegradeDiscrepancy = dec("-3")
	ledger.strategies["S1"].XbsClosingStock = dec("370")
	ledger.strategies["S1"].RegradeDiscrepancy = dec("2")

	summary := &models.DailySummary{
		SnapshotBlockedQty: dec("15"),
		SnapshotWipQty:     dec("25"),
		SnapshotClosingQty: dec("670"),
		IsClosed:           utils.NewTrue(),
	}

	reopenForPosting(summary, ledger)

	if summary.IsClosed == nil || *summary.IsClosed {
		t.Fatal("forced posting must reopen the summary")
	}
	if !summary.SnapshotBlockedQty.IsZero() || !summary.SnapshotWipQty.IsZero() || !summary.SnapshotClosingQty.IsZero() {
		t.Fatalf("stale snapshot totals must reset: %+v", summary)
	}
	for grade, row := range ledger.grades {
		if !row.XbsClosingStock.IsZero() || !row.RegradeDiscrepancy.IsZero() {
			t.Fatalf("grade %s keeps stale reconciliation fields: %+v", grade, row)
		}
	}
	for strategy, row := range ledger.strategies {
		if !row.XbsClosingStock.IsZero() || !row.RegradeDiscrepancy.IsZero() {
			t.Fatalf("strategy %s keeps stale reconciliation fields: %+v", strategy, row)
		}
	}
}

func TestDeltaFromAdjustmentsBuildsRecords(t *testing.T) {
	day := time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC)
	res := &feeds.AdjustmentResult{}
	res.Aggregate = feeds.Aggregate{
		ByGrade:    map[string]decimal.Decimal{"GradeA": dec("-50")},
		ByStrategy: map[string]decimal.Decimal{"S1": dec("-50")},
		Total:      dec("-50"),
	}
	res.Lines = []feeds.AdjustmentLine{{
		Date: day, TicketNumber: "A1", Reason: "spoilage",
		BatchNumber: "B100", Grade: "GradeA", Strategy: "S1", Qty: dec("-50"),
	}}

	d := DeltaFromAdjustments(7, res)
	if len(d.Adjustments) != 1 || d.Adjustments[0].SummaryId != 7 {
		t.Fatalf("adjustment record not staged: %+v", d.Adjustments)
	}
	if d.Adjustments[0].AdjustmentReason != "spoilage" {
		t.Fatalf("reason lost: %+v", d.Adjustments[0])
	}
	if err := d.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	ledger := testLedger()
	if err := ledger.fold(d); err != nil {
		t.Fatalf("fold: %v", err)
	}
	if got := ledger.strategies["S1"].StockAdjustmentQty; !got.Equal(dec("-50")) {
		t.Fatalf("S1 stock_adjustment: got %s, want -50", got)
	}
}
