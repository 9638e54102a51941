package feeds

import (
	"errors"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/stockledger_backend/models"
	"bitbucket.org/mmdatafocus/stockledger_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// newWorkbook builds an in-memory workbook with one named sheet, header row first.
func newWorkbook(t *testing.T, sheet string, rows [][]interface{}) *excelize.File {
	t.Helper()
	f := excelize.NewFile()
	if _, err := f.NewSheet(sheet); err != nil {
		t.Fatalf("NewSheet: %v", err)
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("CoordinatesToCellName: %v", err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("SetSheetRow: %v", err)
		}
	}
	return f
}

func testSnapshot() *models.StockSnapshot {
	return &models.StockSnapshot{
		GradeBalances: map[string]decimal.Decimal{
			"GradeA": decimal.NewFromInt(500),
			"GradeB": decimal.NewFromInt(200),
		},
		StrategyBalances: map[string]decimal.Decimal{
			"S1": decimal.NewFromInt(400),
			"S2": decimal.NewFromInt(300),
		},
		Batches: map[string]models.SnapshotBatch{
			"B100": {Grade: "GradeA", Strategy: "S1", Qty: decimal.NewFromInt(300)},
			"B101": {Grade: "GradeA", Strategy: "S2", Qty: decimal.NewFromInt(200)},
			"B200": {Grade: "GradeB", Strategy: "S1", Qty: decimal.NewFromInt(100)},
		},
	}
}

func mustEqual(t *testing.T, got decimal.Decimal, want string, label string) {
	t.Helper()
	if !got.Equal(decimal.RequireFromString(want)) {
		t.Fatalf("%s: got %s, want %s", label, got, want)
	}
}

func TestParseSTIMissingSheetIsSchemaError(t *testing.T) {
	f := excelize.NewFile()
	_, err := ParseSTI(f, time.Time{}, testSnapshot())
	var schemaErr *utils.SchemaError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("expected SchemaError for missing sheet, got %v", err)
	}
}

func TestParseSTIMissingColumnIsSchemaError(t *testing.T) {
	f := newWorkbook(t, "STI", [][]interface{}{
		{"Transfer Date", "Transfer Number", "Grade", "Quantity"}, // no batch number
		{"2026-08-01", "T1", "GradeA", 10},
	})
	_, err := ParseSTI(f, time.Time{}, testSnapshot())
	var schemaErr *utils.SchemaError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("expected SchemaError for missing column, got %v", err)
	}
}

func TestParseSTIEmptySheetIsEmptyAggregate(t *testing.T) {
	f := newWorkbook(t, "STI", nil)
	res, err := ParseSTI(f, time.Time{}, testSnapshot())
	if err != nil {
		t.Fatalf("ParseSTI: %v", err)
	}
	if len(res.ByGrade) != 0 || len(res.ByStrategy) != 0 || !res.Total.IsZero() {
		t.Fatalf("expected empty aggregate, got %+v", res.Aggregate)
	}
}

func TestParseSTIAggregatesAndResolves(t *testing.T) {
	f := newWorkbook(t, "STI", [][]interface{}{
		{"Transfer Date", "Transfer Number", "Batch Number", "Grade", "Quantity"},
		{"2026-08-02", "T1", "B100", "GradeA", 30},
		{"2026-08-02", "T2", "B100", "GradeA", "20"},
		{"2026-08-02", "T3", "B200", "GradeB", 40},
		{"2026-08-01", "T4", "B101", "GradeA", 99}, // filtered: not after sinceDate
	})
	since := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	res, err := ParseSTI(f, since, testSnapshot())
	if err != nil {
		t.Fatalf("ParseSTI: %v", err)
	}
	mustEqual(t, res.ByGrade["GradeA"], "50", "GradeA inbound")
	mustEqual(t, res.ByGrade["GradeB"], "40", "GradeB inbound")
	mustEqual(t, res.ByStrategy["S1"], "90", "S1 inbound")
	mustEqual(t, res.Total, "90", "total")
	if res.Batches != 2 {
		t.Fatalf("expected 2 aggregated batches (B100, B200), got %d", res.Batches)
	}
	if len(res.Ghosts) != 0 {
		t.Fatalf("expected no ghosts, got %d", len(res.Ghosts))
	}
}

func TestParseSTIUnresolvedBatchIsGhost(t *testing.T) {
	f := newWorkbook(t, "STI", [][]interface{}{
		{"Transfer Date", "Transfer Number", "Batch Number", "Grade", "Quantity"},
		{"2026-08-02", "T1", "B999", "GradeA", 25},
		{"2026-08-02", "T2", "B100", "GradeA", 10},
	})
	res, err := ParseSTI(f, time.Time{}, testSnapshot())
	if err != nil {
		t.Fatalf("ParseSTI: %v", err)
	}
	// The ghost line is excluded from both views, the rest still applies.
	mustEqual(t, res.ByGrade["GradeA"], "10", "GradeA inbound")
	mustEqual(t, res.Total, "10", "total")
	if len(res.Ghosts) != 1 || res.Ghosts[0].BatchNumber != "B999" {
		t.Fatalf("expected ghost B999, got %+v", res.Ghosts)
	}
	mustEqual(t, res.Ghosts[0].Qty, "25", "ghost qty")
}

func TestParseSTIDropsNonPositiveBatchTotals(t *testing.T) {
	f := newWorkbook(t, "STI", [][]interface{}{
		{"Transfer Date", "Transfer Number", "Batch Number", "Grade", "Quantity"},
		{"2026-08-02", "T1", "B100", "GradeA", 30},
		{"2026-08-02", "T2", "B100", "GradeA", -30},
		{"2026-08-02", "T3", "B200", "GradeB", 5},
	})
	res, err := ParseSTI(f, time.Time{}, testSnapshot())
	if err != nil {
		t.Fatalf("ParseSTI: %v", err)
	}
	if _, ok := res.ByGrade["GradeA"]; ok {
		t.Fatalf("zero-sum batch must not feed the aggregate: %+v", res.ByGrade)
	}
	mustEqual(t, res.Total, "5", "total")
	if res.Batches != 1 {
		t.Fatalf("dropped batches must not count, got %d", res.Batches)
	}
}

func TestParseSTAKeepsSign(t *testing.T) {
	f := newWorkbook(t, "STA", [][]interface{}{
		{"Adjustment Date", "Ticket Number", "Batch Number", "Grade", "Quantity", "Reason"},
		{"2026-08-02", "A1", "B100", "GradeA", -50, "spoilage"},
		{"2026-08-02", "A2", "B200", "GradeB", 12, "found stock"},
		{"2026-08-02", "A3", "B101", "GradeA", 0, "noop"},
	})
	res, err := ParseSTA(f, time.Time{}, testSnapshot())
	if err != nil {
		t.Fatalf("ParseSTA: %v", err)
	}
	mustEqual(t, res.ByGrade["GradeA"], "-50", "GradeA adjustment")
	mustEqual(t, res.ByStrategy["S1"], "-38", "S1 adjustment")
	mustEqual(t, res.Total, "-38", "total")
	if len(res.Lines) != 2 {
		t.Fatalf("zero-qty rows must be dropped: got %d lines", len(res.Lines))
	}
	if res.Lines[0].Reason != "spoilage" {
		t.Fatalf("reason not carried: %+v", res.Lines[0])
	}
}

func TestParseGDIGroupsAndGhosts(t *testing.T) {
	f := newWorkbook(t, "GDI", [][]interface{}{
		{"Dispatch Date", "Dispatch Number", "Ticket Number", "Batch Number", "Grade", "Quantity"},
		{"2026-08-02", "D1", "TK1", "B100", "GradeA", 15},
		{"2026-08-02", "D1", "TK2", "B100", "GradeA", 5},
		{"2026-08-02", "D1", "TK3", "B999", "GradeA", 70},
		{"2026-08-02", "D2", "TK4", "B200", "GradeB", 8},
	})
	res, err := ParseGDI(f, time.Time{}, testSnapshot())
	if err != nil {
		t.Fatalf("ParseGDI: %v", err)
	}
	mustEqual(t, res.ByGrade["GradeA"], "20", "GradeA outbound")
	mustEqual(t, res.ByGrade["GradeB"], "8", "GradeB outbound")
	mustEqual(t, res.Total, "28", "total")
	if len(res.Lines) != 2 {
		t.Fatalf("expected 2 dispatch lines, got %d", len(res.Lines))
	}
	if len(res.Ghosts) != 1 || res.Ghosts[0].BatchNumber != "B999" {
		t.Fatalf("expected ghost B999, got %+v", res.Ghosts)
	}
}

func TestParseXBS(t *testing.T) {
	f := newWorkbook(t, "XBS", [][]interface{}{
		{"Batch Number", "Grade", "Strategy", "Quantity", "Status"},
		{"B100", "GradeA", "S1", 300, "FREE"},
		{"B100", "GradeA", "S1", 50, "Blocked"},
		{"B101", "GradeA", "S2", 200, "WIP"},
		{"B200", "GradeB", "S1", 100, ""},
	})
	asOf := time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC)
	res, err := ParseXBS(f, asOf)
	if err != nil {
		t.Fatalf("ParseXBS: %v", err)
	}
	snap := res.Snapshot
	mustEqual(t, snap.GradeBalances["GradeA"], "550", "GradeA balance")
	mustEqual(t, snap.StrategyBalances["S1"], "450", "S1 balance")
	mustEqual(t, snap.TotalClosingQty, "650", "closing")
	mustEqual(t, snap.BlockedForProcessingQty, "50", "blocked")
	mustEqual(t, snap.WorkInProgressQty, "200", "wip")

	// Lines of the same batch sum into one entry.
	mustEqual(t, snap.Batches["B100"].Qty, "350", "B100 qty")
	strategy, ok := snap.ResolveStrategy("B100")
	if !ok || strategy != "S1" {
		t.Fatalf("B100 must resolve to S1, got %q ok=%v", strategy, ok)
	}
	if _, ok := snap.ResolveStrategy("B999"); ok {
		t.Fatal("unknown batch must not resolve")
	}
}
