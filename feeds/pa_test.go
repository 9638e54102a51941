package feeds

import (
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/stockledger_backend/models"
)

func paHeader() []interface{} {
	return []interface{}{
		"Process Number", "Process Type", "Issue Date", "Processing Date",
		"Direction", "Grade", "Batch Number", "Quantity", "Milling Loss", "Loss Gain",
	}
}

func TestParsePAGroupsRunsAndResolves(t *testing.T) {
	f := newWorkbook(t, "PA", [][]interface{}{
		paHeader(),
		{"1001", "milling", "2026-08-01", "2026-08-02", "Input", "GradeA", "B100", 100, 10, 0},
		{"1001", "milling", "2026-08-01", "2026-08-02", "Output", "GradeB", "B300", 90, 10, 0},
	})
	res, err := ParsePA(f, time.Time{}, testSnapshot())
	if err != nil {
		t.Fatalf("ParsePA: %v", err)
	}
	if len(res.Runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(res.Runs))
	}
	run := res.Runs[0]
	mustEqual(t, run.TotalInputQty, "100", "input total")
	mustEqual(t, run.TotalOutputQty, "90", "output total")
	mustEqual(t, run.MillingLoss, "10", "milling loss")

	if run.Inputs[0].Strategy != "S1" {
		t.Fatalf("input batch B100 must resolve to S1, got %q", run.Inputs[0].Strategy)
	}
	// B300 is a new batch produced by the run: it inherits the uniform input strategy.
	if run.Outputs[0].Strategy != "S1" {
		t.Fatalf("output must inherit input strategy S1, got %q", run.Outputs[0].Strategy)
	}
	if len(res.Ghosts) != 0 {
		t.Fatalf("expected no ghosts, got %+v", res.Ghosts)
	}
}

func TestParsePAMalformedProcessNumberSkipsRun(t *testing.T) {
	f := newWorkbook(t, "PA", [][]interface{}{
		paHeader(),
		{"P-BAD", "milling", "2026-08-01", "2026-08-02", "Input", "GradeA", "B100", 100, 0, 0},
		{"2002", "milling", "2026-08-01", "2026-08-02", "Input", "GradeA", "B101", 40, 0, 0},
		{"2002", "milling", "2026-08-01", "2026-08-02", "Output", "GradeA", "B101", 40, 0, 0},
	})
	res, err := ParsePA(f, time.Time{}, testSnapshot())
	if err != nil {
		t.Fatalf("ParsePA: %v", err)
	}
	if len(res.Runs) != 1 || res.Runs[0].ProcessNumber != "2002" {
		t.Fatalf("malformed process number must skip its run: %+v", res.Runs)
	}
	found := false
	for _, w := range res.Warnings {
		if strings.Contains(w, "P-BAD") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a warning naming the malformed process number, got %v", res.Warnings)
	}
}

func TestParsePAUnresolvedInputIsGhostButRunTotalsKeepIt(t *testing.T) {
	f := newWorkbook(t, "PA", [][]interface{}{
		paHeader(),
		{"3003", "milling", "2026-08-01", "2026-08-02", "Input", "GradeA", "B100", 60, 0, 0},
		{"3003", "milling", "2026-08-01", "2026-08-02", "Input", "GradeA", "B999", 40, 0, 0},
		{"3003", "milling", "2026-08-01", "2026-08-02", "Output", "GradeB", "B200", 100, 0, 0},
	})
	res, err := ParsePA(f, time.Time{}, testSnapshot())
	if err != nil {
		t.Fatalf("ParsePA: %v", err)
	}
	run := res.Runs[0]
	// The unresolved line still counts toward the declared run totals, so the
	// mass-balance check sees the run the mill declared.
	mustEqual(t, run.TotalInputQty, "100", "input total")
	if run.Inputs[1].Strategy != "" {
		t.Fatalf("unresolved input must keep an empty strategy, got %q", run.Inputs[1].Strategy)
	}
	if len(res.Ghosts) != 1 || res.Ghosts[0].BatchNumber != "B999" {
		t.Fatalf("expected ghost B999, got %+v", res.Ghosts)
	}
}

func TestParsePAMixedInputStrategiesDoNotInherit(t *testing.T) {
	f := newWorkbook(t, "PA", [][]interface{}{
		paHeader(),
		{"4004", "blend", "2026-08-01", "2026-08-02", "Input", "GradeA", "B100", 50, 0, 0},
		{"4004", "blend", "2026-08-01", "2026-08-02", "Input", "GradeA", "B101", 50, 0, 0},
		{"4004", "blend", "2026-08-01", "2026-08-02", "Output", "GradeB", "B888", 100, 0, 0},
	})
	res, err := ParsePA(f, time.Time{}, testSnapshot())
	if err != nil {
		t.Fatalf("ParsePA: %v", err)
	}
	// B100 is S1 and B101 is S2: the output's strategy is ambiguous, so the
	// unknown output batch is a ghost, not a guess.
	run := res.Runs[0]
	if run.Outputs[0].Strategy != "" {
		t.Fatalf("ambiguous output must stay unresolved, got %q", run.Outputs[0].Strategy)
	}
	if len(res.Ghosts) != 1 || res.Ghosts[0].BatchNumber != "B888" {
		t.Fatalf("expected ghost B888, got %+v", res.Ghosts)
	}
}

func TestParsePADirectionVariants(t *testing.T) {
	f := newWorkbook(t, "PA", [][]interface{}{
		paHeader(),
		{"5005", "milling", "2026-08-01", "2026-08-02", "I", "GradeA", "B100", 10, 0, 0},
		{"5005", "milling", "2026-08-01", "2026-08-02", "out", "GradeB", "B200", 10, 0, 0},
		{"5005", "milling", "2026-08-01", "2026-08-02", "sideways", "GradeA", "B100", 10, 0, 0},
	})
	res, err := ParsePA(f, time.Time{}, testSnapshot())
	if err != nil {
		t.Fatalf("ParsePA: %v", err)
	}
	run := res.Runs[0]
	if len(run.Inputs) != 1 || run.Inputs[0].Direction != models.ProcessDirectionInput {
		t.Fatalf("expected one input line, got %+v", run.Inputs)
	}
	if len(run.Outputs) != 1 || run.Outputs[0].Direction != models.ProcessDirectionOutput {
		t.Fatalf("expected one output line, got %+v", run.Outputs)
	}
	if len(res.Warnings) == 0 {
		t.Fatal("unknown direction must produce a warning")
	}
}
