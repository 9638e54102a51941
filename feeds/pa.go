package feeds

import (
	"fmt"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/stockledger_backend/models"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const paSheet = "PA"

// ProcessLine is one input or output line of a processing run.
type ProcessLine struct {
	Direction   models.ProcessDirection
	Grade       string
	BatchNumber string
	Strategy    string // empty when unresolved (ghost)
	Qty         decimal.Decimal
}

// ProcessRun is one normalized processing/milling run, grouped by process number.
type ProcessRun struct {
	ProcessNumber  string
	ProcessType    string
	IssueDate      time.Time
	ProcessingDate time.Time

	Inputs  []ProcessLine
	Outputs []ProcessLine

	MillingLoss        decimal.Decimal
	ProcessingLossGain decimal.Decimal

	// TotalInputQty/TotalOutputQty cover every parsed line, including unresolved
	// ones, so the conservation check sees the run the mill declared.
	TotalInputQty  decimal.Decimal
	TotalOutputQty decimal.Decimal
}

// ProcessingResult is the normalized PA feed.
type ProcessingResult struct {
	Runs     []ProcessRun
	Warnings []string
	Ghosts   []GhostLine
}

// ParsePA normalizes the processing feed. Rows group by process number; a run
// with a malformed (empty or non-numeric) process number is skipped whole and
// logged, never fatal to the batch. Input lines whose batch does not resolve are
// kept on the run with an empty strategy and surfaced as ghost candidates; output
// lines inherit the run's input strategy when it is unambiguous.
func ParsePA(f *excelize.File, sinceDate time.Time, snapshot *models.StockSnapshot) (*ProcessingResult, error) {
	rows, err := sheetRows(f, string(models.SourceTypeProcessing), paSheet)
	if err != nil {
		return nil, err
	}
	if err := requireColumns(string(models.SourceTypeProcessing), paSheet, rows,
		"process number", "processing date", "direction", "grade", "quantity"); err != nil {
		return nil, err
	}

	feed := string(models.SourceTypeProcessing)
	result := &ProcessingResult{}

	runs := map[string]*ProcessRun{}
	order := []string{}

	for i, row := range tableRows(rows) {
		rowNum := i + 2

		number, ok := row.text("process number")
		if !ok {
			result.Warnings = append(result.Warnings, rowWarning(feed, rowNum, "process number", errMissingValue))
			continue
		}
		if _, err := strconv.Atoi(number); err != nil {
			result.Warnings = append(result.Warnings, rowWarning(feed, rowNum, "process number", fmt.Errorf("malformed value %q, run skipped", number)))
			continue
		}

		rawDate, ok := row.text("processing date")
		if !ok {
			result.Warnings = append(result.Warnings, rowWarning(feed, rowNum, "processing date", errMissingValue))
			continue
		}
		date, ok := ParseFeedDate(rawDate)
		if !ok {
			result.Warnings = append(result.Warnings, rowWarning(feed, rowNum, "processing date", fmt.Errorf("unparseable value %q, row excluded from filter", rawDate)))
			continue
		}
		if !afterCutoff(date, sinceDate) {
			continue
		}

		rawDir, ok := row.text("direction")
		if !ok {
			result.Warnings = append(result.Warnings, rowWarning(feed, rowNum, "direction", errMissingValue))
			continue
		}
		var direction models.ProcessDirection
		switch canonical(rawDir) {
		case "input", "i", "in":
			direction = models.ProcessDirectionInput
		case "output", "o", "out":
			direction = models.ProcessDirectionOutput
		default:
			result.Warnings = append(result.Warnings, rowWarning(feed, rowNum, "direction", fmt.Errorf("unknown value %q, row skipped", rawDir)))
			continue
		}

		grade, ok := row.text("grade")
		if !ok {
			result.Warnings = append(result.Warnings, rowWarning(feed, rowNum, "grade", errMissingValue))
			continue
		}
		qty, err := row.qty("quantity")
		if err != nil {
			result.Warnings = append(result.Warnings, rowWarning(feed, rowNum, "quantity", err))
			continue
		}
		if !qty.IsPositive() {
			continue
		}

		run, seen := runs[number]
		if !seen {
			rawIssue, _ := row.text("issue date")
			issueDate, _ := ParseFeedDate(rawIssue)
			processType, _ := row.text("process type")
			run = &ProcessRun{
				ProcessNumber:  number,
				ProcessType:    processType,
				IssueDate:      issueDate,
				ProcessingDate: date,
			}
			runs[number] = run
			order = append(order, number)
		}

		// Declared loss fields repeat per row of a run; last non-zero value wins.
		if ml := row.qtyOrZero("milling loss"); !ml.IsZero() {
			run.MillingLoss = ml
		}
		if lg := row.qtyOrZero("loss gain"); !lg.IsZero() {
			run.ProcessingLossGain = lg
		}

		batch, _ := row.text("batch number")
		line := ProcessLine{
			Direction:   direction,
			Grade:       grade,
			BatchNumber: batch,
			Qty:         qty,
		}
		if direction == models.ProcessDirectionInput {
			run.Inputs = append(run.Inputs, line)
			run.TotalInputQty = run.TotalInputQty.Add(qty)
		} else {
			run.Outputs = append(run.Outputs, line)
			run.TotalOutputQty = run.TotalOutputQty.Add(qty)
		}
	}

	for _, number := range order {
		run := runs[number]
		resolveRunStrategies(run, snapshot, result)
		result.Runs = append(result.Runs, *run)
	}

	return result, nil
}

// resolveRunStrategies resolves each line's strategy against the snapshot.
// Unresolved input lines become ghost candidates. Output batches are often new
// (produced by the run) and absent from the snapshot; when every resolved input
// of the run shares one strategy, outputs inherit it, otherwise an unresolved
// output is a ghost candidate too.
func resolveRunStrategies(run *ProcessRun, snapshot *models.StockSnapshot, result *ProcessingResult) {
	inputStrategy := ""
	uniform := true

	for i := range run.Inputs {
		line := &run.Inputs[i]
		strategy, ok := snapshot.ResolveStrategy(line.BatchNumber)
		if !ok {
			result.Ghosts = append(result.Ghosts, GhostLine{
				BatchNumber: line.BatchNumber,
				Grade:       line.Grade,
				Qty:         line.Qty,
				Date:        run.ProcessingDate,
			})
			continue
		}
		line.Strategy = strategy
		if inputStrategy == "" {
			inputStrategy = strategy
		} else if inputStrategy != strategy {
			uniform = false
		}
	}

	for i := range run.Outputs {
		line := &run.Outputs[i]
		if strategy, ok := snapshot.ResolveStrategy(line.BatchNumber); ok {
			line.Strategy = strategy
			continue
		}
		if uniform && inputStrategy != "" {
			line.Strategy = inputStrategy
			continue
		}
		result.Ghosts = append(result.Ghosts, GhostLine{
			BatchNumber: line.BatchNumber,
			Grade:       line.Grade,
			Qty:         line.Qty,
			Date:        run.ProcessingDate,
		})
	}
}
