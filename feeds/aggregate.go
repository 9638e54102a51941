package feeds

import (
	"time"

	"github.com/shopspring/decimal"
)

// Aggregate is the deterministic output shape shared by the movement
// normalizers: per-grade and per-strategy sums plus a feed total.
type Aggregate struct {
	ByGrade    map[string]decimal.Decimal
	ByStrategy map[string]decimal.Decimal
	Total      decimal.Decimal

	// Warnings carries absorbed per-row ParseErrors; the upload still succeeds.
	Warnings []string
	// Ghosts are lines whose batch_number did not resolve against the snapshot.
	// They are excluded from the aggregation, never silently dropped.
	Ghosts []GhostLine
}

// GhostLine is an unresolvable batch reference surfaced to the ghost detector.
type GhostLine struct {
	BatchNumber string
	Grade       string
	Qty         decimal.Decimal
	Date        time.Time
}

func newAggregate() Aggregate {
	return Aggregate{
		ByGrade:    map[string]decimal.Decimal{},
		ByStrategy: map[string]decimal.Decimal{},
	}
}

// add folds one resolved line into both views, keeping the grade-level and
// strategy-level totals of the same physical movement equal by construction.
func (a *Aggregate) add(grade, strategy string, qty decimal.Decimal) {
	a.ByGrade[grade] = a.ByGrade[grade].Add(qty)
	a.ByStrategy[strategy] = a.ByStrategy[strategy].Add(qty)
	a.Total = a.Total.Add(qty)
}

// warnRow absorbs one skipped row into the warning list.
func (a *Aggregate) warnRow(feed string, row int, field string, cause error) {
	a.Warnings = append(a.Warnings, rowWarning(feed, row, field, cause))
}
