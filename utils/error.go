package utils

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var ErrorRecordNotFound = errors.New("record not found")

// ErrConcurrentUpdate is returned when another request holds the posting lock for
// the same summary. The caller must retry.
var ErrConcurrentUpdate = errors.New("summary is being updated by another request")

// ErrSourceAlreadyApplied is returned when a source feed has already been folded
// into a summary and no force flag was given.
var ErrSourceAlreadyApplied = errors.New("source already applied to summary")

// ErrSummaryClosed is returned when a source application targets a finalized
// summary without a force flag.
var ErrSummaryClosed = errors.New("summary is closed")

// ErrLedgerNotInitialized is returned when a source is applied before the XBS
// snapshot has been uploaded for that summary.
var ErrLedgerNotInitialized = errors.New("activity ledger not initialized: upload the XBS snapshot first")

// ErrRecomputeRequired is returned when closing a summary that is flagged
// needs_recompute after a failed write.
var ErrRecomputeRequired = errors.New("summary needs recompute before it can be closed")

// SchemaError means an expected sheet or column is absent from an uploaded feed.
// It is fatal to that upload.
type SchemaError struct {
	Feed  string
	Sheet string
	Cause error
}

func (e *SchemaError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: sheet %q: %v", e.Feed, e.Sheet, e.Cause)
	}
	return fmt.Sprintf("%s: sheet %q not found", e.Feed, e.Sheet)
}

func (e *SchemaError) Unwrap() error { return e.Cause }

// ParseError records a single unparseable row. Rows with parse errors are skipped
// and the errors are aggregated into the normalizer's warning list; they are not
// fatal to the upload.
type ParseError struct {
	Feed  string
	Row   int
	Field string
	Cause error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s row %d: field %q: %v", e.Feed, e.Row, e.Field, e.Cause)
}

func (e *ParseError) Unwrap() error { return e.Cause }

// UnbalancedDeltaError means the grade-level and strategy-level views of one
// bucket disagree on the total moved quantity. Fatal to that source application.
type UnbalancedDeltaError struct {
	Source string
	Bucket string
	Diff   decimal.Decimal
}

func (e *UnbalancedDeltaError) Error() string {
	return fmt.Sprintf("%s: bucket %q: grade and strategy totals differ by %s", e.Source, e.Bucket, e.Diff)
}

// UnknownGradeOrStrategyError means a ledger mutation targeted a grade or strategy
// the summary was never initialized with. Fatal to that source application.
type UnknownGradeOrStrategyError struct {
	Kind string // "grade" or "strategy"
	Key  string
}

func (e *UnknownGradeOrStrategyError) Error() string {
	return fmt.Sprintf("unknown %s %q: ledger not initialized for this key", e.Kind, e.Key)
}
