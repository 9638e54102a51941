package models

import "strings"

// SourceType identifies one of the four transaction feeds plus the snapshot report.
type SourceType string

const (
	SourceTypeTransfer   SourceType = "STI" // stock transfer inbound
	SourceTypeAdjustment SourceType = "STA" // stock adjustment
	SourceTypeProcessing SourceType = "PA"  // processing / milling run
	SourceTypeDispatch   SourceType = "GDI" // outbound dispatch
	SourceTypeSnapshot   SourceType = "XBS" // current stock report
)

func (s SourceType) Valid() bool {
	switch s {
	case SourceTypeTransfer, SourceTypeAdjustment, SourceTypeProcessing, SourceTypeDispatch, SourceTypeSnapshot:
		return true
	}
	return false
}

// ProcessDirection marks a process detail line as consuming or producing stock.
type ProcessDirection string

const (
	ProcessDirectionInput  ProcessDirection = "I"
	ProcessDirectionOutput ProcessDirection = "O"
)

// GhostBatchStatus is the resolution state of a batch flagged by the detector.
//
// Candidate: referenced by a feed during an upload, strategy unresolved at that point.
// Persisted: still unresolved after a full historical scan; waiting on an operator
// to record the missing trade and delete the row.
type GhostBatchStatus string

const (
	GhostBatchStatusCandidate GhostBatchStatus = "CANDIDATE"
	GhostBatchStatusPersisted GhostBatchStatus = "PERSISTED"
)

// BatchStockStatus classifies a snapshot line.
type BatchStockStatus string

const (
	BatchStockStatusFree    BatchStockStatus = "FREE"
	BatchStockStatusBlocked BatchStockStatus = "BLOCKED" // blocked for processing
	BatchStockStatusWip     BatchStockStatus = "WIP"     // work in progress
)

// ParseBatchStockStatus maps a snapshot's free-text status cell to its
// classification. Anything unrecognized counts as free stock.
func ParseBatchStockStatus(raw string) BatchStockStatus {
	switch strings.Join(strings.Fields(strings.ToLower(raw)), " ") {
	case "blocked", "blocked for processing":
		return BatchStockStatusBlocked
	case "wip", "work in progress":
		return BatchStockStatusWip
	}
	return BatchStockStatusFree
}
