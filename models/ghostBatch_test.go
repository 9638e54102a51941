package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestGhostBatchAbsorbScanSupersedesCandidate(t *testing.T) {
	existing := &GhostBatch{
		BatchNumber:   "B900",
		SourceFeed:    SourceTypeDispatch,
		Grade:         "GradeA",
		InferredQty:   decimal.NewFromInt(10),
		Status:        GhostBatchStatusCandidate,
		FirstSeenDate: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	}
	scan := &GhostBatch{
		BatchNumber:   "B900",
		SourceFeed:    SourceTypeProcessing,
		Grade:         "GradeA",
		InferredQty:   decimal.NewFromInt(35),
		Status:        GhostBatchStatusPersisted,
		FirstSeenDate: time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC),
		CorrelationId: "scan-1",
	}

	existing.Absorb(scan)
	if existing.Status != GhostBatchStatusPersisted {
		t.Fatalf("scan must promote to persisted, got %s", existing.Status)
	}
	if !existing.InferredQty.Equal(decimal.NewFromInt(35)) {
		t.Fatalf("scan quantity must win, got %s", existing.InferredQty.String())
	}
	if !existing.FirstSeenDate.Equal(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("earliest first-seen date must be kept, got %s", existing.FirstSeenDate)
	}
}

func TestGhostBatchAbsorbCandidateNeverDemotesPersisted(t *testing.T) {
	existing := &GhostBatch{
		BatchNumber:   "B900",
		SourceFeed:    SourceTypeProcessing,
		Grade:         "GradeA",
		InferredQty:   decimal.NewFromInt(35),
		Status:        GhostBatchStatusPersisted,
		FirstSeenDate: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		CorrelationId: "scan-1",
	}
	upload := &GhostBatch{
		BatchNumber:   "B900",
		SourceFeed:    SourceTypeDispatch,
		Grade:         "GradeB",
		InferredQty:   decimal.NewFromInt(5),
		Status:        GhostBatchStatusCandidate,
		FirstSeenDate: time.Date(2026, 8, 5, 0, 0, 0, 0, time.UTC),
		CorrelationId: "upload-2",
	}

	existing.Absorb(upload)
	if existing.Status != GhostBatchStatusPersisted {
		t.Fatalf("candidate sighting must not demote persisted, got %s", existing.Status)
	}
	if !existing.InferredQty.Equal(decimal.NewFromInt(35)) {
		t.Fatalf("candidate sighting must not replace the scanned quantity, got %s", existing.InferredQty.String())
	}
	if existing.SourceFeed != SourceTypeProcessing || existing.Grade != "GradeA" {
		t.Fatalf("scan provenance must stand: %+v", existing)
	}
	if existing.CorrelationId != "upload-2" {
		t.Fatalf("latest correlation id should be recorded, got %q", existing.CorrelationId)
	}
	if !existing.FirstSeenDate.Equal(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("first-seen date must not move forward, got %s", existing.FirstSeenDate)
	}
}

func TestGhostBatchAbsorbCandidateRefreshesCandidate(t *testing.T) {
	existing := &GhostBatch{
		BatchNumber: "B901",
		Grade:       "GradeA",
		InferredQty: decimal.NewFromInt(10),
		Status:      GhostBatchStatusCandidate,
	}
	again := &GhostBatch{
		BatchNumber:   "B901",
		Grade:         "GradeA",
		InferredQty:   decimal.NewFromInt(12),
		Status:        GhostBatchStatusCandidate,
		FirstSeenDate: time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC),
	}

	existing.Absorb(again)
	if !existing.InferredQty.Equal(decimal.NewFromInt(12)) {
		t.Fatalf("re-upload must refresh the candidate quantity, got %s", existing.InferredQty.String())
	}
	if !existing.FirstSeenDate.Equal(time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("zero first-seen date must take the incoming one, got %s", existing.FirstSeenDate)
	}
}
