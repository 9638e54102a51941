package config

import (
	"os"
	"strings"

	"github.com/shopspring/decimal"
)

// OpeningBalancePolicy controls how activity opening quantities are seeded when a
// summary is initialized.
//
// Set via env:
// - OPENING_BALANCE_POLICY=snapshot   opening_qty copied from the XBS per-grade /
//   per-strategy balance of the snapshot used to open the day (default)
// - OPENING_BALANCE_POLICY=continuity opening_qty carried from the prior day's
//   closing balance; the snapshot seeds only keys with no prior activity row
const (
	OpeningBalanceSnapshot   = "snapshot"
	OpeningBalanceContinuity = "continuity"
)

func OpeningBalancePolicy() string {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("OPENING_BALANCE_POLICY")))
	if v == OpeningBalanceContinuity {
		return OpeningBalanceContinuity
	}
	return OpeningBalanceSnapshot
}

// DiscrepancyTolerance is the absolute regrade-discrepancy magnitude above which
// closing a summary surfaces a reconciliation warning. The day still closes.
//
// Set via env:
// - DISCREPANCY_TOLERANCE=25.0 (default 10)
func DiscrepancyTolerance() decimal.Decimal {
	raw := strings.TrimSpace(os.Getenv("DISCREPANCY_TOLERANCE"))
	if raw != "" {
		if d, err := decimal.NewFromString(raw); err == nil && d.IsPositive() {
			return d
		}
	}
	return decimal.NewFromInt(10)
}

// FeedArchiveEnabled reports whether raw uploaded feed files should be archived
// to cloud storage. Archival is best-effort and never fails an upload.
func FeedArchiveEnabled() bool {
	return strings.TrimSpace(os.Getenv("GCS_BUCKET")) != ""
}
