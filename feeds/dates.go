package feeds

import (
	"strconv"
	"strings"
	"time"
)

// excelEpoch is day zero of the spreadsheet serial-date encoding.
var excelEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

var feedDateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"02-01-2006",
	"02/01/2006",
	"01-02-06",
	"1/2/06 15:04",
}

// ParseFeedDate decodes a feed's native date encoding: either a numeric
// spreadsheet day-offset or one of the string layouts the sources use.
// A value that cannot be parsed returns ok=false; callers treat such rows as not
// matching the date filter (excluded, never defaulted to "today").
func ParseFeedDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}

	if serial, err := strconv.ParseFloat(raw, 64); err == nil {
		if serial <= 0 || serial > 200000 {
			return time.Time{}, false
		}
		t := excelEpoch.Add(time.Duration(serial * 24 * float64(time.Hour)))
		return dateOnly(t), true
	}

	for _, layout := range feedDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return dateOnly(t), true
		}
	}
	return time.Time{}, false
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// afterCutoff reports whether d is strictly after sinceDate. A zero sinceDate
// means no cutoff (first run).
func afterCutoff(d time.Time, sinceDate time.Time) bool {
	if sinceDate.IsZero() {
		return true
	}
	return d.After(sinceDate)
}
