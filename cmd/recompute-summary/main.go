package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"bitbucket.org/mmdatafocus/stockledger_backend/config"
	"bitbucket.org/mmdatafocus/stockledger_backend/models"
	"bitbucket.org/mmdatafocus/stockledger_backend/workflow"
	"gorm.io/gorm"
)

func main() {
	summaryID := flag.Int("summary-id", 0, "Summary id to recompute. Mutually exclusive with -date.")
	date := flag.String("date", "", "Summary date to recompute (YYYY-MM-DD). Mutually exclusive with -summary-id.")
	flag.Parse()

	if (*summaryID <= 0) == (*date == "") {
		fmt.Fprintln(os.Stderr, "exactly one of -summary-id or -date is required")
		os.Exit(1)
	}

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	var summary *models.DailySummary
	var err error
	if *summaryID > 0 {
		summary, err = models.GetDailySummaryById(ctx, db, *summaryID)
	} else {
		var d time.Time
		d, err = time.ParseInLocation("2006-01-02", *date, time.UTC)
		if err != nil {
			fmt.Fprintln(os.Stderr, "-date must be YYYY-MM-DD")
			os.Exit(1)
		}
		var found models.DailySummary
		err = db.WithContext(ctx).Where("date = ?", d).First(&found).Error
		summary = &found
	}
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			fmt.Fprintln(os.Stderr, "summary not found")
		} else {
			fmt.Fprintf(os.Stderr, "failed to load summary: %v\n", err)
		}
		os.Exit(1)
	}

	if err := workflow.RecomputeSummary(ctx, db, summary); err != nil {
		fmt.Fprintf(os.Stderr, "recompute failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Recomputed summary %d (%s): inbound=%s outbound=%s to_processing=%s from_processing=%s adjustment=%s\n",
		summary.ID, summary.Date.Format("2006-01-02"),
		summary.TotalInboundQty, summary.TotalOutboundQty,
		summary.TotalToProcessingQty, summary.TotalFromProcessingQty,
		summary.TotalAdjustmentQty)
}
