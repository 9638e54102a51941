package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/stockledger_backend/config"
	"bitbucket.org/mmdatafocus/stockledger_backend/models"
	"bitbucket.org/mmdatafocus/stockledger_backend/workflow"
	"github.com/google/uuid"
)

func main() {
	summaryID := flag.Int("summary-id", 0, "Optional: include this summary's cached snapshot in the known batch set.")
	flag.Parse()

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	var snapshot *models.StockSnapshot
	if *summaryID > 0 {
		snap, found, err := models.LoadSnapshot(*summaryID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load snapshot for summary %d: %v\n", *summaryID, err)
			os.Exit(1)
		}
		if !found {
			fmt.Fprintf(os.Stderr, "no cached snapshot for summary %d; scanning against the trade table only\n", *summaryID)
		}
		snapshot = snap
	}

	result, err := workflow.DetectGhostBatches(ctx, db, snapshot, "ghost-scan-"+uuid.NewString())
	if err != nil {
		fmt.Fprintf(os.Stderr, "ghost scan failed: %v\n", err)
		os.Exit(1)
	}
	for _, ghost := range result.Ghosts {
		fmt.Printf("ghost batch=%s source=%s grade=%s qty=%s\n",
			ghost.BatchNumber, ghost.SourceFeed, ghost.Grade, ghost.InferredQty)
	}

	unhedged, err := workflow.DetectUnhedgedBatches(ctx, db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "unhedged scan failed: %v\n", err)
		os.Exit(1)
	}
	for _, row := range unhedged {
		fmt.Printf("unhedged batch=%s strategy=%s qty=%s\n", row.BatchNumber, row.Strategy, row.Qty)
	}

	fmt.Printf("Scan complete: %d references, %d ghosts, %d unhedged\n",
		result.ReferencesScanned, len(result.Ghosts), len(unhedged))
}
