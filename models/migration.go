package models

import (
	"log"

	"bitbucket.org/mmdatafocus/stockledger_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&DailySummary{},
		&GradeActivity{}, &StrategyActivity{},
		&AppliedSource{},
		&ProcessRecord{}, &ProcessRecordDetail{},
		&OutboundRecord{}, &AdjustmentRecord{},
		&TradeBatch{},
		&GhostBatch{}, &UnhedgedBatch{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
