package main

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/stockledger_backend/config"
	"bitbucket.org/mmdatafocus/stockledger_backend/models"
	"bitbucket.org/mmdatafocus/stockledger_backend/utils"
	"bitbucket.org/mmdatafocus/stockledger_backend/workflow"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func summaryIdParam(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "summary id must be a positive integer"})
		return 0, false
	}
	return id, true
}

func loadSummary(c *gin.Context, id int) (*models.DailySummary, bool) {
	summary, err := models.GetDailySummaryById(c.Request.Context(), config.GetDB(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "summary not found"})
		} else {
			respondInternalError(c, "loadSummary", err)
		}
		return nil, false
	}
	return summary, true
}

// closeSummaryHandler reconciles the summary against its cached snapshot and
// finalizes the day. Over-tolerance discrepancies come back as warnings; the
// close still succeeds.
func closeSummaryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := summaryIdParam(c)
		if !ok {
			return
		}
		summary, ok := loadSummary(c, id)
		if !ok {
			return
		}

		snapshot, found, err := models.LoadSnapshot(summary.ID)
		if err != nil {
			respondInternalError(c, "closeSummaryHandler", err)
			return
		}
		if !found {
			c.JSON(http.StatusNotFound, gin.H{"error": "no snapshot uploaded for this summary; upload the XBS report first"})
			return
		}

		result, err := workflow.CloseSummary(c.Request.Context(), config.GetDB(), summary, snapshot)
		if err != nil {
			respondFeedError(c, "closeSummaryHandler", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": result})
	}
}

// recomputeSummaryHandler rebuilds the summary's ledger from the stored source
// deltas, clears needs_recompute and reopens the day.
func recomputeSummaryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := summaryIdParam(c)
		if !ok {
			return
		}
		summary, ok := loadSummary(c, id)
		if !ok {
			return
		}

		if err := workflow.RecomputeSummary(c.Request.Context(), config.GetDB(), summary); err != nil {
			respondFeedError(c, "recomputeSummaryHandler", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": summary})
	}
}

func getSummaryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := summaryIdParam(c)
		if !ok {
			return
		}
		summary, ok := loadSummary(c, id)
		if !ok {
			return
		}

		db := config.GetDB().WithContext(c.Request.Context())
		var gradeRows []models.GradeActivity
		if err := db.Where("summary_id = ?", id).Order("grade").Find(&gradeRows).Error; err != nil {
			respondInternalError(c, "getSummaryHandler", err)
			return
		}
		var strategyRows []models.StrategyActivity
		if err := db.Where("summary_id = ?", id).Order("strategy").Find(&strategyRows).Error; err != nil {
			respondInternalError(c, "getSummaryHandler", err)
			return
		}
		sources, err := models.ListAppliedSources(db, id)
		if err != nil {
			respondInternalError(c, "getSummaryHandler", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"summary":             summary,
			"grade_activities":    gradeRows,
			"strategy_activities": strategyRows,
			"applied_sources":     sources,
		})
	}
}

func listSummariesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var from, to time.Time
		if raw := c.Query("from"); raw != "" {
			t, err := time.ParseInLocation(dateLayout, raw, time.UTC)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "from must be YYYY-MM-DD"})
				return
			}
			from = t
		}
		if raw := c.Query("to"); raw != "" {
			t, err := time.ParseInLocation(dateLayout, raw, time.UTC)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "to must be YYYY-MM-DD"})
				return
			}
			to = t
		}

		summaries, err := models.ListDailySummaries(c.Request.Context(), config.GetDB(), from, to)
		if err != nil {
			respondInternalError(c, "listSummariesHandler", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": summaries})
	}
}

func deleteSummaryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := summaryIdParam(c)
		if !ok {
			return
		}
		if err := models.DeleteDailySummary(c.Request.Context(), config.GetDB(), id); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "summary not found"})
				return
			}
			respondInternalError(c, "deleteSummaryHandler", err)
			return
		}
		models.DropSnapshot(id)
		c.JSON(http.StatusOK, gin.H{"deleted": id})
	}
}

// activityUpdateRequest is the operator-correction payload: absent fields are
// left untouched. The usual use is adjusting loss_gain_qty or opening_qty when
// reconciliation surfaces a data-quality problem the feeds cannot fix.
type activityUpdateRequest struct {
	SummaryId int    `json:"summary_id" binding:"required,gt=0"`
	Kind      string `json:"kind" binding:"required,oneof=grade strategy"`
	Key       string `json:"key" binding:"required"`

	OpeningQty         *decimal.Decimal `json:"opening_qty"`
	InboundQty         *decimal.Decimal `json:"inbound_qty"`
	OutboundQty        *decimal.Decimal `json:"outbound_qty"`
	ToProcessingQty    *decimal.Decimal `json:"to_processing_qty"`
	FromProcessingQty  *decimal.Decimal `json:"from_processing_qty"`
	StockAdjustmentQty *decimal.Decimal `json:"stock_adjustment_qty"`
	LossGainQty        *decimal.Decimal `json:"loss_gain_qty"`
}

func updateActivityHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req activityUpdateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "fields": utils.ProcessValidationErrors(err)})
			return
		}

		summary, ok := loadSummary(c, req.SummaryId)
		if !ok {
			return
		}
		if summary.IsClosed != nil && *summary.IsClosed {
			c.JSON(http.StatusBadRequest, gin.H{"error": "summary is closed; recompute before editing activities"})
			return
		}

		db := config.GetDB()
		var updated interface{}
		err := db.WithContext(c.Request.Context()).Connection(func(conn *gorm.DB) error {
			if err := workflow.AcquireSummaryPostingLock(conn, summary.ID); err != nil {
				return err
			}
			defer workflow.ReleaseSummaryPostingLock(conn, summary.ID)

			return conn.Transaction(func(tx *gorm.DB) error {
				if req.Kind == "grade" {
					var row models.GradeActivity
					if err := tx.Where("summary_id = ? AND grade = ?", req.SummaryId, req.Key).First(&row).Error; err != nil {
						return err
					}
					applyActivityUpdate(&req,
						&row.OpeningQty, &row.InboundQty, &row.OutboundQty,
						&row.ToProcessingQty, &row.FromProcessingQty,
						&row.StockAdjustmentQty, &row.LossGainQty)
					updated = &row
					return tx.Save(&row).Error
				}

				var row models.StrategyActivity
				if err := tx.Where("summary_id = ? AND strategy = ?", req.SummaryId, req.Key).First(&row).Error; err != nil {
					return err
				}
				applyActivityUpdate(&req,
					&row.OpeningQty, &row.InboundQty, &row.OutboundQty,
					&row.ToProcessingQty, &row.FromProcessingQty,
					&row.StockAdjustmentQty, &row.LossGainQty)
				updated = &row
				return tx.Save(&row).Error
			})
		})
		if err != nil {
			respondFeedError(c, "updateActivityHandler", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": updated})
	}
}

func applyActivityUpdate(req *activityUpdateRequest, opening, inbound, outbound, toProc, fromProc, adjustment, lossGain *decimal.Decimal) {
	if req.OpeningQty != nil {
		*opening = *req.OpeningQty
	}
	if req.InboundQty != nil {
		*inbound = *req.InboundQty
	}
	if req.OutboundQty != nil {
		*outbound = *req.OutboundQty
	}
	if req.ToProcessingQty != nil {
		*toProc = *req.ToProcessingQty
	}
	if req.FromProcessingQty != nil {
		*fromProc = *req.FromProcessingQty
	}
	if req.StockAdjustmentQty != nil {
		*adjustment = *req.StockAdjustmentQty
	}
	if req.LossGainQty != nil {
		*lossGain = *req.LossGainQty
	}
}

func listGhostBatchesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := models.ListGhostBatches(config.GetDB().WithContext(c.Request.Context()))
		if err != nil {
			respondInternalError(c, "listGhostBatchesHandler", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": rows})
	}
}

func deleteGhostBatchHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		batchNumber := c.Param("batchNumber")
		if batchNumber == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "batch number is required"})
			return
		}
		err := models.DeleteGhostBatch(config.GetDB().WithContext(c.Request.Context()), batchNumber)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "ghost batch not found"})
				return
			}
			respondInternalError(c, "deleteGhostBatchHandler", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": batchNumber})
	}
}

// ghostScanHandler runs the full historical scan. When summary_id is given its
// cached snapshot joins the known set; otherwise the trade table alone decides.
func ghostScanHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var snapshot *models.StockSnapshot
		if idStr := c.Query("summary_id"); idStr != "" {
			id, err := strconv.Atoi(idStr)
			if err != nil || id <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "summary_id must be a positive integer"})
				return
			}
			snap, found, err := models.LoadSnapshot(id)
			if err != nil {
				respondInternalError(c, "ghostScanHandler", err)
				return
			}
			if !found {
				c.JSON(http.StatusNotFound, gin.H{"error": "no snapshot uploaded for this summary"})
				return
			}
			snapshot = snap
		}

		cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		result, err := workflow.DetectGhostBatches(c.Request.Context(), config.GetDB(), snapshot, cid)
		if err != nil {
			respondInternalError(c, "ghostScanHandler", err)
			return
		}
		unhedged, err := workflow.DetectUnhedgedBatches(c.Request.Context(), config.GetDB())
		if err != nil {
			respondInternalError(c, "ghostScanHandler", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"references_scanned": result.ReferencesScanned,
			"ghosts":             result.Ghosts,
			"unhedged":           unhedged,
		})
	}
}
