package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/stockledger_backend/config"
	"bitbucket.org/mmdatafocus/stockledger_backend/feeds"
	"bitbucket.org/mmdatafocus/stockledger_backend/models"
	"bitbucket.org/mmdatafocus/stockledger_backend/utils"
	"bitbucket.org/mmdatafocus/stockledger_backend/workflow"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

const maxFeedUploadBytes int64 = 50 << 20

const dateLayout = "2006-01-02"

// feedUpload is the decoded multipart request shared by the five feed endpoints:
// the workbook, the summary it targets and the caller's flags.
type feedUpload struct {
	summary    *models.DailySummary
	targetDate time.Time
	sinceDate  time.Time
	force      bool

	file     *excelize.File
	raw      []byte
	fileName string
}

// parseFeedUpload decodes the multipart form. The summary is resolved from
// summary_id when given, otherwise created (or fetched) for target_date. On
// failure the response has already been written and ok is false.
func parseFeedUpload(c *gin.Context) (*feedUpload, bool) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return nil, false
	}

	src, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read uploaded file"})
		return nil, false
	}
	defer src.Close()

	raw, err := io.ReadAll(io.LimitReader(src, maxFeedUploadBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read uploaded file"})
		return nil, false
	}
	if int64(len(raw)) > maxFeedUploadBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file size exceeds 50MB limit"})
		return nil, false
	}

	workbook, err := excelize.OpenReader(bytes.NewReader(raw))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "uploaded file is not a readable workbook"})
		return nil, false
	}

	up := &feedUpload{
		file:     workbook,
		raw:      raw,
		fileName: fileHeader.Filename,
		force:    c.PostForm("force") == "true",
	}

	if raw := c.PostForm("since_date"); raw != "" {
		since, err := time.ParseInLocation(dateLayout, raw, time.UTC)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since_date must be YYYY-MM-DD"})
			return nil, false
		}
		up.sinceDate = since
	}

	if idStr := c.PostForm("summary_id"); idStr != "" {
		id, err := strconv.Atoi(idStr)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "summary_id must be a positive integer"})
			return nil, false
		}
		summary, err := models.GetDailySummaryById(c.Request.Context(), config.GetDB(), id)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "summary not found"})
			} else {
				respondInternalError(c, "parseFeedUpload", err)
			}
			return nil, false
		}
		up.summary = summary
		up.targetDate = summary.Date
		return up, true
	}

	rawDate := c.PostForm("target_date")
	if rawDate == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "target_date or summary_id is required"})
		return nil, false
	}
	target, err := time.ParseInLocation(dateLayout, rawDate, time.UTC)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "target_date must be YYYY-MM-DD"})
		return nil, false
	}
	up.targetDate = target

	summary, err := models.GetOrCreateDailySummary(c.Request.Context(), config.GetDB(), target)
	if err != nil {
		respondInternalError(c, "parseFeedUpload", err)
		return nil, false
	}
	up.summary = summary
	return up, true
}

// respondFeedError maps engine errors onto the boundary's status codes: 400 for
// input the caller can fix, 404 for missing references, 500 for everything else.
// Unexpected failures get a generic body; detail goes to the log only.
func respondFeedError(c *gin.Context, funcName string, err error) {
	var schemaErr *utils.SchemaError
	var unknownErr *utils.UnknownGradeOrStrategyError
	var unbalancedErr *utils.UnbalancedDeltaError

	switch {
	case errors.As(err, &schemaErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": schemaErr.Error()})
	case errors.Is(err, utils.ErrSourceAlreadyApplied):
		c.JSON(http.StatusBadRequest, gin.H{"error": "source already applied to this summary; re-run with force=true to recompute"})
	case errors.Is(err, utils.ErrSummaryClosed):
		c.JSON(http.StatusBadRequest, gin.H{"error": "summary is closed; re-run with force=true to recompute"})
	case errors.Is(err, utils.ErrRecomputeRequired):
		c.JSON(http.StatusBadRequest, gin.H{"error": utils.ErrRecomputeRequired.Error()})
	case errors.Is(err, utils.ErrLedgerNotInitialized):
		c.JSON(http.StatusNotFound, gin.H{"error": utils.ErrLedgerNotInitialized.Error()})
	case errors.Is(err, gorm.ErrRecordNotFound), errors.Is(err, utils.ErrorRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
	case errors.Is(err, utils.ErrConcurrentUpdate):
		c.JSON(http.StatusInternalServerError, gin.H{"error": utils.ErrConcurrentUpdate.Error()})
	case errors.As(err, &unknownErr):
		c.JSON(http.StatusInternalServerError, gin.H{"error": unknownErr.Error()})
	case errors.As(err, &unbalancedErr):
		c.JSON(http.StatusInternalServerError, gin.H{"error": unbalancedErr.Error()})
	default:
		respondInternalError(c, funcName, err)
	}
}

func respondInternalError(c *gin.Context, funcName string, err error) {
	logger := config.GetLogger()
	cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
	config.LogError(logger, "uploads.go", funcName, "request failed", map[string]interface{}{
		"path":           c.Request.URL.Path,
		"correlation_id": cid,
	}, err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

// archiveFeed stores the raw workbook for audit, off the request path.
// Best effort: archival never fails an upload.
func archiveFeed(source models.SourceType, fileName string, raw []byte) {
	if !config.FeedArchiveEnabled() {
		return
	}
	logger := config.GetLogger()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		object, err := utils.ArchiveFeedFile(ctx, string(source), fileName, raw)
		if err != nil {
			logger.WithFields(logrus.Fields{
				"source": source,
				"file":   fileName,
			}).Warn("feed archive failed: " + err.Error())
			return
		}
		logger.WithFields(logrus.Fields{
			"source": source,
			"object": object,
		}).Info("feed archived")
	}()
}

// uploadSnapshotHandler ingests the XBS current-stock report: it becomes the
// summary's snapshot (closing-balance reference and batch resolution table) and
// seeds the activity ledger on first upload.
func uploadSnapshotHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		up, ok := parseFeedUpload(c)
		if !ok {
			return
		}

		result, err := feeds.ParseXBS(up.file, up.targetDate)
		if err != nil {
			respondFeedError(c, "uploadSnapshotHandler", err)
			return
		}

		db := config.GetDB()
		err = db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
			return models.InitializeActivities(tx, up.summary, result.Snapshot)
		})
		if err != nil {
			respondFeedError(c, "uploadSnapshotHandler", err)
			return
		}

		if err := models.CacheSnapshot(up.summary.ID, result.Snapshot); err != nil {
			// In-process fallback still holds the snapshot.
			config.GetLogger().WithFields(logrus.Fields{
				"summary_id": up.summary.ID,
			}).Warn("snapshot redis cache failed: " + err.Error())
		}
		archiveFeed(models.SourceTypeSnapshot, up.fileName, up.raw)

		c.JSON(http.StatusOK, gin.H{
			"summary_id":  up.summary.ID,
			"as_of":       result.Snapshot.AsOf.Format(dateLayout),
			"grades":      len(result.Snapshot.GradeBalances),
			"strategies":  len(result.Snapshot.StrategyBalances),
			"batches":     len(result.Snapshot.Batches),
			"closing_qty": result.Snapshot.TotalClosingQty.String(),
			"warnings":    result.Warnings,
		})
	}
}

// feedUploadHandler is the shared shell of the four movement-feed endpoints:
// decode the upload, require a snapshot, normalize, stage, apply.
func feedUploadHandler(source models.SourceType, build func(up *feedUpload, snapshot *models.StockSnapshot) (*workflow.LedgerDelta, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		up, ok := parseFeedUpload(c)
		if !ok {
			return
		}

		ctx, span := tracer.Start(c.Request.Context(), "apply-"+string(source))
		defer span.End()
		c.Request = c.Request.WithContext(ctx)

		snapshot, found, err := models.LoadSnapshot(up.summary.ID)
		if err != nil {
			respondInternalError(c, "feedUploadHandler", err)
			return
		}
		if !found {
			c.JSON(http.StatusNotFound, gin.H{"error": "no snapshot uploaded for this summary; upload the XBS report first"})
			return
		}

		delta, err := build(up, snapshot)
		if err != nil {
			respondFeedError(c, "feedUploadHandler", err)
			return
		}

		cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		result, err := workflow.ApplySource(c.Request.Context(), config.GetDB(), up.summary, delta, workflow.ApplyOptions{
			Force:         up.force,
			CorrelationId: cid,
		})
		if err != nil {
			respondFeedError(c, "feedUploadHandler", err)
			return
		}

		archiveFeed(source, up.fileName, up.raw)
		c.JSON(http.StatusOK, gin.H{"data": result})
	}
}

func uploadTransfersHandler() gin.HandlerFunc {
	return feedUploadHandler(models.SourceTypeTransfer, func(up *feedUpload, snapshot *models.StockSnapshot) (*workflow.LedgerDelta, error) {
		res, err := feeds.ParseSTI(up.file, up.sinceDate, snapshot)
		if err != nil {
			return nil, err
		}
		return workflow.DeltaFromTransfers(res), nil
	})
}

func uploadAdjustmentsHandler() gin.HandlerFunc {
	return feedUploadHandler(models.SourceTypeAdjustment, func(up *feedUpload, snapshot *models.StockSnapshot) (*workflow.LedgerDelta, error) {
		res, err := feeds.ParseSTA(up.file, up.sinceDate, snapshot)
		if err != nil {
			return nil, err
		}
		return workflow.DeltaFromAdjustments(up.summary.ID, res), nil
	})
}

func uploadProcessingHandler() gin.HandlerFunc {
	return feedUploadHandler(models.SourceTypeProcessing, func(up *feedUpload, snapshot *models.StockSnapshot) (*workflow.LedgerDelta, error) {
		res, err := feeds.ParsePA(up.file, up.sinceDate, snapshot)
		if err != nil {
			return nil, err
		}
		return workflow.DeltaFromProcessing(res), nil
	})
}

func uploadDispatchHandler() gin.HandlerFunc {
	return feedUploadHandler(models.SourceTypeDispatch, func(up *feedUpload, snapshot *models.StockSnapshot) (*workflow.LedgerDelta, error) {
		res, err := feeds.ParseGDI(up.file, up.sinceDate, snapshot)
		if err != nil {
			return nil, err
		}
		return workflow.DeltaFromDispatches(up.summary.ID, res), nil
	})
}
