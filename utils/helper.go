package utils

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/stockledger_backend/config"
	"github.com/bsm/redislock"
	"github.com/shopspring/decimal"
)

// ParseDecimal converts a string to a decimal.Decimal value.
func ParseDecimal(value string) (decimal.Decimal, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return decimal.Zero, errors.New("empty decimal string")
	}
	// Operator spreadsheets often carry thousand separators.
	value = strings.ReplaceAll(value, ",", "")

	dec, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, err
	}

	return dec, nil
}

// SummaryLock obtains a best-effort redis lock scoped to one daily summary.
// It is an optimization only: the hard serializer is the MySQL advisory lock in
// workflow.AcquireSummaryPostingLock, so a nil redis client is not an error.
// The returned release func is never nil.
func SummaryLock(ctx context.Context, summaryId int, moduleName string, functionName string) (func(), error) {
	logger := config.GetLogger()
	locker := config.GetRedisLock()
	if locker == nil {
		return func() {}, nil
	}

	lockKey := fmt.Sprintf("summary:%d", summaryId)
	lock, err := locker.Obtain(ctx, lockKey, 30*time.Second, nil)
	if err == redislock.ErrNotObtained {
		config.LogError(logger, moduleName, functionName, "Could not obtain lock for summary", summaryId, err)
		return func() {}, ErrConcurrentUpdate
	} else if err != nil {
		config.LogError(logger, moduleName, functionName, "Error obtaining lock for summary", summaryId, err)
		return func() {}, err
	}

	return func() { _ = lock.Release(ctx) }, nil
}

// GenerateUniqueFilename returns a collision-resistant name for archived uploads.
func GenerateUniqueFilename() string {
	timestamp := time.Now().UnixNano()
	random := rand.Intn(1000)
	return fmt.Sprintf("%d_%d", timestamp, random)
}

func NewTrue() *bool {
	b := true
	return &b
}

func NewFalse() *bool {
	b := false
	return &b
}
