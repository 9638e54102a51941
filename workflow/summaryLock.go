package workflow

import (
	"fmt"

	"bitbucket.org/mmdatafocus/stockledger_backend/utils"
	"gorm.io/gorm"
)

// AcquireSummaryPostingLock serializes source application per summary across
// instances using MySQL advisory locks. Zero timeout: a concurrent upload for the
// same summary fails fast with ErrConcurrentUpdate instead of double-applying.
//
// NOTE: GET_LOCK is connection-scoped. Callers acquire it on a pinned
// connection (db.Connection) and run the posting transaction on that same
// connection, so the lock is still held when the transaction commits.
func AcquireSummaryPostingLock(tx *gorm.DB, summaryId int) error {
	lockName := fmt.Sprintf("stockledger:summary:%d", summaryId)
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 0)", lockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return utils.ErrConcurrentUpdate
	}
	return nil
}

func ReleaseSummaryPostingLock(tx *gorm.DB, summaryId int) {
	lockName := fmt.Sprintf("stockledger:summary:%d", summaryId)
	var _ok int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&_ok).Error
}
