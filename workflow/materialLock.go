package workflow

import (
	"fmt"

	"gorm.io/gorm"
)

// AcquireMaterialPostingLock serializes quantity-affecting postings per
// material across instances using MySQL advisory locks. Each material is an
// independent unit of concurrency; no cross-material lock ordering exists,
// so callers may process materials in parallel.
// NOTE: GET_LOCK is connection-scoped, so acquire and release must run on the
// begun posting transaction, never on the pooled handle.
func AcquireMaterialPostingLock(tx *gorm.DB, materialId int) error {
	lockName := fmt.Sprintf("material-posting:%d", materialId)
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 30)", lockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("could not acquire posting lock for material_id=%d", materialId)
	}
	return nil
}

func ReleaseMaterialPostingLock(tx *gorm.DB, materialId int) {
	lockName := fmt.Sprintf("material-posting:%d", materialId)
	var _ok int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&_ok).Error
}
