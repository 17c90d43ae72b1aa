package workflow

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/resto_backend/config"
	"bitbucket.org/mmdatafocus/resto_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	expiryWarningDays  = 7
	expiryCriticalDays = 2
)

// quantityAlertConditions is the threshold decision table for one material.
// Exactly zero or one quantity condition fires: out-of-stock wins over
// low-stock, and overstock only applies when a maximum is configured.
// Re-evaluation never resolves anything; it only creates or refreshes.
func quantityAlertConditions(material *models.Material) []*models.NewStockAlert {
	qty := material.Quantity

	if qty.LessThanOrEqual(decimal.Zero) {
		return []*models.NewStockAlert{{
			MaterialId:     material.ID,
			AlertType:      models.StockAlertTypeOutOfStock,
			ThresholdValue: decimal.Zero,
			CurrentValue:   qty,
			Message:        fmt.Sprintf("%s is out of stock", material.Name),
		}}
	}
	if qty.LessThanOrEqual(material.MinStockLevel) {
		return []*models.NewStockAlert{{
			MaterialId:     material.ID,
			AlertType:      models.StockAlertTypeLowStock,
			ThresholdValue: material.MinStockLevel,
			CurrentValue:   qty,
			Message: fmt.Sprintf("%s is below minimum stock level (%s %s on hand)",
				material.Name, qty, material.StockUnit),
		}}
	}
	if material.MaxStockLevel.IsPositive() && qty.GreaterThan(material.MaxStockLevel) {
		return []*models.NewStockAlert{{
			MaterialId:     material.ID,
			AlertType:      models.StockAlertTypeOverstock,
			ThresholdValue: material.MaxStockLevel,
			CurrentValue:   qty,
			Message: fmt.Sprintf("%s exceeds maximum stock level (%s %s on hand)",
				material.Name, qty, material.StockUnit),
		}}
	}
	return nil
}

// expiryAlertCondition classifies one batch's expiry: critical within 2 days,
// warning within 7, nil otherwise. Already-expired batches are out of the
// consumption candidate set but still raise critical until counted out.
func expiryAlertCondition(material *models.Material, batch *models.StockBatch, asOf time.Time) *models.NewStockAlert {
	if batch.ExpiryDate == nil || !batch.RemainingQty.IsPositive() {
		return nil
	}
	daysUntil := int(batch.ExpiryDate.Sub(asOf).Hours() / 24)
	if daysUntil > expiryWarningDays {
		return nil
	}

	alertType := models.StockAlertTypeExpiryWarning
	if daysUntil <= expiryCriticalDays {
		alertType = models.StockAlertTypeExpiryCritical
	}
	return &models.NewStockAlert{
		MaterialId:     material.ID,
		AlertType:      alertType,
		ThresholdValue: decimal.NewFromInt(int64(daysUntil)),
		CurrentValue:   batch.RemainingQty,
		Message: fmt.Sprintf("batch %s of %s expires on %s (%s %s remaining)",
			batch.BatchNumber, material.Name, batch.ExpiryDate.Format("2006-01-02"),
			batch.RemainingQty, material.StockUnit),
	}
}

// EvaluateMaterialAlerts re-checks quantity and expiry conditions for one
// material on the caller's transaction. Runs after every quantity-affecting
// mutation; dedup lives in EnsureUnresolvedAlert so repeated evaluation
// cannot flood the alert table. Returns the number of alerts touched.
func EvaluateMaterialAlerts(tx *gorm.DB, materialId int) (int, error) {

	var material models.Material
	if err := tx.First(&material, materialId).Error; err != nil {
		return 0, err
	}

	touched := 0
	for _, condition := range quantityAlertConditions(&material) {
		if _, err := models.EnsureUnresolvedAlert(tx, condition); err != nil {
			return touched, err
		}
		touched++
	}

	now := time.Now().UTC()
	var batches []*models.StockBatch
	err := tx.Model(&models.StockBatch{}).
		Where("material_id = ? AND remaining_qty > 0 AND expiry_date IS NOT NULL", materialId).
		Where("expiry_date <= ?", now.AddDate(0, 0, expiryWarningDays)).
		Order("expiry_date ASC").
		Find(&batches).Error
	if err != nil {
		return touched, err
	}
	for _, batch := range batches {
		condition := expiryAlertCondition(&material, batch, now)
		if condition == nil {
			continue
		}
		if _, err := models.EnsureUnresolvedAlert(tx, condition); err != nil {
			return touched, err
		}
		touched++
	}

	return touched, nil
}

// ScanExpiringBatches is the on-demand/scheduled sweep over every material
// holding stock that expires within the warning window.
func ScanExpiringBatches(ctx context.Context, logger *logrus.Logger) (int, error) {
	db := config.GetDB()
	now := time.Now().UTC()

	var materialIds []int
	err := db.WithContext(ctx).Model(&models.StockBatch{}).
		Where("remaining_qty > 0 AND expiry_date IS NOT NULL AND expiry_date <= ?", now.AddDate(0, 0, expiryWarningDays)).
		Distinct("material_id").
		Pluck("material_id", &materialIds).Error
	if err != nil {
		return 0, err
	}

	touched := 0
	for _, materialId := range materialIds {
		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			n, err := EvaluateMaterialAlerts(tx, materialId)
			touched += n
			return err
		})
		if err != nil {
			// keep sweeping; one bad material must not starve the rest
			config.LogError(logger, "workflow", "ScanExpiringBatches", "evaluate material", materialId, err)
		}
	}
	return touched, nil
}
