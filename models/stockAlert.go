package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/resto_backend/config"
	"bitbucket.org/mmdatafocus/resto_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// StockAlert is a materialized warning about a material's quantity or expiry
// state. At most one unresolved alert may exist per (material, alert type);
// Active is 1 while unresolved and NULL once resolved, so the composite
// unique index holds for unresolved rows only (MySQL allows repeated NULLs).
type StockAlert struct {
	ID             int             `gorm:"primary_key" json:"id"`
	MaterialId     int             `gorm:"uniqueIndex:idx_alert_material_type_active,priority:1;not null" json:"material_id"`
	AlertType      StockAlertType  `gorm:"type:enum('LowStock','OutOfStock','Overstock','ExpiryWarning','ExpiryCritical');uniqueIndex:idx_alert_material_type_active,priority:2;not null" json:"alert_type"`
	Active         *bool           `gorm:"uniqueIndex:idx_alert_material_type_active,priority:3" json:"-"`
	ThresholdValue decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"threshold_value"`
	CurrentValue   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"current_value"`
	Message        string          `gorm:"type:text" json:"message"`
	IsResolved     bool            `gorm:"not null;default:false;index" json:"is_resolved"`
	ResolvedAt     *time.Time      `json:"resolved_at"`
	ResolvedBy     *int            `json:"resolved_by"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewStockAlert struct {
	MaterialId     int
	AlertType      StockAlertType
	ThresholdValue decimal.Decimal
	CurrentValue   decimal.Decimal
	Message        string
}

// EnsureUnresolvedAlert finds the unresolved alert for (material, type) and
// updates its threshold/current/message in place, or inserts one. Runs on the
// caller's transaction; the unique index backstops a concurrent insert, in
// which case the row is re-fetched and updated. Evaluation never resolves —
// resolution is an explicit operator action.
func EnsureUnresolvedAlert(tx *gorm.DB, input *NewStockAlert) (*StockAlert, error) {
	if !input.AlertType.IsValid() {
		return nil, errors.New("invalid alert type")
	}

	var existing StockAlert
	err := tx.Where("material_id = ? AND alert_type = ? AND is_resolved = 0", input.MaterialId, input.AlertType).
		First(&existing).Error
	if err == nil {
		updateErr := tx.Model(&existing).Updates(map[string]interface{}{
			"ThresholdValue": input.ThresholdValue,
			"CurrentValue":   input.CurrentValue,
			"Message":        input.Message,
		}).Error
		if updateErr != nil {
			return nil, updateErr
		}
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	alert := StockAlert{
		MaterialId:     input.MaterialId,
		AlertType:      input.AlertType,
		Active:         utils.NewTrue(),
		ThresholdValue: input.ThresholdValue,
		CurrentValue:   input.CurrentValue,
		Message:        input.Message,
	}
	if createErr := tx.Create(&alert).Error; createErr != nil {
		if !isDuplicateKeyErr(createErr) {
			return nil, createErr
		}
		// lost the race: another writer inserted the unresolved row
		if err := tx.Where("material_id = ? AND alert_type = ? AND is_resolved = 0", input.MaterialId, input.AlertType).
			First(&existing).Error; err != nil {
			return nil, err
		}
		if err := tx.Model(&existing).Updates(map[string]interface{}{
			"ThresholdValue": input.ThresholdValue,
			"CurrentValue":   input.CurrentValue,
			"Message":        input.Message,
		}).Error; err != nil {
			return nil, err
		}
		return &existing, nil
	}
	return &alert, nil
}

// ResolveStockAlert marks an alert resolved with actor attribution.
func ResolveStockAlert(ctx context.Context, id int, actorId int) (*StockAlert, error) {

	alert, err := utils.FetchModel[StockAlert](ctx, id)
	if err != nil {
		return nil, err
	}
	if alert.IsResolved {
		return alert, nil
	}

	now := time.Now().UTC()
	db := config.GetDB()
	err = db.WithContext(ctx).Model(&alert).Updates(map[string]interface{}{
		"IsResolved": true,
		"Active":     gorm.Expr("NULL"),
		"ResolvedAt": now,
		"ResolvedBy": actorId,
	}).Error
	if err != nil {
		return nil, err
	}
	return alert, nil
}

// UnresolveStockAlert reopens a resolved alert. Fails with a duplicate-key
// error if another unresolved alert of the same type has appeared since.
func UnresolveStockAlert(ctx context.Context, id int) (*StockAlert, error) {

	alert, err := utils.FetchModel[StockAlert](ctx, id)
	if err != nil {
		return nil, err
	}
	if !alert.IsResolved {
		return alert, nil
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Model(&alert).Updates(map[string]interface{}{
		"IsResolved": false,
		"Active":     true,
		"ResolvedAt": gorm.Expr("NULL"),
		"ResolvedBy": gorm.Expr("NULL"),
	}).Error
	if err != nil {
		return nil, err
	}
	return alert, nil
}

// ListUnresolvedAlerts feeds the dashboard/notification collaborator.
func ListUnresolvedAlerts(ctx context.Context, materialId *int) ([]*StockAlert, error) {
	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&StockAlert{}).Where("is_resolved = 0")
	if materialId != nil && *materialId > 0 {
		dbCtx = dbCtx.Where("material_id = ?", *materialId)
	}
	var alerts []*StockAlert
	err := dbCtx.Order("updated_at DESC").Find(&alerts).Error
	if err != nil {
		return nil, err
	}
	return alerts, nil
}
