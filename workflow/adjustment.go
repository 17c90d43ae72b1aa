package workflow

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/resto_backend/config"
	"bitbucket.org/mmdatafocus/resto_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type AdjustmentInput struct {
	MaterialId int              `json:"material_id" validate:"required"`
	Qty        decimal.Decimal  `json:"qty" validate:"required"` // signed, in stock units
	UnitCost   *decimal.Decimal `json:"unit_cost"`               // positive adjustments only; defaults to purchase price
	UserId     int              `json:"user_id" validate:"required"`
	Note       string           `json:"note"`
}

type AdjustmentResult struct {
	Batch       *models.StockBatch           `json:"batch,omitempty"` // set for positive adjustments
	Consumption *ConsumptionResult           `json:"consumption,omitempty"`
	Transaction *models.InventoryTransaction `json:"transaction,omitempty"`
}

// ProcessAdjustment posts a manual stock correction. A positive quantity
// creates a fresh batch (so its value reconciles like any receipt); a
// negative quantity consumes FIFO like an order would. Insufficient stock
// rolls the whole adjustment back — nothing partial survives.
func ProcessAdjustment(ctx context.Context, logger *logrus.Logger, input *AdjustmentInput) (*AdjustmentResult, error) {
	if input.Qty.IsZero() {
		return nil, errors.New("adjustment qty cannot be zero")
	}

	material, err := models.GetMaterial(ctx, input.MaterialId)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	var result AdjustmentResult
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Serialize per material, on the transaction's session.
		if err := AcquireMaterialPostingLock(tx, input.MaterialId); err != nil {
			return err
		}
		defer ReleaseMaterialPostingLock(tx, input.MaterialId)

		if input.Qty.IsPositive() {
			unitCost := material.PurchasePrice
			if input.UnitCost != nil {
				unitCost = *input.UnitCost
			}
			batch, err := models.CreateStockBatch(tx, ctx, &models.NewStockBatch{
				MaterialId:   input.MaterialId,
				Qty:          input.Qty,
				UnitCost:     unitCost,
				ReceivedDate: time.Now().UTC(),
			})
			if err != nil {
				return err
			}
			refType := models.StockReferenceTypeAdjustment
			record, err := models.RecordInventoryTransaction(tx, ctx, &models.NewInventoryTransaction{
				MaterialId:    input.MaterialId,
				Type:          models.InventoryTransactionTypeAdjustment,
				Qty:           input.Qty,
				UnitCost:      unitCost,
				ReferenceType: &refType,
				ReferenceId:   &batch.ID,
				UserId:        input.UserId,
				Note:          input.Note,
			})
			if err != nil {
				return err
			}
			if err := models.AddMaterialQuantity(tx, input.MaterialId, input.Qty); err != nil {
				return err
			}
			result.Batch = batch
			result.Transaction = record
		} else {
			refType := models.StockReferenceTypeAdjustment
			consumption, err := ConsumeMaterial(tx, ctx, logger, &ConsumeInput{
				MaterialId:      input.MaterialId,
				Qty:             input.Qty.Neg(),
				UserId:          input.UserId,
				ReferenceType:   &refType,
				Note:            input.Note,
				TransactionType: models.InventoryTransactionTypeAdjustment,
			})
			if err != nil {
				return err
			}
			result.Consumption = consumption
		}

		_, err := EvaluateMaterialAlerts(tx, input.MaterialId)
		return err
	})
	if err != nil {
		var short *InsufficientStockError
		if !errors.As(err, &short) {
			config.LogError(logger, "workflow", "ProcessAdjustment", "post adjustment", input, err)
		}
		return nil, err
	}
	return &result, nil
}
