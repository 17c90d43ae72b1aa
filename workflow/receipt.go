package workflow

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/resto_backend/config"
	"bitbucket.org/mmdatafocus/resto_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type ReceiptInput struct {
	MaterialId   int             `json:"material_id" validate:"required"`
	Qty          decimal.Decimal `json:"qty" validate:"required"` // in stock units
	UnitCost     decimal.Decimal `json:"unit_cost"`
	ReceivedDate time.Time       `json:"received_date"`
	ExpiryDate   *time.Time      `json:"expiry_date"`
	SupplierId   *int            `json:"supplier_id"`
	UserId       int             `json:"user_id" validate:"required"`
	Note         string          `json:"note"`
}

type ReceiptResult struct {
	Batch         *models.StockBatch           `json:"batch"`
	Transaction   *models.InventoryTransaction `json:"transaction"`
	MaterialQty   decimal.Decimal              `json:"material_qty"`
	AlertsTouched int                          `json:"alerts_touched"`
}

// ProcessReceipt posts an inbound delivery: new batch + receipt ledger row +
// material quantity increment in one transaction under the material posting
// lock, then alert re-evaluation on the same transaction.
func ProcessReceipt(ctx context.Context, logger *logrus.Logger, input *ReceiptInput) (*ReceiptResult, error) {
	db := config.GetDB()

	receivedDate := input.ReceivedDate
	if receivedDate.IsZero() {
		receivedDate = time.Now().UTC()
	}

	// Perishables without an explicit expiry inherit the shelf life.
	material, err := models.GetMaterial(ctx, input.MaterialId)
	if err != nil {
		return nil, err
	}
	expiryDate := input.ExpiryDate
	if expiryDate == nil && material.IsPerishable != nil && *material.IsPerishable && material.ShelfLifeDays > 0 {
		d := receivedDate.AddDate(0, 0, material.ShelfLifeDays)
		expiryDate = &d
	}

	var result ReceiptResult
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Serialize per material, on the transaction's session.
		if err := AcquireMaterialPostingLock(tx, input.MaterialId); err != nil {
			return err
		}
		defer ReleaseMaterialPostingLock(tx, input.MaterialId)

		batch, err := models.CreateStockBatch(tx, ctx, &models.NewStockBatch{
			MaterialId:   input.MaterialId,
			Qty:          input.Qty,
			UnitCost:     input.UnitCost,
			ReceivedDate: receivedDate,
			ExpiryDate:   expiryDate,
			SupplierId:   input.SupplierId,
		})
		if err != nil {
			return err
		}

		refType := models.StockReferenceTypeBatch
		record, err := models.RecordInventoryTransaction(tx, ctx, &models.NewInventoryTransaction{
			MaterialId:    input.MaterialId,
			Type:          models.InventoryTransactionTypeReceipt,
			Qty:           input.Qty,
			UnitCost:      input.UnitCost,
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

		touched, err := EvaluateMaterialAlerts(tx, input.MaterialId)
		if err != nil {
			return err
		}

		result = ReceiptResult{
			Batch:         batch,
			Transaction:   record,
			AlertsTouched: touched,
		}
		return nil
	})
	if err != nil {
		config.LogError(logger, "workflow", "ProcessReceipt", "post receipt", input, err)
		return nil, err
	}

	refreshed, err := models.GetMaterial(ctx, input.MaterialId)
	if err != nil {
		return nil, err
	}
	result.MaterialQty = refreshed.Quantity
	return &result, nil
}
