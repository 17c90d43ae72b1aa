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

// InsufficientStockError is the aggregate shortfall across all available
// batches of a material. Recoverable: recipe costing falls back to purchase
// pricing, order completion records it per item and moves on.
type InsufficientStockError struct {
	MaterialId int
	Needed     decimal.Decimal
	Available  decimal.Decimal
	Unit       string
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for material_id=%d: needed %s %s, available %s %s",
		e.MaterialId, e.Needed, e.Unit, e.Available, e.Unit)
}

// BatchDraw is one batch's contribution to a draw-down, in FIFO order.
type BatchDraw struct {
	BatchId     int             `json:"batch_id"`
	BatchNumber string          `json:"batch_number"`
	Qty         decimal.Decimal `json:"qty"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	LineCost    decimal.Decimal `json:"line_cost"`
}

// DrawPlan is the deterministic result of walking available batches oldest
// first until the requested quantity is covered.
type DrawPlan struct {
	MaterialId int
	Qty        decimal.Decimal
	TotalCost  decimal.Decimal
	Draws      []BatchDraw
}

// UnitCost is the quantity-weighted average over the plan's draws.
func (p *DrawPlan) UnitCost() decimal.Decimal {
	if p.Qty.IsZero() {
		return decimal.Zero
	}
	return p.TotalCost.Div(p.Qty)
}

// BuildDrawPlan greedily takes min(needed, remaining) from each batch in the
// given order and stops once needed reaches zero. It never mutates the
// batches. When the batches cannot cover qty it returns InsufficientStockError
// carrying the total that was available.
func BuildDrawPlan(materialId int, batches []*models.StockBatch, qty decimal.Decimal, unit string) (*DrawPlan, error) {
	if !qty.IsPositive() {
		return nil, fmt.Errorf("draw qty must be positive, got %s", qty)
	}

	plan := DrawPlan{MaterialId: materialId, TotalCost: decimal.Zero}
	needed := qty
	for _, batch := range batches {
		if !needed.IsPositive() {
			break
		}
		take := decimal.Min(needed, batch.RemainingQty)
		if !take.IsPositive() {
			continue
		}
		lineCost := take.Mul(batch.UnitCost)
		plan.Draws = append(plan.Draws, BatchDraw{
			BatchId:     batch.ID,
			BatchNumber: batch.BatchNumber,
			Qty:         take,
			UnitCost:    batch.UnitCost,
			LineCost:    lineCost,
		})
		plan.Qty = plan.Qty.Add(take)
		plan.TotalCost = plan.TotalCost.Add(lineCost)
		needed = needed.Sub(take)
	}

	if needed.IsPositive() {
		available := decimal.Zero
		for _, batch := range batches {
			available = available.Add(batch.RemainingQty)
		}
		return nil, &InsufficientStockError{
			MaterialId: materialId,
			Needed:     qty,
			Available:  available,
			Unit:       unit,
		}
	}
	return &plan, nil
}

type ConsumeInput struct {
	MaterialId    int
	Qty           decimal.Decimal // in stock units
	UserId        int
	ReferenceType *models.StockReferenceType
	ReferenceId   *int
	Note          string
	// TransactionType defaults to Consumption; negative adjustments pass
	// Adjustment so the ledger reflects the operator action.
	TransactionType models.InventoryTransactionType
}

// ConsumptionResult reports a draw-down (committed or priced-only).
type ConsumptionResult struct {
	MaterialId    int             `json:"material_id"`
	Qty           decimal.Decimal `json:"qty"`
	TotalCost     decimal.Decimal `json:"total_cost"`
	UnitCost      decimal.Decimal `json:"unit_cost"`
	StockUnit     string          `json:"stock_unit"`
	Draws         []BatchDraw     `json:"draws"`
	TransactionId int             `json:"transaction_id"` // zero for price-only
}

// ConsumeMaterial is the destructive FIFO draw-down. It runs entirely on the
// caller's transaction: batch decrements, the material quantity update, and
// the single ledger row either all commit or all roll back, so the
// quantity == Σ remaining invariant never observably breaks. Callers must
// hold the material posting lock on the transaction's connection.
func ConsumeMaterial(tx *gorm.DB, ctx context.Context, logger *logrus.Logger, input *ConsumeInput) (*ConsumptionResult, error) {

	var material models.Material
	if err := tx.First(&material, input.MaterialId).Error; err != nil {
		return nil, err
	}

	batches, err := models.AvailableStockBatches(tx, input.MaterialId, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	plan, err := BuildDrawPlan(input.MaterialId, batches, input.Qty, material.StockUnit)
	if err != nil {
		return nil, err
	}

	for _, draw := range plan.Draws {
		if err := models.DecrementStockBatch(tx, draw.BatchId, draw.Qty); err != nil {
			// plan was computed from this transaction's view; a failure here is
			// a lost lock or a bug, and the whole posting must roll back
			config.LogError(logger, "workflow", "ConsumeMaterial", "decrement batch", draw, err)
			return nil, err
		}
	}

	if err := models.AddMaterialQuantity(tx, input.MaterialId, plan.Qty.Neg()); err != nil {
		return nil, err
	}

	transactionType := input.TransactionType
	if transactionType == "" {
		transactionType = models.InventoryTransactionTypeConsumption
	}
	record, err := models.RecordInventoryTransaction(tx, ctx, &models.NewInventoryTransaction{
		MaterialId:    input.MaterialId,
		Type:          transactionType,
		Qty:           plan.Qty.Neg(),
		UnitCost:      plan.UnitCost(),
		ReferenceType: input.ReferenceType,
		ReferenceId:   input.ReferenceId,
		UserId:        input.UserId,
		Note:          input.Note,
	})
	if err != nil {
		return nil, err
	}

	return &ConsumptionResult{
		MaterialId:    input.MaterialId,
		Qty:           plan.Qty,
		TotalCost:     plan.TotalCost,
		UnitCost:      plan.UnitCost(),
		StockUnit:     material.StockUnit,
		Draws:         plan.Draws,
		TransactionId: record.ID,
	}, nil
}

// PriceMaterial runs the identical FIFO walk without touching any batch.
// Side-effect free and idempotent; raises the same InsufficientStockError so
// callers can fall back to purchase-price costing.
func PriceMaterial(ctx context.Context, materialId int, qty decimal.Decimal) (*ConsumptionResult, error) {
	db := config.GetDB()

	var material models.Material
	if err := db.WithContext(ctx).First(&material, materialId).Error; err != nil {
		return nil, err
	}

	batches, err := models.AvailableStockBatches(db.WithContext(ctx), materialId, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	plan, err := BuildDrawPlan(materialId, batches, qty, material.StockUnit)
	if err != nil {
		return nil, err
	}

	return &ConsumptionResult{
		MaterialId: materialId,
		Qty:        plan.Qty,
		TotalCost:  plan.TotalCost,
		UnitCost:   plan.UnitCost(),
		StockUnit:  material.StockUnit,
		Draws:      plan.Draws,
	}, nil
}
