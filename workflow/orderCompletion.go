package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"bitbucket.org/mmdatafocus/resto_backend/config"
	"bitbucket.org/mmdatafocus/resto_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ErrOrderNotPending means the Pending -> Completed edge did not fire: the
// order was already completed, cancelled, or missing. Consumption is skipped
// entirely, which is what makes repeated completion calls safe.
var ErrOrderNotPending = errors.New("order is not pending")

// MaterialConsumption is the per-material detail of one order item's draw.
type MaterialConsumption struct {
	MaterialId    int             `json:"material_id"`
	RequiredQty   decimal.Decimal `json:"required_qty"` // in stock units
	ConsumedQty   decimal.Decimal `json:"consumed_qty"`
	StockUnit     string          `json:"stock_unit"`
	TotalCost     decimal.Decimal `json:"total_cost"`
	Draws         []BatchDraw     `json:"draws"`
	TransactionId int             `json:"transaction_id"`
}

// ItemConsumption is one order item's consumption record. Materials is empty
// for recipe-less products — those items complete as no-ops.
type ItemConsumption struct {
	OrderItemId int                   `json:"order_item_id"`
	ProductId   int                   `json:"product_id"`
	RecipeId    *int                  `json:"recipe_id"`
	Materials   []MaterialConsumption `json:"materials"`
}

// ItemFailure captures an insufficiency against one item without aborting the
// rest of the order.
type ItemFailure struct {
	OrderItemId int   `json:"order_item_id"`
	MaterialId  int   `json:"material_id"`
	Err         error `json:"-"`
}

func (f ItemFailure) Error() string {
	return fmt.Sprintf("item %d material %d: %v", f.OrderItemId, f.MaterialId, f.Err)
}

// OrderCompletionError aggregates per-item failures after every item has been
// attempted. Consumption committed for other items stays committed.
type OrderCompletionError struct {
	OrderId  int
	Failures []ItemFailure
}

func (e *OrderCompletionError) Error() string {
	msgs := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		msgs = append(msgs, f.Error())
	}
	return fmt.Sprintf("order %d completed with %d failed item(s): %s",
		e.OrderId, len(e.Failures), strings.Join(msgs, "; "))
}

type OrderCompletionResult struct {
	OrderId  int               `json:"order_id"`
	Items    []ItemConsumption `json:"items"`
	Failures []ItemFailure     `json:"failures,omitempty"`
}

// CompleteOrder drives inventory consumption for an order's items on the
// Pending -> Completed transition. Each material posts in its own transaction
// under its posting lock; an insufficiency is recorded against the item and
// processing continues with the next item (deliberate business decision — no
// cross-item rollback). Afterwards every touched material is re-checked for
// alerts and every distinct recipe used gets a fresh Fifo cost snapshot.
func CompleteOrder(ctx context.Context, logger *logrus.Logger, orderId int, actorId int) (*OrderCompletionResult, error) {
	db := config.GetDB()

	// The guarded UPDATE is the idempotency gate: re-running for an order
	// that already left Pending must not double-decrement stock.
	var fired bool
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		fired, txErr = models.MarkOrderCompleted(tx, orderId)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	if !fired {
		return nil, ErrOrderNotPending
	}

	order, err := models.GetOrder(ctx, orderId)
	if err != nil {
		return nil, err
	}

	result := OrderCompletionResult{OrderId: orderId}
	touchedMaterials := make(map[int]bool)
	recipesUsed := make(map[int]bool)

	for _, item := range order.Items {
		product, err := models.GetProduct(ctx, item.ProductId)
		if err != nil {
			result.Failures = append(result.Failures, ItemFailure{OrderItemId: item.ID, Err: err})
			continue
		}

		detail := ItemConsumption{
			OrderItemId: item.ID,
			ProductId:   item.ProductId,
			RecipeId:    product.RecipeId,
			Materials:   []MaterialConsumption{},
		}
		// Orders for recipe-less products must not fail; record the no-op.
		if product.RecipeId == nil {
			result.Items = append(result.Items, detail)
			continue
		}

		recipe, err := models.GetRecipe(ctx, *product.RecipeId)
		if err != nil {
			result.Failures = append(result.Failures, ItemFailure{OrderItemId: item.ID, Err: err})
			continue
		}
		materials, err := recipeMaterialIndex(ctx, recipe)
		if err != nil {
			return nil, err
		}
		recipesUsed[recipe.ID] = true

		itemFailed := false
		for _, rm := range recipe.Materials {
			material, ok := materials[rm.MaterialId]
			if !ok {
				result.Failures = append(result.Failures, ItemFailure{
					OrderItemId: item.ID,
					MaterialId:  rm.MaterialId,
					Err:         fmt.Errorf("material %d not found", rm.MaterialId),
				})
				itemFailed = true
				break
			}
			requiredQty := rm.Qty.Mul(item.Qty).Mul(material.ConversionRate)

			consumption, err := consumeForOrderItem(ctx, logger, material.ID, requiredQty, item.ID, actorId, order.OrderNumber)
			if err != nil {
				result.Failures = append(result.Failures, ItemFailure{
					OrderItemId: item.ID,
					MaterialId:  material.ID,
					Err:         err,
				})
				itemFailed = true
				// materials already consumed for this item stay committed;
				// move on to the next item
				break
			}
			touchedMaterials[material.ID] = true
			detail.Materials = append(detail.Materials, MaterialConsumption{
				MaterialId:    material.ID,
				RequiredQty:   requiredQty,
				ConsumedQty:   consumption.Qty,
				StockUnit:     consumption.StockUnit,
				TotalCost:     consumption.TotalCost,
				Draws:         consumption.Draws,
				TransactionId: consumption.TransactionId,
			})
		}
		// A failed item still reports the materials it consumed before the
		// failure; those draws are committed and ledgered.
		if !itemFailed || len(detail.Materials) > 0 {
			result.Items = append(result.Items, detail)
		}
	}

	for materialId := range touchedMaterials {
		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			_, txErr := EvaluateMaterialAlerts(tx, materialId)
			return txErr
		})
		if err != nil {
			config.LogError(logger, "workflow", "CompleteOrder", "re-evaluate alerts", materialId, err)
		}
	}

	for recipeId := range recipesUsed {
		if _, err := CalculateRecipeCost(ctx, logger, recipeId, models.CostMethodFifo, actorId); err != nil {
			config.LogError(logger, "workflow", "CompleteOrder", "refresh recipe cost", recipeId, err)
		}
	}

	if len(result.Failures) > 0 {
		return &result, &OrderCompletionError{OrderId: orderId, Failures: result.Failures}
	}
	return &result, nil
}

// consumeForOrderItem posts one material's draw in its own transaction under
// the material posting lock, referencing the order item in the ledger.
func consumeForOrderItem(ctx context.Context, logger *logrus.Logger, materialId int, qty decimal.Decimal, orderItemId int, actorId int, orderNumber string) (*ConsumptionResult, error) {
	db := config.GetDB()

	var consumption *ConsumptionResult
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Serialize per material, on the transaction's session.
		if err := AcquireMaterialPostingLock(tx, materialId); err != nil {
			return err
		}
		defer ReleaseMaterialPostingLock(tx, materialId)

		refType := models.StockReferenceTypeOrderItem
		var txErr error
		consumption, txErr = ConsumeMaterial(tx, ctx, logger, &ConsumeInput{
			MaterialId:    materialId,
			Qty:           qty,
			UserId:        actorId,
			ReferenceType: &refType,
			ReferenceId:   &orderItemId,
			Note:          fmt.Sprintf("order %s", orderNumber),
		})
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return consumption, nil
}
