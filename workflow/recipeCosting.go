package workflow

import (
	"context"
	"errors"
	"fmt"

	"bitbucket.org/mmdatafocus/resto_backend/config"
	"bitbucket.org/mmdatafocus/resto_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// materialPricer prices a stock quantity of a material. The production
// implementation is PriceMaterial; tests inject fakes.
type materialPricer func(ctx context.Context, materialId int, qty decimal.Decimal) (*ConsumptionResult, error)

// buildCostLines prices each recipe line by the requested method. Costing is
// strictly non-destructive: the fifo path uses the price-only walk and, when
// stock cannot cover a line, falls back to purchase price with the line
// tagged AverageCost.
func buildCostLines(ctx context.Context, recipe *models.Recipe, materials map[int]*models.Material, method models.CostMethod, price materialPricer) ([]models.RecipeCostLine, error) {

	lines := make([]models.RecipeCostLine, 0, len(recipe.Materials))
	for _, rm := range recipe.Materials {
		material, ok := materials[rm.MaterialId]
		if !ok {
			return nil, fmt.Errorf("recipe %d references unknown material %d", recipe.ID, rm.MaterialId)
		}
		stockQty := rm.Qty.Mul(material.ConversionRate)

		line := models.RecipeCostLine{
			MaterialId:   material.ID,
			MaterialName: material.Name,
			StockQty:     stockQty,
			StockUnit:    material.StockUnit,
		}

		switch method {
		case models.CostMethodFifo:
			priced, err := price(ctx, material.ID, stockQty)
			if err != nil {
				var short *InsufficientStockError
				if !errors.As(err, &short) {
					return nil, err
				}
				line.UnitCost = material.PurchasePrice
				line.TotalCost = material.PurchasePrice.Mul(stockQty)
				line.Method = models.CostMethodAverageCost
			} else {
				line.UnitCost = priced.UnitCost
				line.TotalCost = priced.TotalCost
				line.Method = models.CostMethodFifo
			}
		case models.CostMethodPurchasePrice, models.CostMethodAverageCost:
			// AverageCost is an alias of PurchasePrice in the current design.
			line.UnitCost = material.PurchasePrice
			line.TotalCost = material.PurchasePrice.Mul(stockQty)
			line.Method = method
		default:
			return nil, fmt.Errorf("invalid cost method %q", method)
		}

		lines = append(lines, line)
	}
	return lines, nil
}

func sumCostLines(lines []models.RecipeCostLine) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(line.TotalCost)
	}
	return total
}

// CalculateRecipeCost prices a recipe and persists an immutable snapshot.
func CalculateRecipeCost(ctx context.Context, logger *logrus.Logger, recipeId int, method models.CostMethod, actorId int) (*models.RecipeCostCalculation, error) {

	recipe, err := models.GetRecipe(ctx, recipeId)
	if err != nil {
		return nil, err
	}

	materials, err := recipeMaterialIndex(ctx, recipe)
	if err != nil {
		return nil, err
	}

	lines, err := buildCostLines(ctx, recipe, materials, method, PriceMaterial)
	if err != nil {
		config.LogError(logger, "workflow", "CalculateRecipeCost", "build cost lines", recipeId, err)
		return nil, err
	}

	totalCost := sumCostLines(lines)
	servingSize := recipe.ServingSize
	if servingSize < 1 {
		servingSize = 1
	}
	costPerServing := totalCost.Div(decimal.NewFromInt(int64(servingSize)))

	db := config.GetDB()
	var snapshot *models.RecipeCostCalculation
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		snapshot, txErr = models.CreateRecipeCostCalculation(tx, &models.NewRecipeCostCalculation{
			RecipeId:       recipeId,
			TotalCost:      totalCost,
			CostPerServing: costPerServing,
			Method:         method,
			Lines:          lines,
			UserId:         actorId,
		})
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

func recipeMaterialIndex(ctx context.Context, recipe *models.Recipe) (map[int]*models.Material, error) {
	ids := make([]int, 0, len(recipe.Materials))
	for _, rm := range recipe.Materials {
		ids = append(ids, rm.MaterialId)
	}
	db := config.GetDB()
	var materials []*models.Material
	if err := db.WithContext(ctx).Where("id IN ?", ids).Find(&materials).Error; err != nil {
		return nil, err
	}
	index := make(map[int]*models.Material, len(materials))
	for _, m := range materials {
		index[m.ID] = m
	}
	return index, nil
}
