package main

import (
	"context"
	"log"
	"time"

	"bitbucket.org/mmdatafocus/resto_backend/config"
	"bitbucket.org/mmdatafocus/resto_backend/models"
	"bitbucket.org/mmdatafocus/resto_backend/utils"
	"bitbucket.org/mmdatafocus/resto_backend/workflow"
	"github.com/shopspring/decimal"
)

// Seeds a small dataset for local development: two materials with receipts,
// a recipe, a product, and a pending order ready to complete.
func main() {
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	ctx := utils.SetUserIdInContext(context.Background(), 1)
	logger := config.GetLogger()

	flour, err := models.CreateMaterial(ctx, &models.NewMaterial{
		Name:           "Flour",
		StockUnit:      "kg",
		RecipeUnit:     "kg",
		ConversionRate: decimal.NewFromInt(1),
		MinStockLevel:  decimal.NewFromInt(10),
		PurchasePrice:  decimal.NewFromFloat(2.2),
	})
	if err != nil {
		log.Fatalf("create flour: %v", err)
	}
	butter, err := models.CreateMaterial(ctx, &models.NewMaterial{
		Name:           "Butter",
		StockUnit:      "kg",
		RecipeUnit:     "g",
		ConversionRate: decimal.NewFromFloat(0.001),
		MinStockLevel:  decimal.NewFromInt(2),
		PurchasePrice:  decimal.NewFromInt(9),
		IsPerishable:   true,
		ShelfLifeDays:  30,
	})
	if err != nil {
		log.Fatalf("create butter: %v", err)
	}

	for _, receipt := range []*workflow.ReceiptInput{
		{MaterialId: flour.ID, Qty: decimal.NewFromInt(50), UnitCost: decimal.NewFromInt(2), ReceivedDate: time.Now().UTC().AddDate(0, 0, -2), UserId: 1, Note: "seed"},
		{MaterialId: flour.ID, Qty: decimal.NewFromInt(30), UnitCost: decimal.NewFromFloat(2.5), ReceivedDate: time.Now().UTC().AddDate(0, 0, -1), UserId: 1, Note: "seed"},
		{MaterialId: butter.ID, Qty: decimal.NewFromInt(5), UnitCost: decimal.NewFromInt(9), ReceivedDate: time.Now().UTC(), UserId: 1, Note: "seed"},
	} {
		if _, err := workflow.ProcessReceipt(ctx, logger, receipt); err != nil {
			log.Fatalf("seed receipt: %v", err)
		}
	}

	recipe, err := models.CreateRecipe(ctx, &models.NewRecipe{
		Name:        "Croissant",
		ServingSize: 4,
		Materials: []models.NewRecipeMaterial{
			{MaterialId: flour.ID, Qty: decimal.NewFromFloat(0.5)},
			{MaterialId: butter.ID, Qty: decimal.NewFromInt(120)}, // grams
		},
	})
	if err != nil {
		log.Fatalf("create recipe: %v", err)
	}

	db := config.GetDB()
	product := models.Product{Name: "Croissant", RecipeId: &recipe.ID, SalePrice: decimal.NewFromFloat(3.5), IsActive: utils.NewTrue()}
	if err := db.WithContext(ctx).Create(&product).Error; err != nil {
		log.Fatalf("create product: %v", err)
	}
	order := models.Order{
		OrderNumber: "DEV-1",
		Status:      models.OrderStatusPending,
		Items: []models.OrderItem{
			{ProductId: product.ID, Qty: decimal.NewFromInt(2)},
		},
	}
	if err := db.WithContext(ctx).Create(&order).Error; err != nil {
		log.Fatalf("create order: %v", err)
	}

	if _, err := workflow.CalculateRecipeCost(ctx, logger, recipe.ID, models.CostMethodFifo, 1); err != nil {
		log.Fatalf("initial recipe cost: %v", err)
	}

	log.Printf("seeded: materials=[%d %d] recipe=%d product=%d order=%d", flour.ID, butter.ID, recipe.ID, product.ID, order.ID)
}
