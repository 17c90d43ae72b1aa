package models

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/resto_backend/config"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// RecipeCostCalculation is an immutable costing snapshot. A recipe accumulates
// many; the one with the greatest CalculatedAt is the authoritative cost.
type RecipeCostCalculation struct {
	ID             int             `gorm:"primary_key" json:"id"`
	RecipeId       int             `gorm:"index:idx_recipe_cost_recipe_date,priority:1;not null" json:"recipe_id"`
	CalculatedAt   time.Time       `gorm:"index:idx_recipe_cost_recipe_date,priority:2;not null" json:"calculated_at"`
	TotalCost      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"total_cost"`
	CostPerServing decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"cost_per_serving"`
	Method         CostMethod      `gorm:"type:enum('Fifo','PurchasePrice','AverageCost');not null" json:"method"`
	Breakdown      json.RawMessage `gorm:"type:json" json:"breakdown"`
	UserId         int             `gorm:"not null" json:"user_id"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// RecipeCostLine is one material's share of a cost breakdown. Method records
// how the line was priced; a Fifo calculation marks fallback-priced lines
// AverageCost.
type RecipeCostLine struct {
	MaterialId   int             `json:"material_id"`
	MaterialName string          `json:"material_name"`
	StockQty     decimal.Decimal `json:"stock_qty"`
	StockUnit    string          `json:"stock_unit"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
	TotalCost    decimal.Decimal `json:"total_cost"`
	Method       CostMethod      `json:"method"`
}

type NewRecipeCostCalculation struct {
	RecipeId       int
	TotalCost      decimal.Decimal
	CostPerServing decimal.Decimal
	Method         CostMethod
	Lines          []RecipeCostLine
	UserId         int
}

// CreateRecipeCostCalculation appends a snapshot on the caller's transaction.
func CreateRecipeCostCalculation(tx *gorm.DB, input *NewRecipeCostCalculation) (*RecipeCostCalculation, error) {
	breakdown, err := json.Marshal(input.Lines)
	if err != nil {
		return nil, err
	}
	snapshot := RecipeCostCalculation{
		RecipeId:       input.RecipeId,
		CalculatedAt:   time.Now().UTC(),
		TotalCost:      input.TotalCost,
		CostPerServing: input.CostPerServing,
		Method:         input.Method,
		Breakdown:      breakdown,
		UserId:         input.UserId,
	}
	if err := tx.Create(&snapshot).Error; err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// LatestRecipeCost returns the newest snapshot, or nil when none exists.
func LatestRecipeCost(ctx context.Context, recipeId int) (*RecipeCostCalculation, error) {
	db := config.GetDB()
	var snapshot RecipeCostCalculation
	err := db.WithContext(ctx).
		Where("recipe_id = ?", recipeId).
		Order("calculated_at DESC, id DESC").
		First(&snapshot).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &snapshot, nil
}

// RecipeNeedsRecalculation is a read-side staleness check: true when no
// snapshot exists within the freshness window.
func RecipeNeedsRecalculation(ctx context.Context, recipeId int, window time.Duration) (bool, error) {
	latest, err := LatestRecipeCost(ctx, recipeId)
	if err != nil {
		return false, err
	}
	if latest == nil {
		return true, nil
	}
	return time.Since(latest.CalculatedAt) > window, nil
}

// DefaultCostFreshnessWindow is how long a cost snapshot stays authoritative.
const DefaultCostFreshnessWindow = 7 * 24 * time.Hour
