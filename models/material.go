package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/resto_backend/config"
	"bitbucket.org/mmdatafocus/resto_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// materialCacheTTL bounds staleness from a read racing a posting commit.
const materialCacheTTL = 5 * time.Minute

func materialCacheKey(id int) string {
	return fmt.Sprintf("material:%d", id)
}

func InvalidateMaterialCache(id int) {
	_ = config.RemoveRedisKey(materialCacheKey(id))
}

// Material is a stock-keeping unit. Quantity is denormalized and must always
// equal the sum of remaining quantities over the material's batches; every
// mutation maintains it inside the same DB transaction as the batch change.
type Material struct {
	ID             int             `gorm:"primary_key" json:"id"`
	Name           string          `gorm:"size:100;not null;index" json:"name"`
	StockUnit      string          `gorm:"size:20;not null" json:"stock_unit"`
	RecipeUnit     string          `gorm:"size:20;not null" json:"recipe_unit"`
	ConversionRate decimal.Decimal `gorm:"type:decimal(20,4);default:1" json:"conversion_rate"` // recipe unit -> stock unit
	Quantity       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"quantity"`
	MinStockLevel  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"min_stock_level"`
	MaxStockLevel  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"max_stock_level"`
	ReorderPoint   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"reorder_point"`
	ReorderQty     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"reorder_qty"`
	PurchasePrice  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"purchase_price"`
	IsPerishable   *bool           `gorm:"not null;default:false" json:"is_perishable"`
	ShelfLifeDays  int             `gorm:"default:0" json:"shelf_life_days"`
	IsActive       *bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewMaterial struct {
	Name           string          `json:"name" validate:"required"`
	StockUnit      string          `json:"stock_unit" validate:"required"`
	RecipeUnit     string          `json:"recipe_unit" validate:"required"`
	ConversionRate decimal.Decimal `json:"conversion_rate"`
	MinStockLevel  decimal.Decimal `json:"min_stock_level"`
	MaxStockLevel  decimal.Decimal `json:"max_stock_level"`
	ReorderPoint   decimal.Decimal `json:"reorder_point"`
	ReorderQty     decimal.Decimal `json:"reorder_qty"`
	PurchasePrice  decimal.Decimal `json:"purchase_price"`
	IsPerishable   bool            `json:"is_perishable"`
	ShelfLifeDays  int             `json:"shelf_life_days"`
}

// validate input for both create & update. (id = 0 for create)
func (input *NewMaterial) validate(ctx context.Context, id int) error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if err := utils.ValidateUnique[Material](ctx, "name", strings.TrimSpace(input.Name), id); err != nil {
		return err
	}
	if input.ConversionRate.IsNegative() || input.ConversionRate.IsZero() {
		return errors.New("conversion rate must be positive")
	}
	if input.MinStockLevel.IsNegative() || input.MaxStockLevel.IsNegative() {
		return errors.New("stock levels cannot be negative")
	}
	if input.PurchasePrice.IsNegative() {
		return errors.New("purchase price cannot be negative")
	}
	return nil
}

func CreateMaterial(ctx context.Context, input *NewMaterial) (*Material, error) {

	if err := input.validate(ctx, 0); err != nil {
		return nil, err
	}

	material := Material{
		Name:           strings.TrimSpace(input.Name),
		StockUnit:      input.StockUnit,
		RecipeUnit:     input.RecipeUnit,
		ConversionRate: input.ConversionRate,
		Quantity:       decimal.Zero,
		MinStockLevel:  input.MinStockLevel,
		MaxStockLevel:  input.MaxStockLevel,
		ReorderPoint:   input.ReorderPoint,
		ReorderQty:     input.ReorderQty,
		PurchasePrice:  input.PurchasePrice,
		ShelfLifeDays:  input.ShelfLifeDays,
		IsActive:       utils.NewTrue(),
	}
	if input.IsPerishable {
		material.IsPerishable = utils.NewTrue()
	} else {
		material.IsPerishable = utils.NewFalse()
	}

	// db action
	db := config.GetDB()
	err := db.WithContext(ctx).Create(&material).Error
	if err != nil {
		return nil, err
	}
	return &material, nil
}

func UpdateMaterial(ctx context.Context, id int, input *NewMaterial) (*Material, error) {

	if err := input.validate(ctx, id); err != nil {
		return nil, err
	}

	material, err := utils.FetchModel[Material](ctx, id)
	if err != nil {
		return nil, err
	}

	// Quantity is never written here; it belongs to the posting workflows.
	db := config.GetDB()
	err = db.WithContext(ctx).Model(&material).Updates(map[string]interface{}{
		"Name":           strings.TrimSpace(input.Name),
		"StockUnit":      input.StockUnit,
		"RecipeUnit":     input.RecipeUnit,
		"ConversionRate": input.ConversionRate,
		"MinStockLevel":  input.MinStockLevel,
		"MaxStockLevel":  input.MaxStockLevel,
		"ReorderPoint":   input.ReorderPoint,
		"ReorderQty":     input.ReorderQty,
		"PurchasePrice":  input.PurchasePrice,
		"IsPerishable":   input.IsPerishable,
		"ShelfLifeDays":  input.ShelfLifeDays,
	}).Error
	if err != nil {
		return nil, err
	}
	InvalidateMaterialCache(id)

	return material, nil
}

// GetMaterial serves reads through the redis object cache. Every quantity or
// attribute write invalidates the key, so cached rows are at most one posting
// behind a concurrent writer, within materialCacheTTL.
func GetMaterial(ctx context.Context, id int) (*Material, error) {
	var cached Material
	if ok, err := config.GetRedisObject(materialCacheKey(id), &cached); err == nil && ok {
		return &cached, nil
	}
	material, err := utils.FetchModel[Material](ctx, id)
	if err != nil {
		return nil, err
	}
	_ = config.SetRedisObject(materialCacheKey(id), material, materialCacheTTL)
	return material, nil
}

// ListMaterials returns the whole registry; reporting and maintenance reads.
func ListMaterials(ctx context.Context) ([]*Material, error) {
	return utils.FetchAllModels[Material](ctx)
}

// DeleteMaterial refuses when any batch or ledger row references the material;
// history must stay auditable.
func DeleteMaterial(ctx context.Context, id int) (*Material, error) {

	material, err := utils.FetchModel[Material](ctx, id)
	if err != nil {
		return nil, err
	}

	batchCount, err := utils.ResourceCountWhere[StockBatch](ctx, "material_id = ?", id)
	if err != nil {
		return nil, err
	}
	if batchCount > 0 {
		return nil, errors.New("material has stock batches and cannot be deleted")
	}
	transactionCount, err := utils.ResourceCountWhere[InventoryTransaction](ctx, "material_id = ?", id)
	if err != nil {
		return nil, err
	}
	if transactionCount > 0 {
		return nil, errors.New("material has ledger entries and cannot be deleted")
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Delete(&material).Error; err != nil {
		return nil, err
	}
	InvalidateMaterialCache(id)
	return material, nil
}

// AddMaterialQuantity shifts the denormalized on-hand quantity by delta
// (negative for consumption) on the caller's transaction.
func AddMaterialQuantity(tx *gorm.DB, materialId int, delta decimal.Decimal) error {
	err := tx.Model(&Material{}).
		Where("id = ?", materialId).
		UpdateColumn("quantity", gorm.Expr("quantity + ?", delta)).Error
	if err != nil {
		return err
	}
	InvalidateMaterialCache(materialId)
	return nil
}

// MaterialBatchQuantitySum returns Σ remaining_qty over the material's batches,
// the value Material.Quantity must reconcile with.
func MaterialBatchQuantitySum(tx *gorm.DB, materialId int) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := tx.Model(&StockBatch{}).
		Where("material_id = ?", materialId).
		Select("COALESCE(SUM(remaining_qty), 0)").
		Scan(&total).Error
	return total, err
}
