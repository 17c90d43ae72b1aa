package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/resto_backend/config"
	"bitbucket.org/mmdatafocus/resto_backend/utils"
	"github.com/shopspring/decimal"
)

// Recipe owns a set of material requirements. RecipeMaterial quantities are
// always in the material's recipe unit; conversion to stock units happens at
// costing/consumption time via Material.ConversionRate.
type Recipe struct {
	ID          int              `gorm:"primary_key" json:"id"`
	Name        string           `gorm:"size:100;not null" json:"name"`
	ServingSize int              `gorm:"not null;default:1" json:"serving_size"`
	IsActive    *bool            `gorm:"not null;default:true" json:"is_active"`
	Materials   []RecipeMaterial `gorm:"foreignKey:RecipeId" json:"materials"`
	CreatedAt   time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

type RecipeMaterial struct {
	ID         int             `gorm:"primary_key" json:"id"`
	RecipeId   int             `gorm:"index;not null" json:"recipe_id"`
	MaterialId int             `gorm:"index;not null" json:"material_id"`
	Qty        decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty"` // in recipe units, per serving
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewRecipeMaterial struct {
	MaterialId int             `json:"material_id" validate:"required"`
	Qty        decimal.Decimal `json:"qty" validate:"required"`
}

type NewRecipe struct {
	Name        string              `json:"name" validate:"required"`
	ServingSize int                 `json:"serving_size"`
	Materials   []NewRecipeMaterial `json:"materials" validate:"required,min=1,dive"`
}

func (input *NewRecipe) validate(ctx context.Context, id int) error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if err := utils.ValidateUnique[Recipe](ctx, "name", strings.TrimSpace(input.Name), id); err != nil {
		return err
	}
	if input.ServingSize < 0 {
		return errors.New("serving size cannot be negative")
	}
	seen := make(map[int]bool)
	for _, line := range input.Materials {
		if !line.Qty.IsPositive() {
			return errors.New("recipe material qty must be positive")
		}
		if seen[line.MaterialId] {
			return errors.New("duplicate material in recipe")
		}
		seen[line.MaterialId] = true
		if err := utils.ValidateResourceId[Material](ctx, line.MaterialId); err != nil {
			return errors.New("material not found")
		}
	}
	return nil
}

func CreateRecipe(ctx context.Context, input *NewRecipe) (*Recipe, error) {

	if err := input.validate(ctx, 0); err != nil {
		return nil, err
	}

	servingSize := input.ServingSize
	if servingSize == 0 {
		servingSize = 1
	}
	recipe := Recipe{
		Name:        strings.TrimSpace(input.Name),
		ServingSize: servingSize,
		IsActive:    utils.NewTrue(),
	}
	for _, line := range input.Materials {
		recipe.Materials = append(recipe.Materials, RecipeMaterial{
			MaterialId: line.MaterialId,
			Qty:        line.Qty,
		})
	}

	// db action
	db := config.GetDB()
	err := db.WithContext(ctx).Create(&recipe).Error
	if err != nil {
		return nil, err
	}
	return &recipe, nil
}

func UpdateRecipe(ctx context.Context, id int, input *NewRecipe) (*Recipe, error) {

	if err := input.validate(ctx, id); err != nil {
		return nil, err
	}

	recipe, err := utils.FetchModel[Recipe](ctx, id)
	if err != nil {
		return nil, err
	}

	servingSize := input.ServingSize
	if servingSize == 0 {
		servingSize = 1
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if err := tx.Model(&recipe).Updates(map[string]interface{}{
		"Name":        strings.TrimSpace(input.Name),
		"ServingSize": servingSize,
	}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	// replace lines wholesale; cost snapshots keep their own material detail
	if err := tx.Where("recipe_id = ?", id).Delete(&RecipeMaterial{}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	lines := make([]RecipeMaterial, 0, len(input.Materials))
	for _, line := range input.Materials {
		lines = append(lines, RecipeMaterial{
			RecipeId:   id,
			MaterialId: line.MaterialId,
			Qty:        line.Qty,
		})
	}
	if err := tx.Create(&lines).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	return utils.FetchModel[Recipe](ctx, id, "Materials")
}

func GetRecipe(ctx context.Context, id int) (*Recipe, error) {
	return utils.FetchModel[Recipe](ctx, id, "Materials")
}
