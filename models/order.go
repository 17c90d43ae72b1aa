package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/resto_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Product is the sellable item. RecipeId is nullable: orders for recipe-less
// products complete without consuming inventory.
type Product struct {
	ID        int             `gorm:"primary_key" json:"id"`
	Name      string          `gorm:"size:100;not null" json:"name"`
	RecipeId  *int            `gorm:"index" json:"recipe_id"`
	SalePrice decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"sale_price"`
	IsActive  *bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// Order and OrderItem are collaborator entities; the ledger core only owns
// the Pending -> Completed transition and the consumption it drives.
type Order struct {
	ID          int         `gorm:"primary_key" json:"id"`
	OrderNumber string      `gorm:"size:100;uniqueIndex;not null" json:"order_number"`
	Status      OrderStatus `gorm:"type:enum('Pending','Completed','Cancelled');default:'Pending';index" json:"status"`
	Items       []OrderItem `gorm:"foreignKey:OrderId" json:"items"`
	CompletedAt *time.Time  `json:"completed_at"`
	CreatedAt   time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

type OrderItem struct {
	ID        int             `gorm:"primary_key" json:"id"`
	OrderId   int             `gorm:"index;not null" json:"order_id"`
	ProductId int             `gorm:"index;not null" json:"product_id"`
	Qty       decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func GetProduct(ctx context.Context, id int) (*Product, error) {
	return utils.FetchModel[Product](ctx, id)
}

func GetOrder(ctx context.Context, id int) (*Order, error) {
	return utils.FetchModel[Order](ctx, id, "Items")
}

// MarkOrderCompleted performs the guarded Pending -> Completed edge. Returns
// false when the order was not pending (already completed, cancelled, or
// missing) — the caller must then skip consumption entirely.
func MarkOrderCompleted(tx *gorm.DB, orderId int) (bool, error) {
	now := time.Now().UTC()
	result := tx.Model(&Order{}).
		Where("id = ? AND status = ?", orderId, OrderStatusPending).
		Updates(map[string]interface{}{
			"Status":      OrderStatusCompleted,
			"CompletedAt": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
