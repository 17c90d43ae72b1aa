package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/resto_backend/config"
	"bitbucket.org/mmdatafocus/resto_backend/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// InventoryTransaction is the append-only ledger of quantity movements.
// Qty is signed: positive for receipts/increases, negative for consumption.
// Rows are never updated or deleted; valuation reporting depends on that.
type InventoryTransaction struct {
	ID            int                      `gorm:"primary_key" json:"id"`
	MaterialId    int                      `gorm:"index:idx_inv_tns_material_date,priority:1;not null" json:"material_id"`
	Type          InventoryTransactionType `gorm:"type:enum('Receipt','Consumption','Adjustment');not null" json:"type"`
	Qty           decimal.Decimal          `gorm:"type:decimal(20,4);not null" json:"qty"`
	UnitCost      decimal.Decimal          `gorm:"type:decimal(20,4);default:0" json:"unit_cost"`
	ReferenceType *StockReferenceType      `gorm:"type:enum('SB','OI','ADJ')" json:"reference_type"`
	ReferenceId   *int                     `gorm:"index" json:"reference_id"`
	UserId        int                      `gorm:"index;not null" json:"user_id"`
	Note          string                   `gorm:"type:text" json:"note"`
	CorrelationId string                   `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time                `gorm:"autoCreateTime;index:idx_inv_tns_material_date,priority:2" json:"created_at"`
}

type NewInventoryTransaction struct {
	MaterialId    int
	Type          InventoryTransactionType
	Qty           decimal.Decimal
	UnitCost      decimal.Decimal
	ReferenceType *StockReferenceType
	ReferenceId   *int
	UserId        int
	Note          string
}

// RecordInventoryTransaction appends one ledger row on the caller's
// transaction. Every mutation of Material.Quantity or a batch's remaining
// quantity must pair with exactly one call in the same transaction.
func RecordInventoryTransaction(tx *gorm.DB, ctx context.Context, input *NewInventoryTransaction) (*InventoryTransaction, error) {
	if !input.Type.IsValid() {
		return nil, errors.New("invalid inventory transaction type")
	}
	if input.Qty.IsZero() {
		return nil, errors.New("ledger entry qty cannot be zero")
	}
	switch input.Type {
	case InventoryTransactionTypeReceipt:
		if input.Qty.IsNegative() {
			return nil, errors.New("receipt qty must be positive")
		}
	case InventoryTransactionTypeConsumption:
		if input.Qty.IsPositive() {
			return nil, errors.New("consumption qty must be negative")
		}
	}

	record := InventoryTransaction{
		MaterialId:    input.MaterialId,
		Type:          input.Type,
		Qty:           input.Qty,
		UnitCost:      input.UnitCost,
		ReferenceType: input.ReferenceType,
		ReferenceId:   input.ReferenceId,
		UserId:        input.UserId,
		Note:          input.Note,
		CorrelationId: correlationIdFromContextOrNew(ctx),
	}
	if err := tx.Create(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

// ListInventoryTransactions returns ledger rows for a material, newest first,
// optionally bounded by date.
func ListInventoryTransactions(ctx context.Context, materialId int, from *time.Time, to *time.Time, limit int) ([]*InventoryTransaction, error) {
	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&InventoryTransaction{}).Where("material_id = ?", materialId)
	if from != nil {
		dbCtx = dbCtx.Where("created_at >= ?", *from)
	}
	if to != nil {
		dbCtx = dbCtx.Where("created_at <= ?", *to)
	}
	if limit <= 0 {
		limit = config.SearchLimit
	}
	var rows []*InventoryTransaction
	err := dbCtx.Order("created_at DESC, id DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// LedgerQuantitySum is the signed ledger total for a material; with a correct
// ledger it reconciles with Material.Quantity.
func LedgerQuantitySum(tx *gorm.DB, materialId int) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := tx.Model(&InventoryTransaction{}).
		Where("material_id = ?", materialId).
		Select("COALESCE(SUM(qty), 0)").
		Scan(&total).Error
	return total, err
}
