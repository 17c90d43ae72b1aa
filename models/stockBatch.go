package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"bitbucket.org/mmdatafocus/resto_backend/config"
	"bitbucket.org/mmdatafocus/resto_backend/utils"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	// ErrInsufficientBatchQty means a single batch was asked for more than it
	// holds. The consumption engine never does this; treat as a programming error.
	ErrInsufficientBatchQty = errors.New("decrement exceeds batch remaining quantity")

	// ErrBatchDeletionConflict means the batch (or its originating receipt) has
	// been partially consumed; reverse via an adjustment instead.
	ErrBatchDeletionConflict = errors.New("batch has recorded consumption and cannot be deleted")
)

// StockBatch is a cost-homogeneous lot of a material. UnitCost is immutable
// once set; RemainingQty only ever decreases, through DecrementStockBatch.
type StockBatch struct {
	ID            int                 `gorm:"primary_key" json:"id"`
	MaterialId    int                 `gorm:"index:idx_batch_material_received,priority:1;not null" json:"material_id"`
	BatchNumber   string              `gorm:"size:100;uniqueIndex;not null" json:"batch_number"`
	Qty           decimal.Decimal     `gorm:"type:decimal(20,4);not null" json:"qty"`
	RemainingQty  decimal.Decimal     `gorm:"type:decimal(20,4);not null" json:"remaining_qty"`
	UnitCost      decimal.Decimal     `gorm:"type:decimal(20,4);not null" json:"unit_cost"`
	ReceivedDate  time.Time           `gorm:"index:idx_batch_material_received,priority:2;not null" json:"received_date"`
	ExpiryDate    *time.Time          `gorm:"index" json:"expiry_date"`
	SupplierId    *int                `gorm:"index" json:"supplier_id"`
	ReferenceType *StockReferenceType `gorm:"type:enum('SB','OI','ADJ')" json:"reference_type"`
	ReferenceId   *int                `json:"reference_id"`
	CreatedAt     time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewStockBatch struct {
	MaterialId   int             `json:"material_id" validate:"required"`
	Qty          decimal.Decimal `json:"qty" validate:"required"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
	ReceivedDate time.Time       `json:"received_date" validate:"required"`
	ExpiryDate   *time.Time      `json:"expiry_date"`
	SupplierId   *int            `json:"supplier_id"`
}

// UsagePercent = consumed / original, for audit views. Zero for empty batches.
func (b *StockBatch) UsagePercent() decimal.Decimal {
	if b.Qty.IsZero() {
		return decimal.Zero
	}
	consumed := b.Qty.Sub(b.RemainingQty)
	return consumed.Div(b.Qty).Mul(decimal.NewFromInt(100))
}

func (b *StockBatch) IsExpiredAt(asOf time.Time) bool {
	return b.ExpiryDate != nil && !b.ExpiryDate.After(asOf)
}

// AvailableStockBatches returns the FIFO consumption candidates: remaining
// quantity > 0 and not expired as of asOf. Ordered by received date then id —
// the id tie-break keeps same-day receipts deterministic.
// Expired batches stay out of the draw but remain queryable for reporting.
func AvailableStockBatches(tx *gorm.DB, materialId int, asOf time.Time) ([]*StockBatch, error) {
	var batches []*StockBatch
	err := tx.Model(&StockBatch{}).
		Where("material_id = ? AND remaining_qty > 0", materialId).
		Where("expiry_date IS NULL OR expiry_date > ?", asOf).
		Order("received_date ASC, id ASC").
		Find(&batches).Error
	if err != nil {
		return nil, err
	}
	return batches, nil
}

// CreateStockBatch persists a new batch with remaining = qty and a generated,
// collision-free batch number. Runs on the caller's transaction so the batch,
// its ledger row, and the material quantity update commit together.
func CreateStockBatch(tx *gorm.DB, ctx context.Context, input *NewStockBatch) (*StockBatch, error) {

	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if !input.Qty.IsPositive() {
		return nil, errors.New("batch qty must be positive")
	}
	if input.UnitCost.IsNegative() {
		return nil, errors.New("batch unit cost cannot be negative")
	}

	var material Material
	if err := tx.First(&material, input.MaterialId).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}

	refType := StockReferenceTypeBatch
	batch := StockBatch{
		MaterialId:    input.MaterialId,
		Qty:           input.Qty,
		RemainingQty:  input.Qty,
		UnitCost:      input.UnitCost,
		ReceivedDate:  input.ReceivedDate,
		ExpiryDate:    input.ExpiryDate,
		SupplierId:    input.SupplierId,
		ReferenceType: &refType,
	}

	// Batch numbers come from a redis counter; on collision (another writer,
	// counter reset, redis down) fall back to the DB count and retry.
	for attempt := 0; attempt < 5; attempt++ {
		number, err := nextBatchNumber(ctx, tx, &material, input.ReceivedDate)
		if err != nil {
			return nil, err
		}
		batch.BatchNumber = number
		err = tx.Create(&batch).Error
		if err == nil {
			return &batch, nil
		}
		if !isDuplicateKeyErr(err) {
			return nil, err
		}
		batch.ID = 0
	}
	return nil, fmt.Errorf("could not allocate a unique batch number for material_id=%d", input.MaterialId)
}

// nextBatchNumber builds <PREFIX><YYYYMMDD>-<seq>, e.g. FLO20260830-3.
func nextBatchNumber(ctx context.Context, tx *gorm.DB, material *Material, receivedDate time.Time) (string, error) {
	prefix := batchPrefix(material.Name)
	datePart := receivedDate.UTC().Format("20060102")

	seq, err := config.GetRedisCounter(ctx, fmt.Sprintf("batchSeq:%d:%s", material.ID, datePart))
	if err != nil {
		return "", err
	}
	if seq == 0 {
		// redis unavailable: derive the next sequence from existing rows
		var count int64
		if err := tx.Model(&StockBatch{}).
			Where("material_id = ? AND batch_number LIKE ?", material.ID, prefix+datePart+"-%").
			Count(&count).Error; err != nil {
			return "", err
		}
		seq = count + 1
	}
	return fmt.Sprintf("%s%s-%d", prefix, datePart, seq), nil
}

// batchPrefix keeps the first three letters of the material name, upper-cased.
func batchPrefix(name string) string {
	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) {
			b.WriteRune(unicode.ToUpper(r))
			if b.Len() >= 3 {
				break
			}
		}
	}
	if b.Len() == 0 {
		return "MAT"
	}
	return b.String()
}

// DecrementStockBatch atomically reduces remaining quantity. The WHERE clause
// repeats the remaining_qty >= amount check so two concurrent consumers cannot
// both take the last units of a batch.
func DecrementStockBatch(tx *gorm.DB, batchId int, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return errors.New("decrement amount must be positive")
	}
	result := tx.Model(&StockBatch{}).
		Where("id = ? AND remaining_qty >= ?", batchId, amount).
		UpdateColumn("remaining_qty", gorm.Expr("remaining_qty - ?", amount))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("batch_id=%d amount=%s: %w", batchId, amount, ErrInsufficientBatchQty)
	}
	return nil
}

// DeleteStockBatch removes an untouched batch together with its material
// quantity share and the pairing ledger entry. Once any consumption has drawn
// on the batch it is part of the audit trail and deletion is refused.
func DeleteStockBatch(ctx context.Context, id int, actorId int) (*StockBatch, error) {

	batch, err := utils.FetchModel[StockBatch](ctx, id)
	if err != nil {
		return nil, err
	}
	if !batch.RemainingQty.Equal(batch.Qty) {
		return nil, ErrBatchDeletionConflict
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Guarded delete: a consumption racing this call flips the condition.
		result := tx.Where("id = ? AND remaining_qty = qty", id).Delete(&StockBatch{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrBatchDeletionConflict
		}
		if err := AddMaterialQuantity(tx, batch.MaterialId, batch.Qty.Neg()); err != nil {
			return err
		}
		refType := StockReferenceTypeAdjustment
		_, err := RecordInventoryTransaction(tx, ctx, &NewInventoryTransaction{
			MaterialId:    batch.MaterialId,
			Type:          InventoryTransactionTypeAdjustment,
			Qty:           batch.Qty.Neg(),
			UnitCost:      batch.UnitCost,
			ReferenceType: &refType,
			ReferenceId:   &batch.ID,
			UserId:        actorId,
			Note:          fmt.Sprintf("batch %s deleted", batch.BatchNumber),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

// BatchValuation is the remaining value per batch for the reporting collaborator.
type BatchValuation struct {
	BatchId      int             `json:"batch_id"`
	BatchNumber  string          `json:"batch_number"`
	MaterialId   int             `json:"material_id"`
	RemainingQty decimal.Decimal `json:"remaining_qty"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
	Value        decimal.Decimal `json:"value"`
}

func MaterialBatchValuation(ctx context.Context, materialId int) ([]*BatchValuation, error) {
	db := config.GetDB()
	var rows []*BatchValuation
	err := db.WithContext(ctx).Model(&StockBatch{}).
		Where("material_id = ?", materialId).
		Select("id AS batch_id, batch_number, material_id, remaining_qty, unit_cost, remaining_qty * unit_cost AS value").
		Order("received_date ASC, id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}
