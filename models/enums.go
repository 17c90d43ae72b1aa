package models

import "fmt"

type InventoryTransactionType string

const (
	InventoryTransactionTypeReceipt     InventoryTransactionType = "Receipt"
	InventoryTransactionTypeConsumption InventoryTransactionType = "Consumption"
	InventoryTransactionTypeAdjustment  InventoryTransactionType = "Adjustment"
)

func (t InventoryTransactionType) IsValid() bool {
	switch t {
	case InventoryTransactionTypeReceipt, InventoryTransactionTypeConsumption, InventoryTransactionTypeAdjustment:
		return true
	}
	return false
}

// StockReferenceType is the polymorphic reference carried by ledger rows.
type StockReferenceType string

const (
	StockReferenceTypeBatch      StockReferenceType = "SB"  // stock batch (receipt)
	StockReferenceTypeOrderItem  StockReferenceType = "OI"  // order item consumption
	StockReferenceTypeAdjustment StockReferenceType = "ADJ" // manual adjustment
)

type StockAlertType string

const (
	StockAlertTypeLowStock       StockAlertType = "LowStock"
	StockAlertTypeOutOfStock     StockAlertType = "OutOfStock"
	StockAlertTypeOverstock      StockAlertType = "Overstock"
	StockAlertTypeExpiryWarning  StockAlertType = "ExpiryWarning"
	StockAlertTypeExpiryCritical StockAlertType = "ExpiryCritical"
)

func (t StockAlertType) IsValid() bool {
	switch t {
	case StockAlertTypeLowStock, StockAlertTypeOutOfStock, StockAlertTypeOverstock,
		StockAlertTypeExpiryWarning, StockAlertTypeExpiryCritical:
		return true
	}
	return false
}

// CostMethod is a closed set; every switch over it must be exhaustive.
type CostMethod string

const (
	CostMethodFifo          CostMethod = "Fifo"
	CostMethodPurchasePrice CostMethod = "PurchasePrice"
	CostMethodAverageCost   CostMethod = "AverageCost"
)

func ParseCostMethod(s string) (CostMethod, error) {
	switch CostMethod(s) {
	case CostMethodFifo:
		return CostMethodFifo, nil
	case CostMethodPurchasePrice:
		return CostMethodPurchasePrice, nil
	case CostMethodAverageCost:
		return CostMethodAverageCost, nil
	default:
		return "", fmt.Errorf("invalid cost method %q", s)
	}
}

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "Pending"
	OrderStatusCompleted OrderStatus = "Completed"
	OrderStatusCancelled OrderStatus = "Cancelled"
)
