package models

import "testing"

func TestParseCostMethod(t *testing.T) {
	for _, valid := range []string{"Fifo", "PurchasePrice", "AverageCost"} {
		method, err := ParseCostMethod(valid)
		if err != nil {
			t.Fatalf("ParseCostMethod(%q): %v", valid, err)
		}
		if string(method) != valid {
			t.Fatalf("ParseCostMethod(%q) = %q", valid, method)
		}
	}
	for _, invalid := range []string{"", "fifo", "Lifo", "WeightedAverage"} {
		if _, err := ParseCostMethod(invalid); err == nil {
			t.Fatalf("ParseCostMethod(%q) should fail", invalid)
		}
	}
}

func TestInventoryTransactionTypeIsValid(t *testing.T) {
	for _, valid := range []InventoryTransactionType{
		InventoryTransactionTypeReceipt,
		InventoryTransactionTypeConsumption,
		InventoryTransactionTypeAdjustment,
	} {
		if !valid.IsValid() {
			t.Fatalf("%s should be valid", valid)
		}
	}
	if InventoryTransactionType("Transfer").IsValid() {
		t.Fatal("Transfer is not a ledger entry type")
	}
	if InventoryTransactionType("").IsValid() {
		t.Fatal("empty type is not valid")
	}
}

func TestStockAlertTypeIsValid(t *testing.T) {
	if !StockAlertTypeExpiryCritical.IsValid() {
		t.Fatal("ExpiryCritical should be valid")
	}
	if StockAlertType("Reorder").IsValid() {
		t.Fatal("Reorder is not an alert type")
	}
}
