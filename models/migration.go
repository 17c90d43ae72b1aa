package models

import (
	"log"

	"bitbucket.org/mmdatafocus/resto_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Material{}, &StockBatch{},
		&InventoryTransaction{},
		&StockAlert{},
		&Recipe{}, &RecipeMaterial{}, &RecipeCostCalculation{},
		&Product{}, &Order{}, &OrderItem{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
