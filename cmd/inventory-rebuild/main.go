package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/resto_backend/config"
	"bitbucket.org/mmdatafocus/resto_backend/models"
	"bitbucket.org/mmdatafocus/resto_backend/workflow"
	"gorm.io/gorm"
)

// Recomputes each material's denormalized on-hand quantity from the sum of
// its batches' remaining quantities and reports (or fixes) drift. Drift means
// a past posting broke the quantity == Σ remaining invariant; the ledger and
// batches are the source of truth.
func main() {
	materialID := flag.Int("material-id", 0, "Optional: limit to one material")
	fix := flag.Bool("fix", false, "Rewrite material.quantity to the batch sum instead of only reporting")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	// Drift detection reads the DB directly; the redis cache is not truth.
	var materials []*models.Material
	if *materialID > 0 {
		var material models.Material
		if err := db.First(&material, *materialID).Error; err != nil {
			fmt.Fprintf(os.Stderr, "fetch material %d: %v\n", *materialID, err)
			os.Exit(1)
		}
		materials = append(materials, &material)
	} else {
		var err error
		materials, err = models.ListMaterials(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "fetch materials: %v\n", err)
			os.Exit(1)
		}
	}

	drifted := 0
	for _, material := range materials {
		batchSum, err := models.MaterialBatchQuantitySum(db, material.ID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "material %d: sum batches: %v\n", material.ID, err)
			os.Exit(1)
		}
		if material.Quantity.Equal(batchSum) {
			continue
		}
		drifted++
		fmt.Printf("material=%d name=%q quantity=%s batch_sum=%s drift=%s\n",
			material.ID, material.Name, material.Quantity, batchSum, material.Quantity.Sub(batchSum))

		if !*fix {
			continue
		}
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := workflow.AcquireMaterialPostingLock(tx, material.ID); err != nil {
				return err
			}
			defer workflow.ReleaseMaterialPostingLock(tx, material.ID)
			// re-read under the lock; a concurrent posting may have healed it
			sum, err := models.MaterialBatchQuantitySum(tx, material.ID)
			if err != nil {
				return err
			}
			return tx.Model(&models.Material{}).
				Where("id = ?", material.ID).
				UpdateColumn("quantity", sum).Error
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "material %d: fix: %v\n", material.ID, err)
			os.Exit(1)
		}
		models.InvalidateMaterialCache(material.ID)
		fmt.Printf("material=%d fixed\n", material.ID)
	}

	fmt.Printf("checked=%d drifted=%d fixed=%v\n", len(materials), drifted, *fix)
}
