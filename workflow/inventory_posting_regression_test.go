package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/resto_backend/config"
	"bitbucket.org/mmdatafocus/resto_backend/models"
	"bitbucket.org/mmdatafocus/resto_backend/utils"
	"bitbucket.org/mmdatafocus/resto_backend/workflow"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func TestFifoPostingMaintainsQuantityInvariant(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	// Wire env for config.Connect* helpers.
	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "resto_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	ctx = utils.SetUserIdInContext(ctx, 1)
	logger := logrus.New()
	db := config.GetDB()
	if db == nil {
		t.Fatalf("db is nil after ConnectDatabaseWithRetry")
	}

	flour, err := models.CreateMaterial(ctx, &models.NewMaterial{
		Name:           "Flour",
		StockUnit:      "kg",
		RecipeUnit:     "kg",
		ConversionRate: decimal.NewFromInt(1),
		MinStockLevel:  decimal.NewFromInt(10),
		PurchasePrice:  decimal.RequireFromString("2.20"),
	})
	if err != nil {
		t.Fatalf("CreateMaterial: %v", err)
	}

	// Two receipts a day apart: 50 @ 2.00 then 30 @ 3.00.
	day1 := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	r1, err := workflow.ProcessReceipt(ctx, logger, &workflow.ReceiptInput{
		MaterialId:   flour.ID,
		Qty:          decimal.NewFromInt(50),
		UnitCost:     decimal.RequireFromString("2.00"),
		ReceivedDate: day1,
		UserId:       1,
	})
	if err != nil {
		t.Fatalf("ProcessReceipt(1): %v", err)
	}
	r2, err := workflow.ProcessReceipt(ctx, logger, &workflow.ReceiptInput{
		MaterialId:   flour.ID,
		Qty:          decimal.NewFromInt(30),
		UnitCost:     decimal.RequireFromString("3.00"),
		ReceivedDate: day1.AddDate(0, 0, 1),
		UserId:       1,
	})
	if err != nil {
		t.Fatalf("ProcessReceipt(2): %v", err)
	}
	if r2.MaterialQty.Cmp(decimal.NewFromInt(80)) != 0 {
		t.Fatalf("expected on-hand 80 after both receipts, got %s", r2.MaterialQty)
	}
	assertQuantityInvariant(t, flour.ID)

	// Pricing is side-effect free and returns the same answer twice.
	p1, err := workflow.PriceMaterial(ctx, flour.ID, decimal.NewFromInt(60))
	if err != nil {
		t.Fatalf("PriceMaterial(1): %v", err)
	}
	p2, err := workflow.PriceMaterial(ctx, flour.ID, decimal.NewFromInt(60))
	if err != nil {
		t.Fatalf("PriceMaterial(2): %v", err)
	}
	if p1.TotalCost.Cmp(p2.TotalCost) != 0 {
		t.Fatalf("pricing is not deterministic: %s vs %s", p1.TotalCost, p2.TotalCost)
	}
	if p1.TotalCost.Cmp(decimal.RequireFromString("130.00")) != 0 {
		t.Fatalf("expected priced cost 130.00 (50*2.00 + 10*3.00), got %s", p1.TotalCost)
	}
	refreshed, err := models.GetMaterial(ctx, flour.ID)
	if err != nil {
		t.Fatalf("GetMaterial: %v", err)
	}
	if refreshed.Quantity.Cmp(decimal.NewFromInt(80)) != 0 {
		t.Fatalf("pricing must not consume; on-hand changed to %s", refreshed.Quantity)
	}

	// Destructive draw-down of 60: drains the older batch, dips into the newer.
	adj, err := workflow.ProcessAdjustment(ctx, logger, &workflow.AdjustmentInput{
		MaterialId: flour.ID,
		Qty:        decimal.NewFromInt(-60),
		UserId:     1,
		Note:       "waste count",
	})
	if err != nil {
		t.Fatalf("ProcessAdjustment(-60): %v", err)
	}
	if adj.Consumption == nil || adj.Consumption.TotalCost.Cmp(decimal.RequireFromString("130.00")) != 0 {
		t.Fatalf("expected consumption cost 130.00, got %+v", adj.Consumption)
	}

	// The cached material read reflects the posting immediately.
	afterDraw, err := models.GetMaterial(ctx, flour.ID)
	if err != nil {
		t.Fatalf("GetMaterial: %v", err)
	}
	if afterDraw.Quantity.Cmp(decimal.NewFromInt(20)) != 0 {
		t.Fatalf("expected on-hand 20 after draw-down, got %s (stale cache?)", afterDraw.Quantity)
	}

	var b1, b2 models.StockBatch
	if err := db.First(&b1, r1.Batch.ID).Error; err != nil {
		t.Fatalf("fetch batch 1: %v", err)
	}
	if err := db.First(&b2, r2.Batch.ID).Error; err != nil {
		t.Fatalf("fetch batch 2: %v", err)
	}
	if !b1.RemainingQty.IsZero() {
		t.Fatalf("expected oldest batch drained, remaining=%s", b1.RemainingQty)
	}
	if b2.RemainingQty.Cmp(decimal.NewFromInt(20)) != 0 {
		t.Fatalf("expected newer batch remaining=20, got %s", b2.RemainingQty)
	}
	assertQuantityInvariant(t, flour.ID)

	// Ledger reconciles with on-hand: +50 +30 -60 = 20.
	ledgerSum, err := models.LedgerQuantitySum(db, flour.ID)
	if err != nil {
		t.Fatalf("LedgerQuantitySum: %v", err)
	}
	if ledgerSum.Cmp(decimal.NewFromInt(20)) != 0 {
		t.Fatalf("expected ledger sum 20, got %s", ledgerSum)
	}

	// Over-draw rolls everything back: no partial decrement, no ledger row.
	var ledgerRowsBefore int64
	if err := db.Model(&models.InventoryTransaction{}).Where("material_id = ?", flour.ID).Count(&ledgerRowsBefore).Error; err != nil {
		t.Fatalf("count ledger rows: %v", err)
	}
	_, err = workflow.ProcessAdjustment(ctx, logger, &workflow.AdjustmentInput{
		MaterialId: flour.ID,
		Qty:        decimal.NewFromInt(-100),
		UserId:     1,
	})
	var short *workflow.InsufficientStockError
	if !errors.As(err, &short) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if short.Available.Cmp(decimal.NewFromInt(20)) != 0 {
		t.Fatalf("expected available 20 in shortfall, got %s", short.Available)
	}
	var ledgerRowsAfter int64
	if err := db.Model(&models.InventoryTransaction{}).Where("material_id = ?", flour.ID).Count(&ledgerRowsAfter).Error; err != nil {
		t.Fatalf("count ledger rows: %v", err)
	}
	if ledgerRowsAfter != ledgerRowsBefore {
		t.Fatalf("failed adjustment left a ledger row: before=%d after=%d", ledgerRowsBefore, ledgerRowsAfter)
	}
	assertQuantityInvariant(t, flour.ID)

	// Alert dedup: drive quantity below minimum twice; exactly one unresolved
	// LowStock row survives, carrying the latest quantity.
	if _, err := workflow.ProcessAdjustment(ctx, logger, &workflow.AdjustmentInput{
		MaterialId: flour.ID, Qty: decimal.NewFromInt(-15), UserId: 1,
	}); err != nil {
		t.Fatalf("ProcessAdjustment(-15): %v", err)
	}
	if _, err := workflow.ProcessAdjustment(ctx, logger, &workflow.AdjustmentInput{
		MaterialId: flour.ID, Qty: decimal.NewFromInt(-2), UserId: 1,
	}); err != nil {
		t.Fatalf("ProcessAdjustment(-2): %v", err)
	}

	var lowStockAlerts []models.StockAlert
	err = db.Where("material_id = ? AND alert_type = ? AND is_resolved = 0", flour.ID, models.StockAlertTypeLowStock).
		Find(&lowStockAlerts).Error
	if err != nil {
		t.Fatalf("fetch low stock alerts: %v", err)
	}
	if len(lowStockAlerts) != 1 {
		t.Fatalf("expected exactly 1 unresolved low stock alert, got %d", len(lowStockAlerts))
	}
	if lowStockAlerts[0].CurrentValue.Cmp(decimal.NewFromInt(3)) != 0 {
		t.Fatalf("expected alert current_value 3, got %s", lowStockAlerts[0].CurrentValue)
	}

	// Resolution is explicit, and re-evaluation after resolving opens a fresh row.
	resolved, err := models.ResolveStockAlert(ctx, lowStockAlerts[0].ID, 1)
	if err != nil {
		t.Fatalf("ResolveStockAlert: %v", err)
	}
	if !resolved.IsResolved {
		t.Fatalf("alert not resolved: %+v", resolved)
	}
	if _, err := workflow.ProcessAdjustment(ctx, logger, &workflow.AdjustmentInput{
		MaterialId: flour.ID, Qty: decimal.NewFromInt(-1), UserId: 1,
	}); err != nil {
		t.Fatalf("ProcessAdjustment(-1): %v", err)
	}
	var unresolvedCount int64
	err = db.Model(&models.StockAlert{}).
		Where("material_id = ? AND alert_type = ? AND is_resolved = 0", flour.ID, models.StockAlertTypeLowStock).
		Count(&unresolvedCount).Error
	if err != nil {
		t.Fatalf("count unresolved alerts: %v", err)
	}
	if unresolvedCount != 1 {
		t.Fatalf("expected a fresh unresolved alert after resolution, got %d", unresolvedCount)
	}

	// Deleting an untouched batch writes its pairing ledger row, so the ledger
	// keeps reconciling with on-hand. Partially consumed batches are refused.
	if _, err := models.DeleteStockBatch(ctx, r2.Batch.ID, 1); !errors.Is(err, models.ErrBatchDeletionConflict) {
		t.Fatalf("expected ErrBatchDeletionConflict for a consumed batch, got %v", err)
	}
	r3, err := workflow.ProcessReceipt(ctx, logger, &workflow.ReceiptInput{
		MaterialId: flour.ID,
		Qty:        decimal.NewFromInt(5),
		UnitCost:   decimal.RequireFromString("4.00"),
		UserId:     1,
	})
	if err != nil {
		t.Fatalf("ProcessReceipt(3): %v", err)
	}
	if _, err := models.DeleteStockBatch(ctx, r3.Batch.ID, 1); err != nil {
		t.Fatalf("DeleteStockBatch: %v", err)
	}
	assertQuantityInvariant(t, flour.ID)
	finalMaterial, err := models.GetMaterial(ctx, flour.ID)
	if err != nil {
		t.Fatalf("GetMaterial: %v", err)
	}
	finalLedger, err := models.LedgerQuantitySum(db, flour.ID)
	if err != nil {
		t.Fatalf("LedgerQuantitySum: %v", err)
	}
	if finalLedger.Cmp(finalMaterial.Quantity) != 0 {
		t.Fatalf("ledger diverged from on-hand after batch deletion: ledger=%s quantity=%s",
			finalLedger, finalMaterial.Quantity)
	}
}

func TestConcurrentAdjustmentsSerializePerMaterial(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "resto_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	ctx = utils.SetUserIdInContext(ctx, 1)
	logger := logrus.New()

	sugar, err := models.CreateMaterial(ctx, &models.NewMaterial{
		Name:           "Sugar",
		StockUnit:      "kg",
		RecipeUnit:     "kg",
		ConversionRate: decimal.NewFromInt(1),
		PurchasePrice:  decimal.RequireFromString("1.50"),
	})
	if err != nil {
		t.Fatalf("CreateMaterial: %v", err)
	}
	if _, err := workflow.ProcessReceipt(ctx, logger, &workflow.ReceiptInput{
		MaterialId: sugar.ID,
		Qty:        decimal.NewFromInt(100),
		UnitCost:   decimal.RequireFromString("1.50"),
		UserId:     1,
	}); err != nil {
		t.Fatalf("ProcessReceipt: %v", err)
	}

	// Ten concurrent draw-downs of 10 against one 100-unit batch. The posting
	// lock serializes them on the material, so every one must succeed and land
	// the material at exactly zero. Without serialization the writers plan
	// against the same batch snapshot and the guarded decrement fails some of
	// them on a perfectly coverable request.
	const workers = 10
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = workflow.ProcessAdjustment(ctx, logger, &workflow.AdjustmentInput{
				MaterialId: sugar.ID,
				Qty:        decimal.NewFromInt(-10),
				UserId:     1,
			})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("worker %d: %v", i, err)
		}
	}
	assertQuantityInvariant(t, sugar.ID)
	drained, err := models.GetMaterial(ctx, sugar.ID)
	if err != nil {
		t.Fatalf("GetMaterial: %v", err)
	}
	if !drained.Quantity.IsZero() {
		t.Fatalf("expected on-hand 0 after ten 10-unit draws, got %s", drained.Quantity)
	}
	ledgerSum, err := models.LedgerQuantitySum(config.GetDB(), sugar.ID)
	if err != nil {
		t.Fatalf("LedgerQuantitySum: %v", err)
	}
	if !ledgerSum.IsZero() {
		t.Fatalf("expected ledger sum 0, got %s", ledgerSum)
	}
}

func TestOrderCompletionIsIdempotentAndSurvivesPartialFailure(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "resto_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	ctx = utils.SetUserIdInContext(ctx, 1)
	logger := logrus.New()
	db := config.GetDB()

	flour, err := models.CreateMaterial(ctx, &models.NewMaterial{
		Name:           "Flour",
		StockUnit:      "kg",
		RecipeUnit:     "kg",
		ConversionRate: decimal.NewFromInt(1),
		PurchasePrice:  decimal.RequireFromString("2.20"),
	})
	if err != nil {
		t.Fatalf("CreateMaterial(flour): %v", err)
	}
	truffle, err := models.CreateMaterial(ctx, &models.NewMaterial{
		Name:           "Truffle",
		StockUnit:      "kg",
		RecipeUnit:     "g",
		ConversionRate: decimal.RequireFromString("0.001"),
		PurchasePrice:  decimal.NewFromInt(900),
	})
	if err != nil {
		t.Fatalf("CreateMaterial(truffle): %v", err)
	}

	// Only flour gets stock; truffle consumption must fail.
	if _, err := workflow.ProcessReceipt(ctx, logger, &workflow.ReceiptInput{
		MaterialId: flour.ID,
		Qty:        decimal.NewFromInt(10),
		UnitCost:   decimal.RequireFromString("2.00"),
		UserId:     1,
	}); err != nil {
		t.Fatalf("ProcessReceipt: %v", err)
	}

	bread, err := models.CreateRecipe(ctx, &models.NewRecipe{
		Name:        "Bread",
		ServingSize: 1,
		Materials:   []models.NewRecipeMaterial{{MaterialId: flour.ID, Qty: decimal.RequireFromString("0.5")}},
	})
	if err != nil {
		t.Fatalf("CreateRecipe(bread): %v", err)
	}
	// Flour first, then truffle: the flour draw commits before the truffle
	// shortfall surfaces.
	pasta, err := models.CreateRecipe(ctx, &models.NewRecipe{
		Name:        "Truffle Pasta",
		ServingSize: 1,
		Materials: []models.NewRecipeMaterial{
			{MaterialId: flour.ID, Qty: decimal.RequireFromString("0.2")},
			{MaterialId: truffle.ID, Qty: decimal.NewFromInt(20)},
		},
	})
	if err != nil {
		t.Fatalf("CreateRecipe(pasta): %v", err)
	}

	breadProduct := models.Product{Name: "Bread", RecipeId: &bread.ID, IsActive: utils.NewTrue()}
	pastaProduct := models.Product{Name: "Truffle Pasta", RecipeId: &pasta.ID, IsActive: utils.NewTrue()}
	waterProduct := models.Product{Name: "Bottled Water", IsActive: utils.NewTrue()}
	for _, p := range []*models.Product{&breadProduct, &pastaProduct, &waterProduct} {
		if err := db.WithContext(ctx).Create(p).Error; err != nil {
			t.Fatalf("create product %s: %v", p.Name, err)
		}
	}

	order := models.Order{
		OrderNumber: "ORD-1001",
		Status:      models.OrderStatusPending,
		Items: []models.OrderItem{
			{ProductId: breadProduct.ID, Qty: decimal.NewFromInt(2)},
			{ProductId: waterProduct.ID, Qty: decimal.NewFromInt(1)},
			{ProductId: pastaProduct.ID, Qty: decimal.NewFromInt(1)},
		},
	}
	if err := db.WithContext(ctx).Create(&order).Error; err != nil {
		t.Fatalf("create order: %v", err)
	}

	result, err := workflow.CompleteOrder(ctx, logger, order.ID, 1)
	var aggErr *workflow.OrderCompletionError
	if !errors.As(err, &aggErr) {
		t.Fatalf("expected OrderCompletionError for the truffle item, got %v", err)
	}
	if result == nil {
		t.Fatal("partial failure must still return the result")
	}
	if len(aggErr.Failures) != 1 || aggErr.Failures[0].MaterialId != truffle.ID {
		t.Fatalf("expected one failure on the truffle material, got %+v", aggErr.Failures)
	}

	// Bread and water completed; the pasta item reports the flour it consumed
	// before the truffle shortfall.
	if len(result.Items) != 3 {
		t.Fatalf("expected 3 item entries (bread, water, partial pasta), got %+v", result.Items)
	}
	var pastaDetail *workflow.ItemConsumption
	for i := range result.Items {
		if result.Items[i].ProductId == pastaProduct.ID {
			pastaDetail = &result.Items[i]
		}
	}
	if pastaDetail == nil {
		t.Fatalf("failed pasta item missing from results: %+v", result.Items)
	}
	if len(pastaDetail.Materials) != 1 || pastaDetail.Materials[0].MaterialId != flour.ID {
		t.Fatalf("expected pasta to report its committed flour draw, got %+v", pastaDetail.Materials)
	}

	// Flour: bread 2 * 0.5 + pasta 0.2 consumed from 10.
	flourAfter, err := models.GetMaterial(ctx, flour.ID)
	if err != nil {
		t.Fatalf("GetMaterial(flour): %v", err)
	}
	if flourAfter.Quantity.Cmp(decimal.RequireFromString("8.8")) != 0 {
		t.Fatalf("expected flour on-hand 8.8, got %s", flourAfter.Quantity)
	}
	assertQuantityInvariant(t, flour.ID)

	registry, err := models.ListMaterials(ctx)
	if err != nil {
		t.Fatalf("ListMaterials: %v", err)
	}
	if len(registry) != 2 {
		t.Fatalf("expected 2 materials in the registry, got %d", len(registry))
	}

	// The order still completed despite the failed item.
	completed, err := models.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if completed.Status != models.OrderStatusCompleted {
		t.Fatalf("expected order Completed, got %s", completed.Status)
	}
	if completed.CompletedAt == nil {
		t.Fatal("expected completed_at to be set")
	}

	// A repeat completion is a clean no-op: no double consumption.
	_, err = workflow.CompleteOrder(ctx, logger, order.ID, 1)
	if !errors.Is(err, workflow.ErrOrderNotPending) {
		t.Fatalf("expected ErrOrderNotPending on repeat, got %v", err)
	}
	flourAgain, err := models.GetMaterial(ctx, flour.ID)
	if err != nil {
		t.Fatalf("GetMaterial(flour): %v", err)
	}
	if flourAgain.Quantity.Cmp(decimal.RequireFromString("8.8")) != 0 {
		t.Fatalf("repeat completion consumed stock: on-hand %s", flourAgain.Quantity)
	}

	// Completion refreshed Fifo cost snapshots for both recipes; the pasta one
	// priced through the purchase-price fallback.
	breadCost, err := models.LatestRecipeCost(ctx, bread.ID)
	if err != nil {
		t.Fatalf("LatestRecipeCost(bread): %v", err)
	}
	if breadCost == nil || breadCost.Method != models.CostMethodFifo {
		t.Fatalf("expected a Fifo snapshot for bread, got %+v", breadCost)
	}
	pastaCost, err := models.LatestRecipeCost(ctx, pasta.ID)
	if err != nil {
		t.Fatalf("LatestRecipeCost(pasta): %v", err)
	}
	// Flour 0.2 kg @ 2.00 priced FIFO plus truffle fallback 20 g * 0.001 * 900/kg.
	if pastaCost == nil || pastaCost.TotalCost.Cmp(decimal.RequireFromString("18.4")) != 0 {
		t.Fatalf("expected pasta cost 18.4 (0.4 fifo + 18 fallback), got %+v", pastaCost)
	}
}

func assertQuantityInvariant(t *testing.T, materialId int) {
	t.Helper()
	db := config.GetDB()
	var material models.Material
	if err := db.First(&material, materialId).Error; err != nil {
		t.Fatalf("fetch material %d: %v", materialId, err)
	}
	batchSum, err := models.MaterialBatchQuantitySum(db, materialId)
	if err != nil {
		t.Fatalf("MaterialBatchQuantitySum: %v", err)
	}
	if material.Quantity.Cmp(batchSum) != 0 {
		t.Fatalf("invariant broken for material %d: quantity=%s batch_sum=%s",
			materialId, material.Quantity, batchSum)
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("resto-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("resto-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=resto_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
