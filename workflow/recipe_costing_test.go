package workflow

import (
	"context"
	"fmt"
	"testing"

	"bitbucket.org/mmdatafocus/resto_backend/models"
	"github.com/shopspring/decimal"
)

// fakePricer maps material id to a canned pricing result or error, replacing
// the batch-walking PriceMaterial.
type fakePricer struct {
	results map[int]*ConsumptionResult
	errs    map[int]error
	calls   int
}

func (p *fakePricer) price(_ context.Context, materialId int, qty decimal.Decimal) (*ConsumptionResult, error) {
	p.calls++
	if err, ok := p.errs[materialId]; ok {
		return nil, err
	}
	if r, ok := p.results[materialId]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("unexpected pricing call for material %d qty %s", materialId, qty)
}

func costingFixture() (*models.Recipe, map[int]*models.Material) {
	// Flour is priced in kg both ways; butter recipes in grams, stocked in kg.
	flour := &models.Material{
		ID:             1,
		Name:           "Flour",
		StockUnit:      "kg",
		ConversionRate: decimal.NewFromInt(1),
		PurchasePrice:  decimal.RequireFromString("2.20"),
	}
	butter := &models.Material{
		ID:             2,
		Name:           "Butter",
		StockUnit:      "kg",
		ConversionRate: decimal.RequireFromString("0.001"),
		PurchasePrice:  decimal.RequireFromString("9.00"),
	}
	recipe := &models.Recipe{
		ID:          5,
		Name:        "Croissant",
		ServingSize: 4,
		Materials: []models.RecipeMaterial{
			{RecipeId: 5, MaterialId: flour.ID, Qty: decimal.RequireFromString("0.5")},
			{RecipeId: 5, MaterialId: butter.ID, Qty: decimal.NewFromInt(120)},
		},
	}
	return recipe, map[int]*models.Material{flour.ID: flour, butter.ID: butter}
}

func TestBuildCostLinesFifo(t *testing.T) {
	recipe, materials := costingFixture()
	pricer := &fakePricer{results: map[int]*ConsumptionResult{
		1: {MaterialId: 1, Qty: decimal.RequireFromString("0.5"), TotalCost: decimal.RequireFromString("1.00"), UnitCost: decimal.RequireFromString("2.00")},
		2: {MaterialId: 2, Qty: decimal.RequireFromString("0.12"), TotalCost: decimal.RequireFromString("1.02"), UnitCost: decimal.RequireFromString("8.50")},
	}}

	lines, err := buildCostLines(context.Background(), recipe, materials, models.CostMethodFifo, pricer.price)
	if err != nil {
		t.Fatalf("buildCostLines: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0].Method != models.CostMethodFifo || lines[1].Method != models.CostMethodFifo {
		t.Fatalf("expected both lines priced Fifo: %+v", lines)
	}
	// Butter: 120 g per serving converted to 0.12 kg of stock.
	if lines[1].StockQty.Cmp(decimal.RequireFromString("0.12")) != 0 {
		t.Fatalf("expected butter stock qty 0.12, got %s", lines[1].StockQty)
	}
	total := sumCostLines(lines)
	if total.Cmp(decimal.RequireFromString("2.02")) != 0 {
		t.Fatalf("expected total 2.02, got %s", total)
	}
}

func TestBuildCostLinesFifoFallsBackOnInsufficientStock(t *testing.T) {
	recipe, materials := costingFixture()
	pricer := &fakePricer{
		results: map[int]*ConsumptionResult{
			1: {MaterialId: 1, Qty: decimal.RequireFromString("0.5"), TotalCost: decimal.RequireFromString("1.00"), UnitCost: decimal.RequireFromString("2.00")},
		},
		errs: map[int]error{
			2: &InsufficientStockError{MaterialId: 2, Needed: decimal.RequireFromString("0.12"), Available: decimal.Zero, Unit: "kg"},
		},
	}

	lines, err := buildCostLines(context.Background(), recipe, materials, models.CostMethodFifo, pricer.price)
	if err != nil {
		t.Fatalf("buildCostLines: %v", err)
	}

	butterLine := lines[1]
	if butterLine.Method != models.CostMethodAverageCost {
		t.Fatalf("fallback line must be tagged AverageCost, got %s", butterLine.Method)
	}
	// purchase_price * stock qty: 9.00 * 0.12
	wantCost := decimal.RequireFromString("9.00").Mul(decimal.RequireFromString("0.12"))
	if butterLine.TotalCost.Cmp(wantCost) != 0 {
		t.Fatalf("expected fallback cost %s, got %s", wantCost, butterLine.TotalCost)
	}
	if butterLine.UnitCost.Cmp(decimal.RequireFromString("9.00")) != 0 {
		t.Fatalf("expected fallback unit cost 9.00, got %s", butterLine.UnitCost)
	}
	// The flour line is unaffected by the butter shortfall.
	if lines[0].Method != models.CostMethodFifo {
		t.Fatalf("expected flour line priced Fifo, got %s", lines[0].Method)
	}
}

func TestBuildCostLinesZeroStockRecipeEqualsFallbackExactly(t *testing.T) {
	flour := &models.Material{
		ID:             1,
		Name:           "Flour",
		StockUnit:      "kg",
		ConversionRate: decimal.NewFromInt(1),
		PurchasePrice:  decimal.RequireFromString("2.20"),
	}
	recipe := &models.Recipe{
		ID:          6,
		ServingSize: 1,
		Materials:   []models.RecipeMaterial{{RecipeId: 6, MaterialId: 1, Qty: decimal.NewFromInt(3)}},
	}
	pricer := &fakePricer{errs: map[int]error{
		1: &InsufficientStockError{MaterialId: 1, Needed: decimal.NewFromInt(3), Available: decimal.Zero, Unit: "kg"},
	}}

	lines, err := buildCostLines(context.Background(), recipe, map[int]*models.Material{1: flour}, models.CostMethodFifo, pricer.price)
	if err != nil {
		t.Fatalf("buildCostLines: %v", err)
	}
	want := decimal.RequireFromString("2.20").Mul(decimal.NewFromInt(3))
	if sumCostLines(lines).Cmp(want) != 0 {
		t.Fatalf("total must equal the fallback cost exactly: want %s, got %s", want, sumCostLines(lines))
	}
}

func TestBuildCostLinesPurchasePriceNeverPrices(t *testing.T) {
	recipe, materials := costingFixture()
	pricer := &fakePricer{}

	for _, method := range []models.CostMethod{models.CostMethodPurchasePrice, models.CostMethodAverageCost} {
		lines, err := buildCostLines(context.Background(), recipe, materials, method, pricer.price)
		if err != nil {
			t.Fatalf("method=%s buildCostLines: %v", method, err)
		}
		for _, line := range lines {
			if line.Method != method {
				t.Fatalf("method=%s line tagged %s", method, line.Method)
			}
		}
		// Flour 0.5 kg @ 2.20 + butter 0.12 kg @ 9.00.
		want := decimal.RequireFromString("1.10").Add(decimal.RequireFromString("1.08"))
		if sumCostLines(lines).Cmp(want) != 0 {
			t.Fatalf("method=%s expected total %s, got %s", method, want, sumCostLines(lines))
		}
	}
	if pricer.calls != 0 {
		t.Fatalf("purchase-price costing must not walk batches; pricer called %d times", pricer.calls)
	}
}

func TestBuildCostLinesInvalidMethod(t *testing.T) {
	recipe, materials := costingFixture()
	pricer := &fakePricer{}
	if _, err := buildCostLines(context.Background(), recipe, materials, models.CostMethod("Lifo"), pricer.price); err == nil {
		t.Fatal("expected error for unknown cost method")
	}
}

func TestBuildCostLinesUnknownMaterial(t *testing.T) {
	recipe, _ := costingFixture()
	pricer := &fakePricer{}
	if _, err := buildCostLines(context.Background(), recipe, map[int]*models.Material{}, models.CostMethodPurchasePrice, pricer.price); err == nil {
		t.Fatal("expected error when a recipe line references an unloaded material")
	}
}

func TestBuildCostLinesFifoPropagatesOtherErrors(t *testing.T) {
	recipe, materials := costingFixture()
	pricer := &fakePricer{errs: map[int]error{1: fmt.Errorf("connection reset")}}
	if _, err := buildCostLines(context.Background(), recipe, materials, models.CostMethodFifo, pricer.price); err == nil {
		t.Fatal("expected non-shortfall pricing errors to propagate")
	}
}
