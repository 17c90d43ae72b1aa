package workflow

import (
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestOrderCompletionErrorAggregatesFailures(t *testing.T) {
	aggErr := &OrderCompletionError{
		OrderId: 42,
		Failures: []ItemFailure{
			{OrderItemId: 7, MaterialId: 3, Err: &InsufficientStockError{
				MaterialId: 3,
				Needed:     decimal.NewFromInt(10),
				Available:  decimal.NewFromInt(4),
				Unit:       "kg",
			}},
			{OrderItemId: 8, MaterialId: 5, Err: errors.New("material 5 not found")},
		},
	}

	msg := aggErr.Error()
	if !strings.Contains(msg, "order 42") {
		t.Fatalf("message must name the order: %q", msg)
	}
	if !strings.Contains(msg, "2 failed item(s)") {
		t.Fatalf("message must carry the failure count: %q", msg)
	}
	for _, want := range []string{"item 7", "material 3", "needed 10 kg", "available 4 kg", "item 8", "material 5"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message missing %q: %q", want, msg)
		}
	}
}

func TestItemFailureUnwrapsToShortfall(t *testing.T) {
	failure := ItemFailure{OrderItemId: 7, MaterialId: 3, Err: &InsufficientStockError{
		MaterialId: 3,
		Needed:     decimal.NewFromInt(10),
		Available:  decimal.NewFromInt(4),
		Unit:       "kg",
	}}

	var short *InsufficientStockError
	if !errors.As(failure.Err, &short) {
		t.Fatalf("expected the wrapped shortfall to be recoverable, got %v", failure.Err)
	}
	if short.Available.Cmp(decimal.NewFromInt(4)) != 0 {
		t.Fatalf("expected available 4, got %s", short.Available)
	}
}
