package domain_test

import (
	"testing"
	"time"

	"github.com/barledger/barledger-backend/internal/inventory/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecipe_PerServingML_MixedUnits(t *testing.T) {
	recipe := domain.Recipe{
		Name: "Gin Tonic",
		Ingredients: []domain.Ingredient{
			{Name: "Gin", Quantity: decimal.NewFromInt(40), Unit: "ml"},
			{Name: "Tonic", Quantity: decimal.NewFromInt(120), Unit: "ML"},
			{Name: "Lime", Quantity: decimal.NewFromInt(1), Unit: "wedge"},
			{Name: "Bitters", Quantity: decimal.NewFromInt(2), Unit: "dash"},
		},
	}

	total, excluded := recipe.PerServingML()

	assert.True(t, total.Equal(decimal.NewFromInt(160)), "got %s", total)
	require.Len(t, excluded, 2)
	assert.Equal(t, "Lime", excluded[0].Name)
	assert.Equal(t, "Bitters", excluded[1].Name)
}

func TestRecipe_PerServingML_NoMlIngredients(t *testing.T) {
	recipe := domain.Recipe{Ingredients: []domain.Ingredient{{Name: "Olive", Quantity: decimal.NewFromInt(2), Unit: "piece"}}}

	total, excluded := recipe.PerServingML()
	assert.True(t, total.IsZero())
	assert.Len(t, excluded, 1)
}

func TestWindow_Contains(t *testing.T) {
	end := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w := domain.TrailingWindow(end, time.Hour)

	assert.True(t, w.Valid())
	assert.True(t, w.Contains(end.Add(-time.Hour)), "start is inclusive")
	assert.True(t, w.Contains(end.Add(-time.Minute)))
	assert.False(t, w.Contains(end), "end is exclusive")
	assert.False(t, domain.Window{Start: end, End: end}.Valid())
}

func TestAlignedWindow(t *testing.T) {
	day := 24 * time.Hour
	morning := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)
	evening := time.Date(2026, 3, 2, 23, 59, 0, 0, time.UTC)

	w := domain.AlignedWindow(morning, day, 0)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), w.Start)
	assert.Equal(t, time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC), w.End)
	assert.Equal(t, w, domain.AlignedWindow(evening, day, 0), "same day, same window")
	assert.Equal(t, w.Start, domain.AlignedWindow(w.Start, day, 0).Start, "start is inclusive")

	prev := w.Previous()
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), prev.Start)
	assert.Equal(t, w.Start, prev.End)

	// a business day that closes at 06:00
	shifted := domain.AlignedWindow(time.Date(2026, 3, 2, 2, 0, 0, 0, time.UTC), day, 6*time.Hour)
	assert.Equal(t, time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC), shifted.Start)
	assert.Equal(t, time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC), shifted.End)
}

func TestRecipe_SplitByUnit(t *testing.T) {
	recipe := domain.Recipe{Ingredients: []domain.Ingredient{
		{Name: "Gin", Quantity: decimal.NewFromInt(50), Unit: " ml "},
		{Name: "Bitters", Quantity: decimal.NewFromInt(3), Unit: "dash"},
	}}

	ml, excluded := recipe.SplitByUnit()
	require.Len(t, ml, 1)
	assert.Equal(t, "Gin", ml[0].Name)
	require.Len(t, excluded, 1)
	assert.Equal(t, "Bitters", excluded[0].Name)
}

func TestMovementKind_Valid(t *testing.T) {
	for _, k := range []domain.MovementKind{domain.KindPurchase, domain.KindSale, domain.KindPour, domain.KindWastage, domain.KindAdjustment} {
		assert.True(t, k.Valid(), k)
	}
	assert.False(t, domain.MovementKind("transfer").Valid())
}

func TestStockMovement_DedupeKey(t *testing.T) {
	a := domain.StockMovement{Kind: domain.KindSale, SourceRef: "pos-1"}
	b := domain.StockMovement{Kind: domain.KindPour, SourceRef: "pos-1"}
	assert.NotEqual(t, a.DedupeKey(), b.DedupeKey())
}
