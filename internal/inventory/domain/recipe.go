package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// UnitMilliliter is the only unit counted towards a recipe's per-serving volume.
const UnitMilliliter = "ml"

// Ingredient is one line of a recipe: how much of an item one serving uses.
type Ingredient struct {
	ItemID   string          `json:"item_id"`
	Name     string          `json:"name"`
	Quantity decimal.Decimal `json:"quantity"`
	Unit     string          `json:"unit"`
}

// IsML reports whether the ingredient is measured in ml.
func (i Ingredient) IsML() bool {
	return strings.EqualFold(strings.TrimSpace(i.Unit), UnitMilliliter)
}

// Recipe maps a sold product onto the tracked items it consumes.
type Recipe struct {
	ID          string       `json:"id"`
	LocationID  string       `json:"location_id"`
	Name        string       `json:"name"`
	Ingredients []Ingredient `json:"ingredients"`
}

// SplitByUnit separates the ingredients measured in ml from the rest.
func (r Recipe) SplitByUnit() (ml, excluded []Ingredient) {
	for _, ing := range r.Ingredients {
		if ing.IsML() {
			ml = append(ml, ing)
			continue
		}
		excluded = append(excluded, ing)
	}
	return ml, excluded
}

// PerServingML sums the ingredients measured in ml. Ingredients in any
// other unit are left out and returned separately so callers can surface them.
func (r Recipe) PerServingML() (total decimal.Decimal, excluded []Ingredient) {
	ml, excluded := r.SplitByUnit()
	total = decimal.Zero
	for _, ing := range ml {
		total = total.Add(ing.Quantity)
	}
	return total, excluded
}
