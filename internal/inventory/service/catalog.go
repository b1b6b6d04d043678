package service

import (
	"context"
	"strings"
	"time"

	"github.com/barledger/barledger-backend/internal/inventory/domain"
	"github.com/barledger/barledger-backend/internal/inventory/events"
	"github.com/barledger/barledger-backend/internal/inventory/ledger"
	"github.com/barledger/barledger-backend/internal/inventory/normalizer"
	"github.com/barledger/barledger-backend/pkg/errors"
	"github.com/barledger/barledger-backend/pkg/logger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CreateItemRequest registers a tracked item.
type CreateItemRequest struct {
	LocationID    string           `json:"location_id" validate:"required"`
	Name          string           `json:"name" validate:"required,max=200"`
	SKU           *string          `json:"sku,omitempty" validate:"omitempty,max=100"`
	BaseUnit      string           `json:"base_unit,omitempty" validate:"omitempty,max=20"`
	ParThreshold  *decimal.Decimal `json:"par_threshold,omitempty"`
	UnitCostCents int64            `json:"unit_cost_cents" validate:"min=0"`
}

// OverrideParRequest sets or, with a nil threshold, clears the operator par.
type OverrideParRequest struct {
	ParThreshold *decimal.Decimal `json:"par_threshold"`
}

// MapDeviceRequest maps a pour device to an item. LocationID defaults to
// the item's location.
type MapDeviceRequest struct {
	ItemID     string `json:"item_id" validate:"required"`
	LocationID string `json:"location_id,omitempty"`
	IsActive   *bool  `json:"is_active,omitempty"`
}

// IngredientRequest is one recipe line. ItemID is optional; a name that
// matches exactly one tracked item is resolved to it.
type IngredientRequest struct {
	ItemID   string          `json:"item_id,omitempty"`
	Name     string          `json:"name" validate:"required"`
	Quantity decimal.Decimal `json:"quantity"`
	Unit     string          `json:"unit" validate:"required"`
}

// RecipeRequest replaces the recipe with the given name at a location.
type RecipeRequest struct {
	LocationID  string              `json:"location_id" validate:"required"`
	Ingredients []IngredientRequest `json:"ingredients" validate:"required,min=1,dive"`
}

// RecipeView is a recipe with its derived per-serving volume. Ingredients
// not measured in ml are listed in ExcludedIngredients; Untracked names
// the ingredients that do not deplete any tracked item, which includes
// every non-ml ingredient.
type RecipeView struct {
	domain.Recipe
	PerServingML        decimal.Decimal     `json:"per_serving_ml"`
	ExcludedIngredients []domain.Ingredient `json:"excluded_ingredients"`
	Untracked           []string            `json:"untracked"`
}

// QuantityView is the ledger fold for one stock unit.
type QuantityView struct {
	ItemID     string          `json:"item_id"`
	LocationID string          `json:"location_id"`
	Quantity   decimal.Decimal `json:"quantity"`
	BaseUnit   string          `json:"base_unit"`
	AsOf       *time.Time      `json:"as_of,omitempty"`
}

// MovementQuery filters the movements of one item. From and To must be
// given together.
type MovementQuery struct {
	LocationID string
	Kinds      []domain.MovementKind
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

// CatalogService manages items, devices and recipes and serves ledger reads.
type CatalogService struct {
	items      ItemStore
	devices    DeviceStore
	recipes    RecipeStore
	quarantine QuarantineStore
	ledger     *ledger.Ledger
	publisher  *events.InventoryEventPublisher
	logger     *logger.Logger
}

// NewCatalogService creates a new catalog service
func NewCatalogService(stores Stores, l *ledger.Ledger, publisher *events.InventoryEventPublisher, log *logger.Logger) *CatalogService {
	return &CatalogService{
		items:      stores.Items,
		devices:    stores.Devices,
		recipes:    stores.Recipes,
		quarantine: stores.Quarantine,
		ledger:     l,
		publisher:  publisher,
		logger:     log.WithComponent("catalog"),
	}
}

// Items

// CreateItem registers a tracked item.
func (s *CatalogService) CreateItem(ctx context.Context, req *CreateItemRequest) (*domain.TrackedItem, error) {
	item := &domain.TrackedItem{
		ID:            uuid.NewString(),
		LocationID:    strings.TrimSpace(req.LocationID),
		Name:          strings.TrimSpace(req.Name),
		SKU:           req.SKU,
		BaseUnit:      strings.TrimSpace(req.BaseUnit),
		UnitCostCents: req.UnitCostCents,
		IsActive:      true,
	}
	if item.BaseUnit == "" {
		item.BaseUnit = domain.UnitMilliliter
	}
	if req.ParThreshold != nil {
		if !req.ParThreshold.IsPositive() {
			return nil, errors.Validation(map[string]string{"par_threshold": "must be positive"})
		}
		item.ParThreshold = decimal.NewNullDecimal(*req.ParThreshold)
	}

	if err := s.items.CreateItem(ctx, item); err != nil {
		return nil, mapError(err)
	}

	s.logger.Info().Str("item_id", item.ID).Str("location_id", item.LocationID).Msg("tracked item created")
	return item, nil
}

// GetItem gets a tracked item by ID
func (s *CatalogService) GetItem(ctx context.Context, id string) (*domain.TrackedItem, error) {
	item, err := s.items.GetItem(ctx, id)
	if err != nil {
		return nil, mapError(err)
	}
	return item, nil
}

// ListItems lists the items of a location, all locations when empty.
func (s *CatalogService) ListItems(ctx context.Context, locationID string, activeOnly bool) ([]domain.TrackedItem, error) {
	return s.items.ListItems(ctx, locationID, activeOnly)
}

// OverridePar sets the operator par threshold. The forecast keeps being
// computed alongside it.
func (s *CatalogService) OverridePar(ctx context.Context, id string, req *OverrideParRequest, actor string) (*domain.TrackedItem, error) {
	var par decimal.NullDecimal
	if req.ParThreshold != nil {
		if req.ParThreshold.IsNegative() {
			return nil, errors.Validation(map[string]string{"par_threshold": "must not be negative"})
		}
		par = decimal.NewNullDecimal(*req.ParThreshold)
	}

	item, err := s.items.SetParThreshold(ctx, id, par)
	if err != nil {
		return nil, mapError(err)
	}

	s.publisher.PublishParOverridden(ctx, item, actor)
	s.logger.Info().
		Str("item_id", item.ID).
		Str("actor", actor).
		Bool("cleared", !par.Valid).
		Msg("par threshold overridden")
	return item, nil
}

// DeactivateItem soft-deletes an item. Its movements stay in the ledger.
func (s *CatalogService) DeactivateItem(ctx context.Context, id string) error {
	if err := s.items.Deactivate(ctx, id); err != nil {
		return mapError(err)
	}
	s.logger.Info().Str("item_id", id).Msg("tracked item deactivated")
	return nil
}

// Devices

// MapDevice maps a pour device to a tracked item, replacing any earlier mapping.
func (s *CatalogService) MapDevice(ctx context.Context, deviceID string, req *MapDeviceRequest) (*domain.DeviceMapping, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return nil, errors.Validation(map[string]string{"device_id": "is required"})
	}

	item, err := s.items.GetItem(ctx, req.ItemID)
	if err != nil {
		return nil, mapError(err)
	}
	if !item.IsActive {
		return nil, mapError(domain.ErrItemInactive)
	}

	locationID := req.LocationID
	if locationID == "" {
		locationID = item.LocationID
	}
	if locationID != item.LocationID {
		return nil, errors.Validation(map[string]string{"location_id": "must match the item's location"})
	}

	m := &domain.DeviceMapping{
		DeviceID:   deviceID,
		ItemID:     item.ID,
		LocationID: locationID,
		IsActive:   req.IsActive == nil || *req.IsActive,
	}
	if err := s.devices.UpsertDevice(ctx, m); err != nil {
		return nil, mapError(err)
	}

	s.logger.Info().Str("device_id", deviceID).Str("item_id", item.ID).Bool("active", m.IsActive).Msg("device mapped")
	return m, nil
}

// ListDevices lists device mappings of a location.
func (s *CatalogService) ListDevices(ctx context.Context, locationID string) ([]domain.DeviceMapping, error) {
	return s.devices.ListDevices(ctx, locationID)
}

// Recipes

// UpsertRecipe stores a recipe under name at the request's location.
func (s *CatalogService) UpsertRecipe(ctx context.Context, name string, req *RecipeRequest) (*RecipeView, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.Validation(map[string]string{"name": "is required"})
	}

	items, err := s.items.ListItems(ctx, req.LocationID, true)
	if err != nil {
		return nil, err
	}

	recipe := &domain.Recipe{
		LocationID:  req.LocationID,
		Name:        name,
		Ingredients: make([]domain.Ingredient, 0, len(req.Ingredients)),
	}
	for _, in := range req.Ingredients {
		if !in.Quantity.IsPositive() {
			return nil, errors.Validation(map[string]string{
				"ingredients": "ingredient " + in.Name + " must have a positive quantity",
			})
		}
		ing := domain.Ingredient{
			ItemID:   in.ItemID,
			Name:     strings.TrimSpace(in.Name),
			Quantity: in.Quantity,
			Unit:     strings.TrimSpace(in.Unit),
		}
		if ing.ItemID != "" {
			if !stocked(items, ing.ItemID) {
				return nil, errors.Validation(map[string]string{
					"ingredients": "ingredient " + ing.Name + " refers to an item not stocked at " + req.LocationID,
				})
			}
		} else if ing.IsML() {
			if matches := normalizer.MatchByName(items, ing.Name, func(t domain.TrackedItem) string { return t.Name }); len(matches) == 1 {
				ing.ItemID = matches[0].ID
			}
		}
		recipe.Ingredients = append(recipe.Ingredients, ing)
	}

	if err := s.recipes.UpsertRecipe(ctx, recipe); err != nil {
		return nil, mapError(err)
	}

	s.logger.Info().Str("recipe", recipe.Name).Str("location_id", recipe.LocationID).Msg("recipe stored")
	return newRecipeView(*recipe), nil
}

// ListRecipes lists the recipes of a location.
func (s *CatalogService) ListRecipes(ctx context.Context, locationID string) ([]RecipeView, error) {
	recipes, err := s.recipes.ListRecipes(ctx, locationID)
	if err != nil {
		return nil, err
	}
	views := make([]RecipeView, 0, len(recipes))
	for _, r := range recipes {
		views = append(views, *newRecipeView(r))
	}
	return views, nil
}

func newRecipeView(r domain.Recipe) *RecipeView {
	total, excluded := r.PerServingML()
	view := &RecipeView{
		Recipe:              r,
		PerServingML:        total,
		ExcludedIngredients: excluded,
		Untracked:           []string{},
	}
	if view.ExcludedIngredients == nil {
		view.ExcludedIngredients = []domain.Ingredient{}
	}
	for _, ing := range r.Ingredients {
		if ing.ItemID == "" || !ing.IsML() {
			view.Untracked = append(view.Untracked, ing.Name)
		}
	}
	return view
}

func stocked(items []domain.TrackedItem, id string) bool {
	for _, item := range items {
		if item.ID == id {
			return true
		}
	}
	return false
}

// Ledger reads

// CurrentQuantity folds the ledger for an item. The location defaults to
// the item's; a zero asOf reads everything recorded so far.
func (s *CatalogService) CurrentQuantity(ctx context.Context, itemID, locationID string, asOf time.Time) (*QuantityView, error) {
	item, err := s.items.GetItem(ctx, itemID)
	if err != nil {
		return nil, mapError(err)
	}
	if locationID == "" {
		locationID = item.LocationID
	}

	qty, err := s.ledger.CurrentQuantity(ctx, item.ID, locationID, asOf)
	if err != nil {
		return nil, err
	}

	view := &QuantityView{
		ItemID:     item.ID,
		LocationID: locationID,
		Quantity:   qty,
		BaseUnit:   item.BaseUnit,
	}
	if !asOf.IsZero() {
		at := asOf.UTC()
		view.AsOf = &at
	}
	return view, nil
}

// Movements lists the movements of an item in occurrence order.
func (s *CatalogService) Movements(ctx context.Context, itemID string, q MovementQuery) ([]domain.StockMovement, error) {
	if _, err := s.items.GetItem(ctx, itemID); err != nil {
		return nil, mapError(err)
	}
	for _, k := range q.Kinds {
		if !k.Valid() {
			return nil, errors.Validation(map[string]string{"kind": "unknown movement kind " + string(k)})
		}
	}

	filter := domain.MovementFilter{
		ItemID:     itemID,
		LocationID: q.LocationID,
		Kinds:      q.Kinds,
		Limit:      q.Limit,
		Offset:     q.Offset,
	}
	switch {
	case q.From != nil && q.To != nil:
		filter.Window = &domain.Window{Start: *q.From, End: *q.To}
	case q.From != nil || q.To != nil:
		return nil, errors.BadRequest("from and to must be given together")
	}

	movements, err := s.ledger.Movements(ctx, filter)
	if err != nil {
		return nil, mapError(err)
	}
	return movements, nil
}

// ListQuarantine lists rejected events, newest first.
func (s *CatalogService) ListQuarantine(ctx context.Context, source string, limit, offset int) ([]domain.QuarantinedEvent, error) {
	return s.quarantine.List(ctx, source, limit, offset)
}
