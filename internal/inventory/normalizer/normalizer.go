// Package normalizer turns source-specific raw events into ledger movements.
package normalizer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/barledger/barledger-backend/internal/inventory/domain"
	"github.com/barledger/barledger-backend/pkg/logger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Catalog resolves and creates tracked items.
type Catalog interface {
	GetItem(ctx context.Context, id string) (*domain.TrackedItem, error)
	ListItems(ctx context.Context, locationID string, activeOnly bool) ([]domain.TrackedItem, error)
	CreateItem(ctx context.Context, item *domain.TrackedItem) error
}

// RecipeBook lists the recipes of a location.
type RecipeBook interface {
	ListRecipes(ctx context.Context, locationID string) ([]domain.Recipe, error)
}

// DeviceMap resolves a pour device to its item. It returns
// domain.ErrDeviceNotMapped for unknown devices.
type DeviceMap interface {
	DeviceMapping(ctx context.Context, deviceID string) (*domain.DeviceMapping, error)
}

// Config bounds the timestamps the normalizer accepts.
type Config struct {
	MaxFutureSkew time.Duration
	MaxPastAge    time.Duration
}

// Normalizer validates raw events and resolves them to items.
type Normalizer struct {
	catalog Catalog
	recipes RecipeBook
	devices DeviceMap
	cfg     Config
	logger  *logger.Logger
	now     func() time.Time

	// serializes resolve-or-create so concurrent purchases of a new
	// product create one item
	createMu sync.Mutex
}

// New creates a normalizer.
func New(catalog Catalog, recipes RecipeBook, devices DeviceMap, cfg Config, log *logger.Logger) *Normalizer {
	return &Normalizer{
		catalog: catalog,
		recipes: recipes,
		devices: devices,
		cfg:     cfg,
		logger:  log.WithComponent("normalizer"),
		now:     time.Now,
	}
}

// WithClock replaces the wall clock, for tests.
func (n *Normalizer) WithClock(now func() time.Time) *Normalizer {
	n.now = now
	return n
}

// Normalize converts raw into one or more movements. Rejections are
// returned as *Error; any other error is an infrastructure failure.
func (n *Normalizer) Normalize(ctx context.Context, raw RawEvent) ([]domain.StockMovement, error) {
	switch e := raw.(type) {
	case PurchaseEvent:
		return n.purchase(ctx, e)
	case SaleEvent:
		return n.sale(ctx, e)
	case PourEvent:
		return n.pour(ctx, e)
	case WastageEvent:
		return n.manual(ctx, domain.KindWastage, e.SourceRef, e.LocationID, e.ItemID, e.Delta, e.ReasonCode, e.OccurredAt)
	case AdjustmentEvent:
		return n.manual(ctx, domain.KindAdjustment, e.SourceRef, e.LocationID, e.ItemID, e.Delta, e.ReasonCode, e.OccurredAt)
	default:
		return nil, fail(ErrUnsupportedEvent, "%T", raw)
	}
}

func (n *Normalizer) purchase(ctx context.Context, e PurchaseEvent) ([]domain.StockMovement, error) {
	if !e.Quantity.IsPositive() {
		return nil, fail(ErrInvalidQuantitySign, "purchase quantity must be positive, got %s", e.Quantity)
	}
	if err := n.checkTimestamp(e.OccurredAt); err != nil {
		return nil, err
	}

	item, err := n.resolvePurchasedItem(ctx, e)
	if err != nil {
		return nil, err
	}

	return []domain.StockMovement{
		n.movement(item.ID, e.LocationID, domain.KindPurchase, e.Quantity, e.SourceRef, e.OccurredAt),
	}, nil
}

func (n *Normalizer) resolvePurchasedItem(ctx context.Context, e PurchaseEvent) (*domain.TrackedItem, error) {
	if e.ItemID != "" {
		item, err := n.itemAt(ctx, e.ItemID, e.LocationID)
		if err == nil || e.ItemName == "" {
			return item, err
		}
		if !errors.Is(err, ErrUnresolvedItem) {
			return nil, err
		}
	}

	n.createMu.Lock()
	defer n.createMu.Unlock()

	items, err := n.catalog.ListItems(ctx, e.LocationID, true)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}

	matches := MatchByName(items, e.ItemName, func(i domain.TrackedItem) string { return i.Name })
	switch len(matches) {
	case 1:
		return &matches[0], nil
	case 0:
		return n.createItem(ctx, e)
	default:
		return nil, fail(ErrResolutionAmbiguous, "%q matches %d items", e.ItemName, len(matches))
	}
}

func (n *Normalizer) createItem(ctx context.Context, e PurchaseEvent) (*domain.TrackedItem, error) {
	unit := strings.TrimSpace(e.Unit)
	if unit == "" {
		unit = domain.UnitMilliliter
	}

	item := &domain.TrackedItem{
		ID:            uuid.NewString(),
		LocationID:    e.LocationID,
		Name:          strings.TrimSpace(e.ItemName),
		BaseUnit:      unit,
		UnitCostCents: e.UnitCostCents,
		IsActive:      true,
		AutoCreated:   true,
	}
	if err := n.catalog.CreateItem(ctx, item); err != nil {
		return nil, fmt.Errorf("create item: %w", err)
	}

	n.logger.Info().
		Str("item_id", item.ID).
		Str("location_id", item.LocationID).
		Str("name", item.Name).
		Msg("created tracked item from purchase")

	return item, nil
}

func (n *Normalizer) sale(ctx context.Context, e SaleEvent) ([]domain.StockMovement, error) {
	if !e.Servings.IsPositive() {
		return nil, fail(ErrInvalidQuantitySign, "sold servings must be positive, got %s", e.Servings)
	}
	if err := n.checkTimestamp(e.OccurredAt); err != nil {
		return nil, err
	}

	recipes, err := n.recipes.ListRecipes(ctx, e.LocationID)
	if err != nil {
		return nil, fmt.Errorf("list recipes: %w", err)
	}

	matches := MatchByName(recipes, e.ProductName, func(r domain.Recipe) string { return r.Name })
	switch len(matches) {
	case 1:
		return n.fanOut(matches[0], e)
	case 0:
	default:
		return nil, fail(ErrResolutionAmbiguous, "%q matches %d recipes", e.ProductName, len(matches))
	}

	// No recipe: the product is itself a tracked item, e.g. a bottled beer.
	items, err := n.catalog.ListItems(ctx, e.LocationID, true)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	itemMatches := MatchByName(items, e.ProductName, func(i domain.TrackedItem) string { return i.Name })
	switch len(itemMatches) {
	case 1:
		return []domain.StockMovement{
			n.movement(itemMatches[0].ID, e.LocationID, domain.KindSale, e.Servings.Neg(), e.SourceRef, e.OccurredAt),
		}, nil
	case 0:
		return nil, fail(ErrUnresolvedItem, "no recipe or item named %q", e.ProductName)
	default:
		return nil, fail(ErrResolutionAmbiguous, "%q matches %d items", e.ProductName, len(itemMatches))
	}
}

// fanOut emits one movement per tracked ml ingredient. Ingredients in any
// other unit never reach the ledger, even when linked to an item. Each
// movement carries a derived source ref so the (source ref, kind) key stays
// unique per ingredient.
func (n *Normalizer) fanOut(recipe domain.Recipe, e SaleEvent) ([]domain.StockMovement, error) {
	ml, excluded := recipe.SplitByUnit()
	for _, ing := range excluded {
		if ing.ItemID != "" {
			n.logger.Debug().
				Str("recipe", recipe.Name).
				Str("item_id", ing.ItemID).
				Str("unit", ing.Unit).
				Msg("non-ml ingredient left out of sale")
		}
	}

	var order []string
	perItem := make(map[string]decimal.Decimal)
	for _, ing := range ml {
		if ing.ItemID == "" || !ing.Quantity.IsPositive() {
			continue
		}
		if _, seen := perItem[ing.ItemID]; !seen {
			order = append(order, ing.ItemID)
			perItem[ing.ItemID] = decimal.Zero
		}
		perItem[ing.ItemID] = perItem[ing.ItemID].Add(ing.Quantity)
	}

	if len(order) == 0 {
		return nil, fail(ErrUnresolvedItem, "recipe %q has no tracked ml ingredients", recipe.Name)
	}

	movements := make([]domain.StockMovement, 0, len(order))
	for _, itemID := range order {
		delta := perItem[itemID].Mul(e.Servings).Neg()
		ref := e.SourceRef + ":" + itemID
		movements = append(movements, n.movement(itemID, e.LocationID, domain.KindSale, delta, ref, e.OccurredAt))
	}
	return movements, nil
}

func (n *Normalizer) pour(ctx context.Context, e PourEvent) ([]domain.StockMovement, error) {
	if e.Volume.IsNegative() || (e.Volume.IsZero() && !e.Error) {
		return nil, fail(ErrInvalidQuantitySign, "pour volume must be positive, got %s", e.Volume)
	}
	if err := n.checkTimestamp(e.OccurredAt); err != nil {
		return nil, err
	}

	mapping, err := n.devices.DeviceMapping(ctx, e.DeviceID)
	if errors.Is(err, domain.ErrDeviceNotMapped) || (err == nil && !mapping.IsActive) {
		return nil, fail(ErrUnmappedDevice, "device %s", e.DeviceID)
	}
	if err != nil {
		return nil, fmt.Errorf("device mapping: %w", err)
	}

	m := n.movement(mapping.ItemID, mapping.LocationID, domain.KindPour, e.Volume.Neg(), e.SourceRef, e.OccurredAt)
	deviceID := e.DeviceID
	m.DeviceID = &deviceID
	m.DeviceError = e.Error
	if e.Error && e.ErrorCode != "" {
		code := e.ErrorCode
		m.ReasonCode = &code
	}
	return []domain.StockMovement{m}, nil
}

func (n *Normalizer) manual(ctx context.Context, kind domain.MovementKind, ref, locationID, itemID string, delta decimal.Decimal, reason string, at time.Time) ([]domain.StockMovement, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fail(ErrMissingReason, "%s requires a reason code", kind)
	}
	switch {
	case delta.IsZero():
		return nil, fail(ErrInvalidQuantitySign, "%s delta must not be zero", kind)
	case kind == domain.KindWastage && delta.IsPositive():
		return nil, fail(ErrInvalidQuantitySign, "wastage delta must be negative, got %s", delta)
	}
	if err := n.checkTimestamp(at); err != nil {
		return nil, err
	}

	item, err := n.itemAt(ctx, itemID, locationID)
	if err != nil {
		return nil, err
	}

	m := n.movement(item.ID, locationID, kind, delta, ref, at)
	m.ReasonCode = &reason
	return []domain.StockMovement{m}, nil
}

func (n *Normalizer) itemAt(ctx context.Context, itemID, locationID string) (*domain.TrackedItem, error) {
	item, err := n.catalog.GetItem(ctx, itemID)
	if errors.Is(err, domain.ErrItemNotFound) {
		return nil, fail(ErrUnresolvedItem, "item %s does not exist", itemID)
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if item.LocationID != locationID {
		return nil, fail(ErrUnresolvedItem, "item %s is not stocked at %s", itemID, locationID)
	}
	return item, nil
}

func (n *Normalizer) checkTimestamp(at time.Time) error {
	now := n.now()
	switch {
	case at.IsZero():
		return fail(ErrImplausibleTimestamp, "missing timestamp")
	case at.After(now.Add(n.cfg.MaxFutureSkew)):
		return fail(ErrImplausibleTimestamp, "%s is in the future", at.Format(time.RFC3339))
	case n.cfg.MaxPastAge > 0 && at.Before(now.Add(-n.cfg.MaxPastAge)):
		return fail(ErrImplausibleTimestamp, "%s is too old", at.Format(time.RFC3339))
	}
	return nil
}

// movement builds a movement. RecordedAt stays zero; the ledger stamps it
// when the movement is appended.
func (n *Normalizer) movement(itemID, locationID string, kind domain.MovementKind, delta decimal.Decimal, ref string, at time.Time) domain.StockMovement {
	return domain.StockMovement{
		ID:         uuid.NewString(),
		ItemID:     itemID,
		LocationID: locationID,
		Delta:      delta,
		Kind:       kind,
		SourceRef:  ref,
		OccurredAt: at.UTC(),
	}
}
