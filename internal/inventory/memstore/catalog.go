package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/barledger/barledger-backend/internal/inventory/domain"
	"github.com/barledger/barledger-backend/internal/inventory/normalizer"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	_ normalizer.Catalog    = (*Items)(nil)
	_ normalizer.DeviceMap  = (*Devices)(nil)
	_ normalizer.RecipeBook = (*Recipes)(nil)
)

// Items is an in-memory item catalog.
type Items struct {
	mu    sync.RWMutex
	items map[string]domain.TrackedItem
	now   func() time.Time
}

// NewItems creates an empty catalog.
func NewItems() *Items {
	return &Items{items: make(map[string]domain.TrackedItem), now: time.Now}
}

func (s *Items) GetItem(_ context.Context, id string) (*domain.TrackedItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return nil, domain.ErrItemNotFound
	}
	return &item, nil
}

func (s *Items) ListItems(_ context.Context, locationID string, activeOnly bool) ([]domain.TrackedItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.TrackedItem, 0)
	for _, item := range s.items {
		if locationID != "" && item.LocationID != locationID {
			continue
		}
		if activeOnly && !item.IsActive {
			continue
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out, nil
}

func (s *Items) CreateItem(_ context.Context, item *domain.TrackedItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	now := s.now().UTC()
	item.CreatedAt, item.UpdatedAt = now, now
	s.items[item.ID] = *item
	return nil
}

func (s *Items) SetParThreshold(_ context.Context, id string, par decimal.NullDecimal) (*domain.TrackedItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return nil, domain.ErrItemNotFound
	}
	item.ParThreshold = par
	item.UpdatedAt = s.now().UTC()
	s.items[id] = item
	return &item, nil
}

func (s *Items) Deactivate(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return domain.ErrItemNotFound
	}
	item.IsActive = false
	item.UpdatedAt = s.now().UTC()
	s.items[id] = item
	return nil
}

// Devices is an in-memory device to item mapping.
type Devices struct {
	mu      sync.RWMutex
	devices map[string]domain.DeviceMapping
}

// NewDevices creates an empty device map.
func NewDevices() *Devices {
	return &Devices{devices: make(map[string]domain.DeviceMapping)}
}

func (s *Devices) DeviceMapping(_ context.Context, deviceID string) (*domain.DeviceMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.devices[deviceID]
	if !ok {
		return nil, domain.ErrDeviceNotMapped
	}
	return &m, nil
}

func (s *Devices) UpsertDevice(_ context.Context, m *domain.DeviceMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m.UpdatedAt = time.Now().UTC()
	s.devices[m.DeviceID] = *m
	return nil
}

func (s *Devices) ListDevices(_ context.Context, locationID string) ([]domain.DeviceMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.DeviceMapping, 0)
	for _, m := range s.devices {
		if locationID == "" || m.LocationID == locationID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out, nil
}

func (s *Devices) HasPourDevice(_ context.Context, itemID, locationID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.devices {
		if m.IsActive && m.ItemID == itemID && m.LocationID == locationID {
			return true, nil
		}
	}
	return false, nil
}

// Recipes is an in-memory recipe book keyed by location and lower-cased name.
type Recipes struct {
	mu      sync.RWMutex
	recipes map[string]domain.Recipe
}

// NewRecipes creates an empty recipe book.
func NewRecipes() *Recipes {
	return &Recipes{recipes: make(map[string]domain.Recipe)}
}

func (s *Recipes) ListRecipes(_ context.Context, locationID string) ([]domain.Recipe, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Recipe, 0)
	for _, r := range s.recipes {
		if r.LocationID == locationID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Recipes) UpsertRecipe(_ context.Context, r *domain.Recipe) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := r.LocationID + "|" + strings.ToLower(r.Name)
	if existing, ok := s.recipes[key]; ok {
		r.ID = existing.ID
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	s.recipes[key] = *r
	return nil
}
