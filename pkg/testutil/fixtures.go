package testutil

import (
	"fmt"
	"sync"
	"time"

	"github.com/barledger/barledger-backend/internal/inventory/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FixtureLocation is the location every fixture belongs to unless overridden.
const FixtureLocation = "bar-main"

// FixtureFactory creates test fixtures with sensible defaults
type FixtureFactory struct {
	mu       sync.Mutex
	sequence int
	// Now is the reference instant fixture timestamps are derived from.
	Now time.Time
}

// NewFixtureFactory creates a new fixture factory
func NewFixtureFactory() *FixtureFactory {
	return &FixtureFactory{Now: time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC)}
}

func (f *FixtureFactory) nextSeq() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sequence++
	return f.sequence
}

// Item creates a tracked item fixture with defaults
func (f *FixtureFactory) Item(opts ...func(*domain.TrackedItem)) domain.TrackedItem {
	seq := f.nextSeq()
	item := domain.TrackedItem{
		ID:            uuid.NewString(),
		LocationID:    FixtureLocation,
		Name:          fmt.Sprintf("Test Spirit %d", seq),
		BaseUnit:      domain.UnitMilliliter,
		UnitCostCents: 3,
		IsActive:      true,
		CreatedAt:     f.Now,
		UpdatedAt:     f.Now,
	}

	for _, opt := range opts {
		opt(&item)
	}
	return item
}

// WithItemName sets the item name
func WithItemName(name string) func(*domain.TrackedItem) {
	return func(i *domain.TrackedItem) {
		i.Name = name
	}
}

// WithItemID sets the item ID
func WithItemID(id string) func(*domain.TrackedItem) {
	return func(i *domain.TrackedItem) {
		i.ID = id
	}
}

// WithPar sets the operator par threshold
func WithPar(par int64) func(*domain.TrackedItem) {
	return func(i *domain.TrackedItem) {
		i.ParThreshold = decimal.NewNullDecimal(decimal.NewFromInt(par))
	}
}

// Movement creates a movement of kind for item, occurred and recorded at at.
func (f *FixtureFactory) Movement(item domain.TrackedItem, kind domain.MovementKind, delta string, at time.Time, opts ...func(*domain.StockMovement)) domain.StockMovement {
	seq := f.nextSeq()
	m := domain.StockMovement{
		ID:         uuid.NewString(),
		ItemID:     item.ID,
		LocationID: item.LocationID,
		Delta:      decimal.RequireFromString(delta),
		Kind:       kind,
		SourceRef:  fmt.Sprintf("%s-%d", kind, seq),
		OccurredAt: at,
		RecordedAt: at,
	}

	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// OnDevice tags a movement with a pour device
func OnDevice(deviceID string) func(*domain.StockMovement) {
	return func(m *domain.StockMovement) {
		m.DeviceID = &deviceID
	}
}

// WithDeviceError flags a movement as pour telemetry error
func WithDeviceError() func(*domain.StockMovement) {
	return func(m *domain.StockMovement) {
		m.DeviceError = true
	}
}

// RecordedAt overrides when a movement reached the ledger
func RecordedAt(at time.Time) func(*domain.StockMovement) {
	return func(m *domain.StockMovement) {
		m.RecordedAt = at
	}
}

// Device creates an active mapping of deviceID to item
func (f *FixtureFactory) Device(deviceID string, item domain.TrackedItem) domain.DeviceMapping {
	return domain.DeviceMapping{
		DeviceID:   deviceID,
		ItemID:     item.ID,
		LocationID: item.LocationID,
		IsActive:   true,
		UpdatedAt:  f.Now,
	}
}
