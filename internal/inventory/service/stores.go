package service

import (
	"context"
	"time"

	"github.com/barledger/barledger-backend/internal/inventory/domain"
	"github.com/barledger/barledger-backend/internal/inventory/ledger"
	"github.com/barledger/barledger-backend/internal/inventory/normalizer"
	"github.com/shopspring/decimal"
)

// ItemStore is the tracked item catalog.
type ItemStore interface {
	normalizer.Catalog
	SetParThreshold(ctx context.Context, id string, par decimal.NullDecimal) (*domain.TrackedItem, error)
	Deactivate(ctx context.Context, id string) error
}

// DeviceStore maps pour devices to items.
type DeviceStore interface {
	normalizer.DeviceMap
	UpsertDevice(ctx context.Context, m *domain.DeviceMapping) error
	ListDevices(ctx context.Context, locationID string) ([]domain.DeviceMapping, error)
	HasPourDevice(ctx context.Context, itemID, locationID string) (bool, error)
}

// RecipeStore holds the recipes sales are fanned out with.
type RecipeStore interface {
	normalizer.RecipeBook
	UpsertRecipe(ctx context.Context, r *domain.Recipe) error
}

// QuarantineStore keeps rejected raw events.
type QuarantineStore interface {
	Insert(ctx context.Context, q *domain.QuarantinedEvent) error
	List(ctx context.Context, source string, limit, offset int) ([]domain.QuarantinedEvent, error)
}

// AnomalyStore persists anomaly records unique by (type, fingerprint).
type AnomalyStore interface {
	InsertIfAbsent(ctx context.Context, a *domain.AnomalyRecord) (bool, error)
	Get(ctx context.Context, id string) (*domain.AnomalyRecord, error)
	List(ctx context.Context, f domain.AnomalyFilter) ([]domain.AnomalyRecord, error)
	Dismiss(ctx context.Context, id, reviewer, note string, at time.Time) (*domain.AnomalyRecord, error)
}

// ReconciliationStore keeps one result per unit and window.
type ReconciliationStore interface {
	Upsert(ctx context.Context, r *domain.ReconciliationResult) error
	Latest(ctx context.Context, itemID, locationID string) (*domain.ReconciliationResult, error)
	ListLatest(ctx context.Context, locationID string) ([]domain.ReconciliationResult, error)
	History(ctx context.Context, itemID, locationID string, limit int) ([]domain.ReconciliationResult, error)
}

// ForecastStore keeps the latest forecast per unit.
type ForecastStore interface {
	Upsert(ctx context.Context, f *domain.ParForecast) error
	Get(ctx context.Context, itemID, locationID string) (*domain.ParForecast, error)
	List(ctx context.Context, locationID string) ([]domain.ParForecast, error)
}

// Stores groups the persistence ports. Postgres repositories back it in
// the service binary, memstore in tests.
type Stores struct {
	Items           ItemStore
	Devices         DeviceStore
	Recipes         RecipeStore
	Movements       ledger.Store
	Quarantine      QuarantineStore
	Anomalies       AnomalyStore
	Reconciliations ReconciliationStore
	Forecasts       ForecastStore
}
