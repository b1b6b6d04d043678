package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/barledger/barledger-backend/internal/inventory/anomaly"
	"github.com/barledger/barledger-backend/internal/inventory/domain"
	"github.com/barledger/barledger-backend/internal/inventory/events"
	"github.com/barledger/barledger-backend/internal/inventory/forecast"
	"github.com/barledger/barledger-backend/internal/inventory/insight"
	"github.com/barledger/barledger-backend/internal/inventory/ledger"
	"github.com/barledger/barledger-backend/internal/inventory/memstore"
	"github.com/barledger/barledger-backend/internal/inventory/normalizer"
	"github.com/barledger/barledger-backend/internal/inventory/reconcile"
	"github.com/barledger/barledger-backend/internal/inventory/repository"
	"github.com/barledger/barledger-backend/internal/inventory/service"
	"github.com/barledger/barledger-backend/pkg/config"
	"github.com/barledger/barledger-backend/pkg/logger"
	"github.com/barledger/barledger-backend/pkg/testutil"
	"github.com/stretchr/testify/require"
)

var (
	_ service.ItemStore           = (*memstore.Items)(nil)
	_ service.DeviceStore         = (*memstore.Devices)(nil)
	_ service.RecipeStore         = (*memstore.Recipes)(nil)
	_ service.QuarantineStore     = (*memstore.Quarantine)(nil)
	_ service.AnomalyStore        = (*memstore.Anomalies)(nil)
	_ service.ReconciliationStore = (*memstore.Reconciliations)(nil)
	_ service.ForecastStore       = (*memstore.Forecasts)(nil)

	_ service.ItemStore           = (*repository.ItemRepository)(nil)
	_ service.DeviceStore         = (*repository.DeviceRepository)(nil)
	_ service.RecipeStore         = (*repository.RecipeRepository)(nil)
	_ service.QuarantineStore     = (*repository.QuarantineRepository)(nil)
	_ service.AnomalyStore        = (*repository.AnomalyRepository)(nil)
	_ service.ReconciliationStore = (*repository.ReconciliationRepository)(nil)
	_ service.ForecastStore       = (*repository.ForecastRepository)(nil)
)

// harness wires every service over in-memory stores with a fixed clock.
type harness struct {
	now      time.Time
	fixtures *testutil.FixtureFactory

	items           *memstore.Items
	devices         *memstore.Devices
	movements       *memstore.Movements
	anomalies       *memstore.Anomalies
	reconciliations *memstore.Reconciliations
	forecasts       *memstore.Forecasts
	quarantine      *memstore.Quarantine
	stores          service.Stores

	ledger    *ledger.Ledger
	publisher *testutil.MockPublisher
	locker    *service.LocalLocker

	ingest   *service.IngestService
	catalog  *service.CatalogService
	analysis *service.AnalysisService
	review   *service.AnomalyService
}

type harnessOption func(*harness)

// withStores lets a test wrap stores before the services are built.
func withStores(fn func(*service.Stores)) harnessOption {
	return func(h *harness) { fn(&h.stores) }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	fixtures := testutil.NewFixtureFactory()
	h := &harness{
		now:             fixtures.Now,
		fixtures:        fixtures,
		items:           memstore.NewItems(),
		devices:         memstore.NewDevices(),
		movements:       memstore.NewMovements(),
		anomalies:       memstore.NewAnomalies(),
		reconciliations: memstore.NewReconciliations(),
		forecasts:       memstore.NewForecasts(),
		quarantine:      memstore.NewQuarantine(),
		publisher:       testutil.NewMockPublisher(),
		locker:          service.NewLocalLocker(),
	}
	recipes := memstore.NewRecipes()
	h.stores = service.Stores{
		Items:           h.items,
		Devices:         h.devices,
		Recipes:         recipes,
		Movements:       h.movements,
		Quarantine:      h.quarantine,
		Anomalies:       h.anomalies,
		Reconciliations: h.reconciliations,
		Forecasts:       h.forecasts,
	}
	for _, opt := range opts {
		opt(h)
	}

	log := logger.Nop()
	clock := func() time.Time { return h.now }
	pub := events.NewWithPublisher(h.publisher, log)

	h.ledger = ledger.New(h.stores.Movements, log).WithClock(clock)
	norm := normalizer.New(h.stores.Items, h.stores.Recipes, h.stores.Devices, normalizer.Config{
		MaxFutureSkew: 5 * time.Minute,
		MaxPastAge:    365 * 24 * time.Hour,
	}, log).WithClock(clock)

	engines := service.Engines{
		Reconciler: reconcile.New(h.ledger, h.stores.Devices, reconcile.DefaultTolerancePercent).WithClock(clock),
		Detector:   anomaly.New(anomaly.DefaultConfig()).WithClock(clock),
		Forecaster: forecast.New(forecast.DefaultConfig()),
		Insight: insight.NewConfig(config.InsightConfig{
			CostSavingCents:      5000,
			ConsecutiveWindows:   3,
			RapidRepeatThreshold: 3,
		}),
	}
	cfg := service.AnalysisConfig{
		Workers:         4,
		ReconcileWindow: 24 * time.Hour,
		CloseGrace:      15 * time.Minute,
		AnomalyWindow:   24 * time.Hour,
		LockTTL:         time.Minute,
	}

	h.ingest = service.NewIngestService(norm, h.ledger, h.stores.Quarantine, pub, nil, log)
	h.catalog = service.NewCatalogService(h.stores, h.ledger, pub, log)
	h.analysis = service.NewAnalysisService(h.stores, h.ledger, engines, cfg, h.locker, pub, nil, log).WithClock(clock)
	h.review = service.NewAnomalyService(h.stores.Anomalies, log).WithClock(clock)
	return h
}

func (h *harness) addItem(t *testing.T, opts ...func(*domain.TrackedItem)) domain.TrackedItem {
	t.Helper()
	item := h.fixtures.Item(opts...)
	require.NoError(t, h.items.CreateItem(context.Background(), &item))
	return item
}

func (h *harness) addDevice(t *testing.T, deviceID string, item domain.TrackedItem) {
	t.Helper()
	m := h.fixtures.Device(deviceID, item)
	require.NoError(t, h.devices.UpsertDevice(context.Background(), &m))
}

func (h *harness) record(t *testing.T, movements ...domain.StockMovement) {
	t.Helper()
	for _, m := range movements {
		appended, err := h.ledger.Append(context.Background(), m)
		require.NoError(t, err)
		require.True(t, appended)
	}
}
