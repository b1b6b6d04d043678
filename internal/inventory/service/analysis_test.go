package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/barledger/barledger-backend/internal/inventory/domain"
	"github.com/barledger/barledger-backend/internal/inventory/insight"
	"github.com/barledger/barledger-backend/internal/inventory/service"
	"github.com/barledger/barledger-backend/pkg/messaging"
	"github.com/barledger/barledger-backend/pkg/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedShortage records a purchase, 100 sold and 90 poured on pourer-1, the
// last two pours 20s apart.
func seedShortage(t *testing.T, h *harness) domain.TrackedItem {
	t.Helper()
	gin := h.addItem(t, testutil.WithItemName("Gin"))
	h.addDevice(t, "pourer-1", gin)

	pourAt := h.now.Add(-8 * time.Hour)
	h.record(t,
		h.fixtures.Movement(gin, domain.KindPurchase, "700", h.now.Add(-20*time.Hour)),
		h.fixtures.Movement(gin, domain.KindSale, "-100", h.now.Add(-10*time.Hour)),
		h.fixtures.Movement(gin, domain.KindPour, "-60", pourAt, testutil.OnDevice("pourer-1")),
		h.fixtures.Movement(gin, domain.KindPour, "-30", pourAt.Add(20*time.Second), testutil.OnDevice("pourer-1")),
	)
	return gin
}

func TestSweep_ComputesEveryPass(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	gin := seedShortage(t, h)
	tonic := h.addItem(t, testutil.WithItemName("Tonic"))

	report, err := h.analysis.Sweep(ctx, service.SweepRequest{})
	require.NoError(t, err)
	assert.Equal(t, h.now, report.AsOf)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), report.Window.Start, "windows align to the day")
	assert.Equal(t, time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC), report.Window.End)
	assert.Nil(t, report.ClosedWindow)
	assert.Equal(t, 2, report.Reconciled)
	assert.Equal(t, 2, report.Forecasts)
	assert.Equal(t, 2, report.Anomalies, "rapid repeat and stock mismatch")
	assert.Empty(t, report.UnitErrors)

	r, err := h.analysis.Reconciliation(ctx, gin.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StateComputed, r.State)
	assert.Equal(t, domain.StatusShortage, r.Status)
	require.NotNil(t, r.VariancePercent)
	assert.Equal(t, int64(-10), *r.VariancePercent)
	assert.True(t, r.Produced.Equal(decimal.NewFromInt(700)))
	assert.True(t, r.SystemSold.Equal(decimal.NewFromInt(100)))
	assert.True(t, r.PhysicalDispensed.Decimal.Equal(decimal.NewFromInt(90)))

	r, err = h.analysis.Reconciliation(ctx, tonic.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInsufficientData, r.Status, "no pour device")
	assert.Nil(t, r.VariancePercent)

	anomalies, err := h.review.List(ctx, domain.AnomalyFilter{})
	require.NoError(t, err)
	types := make(map[domain.AnomalyType]domain.Severity)
	for _, a := range anomalies {
		types[a.Type] = a.Severity
	}
	assert.Equal(t, map[domain.AnomalyType]domain.Severity{
		domain.AnomalyRapidRepeatPour: domain.SeverityWarning,
		domain.AnomalyStockMismatch:   domain.SeverityWarning,
	}, types)

	f, err := h.analysis.Forecast(ctx, gin.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateComputed, f.State)
	assert.Equal(t, int64(700), f.Pars[7])

	f, err = h.analysis.Forecast(ctx, tonic.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateNoData, f.State, "never ordered")

	assert.Equal(t, 2, h.publisher.Count(messaging.EventReconciliationComputed))
	assert.Equal(t, 2, h.publisher.Count(messaging.EventAnomalyDetected))
	assert.Equal(t, 2, h.publisher.Count(messaging.EventForecastUpdated))
}

func TestSweep_RerunDoesNotDuplicateAnomalies(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seedShortage(t, h)

	_, err := h.analysis.Sweep(ctx, service.SweepRequest{})
	require.NoError(t, err)
	report, err := h.analysis.Sweep(ctx, service.SweepRequest{})
	require.NoError(t, err)

	assert.Zero(t, report.Anomalies)
	all, err := h.review.List(ctx, domain.AnomalyFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSweep_DismissedAnomalyStaysDismissed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seedShortage(t, h)

	_, err := h.analysis.Sweep(ctx, service.SweepRequest{})
	require.NoError(t, err)

	open, err := h.review.List(ctx, domain.AnomalyFilter{Type: domain.AnomalyRapidRepeatPour})
	require.NoError(t, err)
	require.Len(t, open, 1)
	_, err = h.review.Dismiss(ctx, open[0].ID, "manager-1", &service.DismissRequest{Note: "double tap"})
	require.NoError(t, err)

	// a later sweep still sees both pours in its window
	_, err = h.analysis.Sweep(ctx, service.SweepRequest{AsOf: h.now.Add(time.Hour)})
	require.NoError(t, err)

	repeats, err := h.review.List(ctx, domain.AnomalyFilter{Type: domain.AnomalyRapidRepeatPour})
	require.NoError(t, err)
	require.Len(t, repeats, 1)
	assert.Equal(t, domain.ReviewDismissed, repeats[0].ReviewState)
}

func TestSweep_DismissedMismatchStaysDismissedAcrossSweeps(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	gin := seedShortage(t, h)

	_, err := h.analysis.Sweep(ctx, service.SweepRequest{})
	require.NoError(t, err)

	mismatches, err := h.review.List(ctx, domain.AnomalyFilter{Type: domain.AnomalyStockMismatch})
	require.NoError(t, err)
	require.Len(t, mismatches, 1)
	_, err = h.review.Dismiss(ctx, mismatches[0].ID, "manager-1", &service.DismissRequest{Note: "counted by hand"})
	require.NoError(t, err)

	for i := 1; i <= 4; i++ {
		report, err := h.analysis.Sweep(ctx, service.SweepRequest{AsOf: h.now.Add(time.Duration(i) * 15 * time.Minute)})
		require.NoError(t, err)
		assert.Zero(t, report.Anomalies, "sweep %d", i)
	}

	open, err := h.review.List(ctx, domain.AnomalyFilter{Type: domain.AnomalyStockMismatch, ReviewState: domain.ReviewOpen})
	require.NoError(t, err)
	assert.Empty(t, open)
	all, err := h.review.List(ctx, domain.AnomalyFilter{Type: domain.AnomalyStockMismatch})
	require.NoError(t, err)
	assert.Len(t, all, 1)

	history, err := h.reconciliations.History(ctx, gin.ID, gin.LocationID, 0)
	require.NoError(t, err)
	require.Len(t, history, 1, "one row per window, refreshed in place")
	assert.Equal(t, h.now.Add(time.Hour), history[0].AsOf)
}

func TestSweep_SettlesWindowThatJustClosed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	gin := seedShortage(t, h)
	midnight := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)

	// a pour from late in the day that reached the ledger after midnight
	h.record(t, h.fixtures.Movement(gin, domain.KindPour, "-10", midnight.Add(-10*time.Minute),
		testutil.OnDevice("pourer-1"), testutil.RecordedAt(midnight.Add(2*time.Minute))))

	report, err := h.analysis.Sweep(ctx, service.SweepRequest{AsOf: midnight.Add(5 * time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, midnight, report.Window.Start)
	require.NotNil(t, report.ClosedWindow)
	assert.Equal(t, domain.Window{Start: midnight.Add(-24 * time.Hour), End: midnight}, *report.ClosedWindow)
	assert.Equal(t, 2, report.Reconciled)

	history, err := h.reconciliations.History(ctx, gin.ID, gin.LocationID, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, midnight, history[0].WindowStart, "latest first")
	assert.Equal(t, domain.StatusInsufficientData, history[0].Status, "nothing sold yet")
	assert.Equal(t, midnight, history[1].WindowEnd)
	assert.Equal(t, domain.StatusMatched, history[1].Status, "the late pour closes the gap")

	mismatches, err := h.review.List(ctx, domain.AnomalyFilter{Type: domain.AnomalyStockMismatch})
	require.NoError(t, err)
	assert.Empty(t, mismatches)

	report, err = h.analysis.Sweep(ctx, service.SweepRequest{AsOf: midnight.Add(30 * time.Minute)})
	require.NoError(t, err)
	assert.Nil(t, report.ClosedWindow, "past the grace period")
	assert.Equal(t, 1, report.Reconciled)
}

func TestSweep_DeviceErrorBurst(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	gin := h.addItem(t)
	h.addDevice(t, "pourer-7", gin)

	at := h.now.Add(-2 * time.Hour)
	for i := 0; i < 5; i++ {
		h.record(t, h.fixtures.Movement(gin, domain.KindPour, "0", at.Add(time.Duration(i)*time.Minute),
			testutil.OnDevice("pourer-7"), testutil.WithDeviceError()))
	}

	report, err := h.analysis.Sweep(ctx, service.SweepRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Anomalies)

	bursts, err := h.review.List(ctx, domain.AnomalyFilter{DeviceID: "pourer-7"})
	require.NoError(t, err)
	require.Len(t, bursts, 1)
	assert.Equal(t, domain.AnomalyDeviceErrorBurst, bursts[0].Type)
	assert.Equal(t, domain.SeverityCritical, bursts[0].Severity)
	assert.Len(t, bursts[0].Evidence.MovementIDs, 5)
}

func TestSweep_ExcludesLateRecordedMovements(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	gin := h.addItem(t)

	asOf := h.now.Add(-time.Hour)
	h.record(t,
		h.fixtures.Movement(gin, domain.KindPurchase, "700", h.now.Add(-5*time.Hour)),
		h.fixtures.Movement(gin, domain.KindPurchase, "300", h.now.Add(-4*time.Hour), testutil.RecordedAt(h.now)),
	)

	_, err := h.analysis.Sweep(ctx, service.SweepRequest{ItemID: gin.ID, AsOf: asOf})
	require.NoError(t, err)

	r, err := h.analysis.Reconciliation(ctx, gin.ID, "")
	require.NoError(t, err)
	assert.True(t, r.Produced.Equal(decimal.NewFromInt(700)), "got %s", r.Produced)
	assert.Equal(t, asOf, r.AsOf)
}

func TestSweep_ItemScope(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	gin := seedShortage(t, h)
	other := h.addItem(t)

	report, err := h.analysis.Sweep(ctx, service.SweepRequest{ItemID: gin.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Reconciled)
	assert.Equal(t, 1, report.Forecasts)

	r, err := h.analysis.Reconciliation(ctx, other.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StateNoData, r.State)

	_, err = h.analysis.Sweep(ctx, service.SweepRequest{ItemID: "missing"})
	requireStatus(t, err, 404)
}

func TestSweep_SkipsWhenLockHeld(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	gin := h.addItem(t)

	lock, err := h.locker.Obtain(ctx, service.SweepLockKey, time.Minute)
	require.NoError(t, err)

	_, err = h.analysis.Sweep(ctx, service.SweepRequest{})
	assert.ErrorIs(t, err, service.ErrSweepInProgress)

	// single-item recomputes do not take the sweep lock
	_, err = h.analysis.Sweep(ctx, service.SweepRequest{ItemID: gin.ID})
	require.NoError(t, err)

	require.NoError(t, lock.Release(ctx))
	_, err = h.analysis.Sweep(ctx, service.SweepRequest{})
	require.NoError(t, err)
}

// flakyDevices fails device lookups for one item.
type flakyDevices struct {
	service.DeviceStore
	itemID string
}

func (d flakyDevices) HasPourDevice(ctx context.Context, itemID, locationID string) (bool, error) {
	if itemID == d.itemID {
		return false, errors.New("device registry unavailable")
	}
	return d.DeviceStore.HasPourDevice(ctx, itemID, locationID)
}

// flakyForecasts fails to store the forecast of one item.
type flakyForecasts struct {
	service.ForecastStore
	itemID string
}

func (f flakyForecasts) Upsert(ctx context.Context, fc *domain.ParForecast) error {
	if fc.ItemID == f.itemID {
		return errors.New("disk full")
	}
	return f.ForecastStore.Upsert(ctx, fc)
}

func TestSweep_IsolatesUnitFailures(t *testing.T) {
	const brokenID = "7b0c2d4e-0000-4000-8000-000000000001"
	h := newHarness(t, withStores(func(s *service.Stores) {
		s.Devices = flakyDevices{DeviceStore: s.Devices, itemID: brokenID}
		s.Forecasts = flakyForecasts{ForecastStore: s.Forecasts, itemID: brokenID}
	}))
	ctx := context.Background()
	broken := h.addItem(t, testutil.WithItemID(brokenID))
	healthy := h.addItem(t)
	for _, item := range []domain.TrackedItem{broken, healthy} {
		h.record(t, h.fixtures.Movement(item, domain.KindPurchase, "700", h.now.Add(-2*time.Hour)))
	}

	report, err := h.analysis.Sweep(ctx, service.SweepRequest{})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Reconciled, "failed results are persisted too")
	assert.Equal(t, 1, report.Forecasts)
	require.Len(t, report.UnitErrors, 2)
	assert.Equal(t, service.PassForecast, report.UnitErrors[0].Pass)
	assert.Equal(t, service.PassReconcile, report.UnitErrors[1].Pass)
	assert.Equal(t, "bar-main/"+brokenID, report.UnitErrors[1].Unit)

	r, err := h.analysis.Reconciliation(ctx, broken.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, r.State)
	require.NotNil(t, r.Error)
	assert.Contains(t, *r.Error, "device registry unavailable")

	r, err = h.analysis.Reconciliation(ctx, healthy.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StateComputed, r.State)

	f, err := h.analysis.Forecast(ctx, healthy.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateComputed, f.State)
}

func TestSweep_CancelledPersistsNothing(t *testing.T) {
	h := newHarness(t)
	seedShortage(t, h)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := h.analysis.Sweep(ctx, service.SweepRequest{})
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Zero(t, report.Reconciled)
	assert.Zero(t, report.Forecasts)

	results, err := h.reconciliations.ListLatest(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, results)
	forecasts, err := h.forecasts.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, forecasts)
	anomalies, err := h.anomalies.List(context.Background(), domain.AnomalyFilter{})
	require.NoError(t, err)
	assert.Empty(t, anomalies)
}

func TestSweep_ManyItemsOnBoundedPool(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		item := h.addItem(t, testutil.WithItemName(fmt.Sprintf("Spirit %02d", i)))
		h.record(t, h.fixtures.Movement(item, domain.KindPurchase, "700", h.now.Add(-time.Duration(i+1)*time.Hour)))
	}

	report, err := h.analysis.Sweep(ctx, service.SweepRequest{})
	require.NoError(t, err)
	assert.Equal(t, 25, report.Reconciled)
	assert.Equal(t, 25, report.Forecasts)
	assert.Empty(t, report.UnitErrors)
}

func TestAnalysis_ReadsBeforeFirstSweep(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	gin := h.addItem(t, testutil.WithPar(1000))

	r, err := h.analysis.Reconciliation(ctx, gin.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StateNoData, r.State)

	f, err := h.analysis.Forecast(ctx, gin.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateNoData, f.State)
	assert.True(t, f.ConfiguredPar.Decimal.Equal(decimal.NewFromInt(1000)))

	_, err = h.analysis.Forecast(ctx, "missing")
	requireStatus(t, err, 404)
}

func TestAnalysis_Insights(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	gin := h.addItem(t, testutil.WithItemName("Gin"), testutil.WithPar(1000))
	h.record(t, h.fixtures.Movement(gin, domain.KindPurchase, "700", h.now.Add(-2*time.Hour)))

	_, err := h.analysis.Sweep(ctx, service.SweepRequest{})
	require.NoError(t, err)

	insights, err := h.analysis.Insights(ctx, gin.LocationID)
	require.NoError(t, err)
	require.NotEmpty(t, insights)
	assert.Equal(t, insight.KindReorder, insights[0].Kind)
	assert.Equal(t, gin.ID, insights[0].ItemID)
	assert.True(t, insights[0].Value.Equal(decimal.NewFromInt(300)), "got %s", insights[0].Value)
}
