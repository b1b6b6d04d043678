package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/barledger/barledger-backend/internal/inventory/anomaly"
	"github.com/barledger/barledger-backend/internal/inventory/domain"
	"github.com/barledger/barledger-backend/internal/inventory/events"
	"github.com/barledger/barledger-backend/internal/inventory/forecast"
	"github.com/barledger/barledger-backend/internal/inventory/insight"
	"github.com/barledger/barledger-backend/internal/inventory/ledger"
	"github.com/barledger/barledger-backend/internal/inventory/reconcile"
	"github.com/barledger/barledger-backend/pkg/config"
	"github.com/barledger/barledger-backend/pkg/logger"
	"github.com/barledger/barledger-backend/pkg/metrics"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Sweep passes.
const (
	PassReconcile = "reconcile"
	PassAnomaly   = "anomaly"
	PassForecast  = "forecast"
)

// AnalysisConfig sizes a sweep. Reconciliation runs over the aligned
// window holding asOf; a sweep within CloseGrace of a window boundary
// also settles the window that just closed.
type AnalysisConfig struct {
	Workers         int
	ReconcileWindow time.Duration
	WindowOffset    time.Duration
	CloseGrace      time.Duration
	AnomalyWindow   time.Duration
	LockTTL         time.Duration
}

// NewAnalysisConfig picks the sweep settings out of the loaded config.
// The close grace is one scheduler interval, so the last writes of a
// window are reconciled by the first sweep after it closes.
func NewAnalysisConfig(cfg *config.Config) AnalysisConfig {
	return AnalysisConfig{
		Workers:         cfg.Analysis.Workers,
		ReconcileWindow: cfg.Analysis.ReconcileWindow,
		WindowOffset:    cfg.Analysis.WindowOffset,
		CloseGrace:      cfg.Analysis.Interval,
		AnomalyWindow:   cfg.Anomaly.Window,
		LockTTL:         cfg.Redis.LockTTL,
	}
}

// Engines are the pure analysis components a sweep drives.
type Engines struct {
	Reconciler *reconcile.Engine
	Detector   *anomaly.Detector
	Forecaster *forecast.Forecaster
	Insight    insight.Config
}

// SweepRequest scopes a sweep. An empty ItemID sweeps every active item
// and device; a zero AsOf means now.
type SweepRequest struct {
	ItemID string
	AsOf   time.Time
}

// UnitFailure is a stock unit or device whose pass failed. The other
// units of the sweep are unaffected.
type UnitFailure struct {
	Pass  string `json:"pass"`
	Unit  string `json:"unit"`
	Error string `json:"error"`
}

// SweepReport summarizes one sweep. Reconciled counts results over both
// Window and ClosedWindow.
type SweepReport struct {
	AsOf          time.Time      `json:"as_of"`
	Window        domain.Window  `json:"window"`
	ClosedWindow  *domain.Window `json:"closed_window,omitempty"`
	AnomalyWindow domain.Window  `json:"anomaly_window"`
	Reconciled    int           `json:"reconciled"`
	Anomalies     int           `json:"anomalies"`
	Forecasts     int           `json:"forecasts"`
	UnitErrors    []UnitFailure `json:"unit_errors"`
}

// AnalysisService runs reconciliation, anomaly detection and forecasting
// over the ledger and serves their persisted results.
type AnalysisService struct {
	items           ItemStore
	devices         DeviceStore
	anomalies       AnomalyStore
	reconciliations ReconciliationStore
	forecasts       ForecastStore
	ledger          *ledger.Ledger
	engines         Engines
	cfg             AnalysisConfig
	locker          Locker
	publisher       *events.InventoryEventPublisher
	metrics         *metrics.Metrics
	logger          *logger.Logger
	now             func() time.Time
}

// NewAnalysisService creates a new analysis service. A nil locker
// disables sweep serialization.
func NewAnalysisService(
	stores Stores,
	l *ledger.Ledger,
	engines Engines,
	cfg AnalysisConfig,
	locker Locker,
	publisher *events.InventoryEventPublisher,
	m *metrics.Metrics,
	log *logger.Logger,
) *AnalysisService {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.ReconcileWindow <= 0 {
		cfg.ReconcileWindow = 24 * time.Hour
	}
	return &AnalysisService{
		items:           stores.Items,
		devices:         stores.Devices,
		anomalies:       stores.Anomalies,
		reconciliations: stores.Reconciliations,
		forecasts:       stores.Forecasts,
		ledger:          l,
		engines:         engines,
		cfg:             cfg,
		locker:          locker,
		publisher:       publisher,
		metrics:         m,
		logger:          log.WithComponent("analysis"),
		now:             time.Now,
	}
}

// WithClock replaces the clock used for default as-of instants.
func (s *AnalysisService) WithClock(now func() time.Time) *AnalysisService {
	s.now = now
	return s
}

// Sweep fixes asOf and the windows once, then runs the three passes
// concurrently, each as a bounded worker pool. A cancelled sweep stops
// scheduling units and returns the context error with what completed.
func (s *AnalysisService) Sweep(ctx context.Context, req SweepRequest) (*SweepReport, error) {
	asOf := req.AsOf
	if asOf.IsZero() {
		asOf = s.now()
	}
	asOf = asOf.UTC()

	var (
		items   []domain.TrackedItem
		devices []domain.DeviceMapping
		err     error
	)
	if req.ItemID != "" {
		items, devices, err = s.itemScope(ctx, req.ItemID)
	} else {
		if s.locker != nil {
			lock, err := s.locker.Obtain(ctx, SweepLockKey, s.cfg.LockTTL)
			if err != nil {
				if errors.Is(err, ErrSweepInProgress) {
					s.metrics.IncSweepSkipped()
				}
				return nil, err
			}
			defer func() {
				if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
					s.logger.Warn().Err(err).Msg("failed to release sweep lock")
				}
			}()
		}
		items, devices, err = s.fullScope(ctx)
	}
	if err != nil {
		return nil, err
	}

	report := &SweepReport{
		AsOf:          asOf,
		Window:        domain.AlignedWindow(asOf, s.cfg.ReconcileWindow, s.cfg.WindowOffset),
		AnomalyWindow: domain.TrailingWindow(asOf, s.cfg.AnomalyWindow),
	}
	if asOf.Sub(report.Window.Start) < s.cfg.CloseGrace {
		closed := report.Window.Previous()
		report.ClosedWindow = &closed
	}
	start := time.Now()

	var (
		mu       sync.Mutex
		failures []UnitFailure
	)
	fail := func(f UnitFailure) {
		mu.Lock()
		failures = append(failures, f)
		mu.Unlock()
	}

	var g errgroup.Group
	g.Go(func() error {
		n, m := s.reconcilePass(ctx, items, report, fail)
		mu.Lock()
		report.Reconciled, report.Anomalies = n, report.Anomalies+m
		mu.Unlock()
		return nil
	})
	g.Go(func() error {
		n := s.anomalyPass(ctx, devices, report, fail)
		mu.Lock()
		report.Anomalies += n
		mu.Unlock()
		return nil
	})
	g.Go(func() error {
		n := s.forecastPass(ctx, items, asOf, fail)
		mu.Lock()
		report.Forecasts = n
		mu.Unlock()
		return nil
	})
	_ = g.Wait()

	sort.Slice(failures, func(i, j int) bool {
		if failures[i].Pass != failures[j].Pass {
			return failures[i].Pass < failures[j].Pass
		}
		return failures[i].Unit < failures[j].Unit
	})
	report.UnitErrors = failures
	if report.UnitErrors == nil {
		report.UnitErrors = []UnitFailure{}
	}

	s.logger.Info().
		Time("as_of", asOf).
		Str("item_id", req.ItemID).
		Int("items", len(items)).
		Int("devices", len(devices)).
		Int("reconciled", report.Reconciled).
		Int("anomalies", report.Anomalies).
		Int("forecasts", report.Forecasts).
		Int("unit_errors", len(report.UnitErrors)).
		Dur("duration", time.Since(start)).
		Msg("analysis sweep completed")

	return report, ctx.Err()
}

func (s *AnalysisService) itemScope(ctx context.Context, itemID string) ([]domain.TrackedItem, []domain.DeviceMapping, error) {
	item, err := s.items.GetItem(ctx, itemID)
	if err != nil {
		return nil, nil, mapError(err)
	}
	if !item.IsActive {
		return nil, nil, mapError(domain.ErrItemInactive)
	}

	all, err := s.devices.ListDevices(ctx, item.LocationID)
	if err != nil {
		return nil, nil, fmt.Errorf("list devices: %w", err)
	}
	var devices []domain.DeviceMapping
	for _, d := range all {
		if d.IsActive && d.ItemID == item.ID {
			devices = append(devices, d)
		}
	}
	return []domain.TrackedItem{*item}, devices, nil
}

func (s *AnalysisService) fullScope(ctx context.Context) ([]domain.TrackedItem, []domain.DeviceMapping, error) {
	items, err := s.items.ListItems(ctx, "", true)
	if err != nil {
		return nil, nil, fmt.Errorf("list items: %w", err)
	}
	all, err := s.devices.ListDevices(ctx, "")
	if err != nil {
		return nil, nil, fmt.Errorf("list devices: %w", err)
	}
	devices := make([]domain.DeviceMapping, 0, len(all))
	for _, d := range all {
		if d.IsActive {
			devices = append(devices, d)
		}
	}
	return items, devices, nil
}

// forEach runs fn for each index on at most Workers goroutines and stops
// scheduling once ctx is done.
func (s *AnalysisService) forEach(ctx context.Context, n int, fn func(i int)) {
	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			fn(i)
			return nil
		})
	}
	_ = g.Wait()
}

// reconcilePass reconciles every item over the sweep's windows, then
// raises stock-mismatch anomalies from the computed results. It returns
// the number of results persisted and of new anomalies.
func (s *AnalysisService) reconcilePass(ctx context.Context, items []domain.TrackedItem, report *SweepReport, fail func(UnitFailure)) (int, int) {
	defer s.metrics.ObserveSweep(PassReconcile, time.Now())

	windows := []domain.Window{report.Window}
	if report.ClosedWindow != nil {
		windows = append(windows, *report.ClosedWindow)
	}
	tasks := len(items) * len(windows)
	results := make([]*domain.ReconciliationResult, tasks)
	var failed int
	var failedMu sync.Mutex

	s.forEach(ctx, tasks, func(i int) {
		item, window := items[i/len(windows)], windows[i%len(windows)]
		unit := domain.StockUnit{ItemID: item.ID, LocationID: item.LocationID}
		log := s.logger.WithStockUnit(item.ID, item.LocationID)

		r, err := s.engines.Reconciler.Reconcile(ctx, unit, window, report.AsOf)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			msg := err.Error()
			r.Status = ""
			r.State = domain.StateFailed
			r.Error = &msg
			r.ComputedAt = s.now().UTC()
			fail(UnitFailure{Pass: PassReconcile, Unit: unit.String(), Error: msg})
			failedMu.Lock()
			failed++
			failedMu.Unlock()
			log.Warn().Err(err).Time("window_start", window.Start).Msg("reconciliation failed")
		}

		if err := s.reconciliations.Upsert(ctx, &r); err != nil {
			fail(UnitFailure{Pass: PassReconcile, Unit: unit.String(), Error: err.Error()})
			log.Error().Err(err).Msg("failed to store reconciliation")
			return
		}

		s.publisher.PublishReconciliation(ctx, &r)
		if r.State == domain.StateComputed {
			s.metrics.IncReconciliation(string(r.Status))
		} else {
			s.metrics.IncReconciliation(string(r.State))
		}
		results[i] = &r
	})
	s.metrics.AddSweepUnitErrors(PassReconcile, failed)

	var computed []domain.ReconciliationResult
	persisted := 0
	for _, r := range results {
		if r == nil {
			continue
		}
		persisted++
		if r.State == domain.StateComputed {
			computed = append(computed, *r)
		}
	}
	if ctx.Err() != nil {
		return persisted, 0
	}

	n, err := s.storeAnomalies(ctx, s.engines.Detector.DetectMismatches(computed))
	if err != nil {
		fail(UnitFailure{Pass: PassReconcile, Unit: "stock-mismatch", Error: err.Error()})
		s.logger.Error().Err(err).Msg("failed to store stock mismatch anomalies")
	}
	return persisted, n
}

// anomalyPass runs the device rules over each device's pours in the
// trailing anomaly window.
func (s *AnalysisService) anomalyPass(ctx context.Context, devices []domain.DeviceMapping, report *SweepReport, fail func(UnitFailure)) int {
	defer s.metrics.ObserveSweep(PassAnomaly, time.Now())

	counts := make([]int, len(devices))
	errs := make([]bool, len(devices))
	asOf := report.AsOf
	window := report.AnomalyWindow

	s.forEach(ctx, len(devices), func(i int) {
		d := devices[i]
		log := s.logger.WithDevice(d.DeviceID)

		pours, err := s.ledger.Movements(ctx, domain.MovementFilter{
			DeviceID: d.DeviceID,
			Kinds:    []domain.MovementKind{domain.KindPour},
			Window:   &window,
			AsOf:     &asOf,
		})
		if ctx.Err() != nil {
			return
		}
		var records []domain.AnomalyRecord
		if err == nil {
			records, err = s.engines.Detector.DetectDevice(d.DeviceID, pours)
		}
		if err == nil {
			counts[i], err = s.storeAnomalies(ctx, records)
		}
		if err != nil {
			errs[i] = true
			fail(UnitFailure{Pass: PassAnomaly, Unit: "device/" + d.DeviceID, Error: err.Error()})
			log.Warn().Err(err).Msg("anomaly detection failed")
		}
	})

	total, failed := 0, 0
	for i := range devices {
		total += counts[i]
		if errs[i] {
			failed++
		}
	}
	s.metrics.AddSweepUnitErrors(PassAnomaly, failed)
	return total
}

// storeAnomalies inserts records not seen before under their type and
// fingerprint. Previously dismissed records are not reopened.
func (s *AnalysisService) storeAnomalies(ctx context.Context, records []domain.AnomalyRecord) (int, error) {
	inserted := 0
	for i := range records {
		a := &records[i]
		a.ID = uuid.NewString()
		created, err := s.anomalies.InsertIfAbsent(ctx, a)
		if err != nil {
			return inserted, fmt.Errorf("store %s anomaly: %w", a.Type, err)
		}
		if !created {
			continue
		}
		inserted++
		s.metrics.IncAnomaly(string(a.Type), string(a.Severity))
		s.publisher.PublishAnomalyDetected(ctx, a)
	}
	return inserted, nil
}

// forecastPass projects pars from each item's lifetime purchases.
func (s *AnalysisService) forecastPass(ctx context.Context, items []domain.TrackedItem, asOf time.Time, fail func(UnitFailure)) int {
	defer s.metrics.ObserveSweep(PassForecast, time.Now())

	stored := make([]bool, len(items))
	errs := make([]bool, len(items))

	s.forEach(ctx, len(items), func(i int) {
		item := items[i]
		unit := domain.StockUnit{ItemID: item.ID, LocationID: item.LocationID}
		log := s.logger.WithStockUnit(item.ID, item.LocationID)

		purchases, err := s.ledger.Movements(ctx, domain.MovementFilter{
			ItemID:     item.ID,
			LocationID: item.LocationID,
			Kinds:      []domain.MovementKind{domain.KindPurchase},
			AsOf:       &asOf,
		})
		if ctx.Err() != nil {
			return
		}

		var f domain.ParForecast
		if err != nil {
			msg := err.Error()
			f = emptyForecast(item, domain.StateFailed, asOf)
			f.Error = &msg
			errs[i] = true
			fail(UnitFailure{Pass: PassForecast, Unit: unit.String(), Error: msg})
			log.Warn().Err(err).Msg("forecast failed")
		} else {
			var ok bool
			f, ok = s.engines.Forecaster.Forecast(item, forecast.OrderLines(item, purchases), asOf)
			if !ok {
				f = emptyForecast(item, domain.StateNoData, asOf)
			}
		}

		if err := s.forecasts.Upsert(ctx, &f); err != nil {
			errs[i] = true
			fail(UnitFailure{Pass: PassForecast, Unit: unit.String(), Error: err.Error()})
			log.Error().Err(err).Msg("failed to store forecast")
			return
		}
		s.publisher.PublishForecastUpdated(ctx, &f)
		stored[i] = true
	})

	total, failed := 0, 0
	for i := range items {
		if stored[i] {
			total++
		}
		if errs[i] {
			failed++
		}
	}
	s.metrics.AddSweepUnitErrors(PassForecast, failed)
	return total
}

func emptyForecast(item domain.TrackedItem, state domain.ResultState, at time.Time) domain.ParForecast {
	return domain.ParForecast{
		ItemID:        item.ID,
		LocationID:    item.LocationID,
		State:         state,
		Pars:          map[int]int64{},
		ConfiguredPar: item.ParThreshold,
		ComputedAt:    at.UTC(),
	}
}

// Reads

// Reconciliation returns the latest result for an item, or a no_data
// result when none has been computed. The location defaults to the item's.
func (s *AnalysisService) Reconciliation(ctx context.Context, itemID, locationID string) (*domain.ReconciliationResult, error) {
	item, err := s.items.GetItem(ctx, itemID)
	if err != nil {
		return nil, mapError(err)
	}
	if locationID == "" {
		locationID = item.LocationID
	}

	r, err := s.reconciliations.Latest(ctx, item.ID, locationID)
	if errors.Is(err, domain.ErrNoResult) {
		return &domain.ReconciliationResult{ItemID: item.ID, LocationID: locationID, State: domain.StateNoData}, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ListReconciliations returns the latest result per unit of a location.
func (s *AnalysisService) ListReconciliations(ctx context.Context, locationID string) ([]domain.ReconciliationResult, error) {
	return s.reconciliations.ListLatest(ctx, locationID)
}

// Forecast returns the latest forecast for an item, or a no_data forecast
// carrying the operator par when none has been computed.
func (s *AnalysisService) Forecast(ctx context.Context, itemID string) (*domain.ParForecast, error) {
	item, err := s.items.GetItem(ctx, itemID)
	if err != nil {
		return nil, mapError(err)
	}

	f, err := s.forecasts.Get(ctx, item.ID, item.LocationID)
	if errors.Is(err, domain.ErrNoResult) {
		empty := emptyForecast(*item, domain.StateNoData, time.Time{})
		return &empty, nil
	}
	if err != nil {
		return nil, err
	}
	// the operator par may have changed since the sweep
	f.ConfiguredPar = item.ParThreshold
	return f, nil
}

// ListForecasts lists the stored forecasts of a location.
func (s *AnalysisService) ListForecasts(ctx context.Context, locationID string) ([]domain.ParForecast, error) {
	return s.forecasts.List(ctx, locationID)
}

// Insights summarizes the stored results of a location into
// recommendations.
func (s *AnalysisService) Insights(ctx context.Context, locationID string) ([]insight.Insight, error) {
	items, err := s.items.ListItems(ctx, locationID, true)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}

	in := insight.Input{
		Items:           items,
		OnHand:          make(map[string]decimal.Decimal, len(items)),
		Reconciliations: make(map[string][]domain.ReconciliationResult, len(items)),
	}
	for _, item := range items {
		qty, err := s.ledger.CurrentQuantity(ctx, item.ID, item.LocationID, time.Time{})
		if err != nil {
			return nil, fmt.Errorf("quantity of %s: %w", item.ID, err)
		}
		in.OnHand[item.ID] = qty

		history, err := s.reconciliations.History(ctx, item.ID, item.LocationID, s.engines.Insight.ConsecutiveWindows)
		if err != nil {
			return nil, fmt.Errorf("reconciliation history of %s: %w", item.ID, err)
		}
		in.Reconciliations[item.ID] = history
	}

	if in.Forecasts, err = s.forecasts.List(ctx, locationID); err != nil {
		return nil, fmt.Errorf("list forecasts: %w", err)
	}
	if in.OpenAnomalies, err = s.anomalies.List(ctx, domain.AnomalyFilter{
		LocationID:  locationID,
		Type:        domain.AnomalyRapidRepeatPour,
		ReviewState: domain.ReviewOpen,
	}); err != nil {
		return nil, fmt.Errorf("list anomalies: %w", err)
	}

	return insight.Summarize(s.engines.Insight, in), nil
}
