package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/barledger/barledger-backend/internal/inventory/domain"
	"github.com/google/uuid"
)

// Anomalies keeps anomaly records unique by (type, fingerprint).
type Anomalies struct {
	mu      sync.RWMutex
	records map[string]*domain.AnomalyRecord
	byPrint map[string]string
}

// NewAnomalies creates an empty anomaly store.
func NewAnomalies() *Anomalies {
	return &Anomalies{
		records: make(map[string]*domain.AnomalyRecord),
		byPrint: make(map[string]string),
	}
}

// InsertIfAbsent stores a unless a record with the same type and
// fingerprint exists, whatever its review state.
func (s *Anomalies) InsertIfAbsent(_ context.Context, a *domain.AnomalyRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := string(a.Type) + "|" + a.Fingerprint
	if _, ok := s.byPrint[key]; ok {
		return false, nil
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.ReviewState == "" {
		a.ReviewState = domain.ReviewOpen
	}
	rec := *a
	s.records[a.ID] = &rec
	s.byPrint[key] = a.ID
	return true, nil
}

func (s *Anomalies) Get(_ context.Context, id string) (*domain.AnomalyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, domain.ErrAnomalyNotFound
	}
	out := *rec
	return &out, nil
}

func (s *Anomalies) List(_ context.Context, f domain.AnomalyFilter) ([]domain.AnomalyRecord, error) {
	s.mu.RLock()
	out := make([]domain.AnomalyRecord, 0)
	for _, rec := range s.records {
		if anomalyMatches(rec, f) {
			out = append(out, *rec)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].DetectedAt.Equal(out[j].DetectedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].DetectedAt.After(out[j].DetectedAt)
	})
	return paginate(out, f.Limit, f.Offset), nil
}

// Dismiss moves an open record to dismissed. Dismissed records stay dismissed.
func (s *Anomalies) Dismiss(_ context.Context, id, reviewer, note string, at time.Time) (*domain.AnomalyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, domain.ErrAnomalyNotFound
	}
	if rec.ReviewState == domain.ReviewDismissed {
		return nil, domain.ErrAlreadyReviewed
	}
	rec.ReviewState = domain.ReviewDismissed
	rec.ReviewedBy = &reviewer
	if note != "" {
		rec.ReviewNote = &note
	}
	rec.ReviewedAt = &at
	out := *rec
	return &out, nil
}

func anomalyMatches(a *domain.AnomalyRecord, f domain.AnomalyFilter) bool {
	switch {
	case f.LocationID != "" && a.LocationID != f.LocationID:
		return false
	case f.ItemID != "" && (a.ItemID == nil || *a.ItemID != f.ItemID):
		return false
	case f.DeviceID != "" && (a.DeviceID == nil || *a.DeviceID != f.DeviceID):
		return false
	case f.Type != "" && a.Type != f.Type:
		return false
	case f.ReviewState != "" && a.ReviewState != f.ReviewState:
		return false
	}
	return true
}

// Reconciliations keeps one result per unit and window.
type Reconciliations struct {
	mu      sync.RWMutex
	results map[string]domain.ReconciliationResult
}

// NewReconciliations creates an empty result store.
func NewReconciliations() *Reconciliations {
	return &Reconciliations{results: make(map[string]domain.ReconciliationResult)}
}

func (s *Reconciliations) Upsert(_ context.Context, r *domain.ReconciliationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := domain.StockUnit{ItemID: r.ItemID, LocationID: r.LocationID}.String() +
		"|" + r.WindowStart.UTC().Format(time.RFC3339Nano) +
		"|" + r.WindowEnd.UTC().Format(time.RFC3339Nano)
	s.results[key] = *r
	return nil
}

// Latest returns the result with the most recent window end for the unit.
func (s *Reconciliations) Latest(ctx context.Context, itemID, locationID string) (*domain.ReconciliationResult, error) {
	history, err := s.History(ctx, itemID, locationID, 1)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, domain.ErrNoResult
	}
	return &history[0], nil
}

// ListLatest returns the latest result of every unit at locationID.
func (s *Reconciliations) ListLatest(_ context.Context, locationID string) ([]domain.ReconciliationResult, error) {
	s.mu.RLock()
	latest := make(map[domain.StockUnit]domain.ReconciliationResult)
	for _, r := range s.results {
		if locationID != "" && r.LocationID != locationID {
			continue
		}
		unit := domain.StockUnit{ItemID: r.ItemID, LocationID: r.LocationID}
		if cur, ok := latest[unit]; !ok || newerResult(r, cur) {
			latest[unit] = r
		}
	}
	s.mu.RUnlock()

	out := make([]domain.ReconciliationResult, 0, len(latest))
	for _, r := range latest {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LocationID == out[j].LocationID {
			return out[i].ItemID < out[j].ItemID
		}
		return out[i].LocationID < out[j].LocationID
	})
	return out, nil
}

// History returns up to limit results for the unit, newest window first.
func (s *Reconciliations) History(_ context.Context, itemID, locationID string, limit int) ([]domain.ReconciliationResult, error) {
	s.mu.RLock()
	out := make([]domain.ReconciliationResult, 0)
	for _, r := range s.results {
		if r.ItemID == itemID && r.LocationID == locationID {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return newerResult(out[i], out[j]) })
	return paginate(out, limit, 0), nil
}

func newerResult(a, b domain.ReconciliationResult) bool {
	if a.WindowEnd.Equal(b.WindowEnd) {
		return a.ComputedAt.After(b.ComputedAt)
	}
	return a.WindowEnd.After(b.WindowEnd)
}

// Forecasts keeps the latest forecast per unit.
type Forecasts struct {
	mu        sync.RWMutex
	forecasts map[domain.StockUnit]domain.ParForecast
}

// NewForecasts creates an empty forecast store.
func NewForecasts() *Forecasts {
	return &Forecasts{forecasts: make(map[domain.StockUnit]domain.ParForecast)}
}

func (s *Forecasts) Upsert(_ context.Context, f *domain.ParForecast) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.forecasts[domain.StockUnit{ItemID: f.ItemID, LocationID: f.LocationID}] = *f
	return nil
}

func (s *Forecasts) Get(_ context.Context, itemID, locationID string) (*domain.ParForecast, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.forecasts[domain.StockUnit{ItemID: itemID, LocationID: locationID}]
	if !ok {
		return nil, domain.ErrNoResult
	}
	return &f, nil
}

func (s *Forecasts) List(_ context.Context, locationID string) ([]domain.ParForecast, error) {
	s.mu.RLock()
	out := make([]domain.ParForecast, 0, len(s.forecasts))
	for _, f := range s.forecasts {
		if locationID == "" || f.LocationID == locationID {
			out = append(out, f)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].LocationID == out[j].LocationID {
			return out[i].ItemID < out[j].ItemID
		}
		return out[i].LocationID < out[j].LocationID
	})
	return out, nil
}

// Quarantine keeps rejected raw events.
type Quarantine struct {
	mu     sync.RWMutex
	events []domain.QuarantinedEvent
}

// NewQuarantine creates an empty quarantine.
func NewQuarantine() *Quarantine {
	return &Quarantine{}
}

func (s *Quarantine) Insert(_ context.Context, q *domain.QuarantinedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	s.events = append(s.events, *q)
	return nil
}

// List returns quarantined events newest first.
func (s *Quarantine) List(_ context.Context, source string, limit, offset int) ([]domain.QuarantinedEvent, error) {
	s.mu.RLock()
	out := make([]domain.QuarantinedEvent, 0, len(s.events))
	for i := len(s.events) - 1; i >= 0; i-- {
		if source == "" || s.events[i].Source == source {
			out = append(out, s.events[i])
		}
	}
	s.mu.RUnlock()

	return paginate(out, limit, offset), nil
}
