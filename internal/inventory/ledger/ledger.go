// Package ledger is the append-only movement log. Quantities are never
// stored, they are always folded from the log.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/barledger/barledger-backend/internal/inventory/domain"
	"github.com/barledger/barledger-backend/pkg/logger"
	"github.com/shopspring/decimal"
)

// Store persists movements. Insert must be idempotent on (SourceRef, Kind)
// and report false when the movement was already present.
type Store interface {
	Insert(ctx context.Context, m domain.StockMovement) (bool, error)
	Sum(ctx context.Context, filter domain.MovementFilter) (decimal.Decimal, error)
	// SumByKind folds matching deltas per kind from a single read.
	SumByKind(ctx context.Context, filter domain.MovementFilter) (map[domain.MovementKind]decimal.Decimal, error)
	List(ctx context.Context, filter domain.MovementFilter) ([]domain.StockMovement, error)
}

// Ledger serializes appends per stock unit on top of a Store.
type Ledger struct {
	store  Store
	locks  *stripedLocks
	logger *logger.Logger
	now    func() time.Time
}

// New creates a ledger over store.
func New(store Store, log *logger.Logger) *Ledger {
	return &Ledger{
		store:  store,
		locks:  newStripedLocks(defaultStripes),
		logger: log.WithComponent("ledger"),
		now:    time.Now,
	}
}

// WithClock replaces the clock that stamps RecordedAt.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// Append records m unless a movement with the same source ref and kind
// exists. Duplicates are a silent no-op reported as appended=false.
func (l *Ledger) Append(ctx context.Context, m domain.StockMovement) (bool, error) {
	_, appended, err := l.Record(ctx, m)
	return appended, err
}

// Record is Append returning the movement as stored. RecordedAt is
// stamped while the unit's lock is held, so within a unit recording order
// follows append order. A preset RecordedAt is kept.
func (l *Ledger) Record(ctx context.Context, m domain.StockMovement) (domain.StockMovement, bool, error) {
	if !m.Kind.Valid() {
		return m, false, fmt.Errorf("append movement: unknown kind %q", m.Kind)
	}
	if m.ItemID == "" || m.LocationID == "" || m.SourceRef == "" {
		return m, false, fmt.Errorf("append movement: item, location and source ref are required")
	}

	unlock := l.locks.lock(domain.StockUnit{ItemID: m.ItemID, LocationID: m.LocationID}.String())
	defer unlock()

	if m.RecordedAt.IsZero() {
		m.RecordedAt = l.now().UTC()
	}
	appended, err := l.store.Insert(ctx, m)
	if err != nil {
		return m, false, fmt.Errorf("append movement: %w", err)
	}

	if !appended {
		l.logger.Debug().
			Str("source_ref", m.SourceRef).
			Str("kind", string(m.Kind)).
			Msg("duplicate movement ignored")
	}
	return m, appended, nil
}

// CurrentQuantity folds every movement of the unit recorded up to asOf.
// A zero asOf means now.
func (l *Ledger) CurrentQuantity(ctx context.Context, itemID, locationID string, asOf time.Time) (decimal.Decimal, error) {
	filter := domain.MovementFilter{ItemID: itemID, LocationID: locationID}
	if !asOf.IsZero() {
		filter.AsOf = &asOf
	}
	return l.store.Sum(ctx, filter)
}

// QuantityInWindow sums the signed deltas of kinds that occurred inside
// window and were recorded up to asOf.
func (l *Ledger) QuantityInWindow(ctx context.Context, itemID, locationID string, kinds []domain.MovementKind, window domain.Window, asOf time.Time) (decimal.Decimal, error) {
	if !window.Valid() {
		return decimal.Zero, domain.ErrInvalidWindow
	}
	filter := domain.MovementFilter{
		ItemID:     itemID,
		LocationID: locationID,
		Kinds:      kinds,
		Window:     &window,
	}
	if !asOf.IsZero() {
		filter.AsOf = &asOf
	}
	return l.store.Sum(ctx, filter)
}

// WindowTotals sums each of kinds over window, recorded up to asOf, from
// one consistent read. Kinds without movements map to zero.
func (l *Ledger) WindowTotals(ctx context.Context, itemID, locationID string, kinds []domain.MovementKind, window domain.Window, asOf time.Time) (map[domain.MovementKind]decimal.Decimal, error) {
	if !window.Valid() {
		return nil, domain.ErrInvalidWindow
	}
	filter := domain.MovementFilter{
		ItemID:     itemID,
		LocationID: locationID,
		Kinds:      kinds,
		Window:     &window,
	}
	if !asOf.IsZero() {
		filter.AsOf = &asOf
	}
	sums, err := l.store.SumByKind(ctx, filter)
	if err != nil {
		return nil, err
	}

	totals := make(map[domain.MovementKind]decimal.Decimal, len(kinds))
	for _, k := range kinds {
		totals[k] = decimal.Zero
		if v, ok := sums[k]; ok {
			totals[k] = v
		}
	}
	return totals, nil
}

// Movements lists movements ordered by occurrence.
func (l *Ledger) Movements(ctx context.Context, filter domain.MovementFilter) ([]domain.StockMovement, error) {
	if filter.Window != nil && !filter.Window.Valid() {
		return nil, domain.ErrInvalidWindow
	}
	return l.store.List(ctx, filter)
}
