// Package reconcile compares what the POS sold with what the pourers
// dispensed for one stock unit over one window.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/barledger/barledger-backend/internal/inventory/domain"
	"github.com/shopspring/decimal"
)

// DefaultTolerancePercent is the variance band classified as matched.
const DefaultTolerancePercent = 5

var hundred = decimal.NewFromInt(100)

// Quantities is the ledger read the engine needs. All kinds must come from
// one consistent read of the log.
type Quantities interface {
	WindowTotals(ctx context.Context, itemID, locationID string, kinds []domain.MovementKind, window domain.Window, asOf time.Time) (map[domain.MovementKind]decimal.Decimal, error)
}

// PourDevices reports whether a unit has a pour-capable device mapped.
type PourDevices interface {
	HasPourDevice(ctx context.Context, itemID, locationID string) (bool, error)
}

// Engine reconciles stock units against the ledger.
type Engine struct {
	ledger    Quantities
	devices   PourDevices
	tolerance int64
	now       func() time.Time
}

// New creates an engine. A negative tolerance falls back to the default.
func New(ledger Quantities, devices PourDevices, tolerancePercent int64) *Engine {
	if tolerancePercent < 0 {
		tolerancePercent = DefaultTolerancePercent
	}
	return &Engine{
		ledger:    ledger,
		devices:   devices,
		tolerance: tolerancePercent,
		now:       time.Now,
	}
}

// WithClock replaces the clock used for ComputedAt.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Reconcile computes the result for unit over window, reading only
// movements recorded up to asOf.
func (e *Engine) Reconcile(ctx context.Context, unit domain.StockUnit, window domain.Window, asOf time.Time) (domain.ReconciliationResult, error) {
	result := domain.ReconciliationResult{
		ItemID:      unit.ItemID,
		LocationID:  unit.LocationID,
		WindowStart: window.Start,
		WindowEnd:   window.End,
		AsOf:        asOf,
	}
	if !window.Valid() {
		return result, domain.ErrInvalidWindow
	}

	hasDevice, err := e.devices.HasPourDevice(ctx, unit.ItemID, unit.LocationID)
	if err != nil {
		return result, fmt.Errorf("device lookup: %w", err)
	}
	kinds := []domain.MovementKind{domain.KindPurchase, domain.KindSale}
	if hasDevice {
		kinds = append(kinds, domain.KindPour)
	}

	totals, err := e.ledger.WindowTotals(ctx, unit.ItemID, unit.LocationID, kinds, window, asOf)
	if err != nil {
		return result, fmt.Errorf("window totals: %w", err)
	}
	produced, sold := totals[domain.KindPurchase], totals[domain.KindSale]

	var physical decimal.NullDecimal
	if hasDevice {
		physical = decimal.NewNullDecimal(totals[domain.KindPour].Abs())
	}

	result.Produced = produced
	result.SystemSold = sold.Abs()
	result.PhysicalDispensed = physical
	result.Variance, result.VariancePercent, result.Status = Classify(result.SystemSold, physical, e.tolerance)
	result.State = domain.StateComputed
	result.ComputedAt = e.now().UTC()
	return result, nil
}

// Classify derives variance, variance percent and status from sold and
// physically dispensed quantities. An undefined physical quantity or a
// zero sold quantity is insufficient-data and never carries a percent.
func Classify(sold decimal.Decimal, physical decimal.NullDecimal, tolerancePercent int64) (decimal.NullDecimal, *int64, domain.ReconciliationStatus) {
	if !physical.Valid {
		return decimal.NullDecimal{}, nil, domain.StatusInsufficientData
	}

	variance := physical.Decimal.Sub(sold)
	if sold.IsZero() {
		return decimal.NewNullDecimal(variance), nil, domain.StatusInsufficientData
	}

	// Round is half away from zero.
	pct := variance.Mul(hundred).Div(sold).Round(0).IntPart()

	var status domain.ReconciliationStatus
	switch {
	case abs(pct) <= tolerancePercent:
		status = domain.StatusMatched
	case variance.IsPositive():
		status = domain.StatusSurplus
	default:
		status = domain.StatusShortage
	}
	return decimal.NewNullDecimal(variance), &pct, status
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
