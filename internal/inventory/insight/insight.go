// Package insight derives non-binding recommendations from reconciliation,
// anomaly and forecast results.
package insight

import (
	"fmt"
	"sort"

	"github.com/barledger/barledger-backend/internal/inventory/domain"
	"github.com/barledger/barledger-backend/pkg/config"
	"github.com/shopspring/decimal"
)

// Kind of recommendation.
type Kind string

const (
	KindCostSaving Kind = "cost-saving"
	KindReorder    Kind = "reorder"
	KindEfficiency Kind = "efficiency"
	KindDemand     Kind = "demand"
)

var kindOrder = map[Kind]int{KindCostSaving: 0, KindReorder: 1, KindEfficiency: 2, KindDemand: 3}

// Insight is one recommendation. Value is in cents for cost-saving, in the
// item's base unit for reorder and a count for efficiency.
type Insight struct {
	Kind       Kind            `json:"kind"`
	ItemID     string          `json:"item_id,omitempty"`
	LocationID string          `json:"location_id"`
	DeviceID   string          `json:"device_id,omitempty"`
	Message    string          `json:"message"`
	Value      decimal.Decimal `json:"value"`
}

// Config holds the summarizer thresholds.
type Config struct {
	CostSavingCents      int64
	ConsecutiveWindows   int
	RapidRepeatThreshold int
	ReorderHorizon       int
}

// NewConfig converts loaded settings. The reorder horizon is one week.
func NewConfig(c config.InsightConfig) Config {
	return Config{
		CostSavingCents:      c.CostSavingCents,
		ConsecutiveWindows:   c.ConsecutiveWindows,
		RapidRepeatThreshold: c.RapidRepeatThreshold,
		ReorderHorizon:       7,
	}
}

// Input is a snapshot of everything known about one location.
type Input struct {
	Items []domain.TrackedItem
	// OnHand is keyed by item ID.
	OnHand map[string]decimal.Decimal
	// Reconciliations is keyed by item ID, newest window first.
	Reconciliations map[string][]domain.ReconciliationResult
	Forecasts       []domain.ParForecast
	OpenAnomalies   []domain.AnomalyRecord
}

// Summarize returns recommendations ordered by kind, then item and device.
func Summarize(cfg Config, in Input) []Insight {
	out := make([]Insight, 0)

	forecasts := make(map[string]domain.ParForecast, len(in.Forecasts))
	for _, f := range in.Forecasts {
		if f.State == domain.StateComputed {
			forecasts[f.ItemID] = f
		}
	}

	for _, item := range in.Items {
		if !item.IsActive {
			continue
		}
		if ins, ok := costSaving(cfg, item, in.Reconciliations[item.ID]); ok {
			out = append(out, ins)
		}
		f, hasForecast := forecasts[item.ID]
		if ins, ok := reorder(cfg, item, in.OnHand, f, hasForecast); ok {
			out = append(out, ins)
		}
		if hasForecast && f.Trend == domain.TrendRising {
			out = append(out, Insight{
				Kind:       KindDemand,
				ItemID:     item.ID,
				LocationID: item.LocationID,
				Message:    fmt.Sprintf("Orders of %s are trending up", item.Name),
				Value:      f.DailyAverage,
			})
		}
	}

	out = append(out, efficiency(cfg, in.OpenAnomalies)...)

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Kind != b.Kind {
			return kindOrder[a.Kind] < kindOrder[b.Kind]
		}
		if a.ItemID != b.ItemID {
			return a.ItemID < b.ItemID
		}
		return a.DeviceID < b.DeviceID
	})
	return out
}

// costSaving fires when the costed variance of each of the latest N
// windows exceeds the threshold.
func costSaving(cfg Config, item domain.TrackedItem, history []domain.ReconciliationResult) (Insight, bool) {
	n := cfg.ConsecutiveWindows
	if n < 1 || item.UnitCostCents <= 0 || len(history) < n {
		return Insight{}, false
	}

	threshold := decimal.NewFromInt(cfg.CostSavingCents)
	unitCost := decimal.NewFromInt(item.UnitCostCents)
	total := decimal.Zero
	for _, r := range history[:n] {
		if r.State != domain.StateComputed || !r.Variance.Valid {
			return Insight{}, false
		}
		cost := r.Variance.Decimal.Abs().Mul(unitCost)
		if !cost.GreaterThan(threshold) {
			return Insight{}, false
		}
		total = total.Add(cost)
	}

	return Insight{
		Kind:       KindCostSaving,
		ItemID:     item.ID,
		LocationID: item.LocationID,
		Message:    fmt.Sprintf("%s has lost %s cents to variance over the last %d windows", item.Name, total.Round(0), n),
		Value:      total.Round(0),
	}, true
}

// reorder compares on-hand stock with the operator par, or the forecast
// par for the reorder horizon when no par is configured.
func reorder(cfg Config, item domain.TrackedItem, onHand map[string]decimal.Decimal, f domain.ParForecast, hasForecast bool) (Insight, bool) {
	qty, ok := onHand[item.ID]
	if !ok {
		return Insight{}, false
	}

	var target decimal.Decimal
	switch {
	case item.ParThreshold.Valid:
		target = item.ParThreshold.Decimal
	case hasForecast:
		par, ok := f.Pars[cfg.ReorderHorizon]
		if !ok {
			return Insight{}, false
		}
		target = decimal.NewFromInt(par)
	default:
		return Insight{}, false
	}

	if !qty.LessThan(target) {
		return Insight{}, false
	}
	short := target.Sub(qty).Ceil()
	return Insight{
		Kind:       KindReorder,
		ItemID:     item.ID,
		LocationID: item.LocationID,
		Message:    fmt.Sprintf("Reorder %s %s of %s to reach par %s", short, item.BaseUnit, item.Name, target),
		Value:      short,
	}, true
}

// efficiency flags devices with repeated rapid-repeat pours still open.
func efficiency(cfg Config, anomalies []domain.AnomalyRecord) []Insight {
	if cfg.RapidRepeatThreshold < 1 {
		return nil
	}

	type device struct {
		locationID string
		count      int
	}
	counts := make(map[string]*device)
	for _, a := range anomalies {
		if a.Type != domain.AnomalyRapidRepeatPour || a.ReviewState != domain.ReviewOpen || a.DeviceID == nil {
			continue
		}
		d, ok := counts[*a.DeviceID]
		if !ok {
			d = &device{locationID: a.LocationID}
			counts[*a.DeviceID] = d
		}
		d.count++
	}

	var out []Insight
	for id, d := range counts {
		if d.count < cfg.RapidRepeatThreshold {
			continue
		}
		out = append(out, Insight{
			Kind:       KindEfficiency,
			LocationID: d.locationID,
			DeviceID:   id,
			Message:    fmt.Sprintf("Device %s has %d open rapid-repeat pours; check pour technique or calibration", id, d.count),
			Value:      decimal.NewFromInt(int64(d.count)),
		})
	}
	return out
}
