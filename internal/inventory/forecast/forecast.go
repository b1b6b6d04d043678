// Package forecast projects par levels from lifetime order history.
package forecast

import (
	"sort"
	"strings"
	"time"

	"github.com/barledger/barledger-backend/internal/inventory/domain"
	"github.com/barledger/barledger-backend/pkg/config"
	"github.com/shopspring/decimal"
)

const day = 24 * time.Hour

var (
	seven   = decimal.NewFromInt(7)
	hundred = decimal.NewFromInt(100)
)

// Config holds the forecast horizons and trend sensitivity.
type Config struct {
	Horizons         []int
	MinDaysTracked   int
	TrendBandPercent decimal.Decimal
}

// DefaultConfig returns 3/7/14/30 day horizons, a 7 day floor and a 15% band.
func DefaultConfig() Config {
	return Config{
		Horizons:         []int{3, 7, 14, 30},
		MinDaysTracked:   7,
		TrendBandPercent: decimal.NewFromInt(15),
	}
}

// NewConfig converts loaded settings.
func NewConfig(c config.ForecastConfig) Config {
	cfg := DefaultConfig()
	if len(c.Horizons) > 0 {
		cfg.Horizons = append([]int(nil), c.Horizons...)
	}
	if c.MinDaysTracked > 0 {
		cfg.MinDaysTracked = c.MinDaysTracked
	}
	if c.TrendBandPercent > 0 {
		cfg.TrendBandPercent = decimal.NewFromFloat(c.TrendBandPercent)
	}
	return cfg
}

// Forecaster computes par forecasts.
type Forecaster struct {
	cfg Config
}

// New creates a forecaster.
func New(cfg Config) *Forecaster {
	return &Forecaster{cfg: cfg}
}

// Forecast projects par levels for item from history as of now. Lines are
// matched by item ID or normalized name. It reports false when the item
// has never been ordered.
func (f *Forecaster) Forecast(item domain.TrackedItem, history []domain.OrderLine, now time.Time) (domain.ParForecast, bool) {
	lines := linesFor(item, history)
	if len(lines) == 0 {
		return domain.ParForecast{}, false
	}
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].OrderedAt.Before(lines[j].OrderedAt) })

	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Quantity)
	}

	daysTracked := int(now.Sub(lines[0].OrderedAt) / day)
	if daysTracked < f.cfg.MinDaysTracked {
		daysTracked = f.cfg.MinDaysTracked
	}
	if daysTracked < 1 {
		daysTracked = 1
	}
	days := decimal.NewFromInt(int64(daysTracked))

	pars := make(map[int]int64, len(f.cfg.Horizons))
	for _, h := range f.cfg.Horizons {
		pars[h] = ceilDiv(total.Mul(decimal.NewFromInt(int64(h))), days)
	}

	return domain.ParForecast{
		ItemID:        item.ID,
		LocationID:    item.LocationID,
		State:         domain.StateComputed,
		DailyAverage:  total.DivRound(days, 4),
		OrdersPerWeek: decimal.NewFromInt(int64(len(lines))).Mul(seven).DivRound(days, 2),
		Trend:         f.trend(lines),
		DaysTracked:   daysTracked,
		OrderCount:    len(lines),
		TotalOrdered:  total,
		Pars:          pars,
		ConfiguredPar: item.ParThreshold,
		ComputedAt:    now.UTC(),
	}, true
}

// trend compares the mean quantity of the later half of the orders with
// the earlier half.
func (f *Forecaster) trend(lines []domain.OrderLine) domain.Trend {
	n := len(lines)
	if n < 2 {
		return domain.TrendStable
	}
	earlier := mean(lines[:n/2])
	later := mean(lines[n/2:])
	if earlier.IsZero() {
		return domain.TrendStable
	}

	change := later.Sub(earlier).Mul(hundred).Div(earlier)
	switch {
	case change.GreaterThan(f.cfg.TrendBandPercent):
		return domain.TrendRising
	case change.LessThan(f.cfg.TrendBandPercent.Neg()):
		return domain.TrendFalling
	}
	return domain.TrendStable
}

// OrderLines derives order history from purchase movements.
func OrderLines(item domain.TrackedItem, purchases []domain.StockMovement) []domain.OrderLine {
	lines := make([]domain.OrderLine, 0, len(purchases))
	for _, m := range purchases {
		if m.Kind != domain.KindPurchase || m.ItemID != item.ID {
			continue
		}
		lines = append(lines, domain.OrderLine{
			ItemID:    m.ItemID,
			ItemName:  item.Name,
			Quantity:  m.Delta,
			OrderedAt: m.OccurredAt,
		})
	}
	return lines
}

func linesFor(item domain.TrackedItem, history []domain.OrderLine) []domain.OrderLine {
	name := normalizeName(item.Name)
	var out []domain.OrderLine
	for _, l := range history {
		if (l.ItemID != "" && l.ItemID == item.ID) || (name != "" && normalizeName(l.ItemName) == name) {
			out = append(out, l)
		}
	}
	return out
}

func mean(lines []domain.OrderLine) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Quantity)
	}
	return sum.Div(decimal.NewFromInt(int64(len(lines))))
}

// ceilDiv returns ceil(num/den) for positive den without rounding num/den first.
func ceilDiv(num, den decimal.Decimal) int64 {
	q, r := num.QuoRem(den, 0)
	if r.IsPositive() {
		q = q.Add(decimal.NewFromInt(1))
	}
	return q.IntPart()
}

func normalizeName(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
