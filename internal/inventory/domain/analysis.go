package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ResultState is what a consumer of a computed result sees.
type ResultState string

const (
	StateNoData   ResultState = "no_data"
	StateComputed ResultState = "computed"
	StateFailed   ResultState = "failed"
)

// ReconciliationStatus classifies the gap between sold and dispensed volume.
type ReconciliationStatus string

const (
	StatusMatched          ReconciliationStatus = "matched"
	StatusSurplus          ReconciliationStatus = "surplus"
	StatusShortage         ReconciliationStatus = "shortage"
	StatusInsufficientData ReconciliationStatus = "insufficient-data"
)

// ReconciliationResult compares what the POS sold with what the pourers
// dispensed for one stock unit over one window.
type ReconciliationResult struct {
	ItemID            string               `db:"item_id" json:"item_id"`
	LocationID        string               `db:"location_id" json:"location_id"`
	WindowStart       time.Time            `db:"window_start" json:"window_start"`
	WindowEnd         time.Time            `db:"window_end" json:"window_end"`
	AsOf              time.Time            `db:"as_of" json:"as_of"`
	Produced          decimal.Decimal      `db:"produced_qty" json:"produced_or_received_qty"`
	SystemSold        decimal.Decimal      `db:"system_sold_qty" json:"system_sold_qty"`
	PhysicalDispensed decimal.NullDecimal  `db:"physical_dispensed_qty" json:"physical_dispensed_qty"`
	Variance          decimal.NullDecimal  `db:"variance" json:"variance"`
	VariancePercent   *int64               `db:"variance_percent" json:"variance_percent"`
	Status            ReconciliationStatus `db:"status" json:"status"`
	State             ResultState          `db:"state" json:"state"`
	Error             *string              `db:"error" json:"error,omitempty"`
	ComputedAt        time.Time            `db:"computed_at" json:"computed_at"`
}

// Window returns the reconciled window.
func (r ReconciliationResult) Window() Window {
	return Window{Start: r.WindowStart, End: r.WindowEnd}
}

// AnomalyType names a detection rule.
type AnomalyType string

const (
	AnomalyRapidRepeatPour  AnomalyType = "rapid-repeat-pour"
	AnomalyOutOfRangeVolume AnomalyType = "out-of-range-volume"
	AnomalyOffHoursActivity AnomalyType = "off-hours-activity"
	AnomalyDeviceErrorBurst AnomalyType = "device-error-burst"
	AnomalyStockMismatch    AnomalyType = "stock-mismatch"
)

// Severity of an anomaly record.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// ReviewState of an anomaly. The only transition is open to dismissed.
type ReviewState string

const (
	ReviewOpen      ReviewState = "open"
	ReviewDismissed ReviewState = "dismissed"
)

// Evidence lists the movements that triggered an anomaly and the metric
// checked. Stock mismatches come from a reconciliation result rather than
// individual movements: they name the unit and window instead and leave
// MovementIDs empty.
type Evidence struct {
	MovementIDs []string        `json:"movement_ids"`
	Unit        *StockUnit      `json:"unit,omitempty"`
	Window      *Window         `json:"window,omitempty"`
	Metric      string          `json:"metric"`
	Value       decimal.Decimal `json:"value"`
}

// AnomalyRecord is a flagged dispensing event awaiting review.
type AnomalyRecord struct {
	ID          string      `json:"id"`
	Type        AnomalyType `json:"type"`
	Severity    Severity    `json:"severity"`
	ItemID      *string     `json:"item_id,omitempty"`
	LocationID  string      `json:"location_id"`
	DeviceID    *string     `json:"device_id,omitempty"`
	Evidence    Evidence    `json:"evidence"`
	Fingerprint string      `json:"fingerprint"`
	DetectedAt  time.Time   `json:"detected_at"`
	ReviewState ReviewState `json:"review_state"`
	ReviewedBy  *string     `json:"reviewed_by,omitempty"`
	ReviewNote  *string     `json:"review_note,omitempty"`
	ReviewedAt  *time.Time  `json:"reviewed_at,omitempty"`
}

// AnomalyFilter narrows anomaly listings. Zero values mean "any".
type AnomalyFilter struct {
	LocationID  string
	ItemID      string
	DeviceID    string
	Type        AnomalyType
	ReviewState ReviewState
	Limit       int
	Offset      int
}

// Trend is the direction of recent ordering volume.
type Trend string

const (
	TrendRising  Trend = "rising"
	TrendFalling Trend = "falling"
	TrendStable  Trend = "stable"
)

// ParForecast projects how much of an item to hold for several horizons.
type ParForecast struct {
	ItemID        string              `json:"item_id"`
	LocationID    string              `json:"location_id"`
	State         ResultState         `json:"state"`
	DailyAverage  decimal.Decimal     `json:"daily_average"`
	OrdersPerWeek decimal.Decimal     `json:"orders_per_week"`
	Trend         Trend               `json:"trend"`
	DaysTracked   int                 `json:"days_tracked"`
	OrderCount    int                 `json:"order_count"`
	TotalOrdered  decimal.Decimal     `json:"total_ordered"`
	Pars          map[int]int64       `json:"pars"`
	ConfiguredPar decimal.NullDecimal `json:"configured_par"`
	Error         *string             `json:"error,omitempty"`
	ComputedAt    time.Time           `json:"computed_at"`
}

// OrderLine is one historical purchase of an item.
type OrderLine struct {
	ItemID    string          `json:"item_id"`
	ItemName  string          `json:"item_name"`
	Quantity  decimal.Decimal `json:"quantity"`
	OrderedAt time.Time       `json:"ordered_at"`
}
