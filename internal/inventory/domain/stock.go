// Package domain holds the types shared by the ingestion, ledger and
// analysis packages of the inventory service.
package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// MovementKind classifies a stock movement by the source that produced it.
type MovementKind string

const (
	KindPurchase   MovementKind = "purchase"
	KindSale       MovementKind = "sale"
	KindPour       MovementKind = "pour"
	KindWastage    MovementKind = "wastage"
	KindAdjustment MovementKind = "adjustment"
)

// Valid reports whether k is a known movement kind.
func (k MovementKind) Valid() bool {
	switch k {
	case KindPurchase, KindSale, KindPour, KindWastage, KindAdjustment:
		return true
	}
	return false
}

// TrackedItem is a stockable product at one location.
type TrackedItem struct {
	ID            string              `db:"id" json:"id"`
	LocationID    string              `db:"location_id" json:"location_id"`
	Name          string              `db:"name" json:"name"`
	SKU           *string             `db:"sku" json:"sku,omitempty"`
	BaseUnit      string              `db:"base_unit" json:"base_unit"`
	ParThreshold  decimal.NullDecimal `db:"par_threshold" json:"par_threshold"`
	UnitCostCents int64               `db:"unit_cost_cents" json:"unit_cost_cents"`
	IsActive      bool                `db:"is_active" json:"is_active"`
	AutoCreated   bool                `db:"auto_created" json:"auto_created"`
	CreatedAt     time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time           `db:"updated_at" json:"updated_at"`
}

// StockMovement is one immutable, signed change to an item's quantity.
// Movements are produced by the normalizer and never edited afterwards.
type StockMovement struct {
	ID          string          `db:"id" json:"id"`
	ItemID      string          `db:"item_id" json:"item_id"`
	LocationID  string          `db:"location_id" json:"location_id"`
	Delta       decimal.Decimal `db:"delta" json:"delta"`
	Kind        MovementKind    `db:"kind" json:"kind"`
	SourceRef   string          `db:"source_ref" json:"source_ref"`
	OccurredAt  time.Time       `db:"occurred_at" json:"occurred_at"`
	RecordedAt  time.Time       `db:"recorded_at" json:"recorded_at"`
	DeviceID    *string         `db:"device_id" json:"device_id,omitempty"`
	ReasonCode  *string         `db:"reason_code" json:"reason_code,omitempty"`
	DeviceError bool            `db:"device_error" json:"device_error"`
}

// DedupeKey identifies a movement for idempotent appends.
func (m StockMovement) DedupeKey() string {
	return string(m.Kind) + "|" + m.SourceRef
}

// StockUnit addresses one item at one location.
type StockUnit struct {
	ItemID     string `db:"item_id" json:"item_id"`
	LocationID string `db:"location_id" json:"location_id"`
}

func (u StockUnit) String() string {
	return u.LocationID + "/" + u.ItemID
}

// Window is a half-open time range [Start, End).
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// TrailingWindow returns the window of length d ending at end.
func TrailingWindow(end time.Time, d time.Duration) Window {
	return Window{Start: end.Add(-d), End: end}
}

// AlignedWindow returns the window of length size that contains t. Windows
// start at whole multiples of size (UTC midnight for a day), shifted by
// offset, so every instant of the same period maps to the same window.
func AlignedWindow(t time.Time, size, offset time.Duration) Window {
	start := t.Add(-offset).Truncate(size).Add(offset)
	return Window{Start: start, End: start.Add(size)}
}

// Previous returns the window of the same length ending where w starts.
func (w Window) Previous() Window {
	return Window{Start: w.Start.Add(-w.End.Sub(w.Start)), End: w.Start}
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Valid reports whether the window is non-empty.
func (w Window) Valid() bool {
	return w.End.After(w.Start)
}

// MovementFilter narrows ledger reads. Zero values mean "any".
type MovementFilter struct {
	ItemID     string
	LocationID string
	DeviceID   string
	Kinds      []MovementKind
	Window     *Window
	// AsOf excludes movements recorded after this instant.
	AsOf   *time.Time
	Limit  int
	Offset int
}

// DeviceMapping binds a smart-pourer to the item it dispenses.
type DeviceMapping struct {
	DeviceID   string    `db:"device_id" json:"device_id"`
	ItemID     string    `db:"item_id" json:"item_id"`
	LocationID string    `db:"location_id" json:"location_id"`
	IsActive   bool      `db:"is_active" json:"is_active"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// QuarantinedEvent keeps a raw event the normalizer rejected.
type QuarantinedEvent struct {
	ID         string          `db:"id" json:"id"`
	Source     string          `db:"source" json:"source"`
	SourceRef  string          `db:"source_ref" json:"source_ref"`
	Payload    json.RawMessage `db:"payload" json:"payload"`
	Reason     string          `db:"reason" json:"reason"`
	Error      string          `db:"error" json:"error"`
	ReceivedAt time.Time       `db:"received_at" json:"received_at"`
}
