package normalizer

import (
	"time"

	"github.com/shopspring/decimal"
)

// Sources of raw events.
const (
	SourcePurchasing = "purchasing"
	SourcePOS        = "pos"
	SourceSensor     = "sensor"
	SourceManual     = "manual"
)

// RawEvent is any source-specific event accepted by Normalize.
type RawEvent interface {
	Source() string
	Ref() string
}

// PurchaseEvent is a delivery received from a supplier.
type PurchaseEvent struct {
	SourceRef     string          `json:"source_ref" validate:"required"`
	LocationID    string          `json:"location_id" validate:"required"`
	ItemID        string          `json:"item_id,omitempty"`
	ItemName      string          `json:"item_name" validate:"required_without=ItemID"`
	Quantity      decimal.Decimal `json:"quantity"`
	Unit          string          `json:"unit,omitempty"`
	UnitCostCents int64           `json:"unit_cost_cents,omitempty" validate:"min=0"`
	OccurredAt    time.Time       `json:"occurred_at" validate:"required"`
}

func (e PurchaseEvent) Source() string { return SourcePurchasing }
func (e PurchaseEvent) Ref() string    { return e.SourceRef }

// SaleEvent is one POS line: a product sold some number of times.
type SaleEvent struct {
	SourceRef   string          `json:"source_ref" validate:"required"`
	LocationID  string          `json:"location_id" validate:"required"`
	ProductName string          `json:"product_name" validate:"required"`
	Servings    decimal.Decimal `json:"servings"`
	OccurredAt  time.Time       `json:"occurred_at" validate:"required"`
}

func (e SaleEvent) Source() string { return SourcePOS }
func (e SaleEvent) Ref() string    { return e.SourceRef }

// PourEvent is a smart-pourer reading. Error readings may carry no volume.
type PourEvent struct {
	SourceRef  string          `json:"source_ref" validate:"required"`
	DeviceID   string          `json:"device_id" validate:"required"`
	Volume     decimal.Decimal `json:"volume"`
	Error      bool            `json:"error,omitempty"`
	ErrorCode  string          `json:"error_code,omitempty"`
	OccurredAt time.Time       `json:"occurred_at" validate:"required"`
}

func (e PourEvent) Source() string { return SourceSensor }
func (e PourEvent) Ref() string    { return e.SourceRef }

// WastageEvent records stock lost to breakage, spills or spoilage.
// Delta must be negative.
type WastageEvent struct {
	SourceRef  string          `json:"source_ref" validate:"required"`
	LocationID string          `json:"location_id" validate:"required"`
	ItemID     string          `json:"item_id" validate:"required"`
	Delta      decimal.Decimal `json:"delta"`
	ReasonCode string          `json:"reason_code"`
	OccurredAt time.Time       `json:"occurred_at" validate:"required"`
}

func (e WastageEvent) Source() string { return SourceManual }
func (e WastageEvent) Ref() string    { return e.SourceRef }

// AdjustmentEvent corrects stock after a physical count. Delta may have
// either sign but not be zero.
type AdjustmentEvent struct {
	SourceRef  string          `json:"source_ref" validate:"required"`
	LocationID string          `json:"location_id" validate:"required"`
	ItemID     string          `json:"item_id" validate:"required"`
	Delta      decimal.Decimal `json:"delta"`
	ReasonCode string          `json:"reason_code"`
	OccurredAt time.Time       `json:"occurred_at" validate:"required"`
}

func (e AdjustmentEvent) Source() string { return SourceManual }
func (e AdjustmentEvent) Ref() string    { return e.SourceRef }
