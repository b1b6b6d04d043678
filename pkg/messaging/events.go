package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Inbound event types published by the source systems.
const (
	EventPurchaseReceived = "purchase.received"
	EventSaleRecorded     = "pos.sale.recorded"
	EventPourRecorded     = "sensor.pour.recorded"
)

// Outbound inventory event types
const (
	EventMovementQuarantined    = "inventory.movement.quarantined"
	EventReconciliationComputed = "inventory.reconciliation.completed"
	EventAnomalyDetected        = "inventory.anomaly.detected"
	EventForecastUpdated        = "inventory.forecast.updated"
	EventParOverridden          = "inventory.par.overridden"
)

// Exchange names
const (
	ExchangePurchasingEvents = "purchasing.events"
	ExchangePOSEvents        = "pos.events"
	ExchangeSensorEvents     = "sensor.events"
	ExchangeInventoryEvents  = "inventory.events"
)

// Event is the envelope every message on the bus travels in.
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data any) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v any) error {
	return json.Unmarshal(e.Data, v)
}

// MovementQuarantinedEvent is published when a raw event fails normalization.
type MovementQuarantinedEvent struct {
	QuarantineID string `json:"quarantine_id"`
	Source       string `json:"source"`
	Reason       string `json:"reason"`
	Error        string `json:"error"`
}

// ReconciliationCompletedEvent is published once per reconciled stock unit.
type ReconciliationCompletedEvent struct {
	ItemID          string    `json:"item_id"`
	LocationID      string    `json:"location_id"`
	State           string    `json:"state"`
	Status          string    `json:"status,omitempty"`
	Variance        *string   `json:"variance,omitempty"`
	VariancePercent *int64    `json:"variance_percent,omitempty"`
	WindowStart     time.Time `json:"window_start"`
	WindowEnd       time.Time `json:"window_end"`
	Error           string    `json:"error,omitempty"`
}

// AnomalyDetectedEvent is published for every newly opened anomaly.
type AnomalyDetectedEvent struct {
	AnomalyID   string   `json:"anomaly_id"`
	AnomalyType string   `json:"anomaly_type"`
	Severity    string   `json:"severity"`
	ItemID      string   `json:"item_id,omitempty"`
	LocationID  string   `json:"location_id"`
	DeviceID    string   `json:"device_id,omitempty"`
	MovementIDs []string `json:"movement_ids"`
}

// ForecastUpdatedEvent is published when an item's forecast is recomputed.
type ForecastUpdatedEvent struct {
	ItemID     string           `json:"item_id"`
	LocationID string           `json:"location_id"`
	State      string           `json:"state"`
	Trend      string           `json:"trend,omitempty"`
	Pars       map[string]int64 `json:"pars,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// ParOverriddenEvent is published when an operator sets a par threshold.
type ParOverriddenEvent struct {
	ItemID       string  `json:"item_id"`
	LocationID   string  `json:"location_id"`
	ParThreshold *string `json:"par_threshold"`
	OverriddenBy string  `json:"overridden_by"`
}
