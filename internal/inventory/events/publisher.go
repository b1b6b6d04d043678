package events

import (
	"context"
	"strconv"

	"github.com/barledger/barledger-backend/internal/inventory/domain"
	"github.com/barledger/barledger-backend/pkg/logger"
	"github.com/barledger/barledger-backend/pkg/messaging"
)

// Publisher sends one typed payload to the bus.
type Publisher interface {
	Publish(ctx context.Context, eventType string, data any) error
}

// InventoryEventPublisher publishes inventory-related events.
// A nil publisher drops events, which is how the service runs without RabbitMQ.
type InventoryEventPublisher struct {
	publisher Publisher
	logger    *logger.Logger
}

// NewInventoryEventPublisher creates a publisher on the inventory exchange.
func NewInventoryEventPublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*InventoryEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeInventoryEvents, "inventory-service", log)
	if err != nil {
		return nil, err
	}
	return NewWithPublisher(publisher, log), nil
}

// NewWithPublisher wraps an existing publisher.
func NewWithPublisher(publisher Publisher, log *logger.Logger) *InventoryEventPublisher {
	return &InventoryEventPublisher{
		publisher: publisher,
		logger:    log.WithComponent("event-publisher"),
	}
}

// PublishMovementQuarantined publishes a quarantined raw event.
func (p *InventoryEventPublisher) PublishMovementQuarantined(ctx context.Context, q *domain.QuarantinedEvent) {
	if p == nil {
		return
	}

	data := messaging.MovementQuarantinedEvent{
		QuarantineID: q.ID,
		Source:       q.Source,
		Reason:       q.Reason,
		Error:        q.Error,
	}

	if err := p.publisher.Publish(ctx, messaging.EventMovementQuarantined, data); err != nil {
		p.logger.Error().Err(err).Str("quarantine_id", q.ID).Msg("failed to publish movement quarantined event")
	}
}

// PublishReconciliation publishes a computed or failed reconciliation.
func (p *InventoryEventPublisher) PublishReconciliation(ctx context.Context, r *domain.ReconciliationResult) {
	if p == nil {
		return
	}

	data := messaging.ReconciliationCompletedEvent{
		ItemID:          r.ItemID,
		LocationID:      r.LocationID,
		State:           string(r.State),
		Status:          string(r.Status),
		VariancePercent: r.VariancePercent,
		WindowStart:     r.WindowStart,
		WindowEnd:       r.WindowEnd,
	}
	if r.Variance.Valid {
		v := r.Variance.Decimal.String()
		data.Variance = &v
	}
	if r.Error != nil {
		data.Error = *r.Error
	}

	if err := p.publisher.Publish(ctx, messaging.EventReconciliationComputed, data); err != nil {
		p.logger.Error().Err(err).Str("item_id", r.ItemID).Msg("failed to publish reconciliation event")
	}
}

// PublishAnomalyDetected publishes a newly opened anomaly.
func (p *InventoryEventPublisher) PublishAnomalyDetected(ctx context.Context, a *domain.AnomalyRecord) {
	if p == nil {
		return
	}

	data := messaging.AnomalyDetectedEvent{
		AnomalyID:   a.ID,
		AnomalyType: string(a.Type),
		Severity:    string(a.Severity),
		LocationID:  a.LocationID,
		MovementIDs: a.Evidence.MovementIDs,
	}
	if a.ItemID != nil {
		data.ItemID = *a.ItemID
	}
	if a.DeviceID != nil {
		data.DeviceID = *a.DeviceID
	}

	if err := p.publisher.Publish(ctx, messaging.EventAnomalyDetected, data); err != nil {
		p.logger.Error().Err(err).Str("anomaly_id", a.ID).Msg("failed to publish anomaly detected event")
	}
}

// PublishForecastUpdated publishes a recomputed forecast.
func (p *InventoryEventPublisher) PublishForecastUpdated(ctx context.Context, f *domain.ParForecast) {
	if p == nil {
		return
	}

	data := messaging.ForecastUpdatedEvent{
		ItemID:     f.ItemID,
		LocationID: f.LocationID,
		State:      string(f.State),
		Trend:      string(f.Trend),
	}
	if len(f.Pars) > 0 {
		data.Pars = make(map[string]int64, len(f.Pars))
		for h, par := range f.Pars {
			data.Pars[strconv.Itoa(h)] = par
		}
	}
	if f.Error != nil {
		data.Error = *f.Error
	}

	if err := p.publisher.Publish(ctx, messaging.EventForecastUpdated, data); err != nil {
		p.logger.Error().Err(err).Str("item_id", f.ItemID).Msg("failed to publish forecast updated event")
	}
}

// PublishParOverridden publishes an operator par change.
func (p *InventoryEventPublisher) PublishParOverridden(ctx context.Context, item *domain.TrackedItem, actor string) {
	if p == nil {
		return
	}

	data := messaging.ParOverriddenEvent{
		ItemID:       item.ID,
		LocationID:   item.LocationID,
		OverriddenBy: actor,
	}
	if item.ParThreshold.Valid {
		v := item.ParThreshold.Decimal.String()
		data.ParThreshold = &v
	}

	if err := p.publisher.Publish(ctx, messaging.EventParOverridden, data); err != nil {
		p.logger.Error().Err(err).Str("item_id", item.ID).Msg("failed to publish par overridden event")
	}
}
