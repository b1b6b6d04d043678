// Package consumers turns RabbitMQ messages from the purchasing, POS and
// sensor systems into ledger movements.
package consumers

import (
	"context"
	"fmt"

	"github.com/barledger/barledger-backend/internal/inventory/domain"
	"github.com/barledger/barledger-backend/internal/inventory/normalizer"
	"github.com/barledger/barledger-backend/internal/inventory/service"
	"github.com/barledger/barledger-backend/pkg/httputil"
	"github.com/barledger/barledger-backend/pkg/logger"
	"github.com/barledger/barledger-backend/pkg/messaging"
	"github.com/rs/zerolog"
)

// QueueRawMovements is the durable queue raw source events land on.
const QueueRawMovements = "inventory-service.raw-movements"

// Ingester is the ingest path a consumed event goes through.
type Ingester interface {
	Ingest(ctx context.Context, raw normalizer.RawEvent) (*service.IngestResult, error)
	Quarantine(ctx context.Context, source, ref string, payload []byte, reason string, cause error) (*domain.QuarantinedEvent, error)
}

// MovementConsumer consumes raw purchase, sale and pour events
type MovementConsumer struct {
	consumer *messaging.Consumer
	ingest   Ingester
	logger   *logger.Logger
}

// NewMovementConsumer creates a new movement consumer bound to the
// purchasing, POS and sensor exchanges.
func NewMovementConsumer(rmq *messaging.RabbitMQ, ingest Ingester, log *logger.Logger) (*MovementConsumer, error) {
	consumer, err := messaging.NewConsumer(rmq, QueueRawMovements, log)
	if err != nil {
		return nil, err
	}

	bindings := []struct {
		exchange string
		key      string
	}{
		{messaging.ExchangePurchasingEvents, messaging.EventPurchaseReceived},
		{messaging.ExchangePOSEvents, messaging.EventSaleRecorded},
		{messaging.ExchangeSensorEvents, messaging.EventPourRecorded},
	}
	for _, b := range bindings {
		if err := consumer.Subscribe(b.exchange, b.key); err != nil {
			return nil, err
		}
	}

	c := newMovementConsumer(ingest, log)
	c.consumer = consumer
	for _, b := range bindings {
		consumer.RegisterHandler(b.key, c.Handle)
	}
	return c, nil
}

func newMovementConsumer(ingest Ingester, log *logger.Logger) *MovementConsumer {
	return &MovementConsumer{
		ingest: ingest,
		logger: log.WithComponent("movement-consumer"),
	}
}

// Start starts consuming messages
func (c *MovementConsumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}

// Handle ingests one raw event. Payloads that cannot be decoded or fail
// validation are quarantined and acknowledged; only infrastructure
// failures are returned for redelivery.
func (c *MovementConsumer) Handle(ctx context.Context, event *messaging.Event) error {
	log := c.logger.WithCorrelationID(messaging.CorrelationID(ctx))

	var (
		result *service.IngestResult
		err    error
	)
	switch event.Type {
	case messaging.EventPurchaseReceived:
		result, err = ingestAs[normalizer.PurchaseEvent](ctx, c.ingest, event, normalizer.SourcePurchasing)
	case messaging.EventSaleRecorded:
		result, err = ingestAs[normalizer.SaleEvent](ctx, c.ingest, event, normalizer.SourcePOS)
	case messaging.EventPourRecorded:
		result, err = ingestAs[normalizer.PourEvent](ctx, c.ingest, event, normalizer.SourceSensor)
	default:
		return fmt.Errorf("unexpected event type %q", event.Type)
	}
	if err != nil {
		return err
	}

	var ev *zerolog.Event
	if result.Quarantine != nil {
		ev = log.Info().Str("quarantine_id", result.Quarantine.ID).Str("reason", result.Quarantine.Reason)
	} else {
		ev = log.Debug()
	}
	ev.Str("event_type", event.Type).
		Str("event_id", event.ID).
		Int("appended", result.Appended).
		Int("duplicates", result.Duplicates).
		Msg("raw event processed")
	return nil
}

func ingestAs[T normalizer.RawEvent](ctx context.Context, ingest Ingester, event *messaging.Event, source string) (*service.IngestResult, error) {
	var raw T
	if err := event.UnmarshalData(&raw); err != nil {
		return quarantineInvalid(ctx, ingest, source, "", event, err)
	}
	if err := httputil.Validate(&raw); err != nil {
		return quarantineInvalid(ctx, ingest, source, raw.Ref(), event, err)
	}
	return ingest.Ingest(ctx, raw)
}

func quarantineInvalid(ctx context.Context, ingest Ingester, source, ref string, event *messaging.Event, cause error) (*service.IngestResult, error) {
	q, err := ingest.Quarantine(ctx, source, ref, event.Data, service.ReasonInvalidPayload, cause)
	if err != nil {
		return nil, err
	}
	return &service.IngestResult{Movements: []domain.StockMovement{}, Quarantine: q}, nil
}
