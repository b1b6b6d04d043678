package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/barledger/barledger-backend/internal/inventory/domain"
	"github.com/barledger/barledger-backend/internal/inventory/events"
	"github.com/barledger/barledger-backend/internal/inventory/ledger"
	"github.com/barledger/barledger-backend/internal/inventory/normalizer"
	"github.com/barledger/barledger-backend/pkg/logger"
	"github.com/barledger/barledger-backend/pkg/metrics"
	"github.com/google/uuid"
)

// ReasonInvalidPayload quarantines messages that could not be decoded or
// failed request validation.
const ReasonInvalidPayload = "invalid_payload"

// IngestResult reports what happened to one raw event. Quarantine is set
// when the event was rejected.
type IngestResult struct {
	Appended   int                      `json:"appended"`
	Duplicates int                      `json:"duplicates"`
	Movements  []domain.StockMovement   `json:"movements"`
	Quarantine *domain.QuarantinedEvent `json:"quarantine,omitempty"`
}

// IngestService normalizes raw events and appends them to the ledger.
type IngestService struct {
	normalizer *normalizer.Normalizer
	ledger     *ledger.Ledger
	quarantine QuarantineStore
	publisher  *events.InventoryEventPublisher
	metrics    *metrics.Metrics
	logger     *logger.Logger
	now        func() time.Time
}

// NewIngestService creates a new ingest service
func NewIngestService(
	n *normalizer.Normalizer,
	l *ledger.Ledger,
	quarantine QuarantineStore,
	publisher *events.InventoryEventPublisher,
	m *metrics.Metrics,
	log *logger.Logger,
) *IngestService {
	return &IngestService{
		normalizer: n,
		ledger:     l,
		quarantine: quarantine,
		publisher:  publisher,
		metrics:    m,
		logger:     log.WithComponent("ingest"),
		now:        time.Now,
	}
}

// Ingest normalizes raw and appends the resulting movements. A rejected
// event is quarantined and reported in the result with a nil error; only
// infrastructure failures are returned as errors.
func (s *IngestService) Ingest(ctx context.Context, raw normalizer.RawEvent) (*IngestResult, error) {
	movements, err := s.normalizer.Normalize(ctx, raw)
	if err != nil {
		var nerr *normalizer.Error
		if !errors.As(err, &nerr) {
			return nil, fmt.Errorf("normalize %s event %s: %w", raw.Source(), raw.Ref(), err)
		}
		payload, mErr := json.Marshal(raw)
		if mErr != nil {
			return nil, fmt.Errorf("encode rejected event: %w", mErr)
		}
		q, err := s.Quarantine(ctx, raw.Source(), raw.Ref(), payload, normalizer.Reason(err), nerr)
		if err != nil {
			return nil, err
		}
		return &IngestResult{Movements: []domain.StockMovement{}, Quarantine: q}, nil
	}

	result := &IngestResult{Movements: make([]domain.StockMovement, 0, len(movements))}
	for _, m := range movements {
		stored, appended, err := s.ledger.Record(ctx, m)
		if err != nil {
			return nil, err
		}
		if !appended {
			result.Duplicates++
			s.metrics.IncMovement(string(m.Kind), "duplicate")
			continue
		}
		result.Appended++
		result.Movements = append(result.Movements, stored)
		s.metrics.IncMovement(string(m.Kind), "appended")
	}
	return result, nil
}

// Quarantine stores a rejected payload for later inspection. A payload
// that is not valid JSON is kept as a JSON string.
func (s *IngestService) Quarantine(ctx context.Context, source, ref string, payload []byte, reason string, cause error) (*domain.QuarantinedEvent, error) {
	if !json.Valid(payload) {
		wrapped, err := json.Marshal(string(payload))
		if err != nil {
			return nil, fmt.Errorf("encode quarantined payload: %w", err)
		}
		payload = wrapped
	}
	q := &domain.QuarantinedEvent{
		ID:         uuid.NewString(),
		Source:     source,
		SourceRef:  ref,
		Payload:    payload,
		Reason:     reason,
		ReceivedAt: s.now().UTC(),
	}
	if cause != nil {
		q.Error = cause.Error()
	}
	if err := s.quarantine.Insert(ctx, q); err != nil {
		return nil, fmt.Errorf("quarantine %s event %s: %w", source, ref, err)
	}

	s.metrics.IncQuarantined(source, reason)
	s.publisher.PublishMovementQuarantined(ctx, q)

	s.logger.Warn().
		Str("source", source).
		Str("source_ref", ref).
		Str("reason", reason).
		Str("quarantine_id", q.ID).
		Msg("event quarantined")
	return q, nil
}
