package repository

import (
	"context"
	"time"

	"github.com/barledger/barledger-backend/internal/inventory/domain"
	"github.com/barledger/barledger-backend/pkg/database"
	"github.com/google/uuid"
)

// QuarantineRepository keeps raw events the normalizer rejected.
type QuarantineRepository struct {
	db *database.DB
}

// NewQuarantineRepository creates a new quarantine repository
func NewQuarantineRepository(db *database.DB) *QuarantineRepository {
	return &QuarantineRepository{db: db}
}

// Insert stores a rejected event.
func (r *QuarantineRepository) Insert(ctx context.Context, q *domain.QuarantinedEvent) error {
	if q.ID == "" {
		q.ID = uuid.New().String()
	}
	if q.ReceivedAt.IsZero() {
		q.ReceivedAt = time.Now().UTC()
	}
	payload := string(q.Payload)
	if payload == "" {
		payload = "null"
	}

	query := `
		INSERT INTO quarantined_events (id, source, source_ref, payload, reason, error, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query, q.ID, q.Source, q.SourceRef, payload, q.Reason, q.Error, q.ReceivedAt)
	return err
}

// List returns quarantined events newest first. An empty source lists all.
func (r *QuarantineRepository) List(ctx context.Context, source string, limit, offset int) ([]domain.QuarantinedEvent, error) {
	w := &where{}
	if source != "" {
		w.add("source = ?", source)
	}
	query := `SELECT id, source, source_ref, payload, reason, error, received_at FROM quarantined_events` +
		w.String() + ` ORDER BY received_at DESC, id` + w.page(limit, offset)

	events := []domain.QuarantinedEvent{}
	if err := r.db.SelectContext(ctx, &events, query, w.args...); err != nil {
		return nil, err
	}
	return events, nil
}
