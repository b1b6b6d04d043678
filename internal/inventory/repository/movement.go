package repository

import (
	"context"
	"time"

	"github.com/barledger/barledger-backend/internal/inventory/domain"
	"github.com/barledger/barledger-backend/internal/inventory/ledger"
	"github.com/barledger/barledger-backend/pkg/database"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

var _ ledger.Store = (*MovementRepository)(nil)

const movementColumns = `id, item_id, location_id, delta, kind, source_ref, occurred_at, recorded_at, device_id, reason_code, device_error`

// MovementRepository is the durable movement log.
type MovementRepository struct {
	db *database.DB
}

// NewMovementRepository creates a new movement repository
func NewMovementRepository(db *database.DB) *MovementRepository {
	return &MovementRepository{db: db}
}

// Insert stores m. The (source_ref, kind) unique constraint makes replays a no-op.
func (r *MovementRepository) Insert(ctx context.Context, m domain.StockMovement) (bool, error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.RecordedAt.IsZero() {
		m.RecordedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO stock_movements (` + movementColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (source_ref, kind) DO NOTHING
	`
	result, err := r.db.ExecContext(ctx, query,
		m.ID, m.ItemID, m.LocationID, m.Delta, string(m.Kind), m.SourceRef,
		m.OccurredAt, m.RecordedAt, m.DeviceID, m.ReasonCode, m.DeviceError,
	)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return false, appErr
		}
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// Sum folds the deltas of the matching movements.
func (r *MovementRepository) Sum(ctx context.Context, filter domain.MovementFilter) (decimal.Decimal, error) {
	w := movementWhere(filter)
	query := `SELECT COALESCE(SUM(delta), 0) FROM stock_movements` + w.String()

	var total decimal.Decimal
	if err := r.db.GetContext(ctx, &total, query, w.args...); err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

// SumByKind folds matching deltas per kind in a single statement, so every
// kind is read from the same snapshot.
func (r *MovementRepository) SumByKind(ctx context.Context, filter domain.MovementFilter) (map[domain.MovementKind]decimal.Decimal, error) {
	w := movementWhere(filter)
	query := `SELECT kind, COALESCE(SUM(delta), 0) AS total FROM stock_movements` + w.String() + ` GROUP BY kind`

	var rows []struct {
		Kind  domain.MovementKind `db:"kind"`
		Total decimal.Decimal     `db:"total"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, w.args...); err != nil {
		return nil, err
	}

	totals := make(map[domain.MovementKind]decimal.Decimal, len(rows))
	for _, row := range rows {
		totals[row.Kind] = row.Total
	}
	return totals, nil
}

// List returns matching movements ordered by occurrence.
func (r *MovementRepository) List(ctx context.Context, filter domain.MovementFilter) ([]domain.StockMovement, error) {
	w := movementWhere(filter)
	query := `SELECT ` + movementColumns + ` FROM stock_movements` + w.String() +
		` ORDER BY occurred_at, id` + w.page(filter.Limit, filter.Offset)

	movements := []domain.StockMovement{}
	if err := r.db.SelectContext(ctx, &movements, query, w.args...); err != nil {
		return nil, err
	}
	return movements, nil
}

func movementWhere(f domain.MovementFilter) *where {
	w := &where{}
	if f.ItemID != "" {
		w.add("item_id = ?", f.ItemID)
	}
	if f.LocationID != "" {
		w.add("location_id = ?", f.LocationID)
	}
	if f.DeviceID != "" {
		w.add("device_id = ?", f.DeviceID)
	}
	if len(f.Kinds) > 0 {
		kinds := make([]string, len(f.Kinds))
		for i, k := range f.Kinds {
			kinds[i] = string(k)
		}
		w.add("kind = ANY(?)", pq.Array(kinds))
	}
	if f.Window != nil {
		w.add("occurred_at >= ?", f.Window.Start)
		w.add("occurred_at < ?", f.Window.End)
	}
	if f.AsOf != nil {
		w.add("recorded_at <= ?", *f.AsOf)
	}
	return w
}
