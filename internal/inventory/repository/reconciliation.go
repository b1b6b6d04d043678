package repository

import (
	"context"
	"database/sql"

	"github.com/barledger/barledger-backend/internal/inventory/domain"
	"github.com/barledger/barledger-backend/pkg/database"
	"github.com/barledger/barledger-backend/pkg/errors"
)

const reconciliationColumns = `item_id, location_id, window_start, window_end, as_of, produced_qty, system_sold_qty,
	physical_dispensed_qty, variance, variance_percent, status, state, error, computed_at`

// ReconciliationRepository keeps one result per unit and window.
type ReconciliationRepository struct {
	db *database.DB
}

// NewReconciliationRepository creates a new reconciliation repository
func NewReconciliationRepository(db *database.DB) *ReconciliationRepository {
	return &ReconciliationRepository{db: db}
}

// Upsert replaces the result for the same unit and window.
func (r *ReconciliationRepository) Upsert(ctx context.Context, res *domain.ReconciliationResult) error {
	query := `
		INSERT INTO reconciliation_results (` + reconciliationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (item_id, location_id, window_start, window_end) DO UPDATE SET
			as_of = EXCLUDED.as_of,
			produced_qty = EXCLUDED.produced_qty,
			system_sold_qty = EXCLUDED.system_sold_qty,
			physical_dispensed_qty = EXCLUDED.physical_dispensed_qty,
			variance = EXCLUDED.variance,
			variance_percent = EXCLUDED.variance_percent,
			status = EXCLUDED.status,
			state = EXCLUDED.state,
			error = EXCLUDED.error,
			computed_at = EXCLUDED.computed_at
	`
	_, err := r.db.ExecContext(ctx, query,
		res.ItemID, res.LocationID, res.WindowStart, res.WindowEnd, res.AsOf,
		res.Produced, res.SystemSold, res.PhysicalDispensed, res.Variance, res.VariancePercent,
		string(res.Status), string(res.State), res.Error, res.ComputedAt,
	)
	return err
}

// Latest returns the result with the most recent window end, or
// domain.ErrNoResult when the unit was never reconciled.
func (r *ReconciliationRepository) Latest(ctx context.Context, itemID, locationID string) (*domain.ReconciliationResult, error) {
	if !validID(itemID) {
		return nil, domain.ErrNoResult
	}

	var res domain.ReconciliationResult
	query := `SELECT ` + reconciliationColumns + ` FROM reconciliation_results
		WHERE item_id = $1 AND location_id = $2
		ORDER BY window_end DESC, computed_at DESC
		LIMIT 1`
	if err := r.db.GetContext(ctx, &res, query, itemID, locationID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNoResult
		}
		return nil, err
	}
	return &res, nil
}

// ListLatest returns the latest result of every unit at a location.
func (r *ReconciliationRepository) ListLatest(ctx context.Context, locationID string) ([]domain.ReconciliationResult, error) {
	w := &where{}
	if locationID != "" {
		w.add("location_id = ?", locationID)
	}
	query := `SELECT DISTINCT ON (location_id, item_id) ` + reconciliationColumns +
		` FROM reconciliation_results` + w.String() +
		` ORDER BY location_id, item_id, window_end DESC, computed_at DESC`

	results := []domain.ReconciliationResult{}
	if err := r.db.SelectContext(ctx, &results, query, w.args...); err != nil {
		return nil, err
	}
	return results, nil
}

// History returns up to limit results for the unit, newest window first.
func (r *ReconciliationRepository) History(ctx context.Context, itemID, locationID string, limit int) ([]domain.ReconciliationResult, error) {
	if !validID(itemID) {
		return []domain.ReconciliationResult{}, nil
	}

	w := &where{}
	w.add("item_id = ?", itemID)
	w.add("location_id = ?", locationID)
	query := `SELECT ` + reconciliationColumns + ` FROM reconciliation_results` + w.String() +
		` ORDER BY window_end DESC, computed_at DESC` + w.page(limit, 0)

	results := []domain.ReconciliationResult{}
	if err := r.db.SelectContext(ctx, &results, query, w.args...); err != nil {
		return nil, err
	}
	return results, nil
}
