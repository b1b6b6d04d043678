package repository

import (
	"context"
	"database/sql"

	"github.com/barledger/barledger-backend/internal/inventory/domain"
	"github.com/barledger/barledger-backend/pkg/database"
	"github.com/barledger/barledger-backend/pkg/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const itemColumns = `id, location_id, name, sku, base_unit, par_threshold, unit_cost_cents, is_active, auto_created, created_at, updated_at`

// ItemRepository handles tracked item persistence
type ItemRepository struct {
	db *database.DB
}

// NewItemRepository creates a new item repository
func NewItemRepository(db *database.DB) *ItemRepository {
	return &ItemRepository{db: db}
}

// CreateItem creates a new tracked item
func (r *ItemRepository) CreateItem(ctx context.Context, item *domain.TrackedItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.BaseUnit == "" {
		item.BaseUnit = domain.UnitMilliliter
	}

	query := `
		INSERT INTO tracked_items (
			id, location_id, name, sku, base_unit, par_threshold, unit_cost_cents, is_active, auto_created
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRowxContext(ctx, query,
		item.ID, item.LocationID, item.Name, item.SKU, item.BaseUnit, item.ParThreshold,
		item.UnitCostCents, item.IsActive, item.AutoCreated,
	).Scan(&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}
	return nil
}

// GetItem gets an item by ID
func (r *ItemRepository) GetItem(ctx context.Context, id string) (*domain.TrackedItem, error) {
	if !validID(id) {
		return nil, domain.ErrItemNotFound
	}

	var item domain.TrackedItem
	query := `SELECT ` + itemColumns + ` FROM tracked_items WHERE id = $1`
	if err := r.db.GetContext(ctx, &item, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrItemNotFound
		}
		return nil, err
	}
	return &item, nil
}

// ListItems lists the items of a location by name. An empty location lists all.
func (r *ItemRepository) ListItems(ctx context.Context, locationID string, activeOnly bool) ([]domain.TrackedItem, error) {
	w := &where{}
	if locationID != "" {
		w.add("location_id = ?", locationID)
	}
	if activeOnly {
		w.conds = append(w.conds, "is_active")
	}

	query := `SELECT ` + itemColumns + ` FROM tracked_items` + w.String() + ` ORDER BY lower(name), id`

	items := []domain.TrackedItem{}
	if err := r.db.SelectContext(ctx, &items, query, w.args...); err != nil {
		return nil, err
	}
	return items, nil
}

// SetParThreshold stores an operator par. An invalid NullDecimal clears it.
func (r *ItemRepository) SetParThreshold(ctx context.Context, id string, par decimal.NullDecimal) (*domain.TrackedItem, error) {
	if !validID(id) {
		return nil, domain.ErrItemNotFound
	}

	query := `
		UPDATE tracked_items SET par_threshold = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + itemColumns

	var item domain.TrackedItem
	if err := r.db.GetContext(ctx, &item, query, id, par); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrItemNotFound
		}
		if appErr := database.MapPQError(err); appErr != nil {
			return nil, appErr
		}
		return nil, err
	}
	return &item, nil
}

// Deactivate hides an item from sweeps and matching. Its movements stay.
func (r *ItemRepository) Deactivate(ctx context.Context, id string) error {
	if !validID(id) {
		return domain.ErrItemNotFound
	}

	result, err := r.db.ExecContext(ctx, `UPDATE tracked_items SET is_active = false, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return domain.ErrItemNotFound
	}
	return nil
}
