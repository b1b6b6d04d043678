package repository

import (
	"context"
	"database/sql"

	"github.com/barledger/barledger-backend/internal/inventory/domain"
	"github.com/barledger/barledger-backend/pkg/database"
	"github.com/barledger/barledger-backend/pkg/errors"
)

const deviceColumns = `device_id, item_id, location_id, is_active, updated_at`

// DeviceRepository maps smart-pourers to items.
type DeviceRepository struct {
	db *database.DB
}

// NewDeviceRepository creates a new device repository
func NewDeviceRepository(db *database.DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

// DeviceMapping returns domain.ErrDeviceNotMapped for unknown devices.
func (r *DeviceRepository) DeviceMapping(ctx context.Context, deviceID string) (*domain.DeviceMapping, error) {
	var m domain.DeviceMapping
	query := `SELECT ` + deviceColumns + ` FROM pour_devices WHERE device_id = $1`
	if err := r.db.GetContext(ctx, &m, query, deviceID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrDeviceNotMapped
		}
		return nil, err
	}
	return &m, nil
}

// UpsertDevice creates or remaps a device.
func (r *DeviceRepository) UpsertDevice(ctx context.Context, m *domain.DeviceMapping) error {
	query := `
		INSERT INTO pour_devices (device_id, item_id, location_id, is_active)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (device_id) DO UPDATE SET
			item_id = EXCLUDED.item_id,
			location_id = EXCLUDED.location_id,
			is_active = EXCLUDED.is_active,
			updated_at = NOW()
		RETURNING updated_at
	`
	err := r.db.QueryRowxContext(ctx, query, m.DeviceID, m.ItemID, m.LocationID, m.IsActive).Scan(&m.UpdatedAt)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}
	return nil
}

// ListDevices lists the devices of a location. An empty location lists all.
func (r *DeviceRepository) ListDevices(ctx context.Context, locationID string) ([]domain.DeviceMapping, error) {
	w := &where{}
	if locationID != "" {
		w.add("location_id = ?", locationID)
	}
	query := `SELECT ` + deviceColumns + ` FROM pour_devices` + w.String() + ` ORDER BY device_id`

	devices := []domain.DeviceMapping{}
	if err := r.db.SelectContext(ctx, &devices, query, w.args...); err != nil {
		return nil, err
	}
	return devices, nil
}

// HasPourDevice reports whether an active device dispenses the item at the location.
func (r *DeviceRepository) HasPourDevice(ctx context.Context, itemID, locationID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM pour_devices WHERE item_id = $1 AND location_id = $2 AND is_active)`
	if err := r.db.GetContext(ctx, &exists, query, itemID, locationID); err != nil {
		return false, err
	}
	return exists, nil
}
