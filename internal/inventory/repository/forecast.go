package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/barledger/barledger-backend/internal/inventory/domain"
	"github.com/barledger/barledger-backend/pkg/database"
	"github.com/barledger/barledger-backend/pkg/errors"
	"github.com/shopspring/decimal"
)

const forecastColumns = `item_id, location_id, state, daily_average, orders_per_week, trend, days_tracked,
	order_count, total_ordered, pars, configured_par, error, computed_at`

type forecastRow struct {
	ItemID        string              `db:"item_id"`
	LocationID    string              `db:"location_id"`
	State         domain.ResultState  `db:"state"`
	DailyAverage  decimal.Decimal     `db:"daily_average"`
	OrdersPerWeek decimal.Decimal     `db:"orders_per_week"`
	Trend         domain.Trend        `db:"trend"`
	DaysTracked   int                 `db:"days_tracked"`
	OrderCount    int                 `db:"order_count"`
	TotalOrdered  decimal.Decimal     `db:"total_ordered"`
	Pars          []byte              `db:"pars"`
	ConfiguredPar decimal.NullDecimal `db:"configured_par"`
	Error         *string             `db:"error"`
	ComputedAt    time.Time           `db:"computed_at"`
}

func (row forecastRow) toDomain() (domain.ParForecast, error) {
	f := domain.ParForecast{
		ItemID:        row.ItemID,
		LocationID:    row.LocationID,
		State:         row.State,
		DailyAverage:  row.DailyAverage,
		OrdersPerWeek: row.OrdersPerWeek,
		Trend:         row.Trend,
		DaysTracked:   row.DaysTracked,
		OrderCount:    row.OrderCount,
		TotalOrdered:  row.TotalOrdered,
		ConfiguredPar: row.ConfiguredPar,
		Error:         row.Error,
		ComputedAt:    row.ComputedAt,
	}
	if err := json.Unmarshal(row.Pars, &f.Pars); err != nil {
		return domain.ParForecast{}, fmt.Errorf("decode pars of %s: %w", row.ItemID, err)
	}
	return f, nil
}

// ForecastRepository keeps the latest forecast per unit.
type ForecastRepository struct {
	db *database.DB
}

// NewForecastRepository creates a new forecast repository
func NewForecastRepository(db *database.DB) *ForecastRepository {
	return &ForecastRepository{db: db}
}

// Upsert replaces the forecast of the unit.
func (r *ForecastRepository) Upsert(ctx context.Context, f *domain.ParForecast) error {
	pars := f.Pars
	if pars == nil {
		pars = map[int]int64{}
	}
	encoded, err := json.Marshal(pars)
	if err != nil {
		return fmt.Errorf("encode pars: %w", err)
	}

	query := `
		INSERT INTO par_forecasts (` + forecastColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (item_id, location_id) DO UPDATE SET
			state = EXCLUDED.state,
			daily_average = EXCLUDED.daily_average,
			orders_per_week = EXCLUDED.orders_per_week,
			trend = EXCLUDED.trend,
			days_tracked = EXCLUDED.days_tracked,
			order_count = EXCLUDED.order_count,
			total_ordered = EXCLUDED.total_ordered,
			pars = EXCLUDED.pars,
			configured_par = EXCLUDED.configured_par,
			error = EXCLUDED.error,
			computed_at = EXCLUDED.computed_at
	`
	_, err = r.db.ExecContext(ctx, query,
		f.ItemID, f.LocationID, string(f.State), f.DailyAverage, f.OrdersPerWeek, string(f.Trend),
		f.DaysTracked, f.OrderCount, f.TotalOrdered, string(encoded), f.ConfiguredPar, f.Error, f.ComputedAt,
	)
	return err
}

// Get returns domain.ErrNoResult when the unit has no forecast yet.
func (r *ForecastRepository) Get(ctx context.Context, itemID, locationID string) (*domain.ParForecast, error) {
	if !validID(itemID) {
		return nil, domain.ErrNoResult
	}

	var row forecastRow
	query := `SELECT ` + forecastColumns + ` FROM par_forecasts WHERE item_id = $1 AND location_id = $2`
	if err := r.db.GetContext(ctx, &row, query, itemID, locationID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNoResult
		}
		return nil, err
	}
	f, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// List lists the forecasts of a location. An empty location lists all.
func (r *ForecastRepository) List(ctx context.Context, locationID string) ([]domain.ParForecast, error) {
	w := &where{}
	if locationID != "" {
		w.add("location_id = ?", locationID)
	}
	query := `SELECT ` + forecastColumns + ` FROM par_forecasts` + w.String() + ` ORDER BY location_id, item_id`

	var rows []forecastRow
	if err := r.db.SelectContext(ctx, &rows, query, w.args...); err != nil {
		return nil, err
	}

	forecasts := make([]domain.ParForecast, 0, len(rows))
	for _, row := range rows {
		f, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		forecasts = append(forecasts, f)
	}
	return forecasts, nil
}
