package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/barledger/barledger-backend/internal/inventory/domain"
	"github.com/barledger/barledger-backend/internal/inventory/repository"
	"github.com/barledger/barledger-backend/pkg/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const anomalyID = "0b7e1f0c-3a0e-4c1a-9d54-6c2a8f0e9b11"

var anomalyRowColumns = []string{"id", "anomaly_type", "severity", "item_id", "location_id", "device_id",
	"evidence", "fingerprint", "detected_at", "review_state", "reviewed_by", "review_note", "reviewed_at"}

func TestAnomalyRepository_InsertIfAbsent(t *testing.T) {
	mockDB, db := newMockRepoDB(t)
	repo := repository.NewAnomalyRepository(db)

	rec := &domain.AnomalyRecord{
		Type:        domain.AnomalyRapidRepeatPour,
		Severity:    domain.SeverityWarning,
		LocationID:  testutil.FixtureLocation,
		DeviceID:    strPtr("dev-1"),
		Evidence:    domain.Evidence{MovementIDs: []string{"m-1", "m-2"}, Metric: "interval_seconds", Value: decimal.NewFromInt(20)},
		Fingerprint: "abc",
		DetectedAt:  time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC),
	}

	mockDB.ExpectExec("ON CONFLICT (anomaly_type, fingerprint) DO NOTHING").
		WithArgs(testutil.AnyUUID{}, "rapid-repeat-pour", "warning", nil, testutil.FixtureLocation, "dev-1",
			`{"movement_ids":["m-1","m-2"],"metric":"interval_seconds","value":"20"}`, "abc", testutil.AnyTime{}, "open").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.ExpectExec("ON CONFLICT (anomaly_type, fingerprint) DO NOTHING").
		WillReturnResult(sqlmock.NewResult(0, 0))

	inserted, err := repo.InsertIfAbsent(context.Background(), rec)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, domain.ReviewOpen, rec.ReviewState)

	again := *rec
	again.ID = ""
	inserted, err = repo.InsertIfAbsent(context.Background(), &again)
	require.NoError(t, err)
	assert.False(t, inserted)
}

func TestAnomalyRepository_List_DecodesEvidence(t *testing.T) {
	mockDB, db := newMockRepoDB(t)
	repo := repository.NewAnomalyRepository(db)
	at := time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC)

	mockDB.ExpectQuery("FROM anomalies WHERE location_id = $1 AND review_state = $2 ORDER BY detected_at DESC, id LIMIT $3").
		WithArgs(testutil.FixtureLocation, "open", 20).
		WillReturnRows(testutil.MockRows(anomalyRowColumns...).
			AddRow(anomalyID, "out-of-range-volume", "critical", itemID, testutil.FixtureLocation, "dev-1",
				[]byte(`{"movement_ids":["m-7"],"metric":"volume_ml","value":"151"}`), "fp", at, "open", nil, nil, nil))

	records, err := repo.List(context.Background(), domain.AnomalyFilter{
		LocationID:  testutil.FixtureLocation,
		ReviewState: domain.ReviewOpen,
		Limit:       20,
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, domain.SeverityCritical, records[0].Severity)
	assert.Equal(t, []string{"m-7"}, records[0].Evidence.MovementIDs)
	assert.True(t, records[0].Evidence.Value.Equal(decimal.NewFromInt(151)))
}

func TestAnomalyRepository_Dismiss(t *testing.T) {
	at := time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)
	dismissedRow := func() *sqlmock.Rows {
		return testutil.MockRows(anomalyRowColumns...).
			AddRow(anomalyID, "off-hours-activity", "warning", nil, testutil.FixtureLocation, "dev-1",
				[]byte(`{"movement_ids":["m-1"],"metric":"local_time","value":"0"}`), "fp", at, "dismissed", "manager-1", "cleaning", at)
	}

	const lockQuery = "SELECT review_state FROM anomalies WHERE id = $1 FOR UPDATE"

	t.Run("open record", func(t *testing.T) {
		mockDB, db := newMockRepoDB(t)
		repo := repository.NewAnomalyRepository(db)

		mockDB.ExpectBegin()
		mockDB.ExpectQuery(lockQuery).
			WithArgs(anomalyID).
			WillReturnRows(testutil.MockRows("review_state").AddRow("open"))
		mockDB.ExpectQuery("UPDATE anomalies").
			WithArgs(anomalyID, "manager-1", "cleaning", testutil.AnyTime{}).
			WillReturnRows(dismissedRow())
		mockDB.ExpectCommit()

		rec, err := repo.Dismiss(context.Background(), anomalyID, "manager-1", "cleaning", at)
		require.NoError(t, err)
		assert.Equal(t, domain.ReviewDismissed, rec.ReviewState)
		assert.Equal(t, "manager-1", *rec.ReviewedBy)
	})

	t.Run("already dismissed", func(t *testing.T) {
		mockDB, db := newMockRepoDB(t)
		repo := repository.NewAnomalyRepository(db)

		mockDB.ExpectBegin()
		mockDB.ExpectQuery(lockQuery).
			WithArgs(anomalyID).
			WillReturnRows(testutil.MockRows("review_state").AddRow("dismissed"))
		mockDB.ExpectRollback()

		_, err := repo.Dismiss(context.Background(), anomalyID, "manager-1", "", at)
		assert.ErrorIs(t, err, domain.ErrAlreadyReviewed)
	})

	t.Run("unknown record", func(t *testing.T) {
		mockDB, db := newMockRepoDB(t)
		repo := repository.NewAnomalyRepository(db)

		mockDB.ExpectBegin()
		mockDB.ExpectQuery(lockQuery).
			WithArgs(anomalyID).
			WillReturnRows(testutil.MockRows("review_state"))
		mockDB.ExpectRollback()

		_, err := repo.Dismiss(context.Background(), anomalyID, "manager-1", "", at)
		assert.ErrorIs(t, err, domain.ErrAnomalyNotFound)
	})

	t.Run("failed update rolls back", func(t *testing.T) {
		mockDB, db := newMockRepoDB(t)
		repo := repository.NewAnomalyRepository(db)

		mockDB.ExpectBegin()
		mockDB.ExpectQuery(lockQuery).
			WithArgs(anomalyID).
			WillReturnRows(testutil.MockRows("review_state").AddRow("open"))
		mockDB.ExpectQuery("UPDATE anomalies").
			WillReturnError(errors.New("connection reset"))
		mockDB.ExpectRollback()

		_, err := repo.Dismiss(context.Background(), anomalyID, "manager-1", "", at)
		assert.EqualError(t, err, "connection reset")
	})
}

var reconciliationRowColumns = []string{"item_id", "location_id", "window_start", "window_end", "as_of",
	"produced_qty", "system_sold_qty", "physical_dispensed_qty", "variance", "variance_percent",
	"status", "state", "error", "computed_at"}

func TestReconciliationRepository_Latest(t *testing.T) {
	end := time.Date(2026, 3, 3, 6, 0, 0, 0, time.UTC)

	t.Run("insufficient data keeps nulls", func(t *testing.T) {
		mockDB, db := newMockRepoDB(t)
		repo := repository.NewReconciliationRepository(db)

		mockDB.ExpectQuery("FROM reconciliation_results").
			WithArgs(itemID, testutil.FixtureLocation).
			WillReturnRows(testutil.MockRows(reconciliationRowColumns...).
				AddRow(itemID, testutil.FixtureLocation, end.Add(-24*time.Hour), end, end, "0", "100",
					nil, nil, nil, "insufficient-data", "computed", nil, end))

		res, err := repo.Latest(context.Background(), itemID, testutil.FixtureLocation)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusInsufficientData, res.Status)
		assert.False(t, res.PhysicalDispensed.Valid)
		assert.Nil(t, res.VariancePercent)
	})

	t.Run("never reconciled", func(t *testing.T) {
		mockDB, db := newMockRepoDB(t)
		repo := repository.NewReconciliationRepository(db)

		mockDB.ExpectQuery("FROM reconciliation_results").
			WillReturnRows(testutil.MockRows(reconciliationRowColumns...))

		_, err := repo.Latest(context.Background(), itemID, testutil.FixtureLocation)
		assert.ErrorIs(t, err, domain.ErrNoResult)
	})
}

func TestReconciliationRepository_Upsert(t *testing.T) {
	mockDB, db := newMockRepoDB(t)
	repo := repository.NewReconciliationRepository(db)
	end := time.Date(2026, 3, 3, 6, 0, 0, 0, time.UTC)
	pct := int64(-12)

	mockDB.ExpectExec("ON CONFLICT (item_id, location_id, window_start, window_end) DO UPDATE").
		WithArgs(itemID, testutil.FixtureLocation, testutil.AnyTime{}, testutil.AnyTime{}, testutil.AnyTime{},
			"0", "100", "88", "-12", int64(-12), "shortage", "computed", nil, testutil.AnyTime{}).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Upsert(context.Background(), &domain.ReconciliationResult{
		ItemID:            itemID,
		LocationID:        testutil.FixtureLocation,
		WindowStart:       end.Add(-24 * time.Hour),
		WindowEnd:         end,
		AsOf:              end,
		Produced:          decimal.Zero,
		SystemSold:        decimal.NewFromInt(100),
		PhysicalDispensed: decimal.NewNullDecimal(decimal.NewFromInt(88)),
		Variance:          decimal.NewNullDecimal(decimal.NewFromInt(-12)),
		VariancePercent:   &pct,
		Status:            domain.StatusShortage,
		State:             domain.StateComputed,
		ComputedAt:        end,
	})
	require.NoError(t, err)
}

func TestForecastRepository_Get(t *testing.T) {
	columns := []string{"item_id", "location_id", "state", "daily_average", "orders_per_week", "trend",
		"days_tracked", "order_count", "total_ordered", "pars", "configured_par", "error", "computed_at"}
	now := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	t.Run("decodes pars", func(t *testing.T) {
		mockDB, db := newMockRepoDB(t)
		repo := repository.NewForecastRepository(db)

		mockDB.ExpectQuery("FROM par_forecasts WHERE item_id = $1 AND location_id = $2").
			WithArgs(itemID, testutil.FixtureLocation).
			WillReturnRows(testutil.MockRows(columns...).
				AddRow(itemID, testutil.FixtureLocation, "computed", "1.7143", "1", "rising", 21, 3, "36",
					[]byte(`{"3":6,"7":12,"14":24,"30":52}`), nil, nil, now))

		f, err := repo.Get(context.Background(), itemID, testutil.FixtureLocation)
		require.NoError(t, err)
		assert.Equal(t, map[int]int64{3: 6, 7: 12, 14: 24, 30: 52}, f.Pars)
		assert.Equal(t, domain.TrendRising, f.Trend)
		assert.False(t, f.ConfiguredPar.Valid)
	})

	t.Run("no forecast yet", func(t *testing.T) {
		mockDB, db := newMockRepoDB(t)
		repo := repository.NewForecastRepository(db)

		mockDB.ExpectQuery("FROM par_forecasts").
			WillReturnRows(testutil.MockRows(columns...))

		_, err := repo.Get(context.Background(), itemID, testutil.FixtureLocation)
		assert.ErrorIs(t, err, domain.ErrNoResult)
	})
}

func TestQuarantineRepository_List(t *testing.T) {
	mockDB, db := newMockRepoDB(t)
	repo := repository.NewQuarantineRepository(db)
	at := time.Date(2026, 3, 2, 22, 0, 0, 0, time.UTC)

	mockDB.ExpectQuery("FROM quarantined_events WHERE source = $1 ORDER BY received_at DESC, id LIMIT $2").
		WithArgs("pos", 50).
		WillReturnRows(testutil.MockRows("id", "source", "source_ref", "payload", "reason", "error", "received_at").
			AddRow("q-1", "pos", "ticket-9", []byte(`{"product":"Mystery"}`), "no-recipe", "no recipe for Mystery", at))

	events, err := repo.List(context.Background(), "pos", 50, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.JSONEq(t, `{"product":"Mystery"}`, string(events[0].Payload))
}
