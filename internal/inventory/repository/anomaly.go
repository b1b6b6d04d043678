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
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const anomalyColumns = `id, anomaly_type, severity, item_id, location_id, device_id, evidence, fingerprint,
	detected_at, review_state, reviewed_by, review_note, reviewed_at`

type anomalyRow struct {
	ID          string             `db:"id"`
	Type        domain.AnomalyType `db:"anomaly_type"`
	Severity    domain.Severity    `db:"severity"`
	ItemID      *string            `db:"item_id"`
	LocationID  string             `db:"location_id"`
	DeviceID    *string            `db:"device_id"`
	Evidence    []byte             `db:"evidence"`
	Fingerprint string             `db:"fingerprint"`
	DetectedAt  time.Time          `db:"detected_at"`
	ReviewState domain.ReviewState `db:"review_state"`
	ReviewedBy  *string            `db:"reviewed_by"`
	ReviewNote  *string            `db:"review_note"`
	ReviewedAt  *time.Time         `db:"reviewed_at"`
}

func (row anomalyRow) toDomain() (domain.AnomalyRecord, error) {
	rec := domain.AnomalyRecord{
		ID:          row.ID,
		Type:        row.Type,
		Severity:    row.Severity,
		ItemID:      row.ItemID,
		LocationID:  row.LocationID,
		DeviceID:    row.DeviceID,
		Fingerprint: row.Fingerprint,
		DetectedAt:  row.DetectedAt,
		ReviewState: row.ReviewState,
		ReviewedBy:  row.ReviewedBy,
		ReviewNote:  row.ReviewNote,
		ReviewedAt:  row.ReviewedAt,
	}
	if err := json.Unmarshal(row.Evidence, &rec.Evidence); err != nil {
		return domain.AnomalyRecord{}, fmt.Errorf("decode evidence of anomaly %s: %w", row.ID, err)
	}
	return rec, nil
}

// AnomalyRepository handles anomaly persistence
type AnomalyRepository struct {
	db *database.DB
}

// NewAnomalyRepository creates a new anomaly repository
func NewAnomalyRepository(db *database.DB) *AnomalyRepository {
	return &AnomalyRepository{db: db}
}

// InsertIfAbsent stores a unless (type, fingerprint) already exists, open
// or dismissed. It reports whether a row was written.
func (r *AnomalyRepository) InsertIfAbsent(ctx context.Context, a *domain.AnomalyRecord) (bool, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.ReviewState == "" {
		a.ReviewState = domain.ReviewOpen
	}
	evidence, err := json.Marshal(a.Evidence)
	if err != nil {
		return false, fmt.Errorf("encode evidence: %w", err)
	}

	query := `
		INSERT INTO anomalies (
			id, anomaly_type, severity, item_id, location_id, device_id, evidence, fingerprint,
			detected_at, review_state
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (anomaly_type, fingerprint) DO NOTHING
	`
	result, err := r.db.ExecContext(ctx, query,
		a.ID, string(a.Type), string(a.Severity), a.ItemID, a.LocationID, a.DeviceID,
		string(evidence), a.Fingerprint, a.DetectedAt, string(a.ReviewState),
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

// Get gets an anomaly by ID
func (r *AnomalyRepository) Get(ctx context.Context, id string) (*domain.AnomalyRecord, error) {
	if !validID(id) {
		return nil, domain.ErrAnomalyNotFound
	}

	var row anomalyRow
	if err := r.db.GetContext(ctx, &row, `SELECT `+anomalyColumns+` FROM anomalies WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrAnomalyNotFound
		}
		return nil, err
	}
	rec, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// List lists anomalies newest first.
func (r *AnomalyRepository) List(ctx context.Context, f domain.AnomalyFilter) ([]domain.AnomalyRecord, error) {
	w := &where{}
	if f.LocationID != "" {
		w.add("location_id = ?", f.LocationID)
	}
	if f.ItemID != "" {
		if !validID(f.ItemID) {
			return []domain.AnomalyRecord{}, nil
		}
		w.add("item_id = ?", f.ItemID)
	}
	if f.DeviceID != "" {
		w.add("device_id = ?", f.DeviceID)
	}
	if f.Type != "" {
		w.add("anomaly_type = ?", string(f.Type))
	}
	if f.ReviewState != "" {
		w.add("review_state = ?", string(f.ReviewState))
	}
	query := `SELECT ` + anomalyColumns + ` FROM anomalies` + w.String() +
		` ORDER BY detected_at DESC, id` + w.page(f.Limit, f.Offset)

	var rows []anomalyRow
	if err := r.db.SelectContext(ctx, &rows, query, w.args...); err != nil {
		return nil, err
	}

	records := make([]domain.AnomalyRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// Dismiss moves an open anomaly to dismissed. The row is locked while its
// state is checked, so of two concurrent dismissals one wins and the
// other gets domain.ErrAlreadyReviewed.
func (r *AnomalyRepository) Dismiss(ctx context.Context, id, reviewer, note string, at time.Time) (*domain.AnomalyRecord, error) {
	if !validID(id) {
		return nil, domain.ErrAnomalyNotFound
	}

	var notePtr *string
	if note != "" {
		notePtr = &note
	}

	var rec domain.AnomalyRecord
	err := r.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		var state domain.ReviewState
		err := tx.GetContext(ctx, &state, `SELECT review_state FROM anomalies WHERE id = $1 FOR UPDATE`, id)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrAnomalyNotFound
		}
		if err != nil {
			return err
		}
		if state != domain.ReviewOpen {
			return domain.ErrAlreadyReviewed
		}

		query := `
			UPDATE anomalies
			SET review_state = 'dismissed', reviewed_by = $2, review_note = $3, reviewed_at = $4
			WHERE id = $1
			RETURNING ` + anomalyColumns

		var row anomalyRow
		if err := tx.GetContext(ctx, &row, query, id, reviewer, notePtr, at); err != nil {
			return err
		}
		rec, err = row.toDomain()
		return err
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
