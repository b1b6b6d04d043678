package service

import (
	"context"
	"strings"
	"time"

	"github.com/barledger/barledger-backend/internal/inventory/domain"
	"github.com/barledger/barledger-backend/pkg/errors"
	"github.com/barledger/barledger-backend/pkg/logger"
)

// DismissRequest records an operator's review of an anomaly.
type DismissRequest struct {
	Note string `json:"note" validate:"max=1000"`
}

// AnomalyService serves anomaly records and their review workflow.
type AnomalyService struct {
	anomalies AnomalyStore
	logger    *logger.Logger
	now       func() time.Time
}

// NewAnomalyService creates a new anomaly service
func NewAnomalyService(anomalies AnomalyStore, log *logger.Logger) *AnomalyService {
	return &AnomalyService{
		anomalies: anomalies,
		logger:    log.WithComponent("anomaly-review"),
		now:       time.Now,
	}
}

// WithClock replaces the clock used for review timestamps.
func (s *AnomalyService) WithClock(now func() time.Time) *AnomalyService {
	s.now = now
	return s
}

// List lists anomalies, newest first.
func (s *AnomalyService) List(ctx context.Context, f domain.AnomalyFilter) ([]domain.AnomalyRecord, error) {
	details := map[string]string{}
	switch f.Type {
	case "", domain.AnomalyRapidRepeatPour, domain.AnomalyOutOfRangeVolume, domain.AnomalyOffHoursActivity,
		domain.AnomalyDeviceErrorBurst, domain.AnomalyStockMismatch:
	default:
		details["type"] = "unknown anomaly type " + string(f.Type)
	}
	switch f.ReviewState {
	case "", domain.ReviewOpen, domain.ReviewDismissed:
	default:
		details["state"] = "must be open or dismissed"
	}
	if len(details) > 0 {
		return nil, errors.Validation(details)
	}
	return s.anomalies.List(ctx, f)
}

// Get gets an anomaly by ID
func (s *AnomalyService) Get(ctx context.Context, id string) (*domain.AnomalyRecord, error) {
	a, err := s.anomalies.Get(ctx, id)
	if err != nil {
		return nil, mapError(err)
	}
	return a, nil
}

// Dismiss closes an open anomaly. Dismissal is final: later sweeps that
// see the same evidence do not reopen it.
func (s *AnomalyService) Dismiss(ctx context.Context, id, reviewer string, req *DismissRequest) (*domain.AnomalyRecord, error) {
	reviewer = strings.TrimSpace(reviewer)
	if reviewer == "" {
		return nil, errors.Validation(map[string]string{"reviewer": "is required"})
	}

	a, err := s.anomalies.Dismiss(ctx, id, reviewer, strings.TrimSpace(req.Note), s.now().UTC())
	if err != nil {
		return nil, mapError(err)
	}

	s.logger.Info().
		Str("anomaly_id", a.ID).
		Str("type", string(a.Type)).
		Str("reviewer", reviewer).
		Msg("anomaly dismissed")
	return a, nil
}
