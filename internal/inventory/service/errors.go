package service

import (
	"net/http"

	"github.com/barledger/barledger-backend/internal/inventory/domain"
	"github.com/barledger/barledger-backend/pkg/errors"
)

// ErrSweepInProgress is returned when another full sweep holds the lock.
var ErrSweepInProgress = errors.New("SWEEP_IN_PROGRESS", "an analysis sweep is already running", http.StatusConflict)

// mapError turns store sentinels into API errors. AppErrors and unknown
// errors pass through.
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrItemNotFound):
		return errors.NotFound("item")
	case errors.Is(err, domain.ErrAnomalyNotFound):
		return errors.NotFound("anomaly")
	case errors.Is(err, domain.ErrDeviceNotMapped):
		return errors.NotFound("device")
	case errors.Is(err, domain.ErrAlreadyReviewed):
		return errors.Conflict("anomaly already dismissed")
	case errors.Is(err, domain.ErrItemInactive):
		return errors.Conflict("item is inactive")
	case errors.Is(err, domain.ErrInvalidWindow):
		return errors.BadRequest(err.Error())
	}
	return err
}
