package database

import (
	"strings"

	"github.com/barledger/barledger-backend/pkg/errors"
	"github.com/lib/pq"
)

// MapPQError converts a PostgreSQL error to an AppError with meaningful messages.
// Returns nil if the error is not a pq.Error.
func MapPQError(err error) *errors.AppError {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return nil
	}

	switch pqErr.Code {
	case "23514": // check_violation
		return mapCheckConstraint(pqErr)
	case "23505": // unique_violation
		return mapUniqueConstraint(pqErr)
	case "23503": // foreign_key_violation
		return errors.BadRequest("referenced record does not exist")
	case "23502": // not_null_violation
		col := pqErr.Column
		if col == "" {
			col = "required field"
		}
		return errors.Validation(map[string]string{col: "must not be empty"})
	default:
		return nil
	}
}

// IsUniqueViolation reports whether err is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func mapCheckConstraint(pqErr *pq.Error) *errors.AppError {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "movement_kind_valid"):
		return errors.Validation(map[string]string{
			"kind": "must be one of: purchase, sale, pour, wastage, adjustment",
		})
	case strings.Contains(constraint, "review_state_valid"):
		return errors.Validation(map[string]string{
			"review_state": "must be one of: open, dismissed",
		})
	case strings.Contains(constraint, "par_threshold_positive"):
		return errors.Validation(map[string]string{
			"par_threshold": "must not be negative",
		})
	default:
		return errors.BadRequest("data validation failed: " + constraint)
	}
}

// mapUniqueConstraint names the clashing field in the details when the
// constraint is known.
func mapUniqueConstraint(pqErr *pq.Error) *errors.AppError {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "tracked_items_location_sku"):
		return errors.Conflict("an item with this SKU already exists at this location").
			WithDetails(map[string]string{"sku": "already exists at this location"})
	case strings.Contains(constraint, "pour_devices"):
		return errors.Conflict("this device is already mapped").
			WithDetails(map[string]string{"device_id": "already mapped"})
	case strings.Contains(constraint, "recipes_location_name"):
		return errors.Conflict("a recipe with this name already exists at this location").
			WithDetails(map[string]string{"name": "already exists at this location"})
	default:
		return errors.Conflict("a record with these values already exists")
	}
}
