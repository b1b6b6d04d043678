package domain

import "errors"

var (
	ErrItemNotFound    = errors.New("tracked item not found")
	ErrItemInactive    = errors.New("tracked item is inactive")
	ErrAnomalyNotFound = errors.New("anomaly not found")
	ErrAlreadyReviewed = errors.New("anomaly already dismissed")
	ErrInvalidWindow   = errors.New("window end must be after start")
	ErrDeviceNotMapped = errors.New("device is not mapped to an item")
	ErrNoResult        = errors.New("no result computed yet")
)
