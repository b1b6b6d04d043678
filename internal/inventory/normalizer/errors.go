package normalizer

import (
	"errors"
	"fmt"
)

// Failure reasons. Each is also the quarantine reason code.
var (
	ErrUnresolvedItem       = errors.New("unresolved_item")
	ErrResolutionAmbiguous  = errors.New("resolution_ambiguous")
	ErrInvalidQuantitySign  = errors.New("invalid_quantity_sign")
	ErrImplausibleTimestamp = errors.New("implausible_timestamp")
	ErrMissingReason        = errors.New("missing_reason")
	ErrUnmappedDevice       = errors.New("unmapped_device")
	ErrUnsupportedEvent     = errors.New("unsupported_event")
)

// Error describes why a raw event could not become movements.
type Error struct {
	Reason error
	Detail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Reason
}

func fail(reason error, format string, args ...any) *Error {
	return &Error{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Reason returns the quarantine reason code for err, or "internal" when err
// did not come from normalization.
func Reason(err error) string {
	var nerr *Error
	if errors.As(err, &nerr) {
		return nerr.Reason.Error()
	}
	return "internal"
}
