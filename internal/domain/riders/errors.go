package riders

import (
	"errors"
	"fmt"

	"github.com/ridelink/loyalty-service/internal/domain/loyalty"
)

var (
	// ErrValidation marks a malformed payload. Never retried.
	ErrValidation = fmt.Errorf("invalid event payload")

	// ErrRiderNotFound is returned when an operation requires an existing rider.
	ErrRiderNotFound = fmt.Errorf("rider not found")

	// ErrInsufficientPoints rejects a redemption larger than the balance.
	ErrInsufficientPoints = fmt.Errorf("insufficient points balance")
)

// IsTerminal reports whether an error is a validation or business-rule
// rejection that must not be retried. Anything else is treated as a
// transient persistence failure.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrRiderNotFound) ||
		errors.Is(err, ErrInsufficientPoints) ||
		errors.Is(err, loyalty.ErrNegativeRideCount) ||
		errors.Is(err, loyalty.ErrNegativeAmount) ||
		errors.Is(err, loyalty.ErrUnknownStatus)
}
