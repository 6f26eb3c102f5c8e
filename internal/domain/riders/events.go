package riders

import (
	"fmt"
	"regexp"
)

// Ids come from the upstream mobility platform and are 24-char hex strings.
var idPattern = regexp.MustCompile(`^[0-9a-fA-F]{24}$`)

const minNameLength = 6

// ValidateID checks the upstream id format.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: malformed id %q", ErrValidation, id)
	}
	return nil
}

// SignupEvent announces a new rider account.
type SignupEvent struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (e SignupEvent) Validate() error {
	if err := ValidateID(e.ID); err != nil {
		return err
	}
	if len(e.Name) < minNameLength {
		return fmt.Errorf("%w: name must be at least %d characters", ErrValidation, minNameLength)
	}
	return nil
}

// RideCreatedEvent announces a ride that has been booked.
type RideCreatedEvent struct {
	ID      string `json:"id"`
	RiderID string `json:"rider_id"`
	Amount  int64  `json:"amount"`
}

func (e RideCreatedEvent) Validate() error {
	if err := ValidateID(e.ID); err != nil {
		return err
	}
	if err := ValidateID(e.RiderID); err != nil {
		return err
	}
	if e.Amount < 0 {
		return fmt.Errorf("%w: amount must not be negative", ErrValidation)
	}
	return nil
}

// RideCompletedEvent announces a finished ride; it carries the fare that
// the point award is computed from.
type RideCompletedEvent struct {
	ID        string `json:"id"`
	RiderID   string `json:"rider_id"`
	Amount    int64  `json:"amount"`
	CreatedAt string `json:"created_at,omitempty"`
}

func (e RideCompletedEvent) Validate() error {
	if err := ValidateID(e.ID); err != nil {
		return err
	}
	if err := ValidateID(e.RiderID); err != nil {
		return err
	}
	if e.Amount < 0 {
		return fmt.Errorf("%w: amount must not be negative", ErrValidation)
	}
	return nil
}

// RemovePointsEvent announces a loyalty point redemption.
type RemovePointsEvent struct {
	ID          string `json:"id"`
	PointsSpent int64  `json:"points_spent"`
}

func (e RemovePointsEvent) Validate() error {
	if err := ValidateID(e.ID); err != nil {
		return err
	}
	if e.PointsSpent < 1 {
		return fmt.Errorf("%w: points_spent must be at least 1", ErrValidation)
	}
	return nil
}
