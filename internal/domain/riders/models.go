package riders

import (
	"time"

	"github.com/ridelink/loyalty-service/internal/domain/loyalty"
)

// RideState tracks which lifecycle event recorded a ride.
type RideState string

const (
	RideStateCreated   RideState = "created"
	RideStateCompleted RideState = "completed"
)

// Rider is the mutable per-user loyalty aggregate.
type Rider struct {
	ID        string         `db:"id"`
	Name      string         `db:"name"`
	RideCount int            `db:"ride_count"`
	Points    int64          `db:"points"`
	Status    loyalty.Status `db:"status"`
	CreatedAt time.Time      `db:"created_at"`
	UpdatedAt time.Time      `db:"updated_at"`
}

// NewRider returns a rider with signup defaults. An empty name is used on
// the auto-provisioning paths, where only the id is known.
func NewRider(id, name string) *Rider {
	return &Rider{
		ID:        id,
		Name:      name,
		RideCount: 0,
		Points:    0,
		Status:    loyalty.StatusBronze,
		CreatedAt: time.Now(),
	}
}

// Ride is the durable marker that a ride was recorded. A row inserted by
// a completed event also marks that the ride's point award was applied.
type Ride struct {
	ID        string    `db:"id"`
	RiderID   string    `db:"rider_id"`
	Amount    int64     `db:"amount"`
	State     RideState `db:"state"`
	CreatedAt time.Time `db:"created_at"`
}

// TierActivity is one tier's cumulative redemption ledger entry.
type TierActivity struct {
	PointsSpent int64 `json:"points_spent"`
	RidesCount  int   `json:"rides_count"`
}

// LoyaltyInfo is the read-surface projection of a rider.
type LoyaltyInfo struct {
	Status            loyalty.Status `json:"status"`
	Points            int64          `json:"points"`
	RidesToNextStatus int            `json:"rides_to_next_status"`
}
