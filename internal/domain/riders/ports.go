package riders

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/ridelink/loyalty-service/internal/domain/loyalty"
)

// RiderRepository defines the interface for rider persistence
type RiderRepository interface {
	// FindByID retrieves a rider, or nil when none exists
	FindByID(ctx context.Context, id string) (*Rider, error)

	// FindByIDForUpdate retrieves a rider and locks its row for the
	// duration of the transaction, or returns nil when none exists
	FindByIDForUpdate(ctx context.Context, tx pgx.Tx, id string) (*Rider, error)

	// Insert inserts a rider, skipping on conflict. Returns whether a
	// row was actually inserted.
	Insert(ctx context.Context, tx pgx.Tx, rider *Rider) (bool, error)

	// UpdateLoyalty persists the rider's (ride_count, points, status) triple
	UpdateLoyalty(ctx context.Context, tx pgx.Tx, id string, rideCount int, points int64, status loyalty.Status) error
}

// RideRepository defines the interface for ride persistence
type RideRepository interface {
	// FindByID retrieves a ride, or nil when none exists
	FindByID(ctx context.Context, id string) (*Ride, error)

	// Insert inserts a ride, skipping on conflict. Returns whether a
	// row was actually inserted. A false return is the duplicate signal.
	Insert(ctx context.Context, tx pgx.Tx, ride *Ride) (bool, error)
}

// FidelityRepository defines the interface for the per-tier redemption ledger
type FidelityRepository interface {
	// AddRedemption additively records a redemption under the given tier
	AddRedemption(ctx context.Context, tx pgx.Tx, riderID string, status loyalty.Status, pointsSpent int64) error

	// GetLedger returns the tiers with recorded activity for a rider
	GetLedger(ctx context.Context, riderID string) (map[loyalty.Status]TierActivity, error)
}
