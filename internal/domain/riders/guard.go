package riders

import (
	"context"
	"fmt"
)

// EventKind names the aggregate an idempotency key belongs to.
type EventKind string

const (
	// EventKindSignup keys on the rider id
	EventKindSignup EventKind = "signup"
	// EventKindRide keys on the ride id
	EventKindRide EventKind = "ride"
)

// Guard answers whether an inbound event's effect is already persisted,
// backed by existence lookups on the relevant aggregate.
//
// The guard is advisory: it holds no lock, so a handler must still
// re-check inside its own transaction before mutating. It exists to
// absorb the common redelivery case without paying for a transaction.
type Guard struct {
	riderRepo RiderRepository
	rideRepo  RideRepository
}

func NewGuard(riderRepo RiderRepository, rideRepo RideRepository) *Guard {
	return &Guard{
		riderRepo: riderRepo,
		rideRepo:  rideRepo,
	}
}

// HasBeenApplied reports whether the event identified by (kind, key) has
// already taken effect.
func (g *Guard) HasBeenApplied(ctx context.Context, kind EventKind, key string) (bool, error) {
	switch kind {
	case EventKindSignup:
		rider, err := g.riderRepo.FindByID(ctx, key)
		if err != nil {
			return false, fmt.Errorf("failed to look up rider %s: %w", key, err)
		}
		return rider != nil, nil
	case EventKindRide:
		ride, err := g.rideRepo.FindByID(ctx, key)
		if err != nil {
			return false, fmt.Errorf("failed to look up ride %s: %w", key, err)
		}
		return ride != nil, nil
	default:
		return false, fmt.Errorf("unknown event kind %q", kind)
	}
}
