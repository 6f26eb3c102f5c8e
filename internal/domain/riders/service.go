package riders

import (
	"context"
	"fmt"
	"time"

	"github.com/ridelink/loyalty-service/internal/domain/loyalty"
	"github.com/ridelink/loyalty-service/pkg/database"
)

// Service reconciles ride-lifecycle and redemption events into the
// rider, ride and fidelity aggregates. Every handler is idempotent with
// respect to redelivery of the same event, except point redemption,
// whose payload carries no idempotency key.
type Service struct {
	txManager    database.TransactionManager
	riderRepo    RiderRepository
	rideRepo     RideRepository
	fidelityRepo FidelityRepository
	guard        *Guard
}

func NewService(
	txManager database.TransactionManager,
	riderRepo RiderRepository,
	rideRepo RideRepository,
	fidelityRepo FidelityRepository,
) *Service {
	return &Service{
		txManager:    txManager,
		riderRepo:    riderRepo,
		rideRepo:     rideRepo,
		fidelityRepo: fidelityRepo,
		guard:        NewGuard(riderRepo, rideRepo),
	}
}

// ProcessSignup inserts the rider with signup defaults. A rider that
// already exists makes the event a duplicate, which is a success.
func (s *Service) ProcessSignup(ctx context.Context, event SignupEvent) error {
	applied, err := s.guard.HasBeenApplied(ctx, EventKindSignup, event.ID)
	if err != nil {
		return err
	}
	if applied {
		return nil
	}

	tx, err := s.txManager.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	// The insert skips on conflict, so a rider created since the guard
	// check still resolves as a duplicate rather than an error.
	if _, err := s.riderRepo.Insert(ctx, tx, NewRider(event.ID, event.Name)); err != nil {
		return fmt.Errorf("failed to insert rider: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ProcessRideCreated records a booked ride without awarding points.
// The award happens at completion; an unknown rider is provisioned with
// defaults so the ride has something to reference.
func (s *Service) ProcessRideCreated(ctx context.Context, event RideCreatedEvent) error {
	applied, err := s.guard.HasBeenApplied(ctx, EventKindRide, event.ID)
	if err != nil {
		return err
	}
	if applied {
		return nil
	}

	tx, err := s.txManager.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := s.riderRepo.Insert(ctx, tx, NewRider(event.RiderID, "")); err != nil {
		return fmt.Errorf("failed to provision rider: %w", err)
	}

	ride := &Ride{
		ID:        event.ID,
		RiderID:   event.RiderID,
		Amount:    event.Amount,
		State:     RideStateCreated,
		CreatedAt: time.Now(),
	}
	if _, err := s.rideRepo.Insert(ctx, tx, ride); err != nil {
		return fmt.Errorf("failed to insert ride: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ProcessRideCompleted awards points for a finished ride. The ride row
// is the idempotency marker: if one exists, whichever event wrote it,
// the award counts as applied and the handler does nothing. The ride
// insert and the rider update share one transaction, so a crash cannot
// separate the marker from the award.
func (s *Service) ProcessRideCompleted(ctx context.Context, event RideCompletedEvent) error {
	applied, err := s.guard.HasBeenApplied(ctx, EventKindRide, event.ID)
	if err != nil {
		return err
	}
	if applied {
		return nil
	}

	tx, err := s.txManager.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	ride := &Ride{
		ID:        event.ID,
		RiderID:   event.RiderID,
		Amount:    event.Amount,
		State:     RideStateCompleted,
		CreatedAt: time.Now(),
	}
	inserted, err := s.rideRepo.Insert(ctx, tx, ride)
	if err != nil {
		return fmt.Errorf("failed to insert ride: %w", err)
	}
	if !inserted {
		// Raced with another delivery of the same ride; its effect is
		// (or is about to be) committed.
		return nil
	}

	if _, err := s.riderRepo.Insert(ctx, tx, NewRider(event.RiderID, "")); err != nil {
		return fmt.Errorf("failed to provision rider: %w", err)
	}

	rider, err := s.riderRepo.FindByIDForUpdate(ctx, tx, event.RiderID)
	if err != nil {
		return fmt.Errorf("failed to lock rider %s: %w", event.RiderID, err)
	}
	if rider == nil {
		return fmt.Errorf("rider %s vanished during ride completion", event.RiderID)
	}

	progress, err := loyalty.ProgressAfterRide(rider.RideCount, rider.Points, rider.Status, event.Amount)
	if err != nil {
		return fmt.Errorf("failed to compute loyalty progress: %w", err)
	}

	if err := s.riderRepo.UpdateLoyalty(ctx, tx, rider.ID, progress.RideCount, progress.Points, progress.Status); err != nil {
		return fmt.Errorf("failed to update rider loyalty: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ProcessRemovePoints redeems points against the rider's balance and
// records the redemption in the fidelity ledger under the tier held at
// redemption time. The payload has no idempotency key, so a redelivered
// redemption that already committed would spend twice; the router only
// redelivers after failures that did not commit.
func (s *Service) ProcessRemovePoints(ctx context.Context, event RemovePointsEvent) error {
	tx, err := s.txManager.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	rider, err := s.riderRepo.FindByIDForUpdate(ctx, tx, event.ID)
	if err != nil {
		return fmt.Errorf("failed to lock rider %s: %w", event.ID, err)
	}
	if rider == nil {
		return fmt.Errorf("%w: %s", ErrRiderNotFound, event.ID)
	}

	if event.PointsSpent > rider.Points {
		return fmt.Errorf("%w: rider %s has %d points, wants to spend %d",
			ErrInsufficientPoints, rider.ID, rider.Points, event.PointsSpent)
	}

	if err := s.riderRepo.UpdateLoyalty(ctx, tx, rider.ID, rider.RideCount, rider.Points-event.PointsSpent, rider.Status); err != nil {
		return fmt.Errorf("failed to update rider points: %w", err)
	}

	// Redeeming points never changes the tier; the ledger entry goes
	// under the tier held when the redemption happened.
	if err := s.fidelityRepo.AddRedemption(ctx, tx, rider.ID, rider.Status, event.PointsSpent); err != nil {
		return fmt.Errorf("failed to record redemption: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetLoyaltyInfo returns the rider's loyalty projection for the read API.
func (s *Service) GetLoyaltyInfo(ctx context.Context, riderID string) (*LoyaltyInfo, error) {
	rider, err := s.riderRepo.FindByID(ctx, riderID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch rider %s: %w", riderID, err)
	}
	if rider == nil {
		return nil, fmt.Errorf("%w: %s", ErrRiderNotFound, riderID)
	}

	remaining, err := loyalty.RemainingRidesToNextStatus(rider.RideCount)
	if err != nil {
		return nil, fmt.Errorf("failed to compute remaining rides: %w", err)
	}

	return &LoyaltyInfo{
		Status:            rider.Status,
		Points:            rider.Points,
		RidesToNextStatus: remaining,
	}, nil
}

// GetFidelityStatus returns the tiers with recorded redemption activity
// for a rider. A rider with no redemptions yields an empty map.
func (s *Service) GetFidelityStatus(ctx context.Context, riderID string) (map[loyalty.Status]TierActivity, error) {
	rider, err := s.riderRepo.FindByID(ctx, riderID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch rider %s: %w", riderID, err)
	}
	if rider == nil {
		return nil, fmt.Errorf("%w: %s", ErrRiderNotFound, riderID)
	}

	ledger, err := s.fidelityRepo.GetLedger(ctx, riderID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch fidelity ledger for %s: %w", riderID, err)
	}
	return ledger, nil
}
