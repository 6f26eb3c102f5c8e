package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ridelink/loyalty-service/internal/domain/riders"
)

type RideRepository struct {
	pool *pgxpool.Pool
}

func NewRideRepository(pool *pgxpool.Pool) *RideRepository {
	return &RideRepository{pool: pool}
}

func (r *RideRepository) FindByID(ctx context.Context, id string) (*riders.Ride, error) {
	query := `SELECT id, rider_id, amount, state, created_at FROM rides WHERE id = $1`
	var ride riders.Ride
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&ride.ID,
		&ride.RiderID,
		&ride.Amount,
		&ride.State,
		&ride.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch ride: %w", err)
	}
	return &ride, nil
}

// Insert writes the ride record once. A conflicting id means the ride's
// effect was already applied; the false return carries that signal.
func (r *RideRepository) Insert(ctx context.Context, tx pgx.Tx, ride *riders.Ride) (bool, error) {
	query := `
		INSERT INTO rides (id, rider_id, amount, state, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`
	tag, err := tx.Exec(ctx, query,
		ride.ID,
		ride.RiderID,
		ride.Amount,
		ride.State,
		ride.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert ride: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
