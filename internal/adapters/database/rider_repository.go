package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ridelink/loyalty-service/internal/domain/loyalty"
	"github.com/ridelink/loyalty-service/internal/domain/riders"
)

type RiderRepository struct {
	pool *pgxpool.Pool
}

func NewRiderRepository(pool *pgxpool.Pool) *RiderRepository {
	return &RiderRepository{pool: pool}
}

const riderColumns = `id, name, ride_count, points, status, created_at, updated_at`

func scanRider(row pgx.Row) (*riders.Rider, error) {
	var rider riders.Rider
	err := row.Scan(
		&rider.ID,
		&rider.Name,
		&rider.RideCount,
		&rider.Points,
		&rider.Status,
		&rider.CreatedAt,
		&rider.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan rider: %w", err)
	}
	return &rider, nil
}

func (r *RiderRepository) FindByID(ctx context.Context, id string) (*riders.Rider, error) {
	query := `SELECT ` + riderColumns + ` FROM riders WHERE id = $1`
	return scanRider(r.pool.QueryRow(ctx, query, id))
}

// FindByIDForUpdate locks the rider row until the transaction ends, so a
// concurrent handler for the same rider waits instead of reading stale state.
func (r *RiderRepository) FindByIDForUpdate(ctx context.Context, tx pgx.Tx, id string) (*riders.Rider, error) {
	query := `SELECT ` + riderColumns + ` FROM riders WHERE id = $1 FOR UPDATE`
	return scanRider(tx.QueryRow(ctx, query, id))
}

// Insert inserts the rider, leaving an existing row untouched. The
// returned bool reports whether a row was actually written.
func (r *RiderRepository) Insert(ctx context.Context, tx pgx.Tx, rider *riders.Rider) (bool, error) {
	query := `
		INSERT INTO riders (id, name, ride_count, points, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (id) DO NOTHING
	`
	tag, err := tx.Exec(ctx, query,
		rider.ID,
		rider.Name,
		rider.RideCount,
		rider.Points,
		rider.Status,
		rider.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert rider: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *RiderRepository) UpdateLoyalty(ctx context.Context, tx pgx.Tx, id string, rideCount int, points int64, status loyalty.Status) error {
	query := `
		UPDATE riders
		SET ride_count = $2, points = $3, status = $4, updated_at = NOW()
		WHERE id = $1
	`
	tag, err := tx.Exec(ctx, query, id, rideCount, points, status)
	if err != nil {
		return fmt.Errorf("failed to update rider loyalty: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("rider %s not found for update", id)
	}
	return nil
}
