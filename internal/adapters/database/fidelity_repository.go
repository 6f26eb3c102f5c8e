package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ridelink/loyalty-service/internal/domain/loyalty"
	"github.com/ridelink/loyalty-service/internal/domain/riders"
)

type FidelityRepository struct {
	pool *pgxpool.Pool
}

func NewFidelityRepository(pool *pgxpool.Pool) *FidelityRepository {
	return &FidelityRepository{pool: pool}
}

// AddRedemption accumulates one redemption under the given tier. Rows
// exist only for tiers with activity, so the ledger reads back in the
// nonzero-only shape the API serves.
func (r *FidelityRepository) AddRedemption(ctx context.Context, tx pgx.Tx, riderID string, status loyalty.Status, pointsSpent int64) error {
	query := `
		INSERT INTO fidelity_ledgers (rider_id, status, points_spent, rides_count, created_at, updated_at)
		VALUES ($1, $2, $3, 1, NOW(), NOW())
		ON CONFLICT (rider_id, status) DO UPDATE SET
			points_spent = fidelity_ledgers.points_spent + EXCLUDED.points_spent,
			rides_count = fidelity_ledgers.rides_count + 1,
			updated_at = NOW()
	`
	_, err := tx.Exec(ctx, query, riderID, status, pointsSpent)
	if err != nil {
		return fmt.Errorf("failed to record redemption: %w", err)
	}
	return nil
}

func (r *FidelityRepository) GetLedger(ctx context.Context, riderID string) (map[loyalty.Status]riders.TierActivity, error) {
	query := `SELECT status, points_spent, rides_count FROM fidelity_ledgers WHERE rider_id = $1`
	rows, err := r.pool.Query(ctx, query, riderID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch fidelity ledger: %w", err)
	}
	defer rows.Close()

	ledger := make(map[loyalty.Status]riders.TierActivity)
	for rows.Next() {
		var status loyalty.Status
		var activity riders.TierActivity
		if err := rows.Scan(&status, &activity.PointsSpent, &activity.RidesCount); err != nil {
			return nil, fmt.Errorf("failed to scan fidelity ledger row: %w", err)
		}
		ledger[status] = activity
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate fidelity ledger rows: %w", err)
	}
	return ledger, nil
}
