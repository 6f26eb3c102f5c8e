package testhelpers

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestDatabase is a disposable Postgres instance with the loyalty schema applied
type TestDatabase struct {
	Pool    *pgxpool.Pool
	ConnStr string
	cleanup func()
}

// Close shuts the pool and terminates the container
func (db *TestDatabase) Close() {
	if db.cleanup != nil {
		db.cleanup()
	}
}

// NewTestDatabase starts a Postgres container, applies the goose
// migrations from migrationsDir and returns a ready pool.
func NewTestDatabase(t *testing.T, migrationsDir string) *TestDatabase {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("loyalty_test"),
		postgres.WithUsername("loyalty"),
		postgres.WithPassword("loyalty"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err, "Failed to start postgres container")

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "Failed to get connection string")

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err, "Failed to create connection pool")
	require.NoError(t, pool.Ping(ctx), "Failed to ping database")

	runMigrations(t, pool, migrationsDir)

	cleanup := func() {
		pool.Close()
		if termErr := pgContainer.Terminate(ctx); termErr != nil {
			t.Logf("Failed to terminate container: %v", termErr)
		}
	}

	return &TestDatabase{
		Pool:    pool,
		ConnStr: connStr,
		cleanup: cleanup,
	}
}

func runMigrations(t *testing.T, pool *pgxpool.Pool, migrationsDir string) {
	t.Helper()

	// Goose wants a *sql.DB, so bridge the pgx pool config through stdlib
	connStr := stdlib.RegisterConnConfig(pool.Config().ConnConfig)
	db, err := sql.Open("pgx", connStr)
	require.NoError(t, err, "Failed to create sql.DB for goose")
	defer db.Close()

	require.NoError(t, goose.SetDialect("postgres"), "Failed to set goose dialect")

	absPath, err := filepath.Abs(migrationsDir)
	require.NoError(t, err, "Failed to resolve migrations path")
	require.NoError(t, goose.Up(db, absPath), "Failed to run migrations")
}

// CleanDatabase truncates the loyalty tables between tests sharing a container
func CleanDatabase(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()

	ctx := context.Background()
	for _, query := range []string{
		"TRUNCATE TABLE riders CASCADE",
		"TRUNCATE TABLE rides CASCADE",
		"TRUNCATE TABLE fidelity_ledgers CASCADE",
	} {
		_, err := pool.Exec(ctx, query)
		require.NoError(t, err, "Failed to truncate: %s", query)
	}
}
