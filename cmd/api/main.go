package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/ridelink/loyalty-service/internal/adapters/api"
	"github.com/ridelink/loyalty-service/internal/adapters/cache"
	"github.com/ridelink/loyalty-service/internal/adapters/database"
	"github.com/ridelink/loyalty-service/internal/config"
	"github.com/ridelink/loyalty-service/internal/domain/riders"
	pkgdb "github.com/ridelink/loyalty-service/pkg/database"
)

func main() {
	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutting down loyalty API...")
		cancel()
	}()

	// 1. Initialize Postgres Connection Pool
	dbConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("Unable to parse database config", "error", err)
		os.Exit(1)
	}
	pool, err := pgxpool.NewWithConfig(ctx, dbConfig)
	if err != nil {
		logger.Error("Unable to create connection pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err = pool.Ping(ctx); err != nil {
		logger.Error("Unable to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("Postgres Connected")

	// 2. Optional Redis cache
	var loyaltyCache api.LoyaltyCache
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Error("Redis failed", "error", err)
			os.Exit(1)
		}
		defer rdb.Close()
		loyaltyCache = cache.NewLoyaltyCache(rdb, cfg.CacheTTL)
		logger.Info("Redis Connected")
	}

	// 3. Wire the read service
	txManager := pkgdb.NewPostgresTransactionManager(pool, cfg.LockTimeout)
	riderRepo := database.NewRiderRepository(pool)
	rideRepo := database.NewRideRepository(pool)
	fidelityRepo := database.NewFidelityRepository(pool)
	service := riders.NewService(txManager, riderRepo, rideRepo, fidelityRepo)

	mux := http.NewServeMux()
	api.NewHandler(service, loyaltyCache, logger).Register(mux)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Loyalty API listening", "addr", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("Loyalty API stopped")
}
