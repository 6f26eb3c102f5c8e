package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ridelink/loyalty-service/internal/adapters/database"
	"github.com/ridelink/loyalty-service/internal/adapters/events"
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

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutting down loyalty worker...")
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

	// 2. Initialize Dependencies
	txManager := pkgdb.NewPostgresTransactionManager(pool, cfg.LockTimeout)
	riderRepo := database.NewRiderRepository(pool)
	rideRepo := database.NewRideRepository(pool)
	fidelityRepo := database.NewFidelityRepository(pool)
	service := riders.NewService(txManager, riderRepo, rideRepo, fidelityRepo)

	// 3. Connect to RabbitMQ
	amqpConn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		logger.Error("Failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer amqpConn.Close()
	logger.Info("RabbitMQ Connected")

	publisher, err := events.NewPublisher(amqpConn, cfg.AMQPExchange)
	if err != nil {
		logger.Error("Failed to initialize publisher", "error", err)
		os.Exit(1)
	}
	defer publisher.Close()

	// 4. Start Consumer
	consumer := events.NewConsumer(amqpConn, service, publisher, events.Config{
		Exchange:       cfg.AMQPExchange,
		Queue:          cfg.AMQPQueue,
		Prefetch:       cfg.Prefetch,
		Lanes:          cfg.Lanes,
		LaneBuffer:     cfg.LaneBuffer,
		HandlerTimeout: cfg.HandlerTimeout,
		RetryBackoff:   cfg.RetryBackoff,
		ShutdownGrace:  cfg.ShutdownGrace,
	}, logger)

	logger.Info("Starting loyalty consumer...")
	if err := consumer.Run(ctx); err != nil {
		logger.Error("Consumer failed", "error", err)
		if ctx.Err() == nil {
			os.Exit(1)
		}
	}
	logger.Info("Loyalty worker stopped")
}
