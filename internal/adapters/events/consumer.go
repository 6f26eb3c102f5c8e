package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ridelink/loyalty-service/internal/domain/riders"
)

// Routing keys the loyalty queue binds to, plus the dead-letter key for
// messages the worker gave up on.
const (
	RoutingKeySignup          = "rider.signup"
	RoutingKeyRideCreated     = "ride.created"
	RoutingKeyRideCompleted   = "ride.completed"
	RoutingKeyRemovePoints    = "loyalty.remove_points"
	RoutingKeyProcessingFatal = "loyalty.processing.fatal"
)

// Reconciler is the part of the domain service the consumer dispatches to.
type Reconciler interface {
	ProcessSignup(ctx context.Context, event riders.SignupEvent) error
	ProcessRideCreated(ctx context.Context, event riders.RideCreatedEvent) error
	ProcessRideCompleted(ctx context.Context, event riders.RideCompletedEvent) error
	ProcessRemovePoints(ctx context.Context, event riders.RemovePointsEvent) error
}

// FatalPublisher records a fatal-processing event for operator visibility.
type FatalPublisher interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}

// Config tunes the consumer. Zero values are replaced with the defaults
// the loyalty worker has always run with.
type Config struct {
	Exchange       string
	Queue          string
	Prefetch       int
	Lanes          int
	LaneBuffer     int
	HandlerTimeout time.Duration
	RetryBackoff   time.Duration
	ShutdownGrace  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Exchange == "" {
		c.Exchange = "events"
	}
	if c.Queue == "" {
		c.Queue = "loyalty"
	}
	if c.Prefetch <= 0 {
		c.Prefetch = 100
	}
	if c.Lanes <= 0 {
		c.Lanes = 16
	}
	if c.LaneBuffer <= 0 {
		c.LaneBuffer = 32
	}
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = 30 * time.Second
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 3 * time.Second
	}
	return c
}

// task is one validated delivery bound to its handler, partitioned by
// rider id so lanes serialize per-rider processing.
type task struct {
	delivery amqp.Delivery
	key      string
	apply    func(ctx context.Context) error
}

// Consumer pulls loyalty events off the bus, validates them against the
// schema for their routing key and runs the matching reconciler handler
// on a per-rider lane.
type Consumer struct {
	conn      *amqp.Connection
	service   Reconciler
	publisher FatalPublisher
	cfg       Config
	logger    *slog.Logger
}

func NewConsumer(conn *amqp.Connection, service Reconciler, publisher FatalPublisher, cfg Config, logger *slog.Logger) *Consumer {
	return &Consumer{
		conn:      conn,
		service:   service,
		publisher: publisher,
		cfg:       cfg.withDefaults(),
		logger:    logger,
	}
}

// Run starts the consumer loop and blocks until the context is canceled
// or the channel dies. In-flight lanes are drained up to the configured
// grace period; anything abandoned completes through redelivery.
func (c *Consumer) Run(ctx context.Context) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	if setupErr := c.setupTopology(ch); setupErr != nil {
		return fmt.Errorf("failed to setup topology: %w", setupErr)
	}

	// The prefetch count bounds how many deliveries are in flight
	// across all lanes.
	if qosErr := ch.Qos(c.cfg.Prefetch, 0, false); qosErr != nil {
		return fmt.Errorf("failed to set channel qos: %w", qosErr)
	}

	msgs, err := ch.Consume(
		c.cfg.Queue, // queue
		"",          // consumer tag
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	pool := newLanes(c.cfg.Lanes, c.cfg.LaneBuffer, c.handle)
	pool.start()

	c.logger.Info("Waiting for messages...", "queue", c.cfg.Queue, "prefetch", c.cfg.Prefetch)

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case d, ok := <-msgs:
			if !ok {
				runErr = fmt.Errorf("channel closed")
				break loop
			}

			t, decodeErr := c.decode(d)
			if decodeErr != nil {
				// Malformed payloads can never succeed; drop them
				// without redelivery.
				c.logger.Warn("Dropping invalid message", "routing_key", d.RoutingKey, "error", decodeErr)
				if nackErr := d.Nack(false, false); nackErr != nil {
					c.logger.Error("Failed to Nack message", "error", nackErr)
				}
				continue
			}

			pool.dispatch(t)
		}
	}

	if !pool.drain(c.cfg.ShutdownGrace) {
		c.logger.Warn("Shutdown grace period expired with lanes still busy; relying on redelivery")
	}
	return runErr
}

func (c *Consumer) setupTopology(ch *amqp.Channel) error {
	err := ch.ExchangeDeclare(
		c.cfg.Exchange, // name
		"topic",        // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // args
	)
	if err != nil {
		return err
	}

	q, err := ch.QueueDeclare(
		c.cfg.Queue, // name
		true,        // durable
		false,       // delete when unused
		false,       // exclusive
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return err
	}

	for _, key := range []string{
		RoutingKeySignup,
		RoutingKeyRideCreated,
		RoutingKeyRideCompleted,
		RoutingKeyRemovePoints,
	} {
		if err := ch.QueueBind(q.Name, key, c.cfg.Exchange, false, nil); err != nil {
			return err
		}
	}
	return nil
}

// decode validates the delivery against the schema for its routing key
// and binds it to the matching reconciler handler.
func (c *Consumer) decode(d amqp.Delivery) (task, error) {
	switch d.RoutingKey {
	case RoutingKeySignup:
		var event riders.SignupEvent
		if err := json.Unmarshal(d.Body, &event); err != nil {
			return task{}, fmt.Errorf("%w: %v", riders.ErrValidation, err)
		}
		if err := event.Validate(); err != nil {
			return task{}, err
		}
		return task{
			delivery: d,
			key:      event.ID,
			apply:    func(ctx context.Context) error { return c.service.ProcessSignup(ctx, event) },
		}, nil

	case RoutingKeyRideCreated:
		var event riders.RideCreatedEvent
		if err := json.Unmarshal(d.Body, &event); err != nil {
			return task{}, fmt.Errorf("%w: %v", riders.ErrValidation, err)
		}
		if err := event.Validate(); err != nil {
			return task{}, err
		}
		return task{
			delivery: d,
			key:      event.RiderID,
			apply:    func(ctx context.Context) error { return c.service.ProcessRideCreated(ctx, event) },
		}, nil

	case RoutingKeyRideCompleted:
		var event riders.RideCompletedEvent
		if err := json.Unmarshal(d.Body, &event); err != nil {
			return task{}, fmt.Errorf("%w: %v", riders.ErrValidation, err)
		}
		if err := event.Validate(); err != nil {
			return task{}, err
		}
		return task{
			delivery: d,
			key:      event.RiderID,
			apply:    func(ctx context.Context) error { return c.service.ProcessRideCompleted(ctx, event) },
		}, nil

	case RoutingKeyRemovePoints:
		var event riders.RemovePointsEvent
		if err := json.Unmarshal(d.Body, &event); err != nil {
			return task{}, fmt.Errorf("%w: %v", riders.ErrValidation, err)
		}
		if err := event.Validate(); err != nil {
			return task{}, err
		}
		return task{
			delivery: d,
			key:      event.ID,
			apply:    func(ctx context.Context) error { return c.service.ProcessRemovePoints(ctx, event) },
		}, nil

	default:
		return task{}, fmt.Errorf("%w: unknown routing key %q", riders.ErrValidation, d.RoutingKey)
	}
}

// handle runs one task inside a lane: apply, retry retryable failures
// once, then drop with a fatal-processing event.
func (c *Consumer) handle(t task) {
	err := c.applyOnce(t)
	if err == nil {
		c.ack(t.delivery)
		return
	}

	if riders.IsTerminal(err) {
		c.logger.Warn("Dropping message after terminal failure",
			"routing_key", t.delivery.RoutingKey, "error", err)
		c.nack(t.delivery)
		return
	}

	c.logger.Warn("Handler failed, retrying once",
		"routing_key", t.delivery.RoutingKey, "error", err)
	time.Sleep(c.cfg.RetryBackoff)

	err = c.applyOnce(t)
	if err == nil {
		c.ack(t.delivery)
		return
	}

	c.logger.Error("Dropping message after second failure",
		"routing_key", t.delivery.RoutingKey, "error", err)
	c.publishFatal(t, err)
	c.nack(t.delivery)
}

// applyOnce runs the handler with its own deadline. The parent context
// is deliberately not used: an in-flight mutation should finish (or time
// out) on its own terms during shutdown, and the drain grace covers it.
func (c *Consumer) applyOnce(t task) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.HandlerTimeout)
	defer cancel()
	return t.apply(ctx)
}

type fatalProcessingEvent struct {
	RoutingKey string          `json:"routing_key"`
	Reason     string          `json:"reason"`
	Payload    json.RawMessage `json:"payload"`
	FailedAt   time.Time       `json:"failed_at"`
}

func (c *Consumer) publishFatal(t task, cause error) {
	if c.publisher == nil {
		return
	}

	body, err := json.Marshal(fatalProcessingEvent{
		RoutingKey: t.delivery.RoutingKey,
		Reason:     cause.Error(),
		Payload:    json.RawMessage(t.delivery.Body),
		FailedAt:   time.Now().UTC(),
	})
	if err != nil {
		c.logger.Error("Failed to marshal fatal-processing event", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.publisher.Publish(ctx, RoutingKeyProcessingFatal, body); err != nil {
		c.logger.Error("Failed to publish fatal-processing event", "error", err)
	}
}

func (c *Consumer) ack(d amqp.Delivery) {
	if err := d.Ack(false); err != nil {
		c.logger.Error("Failed to Ack message", "error", err)
	}
}

func (c *Consumer) nack(d amqp.Delivery) {
	if err := d.Nack(false, false); err != nil {
		c.logger.Error("Failed to Nack message", "error", err)
	}
}
