// Package ingress moves jobs published on RabbitMQ onto the Redis ready queues
package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/e2e-report-worker/internal/producer"
	"github.com/cuongbtq/e2e-report-worker/internal/queue"
	"github.com/cuongbtq/e2e-report-worker/internal/worker/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	consumerName   = "rabbitmq-ingress"
	enqueueTimeout = 5 * time.Second
)

// Message is the body of a job published to the ingress queue
type Message struct {
	JobType string          `json:"job_type"`
	Payload json.RawMessage `json:"payload"`
}

// Decision is what happens to a delivery after it was handled
type Decision int

const (
	// Ack removes the delivery from the broker
	Ack Decision = iota
	// Reject drops the delivery, routing it to the dead-letter exchange if one is bound
	Reject
	// Requeue returns the delivery to the broker for redelivery
	Requeue
)

func (d Decision) String() string {
	switch d {
	case Ack:
		return "ack"
	case Reject:
		return "reject"
	case Requeue:
		return "requeue"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// DeliverySource starts a consumer on the ingress queue
type DeliverySource interface {
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

// Config holds ingress consumer configuration
type Config struct {
	Logger *slog.Logger
	Source DeliverySource
	Queue  queue.Enqueuer
	Tag    string
}

// Consumer enqueues every valid delivery as a fresh envelope
type Consumer struct {
	logger *slog.Logger
	source DeliverySource
	queue  queue.Enqueuer
	tag    string
}

// NewConsumer creates an ingress consumer
func NewConsumer(cfg Config) *Consumer {
	return &Consumer{
		logger: cfg.Logger.With(slog.String("component", consumerName)),
		source: cfg.Source,
		queue:  cfg.Queue,
		tag:    cfg.Tag,
	}
}

// Name identifies the consumer in logs
func (c *Consumer) Name() string {
	return consumerName
}

// Run consumes deliveries until ctx is canceled. It returns an error when the
// broker closes the delivery channel so the caller can restart it.
func (c *Consumer) Run(ctx context.Context) error {
	deliveries, err := c.source.Consume(c.tag)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("Ingress consumer started", slog.String("consumer_tag", c.tag))

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Ingress consumer stopped")
			return nil

		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("RabbitMQ delivery channel closed")
				return errors.New("delivery channel closed")
			}
			c.settle(delivery, c.Handle(ctx, delivery.Body))
		}
	}
}

// Handle decodes body and enqueues it. Messages that can never be enqueued
// are rejected; store outages are requeued on the broker.
func (c *Consumer) Handle(ctx context.Context, body []byte) Decision {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		c.logger.Error("Failed to parse message JSON",
			slog.String("error", err.Error()),
			slog.String("body", string(body)),
		)
		return Reject
	}

	// A delivery that was received is finished even when shutdown starts
	enqueueCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), enqueueTimeout)
	defer cancel()

	env, err := producer.EnqueueRaw(enqueueCtx, c.queue, msg.JobType, msg.Payload)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownJobType) || errors.Is(err, domain.ErrInvalidPayload) {
			c.logger.Error("Rejecting invalid job message",
				slog.String("job_type", msg.JobType),
				slog.String("error", err.Error()),
			)
			return Reject
		}

		c.logger.Warn("Failed to enqueue job message, requeueing",
			slog.String("job_type", msg.JobType),
			slog.String("error", err.Error()),
		)
		return Requeue
	}

	c.logger.Debug("Job message enqueued",
		slog.String("job_type", msg.JobType),
		slog.String("envelope_id", env.ID),
	)
	return Ack
}

func (c *Consumer) settle(delivery amqp.Delivery, decision Decision) {
	var err error
	switch decision {
	case Ack:
		err = delivery.Ack(false)
	case Reject:
		err = delivery.Nack(false, false)
	case Requeue:
		err = delivery.Nack(false, true)
	}

	if err != nil {
		c.logger.Error("Failed to settle delivery",
			slog.String("decision", decision.String()),
			slog.Uint64("delivery_tag", delivery.DeliveryTag),
			slog.String("error", err.Error()),
		)
	}
}
