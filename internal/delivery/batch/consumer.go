package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/minhhq/newsletter-be/internal/delivery/domain"
	"github.com/minhhq/newsletter-be/shared/rabbitmq"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Consumer listens for batch-job messages on RabbitMQ and runs the
// pipeline for each one. Messages are acknowledged manually: a finished
// job is acked, a malformed or failed job is nacked without requeue
// (there is no retry strategy for delivery jobs).
type Consumer struct {
	logger        *slog.Logger
	rabbitClient  *rabbitmq.Client
	pipeline      *Pipeline
	prefetchCount int
	consumerTag   string
	stopChan      chan struct{}
	wg            sync.WaitGroup
}

// NewConsumer creates a new Consumer instance
func NewConsumer(logger *slog.Logger, rabbitClient *rabbitmq.Client, pipeline *Pipeline, prefetchCount int) *Consumer {
	return &Consumer{
		logger:        logger,
		rabbitClient:  rabbitClient,
		pipeline:      pipeline,
		prefetchCount: prefetchCount,
		consumerTag:   "batch-" + uuid.NewString(),
		stopChan:      make(chan struct{}),
	}
}

// Start configures QoS, begins consuming, and launches the job loop.
func (c *Consumer) Start(ctx context.Context) error {
	channel := c.rabbitClient.GetChannel()
	if channel == nil {
		return fmt.Errorf("rabbitmq channel is nil")
	}

	if err := channel.Qos(c.prefetchCount, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	deliveries, err := c.rabbitClient.Consume(c.consumerTag)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("Batch job consumer started",
		slog.String("consumer_tag", c.consumerTag),
		slog.Int("prefetch_count", c.prefetchCount),
	)

	c.wg.Add(1)
	go c.run(ctx, deliveries)

	return nil
}

// Stop signals the job loop to finish and waits for it.
func (c *Consumer) Stop() {
	c.logger.Info("Stopping batch job consumer...")
	close(c.stopChan)
	c.wg.Wait()
	c.logger.Info("Batch job consumer stopped")
}

// run processes deliveries until stopped. Jobs run one at a time; each
// job itself fans out over the whole subscriber list.
func (c *Consumer) run(ctx context.Context, deliveries <-chan amqp.Delivery) {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopChan:
			c.logger.Info("Batch job loop stopping - stopChan closed")
			return

		case <-ctx.Done():
			c.logger.Info("Batch job loop stopping - context canceled")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("RabbitMQ delivery channel closed")
				return
			}

			c.handleDelivery(ctx, delivery)
		}
	}
}

// handleDelivery validates one batch-job message and runs the pipeline.
func (c *Consumer) handleDelivery(ctx context.Context, delivery amqp.Delivery) {
	msg, err := parseJobMessage(delivery.Body)
	if err != nil {
		c.logger.Error("Invalid batch job message",
			slog.String("error", err.Error()),
			slog.String("body", string(delivery.Body)),
		)
		c.nack(delivery)
		return
	}

	c.logger.Info("Batch job received",
		slog.String("job_id", msg.JobID),
		slog.Int64("newsletter_id", msg.NewsletterID),
	)

	if err := c.pipeline.Run(ctx, msg.NewsletterID); err != nil {
		c.logger.Error("Batch job failed",
			slog.String("job_id", msg.JobID),
			slog.Int64("newsletter_id", msg.NewsletterID),
			slog.String("error", err.Error()),
		)
		c.nack(delivery)
		return
	}

	if err := delivery.Ack(false); err != nil {
		c.logger.Error("Failed to ACK batch job message",
			slog.String("job_id", msg.JobID),
			slog.String("error", err.Error()),
		)
		return
	}

	c.logger.Info("Batch job completed",
		slog.String("job_id", msg.JobID),
		slog.Int64("newsletter_id", msg.NewsletterID),
	)
}

func (c *Consumer) nack(delivery amqp.Delivery) {
	if err := delivery.Nack(false, false); err != nil {
		c.logger.Error("Failed to NACK batch job message",
			slog.String("error", err.Error()),
		)
	}
}

// parseJobMessage decodes and validates a batch-job payload.
func parseJobMessage(body []byte) (*domain.BatchJobMessage, error) {
	var msg domain.BatchJobMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidMessage, err)
	}

	if _, err := uuid.Parse(msg.JobID); err != nil {
		return nil, fmt.Errorf("%w: job_id is not a UUID", domain.ErrInvalidMessage)
	}

	if msg.NewsletterID <= 0 {
		return nil, fmt.Errorf("%w: newsletter_id must be positive", domain.ErrInvalidMessage)
	}

	return &msg, nil
}
