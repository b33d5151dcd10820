package handler

import (
	"context"
	"log/slog"

	"github.com/minhhq/newsletter-be/internal/delivery/domain"
	"github.com/minhhq/newsletter-be/internal/delivery/orchestrator"
	"github.com/minhhq/newsletter-be/internal/delivery/storage"
)

// Orchestrator is the bulk-send entry point consumed by handlers.
type Orchestrator interface {
	SendNewsletter(ctx context.Context, newsletterID int64) (*orchestrator.SendResult, error)
	SendNewsletterAsync(ctx context.Context, newsletterID int64) (*orchestrator.Accepted, error)
}

// Tracker records open events and returns the pixel payload.
type Tracker interface {
	TrackOpen(ctx context.Context, newsletterID, subscriberID int64) []byte
}

// LogReader serves the reporting endpoints.
type LogReader interface {
	ListLogs(ctx context.Context, filter storage.LogFilter) ([]domain.DeliveryLog, error)
	GetStats(ctx context.Context, newsletterID int64) (*domain.DeliveryStats, error)
}

// NewsletterReader validates send targets before dispatch.
type NewsletterReader interface {
	GetNewsletter(ctx context.Context, id int64) (*domain.Newsletter, error)
}

// SubscriberReader validates subscriber-scoped log queries.
type SubscriberReader interface {
	GetSubscriber(ctx context.Context, id int64) (*domain.Subscriber, error)
}

// JobPublisher publishes batch-job messages to the broker.
type JobPublisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// DBHealth reports database connectivity for the health endpoint.
type DBHealth interface {
	HealthCheck(ctx context.Context) error
}

// BrokerHealth reports broker connectivity for the health endpoint.
type BrokerHealth interface {
	IsConnected() bool
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger       *slog.Logger
	Orchestrator Orchestrator
	Tracker      Tracker
	Logs         LogReader
	Newsletters  NewsletterReader
	Subscribers  SubscriberReader
	JobPublisher JobPublisher
	DB           DBHealth
	Broker       BrokerHealth
}

// DeliveryHandler handles delivery-related HTTP requests
type DeliveryHandler struct {
	logger       *slog.Logger
	orchestrator Orchestrator
	tracker      Tracker
	logs         LogReader
	newsletters  NewsletterReader
	subscribers  SubscriberReader
	jobPublisher JobPublisher
	db           DBHealth
	broker       BrokerHealth
}

// NewDeliveryHandler creates a new DeliveryHandler instance
func NewDeliveryHandler(deps *Dependencies) *DeliveryHandler {
	return &DeliveryHandler{
		logger:       deps.Logger,
		orchestrator: deps.Orchestrator,
		tracker:      deps.Tracker,
		logs:         deps.Logs,
		newsletters:  deps.Newsletters,
		subscribers:  deps.Subscribers,
		jobPublisher: deps.JobPublisher,
		db:           deps.DB,
		broker:       deps.Broker,
	}
}
