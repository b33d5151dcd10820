package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/minhhq/newsletter-be/internal/delivery/domain"
	"github.com/minhhq/newsletter-be/internal/delivery/queue"
	"github.com/minhhq/newsletter-be/internal/delivery/transport"
)

// NewsletterStore looks up the newsletter being sent.
type NewsletterStore interface {
	GetNewsletter(ctx context.Context, id int64) (*domain.Newsletter, error)
}

// SubscriberStore lists the recipients of a send.
type SubscriberStore interface {
	ActiveSubscribers(ctx context.Context) ([]domain.Subscriber, error)
}

// LogStore persists per-recipient delivery outcomes.
type LogStore interface {
	CreateLog(ctx context.Context, log *domain.DeliveryLog) error
}

// Trigger kicks off an asynchronous queue drain.
type Trigger interface {
	Trigger() bool
}

// SendResult reports the final outcome of a synchronous send.
type SendResult struct {
	SentCount   int
	FailedCount int
	Logs        []domain.DeliveryLog
}

// Accepted acknowledges an asynchronous send. It deliberately carries no
// counts: the triggering call cannot know how dispatch will turn out, and
// the distinct type keeps that limitation visible at the API boundary
// instead of hiding it behind a zeroed SendResult.
type Accepted struct{}

// Config holds orchestrator dependencies
type Config struct {
	Logger      *slog.Logger
	Newsletters NewsletterStore
	Subscribers SubscriberStore
	Logs        LogStore
	Transport   transport.Transport
	Queue       *queue.Queue
	Dispatcher  Trigger
	BaseURL     string
}

// Orchestrator is the entry point for bulk sends. It offers two
// independent paths: a synchronous loop that bypasses the queue entirely
// and returns real counts, and an asynchronous path that seeds the queue
// and triggers the dispatcher.
type Orchestrator struct {
	logger      *slog.Logger
	newsletters NewsletterStore
	subscribers SubscriberStore
	logs        LogStore
	transport   transport.Transport
	queue       *queue.Queue
	dispatcher  Trigger
	baseURL     string
}

// NewOrchestrator creates a new Orchestrator instance
func NewOrchestrator(cfg *Config) *Orchestrator {
	return &Orchestrator{
		logger:      cfg.Logger,
		newsletters: cfg.Newsletters,
		subscribers: cfg.Subscribers,
		logs:        cfg.Logs,
		transport:   cfg.Transport,
		queue:       cfg.Queue,
		dispatcher:  cfg.Dispatcher,
		baseURL:     cfg.BaseURL,
	}
}

// SendNewsletter sends the newsletter to every active subscriber in-process,
// without touching the queue, and returns the final counts. A transport
// failure for one recipient is recorded as FAILED and the loop continues.
func (o *Orchestrator) SendNewsletter(ctx context.Context, newsletterID int64) (*SendResult, error) {
	newsletter, err := o.newsletters.GetNewsletter(ctx, newsletterID)
	if err != nil {
		return nil, err
	}

	subscribers, err := o.subscribers.ActiveSubscribers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active subscribers: %w", err)
	}

	o.logger.Info("Starting synchronous send",
		slog.Int64("newsletter_id", newsletterID),
		slog.Int("subscribers", len(subscribers)),
	)

	result := &SendResult{Logs: []domain.DeliveryLog{}}

	for _, sub := range subscribers {
		log := o.sendToSubscriber(ctx, newsletter, sub)
		if log.Status == domain.LogStatusSent {
			result.SentCount++
		} else {
			result.FailedCount++
		}
		result.Logs = append(result.Logs, log)
	}

	o.logger.Info("Synchronous send finished",
		slog.Int64("newsletter_id", newsletterID),
		slog.Int("sent", result.SentCount),
		slog.Int("failed", result.FailedCount),
	)

	return result, nil
}

// SendNewsletterAsync seeds the queue with one task per active subscriber
// and triggers the dispatcher. The returned acknowledgement carries no
// counts; callers observe progress through the delivery logs.
func (o *Orchestrator) SendNewsletterAsync(ctx context.Context, newsletterID int64) (*Accepted, error) {
	newsletter, err := o.newsletters.GetNewsletter(ctx, newsletterID)
	if err != nil {
		return nil, err
	}

	subscribers, err := o.subscribers.ActiveSubscribers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active subscribers: %w", err)
	}

	for _, sub := range subscribers {
		o.queue.Enqueue(&domain.DeliveryTask{
			SubscriberID: sub.ID,
			Email:        sub.Email,
			NewsletterID: newsletter.ID,
			Title:        newsletter.Title,
			Content:      newsletter.Content,
			Status:       domain.TaskStatusPending,
		})
	}

	triggered := o.dispatcher.Trigger()

	o.logger.Info("Asynchronous send accepted",
		slog.Int64("newsletter_id", newsletterID),
		slog.Int("enqueued", len(subscribers)),
		slog.Bool("dispatch_triggered", triggered),
	)

	return &Accepted{}, nil
}

// sendToSubscriber performs one send attempt and persists its log row.
func (o *Orchestrator) sendToSubscriber(ctx context.Context, newsletter *domain.Newsletter, sub domain.Subscriber) domain.DeliveryLog {
	body := transport.WrapHTML(newsletter.Content, o.baseURL, newsletter.ID, sub.ID)

	log := domain.DeliveryLog{
		NewsletterID:    newsletter.ID,
		SubscriberID:    sub.ID,
		NewsletterTitle: newsletter.Title,
	}

	if err := o.transport.Send(ctx, sub.Email, newsletter.Title, body); err != nil {
		o.logger.Error("Delivery failed",
			slog.Int64("newsletter_id", newsletter.ID),
			slog.Int64("subscriber_id", sub.ID),
			slog.String("error", err.Error()),
		)
		log.Status = domain.LogStatusFailed
	} else {
		now := time.Now()
		log.Status = domain.LogStatusSent
		log.SentAt = &now
	}

	if err := o.logs.CreateLog(ctx, &log); err != nil {
		o.logger.Error("Failed to persist delivery log",
			slog.Int64("newsletter_id", newsletter.ID),
			slog.Int64("subscriber_id", sub.ID),
			slog.String("error", err.Error()),
		)
	}

	return log
}
