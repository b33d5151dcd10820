package batch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/minhhq/newsletter-be/internal/delivery/domain"
	"github.com/minhhq/newsletter-be/internal/delivery/queue"
	"github.com/minhhq/newsletter-be/internal/delivery/transport"
)

// NewsletterStore looks up the newsletter for a batch job.
type NewsletterStore interface {
	GetNewsletter(ctx context.Context, id int64) (*domain.Newsletter, error)
}

// SubscriberStore lists recipients when the reader seeds the queue.
type SubscriberStore interface {
	ActiveSubscribers(ctx context.Context) ([]domain.Subscriber, error)
}

// LogStore persists per-recipient delivery outcomes.
type LogStore interface {
	CreateLog(ctx context.Context, log *domain.DeliveryLog) error
}

// Config holds pipeline dependencies
type Config struct {
	Logger      *slog.Logger
	Queue       *queue.Queue
	Newsletters NewsletterStore
	Subscribers SubscriberStore
	Logs        LogStore
	Transport   transport.Transport
	BaseURL     string
}

// Pipeline is the batch delivery path: a reader that drains the shared
// delivery queue (seeding it from the active subscriber list when it
// finds the queue empty), a processor that wraps content in the batch
// HTML envelope, and a writer that transmits and records each send.
//
// It is launched by batch-job messages, not by the orchestrator, and may
// run concurrently with the dispatcher over the same queue. That is safe
// only because Dequeue hands each task to exactly one consumer; the two
// paths share no other coordination.
type Pipeline struct {
	logger      *slog.Logger
	queue       *queue.Queue
	newsletters NewsletterStore
	subscribers SubscriberStore
	logs        LogStore
	transport   transport.Transport
	baseURL     string
}

// NewPipeline creates a new Pipeline instance
func NewPipeline(cfg *Config) *Pipeline {
	return &Pipeline{
		logger:      cfg.Logger,
		queue:       cfg.Queue,
		newsletters: cfg.Newsletters,
		subscribers: cfg.Subscribers,
		logs:        cfg.Logs,
		transport:   cfg.Transport,
		baseURL:     cfg.BaseURL,
	}
}

// batchJob carries per-run reader state.
type batchJob struct {
	newsletter *domain.Newsletter
	seeded     bool
}

// Run executes one batch delivery job for the given newsletter. A failed
// recipient is recorded and skipped; only failures that prevent the job
// from starting at all (missing newsletter, subscriber query error) are
// returned.
func (p *Pipeline) Run(ctx context.Context, newsletterID int64) error {
	newsletter, err := p.newsletters.GetNewsletter(ctx, newsletterID)
	if err != nil {
		return err
	}

	job := &batchJob{newsletter: newsletter}
	processed := 0

	for {
		task, ok, err := p.read(ctx, job)
		if err != nil {
			return err
		}
		if !ok {
			break
		}

		subject, body := p.process(task)
		p.write(ctx, task, subject, body)
		processed++
	}

	p.logger.Info("Batch job finished",
		slog.Int64("newsletter_id", newsletterID),
		slog.Int("processed", processed),
	)

	return nil
}

// read is the reader step: it pulls the next task from the shared queue.
// On the first empty read of a run it seeds the queue from the full
// active-subscriber list, then resumes reading; the second empty read
// ends the run.
func (p *Pipeline) read(ctx context.Context, job *batchJob) (*domain.DeliveryTask, bool, error) {
	if task, ok := p.queue.Dequeue(); ok {
		return task, true, nil
	}

	if job.seeded {
		return nil, false, nil
	}

	subscribers, err := p.subscribers.ActiveSubscribers(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to seed delivery queue: %w", err)
	}

	for _, sub := range subscribers {
		p.queue.Enqueue(&domain.DeliveryTask{
			SubscriberID: sub.ID,
			Email:        sub.Email,
			NewsletterID: job.newsletter.ID,
			Title:        job.newsletter.Title,
			Content:      job.newsletter.Content,
			Status:       domain.TaskStatusPending,
		})
	}
	job.seeded = true

	p.logger.Info("Queue seeded by batch reader",
		slog.Int64("newsletter_id", job.newsletter.ID),
		slog.Int("subscribers", len(subscribers)),
	)

	task, ok := p.queue.Dequeue()
	return task, ok, nil
}

// process is the processor step: it builds the subject and the batch
// HTML envelope for one task.
func (p *Pipeline) process(task *domain.DeliveryTask) (string, string) {
	return task.Title, wrapBatchHTML(task, p.baseURL)
}

// write is the writer step: it transmits one email and writes exactly
// one delivery log row for the attempt.
func (p *Pipeline) write(ctx context.Context, task *domain.DeliveryTask, subject, body string) {
	log := &domain.DeliveryLog{
		NewsletterID:    task.NewsletterID,
		SubscriberID:    task.SubscriberID,
		NewsletterTitle: task.Title,
	}

	if err := p.transport.Send(ctx, task.Email, subject, body); err != nil {
		p.logger.Error("Batch delivery failed",
			slog.Int64("newsletter_id", task.NewsletterID),
			slog.Int64("subscriber_id", task.SubscriberID),
			slog.String("error", err.Error()),
		)
		task.Status = domain.TaskStatusFailed
		log.Status = domain.LogStatusFailed
	} else {
		now := time.Now()
		task.Status = domain.TaskStatusSent
		log.Status = domain.LogStatusSent
		log.SentAt = &now
	}

	if err := p.logs.CreateLog(ctx, log); err != nil {
		p.logger.Error("Failed to persist delivery log",
			slog.Int64("newsletter_id", task.NewsletterID),
			slog.Int64("subscriber_id", task.SubscriberID),
			slog.String("error", err.Error()),
		)
	}
}

// wrapBatchHTML is the batch pipeline's own envelope: subject heading,
// content, unsubscribe link and the open-tracking pixel.
func wrapBatchHTML(task *domain.DeliveryTask, baseURL string) string {
	return fmt.Sprintf(
		`<html><body><h1>%s</h1>%s<p><a href="%s/delivery/unsubscribe/%d">Unsubscribe</a></p><img src="%s/delivery/track/%d/%d" width="1" height="1" alt=""/></body></html>`,
		task.Title,
		task.Content,
		baseURL, task.SubscriberID,
		baseURL, task.NewsletterID, task.SubscriberID,
	)
}
