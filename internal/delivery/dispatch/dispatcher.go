package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/minhhq/newsletter-be/internal/delivery/domain"
	"github.com/minhhq/newsletter-be/internal/delivery/queue"
	"github.com/minhhq/newsletter-be/internal/delivery/transport"
)

// LogStore persists per-recipient delivery outcomes.
type LogStore interface {
	CreateLog(ctx context.Context, log *domain.DeliveryLog) error
}

// Config holds dispatcher configuration
type Config struct {
	Logger       *slog.Logger
	Queue        *queue.Queue
	LogStore     LogStore
	Transport    transport.Transport
	Workers      int
	DrainBacklog int
	BaseURL      string
}

// Dispatcher drains the delivery queue on a bounded pool of worker
// goroutines. Each drain trigger occupies one worker until the queue
// reports empty; concurrent drains race over the same queue, which is
// safe because Dequeue hands every task to exactly one loop. A drain
// loop only sees the tasks it personally dequeued, so no invocation can
// report batch-wide totals; reporting comes from the log store.
type Dispatcher struct {
	logger    *slog.Logger
	queue     *queue.Queue
	logStore  LogStore
	transport transport.Transport
	workers   int
	baseURL   string

	drainChan chan struct{}
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// NewDispatcher creates a dispatcher with a bounded drain-job backlog.
func NewDispatcher(cfg *Config) *Dispatcher {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 10
	}

	backlog := cfg.DrainBacklog
	if backlog <= 0 {
		backlog = 20
	}

	return &Dispatcher{
		logger:    cfg.Logger,
		queue:     cfg.Queue,
		logStore:  cfg.LogStore,
		transport: cfg.Transport,
		workers:   workers,
		baseURL:   cfg.BaseURL,
		drainChan: make(chan struct{}, backlog),
		stopChan:  make(chan struct{}),
	}
}

// Start spawns the worker pool. Workers idle until a drain is triggered.
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("Spawning dispatch worker pool",
		slog.Int("workers", d.workers),
	)

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.workerLoop(ctx, i)
	}
}

// Stop signals all workers to finish and waits for them.
func (d *Dispatcher) Stop() {
	d.logger.Info("Stopping dispatcher...")
	close(d.stopChan)
	d.wg.Wait()
	d.logger.Info("Dispatcher stopped")
}

// Trigger submits one drain job. It never blocks: when the backlog is
// full the trigger is dropped, and the scheduled sweeper picks up any
// leftover tasks on its next pass. Returns whether the job was accepted.
func (d *Dispatcher) Trigger() bool {
	select {
	case d.drainChan <- struct{}{}:
		return true
	default:
		d.logger.Warn("Drain trigger dropped - backlog full")
		return false
	}
}

// workerLoop waits for drain jobs and processes them until stopped.
func (d *Dispatcher) workerLoop(ctx context.Context, workerNum int) {
	defer d.wg.Done()

	for {
		select {
		case <-d.stopChan:
			d.logger.Info("Dispatch worker stopping - stopChan closed",
				slog.Int("worker_num", workerNum),
			)
			return

		case <-ctx.Done():
			d.logger.Info("Dispatch worker stopping - context canceled",
				slog.Int("worker_num", workerNum),
			)
			return

		case <-d.drainChan:
			d.drain(ctx, workerNum)
		}
	}
}

// drain dequeues and processes tasks until the queue reports empty.
func (d *Dispatcher) drain(ctx context.Context, workerNum int) {
	processed := 0

	for {
		task, ok := d.queue.Dequeue()
		if !ok {
			break
		}

		d.processTask(ctx, task)
		processed++
	}

	if processed > 0 {
		d.logger.Info("Drain finished",
			slog.Int("worker_num", workerNum),
			slog.Int("processed", processed),
		)
	}
}

// processTask sends one email and writes exactly one delivery log row.
// A failed recipient never aborts the drain; the failure is recorded and
// the loop moves on.
func (d *Dispatcher) processTask(ctx context.Context, task *domain.DeliveryTask) {
	body := transport.WrapHTML(task.Content, d.baseURL, task.NewsletterID, task.SubscriberID)

	log := &domain.DeliveryLog{
		NewsletterID:    task.NewsletterID,
		SubscriberID:    task.SubscriberID,
		NewsletterTitle: task.Title,
	}

	if err := d.transport.Send(ctx, task.Email, task.Title, body); err != nil {
		d.logger.Error("Delivery failed",
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

	if err := d.logStore.CreateLog(ctx, log); err != nil {
		d.logger.Error("Failed to persist delivery log",
			slog.Int64("newsletter_id", task.NewsletterID),
			slog.Int64("subscriber_id", task.SubscriberID),
			slog.String("error", err.Error()),
		)
	}
}
