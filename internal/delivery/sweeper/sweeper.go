package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/minhhq/newsletter-be/internal/delivery/queue"
)

// Trigger kicks off a queue drain.
type Trigger interface {
	Trigger() bool
}

// Sweeper periodically re-triggers dispatch while the queue holds tasks.
// It is a pure recovery mechanism for dropped drain triggers: it never
// seeds the queue and does nothing when the queue is empty.
type Sweeper struct {
	logger   *slog.Logger
	queue    *queue.Queue
	trigger  Trigger
	interval time.Duration
}

// NewSweeper creates a sweeper with the given sweep interval.
func NewSweeper(logger *slog.Logger, q *queue.Queue, trigger Trigger, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 10 * time.Minute
	}

	return &Sweeper{
		logger:   logger,
		queue:    q,
		trigger:  trigger,
		interval: interval,
	}
}

// Run blocks until the context is canceled, sweeping on every tick.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("Sweeper started",
		slog.Duration("interval", s.interval),
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Sweeper stopped - context canceled")
			return

		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep triggers a drain if the queue is non-empty.
func (s *Sweeper) Sweep() {
	if s.queue.IsEmpty() {
		return
	}

	pending := s.queue.Len()
	triggered := s.trigger.Trigger()

	s.logger.Info("Sweeper found pending tasks",
		slog.Int("pending", pending),
		slog.Bool("dispatch_triggered", triggered),
	)
}
