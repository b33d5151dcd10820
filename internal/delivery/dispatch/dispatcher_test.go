package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/minhhq/newsletter-be/internal/delivery/domain"
	"github.com/minhhq/newsletter-be/internal/delivery/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLogStore struct {
	mu   sync.Mutex
	logs []domain.DeliveryLog
	err  error
}

func (f *fakeLogStore) CreateLog(ctx context.Context, log *domain.DeliveryLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.logs = append(f.logs, *log)
	return nil
}

func (f *fakeLogStore) all() []domain.DeliveryLog {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.DeliveryLog(nil), f.logs...)
}

type fakeTransport struct {
	mu      sync.Mutex
	sent    []string
	failFor map[string]bool
}

func (f *fakeTransport) Send(ctx context.Context, recipient, subject, htmlBody string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[recipient] {
		return errors.New("smtp rejected")
	}
	f.sent = append(f.sent, recipient)
	return nil
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func task(newsletterID, subscriberID int64, email string) *domain.DeliveryTask {
	return &domain.DeliveryTask{
		SubscriberID: subscriberID,
		Email:        email,
		NewsletterID: newsletterID,
		Title:        "Weekly Digest",
		Content:      "<p>hello</p>",
		Status:       domain.TaskStatusPending,
	}
}

// waitFor polls cond until it holds or the deadline expires.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestDispatcherDrainsQueue(t *testing.T) {
	q := queue.NewQueue()
	logs := &fakeLogStore{}
	tr := &fakeTransport{}

	d := NewDispatcher(&Config{
		Logger:    slog.Default(),
		Queue:     q,
		LogStore:  logs,
		Transport: tr,
		Workers:   4,
	})

	for i := int64(1); i <= 20; i++ {
		q.Enqueue(task(7, i, "user@example.com"))
	}

	d.Start(context.Background())
	defer d.Stop()

	assert.True(t, d.Trigger())

	waitFor(t, func() bool { return tr.sentCount() == 20 }, "all tasks sent")
	waitFor(t, func() bool { return len(logs.all()) == 20 }, "all logs written")
	assert.True(t, q.IsEmpty())

	for _, log := range logs.all() {
		assert.Equal(t, domain.LogStatusSent, log.Status)
		assert.NotNil(t, log.SentAt)
	}
}

func TestDispatcherFailureIsolation(t *testing.T) {
	q := queue.NewQueue()
	logs := &fakeLogStore{}
	tr := &fakeTransport{failFor: map[string]bool{"bad@example.com": true}}

	d := NewDispatcher(&Config{
		Logger:    slog.Default(),
		Queue:     q,
		LogStore:  logs,
		Transport: tr,
		Workers:   1,
	})

	q.Enqueue(task(7, 1, "ok1@example.com"))
	q.Enqueue(task(7, 2, "bad@example.com"))
	q.Enqueue(task(7, 3, "ok2@example.com"))

	d.Start(context.Background())
	defer d.Stop()

	require.True(t, d.Trigger())

	waitFor(t, func() bool { return len(logs.all()) == 3 }, "one log per task")

	sent, failed := 0, 0
	for _, log := range logs.all() {
		switch log.Status {
		case domain.LogStatusSent:
			sent++
			assert.NotNil(t, log.SentAt)
		case domain.LogStatusFailed:
			failed++
			assert.Nil(t, log.SentAt)
			assert.Equal(t, int64(2), log.SubscriberID)
		}
	}
	assert.Equal(t, 2, sent)
	assert.Equal(t, 1, failed)
	assert.True(t, q.IsEmpty())
}

func TestDispatcherTriggerDropsWhenBacklogFull(t *testing.T) {
	d := NewDispatcher(&Config{
		Logger:       slog.Default(),
		Queue:        queue.NewQueue(),
		LogStore:     &fakeLogStore{},
		Transport:    &fakeTransport{},
		Workers:      2,
		DrainBacklog: 3,
	})

	// No workers running: triggers accumulate in the backlog until it fills.
	assert.True(t, d.Trigger())
	assert.True(t, d.Trigger())
	assert.True(t, d.Trigger())
	assert.False(t, d.Trigger())
	assert.False(t, d.Trigger())
}

func TestDispatcherTriggerNeverBlocks(t *testing.T) {
	d := NewDispatcher(&Config{
		Logger:       slog.Default(),
		Queue:        queue.NewQueue(),
		LogStore:     &fakeLogStore{},
		Transport:    &fakeTransport{},
		DrainBacklog: 1,
	})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			d.Trigger()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Trigger blocked with a full backlog")
	}
}

func TestDispatcherConcurrentDrainsNoDoubleDelivery(t *testing.T) {
	q := queue.NewQueue()
	logs := &fakeLogStore{}
	tr := &fakeTransport{}

	d := NewDispatcher(&Config{
		Logger:    slog.Default(),
		Queue:     q,
		LogStore:  logs,
		Transport: tr,
		Workers:   8,
	})

	for i := int64(1); i <= 200; i++ {
		q.Enqueue(task(7, i, "user@example.com"))
	}

	d.Start(context.Background())
	defer d.Stop()

	// Several triggers race over the same queue.
	for i := 0; i < 8; i++ {
		d.Trigger()
	}

	waitFor(t, func() bool { return len(logs.all()) == 200 }, "exactly one log per task")

	seen := make(map[int64]bool)
	for _, log := range logs.all() {
		assert.False(t, seen[log.SubscriberID], "task %d delivered twice", log.SubscriberID)
		seen[log.SubscriberID] = true
	}
	assert.Equal(t, 200, tr.sentCount())
}

func TestDispatcherLogStoreFailureDoesNotAbortDrain(t *testing.T) {
	q := queue.NewQueue()
	logs := &fakeLogStore{err: errors.New("db down")}
	tr := &fakeTransport{}

	d := NewDispatcher(&Config{
		Logger:    slog.Default(),
		Queue:     q,
		LogStore:  logs,
		Transport: tr,
		Workers:   1,
	})

	q.Enqueue(task(7, 1, "a@example.com"))
	q.Enqueue(task(7, 2, "b@example.com"))

	d.Start(context.Background())
	defer d.Stop()

	d.Trigger()

	waitFor(t, func() bool { return tr.sentCount() == 2 }, "both sends attempted")
	assert.True(t, q.IsEmpty())
}

func TestDispatcherStopWaitsForWorkers(t *testing.T) {
	d := NewDispatcher(&Config{
		Logger:    slog.Default(),
		Queue:     queue.NewQueue(),
		LogStore:  &fakeLogStore{},
		Transport: &fakeTransport{},
		Workers:   3,
	})

	d.Start(context.Background())

	done := make(chan struct{})
	go func() {
		d.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}
