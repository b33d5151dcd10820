package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/minhhq/newsletter-be/internal/delivery/domain"
	"github.com/minhhq/newsletter-be/internal/delivery/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNewsletterStore struct {
	newsletter *domain.Newsletter
	err        error
}

func (f *fakeNewsletterStore) GetNewsletter(ctx context.Context, id int64) (*domain.Newsletter, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.newsletter, nil
}

type fakeSubscriberStore struct {
	subscribers []domain.Subscriber
	err         error
}

func (f *fakeSubscriberStore) ActiveSubscribers(ctx context.Context) ([]domain.Subscriber, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.subscribers, nil
}

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
	log.ID = int64(len(f.logs) + 1)
	f.logs = append(f.logs, *log)
	return nil
}

// fakeTransport fails for every recipient listed in failFor.
type fakeTransport struct {
	mu      sync.Mutex
	sent    []string
	failFor map[string]bool
}

func (f *fakeTransport) Send(ctx context.Context, recipient, subject, htmlBody string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[recipient] {
		return fmt.Errorf("smtp rejected %s", recipient)
	}
	f.sent = append(f.sent, recipient)
	return nil
}

type fakeTrigger struct {
	mu    sync.Mutex
	count int
}

func (f *fakeTrigger) Trigger() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count++
	return true
}

func (f *fakeTrigger) triggered() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

func subscribers(n int) []domain.Subscriber {
	subs := make([]domain.Subscriber, n)
	for i := range subs {
		subs[i] = domain.Subscriber{
			ID:     int64(i + 1),
			Email:  fmt.Sprintf("user%d@example.com", i+1),
			Status: domain.SubscriberStatusActive,
		}
	}
	return subs
}

func newTestOrchestrator(t *testing.T, subs []domain.Subscriber, failFor map[string]bool) (*Orchestrator, *fakeLogStore, *fakeTransport, *queue.Queue, *fakeTrigger) {
	t.Helper()

	logs := &fakeLogStore{}
	tr := &fakeTransport{failFor: failFor}
	q := queue.NewQueue()
	trigger := &fakeTrigger{}

	o := NewOrchestrator(&Config{
		Logger: slog.Default(),
		Newsletters: &fakeNewsletterStore{newsletter: &domain.Newsletter{
			ID:      7,
			Title:   "Weekly Digest",
			Content: "<p>hello</p>",
			Status:  domain.NewsletterStatusPublished,
		}},
		Subscribers: &fakeSubscriberStore{subscribers: subs},
		Logs:        logs,
		Transport:   tr,
		Queue:       q,
		Dispatcher:  trigger,
		BaseURL:     "http://localhost:8080",
	})

	return o, logs, tr, q, trigger
}

func TestSendNewsletterAllSucceed(t *testing.T) {
	o, logs, _, _, _ := newTestOrchestrator(t, subscribers(3), nil)

	result, err := o.SendNewsletter(context.Background(), 7)
	require.NoError(t, err)

	assert.Equal(t, 3, result.SentCount)
	assert.Equal(t, 0, result.FailedCount)
	assert.Len(t, result.Logs, 3)
	assert.Len(t, logs.logs, 3)

	for _, log := range result.Logs {
		assert.Equal(t, domain.LogStatusSent, log.Status)
		assert.NotNil(t, log.SentAt)
		assert.Equal(t, "Weekly Digest", log.NewsletterTitle)
	}
}

func TestSendNewsletterPartialFailure(t *testing.T) {
	o, _, tr, _, _ := newTestOrchestrator(t, subscribers(3), map[string]bool{
		"user2@example.com": true,
	})

	result, err := o.SendNewsletter(context.Background(), 7)
	require.NoError(t, err)

	assert.Equal(t, 2, result.SentCount)
	assert.Equal(t, 1, result.FailedCount)
	require.Len(t, result.Logs, 3)

	// Recipient 2's failure leaves the others untouched
	assert.Equal(t, domain.LogStatusSent, result.Logs[0].Status)
	assert.Equal(t, domain.LogStatusFailed, result.Logs[1].Status)
	assert.Nil(t, result.Logs[1].SentAt)
	assert.Equal(t, domain.LogStatusSent, result.Logs[2].Status)

	assert.ElementsMatch(t, []string{"user1@example.com", "user3@example.com"}, tr.sent)
}

func TestSendNewsletterNoSubscribers(t *testing.T) {
	o, logs, _, _, _ := newTestOrchestrator(t, nil, nil)

	result, err := o.SendNewsletter(context.Background(), 7)
	require.NoError(t, err)

	assert.Equal(t, 0, result.SentCount)
	assert.Equal(t, 0, result.FailedCount)
	assert.Empty(t, result.Logs)
	assert.Empty(t, logs.logs)
}

func TestSendNewsletterConservation(t *testing.T) {
	for _, n := range []int{0, 1, 5, 17} {
		o, logs, _, _, _ := newTestOrchestrator(t, subscribers(n), map[string]bool{
			"user1@example.com": true,
			"user4@example.com": true,
		})

		result, err := o.SendNewsletter(context.Background(), 7)
		require.NoError(t, err)

		assert.Equal(t, n, result.SentCount+result.FailedCount, "n=%d", n)
		assert.Len(t, result.Logs, n, "n=%d", n)
		assert.Len(t, logs.logs, n, "n=%d", n)
	}
}

func TestSendNewsletterNotFound(t *testing.T) {
	o := NewOrchestrator(&Config{
		Logger:      slog.Default(),
		Newsletters: &fakeNewsletterStore{err: domain.ErrNewsletterNotFound},
		Subscribers: &fakeSubscriberStore{},
		Logs:        &fakeLogStore{},
		Transport:   &fakeTransport{},
		Queue:       queue.NewQueue(),
		Dispatcher:  &fakeTrigger{},
	})

	_, err := o.SendNewsletter(context.Background(), 99)
	assert.ErrorIs(t, err, domain.ErrNewsletterNotFound)

	_, err = o.SendNewsletterAsync(context.Background(), 99)
	assert.ErrorIs(t, err, domain.ErrNewsletterNotFound)
}

func TestSendNewsletterSubscriberQueryFailure(t *testing.T) {
	o := NewOrchestrator(&Config{
		Logger:      slog.Default(),
		Newsletters: &fakeNewsletterStore{newsletter: &domain.Newsletter{ID: 7}},
		Subscribers: &fakeSubscriberStore{err: errors.New("connection refused")},
		Logs:        &fakeLogStore{},
		Transport:   &fakeTransport{},
		Queue:       queue.NewQueue(),
		Dispatcher:  &fakeTrigger{},
	})

	_, err := o.SendNewsletter(context.Background(), 7)
	assert.Error(t, err)
}

func TestSendNewsletterAsyncAcknowledgement(t *testing.T) {
	o, logs, tr, q, trigger := newTestOrchestrator(t, subscribers(5), nil)

	ack, err := o.SendNewsletterAsync(context.Background(), 7)
	require.NoError(t, err)
	require.NotNil(t, ack)

	// The acknowledgement says nothing about outcomes; nothing has been
	// sent or logged yet.
	assert.Empty(t, tr.sent)
	assert.Empty(t, logs.logs)

	// All subscribers were enqueued in order and dispatch was triggered.
	assert.Equal(t, 5, q.Len())
	assert.Equal(t, 1, trigger.triggered())

	task, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, int64(1), task.SubscriberID)
	assert.Equal(t, "user1@example.com", task.Email)
	assert.Equal(t, int64(7), task.NewsletterID)
	assert.Equal(t, "Weekly Digest", task.Title)
	assert.Equal(t, domain.TaskStatusPending, task.Status)
}

func TestSendNewsletterAsyncNoSubscribers(t *testing.T) {
	o, _, _, q, trigger := newTestOrchestrator(t, nil, nil)

	ack, err := o.SendNewsletterAsync(context.Background(), 7)
	require.NoError(t, err)
	require.NotNil(t, ack)

	assert.True(t, q.IsEmpty())
	assert.Equal(t, 1, trigger.triggered())
}
