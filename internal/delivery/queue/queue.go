package queue

import (
	"sync"

	"github.com/minhhq/newsletter-be/internal/delivery/domain"
)

// Queue is an unbounded FIFO of pending delivery tasks, safe for
// concurrent producers and consumers. A dequeued task is handed to
// exactly one consumer; there is no total ordering guarantee across
// concurrent producers, only FIFO per producer.
//
// The queue is constructed at startup and injected into every producer
// and consumer rather than living as package-level state, so tests can
// use an isolated instance per case.
type Queue struct {
	mu    sync.Mutex
	tasks []*domain.DeliveryTask
}

// NewQueue creates an empty delivery queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue appends a task. It never blocks and never rejects.
func (q *Queue) Enqueue(task *domain.DeliveryTask) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.tasks = append(q.tasks, task)
}

// Dequeue removes and returns the oldest task. It returns (nil, false)
// immediately when the queue is empty; it never waits for a task.
func (q *Queue) Dequeue() (*domain.DeliveryTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return nil, false
	}

	task := q.tasks[0]
	q.tasks[0] = nil
	q.tasks = q.tasks[1:]

	return task, true
}

// IsEmpty reports whether the queue currently holds no tasks.
func (q *Queue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.tasks) == 0
}

// Len returns the number of pending tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.tasks)
}
