package domain

import "time"

// Task status constants (in-memory only, never persisted)
const (
	TaskStatusPending = "PENDING"
	TaskStatusSent    = "SENT"
	TaskStatusFailed  = "FAILED"
)

// DeliveryLog status constants
const (
	LogStatusSent    = "SENT"
	LogStatusFailed  = "FAILED"
	LogStatusOpened  = "OPENED"
	LogStatusClicked = "CLICKED"
)

// Newsletter status constants
const (
	NewsletterStatusDraft     = "DRAFT"
	NewsletterStatusPublished = "PUBLISHED"
)

// Subscriber status constants
const (
	SubscriberStatusActive       = "ACTIVE"
	SubscriberStatusUnsubscribed = "UNSUBSCRIBED"
)

// DeliveryTask represents one pending send to one subscriber.
// Tasks live only in the in-memory queue; once a worker dequeues a task
// and writes its DeliveryLog, the task is discarded.
type DeliveryTask struct {
	SubscriberID int64
	Email        string
	NewsletterID int64
	Title        string
	Content      string // HTML
	Status       string
}

// DeliveryLog is the durable record of one send attempt. OPENED and
// CLICKED are updates to an existing SENT row, never fresh rows.
type DeliveryLog struct {
	ID              int64      `db:"id"`
	NewsletterID    int64      `db:"newsletter_id"`
	SubscriberID    int64      `db:"subscriber_id"`
	Status          string     `db:"status"`
	SentAt          *time.Time `db:"sent_at"`
	OpenedAt        *time.Time `db:"opened_at"`
	NewsletterTitle string     `db:"newsletter_title"`
}

// Newsletter is read-only from the delivery core's perspective.
type Newsletter struct {
	ID      int64  `db:"id"`
	Title   string `db:"title"`
	Content string `db:"content"`
	Status  string `db:"status"`
}

// Subscriber is read-only from the delivery core's perspective.
type Subscriber struct {
	ID     int64  `db:"id"`
	Email  string `db:"email"`
	Status string `db:"status"`
}

// DeliveryStats aggregates per-newsletter delivery outcomes.
// Clicked is part of the reporting surface even though no core component
// currently produces CLICKED rows.
type DeliveryStats struct {
	NewsletterID int64 `db:"newsletter_id"`
	Sent         int   `db:"sent"`
	Failed       int   `db:"failed"`
	Opened       int   `db:"opened"`
	Clicked      int   `db:"clicked"`
	Total        int   `db:"total"`
}

// BatchJobMessage is the RabbitMQ payload that launches a batch delivery job.
type BatchJobMessage struct {
	JobID        string `json:"job_id"`
	NewsletterID int64  `json:"newsletter_id"`
}
