package dto

// Send outcome status values
const (
	SendStatusSuccess = "SUCCESS"
	SendStatusPartial = "PARTIAL"
)

// SendResponse reports the final outcome of a synchronous send.
type SendResponse struct {
	SentCount   int    `json:"sent_count"`
	FailedCount int    `json:"failed_count"`
	Status      string `json:"status"`
}

// AsyncSendResponse acknowledges an asynchronous send. The counts are
// always zero: dispatch happens after this response is written.
type AsyncSendResponse struct {
	Message     string `json:"message"`
	SentCount   int    `json:"sent_count"`
	FailedCount int    `json:"failed_count"`
}

// BatchSendResponse acknowledges a published batch job.
type BatchSendResponse struct {
	JobID   string `json:"job_id"`
	Message string `json:"message"`
}

// ListLogsRequest filters the delivery log listing.
type ListLogsRequest struct {
	NewsletterID int64  `form:"newsletter_id"`
	SubscriberID int64  `form:"subscriber_id"`
	Status       string `form:"status"`
	PageSize     int    `form:"page_size"`
	Cursor       string `form:"cursor"`
}

// ListLogsResponse is a page of delivery logs.
type ListLogsResponse struct {
	Logs       []DeliveryLogDTO `json:"logs"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

// DeliveryLogDTO is the JSON shape of one delivery log row.
type DeliveryLogDTO struct {
	ID              int64  `json:"id"`
	NewsletterID    int64  `json:"newsletter_id"`
	SubscriberID    int64  `json:"subscriber_id"`
	Status          string `json:"status"`
	SentAt          string `json:"sent_at,omitempty"`
	OpenedAt        string `json:"opened_at,omitempty"`
	NewsletterTitle string `json:"newsletter_title"`
}

// StatsResponse aggregates delivery outcomes for one newsletter.
type StatsResponse struct {
	NewsletterID int64 `json:"newsletter_id"`
	Sent         int   `json:"sent"`
	Failed       int   `json:"failed"`
	Opened       int   `json:"opened"`
	Clicked      int   `json:"clicked"`
	Total        int   `json:"total"`
}
