package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/minhhq/newsletter-be/internal/api/dto"
	"github.com/minhhq/newsletter-be/internal/delivery/domain"
	"github.com/minhhq/newsletter-be/internal/delivery/storage"
)

// SendNewsletter handles POST /delivery/newsletters/:id/send
// Sends the newsletter to every active subscriber synchronously and
// returns the final counts. Per-recipient failures are absorbed into
// failed_count; only a send that could not start at all is an HTTP error.
func (h *DeliveryHandler) SendNewsletter(c *gin.Context) {
	newsletterID, ok := h.parseID(c, "id")
	if !ok {
		return
	}

	if !h.validateContent(c, newsletterID) {
		return
	}

	result, err := h.orchestrator.SendNewsletter(c.Request.Context(), newsletterID)
	if err != nil {
		if errors.Is(err, domain.ErrNewsletterNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Newsletter not found"})
			return
		}
		h.logger.Error("Synchronous send failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to send newsletter"})
		return
	}

	status := dto.SendStatusSuccess
	if result.FailedCount > 0 {
		status = dto.SendStatusPartial
	}

	c.JSON(http.StatusOK, dto.SendResponse{
		SentCount:   result.SentCount,
		FailedCount: result.FailedCount,
		Status:      status,
	})
}

// SendNewsletterAsync handles POST /delivery/newsletters/:id/send-async
// Seeds the delivery queue and returns immediately. The zero counts are
// the acknowledgement contract: the caller learns nothing about the
// eventual outcome from this response.
func (h *DeliveryHandler) SendNewsletterAsync(c *gin.Context) {
	newsletterID, ok := h.parseID(c, "id")
	if !ok {
		return
	}

	if !h.validateContent(c, newsletterID) {
		return
	}

	_, err := h.orchestrator.SendNewsletterAsync(c.Request.Context(), newsletterID)
	if err != nil {
		if errors.Is(err, domain.ErrNewsletterNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Newsletter not found"})
			return
		}
		h.logger.Error("Asynchronous send failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to queue newsletter"})
		return
	}

	c.JSON(http.StatusAccepted, dto.AsyncSendResponse{
		Message:     "Newsletter delivery accepted",
		SentCount:   0,
		FailedCount: 0,
	})
}

// BatchSend handles POST /delivery/newsletters/:id/batch-send
// Publishes a batch job for the batch service to pick up.
func (h *DeliveryHandler) BatchSend(c *gin.Context) {
	newsletterID, ok := h.parseID(c, "id")
	if !ok {
		return
	}

	if !h.validateContent(c, newsletterID) {
		return
	}

	msg := domain.BatchJobMessage{
		JobID:        uuid.New().String(),
		NewsletterID: newsletterID,
	}

	body, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal batch job message", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to publish batch job"})
		return
	}

	if err := h.jobPublisher.PublishWithRetry(c.Request.Context(), body, "application/json"); err != nil {
		h.logger.Error("Failed to publish batch job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to publish batch job"})
		return
	}

	h.logger.Info("Batch job published",
		slog.String("job_id", msg.JobID),
		slog.Int64("newsletter_id", newsletterID),
	)

	c.JSON(http.StatusAccepted, dto.BatchSendResponse{
		JobID:   msg.JobID,
		Message: "Batch delivery job accepted",
	})
}

// Track handles GET /delivery/track/:newsletter_id/:subscriber_id
// The pixel is served unconditionally; a malformed id or missing log
// only skips the state transition.
func (h *DeliveryHandler) Track(c *gin.Context) {
	newsletterID, nErr := strconv.ParseInt(c.Param("newsletter_id"), 10, 64)
	subscriberID, sErr := strconv.ParseInt(c.Param("subscriber_id"), 10, 64)

	var pixel []byte
	if nErr == nil && sErr == nil {
		pixel = h.tracker.TrackOpen(c.Request.Context(), newsletterID, subscriberID)
	} else {
		pixel = h.tracker.TrackOpen(c.Request.Context(), 0, 0)
	}

	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Data(http.StatusOK, "image/gif", pixel)
}

// ListLogs handles GET /delivery/logs
// Lists delivery logs with optional filtering and cursor pagination
func (h *DeliveryHandler) ListLogs(c *gin.Context) {
	var req dto.ListLogsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid query parameters"})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}

	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodeLogCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid cursor"})
		return
	}

	filter := storage.LogFilter{
		NewsletterID: req.NewsletterID,
		SubscriberID: req.SubscriberID,
		Status:       req.Status,
		PageSize:     req.PageSize,
		Cursor:       cursor,
	}

	logs, err := h.logs.ListLogs(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list delivery logs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list delivery logs"})
		return
	}

	hasMore := len(logs) > req.PageSize
	if hasMore {
		logs = logs[:req.PageSize]
	}

	var nextCursor string
	if hasMore {
		nextCursor = EncodeLogCursor(&storage.LogCursor{ID: logs[len(logs)-1].ID})
	}

	c.JSON(http.StatusOK, dto.ListLogsResponse{
		Logs:       toLogDTOs(logs),
		NextCursor: nextCursor,
	})
}

// SubscriberLogs handles GET /delivery/subscriber/:id
// Returns the latest delivery logs for one subscriber
func (h *DeliveryHandler) SubscriberLogs(c *gin.Context) {
	subscriberID, ok := h.parseID(c, "id")
	if !ok {
		return
	}

	if _, err := h.subscribers.GetSubscriber(c.Request.Context(), subscriberID); err != nil {
		if errors.Is(err, domain.ErrSubscriberNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Subscriber not found"})
			return
		}
		h.logger.Error("Failed to load subscriber", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load subscriber"})
		return
	}

	logs, err := h.logs.ListLogs(c.Request.Context(), storage.LogFilter{
		SubscriberID: subscriberID,
		PageSize:     100,
	})
	if err != nil {
		h.logger.Error("Failed to list subscriber logs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list delivery logs"})
		return
	}

	if len(logs) > 100 {
		logs = logs[:100]
	}

	c.JSON(http.StatusOK, dto.ListLogsResponse{Logs: toLogDTOs(logs)})
}

// NewsletterLogs handles GET /delivery/newsletter/:id
// Returns the latest delivery logs for one newsletter
func (h *DeliveryHandler) NewsletterLogs(c *gin.Context) {
	newsletterID, ok := h.parseID(c, "id")
	if !ok {
		return
	}

	logs, err := h.logs.ListLogs(c.Request.Context(), storage.LogFilter{
		NewsletterID: newsletterID,
		PageSize:     100,
	})
	if err != nil {
		h.logger.Error("Failed to list newsletter logs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list delivery logs"})
		return
	}

	if len(logs) > 100 {
		logs = logs[:100]
	}

	c.JSON(http.StatusOK, dto.ListLogsResponse{Logs: toLogDTOs(logs)})
}

// Stats handles GET /delivery/newsletters/:id/stats
// Aggregates delivery outcomes over the log store
func (h *DeliveryHandler) Stats(c *gin.Context) {
	newsletterID, ok := h.parseID(c, "id")
	if !ok {
		return
	}

	stats, err := h.logs.GetStats(c.Request.Context(), newsletterID)
	if err != nil {
		h.logger.Error("Failed to get delivery stats", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get delivery stats"})
		return
	}

	c.JSON(http.StatusOK, dto.StatsResponse{
		NewsletterID: stats.NewsletterID,
		Sent:         stats.Sent,
		Failed:       stats.Failed,
		Opened:       stats.Opened,
		Clicked:      stats.Clicked,
		Total:        stats.Total,
	})
}

// Health handles GET /health
// Reports database and broker connectivity; a degraded dependency turns
// the response into a 503 so load balancers stop routing here.
func (h *DeliveryHandler) Health(c *gin.Context) {
	status := http.StatusOK
	dbStatus := "healthy"
	brokerStatus := "healthy"

	if err := h.db.HealthCheck(c.Request.Context()); err != nil {
		h.logger.Error("Database health check failed", slog.String("error", err.Error()))
		dbStatus = "unhealthy"
		status = http.StatusServiceUnavailable
	}

	if !h.broker.IsConnected() {
		brokerStatus = "unhealthy"
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"service":  "newsletter-delivery-service",
		"database": dbStatus,
		"rabbitmq": brokerStatus,
	})
}

// parseID parses a positive integer path parameter, writing a 400 on failure.
func (h *DeliveryHandler) parseID(c *gin.Context, param string) (int64, bool) {
	raw := c.Param(param)

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		h.logger.Error("Invalid id parameter",
			slog.String("param", param),
			slog.String("value", raw),
		)
		c.JSON(http.StatusBadRequest, gin.H{"error": param + " must be a positive integer"})
		return 0, false
	}

	return id, true
}

// validateContent rejects sends of missing or blank newsletters before
// they reach the orchestrator. Content validation belongs to the HTTP
// layer; the delivery core assumes a sendable newsletter.
func (h *DeliveryHandler) validateContent(c *gin.Context, newsletterID int64) bool {
	newsletter, err := h.newsletters.GetNewsletter(c.Request.Context(), newsletterID)
	if err != nil {
		if errors.Is(err, domain.ErrNewsletterNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Newsletter not found"})
			return false
		}
		h.logger.Error("Failed to load newsletter", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load newsletter"})
		return false
	}

	if strings.TrimSpace(newsletter.Content) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Newsletter content is empty"})
		return false
	}

	return true
}

func toLogDTOs(logs []domain.DeliveryLog) []dto.DeliveryLogDTO {
	out := make([]dto.DeliveryLogDTO, len(logs))
	for i, log := range logs {
		out[i] = dto.DeliveryLogDTO{
			ID:              log.ID,
			NewsletterID:    log.NewsletterID,
			SubscriberID:    log.SubscriberID,
			Status:          log.Status,
			NewsletterTitle: log.NewsletterTitle,
		}
		if log.SentAt != nil {
			out[i].SentAt = log.SentAt.Format(time.RFC3339)
		}
		if log.OpenedAt != nil {
			out[i].OpenedAt = log.OpenedAt.Format(time.RFC3339)
		}
	}
	return out
}
