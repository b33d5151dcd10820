package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/minhhq/newsletter-be/internal/api/dto"
	"github.com/minhhq/newsletter-be/internal/delivery/domain"
	"github.com/minhhq/newsletter-be/internal/delivery/orchestrator"
	"github.com/minhhq/newsletter-be/internal/delivery/storage"
	"github.com/minhhq/newsletter-be/internal/delivery/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeOrchestrator struct {
	result     *orchestrator.SendResult
	err        error
	asyncCalls int
}

func (f *fakeOrchestrator) SendNewsletter(ctx context.Context, newsletterID int64) (*orchestrator.SendResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeOrchestrator) SendNewsletterAsync(ctx context.Context, newsletterID int64) (*orchestrator.Accepted, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.asyncCalls++
	return &orchestrator.Accepted{}, nil
}

type fakeTracker struct {
	lastNewsletterID int64
	lastSubscriberID int64
	calls            int
}

func (f *fakeTracker) TrackOpen(ctx context.Context, newsletterID, subscriberID int64) []byte {
	f.calls++
	f.lastNewsletterID = newsletterID
	f.lastSubscriberID = subscriberID
	return tracker.PixelGIF
}

type fakeLogReader struct {
	logs       []domain.DeliveryLog
	stats      *domain.DeliveryStats
	err        error
	lastFilter storage.LogFilter
}

func (f *fakeLogReader) ListLogs(ctx context.Context, filter storage.LogFilter) ([]domain.DeliveryLog, error) {
	f.lastFilter = filter
	if f.err != nil {
		return nil, f.err
	}
	return f.logs, nil
}

func (f *fakeLogReader) GetStats(ctx context.Context, newsletterID int64) (*domain.DeliveryStats, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.stats, nil
}

type fakeNewsletterReader struct {
	newsletter *domain.Newsletter
	err        error
}

func (f *fakeNewsletterReader) GetNewsletter(ctx context.Context, id int64) (*domain.Newsletter, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.newsletter, nil
}

type fakeSubscriberReader struct {
	subscriber *domain.Subscriber
	err        error
}

func (f *fakeSubscriberReader) GetSubscriber(ctx context.Context, id int64) (*domain.Subscriber, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.subscriber, nil
}

type fakeJobPublisher struct {
	published [][]byte
	err       error
}

func (f *fakeJobPublisher) PublishWithRetry(ctx context.Context, body []byte, contentType string) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, body)
	return nil
}

type fakeDBHealth struct {
	err error
}

func (f *fakeDBHealth) HealthCheck(ctx context.Context) error {
	return f.err
}

type fakeBrokerHealth struct {
	disconnected bool
}

func (f *fakeBrokerHealth) IsConnected() bool {
	return !f.disconnected
}

type testDeps struct {
	orchestrator *fakeOrchestrator
	tracker      *fakeTracker
	logs         *fakeLogReader
	newsletters  *fakeNewsletterReader
	subscribers  *fakeSubscriberReader
	publisher    *fakeJobPublisher
	db           *fakeDBHealth
	broker       *fakeBrokerHealth
}

func newTestRouter(d *testDeps) *gin.Engine {
	h := NewDeliveryHandler(&Dependencies{
		Logger:       slog.Default(),
		Orchestrator: d.orchestrator,
		Tracker:      d.tracker,
		Logs:         d.logs,
		Newsletters:  d.newsletters,
		Subscribers:  d.subscribers,
		JobPublisher: d.publisher,
		DB:           d.db,
		Broker:       d.broker,
	})

	r := gin.New()
	r.GET("/health", h.Health)
	delivery := r.Group("/delivery")
	{
		delivery.POST("/newsletters/:id/send", h.SendNewsletter)
		delivery.POST("/newsletters/:id/send-async", h.SendNewsletterAsync)
		delivery.POST("/newsletters/:id/batch-send", h.BatchSend)
		delivery.GET("/newsletters/:id/stats", h.Stats)
		delivery.GET("/track/:newsletter_id/:subscriber_id", h.Track)
		delivery.GET("/logs", h.ListLogs)
		delivery.GET("/subscriber/:id", h.SubscriberLogs)
		delivery.GET("/newsletter/:id", h.NewsletterLogs)
	}
	return r
}

func defaultDeps() *testDeps {
	return &testDeps{
		orchestrator: &fakeOrchestrator{result: &orchestrator.SendResult{SentCount: 3, FailedCount: 0}},
		tracker:      &fakeTracker{},
		logs:         &fakeLogReader{stats: &domain.DeliveryStats{NewsletterID: 7, Sent: 3, Total: 3}},
		newsletters: &fakeNewsletterReader{newsletter: &domain.Newsletter{
			ID:      7,
			Title:   "Weekly Digest",
			Content: "<p>hello</p>",
			Status:  domain.NewsletterStatusPublished,
		}},
		subscribers: &fakeSubscriberReader{subscriber: &domain.Subscriber{
			ID:     42,
			Email:  "user42@example.com",
			Status: domain.SubscriberStatusActive,
		}},
		publisher: &fakeJobPublisher{},
		db:        &fakeDBHealth{},
		broker:    &fakeBrokerHealth{},
	}
}

func doRequest(r *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestSendNewsletterSuccess(t *testing.T) {
	deps := defaultDeps()
	r := newTestRouter(deps)

	w := doRequest(r, http.MethodPost, "/delivery/newsletters/7/send")
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.SendResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.SentCount)
	assert.Equal(t, 0, resp.FailedCount)
	assert.Equal(t, dto.SendStatusSuccess, resp.Status)
}

func TestSendNewsletterPartial(t *testing.T) {
	deps := defaultDeps()
	deps.orchestrator.result = &orchestrator.SendResult{SentCount: 2, FailedCount: 1}
	r := newTestRouter(deps)

	w := doRequest(r, http.MethodPost, "/delivery/newsletters/7/send")
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.SendResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, dto.SendStatusPartial, resp.Status)
	assert.Equal(t, 2, resp.SentCount)
	assert.Equal(t, 1, resp.FailedCount)
}

func TestSendNewsletterNotFound(t *testing.T) {
	deps := defaultDeps()
	deps.newsletters.err = domain.ErrNewsletterNotFound
	r := newTestRouter(deps)

	w := doRequest(r, http.MethodPost, "/delivery/newsletters/99/send")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSendNewsletterBlankContent(t *testing.T) {
	deps := defaultDeps()
	deps.newsletters.newsletter = &domain.Newsletter{ID: 7, Title: "Empty", Content: "   \n\t "}
	r := newTestRouter(deps)

	w := doRequest(r, http.MethodPost, "/delivery/newsletters/7/send")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "content is empty")
}

func TestSendNewsletterInvalidID(t *testing.T) {
	r := newTestRouter(defaultDeps())

	for _, id := range []string{"abc", "0", "-5"} {
		w := doRequest(r, http.MethodPost, "/delivery/newsletters/"+id+"/send")
		assert.Equal(t, http.StatusBadRequest, w.Code, "id=%s", id)
	}
}

func TestSendNewsletterOrchestratorFailure(t *testing.T) {
	deps := defaultDeps()
	deps.orchestrator.err = errors.New("db down")
	r := newTestRouter(deps)

	w := doRequest(r, http.MethodPost, "/delivery/newsletters/7/send")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestSendNewsletterAsyncAccepted(t *testing.T) {
	deps := defaultDeps()
	r := newTestRouter(deps)

	w := doRequest(r, http.MethodPost, "/delivery/newsletters/7/send-async")
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp dto.AsyncSendResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.SentCount)
	assert.Equal(t, 0, resp.FailedCount)
	assert.NotEmpty(t, resp.Message)
	assert.Equal(t, 1, deps.orchestrator.asyncCalls)
}

func TestBatchSendPublishesJob(t *testing.T) {
	deps := defaultDeps()
	r := newTestRouter(deps)

	w := doRequest(r, http.MethodPost, "/delivery/newsletters/7/batch-send")
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp dto.BatchSendResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	_, err := uuid.Parse(resp.JobID)
	assert.NoError(t, err)

	require.Len(t, deps.publisher.published, 1)
	var msg domain.BatchJobMessage
	require.NoError(t, json.Unmarshal(deps.publisher.published[0], &msg))
	assert.Equal(t, resp.JobID, msg.JobID)
	assert.Equal(t, int64(7), msg.NewsletterID)
}

func TestBatchSendPublishFailure(t *testing.T) {
	deps := defaultDeps()
	deps.publisher.err = errors.New("broker unavailable")
	r := newTestRouter(deps)

	w := doRequest(r, http.MethodPost, "/delivery/newsletters/7/batch-send")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestTrackReturnsPixel(t *testing.T) {
	deps := defaultDeps()
	r := newTestRouter(deps)

	w := doRequest(r, http.MethodGet, "/delivery/track/7/1")
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, "image/gif", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Cache-Control"), "no-cache")
	assert.Equal(t, tracker.PixelGIF, w.Body.Bytes())
	assert.Equal(t, int64(7), deps.tracker.lastNewsletterID)
	assert.Equal(t, int64(1), deps.tracker.lastSubscriberID)
}

func TestTrackMalformedIDsStillReturnsPixel(t *testing.T) {
	deps := defaultDeps()
	r := newTestRouter(deps)

	w := doRequest(r, http.MethodGet, "/delivery/track/abc/xyz")
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, "image/gif", w.Header().Get("Content-Type"))
	assert.Equal(t, tracker.PixelGIF, w.Body.Bytes())
	assert.Equal(t, 1, deps.tracker.calls)
	assert.Equal(t, int64(0), deps.tracker.lastNewsletterID)
}

func sampleLogs(n int) []domain.DeliveryLog {
	now := time.Now()
	logs := make([]domain.DeliveryLog, n)
	for i := range logs {
		logs[i] = domain.DeliveryLog{
			ID:              int64(n - i),
			NewsletterID:    7,
			SubscriberID:    int64(i + 1),
			Status:          domain.LogStatusSent,
			SentAt:          &now,
			NewsletterTitle: "Weekly Digest",
		}
	}
	return logs
}

func TestListLogsFirstPage(t *testing.T) {
	deps := defaultDeps()
	deps.logs.logs = sampleLogs(5)
	r := newTestRouter(deps)

	w := doRequest(r, http.MethodGet, "/delivery/logs?newsletter_id=7")
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.ListLogsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Logs, 5)
	assert.Empty(t, resp.NextCursor)
	assert.Equal(t, int64(7), deps.logs.lastFilter.NewsletterID)
	assert.Equal(t, 20, deps.logs.lastFilter.PageSize)
}

func TestListLogsNextCursorOnFullPage(t *testing.T) {
	deps := defaultDeps()
	// Store returns page_size+1 rows to signal another page.
	deps.logs.logs = sampleLogs(3)
	r := newTestRouter(deps)

	w := doRequest(r, http.MethodGet, "/delivery/logs?page_size=2")
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.ListLogsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Logs, 2)
	require.NotEmpty(t, resp.NextCursor)

	cursor, err := DecodeLogCursor(resp.NextCursor)
	require.NoError(t, err)
	assert.Equal(t, resp.Logs[1].ID, cursor.ID)
}

func TestListLogsPageSizeCap(t *testing.T) {
	deps := defaultDeps()
	r := newTestRouter(deps)

	w := doRequest(r, http.MethodGet, "/delivery/logs?page_size=500")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 100, deps.logs.lastFilter.PageSize)
}

func TestListLogsInvalidCursor(t *testing.T) {
	r := newTestRouter(defaultDeps())

	w := doRequest(r, http.MethodGet, "/delivery/logs?cursor=%21%21not-base64")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubscriberLogs(t *testing.T) {
	deps := defaultDeps()
	deps.logs.logs = sampleLogs(2)
	r := newTestRouter(deps)

	w := doRequest(r, http.MethodGet, "/delivery/subscriber/42")
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, int64(42), deps.logs.lastFilter.SubscriberID)
	assert.Equal(t, int64(0), deps.logs.lastFilter.NewsletterID)
}

func TestSubscriberLogsNotFound(t *testing.T) {
	deps := defaultDeps()
	deps.subscribers.err = domain.ErrSubscriberNotFound
	r := newTestRouter(deps)

	w := doRequest(r, http.MethodGet, "/delivery/subscriber/99")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNewsletterLogs(t *testing.T) {
	deps := defaultDeps()
	deps.logs.logs = sampleLogs(2)
	r := newTestRouter(deps)

	w := doRequest(r, http.MethodGet, "/delivery/newsletter/7")
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, int64(7), deps.logs.lastFilter.NewsletterID)
	assert.Equal(t, int64(0), deps.logs.lastFilter.SubscriberID)
}

func TestStats(t *testing.T) {
	deps := defaultDeps()
	deps.logs.stats = &domain.DeliveryStats{
		NewsletterID: 7,
		Sent:         10,
		Failed:       2,
		Opened:       4,
		Clicked:      0,
		Total:        12,
	}
	r := newTestRouter(deps)

	w := doRequest(r, http.MethodGet, "/delivery/newsletters/7/stats")
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.StatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(7), resp.NewsletterID)
	assert.Equal(t, 10, resp.Sent)
	assert.Equal(t, 2, resp.Failed)
	assert.Equal(t, 4, resp.Opened)
	assert.Equal(t, 0, resp.Clicked)
	assert.Equal(t, 12, resp.Total)
}

func TestHealth(t *testing.T) {
	t.Run("all healthy", func(t *testing.T) {
		r := newTestRouter(defaultDeps())

		w := doRequest(r, http.MethodGet, "/health")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"database":"healthy"`)
		assert.Contains(t, w.Body.String(), `"rabbitmq":"healthy"`)
	})

	t.Run("database down", func(t *testing.T) {
		deps := defaultDeps()
		deps.db.err = errors.New("connection refused")
		r := newTestRouter(deps)

		w := doRequest(r, http.MethodGet, "/health")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Body.String(), `"database":"unhealthy"`)
	})

	t.Run("broker down", func(t *testing.T) {
		deps := defaultDeps()
		deps.broker.disconnected = true
		r := newTestRouter(deps)

		w := doRequest(r, http.MethodGet, "/health")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Body.String(), `"rabbitmq":"unhealthy"`)
	})
}

func TestStatsStoreFailure(t *testing.T) {
	deps := defaultDeps()
	deps.logs.err = fmt.Errorf("db down")
	r := newTestRouter(deps)

	w := doRequest(r, http.MethodGet, "/delivery/newsletters/7/stats")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
