package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/minhhq/newsletter-be/internal/delivery/domain"
)

// LogStore handles all database operations on delivery logs
type LogStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewLogStore creates a new LogStore instance
func NewLogStore(db *sqlx.DB, logger *slog.Logger) *LogStore {
	return &LogStore{
		db:     db,
		logger: logger,
	}
}

// CreateLog inserts one delivery log row and fills in the generated id.
// Exactly one row is created per send attempt.
func (s *LogStore) CreateLog(ctx context.Context, log *domain.DeliveryLog) error {
	query := `
		INSERT INTO delivery_logs (
			newsletter_id, subscriber_id, status, sent_at, opened_at, newsletter_title
		) VALUES (
			$1, $2, $3, $4, $5, $6
		)
		RETURNING id
	`

	err := s.db.QueryRowContext(
		ctx,
		query,
		log.NewsletterID,
		log.SubscriberID,
		log.Status,
		log.SentAt,
		log.OpenedAt,
		log.NewsletterTitle,
	).Scan(&log.ID)

	if err != nil {
		return fmt.Errorf("failed to create delivery log: %w", err)
	}

	return nil
}

// MarkOpened transitions the most recent delivery log for the
// (newsletter, subscriber) pair from SENT to OPENED and stamps opened_at.
// The status check and the write happen in one guarded UPDATE, so two
// near-simultaneous pixel hits cannot both win: the second sees zero rows
// affected. Returns whether a transition happened; a FAILED, already
// OPENED, or missing row is a no-op, not an error.
func (s *LogStore) MarkOpened(ctx context.Context, newsletterID, subscriberID int64) (bool, error) {
	query := `
		UPDATE delivery_logs
		SET status = $1,
		    opened_at = NOW()
		WHERE id = (
			SELECT id FROM delivery_logs
			WHERE newsletter_id = $2 AND subscriber_id = $3
			ORDER BY id DESC
			LIMIT 1
		)
		  AND status = $4
	`

	result, err := s.db.ExecContext(ctx, query, domain.LogStatusOpened, newsletterID, subscriberID, domain.LogStatusSent)
	if err != nil {
		return false, fmt.Errorf("failed to mark delivery log opened: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected > 0 {
		s.logger.Info("Delivery log marked as opened",
			slog.Int64("newsletter_id", newsletterID),
			slog.Int64("subscriber_id", subscriberID),
		)
	}

	return rowsAffected > 0, nil
}

// LogFilter narrows ListLogs results
type LogFilter struct {
	NewsletterID int64
	SubscriberID int64
	Status       string
	PageSize     int
	Cursor       *LogCursor
}

// LogCursor marks the last row of the previous page
type LogCursor struct {
	ID int64
}

// ListLogs returns delivery logs matching the filter, newest first.
// One extra row beyond PageSize is fetched so callers can detect more pages.
func (s *LogStore) ListLogs(ctx context.Context, filter LogFilter) ([]domain.DeliveryLog, error) {
	query := `
		SELECT id, newsletter_id, subscriber_id, status, sent_at, opened_at, newsletter_title
		FROM delivery_logs
		WHERE 1=1
	`
	args := []interface{}{}
	argIdx := 1

	if filter.NewsletterID > 0 {
		query += fmt.Sprintf(" AND newsletter_id = $%d", argIdx)
		args = append(args, filter.NewsletterID)
		argIdx++
	}

	if filter.SubscriberID > 0 {
		query += fmt.Sprintf(" AND subscriber_id = $%d", argIdx)
		args = append(args, filter.SubscriberID)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND id < $%d", argIdx)
		args = append(args, filter.Cursor.ID)
		argIdx++
	}

	query += " ORDER BY id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var logs []domain.DeliveryLog
	err := s.db.SelectContext(ctx, &logs, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list delivery logs: %w", err)
	}

	return logs, nil
}

// GetStats aggregates delivery outcomes for one newsletter. The clicked
// count is aggregated from the table like the others even though nothing
// in the delivery core writes CLICKED rows today.
func (s *LogStore) GetStats(ctx context.Context, newsletterID int64) (*domain.DeliveryStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status IN ($2, $4, $5)) AS sent,
			COUNT(*) FILTER (WHERE status = $3) AS failed,
			COUNT(*) FILTER (WHERE status IN ($4, $5)) AS opened,
			COUNT(*) FILTER (WHERE status = $5) AS clicked,
			COUNT(*) AS total
		FROM delivery_logs
		WHERE newsletter_id = $1
	`

	stats := domain.DeliveryStats{NewsletterID: newsletterID}
	err := s.db.QueryRowContext(
		ctx,
		query,
		newsletterID,
		domain.LogStatusSent,
		domain.LogStatusFailed,
		domain.LogStatusOpened,
		domain.LogStatusClicked,
	).Scan(&stats.Sent, &stats.Failed, &stats.Opened, &stats.Clicked, &stats.Total)

	if err != nil {
		return nil, fmt.Errorf("failed to get delivery stats: %w", err)
	}

	return &stats, nil
}
