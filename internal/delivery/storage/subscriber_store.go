package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/minhhq/newsletter-be/internal/delivery/domain"
)

// SubscriberStore reads subscriber records. "Which subscribers are
// active" is the only question the delivery core asks of subscribers.
type SubscriberStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewSubscriberStore creates a new SubscriberStore instance
func NewSubscriberStore(db *sqlx.DB, logger *slog.Logger) *SubscriberStore {
	return &SubscriberStore{
		db:     db,
		logger: logger,
	}
}

// GetSubscriber retrieves a subscriber by its ID
func (s *SubscriberStore) GetSubscriber(ctx context.Context, id int64) (*domain.Subscriber, error) {
	query := `
		SELECT id, email, status
		FROM subscribers
		WHERE id = $1
	`

	var subscriber domain.Subscriber
	err := s.db.GetContext(ctx, &subscriber, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrSubscriberNotFound
		}
		return nil, fmt.Errorf("failed to get subscriber: %w", err)
	}

	return &subscriber, nil
}

// ActiveSubscribers returns every subscriber whose status is ACTIVE,
// ordered by id so a single seeding pass enqueues deterministically.
func (s *SubscriberStore) ActiveSubscribers(ctx context.Context) ([]domain.Subscriber, error) {
	query := `
		SELECT id, email, status
		FROM subscribers
		WHERE status = $1
		ORDER BY id
	`

	var subscribers []domain.Subscriber
	err := s.db.SelectContext(ctx, &subscribers, query, domain.SubscriberStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list active subscribers: %w", err)
	}

	return subscribers, nil
}
