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

// NewsletterStore reads newsletter records. The delivery core never
// writes newsletters; authoring belongs to a separate service.
type NewsletterStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewNewsletterStore creates a new NewsletterStore instance
func NewNewsletterStore(db *sqlx.DB, logger *slog.Logger) *NewsletterStore {
	return &NewsletterStore{
		db:     db,
		logger: logger,
	}
}

// GetNewsletter retrieves a newsletter by its ID
func (s *NewsletterStore) GetNewsletter(ctx context.Context, id int64) (*domain.Newsletter, error) {
	query := `
		SELECT id, title, content, status
		FROM newsletters
		WHERE id = $1
	`

	var newsletter domain.Newsletter
	err := s.db.GetContext(ctx, &newsletter, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNewsletterNotFound
		}
		return nil, fmt.Errorf("failed to get newsletter: %w", err)
	}

	return &newsletter, nil
}
