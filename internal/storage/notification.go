package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/e2e-report-worker/internal/worker/domain"
)

// CreateNotification inserts a notification. An existing id is left as is so
// a retried job does not duplicate the row.
func (s *Storage) CreateNotification(ctx context.Context, n *domain.Notification) error {
	query := `
		INSERT INTO notifications (id, user_id, kind, title, message, link, created_at)
		VALUES (:id, :user_id, :kind, :title, :message, :link, :created_at)
		ON CONFLICT (id) DO NOTHING
	`

	result, err := s.db.NamedExecContext(ctx, query, n)
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}

	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		s.logger.Info("Notification already exists, skipping insert",
			slog.String("notification_id", n.ID),
		)
	}

	return nil
}

// ListNotifications returns the latest notifications of a user
func (s *Storage) ListNotifications(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, user_id, kind, title, message, link, created_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2
	`

	var notifications []domain.Notification
	if err := s.db.SelectContext(ctx, &notifications, query, userID, limit); err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}

	return notifications, nil
}
