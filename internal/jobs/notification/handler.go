package notification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/e2e-report-worker/internal/worker/domain"
	"github.com/google/uuid"
)

// Store persists notifications. Inserting an id that already exists is a no-op.
type Store interface {
	CreateNotification(ctx context.Context, n *domain.Notification) error
}

// Handler persists a user notification
type Handler struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewHandler creates a notification handler
func NewHandler(store Store, logger *slog.Logger) *Handler {
	return &Handler{
		store:  store,
		logger: logger.With(slog.String("handler", "notification")),
		now:    time.Now,
	}
}

func (h *Handler) Handle(ctx context.Context, payload domain.NotificationPayload) error {
	n := &domain.Notification{
		ID:        payload.ID,
		UserID:    payload.UserID,
		Kind:      payload.Kind,
		Title:     payload.Title,
		Message:   payload.Message,
		CreatedAt: h.now().UTC(),
	}
	if n.ID == "" {
		// Only a producer supplied id makes a retried insert a no-op
		n.ID = uuid.NewString()
	}
	if n.Kind == "" {
		n.Kind = "info"
	}
	if payload.Link != "" {
		link := payload.Link
		n.Link = &link
	}

	if err := h.store.CreateNotification(ctx, n); err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}

	h.logger.Info("Notification created",
		slog.String("notification_id", n.ID),
		slog.String("user_id", n.UserID),
		slog.String("kind", n.Kind),
	)
	return nil
}
