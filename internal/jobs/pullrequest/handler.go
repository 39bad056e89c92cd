package pullrequest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/e2e-report-worker/internal/worker/domain"
)

// Source fetches the current state of a pull request from the provider
type Source interface {
	GetPullRequest(ctx context.Context, repository string, number int) (*domain.PullRequest, error)
}

// Store caches pull request state
type Store interface {
	UpsertPullRequest(ctx context.Context, pr *domain.PullRequest) error
}

// Handler refreshes the cached state of one pull request
type Handler struct {
	source Source
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewHandler creates a pull request sync handler
func NewHandler(source Source, store Store, logger *slog.Logger) *Handler {
	return &Handler{
		source: source,
		store:  store,
		logger: logger.With(slog.String("handler", "pull_request_sync")),
		now:    time.Now,
	}
}

func (h *Handler) Handle(ctx context.Context, payload domain.PullRequestSyncPayload) error {
	pr, err := h.source.GetPullRequest(ctx, payload.Repository, payload.Number)
	if err != nil {
		return fmt.Errorf("failed to fetch pull request %s#%d: %w", payload.Repository, payload.Number, err)
	}

	// The cache is keyed by what was asked for, whatever the provider echoes back
	pr.Repository = payload.Repository
	pr.Number = payload.Number
	pr.SyncedAt = h.now().UTC()

	if err := h.store.UpsertPullRequest(ctx, pr); err != nil {
		return fmt.Errorf("failed to store pull request %s#%d: %w", payload.Repository, payload.Number, err)
	}

	h.logger.Info("Pull request synced",
		slog.String("repository", pr.Repository),
		slog.Int("number", pr.Number),
		slog.String("state", pr.State),
		slog.Bool("merged", pr.Merged),
	)
	return nil
}
