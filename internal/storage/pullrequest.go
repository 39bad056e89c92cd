package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cuongbtq/e2e-report-worker/internal/worker/domain"
)

// ErrPullRequestNotFound is returned when a pull request is not cached
var ErrPullRequestNotFound = errors.New("pull request not found")

// UpsertPullRequest writes the cached state of a pull request
func (s *Storage) UpsertPullRequest(ctx context.Context, pr *domain.PullRequest) error {
	query := `
		INSERT INTO pull_requests (
			repository, number, title, state, author, head_sha, merged, provider_updated_at, synced_at
		)
		VALUES (:repository, :number, :title, :state, :author, :head_sha, :merged, :provider_updated_at, :synced_at)
		ON CONFLICT (repository, number) DO UPDATE
		SET title = EXCLUDED.title,
		    state = EXCLUDED.state,
		    author = EXCLUDED.author,
		    head_sha = EXCLUDED.head_sha,
		    merged = EXCLUDED.merged,
		    provider_updated_at = EXCLUDED.provider_updated_at,
		    synced_at = EXCLUDED.synced_at
	`

	if _, err := s.db.NamedExecContext(ctx, query, pr); err != nil {
		return fmt.Errorf("failed to upsert pull request: %w", err)
	}

	return nil
}

// GetPullRequest reads the cached state of a pull request
func (s *Storage) GetPullRequest(ctx context.Context, repository string, number int) (*domain.PullRequest, error) {
	query := `
		SELECT repository, number, title, state, author, head_sha, merged, provider_updated_at, synced_at
		FROM pull_requests
		WHERE repository = $1 AND number = $2
	`

	var pr domain.PullRequest
	if err := s.db.GetContext(ctx, &pr, query, repository, number); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPullRequestNotFound
		}
		return nil, fmt.Errorf("failed to get pull request: %w", err)
	}

	return &pr, nil
}
