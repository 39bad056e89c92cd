package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/cuongbtq/e2e-report-worker/internal/worker/domain"
)

// PullRequestClient reads pull requests from the git provider API
type PullRequestClient struct {
	client *client
}

// NewPullRequestClient creates a pull request provider client
func NewPullRequestClient(cfg *Config, logger *slog.Logger) (*PullRequestClient, error) {
	if cfg.Name == "" {
		cfg.Name = "pull_requests"
	}
	c, err := newClient(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &PullRequestClient{client: c}, nil
}

// GetPullRequest fetches one pull request. repository is in owner/name form.
func (c *PullRequestClient) GetPullRequest(ctx context.Context, repository string, number int) (*domain.PullRequest, error) {
	owner, name, ok := strings.Cut(repository, "/")
	if !ok || owner == "" || name == "" {
		return nil, fmt.Errorf("invalid repository %q", repository)
	}

	var pr domain.PullRequest
	path := "/api/v1/repos/" + owner + "/" + name + "/pulls/" + strconv.Itoa(number)
	if err := c.client.getJSON(ctx, path, nil, &pr); err != nil {
		return nil, err
	}

	return &pr, nil
}
