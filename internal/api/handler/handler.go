package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/e2e-report-worker/internal/queue"
	"github.com/cuongbtq/e2e-report-worker/internal/worker/domain"
)

// QueueStore is the part of the queue store the API needs
type QueueStore interface {
	queue.Enqueuer
	ListDeadLetters(ctx context.Context, jobType domain.JobType, offset, limit int) ([]queue.DeadLetterEntry, error)
	Depth(ctx context.Context, jobType domain.JobType) (*queue.Depth, error)
}

// Publisher sends a message to the ingress exchange
type Publisher interface {
	PublishJSON(ctx context.Context, v any) error
}

// HealthChecker reports whether a backing service is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger *slog.Logger
	Queue  QueueStore

	// Publisher, when set, routes new jobs through RabbitMQ instead of
	// writing them to the ready list directly
	Publisher Publisher

	// HealthChecks are probed by GET /health, keyed by service name
	HealthChecks map[string]HealthChecker
}

// JobHandler handles job and queue related HTTP requests
type JobHandler struct {
	logger    *slog.Logger
	queue     QueueStore
	publisher Publisher
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:    deps.Logger,
		queue:     deps.Queue,
		publisher: deps.Publisher,
	}
}
