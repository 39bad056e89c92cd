package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/cuongbtq/e2e-report-worker/internal/queue"
	"github.com/cuongbtq/e2e-report-worker/internal/worker/domain"
)

const (
	defaultJobTimeout     = 5 * time.Minute
	defaultDequeueTimeout = 2 * time.Second
	persistTimeout        = 5 * time.Second
	infraBackoffMin       = 500 * time.Millisecond
	infraBackoffMax       = 30 * time.Second
)

// Handler executes the business logic of one job type
type Handler[P any] interface {
	Handle(ctx context.Context, payload P) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc[P any] func(ctx context.Context, payload P) error

func (f HandlerFunc[P]) Handle(ctx context.Context, payload P) error {
	return f(ctx, payload)
}

// ProcessorConfig holds the settings shared by every processor
type ProcessorConfig struct {
	Logger         *slog.Logger
	Store          queue.Store
	Policy         RetryPolicy
	Concurrency    int
	JobTimeout     time.Duration
	DequeueTimeout time.Duration
	WorkerID       string
	Now            func() time.Time
}

// Processor consumes the ready queue of one job type and runs its handler
type Processor[P any] struct {
	kind           domain.Kind[P]
	handler        Handler[P]
	store          queue.Store
	policy         RetryPolicy
	logger         *slog.Logger
	concurrency    int
	jobTimeout     time.Duration
	dequeueTimeout time.Duration
	workerID       string
	now            func() time.Time
}

// NewProcessor creates a processor for kind backed by handler
func NewProcessor[P any](kind domain.Kind[P], handler Handler[P], cfg ProcessorConfig) *Processor[P] {
	p := &Processor[P]{
		kind:           kind,
		handler:        handler,
		store:          cfg.Store,
		policy:         cfg.Policy,
		logger:         cfg.Logger,
		concurrency:    cfg.Concurrency,
		jobTimeout:     cfg.JobTimeout,
		dequeueTimeout: cfg.DequeueTimeout,
		workerID:       cfg.WorkerID,
		now:            cfg.Now,
	}

	if p.policy.BaseDelay <= 0 {
		p.policy = DefaultRetryPolicy()
	}
	if p.concurrency <= 0 {
		p.concurrency = 1
	}
	if p.jobTimeout <= 0 {
		p.jobTimeout = defaultJobTimeout
	}
	if p.dequeueTimeout < time.Second {
		// BLPOP has one second resolution
		p.dequeueTimeout = defaultDequeueTimeout
	}
	if p.workerID == "" {
		p.workerID = "worker"
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	p.logger = p.logger.With(slog.String("job_type", kind.Type.String()))

	return p
}

// Name identifies the processor in lifecycle logs
func (p *Processor[P]) Name() string {
	return "processor:" + p.kind.Type.String()
}

// JobType returns the job type this processor consumes
func (p *Processor[P]) JobType() domain.JobType {
	return p.kind.Type
}

// handleEnvelope takes one dequeued envelope through Handling to its final state
// and returns the outcome.
func (p *Processor[P]) handleEnvelope(ctx context.Context, workerName string, env *queue.Envelope) string {
	logger := p.logger.With(
		slog.String("worker_name", workerName),
		slog.String("envelope_id", env.ID),
		slog.Int("retry_count", env.RetryCount),
	)

	logger.Info("Worker received job")

	payload, err := domain.DecodePayload[P](env.Payload)
	if err != nil {
		// Can never succeed, so it is neither retried nor dead-lettered
		logger.Error("Dropping job with invalid payload",
			slog.String("error", err.Error()),
			slog.String("payload", string(env.Payload)),
		)
		return domain.OutcomeDropped
	}

	start := p.now()
	stack, err := p.execute(ctx, payload)
	if err == nil {
		logger.Info("Job completed successfully",
			slog.Duration("duration", p.now().Sub(start)),
		)
		return domain.OutcomeSucceeded
	}

	return p.handleFailure(ctx, logger, env, err, stack)
}

// execute runs the handler. The handler context is detached from ctx so that
// shutdown never interrupts a running handler; only the job timeout bounds it.
func (p *Processor[P]) execute(ctx context.Context, payload P) (stack *string, err error) {
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.jobTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			s := string(debug.Stack())
			stack = &s
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	err = p.handler.Handle(jobCtx, payload)
	if err != nil && errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("job timed out after %s: %w", p.jobTimeout, err)
	}
	return stack, err
}

// handleFailure schedules a retry or moves the envelope to the dead-letter queue
func (p *Processor[P]) handleFailure(ctx context.Context, logger *slog.Logger, env *queue.Envelope, jobErr error, stack *string) string {
	now := p.now()

	if p.policy.Exhausted(env.RetryCount) {
		entry := queue.DeadLetterEntry{
			Envelope:   *env,
			LastError:  jobErr.Error(),
			ErrorStack: stack,
			MovedAt:    now.UTC().Format(time.RFC3339Nano),
		}

		if !p.persist(ctx, logger, "dead letter", func(c context.Context) error {
			return p.store.EnqueueDeadLetter(c, entry)
		}) {
			return domain.OutcomeLost
		}

		logger.Error("Job exceeded max retries, moved to dead-letter queue",
			slog.Int("max_retries", p.policy.MaxRetries),
			slog.String("error", jobErr.Error()),
		)
		return domain.OutcomeDeadLettered
	}

	delay := p.policy.Delay(env.RetryCount)
	next := *env
	next.RetryCount = env.RetryCount + 1

	entry := queue.DelayedEntry{
		Envelope:  next,
		DueAtMS:   now.Add(delay).UnixMilli(),
		LastError: jobErr.Error(),
	}

	if !p.persist(ctx, logger, "retry", func(c context.Context) error {
		return p.store.ScheduleDelayed(c, entry)
	}) {
		return domain.OutcomeLost
	}

	level := slog.LevelWarn
	if domain.IsConfigError(jobErr) {
		// Waiting will not fix misconfiguration
		level = slog.LevelError
	}
	logger.Log(ctx, level, "Job failed, retry scheduled",
		slog.String("error", jobErr.Error()),
		slog.Int("next_retry_count", next.RetryCount),
		slog.Duration("retry_after", delay),
		slog.Bool("config_error", domain.IsConfigError(jobErr)),
	)
	return domain.OutcomeRetryScheduled
}

// persist writes a retry or dead letter, retrying the write itself while the
// queue store is unavailable. Once shutdown has begun it makes one last attempt.
// It reports whether the write landed; the failure is logged.
func (p *Processor[P]) persist(ctx context.Context, logger *slog.Logger, what string, write func(context.Context) error) bool {
	bo := newInfraBackoff(infraBackoffMin, infraBackoffMax)
	writeCtx := context.WithoutCancel(ctx)

	for {
		attemptCtx, cancel := context.WithTimeout(writeCtx, persistTimeout)
		err := write(attemptCtx)
		cancel()

		if err == nil {
			return true
		}

		if !isUnavailable(err) {
			logger.Error("Failed to persist "+what+", envelope lost",
				slog.String("error", err.Error()),
			)
			return false
		}

		wait := bo.Next()
		logger.Warn("Queue store unavailable, retrying "+what+" write",
			slog.String("error", err.Error()),
			slog.Duration("retry_after", wait),
		)

		if !sleepContext(ctx, wait) {
			attemptCtx, cancel := context.WithTimeout(writeCtx, persistTimeout)
			err := write(attemptCtx)
			cancel()
			if err == nil {
				return true
			}
			logger.Error("Shutting down with unpersisted "+what+", envelope lost",
				slog.String("error", err.Error()),
			)
			return false
		}
	}
}

// isUnavailable reports whether a write failed for lack of connectivity. The
// write context is never canceled, so a deadline is the attempt timing out.
func isUnavailable(err error) bool {
	return errors.Is(err, queue.ErrQueueUnavailable) || errors.Is(err, context.DeadlineExceeded)
}
