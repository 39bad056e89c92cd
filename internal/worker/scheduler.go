package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cuongbtq/e2e-report-worker/internal/queue"
	"github.com/cuongbtq/e2e-report-worker/internal/worker/domain"
)

const (
	defaultSchedulerInterval = time.Second
	defaultSchedulerBatch    = 100
	// maxBatchesPerTick bounds one drain so a large backlog cannot starve the other job types
	maxBatchesPerTick = 50
)

// RetrySchedulerConfig holds retry scheduler settings
type RetrySchedulerConfig struct {
	Logger    *slog.Logger
	Store     queue.Store
	JobTypes  []domain.JobType
	Interval  time.Duration
	BatchSize int
	Now       func() time.Time
}

// RetryScheduler moves due retries from the delayed sets back onto the ready queues.
// Several instances may run at once; the store's atomic pop hands each entry to one of them.
type RetryScheduler struct {
	logger    *slog.Logger
	store     queue.Store
	jobTypes  []domain.JobType
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

// NewRetryScheduler creates a retry scheduler
func NewRetryScheduler(cfg RetrySchedulerConfig) *RetryScheduler {
	s := &RetryScheduler{
		logger:    cfg.Logger,
		store:     cfg.Store,
		jobTypes:  cfg.JobTypes,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		now:       cfg.Now,
	}
	if s.interval <= 0 {
		s.interval = defaultSchedulerInterval
	}
	if s.batchSize <= 0 {
		s.batchSize = defaultSchedulerBatch
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With(slog.String("component", "retry_scheduler"))
	return s
}

// Name identifies the scheduler in lifecycle logs
func (s *RetryScheduler) Name() string {
	return "retry-scheduler"
}

// Run ticks until ctx is canceled
func (s *RetryScheduler) Run(ctx context.Context) error {
	s.logger.Info("Retry scheduler started",
		slog.Duration("interval", s.interval),
		slog.Int("batch_size", s.batchSize),
		slog.Int("job_types", len(s.jobTypes)),
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	bo := newInfraBackoff(infraBackoffMin, infraBackoffMax)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Retry scheduler stopped")
			return nil
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil && errors.Is(err, queue.ErrQueueUnavailable) {
				wait := bo.Next()
				s.logger.Warn("Queue store unavailable, backing off",
					slog.String("error", err.Error()),
					slog.Duration("retry_after", wait),
				)
				sleepContext(ctx, wait)
				continue
			}
			bo.Reset()
		}
	}
}

// Tick re-queues every entry that is due now and returns how many were moved.
// The returned error is the last store error seen, if any.
func (s *RetryScheduler) Tick(ctx context.Context) (int, error) {
	var (
		moved   int
		lastErr error
	)
	for _, jt := range s.jobTypes {
		n, err := s.drain(ctx, jt)
		moved += n
		if err != nil {
			lastErr = err
			if ctx.Err() == nil {
				s.logger.Error("Failed to release due retries",
					slog.String("job_type", jt.String()),
					slog.String("error", err.Error()),
				)
			}
		}
	}
	return moved, lastErr
}

func (s *RetryScheduler) drain(ctx context.Context, jt domain.JobType) (int, error) {
	moved := 0
	for batch := 0; batch < maxBatchesPerTick; batch++ {
		now := s.now()
		entries, err := s.store.PopDueDelayed(ctx, jt, now, s.batchSize)
		if err != nil {
			return moved, err
		}

		for i, entry := range entries {
			if err := s.store.EnqueueReady(ctx, entry.Envelope); err != nil {
				s.restore(ctx, entries[i:])
				return moved, err
			}
			moved++
			s.logger.Debug("Retry released to ready queue",
				slog.String("job_type", jt.String()),
				slog.String("envelope_id", entry.Envelope.ID),
				slog.Int("retry_count", entry.Envelope.RetryCount),
				slog.Duration("late_by", now.Sub(entry.DueAt())),
			)
		}

		if len(entries) < s.batchSize {
			break
		}
	}

	if moved > 0 {
		s.logger.Info("Released due retries",
			slog.String("job_type", jt.String()),
			slog.Int("count", moved),
		)
	}
	return moved, nil
}

// restore puts popped but not re-queued entries back with their original due time
func (s *RetryScheduler) restore(ctx context.Context, entries []queue.DelayedEntry) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	for _, entry := range entries {
		if err := s.store.ScheduleDelayed(writeCtx, entry); err != nil {
			s.logger.Error("Failed to restore delayed entry, envelope lost",
				slog.String("envelope_id", entry.Envelope.ID),
				slog.Int("retry_count", entry.Envelope.RetryCount),
				slog.String("error", err.Error()),
			)
		}
	}
}
