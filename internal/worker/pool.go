package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cuongbtq/e2e-report-worker/internal/queue"
)

// Run spawns the processor's worker goroutines and blocks until ctx is
// canceled and every goroutine has finished its current job.
func (p *Processor[P]) Run(ctx context.Context) error {
	p.logger.Info("Spawning worker pool",
		slog.Int("concurrency", p.concurrency),
		slog.String("worker_id", p.workerID),
	)

	var wg sync.WaitGroup
	for i := 0; i < p.concurrency; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			p.workerLoop(ctx, n)
		}(i)
	}

	wg.Wait()
	p.logger.Info("Worker pool stopped")
	return nil
}

// workerLoop is the sequential dequeue -> handle loop of one worker goroutine
func (p *Processor[P]) workerLoop(ctx context.Context, workerNum int) {
	workerName := fmt.Sprintf("%s-%s-%d", p.workerID, p.kind.Type, workerNum)
	p.logger.Info("Worker goroutine started",
		slog.String("worker_name", workerName),
	)

	bo := newInfraBackoff(infraBackoffMin, infraBackoffMax)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Worker goroutine stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return
		default:
		}

		p.processNext(ctx, workerName, bo)
	}
}

// processNext dequeues and handles at most one envelope. It reports whether
// an envelope was handled.
func (p *Processor[P]) processNext(ctx context.Context, workerName string, bo *infraBackoff) (handled bool) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Recovered from worker loop fault",
				slog.String("worker_name", workerName),
				slog.Any("panic", r),
			)
		}
	}()

	env, err := p.store.DequeueReady(ctx, p.kind.Type, p.dequeueTimeout)
	if err != nil {
		switch {
		case ctx.Err() != nil:
		case errors.Is(err, queue.ErrMalformedEnvelope):
			p.logger.Error("Dropping malformed envelope",
				slog.String("worker_name", workerName),
				slog.String("error", err.Error()),
			)
		case errors.Is(err, queue.ErrQueueUnavailable):
			wait := bo.Next()
			p.logger.Warn("Queue store unavailable, backing off",
				slog.String("worker_name", workerName),
				slog.String("error", err.Error()),
				slog.Duration("retry_after", wait),
			)
			sleepContext(ctx, wait)
		default:
			wait := bo.Next()
			p.logger.Error("Failed to dequeue job",
				slog.String("worker_name", workerName),
				slog.String("error", err.Error()),
				slog.Duration("retry_after", wait),
			)
			sleepContext(ctx, wait)
		}
		return false
	}
	bo.Reset()

	// Timed out with nothing to do
	if env == nil {
		return false
	}

	// Even when shutdown began during the pop, the envelope is ours now and must be handled
	p.handleEnvelope(ctx, workerName, env)
	return true
}

// ProcessOne dequeues and handles at most one envelope outside the worker
// pool. It reports whether an envelope was handled.
func (p *Processor[P]) ProcessOne(ctx context.Context) (bool, error) {
	env, err := p.store.DequeueReady(ctx, p.kind.Type, p.dequeueTimeout)
	if err != nil {
		return false, err
	}
	if env == nil {
		return false, nil
	}

	p.handleEnvelope(ctx, p.workerID, env)
	return true, nil
}
