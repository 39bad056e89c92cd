package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cuongbtq/e2e-report-worker/internal/queue"
	"github.com/cuongbtq/e2e-report-worker/internal/worker/domain"
	"golang.org/x/sync/errgroup"
)

// Runner is a long-lived loop owned by the Manager
type Runner interface {
	Name() string
	Run(ctx context.Context) error
}

// Config holds lifecycle manager configuration
type Config struct {
	Logger            *slog.Logger
	Store             queue.Store
	JobTypes          []domain.JobType
	HeartbeatInterval time.Duration
	ShutdownTimeout   time.Duration
	RestartDelay      time.Duration
}

type namedCloser struct {
	name   string
	closer io.Closer
}

// Manager starts and stops every processor and scheduler together and owns
// the connections they share.
type Manager struct {
	logger            *slog.Logger
	store             queue.Store
	jobTypes          []domain.JobType
	heartbeatInterval time.Duration
	shutdownTimeout   time.Duration
	restartDelay      time.Duration

	mu      sync.Mutex
	runners []Runner
	closers []namedCloser
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewManager creates a lifecycle manager
func NewManager(cfg *Config) *Manager {
	m := &Manager{
		logger:            cfg.Logger,
		store:             cfg.Store,
		jobTypes:          cfg.JobTypes,
		heartbeatInterval: cfg.HeartbeatInterval,
		shutdownTimeout:   cfg.ShutdownTimeout,
		restartDelay:      cfg.RestartDelay,
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.shutdownTimeout <= 0 {
		m.shutdownTimeout = 30 * time.Second
	}
	if m.restartDelay <= 0 {
		m.restartDelay = time.Second
	}
	return m
}

// Register adds a runner. Runners must be registered before Start.
func (m *Manager) Register(r Runner) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runners = append(m.runners, r)
}

// AddCloser registers a connection to close after every runner has stopped.
// Closers run in reverse registration order.
func (m *Manager) AddCloser(name string, c io.Closer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closers = append(m.closers, namedCloser{name: name, closer: c})
}

// Start launches every registered runner and returns immediately
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return errors.New("worker manager already started")
	}
	if len(m.runners) == 0 {
		return errors.New("worker manager has no runners registered")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true

	m.logger.Info("Starting worker manager",
		slog.Int("runners", len(m.runners)),
	)

	g, gctx := errgroup.WithContext(runCtx)
	for _, r := range m.runners {
		r := r
		g.Go(func() error {
			m.supervise(gctx, r)
			return nil
		})
	}
	if m.heartbeatInterval > 0 && m.store != nil {
		g.Go(func() error {
			m.reportDepth(gctx)
			return nil
		})
	}

	go func() {
		_ = g.Wait()
		close(m.done)
	}()

	return nil
}

// Done is closed once every runner has returned
func (m *Manager) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

// Stop signals every runner to stop taking new work, waits for in-flight
// jobs to finish and then closes the registered connections. It never
// abandons a running handler: past the shutdown timeout it only warns.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		m.closeAll()
		return
	}
	m.running = false
	cancel := m.cancel
	done := m.done
	m.mu.Unlock()

	m.logger.Info("Stopping worker manager...")
	cancel()

	started := time.Now()
	ticker := time.NewTicker(m.shutdownTimeout)
	defer ticker.Stop()

	for waiting := true; waiting; {
		select {
		case <-done:
			waiting = false
		case <-ticker.C:
			m.logger.Warn("Shutdown timeout exceeded, still waiting for in-flight jobs",
				slog.Duration("waited", time.Since(started)),
			)
		}
	}

	m.closeAll()
	m.logger.Info("Worker manager stopped",
		slog.Duration("shutdown_duration", time.Since(started)),
	)
}

// supervise runs r until ctx is canceled, restarting it if it exits early
func (m *Manager) supervise(ctx context.Context, r Runner) {
	for {
		err := runSafely(ctx, r)
		if ctx.Err() != nil {
			return
		}

		attrs := []any{slog.String("runner", r.Name()), slog.Duration("restart_after", m.restartDelay)}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		m.logger.Error("Runner exited unexpectedly, restarting", attrs...)

		if !sleepContext(ctx, m.restartDelay) {
			return
		}
	}
}

func runSafely(ctx context.Context, r Runner) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("runner %s panicked: %v\n%s", r.Name(), rec, debug.Stack())
		}
	}()
	return r.Run(ctx)
}

// reportDepth periodically logs queue depths per job type
func (m *Manager) reportDepth(ctx context.Context) {
	ticker := time.NewTicker(m.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, jt := range m.jobTypes {
				depth, err := m.store.Depth(ctx, jt)
				if err != nil {
					if ctx.Err() == nil {
						m.logger.Warn("Failed to read queue depth",
							slog.String("job_type", jt.String()),
							slog.String("error", err.Error()),
						)
					}
					continue
				}
				m.logger.Info("Queue depth",
					slog.String("job_type", jt.String()),
					slog.Int64("ready", depth.Ready),
					slog.Int64("delayed", depth.Delayed),
					slog.Int64("dead_letters", depth.DeadLetters),
				)
			}
		}
	}
}

func (m *Manager) closeAll() {
	m.mu.Lock()
	closers := m.closers
	m.closers = nil
	m.mu.Unlock()

	for i := len(closers) - 1; i >= 0; i-- {
		c := closers[i]
		if err := c.closer.Close(); err != nil {
			m.logger.Error("Failed to close connection",
				slog.String("name", c.name),
				slog.Any("error", err),
			)
		}
	}
}
