package worker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/e2e-report-worker/internal/queue"
	"github.com/cuongbtq/e2e-report-worker/internal/worker/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingEnqueueStore rejects every ready-queue push
type failingEnqueueStore struct {
	queue.Store
}

func (s *failingEnqueueStore) EnqueueReady(ctx context.Context, env queue.Envelope) error {
	return fmt.Errorf("%w: rpush: connection refused", queue.ErrQueueUnavailable)
}

func newTestScheduler(store queue.Store, clock *fakeClock, batch int) *RetryScheduler {
	return NewRetryScheduler(RetrySchedulerConfig{
		Logger:    discardLogger(),
		Store:     store,
		JobTypes:  []domain.JobType{testKind.Type},
		Interval:  10 * time.Millisecond,
		BatchSize: batch,
		Now:       clock.Now,
	})
}

func scheduleAt(t *testing.T, store queue.Store, value string, due time.Time) queue.DelayedEntry {
	t.Helper()
	entry := queue.DelayedEntry{
		Envelope:  *testEnvelope(t, value, 1),
		DueAtMS:   due.UnixMilli(),
		LastError: "boom",
	}
	require.NoError(t, store.ScheduleDelayed(context.Background(), entry))
	return entry
}

func TestRetryScheduler_MovesOnlyDueEntries(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	clock := newFakeClock()
	s := newTestScheduler(store, clock, 10)

	due := scheduleAt(t, store, "due", clock.Now().Add(-time.Second))
	scheduleAt(t, store, "later", clock.Now().Add(time.Minute))

	moved, err := s.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)
	requireDepth(t, store, 1, 1, 0)

	env, err := store.DequeueReady(ctx, testKind.Type, time.Second)
	require.NoError(t, err)
	require.NotNil(t, env)
	assert.Equal(t, due.Envelope.ID, env.ID)
	assert.Equal(t, 1, env.RetryCount, "scheduler must not touch the retry count")
}

func TestRetryScheduler_DrainsSeveralBatches(t *testing.T) {
	store := newTestStore(t)
	clock := newFakeClock()
	s := newTestScheduler(store, clock, 2)

	for i := 0; i < 5; i++ {
		scheduleAt(t, store, fmt.Sprintf("v%d", i), clock.Now().Add(-time.Duration(i)*time.Second))
	}

	moved, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, moved)
	requireDepth(t, store, 5, 0, 0)
}

func TestRetryScheduler_ConcurrentSchedulersMoveEntryOnce(t *testing.T) {
	store := newTestStore(t)
	clock := newFakeClock()
	scheduleAt(t, store, "once", clock.Now())

	schedulers := []*RetryScheduler{
		newTestScheduler(store, clock, 10),
		newTestScheduler(store, clock, 10),
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for _, s := range schedulers {
		wg.Add(1)
		go func(s *RetryScheduler) {
			defer wg.Done()
			moved, err := s.Tick(context.Background())
			assert.NoError(t, err)
			mu.Lock()
			total += moved
			mu.Unlock()
		}(s)
	}
	wg.Wait()

	assert.Equal(t, 1, total)
	requireDepth(t, store, 1, 0, 0)
}

func TestRetryScheduler_RestoresEntriesWhenEnqueueFails(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	clock := newFakeClock()

	first := scheduleAt(t, store, "a", clock.Now().Add(-2*time.Second))
	second := scheduleAt(t, store, "b", clock.Now().Add(-time.Second))

	s := newTestScheduler(&failingEnqueueStore{Store: store}, clock, 10)
	moved, err := s.Tick(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, queue.ErrQueueUnavailable)
	assert.Zero(t, moved)
	requireDepth(t, store, 0, 2, 0)

	restored, err := store.PopDueDelayed(ctx, testKind.Type, clock.Now(), 10)
	require.NoError(t, err)
	require.Len(t, restored, 2)
	assert.Equal(t, first.Envelope.ID, restored[0].Envelope.ID)
	assert.Equal(t, first.DueAtMS, restored[0].DueAtMS)
	assert.Equal(t, second.Envelope.ID, restored[1].Envelope.ID)
	assert.Equal(t, second.DueAtMS, restored[1].DueAtMS)
}

func TestRetryScheduler_RunStopsOnCancel(t *testing.T) {
	store := newTestStore(t)
	clock := newFakeClock()
	s := newTestScheduler(store, clock, 10)
	scheduleAt(t, store, "due", clock.Now())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		depth, err := store.Depth(context.Background(), testKind.Type)
		return err == nil && depth.Ready == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
