package queue

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cuongbtq/e2e-report-worker/internal/worker/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRedisStore(client, "", logger), mr
}

func testEnvelope(t *testing.T, requestID string) Envelope {
	t.Helper()
	payload, err := json.Marshal(map[string]string{"date": "2025-10-01", "request_id": requestID})
	require.NoError(t, err)
	return NewEnvelope(domain.JobTypeE2EReport, payload)
}

func TestRedisStore_ReadyQueueIsFIFO(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	first := testEnvelope(t, "r1")
	second := testEnvelope(t, "r2")
	require.NoError(t, store.EnqueueReady(ctx, first))
	require.NoError(t, store.EnqueueReady(ctx, second))

	got, err := store.DequeueReady(ctx, domain.JobTypeE2EReport, time.Second)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, first.ID, got.ID)
	assert.JSONEq(t, string(first.Payload), string(got.Payload))
	assert.Equal(t, 0, got.RetryCount)

	got, err = store.DequeueReady(ctx, domain.JobTypeE2EReport, time.Second)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, second.ID, got.ID)
}

func TestRedisStore_DequeueReadyTimeoutReturnsNil(t *testing.T) {
	store, _ := newTestStore(t)

	got, err := store.DequeueReady(context.Background(), domain.JobTypeNotification, time.Second)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisStore_DequeueReadyMalformed(t *testing.T) {
	store, mr := newTestStore(t)

	_, err := mr.RPush("jobs:notification:ready", "{not json")
	require.NoError(t, err)

	got, err := store.DequeueReady(context.Background(), domain.JobTypeNotification, time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedEnvelope)
	assert.Nil(t, got)

	// The bad item is consumed, not left at the head of the list
	assert.False(t, mr.Exists("jobs:notification:ready"))
}

func TestRedisStore_PopDueDelayedOnlyReturnsDueEntries(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	now := time.UnixMilli(1_760_000_000_000)

	due := DelayedEntry{Envelope: testEnvelope(t, "due"), DueAtMS: now.UnixMilli() - 1, LastError: "boom"}
	exact := DelayedEntry{Envelope: testEnvelope(t, "exact"), DueAtMS: now.UnixMilli(), LastError: "boom"}
	future := DelayedEntry{Envelope: testEnvelope(t, "future"), DueAtMS: now.UnixMilli() + 1, LastError: "boom"}

	for _, e := range []DelayedEntry{future, due, exact} {
		require.NoError(t, store.ScheduleDelayed(ctx, e))
	}

	entries, err := store.PopDueDelayed(ctx, domain.JobTypeE2EReport, now, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.LessOrEqual(t, e.DueAtMS, now.UnixMilli())
		assert.Equal(t, "boom", e.LastError)
	}
	assert.Equal(t, due.Envelope.ID, entries[0].Envelope.ID)
	assert.Equal(t, exact.Envelope.ID, entries[1].Envelope.ID)

	// Popped entries are gone, the future one stays
	entries, err = store.PopDueDelayed(ctx, domain.JobTypeE2EReport, now, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)

	depth, err := store.Depth(ctx, domain.JobTypeE2EReport)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth.Delayed)
}

func TestRedisStore_PopDueDelayedRespectsLimit(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.ScheduleDelayed(ctx, DelayedEntry{
			Envelope: testEnvelope(t, "r"),
			DueAtMS:  now.UnixMilli() - int64(i),
		}))
	}

	entries, err := store.PopDueDelayed(ctx, domain.JobTypeE2EReport, now, 2)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	entries, err = store.PopDueDelayed(ctx, domain.JobTypeE2EReport, now, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestRedisStore_PopDueDelayedConcurrentCallersNeverShare(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	const total = 50
	for i := 0; i < total; i++ {
		require.NoError(t, store.ScheduleDelayed(ctx, DelayedEntry{
			Envelope: testEnvelope(t, "r"),
			DueAtMS:  now.UnixMilli() - 1,
		}))
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				entries, err := store.PopDueDelayed(ctx, domain.JobTypeE2EReport, now, 3)
				if err != nil || len(entries) == 0 {
					return
				}
				mu.Lock()
				for _, e := range entries {
					seen[e.Envelope.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, total)
	for id, n := range seen {
		assert.Equal(t, 1, n, "entry %s popped %d times", id, n)
	}
}

func TestRedisStore_DeadLetters(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	stack := "goroutine 1 [running]"
	env := testEnvelope(t, "dead")
	env.RetryCount = 3
	require.NoError(t, store.EnqueueDeadLetter(ctx, DeadLetterEntry{
		Envelope:   env,
		LastError:  "dashboard unreachable",
		ErrorStack: &stack,
		MovedAt:    "2025-10-01T10:00:00Z",
	}))
	require.NoError(t, store.EnqueueDeadLetter(ctx, DeadLetterEntry{
		Envelope:  testEnvelope(t, "dead-2"),
		LastError: "other",
		MovedAt:   "2025-10-01T10:00:01Z",
	}))

	entries, err := store.ListDeadLetters(ctx, domain.JobTypeE2EReport, 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, env.ID, entries[0].Envelope.ID)
	assert.Equal(t, 3, entries[0].Envelope.RetryCount)
	assert.Equal(t, "dashboard unreachable", entries[0].LastError)
	require.NotNil(t, entries[0].ErrorStack)
	assert.Equal(t, stack, *entries[0].ErrorStack)
	assert.Nil(t, entries[1].ErrorStack)

	entries, err = store.ListDeadLetters(ctx, domain.JobTypeE2EReport, 1, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "other", entries[0].LastError)

	// Listing is read-only
	depth, err := store.Depth(ctx, domain.JobTypeE2EReport)
	require.NoError(t, err)
	assert.Equal(t, int64(2), depth.DeadLetters)
}

func TestRedisStore_KeysArePerJobType(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.EnqueueReady(ctx, NewEnvelope(domain.JobTypeNotification, json.RawMessage(`{}`))))

	assert.True(t, mr.Exists("jobs:notification:ready"))
	assert.False(t, mr.Exists("jobs:e2e_report:ready"))

	got, err := store.DequeueReady(ctx, domain.JobTypeE2EReport, time.Second)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisStore_UnavailableWhenServerDown(t *testing.T) {
	store, mr := newTestStore(t)
	mr.Close()

	ctx := context.Background()

	err := store.EnqueueReady(ctx, testEnvelope(t, "r"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQueueUnavailable)

	_, err = store.DequeueReady(ctx, domain.JobTypeE2EReport, time.Second)
	assert.ErrorIs(t, err, ErrQueueUnavailable)

	_, err = store.PopDueDelayed(ctx, domain.JobTypeE2EReport, time.Now(), 10)
	assert.ErrorIs(t, err, ErrQueueUnavailable)

	err = store.ScheduleDelayed(ctx, DelayedEntry{Envelope: testEnvelope(t, "r")})
	assert.ErrorIs(t, err, ErrQueueUnavailable)
}

type dialTimeoutError struct{}

func (dialTimeoutError) Error() string   { return "i/o timeout" }
func (dialTimeoutError) Timeout() bool   { return true }
func (dialTimeoutError) Temporary() bool { return true }

// Is matches the way net reports dial timeouts
func (dialTimeoutError) Is(target error) bool { return target == context.DeadlineExceeded }

func TestRedisStore_DialTimeoutIsUnavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:       "203.0.113.1:6379",
		MaxRetries: -1,
		Dialer: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return nil, &net.OpError{Op: "dial", Net: network, Err: dialTimeoutError{}}
		},
	})
	t.Cleanup(func() { _ = client.Close() })
	store := NewRedisStore(client, "", slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx := context.Background()

	err := store.ScheduleDelayed(ctx, DelayedEntry{Envelope: testEnvelope(t, "r")})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQueueUnavailable)

	err = store.EnqueueDeadLetter(ctx, DeadLetterEntry{Envelope: testEnvelope(t, "r")})
	assert.ErrorIs(t, err, ErrQueueUnavailable)

	_, err = store.DequeueReady(ctx, domain.JobTypeE2EReport, time.Second)
	assert.ErrorIs(t, err, ErrQueueUnavailable)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	err = store.EnqueueReady(canceled, testEnvelope(t, "r"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrQueueUnavailable, "an ended caller context is not an outage")
}

func TestRedisStore_CustomPrefix(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	store := NewRedisStore(client, "reports:", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, store.EnqueueDeadLetter(context.Background(), DeadLetterEntry{Envelope: testEnvelope(t, "r")}))

	assert.True(t, mr.Exists("reports:e2e_report:dead"))
}

func TestRedisStore_ClaimOnce(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	claimed, err := store.ClaimOnce(ctx, "e2e_report:2025-10-01", time.Hour)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = store.ClaimOnce(ctx, "e2e_report:2025-10-01", time.Hour)
	require.NoError(t, err)
	assert.False(t, claimed, "second claim of the same name loses")

	claimed, err = store.ClaimOnce(ctx, "e2e_report:2025-10-02", time.Hour)
	require.NoError(t, err)
	assert.True(t, claimed)

	mr.FastForward(2 * time.Hour)

	claimed, err = store.ClaimOnce(ctx, "e2e_report:2025-10-01", time.Hour)
	require.NoError(t, err)
	assert.True(t, claimed, "claim is free again after the marker expires")
}
