package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cuongbtq/e2e-report-worker/internal/api/dto"
	"github.com/cuongbtq/e2e-report-worker/internal/api/handler"
	"github.com/cuongbtq/e2e-report-worker/internal/ingress"
	"github.com/cuongbtq/e2e-report-worker/internal/queue"
	"github.com/cuongbtq/e2e-report-worker/internal/worker/domain"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *queue.RedisStore {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return queue.NewRedisStore(client, "", discardLogger())
}

type unavailableStore struct {
	handler.QueueStore
}

func (unavailableStore) EnqueueReady(context.Context, queue.Envelope) error {
	return queue.ErrQueueUnavailable
}

func (unavailableStore) Depth(context.Context, domain.JobType) (*queue.Depth, error) {
	return nil, queue.ErrQueueUnavailable
}

type recordingPublisher struct {
	messages []any
	err      error
}

func (p *recordingPublisher) PublishJSON(_ context.Context, v any) error {
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, v)
	return nil
}

type staticCheck struct {
	err error
}

func (c staticCheck) HealthCheck(context.Context) error {
	return c.err
}

func serve(t *testing.T, r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestEnqueueJob(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
	}{
		{
			name:       "valid e2e report",
			path:       "/api/v1/jobs/e2e_report",
			body:       `{"date":"2025-10-01","request_id":"r1"}`,
			wantStatus: http.StatusAccepted,
		},
		{
			name:       "valid notification",
			path:       "/api/v1/jobs/notification",
			body:       `{"user_id":"u1","title":"Report ready"}`,
			wantStatus: http.StatusAccepted,
		},
		{
			name:       "unknown job type",
			path:       "/api/v1/jobs/email",
			body:       `{}`,
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "invalid payload",
			path:       "/api/v1/jobs/pull_request_sync",
			body:       `{"repository":"web","number":1}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "empty body",
			path:       "/api/v1/jobs/notification",
			body:       ``,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(t)
			r := SetupRouter(&handler.Dependencies{Logger: discardLogger(), Queue: store})

			w := serve(t, r, http.MethodPost, tt.path, tt.body)
			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())

			if tt.wantStatus != http.StatusAccepted {
				return
			}

			var resp dto.EnqueueJobResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.EnvelopeID)
			assert.Equal(t, "redis", resp.Transport)

			env, err := store.DequeueReady(context.Background(), domain.JobType(resp.JobType), time.Second)
			require.NoError(t, err)
			require.NotNil(t, env)
			assert.Equal(t, resp.EnvelopeID, env.ID)
			assert.JSONEq(t, tt.body, string(env.Payload))
		})
	}
}

func TestEnqueueJob_QueueUnavailable(t *testing.T) {
	r := SetupRouter(&handler.Dependencies{Logger: discardLogger(), Queue: unavailableStore{}})

	w := serve(t, r, http.MethodPost, "/api/v1/jobs/notification", `{"user_id":"u1","title":"t"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestEnqueueJob_ThroughPublisher(t *testing.T) {
	store := newTestStore(t)
	publisher := &recordingPublisher{}
	r := SetupRouter(&handler.Dependencies{Logger: discardLogger(), Queue: store, Publisher: publisher})

	w := serve(t, r, http.MethodPost, "/api/v1/jobs/pull_request_sync", `{"repository":"acme/web","number":4}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var resp dto.EnqueueJobResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "rabbitmq", resp.Transport)
	assert.Empty(t, resp.EnvelopeID)

	require.Len(t, publisher.messages, 1)
	msg, ok := publisher.messages[0].(ingress.Message)
	require.True(t, ok)
	assert.Equal(t, "pull_request_sync", msg.JobType)
	assert.JSONEq(t, `{"repository":"acme/web","number":4}`, string(msg.Payload))

	depth, err := store.Depth(context.Background(), domain.JobTypePullRequestSync)
	require.NoError(t, err)
	assert.Zero(t, depth.Ready, "published jobs reach the ready list through the ingress consumer")

	w = serve(t, r, http.MethodPost, "/api/v1/jobs/pull_request_sync", `{"repository":"acme/web"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Len(t, publisher.messages, 1)
}

func TestEnqueueJob_PublisherFailure(t *testing.T) {
	publisher := &recordingPublisher{err: errors.New("channel closed")}
	r := SetupRouter(&handler.Dependencies{Logger: discardLogger(), Queue: newTestStore(t), Publisher: publisher})

	w := serve(t, r, http.MethodPost, "/api/v1/jobs/notification", `{"user_id":"u1","title":"t"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestListDeadLetters_Pagination(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	r := SetupRouter(&handler.Dependencies{Logger: discardLogger(), Queue: store})

	var ids []string
	for i := 0; i < 3; i++ {
		env := queue.NewEnvelope(domain.JobTypeNotification, json.RawMessage(`{"user_id":"u1","title":"t"}`))
		env.RetryCount = 3
		ids = append(ids, env.ID)
		require.NoError(t, store.EnqueueDeadLetter(ctx, queue.DeadLetterEntry{
			Envelope:  env,
			LastError: "attempt 4 failed",
			MovedAt:   time.Now().UTC().Format(time.RFC3339),
		}))
	}

	w := serve(t, r, http.MethodGet, "/api/v1/dead-letters/notification?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)

	var page dto.ListDeadLettersResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.DeadLetters, 2)
	assert.Equal(t, ids[0], page.DeadLetters[0].EnvelopeID)
	assert.Equal(t, 3, page.DeadLetters[0].RetryCount)
	assert.Equal(t, "attempt 4 failed", page.DeadLetters[0].LastError)
	require.NotNil(t, page.NextOffset)
	assert.Equal(t, 2, *page.NextOffset)

	w = serve(t, r, http.MethodGet, "/api/v1/dead-letters/notification?offset=2&limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)

	page = dto.ListDeadLettersResponse{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.DeadLetters, 1)
	assert.Equal(t, ids[2], page.DeadLetters[0].EnvelopeID)
	assert.Nil(t, page.NextOffset)

	// Listing is read only
	depth, err := store.Depth(ctx, domain.JobTypeNotification)
	require.NoError(t, err)
	assert.Equal(t, int64(3), depth.DeadLetters)

	w = serve(t, r, http.MethodGet, "/api/v1/dead-letters/notification?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQueueDepth(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	r := SetupRouter(&handler.Dependencies{Logger: discardLogger(), Queue: store})

	require.NoError(t, store.EnqueueReady(ctx, queue.NewEnvelope(domain.JobTypeE2EReport, json.RawMessage(`{"date":"2025-10-01"}`))))
	require.NoError(t, store.ScheduleDelayed(ctx, queue.DelayedEntry{
		Envelope: queue.NewEnvelope(domain.JobTypeE2EReport, json.RawMessage(`{"date":"2025-10-02"}`)),
		DueAtMS:  time.Now().Add(time.Minute).UnixMilli(),
	}))

	w := serve(t, r, http.MethodGet, "/api/v1/queues/e2e_report/depth", "")
	require.Equal(t, http.StatusOK, w.Code)

	var depth queue.Depth
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &depth))
	assert.Equal(t, queue.Depth{JobType: domain.JobTypeE2EReport, Ready: 1, Delayed: 1}, depth)

	w = serve(t, r, http.MethodGet, "/api/v1/queues", "")
	require.Equal(t, http.StatusOK, w.Code)

	var all struct {
		Queues []queue.Depth `json:"queues"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &all))
	assert.Len(t, all.Queues, len(domain.JobTypes))

	w = serve(t, r, http.MethodGet, "/api/v1/queues/email/depth", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestQueueDepth_Unavailable(t *testing.T) {
	r := SetupRouter(&handler.Dependencies{Logger: discardLogger(), Queue: unavailableStore{}})

	w := serve(t, r, http.MethodGet, "/api/v1/queues/e2e_report/depth", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]handler.HealthChecker
		wantStatus int
		wantHealth string
	}{
		{
			name:       "no checks",
			wantStatus: http.StatusOK,
			wantHealth: "healthy",
		},
		{
			name:       "all checks pass",
			checks:     map[string]handler.HealthChecker{"redis": staticCheck{}},
			wantStatus: http.StatusOK,
			wantHealth: "healthy",
		},
		{
			name: "one check fails",
			checks: map[string]handler.HealthChecker{
				"redis":    staticCheck{},
				"rabbitmq": staticCheck{err: errors.New("connection closed")},
			},
			wantStatus: http.StatusServiceUnavailable,
			wantHealth: "unhealthy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := SetupRouter(&handler.Dependencies{Logger: discardLogger(), Queue: unavailableStore{}, HealthChecks: tt.checks})

			w := serve(t, r, http.MethodGet, "/health", "")
			require.Equal(t, tt.wantStatus, w.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.wantHealth, body["status"])
			assert.Equal(t, ServiceName, body["service"])
		})
	}
}

func TestMiddleware(t *testing.T) {
	r := SetupRouter(&handler.Dependencies{Logger: discardLogger(), Queue: unavailableStore{}})

	w := serve(t, r, http.MethodOptions, "/api/v1/jobs/notification", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get(RequestIDHeader))
}
