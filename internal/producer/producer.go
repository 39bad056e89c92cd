// Package producer puts new jobs on the ready queues
package producer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cuongbtq/e2e-report-worker/internal/queue"
	"github.com/cuongbtq/e2e-report-worker/internal/worker/domain"
)

// Enqueue validates payload and appends a fresh envelope for it to the ready
// list of kind. It returns the enqueued envelope.
func Enqueue[P any](ctx context.Context, q queue.Enqueuer, kind domain.Kind[P], payload P) (queue.Envelope, error) {
	if v, ok := any(payload).(domain.Validator); ok {
		if err := v.Validate(); err != nil {
			return queue.Envelope{}, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
		}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return queue.Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", kind.Type, err)
	}

	return enqueue(ctx, q, kind.Type, raw)
}

// EnqueueRaw enqueues an already encoded payload, for producers that only
// know the job type at run time. The payload is decoded as the job type's
// payload and rejected with domain.ErrInvalidPayload if it does not fit.
func EnqueueRaw(ctx context.Context, q queue.Enqueuer, jobType string, raw json.RawMessage) (queue.Envelope, error) {
	jt, err := domain.ParseJobType(jobType)
	if err != nil {
		return queue.Envelope{}, err
	}

	if err := domain.ValidatePayload(jt, raw); err != nil {
		return queue.Envelope{}, err
	}

	return enqueue(ctx, q, jt, raw)
}

func enqueue(ctx context.Context, q queue.Enqueuer, jobType domain.JobType, raw json.RawMessage) (queue.Envelope, error) {
	env := queue.NewEnvelope(jobType, raw)
	if err := q.EnqueueReady(ctx, env); err != nil {
		return queue.Envelope{}, fmt.Errorf("failed to enqueue %s job: %w", jobType, err)
	}
	return env, nil
}
