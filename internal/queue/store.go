package queue

import (
	"context"
	"errors"
	"time"

	"github.com/cuongbtq/e2e-report-worker/internal/worker/domain"
)

var (
	// ErrQueueUnavailable is returned when the backing store cannot be reached
	ErrQueueUnavailable = errors.New("queue store unavailable")

	// ErrMalformedEnvelope is returned when a ready item is not a decodable envelope
	ErrMalformedEnvelope = errors.New("malformed envelope")
)

// Enqueuer is the producer side of the queue
type Enqueuer interface {
	EnqueueReady(ctx context.Context, env Envelope) error
}

// Store holds the ready, delayed and dead-letter lists of every job type
type Store interface {
	Enqueuer

	// DequeueReady pops the oldest ready envelope, blocking up to timeout.
	// It returns (nil, nil) when the timeout elapses with nothing to pop.
	DequeueReady(ctx context.Context, jobType domain.JobType, timeout time.Duration) (*Envelope, error)

	// ScheduleDelayed stores entry until its due time
	ScheduleDelayed(ctx context.Context, entry DelayedEntry) error

	// PopDueDelayed atomically removes and returns up to limit entries due at or before now
	PopDueDelayed(ctx context.Context, jobType domain.JobType, now time.Time, limit int) ([]DelayedEntry, error)

	// EnqueueDeadLetter appends entry to the dead-letter list
	EnqueueDeadLetter(ctx context.Context, entry DeadLetterEntry) error

	// ListDeadLetters reads dead letters without removing them
	ListDeadLetters(ctx context.Context, jobType domain.JobType, offset, limit int) ([]DeadLetterEntry, error)

	// Depth returns the list sizes of a job type
	Depth(ctx context.Context, jobType domain.JobType) (*Depth, error)
}
