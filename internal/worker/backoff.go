package worker

import (
	"context"
	"time"
)

const (
	// DefaultMaxRetries is the number of retries before a job is dead-lettered
	DefaultMaxRetries = 3
	// DefaultBaseDelay is the delay before the first retry
	DefaultBaseDelay = 5 * time.Second

	// maxShift keeps the exponential delay from overflowing time.Duration
	maxShift = 30
)

// RetryPolicy decides how long a failed job waits and when it gives up
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// DefaultRetryPolicy returns 3 retries at 5s, 10s and 20s
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  DefaultBaseDelay,
	}
}

// Delay returns BaseDelay * 2^retryCount
func (r RetryPolicy) Delay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount > maxShift {
		retryCount = maxShift
	}
	return r.BaseDelay * time.Duration(uint64(1)<<uint(retryCount))
}

// Exhausted reports whether a job that failed at retryCount goes to the dead-letter queue
func (r RetryPolicy) Exhausted(retryCount int) bool {
	return retryCount >= r.MaxRetries
}

// infraBackoff paces retries of queue store calls while the store is unreachable.
// It is independent of the job retry count.
type infraBackoff struct {
	min  time.Duration
	max  time.Duration
	next time.Duration
}

func newInfraBackoff(min, max time.Duration) *infraBackoff {
	if min <= 0 {
		min = 500 * time.Millisecond
	}
	if max < min {
		max = min
	}
	return &infraBackoff{min: min, max: max, next: min}
}

// Next returns the current wait and doubles it for the following call
func (b *infraBackoff) Next() time.Duration {
	d := b.next
	b.next *= 2
	if b.next > b.max {
		b.next = b.max
	}
	return d
}

// Reset goes back to the minimum wait after a successful call
func (b *infraBackoff) Reset() {
	b.next = b.min
}

// sleepContext waits for d or until ctx is done. It reports whether the full wait elapsed.
func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
