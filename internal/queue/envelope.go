package queue

import (
	"encoding/json"
	"time"

	"github.com/cuongbtq/e2e-report-worker/internal/worker/domain"
	"github.com/google/uuid"
)

// Envelope is the unit of queued work: a job payload plus delivery metadata
type Envelope struct {
	ID         string          `json:"id"`
	JobType    domain.JobType  `json:"job_type"`
	Payload    json.RawMessage `json:"payload"`
	RetryCount int             `json:"retry_count"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// NewEnvelope wraps a raw payload into a fresh envelope with retry count 0
func NewEnvelope(jobType domain.JobType, payload json.RawMessage) Envelope {
	return Envelope{
		ID:         uuid.NewString(),
		JobType:    jobType,
		Payload:    payload,
		RetryCount: 0,
		EnqueuedAt: time.Now().UTC(),
	}
}

// DelayedEntry is a failed envelope waiting for its retry
type DelayedEntry struct {
	Envelope  Envelope `json:"envelope"`
	DueAtMS   int64    `json:"due_at_ms"`
	LastError string   `json:"last_error"`
}

// DueAt returns the due time as a time.Time
func (e DelayedEntry) DueAt() time.Time {
	return time.UnixMilli(e.DueAtMS)
}

// DeadLetterEntry is an envelope that exhausted its retries
type DeadLetterEntry struct {
	Envelope   Envelope `json:"envelope"`
	LastError  string   `json:"last_error"`
	ErrorStack *string  `json:"error_stack"`
	MovedAt    string   `json:"moved_at"`
}

// Depth reports the sizes of the three lists of a job type
type Depth struct {
	JobType     domain.JobType `json:"job_type"`
	Ready       int64          `json:"ready"`
	Delayed     int64          `json:"delayed"`
	DeadLetters int64          `json:"dead_letters"`
}
