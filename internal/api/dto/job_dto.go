package dto

import (
	"encoding/json"

	"github.com/cuongbtq/e2e-report-worker/internal/queue"
)

type EnqueueJobResponse struct {
	JobType    string `json:"job_type"`
	EnvelopeID string `json:"envelope_id,omitempty"`
	Transport  string `json:"transport"`
}

type ListDeadLettersRequest struct {
	Offset int `form:"offset"`
	Limit  int `form:"limit"`
}

type ListDeadLettersResponse struct {
	DeadLetters []DeadLetterDTO `json:"dead_letters"`
	NextOffset  *int            `json:"next_offset,omitempty"`
}

type DeadLetterDTO struct {
	EnvelopeID string          `json:"envelope_id"`
	JobType    string          `json:"job_type"`
	Payload    json.RawMessage `json:"payload"`
	RetryCount int             `json:"retry_count"`
	LastError  string          `json:"last_error"`
	ErrorStack *string         `json:"error_stack,omitempty"`
	MovedAt    string          `json:"moved_at"`
}

func NewDeadLetterDTO(entry queue.DeadLetterEntry) DeadLetterDTO {
	return DeadLetterDTO{
		EnvelopeID: entry.Envelope.ID,
		JobType:    entry.Envelope.JobType.String(),
		Payload:    entry.Envelope.Payload,
		RetryCount: entry.Envelope.RetryCount,
		LastError:  entry.LastError,
		ErrorStack: entry.ErrorStack,
		MovedAt:    entry.MovedAt,
	}
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
