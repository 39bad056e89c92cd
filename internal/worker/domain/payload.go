package domain

import (
	"encoding/json"
	"fmt"
)

// DecodePayload unmarshals raw into P and runs its Validate method when it
// has one. Every failure wraps ErrInvalidPayload.
func DecodePayload[P any](raw json.RawMessage) (P, error) {
	var payload P
	if len(raw) == 0 {
		return payload, fmt.Errorf("%w: empty payload", ErrInvalidPayload)
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return payload, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if v, ok := any(payload).(Validator); ok {
		if err := v.Validate(); err != nil {
			return payload, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	}
	return payload, nil
}

// ValidatePayload decodes raw as the payload type bound to jobType
func ValidatePayload(jobType JobType, raw json.RawMessage) error {
	var err error
	switch jobType {
	case JobTypeE2EReport:
		_, err = DecodePayload[E2EReportPayload](raw)
	case JobTypeNotification:
		_, err = DecodePayload[NotificationPayload](raw)
	case JobTypePullRequestSync:
		_, err = DecodePayload[PullRequestSyncPayload](raw)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownJobType, jobType)
	}
	return err
}
