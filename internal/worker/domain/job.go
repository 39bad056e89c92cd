package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// JobType identifies a queue and the handler bound to it
type JobType string

const (
	JobTypeE2EReport       JobType = "e2e_report"
	JobTypeNotification    JobType = "notification"
	JobTypePullRequestSync JobType = "pull_request_sync"
)

// JobTypes lists every job type the service knows about
var JobTypes = []JobType{
	JobTypeE2EReport,
	JobTypeNotification,
	JobTypePullRequestSync,
}

// ParseJobType validates a job type coming from a producer
func ParseJobType(s string) (JobType, error) {
	for _, jt := range JobTypes {
		if string(jt) == s {
			return jt, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownJobType, s)
}

func (t JobType) String() string {
	return string(t)
}

// Kind binds a job type to its payload type so that producers and
// processors of the same job agree on the payload shape at compile time.
type Kind[P any] struct {
	Type JobType
}

var (
	E2EReport       = Kind[E2EReportPayload]{Type: JobTypeE2EReport}
	NotificationJob = Kind[NotificationPayload]{Type: JobTypeNotification}
	PullRequestSync = Kind[PullRequestSyncPayload]{Type: JobTypePullRequestSync}
)

// Validator is implemented by payloads that check their own fields after decoding
type Validator interface {
	Validate() error
}

// DateLayout is the wire format of a calendar date
const DateLayout = "2006-01-02"

// Date is a calendar date without time zone, encoded as YYYY-MM-DD
type Date struct {
	time.Time
}

// NewDate truncates t to its calendar date in t's location
func NewDate(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Time: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Date{Time: t}, nil
}

func (d Date) String() string {
	return d.Format(DateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// E2EReportPayload requests the end-to-end test report of one date
type E2EReportPayload struct {
	Date      Date   `json:"date"`
	RequestID string `json:"request_id"`
}

// UnmarshalJSON accepts requestId as an alias of request_id
func (p *E2EReportPayload) UnmarshalJSON(data []byte) error {
	type plain E2EReportPayload
	var aux struct {
		plain
		RequestIDAlias string `json:"requestId"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	*p = E2EReportPayload(aux.plain)
	if p.RequestID == "" {
		p.RequestID = aux.RequestIDAlias
	}
	return nil
}

func (p E2EReportPayload) Validate() error {
	if p.Date.IsZero() {
		return fmt.Errorf("date is required")
	}
	return nil
}

// NotificationPayload is a notification to persist for a user
type NotificationPayload struct {
	ID      string `json:"id,omitempty"`
	UserID  string `json:"user_id"`
	Kind    string `json:"kind"`
	Title   string `json:"title"`
	Message string `json:"message"`
	Link    string `json:"link,omitempty"`
}

func (p NotificationPayload) Validate() error {
	if p.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if p.Title == "" {
		return fmt.Errorf("title is required")
	}
	if p.ID != "" {
		if _, err := uuid.Parse(p.ID); err != nil {
			return fmt.Errorf("id must be a valid UUID: %w", err)
		}
	}
	return nil
}

// PullRequestSyncPayload asks for the cached state of one pull request to be refreshed
type PullRequestSyncPayload struct {
	Repository string `json:"repository"`
	Number     int    `json:"number"`
}

func (p PullRequestSyncPayload) Validate() error {
	if p.Repository == "" || !strings.Contains(p.Repository, "/") {
		return fmt.Errorf("repository must be in owner/name form, got %q", p.Repository)
	}
	if p.Number <= 0 {
		return fmt.Errorf("number must be positive, got %d", p.Number)
	}
	return nil
}
