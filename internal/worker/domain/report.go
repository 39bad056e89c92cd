package domain

import "time"

// Application is an application registered in the application registry
type Application struct {
	ID       int64  `db:"id"`
	Code     string `db:"code"`
	Name     string `db:"name"`
	Watching bool   `db:"watching"`
}

// RunRecord is one CI/test-dashboard run of an application
type RunRecord struct {
	RunNumber int       `json:"run_number"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Summary is the per-date aggregate row of an E2E report
type Summary struct {
	ID               int64     `db:"id"`
	ReportDate       time.Time `db:"report_date"`
	Status           string    `db:"status"`
	ApplicationCount int       `db:"application_count"`
	TotalRuns        int       `db:"total_runs"`
	PassedRuns       int       `db:"passed_runs"`
	FailedRuns       int       `db:"failed_runs"`
	RequestID        string    `db:"request_id"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

// SummaryUpdate holds the summary fields the report handler writes
type SummaryUpdate struct {
	Status           string
	ApplicationCount int
	TotalRuns        int
	PassedRuns       int
	FailedRuns       int
	RequestID        string
}

// DetailFields holds the per-application counters of a report detail row
type DetailFields struct {
	TotalRuns     int
	PassedRuns    int
	FailedRuns    int
	LastRunNumber *int
	LastRunStatus *string
	LastRunAt     *time.Time
}

// Detail is the per-(summary, application) row of an E2E report
type Detail struct {
	ID            int64      `db:"id"`
	SummaryID     int64      `db:"summary_id"`
	ApplicationID int64      `db:"application_id"`
	TotalRuns     int        `db:"total_runs"`
	PassedRuns    int        `db:"passed_runs"`
	FailedRuns    int        `db:"failed_runs"`
	LastRunNumber *int       `db:"last_run_number"`
	LastRunStatus *string    `db:"last_run_status"`
	LastRunAt     *time.Time `db:"last_run_at"`
	UpdatedAt     time.Time  `db:"updated_at"`
}

// Notification is a persisted user notification
type Notification struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	Kind      string    `db:"kind"`
	Title     string    `db:"title"`
	Message   string    `db:"message"`
	Link      *string   `db:"link"`
	CreatedAt time.Time `db:"created_at"`
}

// PullRequest is the cached state of a pull request
type PullRequest struct {
	Repository        string    `db:"repository" json:"repository"`
	Number            int       `db:"number" json:"number"`
	Title             string    `db:"title" json:"title"`
	State             string    `db:"state" json:"state"`
	Author            string    `db:"author" json:"author"`
	HeadSHA           string    `db:"head_sha" json:"head_sha"`
	Merged            bool      `db:"merged" json:"merged"`
	ProviderUpdatedAt time.Time `db:"provider_updated_at" json:"updated_at"`
	SyncedAt          time.Time `db:"synced_at" json:"-"`
}
