package domain

// Report summary status constants
const (
	SummaryStatusPending = "pending"
	SummaryStatusReady   = "ready"
	SummaryStatusFailed  = "failed"
)

// Run status constants reported by the test dashboard
const (
	RunStatusPassed = "passed"
	RunStatusFailed = "failed"
)

// Envelope outcomes, used in log attributes
const (
	OutcomeSucceeded      = "succeeded"
	OutcomeRetryScheduled = "retry_scheduled"
	OutcomeDeadLettered   = "dead_lettered"
	OutcomeDropped        = "dropped"
	OutcomeLost           = "lost"
)
