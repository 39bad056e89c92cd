package domain

import "errors"

var (
	// ErrInvalidPayload is returned when a job payload cannot be decoded or fails validation
	ErrInvalidPayload = errors.New("invalid job payload")

	// ErrUnknownJobType is returned when a producer names a job type nobody handles
	ErrUnknownJobType = errors.New("unknown job type")

	// ErrMissingCredentials is returned when an external API is called without configured credentials.
	// It does not resolve by waiting, so it is logged louder than other handler failures.
	ErrMissingCredentials = errors.New("missing API credentials")

	// ErrSummaryNotFound is returned when no report summary exists for a date
	ErrSummaryNotFound = errors.New("report summary not found")
)

// ConfigError marks a handler failure caused by misconfiguration
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return "configuration error: " + e.Err.Error()
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError wraps err as a configuration error
func NewConfigError(err error) error {
	return &ConfigError{Err: err}
}

// IsConfigError reports whether err was caused by misconfiguration
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr) || errors.Is(err, ErrMissingCredentials)
}
