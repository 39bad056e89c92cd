// Package provider holds the HTTP clients of the external APIs the job
// handlers read from.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cuongbtq/e2e-report-worker/internal/worker/domain"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 512
)

// ErrNotFound is returned when the API answers 404
var ErrNotFound = errors.New("resource not found")

// StatusError is returned for any other non-2xx response
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// Config holds an API client configuration
type Config struct {
	Name      string
	BaseURL   string
	Token     string
	Timeout   time.Duration
	RateLimit float64
	Burst     int
	// HTTPClient overrides the default client, used by tests
	HTTPClient *http.Client
}

// client is the transport shared by the API clients: bearer auth, rate
// limiting and JSON decoding
type client struct {
	name    string
	baseURL *url.URL
	token   string
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

func newClient(cfg *Config, logger *slog.Logger) (*client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid %s base url: %w", cfg.Name, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid %s base url %q: scheme must be http or https", cfg.Name, cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &client{
		name:    cfg.Name,
		baseURL: base,
		token:   cfg.Token,
		http:    httpClient,
		limiter: limiter,
		logger:  logger.With(slog.String("provider", cfg.Name)),
	}, nil
}

// getJSON performs an authenticated GET of path and decodes the response into out
func (c *client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	if c.token == "" {
		return fmt.Errorf("%s token is not configured: %w", c.name, domain.ErrMissingCredentials)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s rate limiter: %w", c.name, err)
		}
	}

	u := c.baseURL.JoinPath(path)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", c.name, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", c.name, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("Provider request completed",
		slog.String("path", u.Path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", c.name, u.Path, ErrNotFound)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return domain.NewConfigError(fmt.Errorf("%s rejected credentials: %w", c.name,
			&StatusError{StatusCode: resp.StatusCode, Body: string(body)}))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%s %s: %w", c.name, u.Path, &StatusError{StatusCode: resp.StatusCode, Body: string(body)})
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", c.name, err)
	}

	return nil
}
