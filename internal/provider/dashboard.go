package provider

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"github.com/cuongbtq/e2e-report-worker/internal/worker/domain"
)

// DashboardClient reads test runs from the CI/test-dashboard API
type DashboardClient struct {
	client *client
}

type dailyRunsResponse struct {
	Applications map[string][]domain.RunRecord `json:"applications"`
}

// NewDashboardClient creates a dashboard API client
func NewDashboardClient(cfg *Config, logger *slog.Logger) (*DashboardClient, error) {
	if cfg.Name == "" {
		cfg.Name = "dashboard"
	}
	c, err := newClient(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &DashboardClient{client: c}, nil
}

// GetDailyRunsPerApplication fetches the runs of every application in
// appCodes for one date with a single request. Applications the dashboard
// knows nothing about are absent from the result.
func (c *DashboardClient) GetDailyRunsPerApplication(ctx context.Context, date domain.Date, appCodes []string) (map[string][]domain.RunRecord, error) {
	query := url.Values{}
	query.Set("date", date.String())
	query.Set("apps", strings.Join(appCodes, ","))

	var resp dailyRunsResponse
	if err := c.client.getJSON(ctx, "/api/v1/runs/daily", query, &resp); err != nil {
		return nil, err
	}

	if resp.Applications == nil {
		resp.Applications = make(map[string][]domain.RunRecord)
	}
	return resp.Applications, nil
}
