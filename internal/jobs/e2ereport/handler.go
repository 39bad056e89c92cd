// Package e2ereport builds the daily end-to-end test report: one summary row
// per date and one detail row per watched application.
package e2ereport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/e2e-report-worker/internal/worker/domain"
)

// ApplicationRegistry lists the applications registered for automatic reports
type ApplicationRegistry interface {
	GetWatchingApplications(ctx context.Context) ([]domain.Application, error)
}

// Dashboard is the CI/test-dashboard API
type Dashboard interface {
	GetDailyRunsPerApplication(ctx context.Context, date domain.Date, appCodes []string) (map[string][]domain.RunRecord, error)
}

// ReportStore persists report summaries and details.
// GetSummaryByDate returns domain.ErrSummaryNotFound when no row exists.
// CreateSummary must return the existing row when one was created concurrently.
// CompleteSummary drops the details of applications not in applicationIDs and
// writes update atomically.
type ReportStore interface {
	GetSummaryByDate(ctx context.Context, date domain.Date) (*domain.Summary, error)
	CreateSummary(ctx context.Context, date domain.Date, requestID string) (*domain.Summary, error)
	UpdateSummary(ctx context.Context, id int64, update domain.SummaryUpdate) error
	CreateOrUpdateDetail(ctx context.Context, summaryID, applicationID int64, fields domain.DetailFields) error
	CompleteSummary(ctx context.Context, id int64, update domain.SummaryUpdate, applicationIDs []int64) error
}

// Handler generates the E2E report of one date
type Handler struct {
	registry  ApplicationRegistry
	dashboard Dashboard
	store     ReportStore
	logger    *slog.Logger
}

// NewHandler creates an E2E report handler
func NewHandler(registry ApplicationRegistry, dashboard Dashboard, store ReportStore, logger *slog.Logger) *Handler {
	return &Handler{
		registry:  registry,
		dashboard: dashboard,
		store:     store,
		logger:    logger.With(slog.String("handler", "e2e_report")),
	}
}

// Handle recomputes the report for payload.Date from scratch. The summary is
// only marked ready after every detail row is written, together with removing
// the rows of applications no longer watched; any failure leaves it pending
// for the next attempt.
func (h *Handler) Handle(ctx context.Context, payload domain.E2EReportPayload) error {
	logger := h.logger.With(
		slog.String("date", payload.Date.String()),
		slog.String("request_id", payload.RequestID),
	)

	apps, err := h.registry.GetWatchingApplications(ctx)
	if err != nil {
		return fmt.Errorf("failed to get watching applications: %w", err)
	}

	if len(apps) == 0 {
		logger.Info("No watching applications, nothing to report")
		return nil
	}

	summary, err := h.prepareSummary(ctx, logger, payload)
	if err != nil {
		return err
	}

	codes := make([]string, len(apps))
	ids := make([]int64, len(apps))
	for i, app := range apps {
		codes[i] = app.Code
		ids[i] = app.ID
	}

	runs, err := h.dashboard.GetDailyRunsPerApplication(ctx, payload.Date, codes)
	if err != nil {
		return fmt.Errorf("failed to get daily runs from dashboard: %w", err)
	}

	update := domain.SummaryUpdate{
		Status:           domain.SummaryStatusReady,
		ApplicationCount: len(apps),
		RequestID:        payload.RequestID,
	}

	for _, app := range apps {
		fields := Aggregate(runs[app.Code])

		if err := h.store.CreateOrUpdateDetail(ctx, summary.ID, app.ID, fields); err != nil {
			return fmt.Errorf("failed to write report detail for application %s: %w", app.Code, err)
		}

		update.TotalRuns += fields.TotalRuns
		update.PassedRuns += fields.PassedRuns
		update.FailedRuns += fields.FailedRuns

		logger.Debug("Report detail written",
			slog.String("application", app.Code),
			slog.Int("total_runs", fields.TotalRuns),
			slog.Int("failed_runs", fields.FailedRuns),
		)
	}

	if err := h.store.CompleteSummary(ctx, summary.ID, update, ids); err != nil {
		return fmt.Errorf("failed to mark report summary ready: %w", err)
	}

	logger.Info("E2E report ready",
		slog.Int64("summary_id", summary.ID),
		slog.Int("applications", update.ApplicationCount),
		slog.Int("total_runs", update.TotalRuns),
		slog.Int("passed_runs", update.PassedRuns),
		slog.Int("failed_runs", update.FailedRuns),
	)

	return nil
}

// prepareSummary fetches or creates the summary for the date and puts an
// existing one back to pending so it is rebuilt.
func (h *Handler) prepareSummary(ctx context.Context, logger *slog.Logger, payload domain.E2EReportPayload) (*domain.Summary, error) {
	summary, err := h.store.GetSummaryByDate(ctx, payload.Date)
	if errors.Is(err, domain.ErrSummaryNotFound) {
		summary, err = h.store.CreateSummary(ctx, payload.Date, payload.RequestID)
		if err != nil {
			return nil, fmt.Errorf("failed to create report summary: %w", err)
		}
		logger.Info("Report summary created", slog.Int64("summary_id", summary.ID))
		return summary, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report summary: %w", err)
	}

	if summary.Status != domain.SummaryStatusPending {
		logger.Info("Recomputing existing report summary",
			slog.Int64("summary_id", summary.ID),
			slog.String("previous_status", summary.Status),
		)

		reset := domain.SummaryUpdate{
			Status:    domain.SummaryStatusPending,
			RequestID: payload.RequestID,
		}
		if err := h.store.UpdateSummary(ctx, summary.ID, reset); err != nil {
			return nil, fmt.Errorf("failed to reset report summary: %w", err)
		}
		summary.Status = domain.SummaryStatusPending
	}

	return summary, nil
}

// Aggregate counts the runs of one application. Runs with a status other
// than passed or failed only count towards the total.
func Aggregate(runs []domain.RunRecord) domain.DetailFields {
	fields := domain.DetailFields{TotalRuns: len(runs)}

	var last *domain.RunRecord
	for i := range runs {
		run := &runs[i]
		switch run.Status {
		case domain.RunStatusPassed:
			fields.PassedRuns++
		case domain.RunStatusFailed:
			fields.FailedRuns++
		}
		if last == nil || run.RunNumber > last.RunNumber {
			last = run
		}
	}

	if last != nil {
		number, status, at := last.RunNumber, last.Status, last.CreatedAt
		fields.LastRunNumber = &number
		fields.LastRunStatus = &status
		fields.LastRunAt = &at
	}

	return fields
}
