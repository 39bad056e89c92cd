package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/e2e-report-worker/internal/worker/domain"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const summaryColumns = `id, report_date, status, application_count, total_runs, passed_runs, failed_runs, request_id, created_at, updated_at`

// GetSummaryByDate retrieves the report summary of a date
func (s *Storage) GetSummaryByDate(ctx context.Context, date domain.Date) (*domain.Summary, error) {
	query := `SELECT ` + summaryColumns + ` FROM e2e_report_summaries WHERE report_date = $1`

	var summary domain.Summary
	if err := s.db.GetContext(ctx, &summary, query, date.Time); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrSummaryNotFound
		}
		return nil, fmt.Errorf("failed to get report summary: %w", err)
	}

	return &summary, nil
}

// CreateSummary inserts a pending summary for the date. When a row for the
// date already exists, including one inserted concurrently, that row is
// returned unchanged.
func (s *Storage) CreateSummary(ctx context.Context, date domain.Date, requestID string) (*domain.Summary, error) {
	// DO UPDATE with a no-op assignment so RETURNING yields the existing row
	query := `
		INSERT INTO e2e_report_summaries (report_date, status, request_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (report_date) DO UPDATE
		SET report_date = EXCLUDED.report_date
		RETURNING ` + summaryColumns

	var summary domain.Summary
	if err := s.db.GetContext(ctx, &summary, query, date.Time, domain.SummaryStatusPending, requestID); err != nil {
		return nil, fmt.Errorf("failed to create report summary: %w", err)
	}

	s.logger.Debug("Report summary upserted",
		slog.Int64("summary_id", summary.ID),
		slog.String("date", date.String()),
		slog.String("status", summary.Status),
	)

	return &summary, nil
}

// UpdateSummary writes the status and aggregate counters of a summary
func (s *Storage) UpdateSummary(ctx context.Context, id int64, update domain.SummaryUpdate) error {
	return updateSummary(ctx, s.db, id, update)
}

// CompleteSummary deletes the details of applications outside applicationIDs
// and writes update, in one transaction.
func (s *Storage) CompleteSummary(ctx context.Context, id int64, update domain.SummaryUpdate, applicationIDs []int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		DELETE FROM e2e_report_details
		WHERE summary_id = $1 AND NOT (application_id = ANY($2))
	`, id, pq.Array(applicationIDs))
	if err != nil {
		return fmt.Errorf("failed to delete stale report details: %w", err)
	}

	if err := updateSummary(ctx, tx, id, update); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	if removed, err := result.RowsAffected(); err == nil && removed > 0 {
		s.logger.Info("Removed report details of unwatched applications",
			slog.Int64("summary_id", id),
			slog.Int64("removed", removed),
		)
	}

	return nil
}

func updateSummary(ctx context.Context, exec sqlx.ExecerContext, id int64, update domain.SummaryUpdate) error {
	query := `
		UPDATE e2e_report_summaries
		SET status = $1,
		    application_count = $2,
		    total_runs = $3,
		    passed_runs = $4,
		    failed_runs = $5,
		    request_id = $6,
		    updated_at = NOW()
		WHERE id = $7
	`

	result, err := exec.ExecContext(ctx, query,
		update.Status,
		update.ApplicationCount,
		update.TotalRuns,
		update.PassedRuns,
		update.FailedRuns,
		update.RequestID,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to update report summary: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("report summary %d: %w", id, domain.ErrSummaryNotFound)
	}

	return nil
}

// CreateOrUpdateDetail upserts the detail row of one application in a summary
func (s *Storage) CreateOrUpdateDetail(ctx context.Context, summaryID, applicationID int64, fields domain.DetailFields) error {
	query := `
		INSERT INTO e2e_report_details (
			summary_id, application_id, total_runs, passed_runs, failed_runs,
			last_run_number, last_run_status, last_run_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (summary_id, application_id) DO UPDATE
		SET total_runs = EXCLUDED.total_runs,
		    passed_runs = EXCLUDED.passed_runs,
		    failed_runs = EXCLUDED.failed_runs,
		    last_run_number = EXCLUDED.last_run_number,
		    last_run_status = EXCLUDED.last_run_status,
		    last_run_at = EXCLUDED.last_run_at,
		    updated_at = NOW()
	`

	_, err := s.db.ExecContext(ctx, query,
		summaryID,
		applicationID,
		fields.TotalRuns,
		fields.PassedRuns,
		fields.FailedRuns,
		fields.LastRunNumber,
		fields.LastRunStatus,
		fields.LastRunAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert report detail: %w", err)
	}

	return nil
}

// ListDetails returns the detail rows of a summary ordered by application
func (s *Storage) ListDetails(ctx context.Context, summaryID int64) ([]domain.Detail, error) {
	query := `
		SELECT id, summary_id, application_id, total_runs, passed_runs, failed_runs,
		       last_run_number, last_run_status, last_run_at, updated_at
		FROM e2e_report_details
		WHERE summary_id = $1
		ORDER BY application_id
	`

	var details []domain.Detail
	if err := s.db.SelectContext(ctx, &details, query, summaryID); err != nil {
		return nil, fmt.Errorf("failed to list report details: %w", err)
	}

	return details, nil
}

// MarkSummaryFailed flags the summary of a date whose report job was
// dead-lettered. Ready summaries are left alone since a later job already
// rebuilt them. It reports whether a row changed.
func (s *Storage) MarkSummaryFailed(ctx context.Context, date domain.Date) (bool, error) {
	query := `
		UPDATE e2e_report_summaries
		SET status = $1, updated_at = NOW()
		WHERE report_date = $2 AND status = $3
	`

	result, err := s.db.ExecContext(ctx, query, domain.SummaryStatusFailed, date.Time, domain.SummaryStatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to mark report summary failed: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected > 0 {
		s.logger.Info("Report summary marked failed",
			slog.String("date", date.String()),
		)
	}

	return rowsAffected > 0, nil
}
