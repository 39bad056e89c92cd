package e2ereport

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/e2e-report-worker/internal/queue"
	"github.com/cuongbtq/e2e-report-worker/internal/worker/domain"
)

const sweepPageSize = 100

// DeadLetterReader lists dead letters without removing them
type DeadLetterReader interface {
	ListDeadLetters(ctx context.Context, jobType domain.JobType, offset, limit int) ([]queue.DeadLetterEntry, error)
}

// SummaryMarker flags the summary of a date as failed
type SummaryMarker interface {
	MarkSummaryFailed(ctx context.Context, date domain.Date) (bool, error)
}

// SweepResult counts what a sweep saw and changed
type SweepResult struct {
	DeadLetters int
	Dates       int
	Marked      int
	Skipped     int
}

// SweepDeadLetters marks the summary of every dead-lettered report date as
// failed. Summaries that are already ready or failed are left alone, and the
// dead letters themselves are never removed.
func SweepDeadLetters(ctx context.Context, reader DeadLetterReader, marker SummaryMarker, logger *slog.Logger) (SweepResult, error) {
	var result SweepResult
	seen := make(map[string]bool)

	for offset := 0; ; offset += sweepPageSize {
		entries, err := reader.ListDeadLetters(ctx, domain.JobTypeE2EReport, offset, sweepPageSize)
		if err != nil {
			return result, fmt.Errorf("failed to list dead letters: %w", err)
		}

		for _, entry := range entries {
			result.DeadLetters++

			payload, err := domain.DecodePayload[domain.E2EReportPayload](entry.Envelope.Payload)
			if err != nil {
				logger.Warn("Skipping dead letter with undecodable payload",
					slog.String("envelope_id", entry.Envelope.ID),
					slog.String("error", err.Error()),
				)
				result.Skipped++
				continue
			}

			date := payload.Date.String()
			if seen[date] {
				continue
			}
			seen[date] = true
			result.Dates++

			changed, err := marker.MarkSummaryFailed(ctx, payload.Date)
			if err != nil {
				return result, fmt.Errorf("failed to mark summary of %s failed: %w", date, err)
			}
			if changed {
				result.Marked++
				logger.Info("Report summary marked failed",
					slog.String("date", date),
					slog.String("envelope_id", entry.Envelope.ID),
					slog.String("last_error", entry.LastError),
				)
			}
		}

		if len(entries) < sweepPageSize {
			return result, nil
		}
	}
}
