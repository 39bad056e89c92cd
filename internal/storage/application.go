package storage

import (
	"context"
	"fmt"

	"github.com/cuongbtq/e2e-report-worker/internal/worker/domain"
)

// GetWatchingApplications lists the applications registered for automatic reports
func (s *Storage) GetWatchingApplications(ctx context.Context) ([]domain.Application, error) {
	query := `
		SELECT id, code, name, watching
		FROM applications
		WHERE watching = TRUE
		ORDER BY code
	`

	var apps []domain.Application
	if err := s.db.SelectContext(ctx, &apps, query); err != nil {
		return nil, fmt.Errorf("failed to get watching applications: %w", err)
	}

	return apps, nil
}
