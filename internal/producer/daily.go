package producer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/e2e-report-worker/internal/queue"
	"github.com/cuongbtq/e2e-report-worker/internal/worker/domain"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

const (
	dailyReportName = "daily-report-scheduler"
	claimTTL        = 48 * time.Hour
)

// OnceClaimer grants a name to exactly one caller until the claim expires
type OnceClaimer interface {
	ClaimOnce(ctx context.Context, name string, ttl time.Duration) (bool, error)
}

// DailyReportSchedulerConfig configures a DailyReportScheduler
type DailyReportSchedulerConfig struct {
	Logger *slog.Logger
	Queue  queue.Enqueuer

	// Once deduplicates the enqueue of a date across worker instances. Nil
	// disables deduplication.
	Once OnceClaimer

	// Spec is a standard five field cron expression or a descriptor such as @daily
	Spec     string
	Location *time.Location

	// DateOffsetDays shifts the reported date, -1 reports the previous day
	DateOffsetDays int

	Now func() time.Time
}

// DailyReportScheduler enqueues an E2E report job on a cron schedule
type DailyReportScheduler struct {
	logger   *slog.Logger
	queue    queue.Enqueuer
	once     OnceClaimer
	schedule cron.Schedule
	spec     string
	location *time.Location
	offset   int
	now      func() time.Time
}

// NewDailyReportScheduler parses the cron expression of cfg
func NewDailyReportScheduler(cfg DailyReportSchedulerConfig) (*DailyReportScheduler, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(cfg.Spec)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", cfg.Spec, err)
	}

	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &DailyReportScheduler{
		logger:   cfg.Logger.With(slog.String("component", dailyReportName)),
		queue:    cfg.Queue,
		once:     cfg.Once,
		schedule: schedule,
		spec:     cfg.Spec,
		location: cfg.Location,
		offset:   cfg.DateOffsetDays,
		now:      cfg.Now,
	}, nil
}

// Name identifies the scheduler in logs
func (s *DailyReportScheduler) Name() string {
	return dailyReportName
}

// Run fires Trigger on the schedule until ctx is canceled. A trigger that is
// running when ctx is canceled is waited for.
func (s *DailyReportScheduler) Run(ctx context.Context) error {
	c := cron.New(cron.WithLocation(s.location))
	c.Schedule(s.schedule, cron.FuncJob(func() {
		if _, err := s.Trigger(ctx); err != nil {
			s.logger.Error("Failed to enqueue daily report", slog.String("error", err.Error()))
		}
	}))

	c.Start()
	s.logger.Info("Daily report scheduler started",
		slog.String("cron", s.spec),
		slog.String("timezone", s.location.String()),
		slog.Time("next_run", s.schedule.Next(s.now().In(s.location))),
	)

	<-ctx.Done()
	<-c.Stop().Done()

	s.logger.Info("Daily report scheduler stopped")
	return nil
}

// ReportDate returns the date a trigger at the current time reports on
func (s *DailyReportScheduler) ReportDate() domain.Date {
	return domain.NewDate(s.now().In(s.location).AddDate(0, 0, s.offset))
}

// Trigger enqueues the report of ReportDate with a fresh request id. It
// returns false when another instance already enqueued that date.
func (s *DailyReportScheduler) Trigger(ctx context.Context) (bool, error) {
	date := s.ReportDate()
	logger := s.logger.With(slog.String("date", date.String()))

	if s.once != nil {
		claimed, err := s.once.ClaimOnce(ctx, fmt.Sprintf("%s:%s", domain.JobTypeE2EReport, date), claimTTL)
		if err != nil {
			return false, fmt.Errorf("failed to claim daily report of %s: %w", date, err)
		}
		if !claimed {
			logger.Debug("Daily report already enqueued by another instance")
			return false, nil
		}
	}

	env, err := Enqueue(ctx, s.queue, domain.E2EReport, domain.E2EReportPayload{
		Date:      date,
		RequestID: uuid.NewString(),
	})
	if err != nil {
		return false, fmt.Errorf("daily report of %s: %w", date, err)
	}

	logger.Info("Daily report enqueued", slog.String("envelope_id", env.ID))
	return true, nil
}
