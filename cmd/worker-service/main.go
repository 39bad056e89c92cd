package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "time/tzdata"

	"github.com/cuongbtq/e2e-report-worker/internal/config"
	"github.com/cuongbtq/e2e-report-worker/internal/ingress"
	"github.com/cuongbtq/e2e-report-worker/internal/jobs/e2ereport"
	"github.com/cuongbtq/e2e-report-worker/internal/jobs/notification"
	"github.com/cuongbtq/e2e-report-worker/internal/jobs/pullrequest"
	"github.com/cuongbtq/e2e-report-worker/internal/producer"
	"github.com/cuongbtq/e2e-report-worker/internal/provider"
	"github.com/cuongbtq/e2e-report-worker/internal/queue"
	"github.com/cuongbtq/e2e-report-worker/internal/storage"
	"github.com/cuongbtq/e2e-report-worker/internal/worker"
	"github.com/cuongbtq/e2e-report-worker/internal/worker/domain"
	"github.com/cuongbtq/e2e-report-worker/shared/logger"
	"github.com/cuongbtq/e2e-report-worker/shared/postgresql"
	"github.com/cuongbtq/e2e-report-worker/shared/rabbitmq"
	"github.com/cuongbtq/e2e-report-worker/shared/redis"
	"github.com/joho/godotenv"
)

const serviceName = "worker-service"

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := logger.New(cfg.Logging.LoggerConfig(serviceName))
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("worker_id", cfg.Worker.ID),
	)

	redisClient, err := redis.NewClient(cfg.Redis.ClientConfig(), appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}

	store := queue.NewRedisStore(redisClient.GetClient(), cfg.Queue.KeyPrefix, appLogger.Logger)

	manager := worker.NewManager(&worker.Config{
		Logger:            appLogger.Logger,
		Store:             store,
		JobTypes:          domain.JobTypes,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		ShutdownTimeout:   cfg.Worker.ShutdownTimeout,
	})

	// Connections registered with the manager are closed in reverse order on
	// shutdown, including when setup fails half way
	manager.AddCloser("redis", redisClient)

	dbClient, err := postgresql.NewClient(cfg.Database.ClientConfig(), appLogger.Logger)
	if err != nil {
		manager.Stop()
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	manager.AddCloser("postgresql", dbClient)

	db := storage.NewStorage(dbClient.GetDB(), appLogger.Logger)
	if cfg.Database.AutoMigrate {
		if err := db.EnsureSchema(context.Background()); err != nil {
			manager.Stop()
			return fmt.Errorf("failed to apply database schema: %w", err)
		}
	}

	if err := registerProcessors(manager, cfg, store, db, appLogger.Logger); err != nil {
		manager.Stop()
		return err
	}

	manager.Register(worker.NewRetryScheduler(worker.RetrySchedulerConfig{
		Logger:    appLogger.Logger,
		Store:     store,
		JobTypes:  domain.JobTypes,
		Interval:  cfg.Scheduler.Interval,
		BatchSize: cfg.Scheduler.BatchSize,
	}))

	if cfg.ReportSchedule.Enabled {
		daily, err := newDailyReportScheduler(&cfg.ReportSchedule, store, appLogger.Logger)
		if err != nil {
			manager.Stop()
			return err
		}
		manager.Register(daily)
	}

	if cfg.RabbitMQ.Enabled {
		rabbitClient, err := rabbitmq.NewClient(cfg.RabbitMQ.ClientConfig(), appLogger.Logger)
		if err != nil {
			manager.Stop()
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		manager.AddCloser("rabbitmq", rabbitClient)

		tag := cfg.RabbitMQ.Consumer.Tag
		if tag == "" {
			tag = cfg.Worker.ID
		}
		manager.Register(ingress.NewConsumer(ingress.Config{
			Logger: appLogger.Logger,
			Source: rabbitClient,
			Queue:  store,
			Tag:    tag,
		}))
	}

	// Stop on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := manager.Start(ctx); err != nil {
		manager.Stop()
		return fmt.Errorf("failed to start worker manager: %w", err)
	}

	appLogger.Info("Worker service started successfully")

	<-ctx.Done()
	appLogger.Info("Received signal, shutting down gracefully")

	manager.Stop()

	appLogger.Info("Worker service shutdown complete")
	return nil
}

// registerProcessors creates one processor per job type
func registerProcessors(manager *worker.Manager, cfg *config.Config, store queue.Store, db *storage.Storage, appLogger *slog.Logger) error {
	dashboard, err := provider.NewDashboardClient(providerConfig("dashboard", &cfg.Dashboard), appLogger)
	if err != nil {
		return fmt.Errorf("failed to initialize dashboard client: %w", err)
	}

	pullRequests, err := provider.NewPullRequestClient(providerConfig("pull_requests", &cfg.PullRequests), appLogger)
	if err != nil {
		return fmt.Errorf("failed to initialize pull request client: %w", err)
	}

	processorConfig := func(jobType domain.JobType) worker.ProcessorConfig {
		return worker.ProcessorConfig{
			Logger: appLogger,
			Store:  store,
			Policy: worker.RetryPolicy{
				MaxRetries: cfg.Worker.MaxRetries,
				BaseDelay:  cfg.Worker.RetryBaseDelay,
			},
			Concurrency:    cfg.ConcurrencyFor(jobType.String()),
			JobTimeout:     cfg.Worker.JobTimeout,
			DequeueTimeout: cfg.Worker.DequeueTimeout,
			WorkerID:       cfg.Worker.ID,
		}
	}

	manager.Register(worker.NewProcessor(
		domain.E2EReport,
		e2ereport.NewHandler(db, dashboard, db, appLogger),
		processorConfig(domain.JobTypeE2EReport),
	))
	manager.Register(worker.NewProcessor(
		domain.NotificationJob,
		notification.NewHandler(db, appLogger),
		processorConfig(domain.JobTypeNotification),
	))
	manager.Register(worker.NewProcessor(
		domain.PullRequestSync,
		pullrequest.NewHandler(pullRequests, db, appLogger),
		processorConfig(domain.JobTypePullRequestSync),
	))

	return nil
}

func providerConfig(name string, cfg *config.ProviderConfig) *provider.Config {
	return &provider.Config{
		Name:      name,
		BaseURL:   cfg.BaseURL,
		Token:     cfg.Token,
		Timeout:   cfg.Timeout,
		RateLimit: cfg.RateLimit,
		Burst:     cfg.Burst,
	}
}

func newDailyReportScheduler(cfg *config.ReportScheduleConfig, store *queue.RedisStore, appLogger *slog.Logger) (*producer.DailyReportScheduler, error) {
	location, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load report timezone: %w", err)
	}

	daily, err := producer.NewDailyReportScheduler(producer.DailyReportSchedulerConfig{
		Logger:         appLogger,
		Queue:          store,
		Once:           store,
		Spec:           cfg.Cron,
		Location:       location,
		DateOffsetDays: cfg.DateOffsetDays,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create daily report scheduler: %w", err)
	}
	return daily, nil
}
