// Command dlq-tool inspects dead letters and reconciles the report summaries
// of dead-lettered E2E report jobs. It never removes or re-enqueues entries.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuongbtq/e2e-report-worker/internal/config"
	"github.com/cuongbtq/e2e-report-worker/internal/jobs/e2ereport"
	"github.com/cuongbtq/e2e-report-worker/internal/queue"
	"github.com/cuongbtq/e2e-report-worker/internal/storage"
	"github.com/cuongbtq/e2e-report-worker/internal/worker/domain"
	"github.com/cuongbtq/e2e-report-worker/shared/logger"
	"github.com/cuongbtq/e2e-report-worker/shared/postgresql"
	"github.com/cuongbtq/e2e-report-worker/shared/redis"
	"github.com/joho/godotenv"
)

const (
	serviceName  = "dlq-tool"
	defaultLimit = 50
)

const usage = `Usage: dlq-tool [-config path] <command> [flags]

Commands:
  list -type <job_type> [-offset n] [-limit n]   print dead letters as JSON lines
  sweep-reports                                   mark summaries of dead-lettered report dates failed
`

var errUsage = errors.New("invalid usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
		}
		log.Fatal(err)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	// Load .env file if it exists
	_ = godotenv.Load()

	defaultConfigPath := os.Getenv("DLQ_TOOL_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}

	global := flag.NewFlagSet(serviceName, flag.ContinueOnError)
	global.SetOutput(io.Discard)
	configPath := global.String("config", defaultConfigPath, "Path to configuration file")
	if err := global.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if global.NArg() == 0 {
		return fmt.Errorf("%w: missing command", errUsage)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ValidateToolConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Logs go to stderr so that stdout stays machine readable
	logCfg := cfg.Logging.LoggerConfig(serviceName)
	if logCfg.Output == "" || logCfg.Output == "stdout" {
		logCfg.Output = "stderr"
	}
	appLogger, err := logger.New(logCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	command, rest := global.Arg(0), global.Args()[1:]
	switch command {
	case "list":
		return runList(ctx, cfg, appLogger.Logger, rest, stdout)
	case "sweep-reports":
		return runSweep(ctx, cfg, appLogger.Logger, stdout)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, command)
	}
}

type listOptions struct {
	jobType domain.JobType
	offset  int
	limit   int
}

func parseListArgs(args []string) (listOptions, error) {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	jobType := fs.String("type", "", "Job type to list")
	offset := fs.Int("offset", 0, "Index of the first dead letter")
	limit := fs.Int("limit", defaultLimit, "Maximum number of dead letters")
	if err := fs.Parse(args); err != nil {
		return listOptions{}, fmt.Errorf("%w: %v", errUsage, err)
	}

	jt, err := domain.ParseJobType(*jobType)
	if err != nil {
		return listOptions{}, fmt.Errorf("%w: %v", errUsage, err)
	}
	if *offset < 0 || *limit <= 0 {
		return listOptions{}, fmt.Errorf("%w: offset must be >= 0 and limit > 0", errUsage)
	}

	return listOptions{jobType: jt, offset: *offset, limit: *limit}, nil
}

func runList(ctx context.Context, cfg *config.Config, appLogger *slog.Logger, args []string, stdout io.Writer) error {
	opts, err := parseListArgs(args)
	if err != nil {
		return err
	}

	redisClient, err := redis.NewClient(cfg.Redis.ClientConfig(), appLogger)
	if err != nil {
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}
	defer redisClient.Close()

	store := queue.NewRedisStore(redisClient.GetClient(), cfg.Queue.KeyPrefix, appLogger)
	return writeDeadLetters(ctx, store, opts, stdout)
}

func writeDeadLetters(ctx context.Context, reader e2ereport.DeadLetterReader, opts listOptions, stdout io.Writer) error {
	entries, err := reader.ListDeadLetters(ctx, opts.jobType, opts.offset, opts.limit)
	if err != nil {
		return fmt.Errorf("failed to list dead letters: %w", err)
	}

	enc := json.NewEncoder(stdout)
	for _, entry := range entries {
		if err := enc.Encode(entry); err != nil {
			return fmt.Errorf("failed to write dead letter: %w", err)
		}
	}
	return nil
}

func runSweep(ctx context.Context, cfg *config.Config, appLogger *slog.Logger, stdout io.Writer) error {
	redisClient, err := redis.NewClient(cfg.Redis.ClientConfig(), appLogger)
	if err != nil {
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}
	defer redisClient.Close()

	dbClient, err := postgresql.NewClient(cfg.Database.ClientConfig(), appLogger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	store := queue.NewRedisStore(redisClient.GetClient(), cfg.Queue.KeyPrefix, appLogger)
	db := storage.NewStorage(dbClient.GetDB(), appLogger)

	result, err := e2ereport.SweepDeadLetters(ctx, store, db, appLogger)
	if err != nil {
		return err
	}

	return json.NewEncoder(stdout).Encode(map[string]int{
		"dead_letters": result.DeadLetters,
		"dates":        result.Dates,
		"marked":       result.Marked,
		"skipped":      result.Skipped,
	})
}
