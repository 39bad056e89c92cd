package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)

				// Verify some key fields are populated
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, 5432, cfg.Database.Port)
				assert.Equal(t, "dashboard_db", cfg.Database.Database)
				assert.True(t, cfg.Database.AutoMigrate)
				assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
				assert.Equal(t, "jobs:", cfg.Queue.KeyPrefix)
				assert.Equal(t, "jobs_exchange", cfg.RabbitMQ.Exchange.Name)
				assert.Equal(t, "jobs_queue", cfg.RabbitMQ.Queue.Name)
				assert.Equal(t, 4, cfg.Worker.Concurrency)
				assert.Equal(t, 5*time.Minute, cfg.Worker.JobTimeout)
				assert.Equal(t, 100, cfg.Scheduler.BatchSize)
				assert.Equal(t, "0 1 * * *", cfg.ReportSchedule.Cron)
				assert.Equal(t, -1, cfg.ReportSchedule.DateOffsetDays)
				assert.Equal(t, "e2e-report-worker", cfg.App.Name)
			}
		})
	}
}

func TestLoad_ExpandsEnvironment(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "s3cret")
	t.Setenv("TEST_DASHBOARD_TOKEN", "dash-token")

	cfg, err := Load("testdata/valid_config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.Database.Password)
	assert.Equal(t, "dash-token", cfg.Dashboard.Token)
}

func TestLoad_UnsetVariableExpandsToEmpty(t *testing.T) {
	t.Setenv("TEST_DASHBOARD_TOKEN", "")

	cfg, err := Load("testdata/valid_config.yaml")
	require.NoError(t, err)

	// Missing credentials are reported by the handler at run time, not at load
	assert.Empty(t, cfg.Dashboard.Token)
	assert.NoError(t, cfg.ValidateWorkerConfig())
}

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load("testdata/minimal_config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "jobs:", cfg.Queue.KeyPrefix)
	assert.Equal(t, 2*time.Second, cfg.Worker.DequeueTimeout)
	assert.Equal(t, 3, cfg.Worker.MaxRetries)
	assert.Equal(t, 5*time.Second, cfg.Worker.RetryBaseDelay)
	assert.Equal(t, time.Second, cfg.Scheduler.Interval)
	assert.Equal(t, 100, cfg.Scheduler.BatchSize)
	assert.Equal(t, "UTC", cfg.ReportSchedule.Timezone)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
}

func validAPIConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Redis:  RedisConfig{Addr: "localhost:6379"},
	}
}

func TestConfig_ValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantErr   bool
		errString string
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:      "invalid server port - too low",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "invalid server port - too high",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "missing redis addr",
			mutate:    func(c *Config) { c.Redis.Addr = "" },
			wantErr:   true,
			errString: "redis addr is required",
		},
		{
			name:      "redis addr without port",
			mutate:    func(c *Config) { c.Redis.Addr = "localhost" },
			wantErr:   true,
			errString: "invalid redis addr",
		},
		{
			name: "rabbitmq enabled without host",
			mutate: func(c *Config) {
				c.RabbitMQ.Enabled = true
				c.RabbitMQ.Port = 5672
			},
			wantErr:   true,
			errString: "rabbitmq host is required",
		},
		{
			name: "rabbitmq disabled is not validated",
			mutate: func(c *Config) {
				c.RabbitMQ.Enabled = false
				c.RabbitMQ.Port = 0
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validAPIConfig()
			tt.mutate(cfg)

			err := cfg.ValidateAPIConfig()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateWorkerConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantErr   bool
		errString string
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:      "zero concurrency",
			mutate:    func(c *Config) { c.Worker.Concurrency = 0 },
			wantErr:   true,
			errString: "worker concurrency must be greater than 0",
		},
		{
			name:      "invalid per job concurrency",
			mutate:    func(c *Config) { c.Worker.JobConcurrency = map[string]int{"e2e_report": 0} },
			wantErr:   true,
			errString: "job_concurrency for e2e_report",
		},
		{
			name:      "dequeue timeout below blocking pop resolution",
			mutate:    func(c *Config) { c.Worker.DequeueTimeout = 500 * time.Millisecond },
			wantErr:   true,
			errString: "dequeue_timeout must be at least 1s",
		},
		{
			name:      "missing job timeout",
			mutate:    func(c *Config) { c.Worker.JobTimeout = 0 },
			wantErr:   true,
			errString: "job_timeout",
		},
		{
			name:      "missing shutdown timeout",
			mutate:    func(c *Config) { c.Worker.ShutdownTimeout = 0 },
			wantErr:   true,
			errString: "shutdown_timeout",
		},
		{
			name:      "missing database host",
			mutate:    func(c *Config) { c.Database.Host = "" },
			wantErr:   true,
			errString: "database host is required",
		},
		{
			name:      "missing dashboard url",
			mutate:    func(c *Config) { c.Dashboard.BaseURL = "" },
			wantErr:   true,
			errString: "dashboard base_url is required",
		},
		{
			name:      "invalid cron expression",
			mutate:    func(c *Config) { c.ReportSchedule.Cron = "every day" },
			wantErr:   true,
			errString: "invalid report_schedule cron",
		},
		{
			name:      "invalid timezone",
			mutate:    func(c *Config) { c.ReportSchedule.Timezone = "Mars/Olympus" },
			wantErr:   true,
			errString: "invalid report_schedule timezone",
		},
		{
			name: "disabled schedule is not validated",
			mutate: func(c *Config) {
				c.ReportSchedule.Enabled = false
				c.ReportSchedule.Cron = ""
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("testdata/valid_config.yaml")
			require.NoError(t, err)
			tt.mutate(cfg)

			err = cfg.ValidateWorkerConfig()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateToolConfig(t *testing.T) {
	cfg, err := Load("testdata/minimal_config.yaml")
	require.NoError(t, err)

	err = cfg.ValidateToolConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database host is required")

	cfg.Database = DatabaseConfig{Host: "localhost", Port: 5432, Database: "dashboard_db"}
	assert.NoError(t, cfg.ValidateToolConfig())
}

func TestConfig_ConcurrencyFor(t *testing.T) {
	cfg := &Config{Worker: WorkerConfig{
		Concurrency:    4,
		JobConcurrency: map[string]int{"e2e_report": 1},
	}}

	assert.Equal(t, 1, cfg.ConcurrencyFor("e2e_report"))
	assert.Equal(t, 4, cfg.ConcurrencyFor("notification"))
}
