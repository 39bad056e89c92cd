package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_ClientConfigs(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "s3cret")

	cfg, err := Load("testdata/valid_config.yaml")
	require.NoError(t, err)

	db := cfg.Database.ClientConfig()
	assert.Equal(t, "localhost", db.Host)
	assert.Equal(t, "s3cret", db.Password)
	assert.Equal(t, 10, db.MaxOpenConns)
	assert.Equal(t, 5*time.Minute, db.ConnMaxLifetime)

	rdb := cfg.Redis.ClientConfig()
	assert.Equal(t, "localhost:6379", rdb.Addr)
	assert.Equal(t, 20, rdb.PoolSize)
	assert.Equal(t, 3, rdb.RetryAttempts)
	assert.Equal(t, 2*time.Second, rdb.RetryInterval)

	mq := cfg.RabbitMQ.ClientConfig()
	assert.Equal(t, "jobs_exchange", mq.ExchangeName)
	assert.Equal(t, "direct", mq.ExchangeType)
	assert.Equal(t, "jobs_queue", mq.QueueName)
	assert.Equal(t, "jobs", mq.RoutingKey)
	assert.Equal(t, 10, mq.PrefetchCount)

	log := cfg.Logging.LoggerConfig("worker-service")
	assert.Equal(t, "json", log.Format)
	assert.Equal(t, "worker-service", log.Service)
	assert.Equal(t, time.RFC3339, log.TimeFormat)
}
