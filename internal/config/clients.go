package config

import (
	"time"

	"github.com/cuongbtq/e2e-report-worker/shared/logger"
	"github.com/cuongbtq/e2e-report-worker/shared/postgresql"
	"github.com/cuongbtq/e2e-report-worker/shared/rabbitmq"
	"github.com/cuongbtq/e2e-report-worker/shared/redis"
)

// LoggerConfig returns the shared logger settings for service
func (c *LoggingConfig) LoggerConfig(service string) *logger.Config {
	timeFormat := c.TimeFormat
	if timeFormat == "" {
		timeFormat = time.RFC3339
	}

	return &logger.Config{
		Level:        c.Level,
		Format:       c.Format,
		Output:       c.Output,
		EnableSource: c.EnableCaller,
		TimeFormat:   timeFormat,
		Service:      service,
	}
}

// ClientConfig returns the shared PostgreSQL client settings
func (c *DatabaseConfig) ClientConfig() *postgresql.Config {
	return &postgresql.Config{
		Host:            c.Host,
		Port:            c.Port,
		User:            c.User,
		Password:        c.Password,
		Database:        c.Database,
		SSLMode:         c.SSLMode,
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
		ConnMaxIdleTime: c.ConnMaxIdleTime,
		RetryAttempts:   c.RetryAttempts,
		RetryInterval:   c.RetryInterval,
	}
}

// ClientConfig returns the shared Redis client settings
func (c *RedisConfig) ClientConfig() *redis.Config {
	return &redis.Config{
		Addr:          c.Addr,
		Username:      c.Username,
		Password:      c.Password,
		DB:            c.DB,
		PoolSize:      c.PoolSize,
		MinIdleConns:  c.MinIdleConns,
		DialTimeout:   c.DialTimeout,
		ReadTimeout:   c.ReadTimeout,
		WriteTimeout:  c.WriteTimeout,
		RetryAttempts: c.RetryAttempts,
		RetryInterval: c.RetryInterval,
	}
}

// ClientConfig returns the shared RabbitMQ client settings
func (c *RabbitMQConfig) ClientConfig() *rabbitmq.Config {
	return &rabbitmq.Config{
		Host:               c.Host,
		Port:               c.Port,
		User:               c.User,
		Password:           c.Password,
		VHost:              c.VHost,
		ExchangeName:       c.Exchange.Name,
		ExchangeType:       c.Exchange.Type,
		ExchangeDurable:    c.Exchange.Durable,
		ExchangeAutoDelete: c.Exchange.AutoDelete,
		QueueName:          c.Queue.Name,
		QueueDurable:       c.Queue.Durable,
		QueueAutoDelete:    c.Queue.AutoDelete,
		QueueExclusive:     c.Queue.Exclusive,
		RoutingKey:         c.RoutingKey,
		DeadLetterExchange: c.DeadLetterExchange,
		PrefetchCount:      c.Consumer.PrefetchCount,
		RetryAttempts:      c.Connection.RetryAttempts,
		RetryInterval:      c.Connection.RetryInterval,
		Heartbeat:          c.Connection.Heartbeat,
		ConnectionTimeout:  c.Connection.ConnectionTimeout,
		PublishRetries:     c.Publish.RetryAttempts,
		PublishRetryDelay:  c.Publish.RetryInterval,
		PublishBackoffMult: c.Publish.BackoffMultiplier,
	}
}
