package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jwalitptl/notify-api/internal/queue"
	"github.com/jwalitptl/notify-api/internal/ratelimit"
	"github.com/jwalitptl/notify-api/internal/webhook"
	"github.com/jwalitptl/notify-api/pkg/logger"
	redisbroker "github.com/jwalitptl/notify-api/pkg/messaging/redis"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Realtime  RealtimeConfig  `mapstructure:"realtime"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN builds the postgres connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

type RedisConfig struct {
	URL            string `mapstructure:"url"`
	MaxRetries     int    `mapstructure:"max_retries"`
	RetryBackoffMS int    `mapstructure:"retry_backoff_ms"`
	PoolSize       int    `mapstructure:"pool_size"`
	MinIdleConns   int    `mapstructure:"min_idle_conns"`
}

func (c RedisConfig) ToBrokerConfig() redisbroker.Config {
	return redisbroker.Config{
		URL:          c.URL,
		MaxRetries:   c.MaxRetries,
		RetryBackoff: time.Duration(c.RetryBackoffMS) * time.Millisecond,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
	}
}

type RateLimitConfig struct {
	Prefix      string `mapstructure:"prefix"`
	SkipOnError bool   `mapstructure:"skip_on_error"`
}

func (c RateLimitConfig) ToLimiterConfig() ratelimit.Config {
	return ratelimit.Config{Prefix: c.Prefix, SkipOnError: c.SkipOnError}
}

type QueueTierConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	MaxAttempts int `mapstructure:"max_attempts"`
}

type QueueConfig struct {
	Immediate QueueTierConfig `mapstructure:"immediate"`
	Bulk      QueueTierConfig `mapstructure:"bulk"`
	Scheduled QueueTierConfig `mapstructure:"scheduled"`

	ChunkSize         int `mapstructure:"chunk_size"`
	BackoffBaseMS     int `mapstructure:"backoff_base_ms"`
	PromoteIntervalMS int `mapstructure:"promote_interval_ms"`
	DequeueWaitMS     int `mapstructure:"dequeue_wait_ms"`
}

func (c QueueConfig) ToDispatcherConfig() queue.Config {
	return queue.Config{
		Immediate:       queue.TierConfig(c.Immediate),
		Bulk:            queue.TierConfig(c.Bulk),
		Scheduled:       queue.TierConfig(c.Scheduled),
		ChunkSize:       c.ChunkSize,
		BackoffBase:     time.Duration(c.BackoffBaseMS) * time.Millisecond,
		PromoteInterval: time.Duration(c.PromoteIntervalMS) * time.Millisecond,
		DequeueWait:     time.Duration(c.DequeueWaitMS) * time.Millisecond,
	}
}

type WebhookConfig struct {
	MaxRetries       int `mapstructure:"max_retries"`
	BaseDelayMS      int `mapstructure:"base_delay_ms"`
	RequestTimeoutMS int `mapstructure:"request_timeout_ms"`
	AttemptLogCap    int `mapstructure:"attempt_log_cap"`
	RatePerSecond    int `mapstructure:"rate_per_second"`
	CacheTTLMS       int `mapstructure:"cache_ttl_ms"`
}

func (c WebhookConfig) ToDeliveryConfig() webhook.Config {
	return webhook.Config{
		MaxRetries:     c.MaxRetries,
		BaseDelay:      time.Duration(c.BaseDelayMS) * time.Millisecond,
		RequestTimeout: time.Duration(c.RequestTimeoutMS) * time.Millisecond,
		AttemptLogCap:  c.AttemptLogCap,
		RatePerSecond:  c.RatePerSecond,
		CacheTTL:       time.Duration(c.CacheTTLMS) * time.Millisecond,
	}
}

type RealtimeConfig struct {
	// InstanceID identifies this process on the broadcast bus. Empty
	// means generate one at startup.
	InstanceID string `mapstructure:"instance_id"`
	BusEnabled bool   `mapstructure:"bus_enabled"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

func (c LoggingConfig) ToLoggerConfig() *logger.Config {
	level := logger.InfoLevel
	switch strings.ToLower(c.Level) {
	case "debug":
		level = logger.DebugLevel
	case "warn":
		level = logger.WarnLevel
	case "error":
		level = logger.ErrorLevel
	}
	return &logger.Config{
		Level:      level,
		TimeFormat: time.RFC3339,
		Pretty:     c.Pretty,
	}
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.timeout_seconds", 30)

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "notify")
	viper.SetDefault("database.name", "notify_db")
	viper.SetDefault("database.sslmode", "disable")

	viper.SetDefault("redis.url", "redis://localhost:6379/0")
	viper.SetDefault("redis.max_retries", 3)
	viper.SetDefault("redis.retry_backoff_ms", 100)
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.min_idle_conns", 2)

	viper.SetDefault("rate_limit.prefix", "ratelimit")
	viper.SetDefault("rate_limit.skip_on_error", true)

	viper.SetDefault("queue.immediate.concurrency", 10)
	viper.SetDefault("queue.immediate.max_attempts", 3)
	viper.SetDefault("queue.bulk.concurrency", 5)
	viper.SetDefault("queue.bulk.max_attempts", 2)
	viper.SetDefault("queue.scheduled.concurrency", 2)
	viper.SetDefault("queue.scheduled.max_attempts", 3)
	viper.SetDefault("queue.chunk_size", 100)
	viper.SetDefault("queue.backoff_base_ms", 1000)
	viper.SetDefault("queue.promote_interval_ms", 1000)
	viper.SetDefault("queue.dequeue_wait_ms", 1000)

	viper.SetDefault("webhook.max_retries", 3)
	viper.SetDefault("webhook.base_delay_ms", 1000)
	viper.SetDefault("webhook.request_timeout_ms", 10000)
	viper.SetDefault("webhook.attempt_log_cap", 100)
	viper.SetDefault("webhook.rate_per_second", 50)
	viper.SetDefault("webhook.cache_ttl_ms", 60000)

	viper.SetDefault("realtime.bus_enabled", false)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.pretty", false)
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("NOTIFY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// Env-only deployments run without a config file.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}
