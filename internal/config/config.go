package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	ServiceName string
	LogLevel    string
	HTTPPort    int
	Database    DatabaseConfig
	RabbitMQ    RabbitMQConfig
	Redis       RedisConfig
	Device      DeviceConfig
	Outbox      OutboxConfig
	Import      ImportConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL         string
	AutoMigrate bool
}

// RabbitMQConfig holds RabbitMQ connection and queue settings
type RabbitMQConfig struct {
	URL            string
	TaskExchange   string
	TaskQueue      string
	TaskBindingKey string
	DLQQueue       string
	PrefetchCount  int
}

// RedisConfig holds the optional Redis connection used for per-device import locks
type RedisConfig struct {
	URL string
}

// DeviceConfig holds settings applied to every device call
type DeviceConfig struct {
	Timeout                 time.Duration
	BreakerEnabled          bool
	BreakerFailureThreshold int
	BreakerOpenTimeout      time.Duration
}

// OutboxConfig holds outbox relay settings
type OutboxConfig struct {
	SweepInterval time.Duration
	BatchSize     int
}

// ImportConfig holds reconciliation run settings
type ImportConfig struct {
	LockTTL time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "pppoe-provisioning-worker"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		HTTPPort:    getEnvAsInt("HTTP_PORT", 8081),
		Database: DatabaseConfig{
			URL:         getEnv("DATABASE_URL", ""),
			AutoMigrate: getEnvAsBool("DATABASE_AUTO_MIGRATE", true),
		},
		RabbitMQ: RabbitMQConfig{
			URL:            getEnv("RABBITMQ_URL", ""),
			TaskExchange:   getEnv("RABBITMQ_TASK_EXCHANGE", "provisioning.device-tasks.exchange"),
			TaskQueue:      getEnv("RABBITMQ_TASK_QUEUE", "provisioning.device-tasks.queue"),
			TaskBindingKey: getEnv("RABBITMQ_TASK_BINDING_KEY", "device.#"),
			DLQQueue:       getEnv("RABBITMQ_DLQ_QUEUE", "provisioning.device-tasks.dlq"),
			PrefetchCount:  getEnvAsInt("RABBITMQ_PREFETCH", 1),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},
		Device: DeviceConfig{
			Timeout:                 getEnvAsDuration("DEVICE_TIMEOUT", 15*time.Second),
			BreakerEnabled:          getEnvAsBool("DEVICE_BREAKER_ENABLED", true),
			BreakerFailureThreshold: getEnvAsInt("DEVICE_BREAKER_FAILURE_THRESHOLD", 3),
			BreakerOpenTimeout:      getEnvAsDuration("DEVICE_BREAKER_OPEN_TIMEOUT", 30*time.Second),
		},
		Outbox: OutboxConfig{
			SweepInterval: getEnvAsDuration("OUTBOX_SWEEP_INTERVAL", time.Minute),
			BatchSize:     getEnvAsInt("OUTBOX_BATCH_SIZE", 100),
		},
		Import: ImportConfig{
			LockTTL: getEnvAsDuration("IMPORT_LOCK_TTL", 10*time.Minute),
		},
	}

	// Validate required fields
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required but not set in environment variables")
	}
	if cfg.RabbitMQ.URL == "" {
		return nil, fmt.Errorf("RABBITMQ_URL is required but not set in environment variables")
	}
	if cfg.Device.Timeout <= 0 {
		return nil, fmt.Errorf("DEVICE_TIMEOUT must be positive, got %s", cfg.Device.Timeout)
	}
	if cfg.Device.BreakerFailureThreshold <= 0 {
		return nil, fmt.Errorf("DEVICE_BREAKER_FAILURE_THRESHOLD must be positive, got %d", cfg.Device.BreakerFailureThreshold)
	}
	if cfg.Outbox.SweepInterval <= 0 {
		return nil, fmt.Errorf("OUTBOX_SWEEP_INTERVAL must be positive, got %s", cfg.Outbox.SweepInterval)
	}
	if cfg.Outbox.BatchSize <= 0 {
		return nil, fmt.Errorf("OUTBOX_BATCH_SIZE must be positive, got %d", cfg.Outbox.BatchSize)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
