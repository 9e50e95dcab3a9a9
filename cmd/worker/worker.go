package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/septivank/pppoe-provisioning-worker/internal/config"
	"github.com/septivank/pppoe-provisioning-worker/internal/db"
	"github.com/septivank/pppoe-provisioning-worker/internal/device"
	"github.com/septivank/pppoe-provisioning-worker/internal/httpapi"
	"github.com/septivank/pppoe-provisioning-worker/internal/importer"
	"github.com/septivank/pppoe-provisioning-worker/internal/lock"
	"github.com/septivank/pppoe-provisioning-worker/internal/logging"
	"github.com/septivank/pppoe-provisioning-worker/internal/mq"
	"github.com/septivank/pppoe-provisioning-worker/internal/outbox"
	"github.com/septivank/pppoe-provisioning-worker/internal/repository"
	"github.com/septivank/pppoe-provisioning-worker/internal/service"
	"github.com/septivank/pppoe-provisioning-worker/internal/validator"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.NewLogger(cfg.ServiceName, cfg.LogLevel)
}

func startWorker(
	lc fx.Lifecycle,
	conn *mq.Connection,
	cfg *config.Config,
	logger *zap.Logger,
	processor *service.DeviceTaskProcessor,
) (*mq.Consumer, error) {
	consumer, err := mq.NewConsumer(mq.ConsumerConfig{
		Connection:    conn,
		Exchange:      cfg.RabbitMQ.TaskExchange,
		Queue:         cfg.RabbitMQ.TaskQueue,
		BindingKey:    cfg.RabbitMQ.TaskBindingKey,
		DLQQueue:      cfg.RabbitMQ.DLQQueue,
		PrefetchCount: cfg.RabbitMQ.PrefetchCount,
		Logger:        logger,
		Handler:       processor.ProcessMessage,
	})
	if err != nil {
		return nil, err
	}

	logger.Info("device task consumer configured",
		zap.String("queue", cfg.RabbitMQ.TaskQueue),
		zap.Int("prefetch", cfg.RabbitMQ.PrefetchCount))
	consumer.RegisterLifecycle(lc)
	return consumer, nil
}

func startRelay(lc fx.Lifecycle, relay *outbox.Relay, cfg *config.Config) {
	relay.RegisterLifecycle(lc, cfg.Outbox.SweepInterval)
}

func startHTTP(lc fx.Lifecycle, h *httpapi.Handler, cfg *config.Config, logger *zap.Logger) *http.Server {
	return httpapi.NewServer(lc, h, cfg.HTTPPort, logger)
}

// ProvideDBPool creates a new database pool instance
func ProvideDBPool(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*db.Pool, error) {
	return db.NewPool(lc, logger, cfg.Database.URL, cfg.Database.AutoMigrate)
}

// ProvideRepository creates a new repository instance
func ProvideRepository(pool *db.Pool) *repository.Repository {
	return repository.NewRepository(pool)
}

// ProvideStore exposes the repository to transactional services
func ProvideStore(repo *repository.Repository) repository.Store {
	return repo
}

// ProvideQueries exposes the repository to non-transactional readers
func ProvideQueries(repo *repository.Repository) repository.Queries {
	return repo
}

// ProvideMQConnection creates a new RabbitMQ connection instance
func ProvideMQConnection(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*mq.Connection, error) {
	return mq.NewConnection(lc, logger, cfg.RabbitMQ.URL)
}

// ProvidePublisher creates the confirm-mode publisher used by the outbox relay
func ProvidePublisher(lc fx.Lifecycle, conn *mq.Connection, cfg *config.Config, logger *zap.Logger) (*mq.Publisher, error) {
	publisher, err := mq.NewPublisher(conn, cfg.RabbitMQ.TaskExchange, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return publisher.Close()
		},
	})
	return publisher, nil
}

// ProvideRelay creates the outbox relay
func ProvideRelay(queries repository.Queries, publisher *mq.Publisher, cfg *config.Config, logger *zap.Logger) *outbox.Relay {
	return outbox.NewRelay(queries, publisher, cfg.Outbox.BatchSize, logger)
}

// ProvideDispatcher lets services flush the outbox right after commit
func ProvideDispatcher(relay *outbox.Relay) service.Dispatcher {
	return relay
}

// ProvideDeviceProvider creates the per-device adapter factory
func ProvideDeviceProvider(cfg *config.Config, logger *zap.Logger) device.Provider {
	return device.NewFactory(cfg.Device.Timeout, device.BreakerConfig{
		Enabled:          cfg.Device.BreakerEnabled,
		FailureThreshold: cfg.Device.BreakerFailureThreshold,
		OpenTimeout:      cfg.Device.BreakerOpenTimeout,
	}, logger)
}

// ProvideLocker returns a Redis-backed locker when REDIS_URL is set, so that
// import runs are serialized across replicas, and a process-local one
// otherwise
func ProvideLocker(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (lock.Locker, error) {
	if cfg.Redis.URL == "" {
		logger.Warn("REDIS_URL not set, import locks are local to this process")
		return lock.NewLocalLocker(), nil
	}

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("[REDIS] failed to parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("[REDIS CONNECTION FAILED] cannot reach redis: %w", err)
			}
			logger.Info("redis connection established")
			return nil
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})

	return lock.NewRedisLocker(client, cfg.ServiceName+":lock:"), nil
}

// ProvideValidator creates a new validator instance
func ProvideValidator() *validator.Validator {
	return validator.NewValidator()
}

// ProvideImporter creates the device importer
func ProvideImporter(
	store repository.Store,
	devices device.Provider,
	locker lock.Locker,
	cfg *config.Config,
	logger *zap.Logger,
) *importer.Importer {
	return importer.NewImporter(store, devices, locker, cfg.Import.LockTTL, logger)
}

// ProvideHandler assembles the operator API
func ProvideHandler(
	pool *db.Pool,
	provisioning *service.ProvisioningService,
	profiles *service.ProfileService,
	credentials *service.CredentialService,
	imp *importer.Importer,
	v *validator.Validator,
	logger *zap.Logger,
) *httpapi.Handler {
	return httpapi.New(httpapi.Deps{
		Provisioning: provisioning,
		Profiles:     profiles,
		Credentials:  credentials,
		Importer:     imp,
		Validator:    v,
		DB:           pool,
		Logger:       logger,
	})
}
