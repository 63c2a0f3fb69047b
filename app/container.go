package app

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"fieldsync/client"
	"fieldsync/internal/config"
	"fieldsync/internal/connectivity"
	"fieldsync/internal/dispatcher"
	"fieldsync/internal/lock"
	"fieldsync/internal/status"
	"fieldsync/internal/store"
	"fieldsync/internal/store/file"
	"fieldsync/internal/store/postgres"
	"fieldsync/internal/transport"
)

// Container holds all agent dependencies. It is the single source of truth
// for dependency injection and ensures connections and services are created once.
type Container struct {
	Config *config.Config

	// Storage connections (created once, shared where applicable)
	DB    *sql.DB
	Redis *redis.Client

	QueueStore  store.QueueStore
	LockManager lock.DispatchLockManager

	Caller     transport.RemoteCaller
	Monitor    *connectivity.Monitor
	Publisher  *status.Publisher
	Dispatcher *dispatcher.Dispatcher

	SyncManager *client.SyncManager

	Registry *prometheus.Registry
}

// NewContainer creates and wires all dependencies. Single entry point for DI.
// Call this once per agent lifecycle. Pass options to inject connections or a
// fake remote caller for testing.
func NewContainer(ctx context.Context, cfg *config.Config, opts ...ContainerOption) (*Container, error) {
	opt := &containerConfig{}
	for _, o := range opts {
		o(opt)
	}

	c := &Container{
		Config:   cfg,
		DB:       opt.db,
		Redis:    opt.redis,
		Registry: opt.registry,
	}
	if c.Registry == nil {
		c.Registry = prometheus.NewRegistry()
	}

	if err := c.initStorageConnections(ctx); err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	queueStore, err := createQueueStore(cfg, c.DB)
	if err != nil {
		return nil, fmt.Errorf("open queue store: %w", err)
	}
	c.QueueStore = queueStore
	c.LockManager = createDispatchLockManager(cfg, c.DB, c.Redis)

	if cfg.StorageDriver == config.PostgresStorage {
		if err := postgres.Migrate(c.DB, c.LockManager); err != nil {
			return nil, fmt.Errorf("init postgres schema: %w", err)
		}
	}

	c.Caller = opt.caller
	if c.Caller == nil {
		c.Caller = transport.NewAPIClient(cfg.APIBaseURL, cfg.AuthToken, cfg.TenantID, cfg.AttemptTimeout)
	}

	prober := opt.prober
	if prober == nil {
		prober = connectivity.NewHTTPProber(cfg.APIBaseURL, cfg.ProbePath, cfg.AttemptTimeout)
	}
	c.Monitor = connectivity.NewMonitor(prober, cfg.ProbeInterval)

	c.Publisher = status.NewPublisher(c.Registry)
	c.Dispatcher = dispatcher.New(cfg, c.QueueStore, c.Caller, c.LockManager, c.Publisher, c.Monitor.IsOnline)
	c.SyncManager = client.NewSyncManager(cfg, c.QueueStore, c.Caller, c.Dispatcher, c.Monitor, c.Publisher)

	return c, nil
}

// Close releases connections. Background services must be stopped first.
func (c *Container) Close() error {
	var firstErr error
	if c.QueueStore != nil {
		if err := c.QueueStore.Close(); err != nil {
			firstErr = err
		}
	}
	if c.DB != nil {
		if err := c.DB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *Container) initStorageConnections(ctx context.Context) error {
	cfg := c.Config

	if c.DB == nil && (cfg.StorageDriver == config.PostgresStorage || cfg.LockDriver == config.PostgresLock) {
		db, err := getPostgresDB(ctx, cfg.PostgresConfig.ConnectionUrl)
		if err != nil {
			return err
		}
		c.DB = db
	}
	if c.Redis == nil && cfg.LockDriver == config.RedisLock {
		rdb, err := getRedisClient(ctx, cfg.RedisConfig)
		if err != nil {
			return err
		}
		c.Redis = rdb
	}
	return nil
}

func createQueueStore(cfg *config.Config, db *sql.DB) (store.QueueStore, error) {
	switch cfg.StorageDriver {
	case config.PostgresStorage:
		return postgres.NewQueueStore(db, cfg.StorageQuota), nil
	case config.FileStorage:
		return file.Open(cfg.FileStoreDir, cfg.StorageQuota)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.StorageDriver)
	}
}

func createDispatchLockManager(cfg *config.Config, db *sql.DB, redisClient *redis.Client) lock.DispatchLockManager {
	switch cfg.LockDriver {
	case config.PostgresLock:
		return lock.NewPostgresDispatchLockManager(db)
	case config.RedisLock:
		return lock.NewRedisDispatchLockManager(redisClient)
	default:
		return lock.NewFileDispatchLockManager(cfg.FileStoreDir, cfg.Instance)
	}
}
