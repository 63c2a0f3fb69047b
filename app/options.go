package app

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"fieldsync/internal/connectivity"
	"fieldsync/internal/transport"
)

// ContainerOption configures Container creation. Used for testing and customization.
type ContainerOption func(*containerConfig)

type containerConfig struct {
	db       *sql.DB
	redis    *redis.Client
	caller   transport.RemoteCaller
	prober   connectivity.Prober
	registry *prometheus.Registry
}

// WithDB injects a custom database connection. Useful for testing.
func WithDB(db *sql.DB) ContainerOption {
	return func(c *containerConfig) {
		c.db = db
	}
}

// WithRedis injects a custom Redis client. Useful for testing.
func WithRedis(redis *redis.Client) ContainerOption {
	return func(c *containerConfig) {
		c.redis = redis
	}
}

// WithCaller injects a fake remote caller. Useful for testing.
func WithCaller(caller transport.RemoteCaller) ContainerOption {
	return func(c *containerConfig) {
		c.caller = caller
	}
}

// WithProber injects a fake connectivity prober. Useful for testing.
func WithProber(prober connectivity.Prober) ContainerOption {
	return func(c *containerConfig) {
		c.prober = prober
	}
}

// WithRegistry injects a metrics registry instead of creating a private one.
func WithRegistry(reg *prometheus.Registry) ContainerOption {
	return func(c *containerConfig) {
		c.registry = reg
	}
}
