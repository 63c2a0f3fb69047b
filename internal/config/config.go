package config

import (
	"errors"
	"fmt"
	"time"

	"fieldsync/internal/constants"
	"fieldsync/internal/syncerrors"
)

type StorageDriver string

const (
	FileStorage     StorageDriver = "file"
	PostgresStorage StorageDriver = "postgres"
)

func (d StorageDriver) String() string { return string(d) }

type LockDriver string

const (
	FileLock     LockDriver = "file"
	PostgresLock LockDriver = "postgres"
	RedisLock    LockDriver = "redis"
)

func (d LockDriver) String() string { return string(d) }

// Config holds everything the sync engine needs. Only the instance name and
// the API base URL are required; the rest defaults to values that suit a
// single-technician laptop with a file-backed queue.
type Config struct {
	// Instance uniquely identifies this client process; it becomes the lock
	// owner id for leader election.
	Instance string

	APIBaseURL string
	AuthToken  string
	TenantID   string

	// ProbePath is the lightweight backend endpoint the connectivity monitor
	// requests to detect "online per OS but backend unreachable".
	ProbePath     string
	ProbeInterval time.Duration

	StorageDriver StorageDriver
	LockDriver    LockDriver

	// FileStoreDir is the queue directory for the file driver.
	FileStoreDir string
	// StorageQuota caps the number of persisted records; enqueue past it
	// surfaces ErrStorageFull instead of silently dropping the mutation.
	StorageQuota int

	PostgresConfig PostgresConfig
	RedisConfig    RedisConfig

	MaxAttempts    int
	AttemptTimeout time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// RetryKick is how often the dispatcher re-checks the queue for records
	// whose backoff has elapsed.
	RetryKick time.Duration
	// StaleInFlight is the age past which an in_flight record left by a crash
	// is returned to pending on startup.
	StaleInFlight time.Duration

	AdminEnabled bool
	AdminPort    uint
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	ConnectionUrl string
}

// RedisConfig holds Redis connection settings for the redis lock driver.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// Option type for functional options pattern
type Option func(*Config) error

// NewConfig creates a Config with defaults. Option errors are accumulated and
// returned together as a ValidationError.
func NewConfig(instance string, opts ...Option) (*Config, error) {
	if instance == "" {
		return nil, errors.New("instance name is required")
	}

	cfg := &Config{
		Instance:       instance,
		ProbePath:      "/api/health",
		ProbeInterval:  constants.DefaultProbeInterval,
		StorageDriver:  FileStorage,
		LockDriver:     FileLock,
		StorageQuota:   constants.DefaultStorageQuota,
		MaxAttempts:    constants.MaxRetryAttempt,
		AttemptTimeout: constants.DefaultAttemptTimeout,
		InitialBackoff: constants.DefaultInitialBackoff,
		MaxBackoff:     constants.DefaultMaxBackoff,
		RetryKick:      constants.DefaultRetryKick,
		StaleInFlight:  constants.DefaultStaleInFlight,
		AdminPort:      constants.DefaultAdminPort,
	}

	validationErrs := &syncerrors.ValidationError{}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			validationErrs.Add(err)
		}
	}

	if cfg.APIBaseURL == "" {
		validationErrs.Add(errors.New("api base url is required"))
	}

	if validationErrs.HasError() {
		return nil, validationErrs
	}
	return cfg, nil
}

func WithAPIBaseURL(baseURL string) Option {
	return func(c *Config) error {
		if baseURL == "" {
			return errors.New("api base url cannot be empty")
		}
		c.APIBaseURL = baseURL
		return nil
	}
}

func WithAuth(token, tenantID string) Option {
	return func(c *Config) error {
		c.AuthToken = token
		c.TenantID = tenantID
		return nil
	}
}

func WithFileStore(dir string) Option {
	return func(c *Config) error {
		if dir == "" {
			return errors.New("file store: directory is required")
		}
		c.StorageDriver = FileStorage
		c.FileStoreDir = dir
		return nil
	}
}

func WithPostgresConfig(pg PostgresConfig) Option {
	return func(c *Config) error {
		if pg.ConnectionUrl == "" {
			return errors.New("postgres config: connection URL is required")
		}
		c.StorageDriver = PostgresStorage
		c.LockDriver = PostgresLock
		c.PostgresConfig = pg
		return nil
	}
}

func WithRedisLock(r RedisConfig) Option {
	return func(c *Config) error {
		if r.Address == "" {
			return errors.New("redis config: address is required")
		}
		c.LockDriver = RedisLock
		c.RedisConfig = r
		return nil
	}
}

func WithMaxAttempts(n int) Option {
	return func(c *Config) error {
		if n < 1 {
			return errors.New("max attempts must be positive")
		}
		c.MaxAttempts = n
		return nil
	}
}

func WithAttemptTimeout(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return errors.New("attempt timeout must be positive")
		}
		c.AttemptTimeout = d
		return nil
	}
}

func WithBackoff(initial, max time.Duration) Option {
	return func(c *Config) error {
		if initial <= 0 || max < initial {
			return fmt.Errorf("invalid backoff bounds: initial=%s max=%s", initial, max)
		}
		c.InitialBackoff = initial
		c.MaxBackoff = max
		return nil
	}
}

func WithProbe(path string, interval time.Duration) Option {
	return func(c *Config) error {
		if interval <= 0 {
			return errors.New("probe interval must be positive")
		}
		if path != "" {
			c.ProbePath = path
		}
		c.ProbeInterval = interval
		return nil
	}
}

func WithStorageQuota(limit int) Option {
	return func(c *Config) error {
		if limit < 1 {
			return errors.New("storage quota must be positive")
		}
		c.StorageQuota = limit
		return nil
	}
}

func WithAdminServer(port uint) Option {
	return func(c *Config) error {
		if port == 0 {
			return errors.New("admin server: port is required")
		}
		c.AdminEnabled = true
		c.AdminPort = port
		return nil
	}
}
