package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors the agent's YAML config file.
type fileConfig struct {
	Instance   string `yaml:"instance"`
	APIBaseURL string `yaml:"api_base_url"`
	AuthToken  string `yaml:"auth_token"`
	TenantID   string `yaml:"tenant_id"`

	Probe struct {
		Path     string        `yaml:"path"`
		Interval time.Duration `yaml:"interval"`
	} `yaml:"probe"`

	Storage struct {
		Driver      string `yaml:"driver"`
		Dir         string `yaml:"dir"`
		Quota       int    `yaml:"quota"`
		PostgresURL string `yaml:"postgres_url"`
	} `yaml:"storage"`

	Lock struct {
		Driver        string `yaml:"driver"`
		RedisAddress  string `yaml:"redis_address"`
		RedisPassword string `yaml:"redis_password"`
		RedisDB       int    `yaml:"redis_db"`
	} `yaml:"lock"`

	Retry struct {
		MaxAttempts    int           `yaml:"max_attempts"`
		AttemptTimeout time.Duration `yaml:"attempt_timeout"`
		InitialBackoff time.Duration `yaml:"initial_backoff"`
		MaxBackoff     time.Duration `yaml:"max_backoff"`
	} `yaml:"retry"`

	Admin struct {
		Enabled bool `yaml:"enabled"`
		Port    uint `yaml:"port"`
	} `yaml:"admin"`
}

// LoadFile reads a YAML config file and turns it into a validated Config.
func LoadFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	var opts []Option
	if fc.APIBaseURL != "" {
		opts = append(opts, WithAPIBaseURL(fc.APIBaseURL))
	}
	if fc.AuthToken != "" || fc.TenantID != "" {
		opts = append(opts, WithAuth(fc.AuthToken, fc.TenantID))
	}
	if fc.Probe.Interval > 0 {
		opts = append(opts, WithProbe(fc.Probe.Path, fc.Probe.Interval))
	}

	switch StorageDriver(fc.Storage.Driver) {
	case PostgresStorage:
		opts = append(opts, WithPostgresConfig(PostgresConfig{ConnectionUrl: fc.Storage.PostgresURL}))
	case FileStorage, "":
		if fc.Storage.Dir != "" {
			opts = append(opts, WithFileStore(fc.Storage.Dir))
		}
	default:
		return nil, fmt.Errorf("unknown storage driver %q", fc.Storage.Driver)
	}
	if fc.Storage.Quota > 0 {
		opts = append(opts, WithStorageQuota(fc.Storage.Quota))
	}

	if LockDriver(fc.Lock.Driver) == RedisLock {
		opts = append(opts, WithRedisLock(RedisConfig{
			Address:  fc.Lock.RedisAddress,
			Password: fc.Lock.RedisPassword,
			DB:       fc.Lock.RedisDB,
		}))
	}

	if fc.Retry.MaxAttempts > 0 {
		opts = append(opts, WithMaxAttempts(fc.Retry.MaxAttempts))
	}
	if fc.Retry.AttemptTimeout > 0 {
		opts = append(opts, WithAttemptTimeout(fc.Retry.AttemptTimeout))
	}
	if fc.Retry.InitialBackoff > 0 && fc.Retry.MaxBackoff > 0 {
		opts = append(opts, WithBackoff(fc.Retry.InitialBackoff, fc.Retry.MaxBackoff))
	}

	if fc.Admin.Enabled {
		opts = append(opts, WithAdminServer(fc.Admin.Port))
	}

	return NewConfig(fc.Instance, opts...)
}
