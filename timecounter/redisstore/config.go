/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/acronis/go-jobthrottle/config"
	"github.com/acronis/go-jobthrottle/log"
	"github.com/acronis/go-jobthrottle/retry"
)

const cfgDefaultKeyPrefix = "redis"

const (
	cfgKeyAddr              = "addr"
	cfgKeyUsername          = "username"
	cfgKeyPassword          = "password"
	cfgKeyDB                = "db"
	cfgKeyPoolSize          = "poolSize"
	cfgKeyDialTimeout       = "dialTimeout"
	cfgKeyReadTimeout       = "readTimeout"
	cfgKeyWriteTimeout      = "writeTimeout"
	cfgKeyPingRetryAttempts = "ping.retryAttempts"
	cfgKeyPingRetryInterval = "ping.retryInterval"
)

// Default values.
const (
	DefaultAddr              = "localhost:6379"
	DefaultDialTimeout       = 5 * time.Second
	DefaultPingRetryAttempts = 5
	DefaultPingRetryInterval = 500 * time.Millisecond
)

// Config represents a set of configuration parameters for the Redis connection.
type Config struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Ping         PingConfig

	keyPrefix string
}

// PingConfig configures the connectivity check performed by NewClient.
type PingConfig struct {
	RetryAttempts int
	RetryInterval time.Duration
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// NewConfig creates a new instance of the Config. Empty keyPrefix means the default "redis" prefix.
func NewConfig(keyPrefix string) *Config {
	if keyPrefix == "" {
		keyPrefix = cfgDefaultKeyPrefix
	}
	return &Config{keyPrefix: keyPrefix}
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
func (c *Config) KeyPrefix() string {
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values in config.DataProvider.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyAddr, DefaultAddr)
	dp.SetDefault(cfgKeyDialTimeout, DefaultDialTimeout.String())
	dp.SetDefault(cfgKeyPingRetryAttempts, DefaultPingRetryAttempts)
	dp.SetDefault(cfgKeyPingRetryInterval, DefaultPingRetryInterval.String())
}

// Set sets configuration values from config.DataProvider.
func (c *Config) Set(dp config.DataProvider) error {
	var err error
	if c.Addr, err = dp.GetString(cfgKeyAddr); err != nil {
		return err
	}
	if c.Addr == "" {
		return dp.WrapKeyErr(cfgKeyAddr, fmt.Errorf("cannot be empty"))
	}
	if c.Username, err = dp.GetString(cfgKeyUsername); err != nil {
		return err
	}
	if c.Password, err = dp.GetString(cfgKeyPassword); err != nil {
		return err
	}
	if c.DB, err = dp.GetInt(cfgKeyDB); err != nil {
		return err
	}
	if c.DB < 0 {
		return dp.WrapKeyErr(cfgKeyDB, fmt.Errorf("should be >= 0"))
	}
	if c.PoolSize, err = dp.GetInt(cfgKeyPoolSize); err != nil {
		return err
	}
	for _, d := range []struct {
		key string
		dst *time.Duration
	}{
		{cfgKeyDialTimeout, &c.DialTimeout},
		{cfgKeyReadTimeout, &c.ReadTimeout},
		{cfgKeyWriteTimeout, &c.WriteTimeout},
		{cfgKeyPingRetryInterval, &c.Ping.RetryInterval},
	} {
		if *d.dst, err = dp.GetDuration(d.key); err != nil {
			return err
		}
	}
	if c.Ping.RetryAttempts, err = dp.GetInt(cfgKeyPingRetryAttempts); err != nil {
		return err
	}
	if c.Ping.RetryAttempts < 0 {
		return dp.WrapKeyErr(cfgKeyPingRetryAttempts, fmt.Errorf("should be >= 0"))
	}
	return nil
}

// ClientOptions converts the configuration into go-redis options.
func (c *Config) ClientOptions() *redis.Options {
	return &redis.Options{
		Addr:         c.Addr,
		Username:     c.Username,
		Password:     c.Password,
		DB:           c.DB,
		PoolSize:     c.PoolSize,
		DialTimeout:  c.DialTimeout,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
	}
}

// NewClient creates a Redis client and waits until the server answers PING,
// retrying according to the ping configuration.
func NewClient(ctx context.Context, cfg *Config, logger log.FieldLogger) (*redis.Client, error) {
	if logger == nil {
		logger = log.NewDisabledLogger()
	}
	client := redis.NewClient(cfg.ClientOptions())
	policy := retry.NewConstantBackoffPolicy(cfg.Ping.RetryInterval, cfg.Ping.RetryAttempts)
	err := retry.DoWithRetry(ctx, policy, nil, retry.LogNotify(logger, "redis is not available yet"),
		func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", cfg.Addr, err)
	}
	logger.Info("connected to redis", log.String("addr", cfg.Addr), log.Int("db", cfg.DB))
	return client, nil
}
