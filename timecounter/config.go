/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package timecounter

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/acronis/go-jobthrottle/config"
)

const (
	cfgKeyPrefix            = "prefix"
	cfgKeyPolicy            = "policy"
	cfgKeyLimits            = "limits"
	cfgKeyExpireKeyTime     = "expireKeyTime"
	cfgKeyRollupChunkSize   = "rollupChunkSize"
	cfgKeyRollupOnIncrement = "rollupOnIncrement"
	cfgKeyRollupInterval    = "rollupInterval"
	cfgKeyLookaheadSpan     = "lookaheadSpan"
	cfgKeyRollupIgnore      = "rollup.ignore"
	cfgKeyRollupTiers       = "rollup.tiers"
)

// DefaultRollupInterval is a default interval of the periodic rollup of all keys.
const DefaultRollupInterval = 5 * time.Minute

// Config represents a set of configuration parameters for a named set of time counters.
type Config struct {
	Prefix            string
	Policy            Policy
	Limits            LimitSpec
	Rollup            RollupPolicy
	ExpireKeyTime     time.Duration
	RollupChunkSize   int
	RollupOnIncrement bool
	RollupInterval    time.Duration
	LookaheadSpan     int

	keyPrefix string
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// NewConfig creates a new instance of the Config. Key prefix is usually "counters.<name>".
func NewConfig(keyPrefix string) *Config {
	return &Config{keyPrefix: keyPrefix}
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
func (c *Config) KeyPrefix() string {
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values in config.DataProvider.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyPolicy, string(PolicyIncrementFirst))
	dp.SetDefault(cfgKeyLimits, []string{"100/m", "1000/h"})
	dp.SetDefault(cfgKeyRollupChunkSize, DefaultRollupChunkSize)
	dp.SetDefault(cfgKeyRollupOnIncrement, true)
	dp.SetDefault(cfgKeyRollupInterval, DefaultRollupInterval.String())
	dp.SetDefault(cfgKeyLookaheadSpan, DefaultLookaheadSpan)
}

var availablePolicies = []string{string(PolicyIncrementFirst), string(PolicyCheckFirst)}

// Set sets configuration values from config.DataProvider.
func (c *Config) Set(dp config.DataProvider) error {
	var err error
	if c.Prefix, err = dp.GetString(cfgKeyPrefix); err != nil {
		return err
	}
	if c.Prefix == "" {
		return dp.WrapKeyErr(cfgKeyPrefix, fmt.Errorf("cannot be empty"))
	}

	policy, err := dp.GetStringFromSet(cfgKeyPolicy, availablePolicies, false)
	if err != nil {
		return err
	}
	c.Policy = Policy(policy)

	if err = dp.UnmarshalKey(cfgKeyLimits, &c.Limits,
		config.WithDecodeHook(mapstructure.TextUnmarshallerHookFunc())); err != nil {
		return dp.WrapKeyErr(cfgKeyLimits, err)
	}
	if err = c.Limits.Validate(); err != nil {
		return dp.WrapKeyErr(cfgKeyLimits, err)
	}

	if err = c.setRollupPolicy(dp); err != nil {
		return err
	}

	if c.ExpireKeyTime, err = dp.GetDuration(cfgKeyExpireKeyTime); err != nil {
		return err
	}
	if c.ExpireKeyTime < 0 {
		return dp.WrapKeyErr(cfgKeyExpireKeyTime, fmt.Errorf("should be >= 0"))
	}
	if c.RollupChunkSize, err = dp.GetInt(cfgKeyRollupChunkSize); err != nil {
		return err
	}
	if c.RollupChunkSize < 1 {
		return dp.WrapKeyErr(cfgKeyRollupChunkSize, fmt.Errorf("should be >= 1"))
	}
	if c.RollupOnIncrement, err = dp.GetBool(cfgKeyRollupOnIncrement); err != nil {
		return err
	}
	if c.RollupInterval, err = dp.GetDuration(cfgKeyRollupInterval); err != nil {
		return err
	}
	if c.RollupInterval <= 0 {
		return dp.WrapKeyErr(cfgKeyRollupInterval, fmt.Errorf("should be > 0"))
	}
	if c.LookaheadSpan, err = dp.GetInt(cfgKeyLookaheadSpan); err != nil {
		return err
	}
	if c.LookaheadSpan < 1 {
		return dp.WrapKeyErr(cfgKeyLookaheadSpan, fmt.Errorf("should be >= 1"))
	}
	return nil
}

func (c *Config) setRollupPolicy(dp config.DataProvider) error {
	if !dp.IsSet(cfgKeyRollupIgnore) && !dp.IsSet(cfgKeyRollupTiers) {
		c.Rollup = DefaultRollupPolicy()
		return nil
	}
	var err error
	if c.Rollup.Ignore, err = dp.GetDuration(cfgKeyRollupIgnore); err != nil {
		return err
	}
	if err = dp.UnmarshalKey(cfgKeyRollupTiers, &c.Rollup.Tiers,
		config.WithDecodeHook(mapstructure.StringToTimeDurationHookFunc())); err != nil {
		return dp.WrapKeyErr(cfgKeyRollupTiers, err)
	}
	if err = c.Rollup.Validate(); err != nil {
		return dp.WrapKeyErr("rollup", err)
	}
	return nil
}

// Options converts the configuration into Options. Clock, logger and metrics collector are taken from base.
func (c *Config) Options(base Options) Options {
	base.Limits = c.Limits
	base.Rollup = c.Rollup
	base.Policy = c.Policy
	base.ExpireKeyTime = c.ExpireKeyTime
	base.RollupChunkSize = c.RollupChunkSize
	base.DisableRollupOnIncrement = !c.RollupOnIncrement
	base.LookaheadSpan = c.LookaheadSpan
	return base
}

// NewFromConfig creates TimeCounters from the configuration.
func NewFromConfig(store Store, cfg *Config, base Options) (*TimeCounters, error) {
	return New(store, cfg.Prefix, cfg.Options(base))
}
