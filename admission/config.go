/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package admission

import (
	"errors"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cast"

	"github.com/acronis/go-jobthrottle/config"
	"github.com/acronis/go-jobthrottle/jobqueue"
)

const cfgDefaultKeyPrefix = "admission"

const (
	cfgKeyAttemptCount  = "attemptCount"
	cfgKeyConcurrency   = "concurrency"
	cfgKeyGlobalCounter = "globalCounter"
	cfgKeyPerJob        = "perJob"
)

// DefaultConcurrency is a default number of jobs processed in parallel.
const DefaultConcurrency = 1

// PerJobLimitConfig is a configuration of a per-job limit.
type PerJobLimitConfig struct {
	Name string `mapstructure:"name" yaml:"name" json:"name"`

	// Counter is a name of the time counters set.
	Counter string `mapstructure:"counter" yaml:"counter" json:"counter"`

	// IDField is a job data field whose value is used as the counter key.
	IDField string `mapstructure:"idField" yaml:"idField" json:"idField"`

	DropCondition time.Duration `mapstructure:"dropCondition" yaml:"dropCondition" json:"dropCondition"`
}

// Config represents a set of configuration parameters for AdmissionQueue.
type Config struct {
	AttemptCount int
	Concurrency  int

	// GlobalCounter is a name of the time counters set used for the global limit.
	// Empty value disables the global limit.
	GlobalCounter string

	PerJob []PerJobLimitConfig

	keyPrefix string
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// NewConfig creates a new instance of the Config.
// Empty keyPrefix means the default "admission" prefix.
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
	dp.SetDefault(cfgKeyAttemptCount, 1)
	dp.SetDefault(cfgKeyConcurrency, DefaultConcurrency)
}

// Set sets configuration values from config.DataProvider.
func (c *Config) Set(dp config.DataProvider) error {
	var err error
	if c.AttemptCount, err = dp.GetInt(cfgKeyAttemptCount); err != nil {
		return err
	}
	if c.AttemptCount < 1 {
		return dp.WrapKeyErr(cfgKeyAttemptCount, fmt.Errorf("should be >= 1"))
	}
	if c.Concurrency, err = dp.GetInt(cfgKeyConcurrency); err != nil {
		return err
	}
	if c.Concurrency < 1 {
		return dp.WrapKeyErr(cfgKeyConcurrency, fmt.Errorf("should be >= 1"))
	}
	if c.GlobalCounter, err = dp.GetString(cfgKeyGlobalCounter); err != nil {
		return err
	}

	c.PerJob = nil
	if err = dp.UnmarshalKey(cfgKeyPerJob, &c.PerJob,
		config.WithDecodeHook(mapstructure.StringToTimeDurationHookFunc())); err != nil {
		return dp.WrapKeyErr(cfgKeyPerJob, err)
	}
	for i, l := range c.PerJob {
		key := fmt.Sprintf("%s.%d", cfgKeyPerJob, i)
		if l.Name == "" {
			return dp.WrapKeyErr(key+".name", errors.New("cannot be empty"))
		}
		if l.Counter == "" {
			return dp.WrapKeyErr(key+".counter", errors.New("cannot be empty"))
		}
		if l.IDField == "" {
			return dp.WrapKeyErr(key+".idField", errors.New("cannot be empty"))
		}
		if l.DropCondition <= 0 {
			return dp.WrapKeyErr(key+".dropCondition", errors.New("should be > 0"))
		}
	}
	return nil
}

// Limits resolves counter names of the configuration into Limits.
func (c *Config) Limits(counters map[string]Counter) (Limits, error) {
	var limits Limits
	if c.GlobalCounter != "" {
		counter, ok := counters[c.GlobalCounter]
		if !ok {
			return Limits{}, fmt.Errorf("unknown counter %q of the global limit", c.GlobalCounter)
		}
		limits.Global = &GlobalLimit{Counter: counter}
	}
	for _, l := range c.PerJob {
		counter, ok := counters[l.Counter]
		if !ok {
			return Limits{}, fmt.Errorf("unknown counter %q of %q limit", l.Counter, l.Name)
		}
		limits.PerJob = append(limits.PerJob, PerJobLimit{
			Name:          l.Name,
			Counter:       counter,
			GetID:         DataFieldID(l.IDField),
			DropCondition: l.DropCondition,
		})
	}
	return limits, nil
}

// DataFieldID returns a function that takes the counter key from the job data field.
// Non-string scalar values are converted to strings.
func DataFieldID(field string) func(job *jobqueue.Job) (string, error) {
	return func(job *jobqueue.Job) (string, error) {
		val, ok := job.Data[field]
		if !ok {
			return "", fmt.Errorf("job data has no %q field", field)
		}
		id, err := cast.ToStringE(val)
		if err != nil {
			return "", fmt.Errorf("convert %q field: %w", field, err)
		}
		if id == "" {
			return "", fmt.Errorf("job data field %q is empty", field)
		}
		return id, nil
	}
}
