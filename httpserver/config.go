/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"fmt"
	"time"

	"github.com/acronis/go-jobthrottle/config"
)

const cfgDefaultKeyPrefix = "server"

const (
	cfgKeyServerAddress            = "address"
	cfgKeyServerProfiling          = "profiling"
	cfgKeyServerTimeoutsWrite      = "timeouts.write"
	cfgKeyServerTimeoutsRead       = "timeouts.read"
	cfgKeyServerTimeoutsReadHeader = "timeouts.readHeader"
	cfgKeyServerTimeoutsIdle       = "timeouts.idle"
	cfgKeyServerTimeoutsShutdown   = "timeouts.shutdown"
)

const (
	defaultServerAddress            = ":8080"
	defaultServerTimeoutsWrite      = time.Minute
	defaultServerTimeoutsRead       = time.Second * 15
	defaultServerTimeoutsReadHeader = time.Second * 10
	defaultServerTimeoutsIdle       = time.Minute
	defaultServerTimeoutsShutdown   = time.Second * 5
)

// Config represents a set of configuration parameters for HTTPServer.
type Config struct {
	Address  string
	Timeouts TimeoutsConfig

	// Profiling enables pprof endpoints.
	Profiling bool

	keyPrefix string
}

// TimeoutsConfig represents a set of configuration parameters for HTTPServer relating to timeouts.
type TimeoutsConfig struct {
	Write      time.Duration
	Read       time.Duration
	ReadHeader time.Duration
	Idle       time.Duration
	Shutdown   time.Duration
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// NewConfig creates a new instance of the Config.
// Empty keyPrefix means the default "server" prefix.
func NewConfig(keyPrefix string) *Config {
	if keyPrefix == "" {
		keyPrefix = cfgDefaultKeyPrefix
	}
	return &Config{keyPrefix: keyPrefix}
}

// NewDefaultConfig creates a new instance of the Config with default values.
func NewDefaultConfig() *Config {
	return &Config{
		keyPrefix: cfgDefaultKeyPrefix,
		Address:   defaultServerAddress,
		Timeouts: TimeoutsConfig{
			Write:      defaultServerTimeoutsWrite,
			Read:       defaultServerTimeoutsRead,
			ReadHeader: defaultServerTimeoutsReadHeader,
			Idle:       defaultServerTimeoutsIdle,
			Shutdown:   defaultServerTimeoutsShutdown,
		},
	}
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
func (c *Config) KeyPrefix() string {
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values for HTTPServer in config.DataProvider.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyServerAddress, defaultServerAddress)
	dp.SetDefault(cfgKeyServerTimeoutsWrite, defaultServerTimeoutsWrite.String())
	dp.SetDefault(cfgKeyServerTimeoutsRead, defaultServerTimeoutsRead.String())
	dp.SetDefault(cfgKeyServerTimeoutsReadHeader, defaultServerTimeoutsReadHeader.String())
	dp.SetDefault(cfgKeyServerTimeoutsIdle, defaultServerTimeoutsIdle.String())
	dp.SetDefault(cfgKeyServerTimeoutsShutdown, defaultServerTimeoutsShutdown.String())
}

// Set sets HTTPServer configuration values from config.DataProvider.
func (c *Config) Set(dp config.DataProvider) error {
	var err error
	if c.Address, err = dp.GetString(cfgKeyServerAddress); err != nil {
		return err
	}
	if c.Address == "" {
		return dp.WrapKeyErr(cfgKeyServerAddress, fmt.Errorf("cannot be empty"))
	}
	if c.Profiling, err = dp.GetBool(cfgKeyServerProfiling); err != nil {
		return err
	}
	for _, d := range []struct {
		key string
		dst *time.Duration
	}{
		{cfgKeyServerTimeoutsWrite, &c.Timeouts.Write},
		{cfgKeyServerTimeoutsRead, &c.Timeouts.Read},
		{cfgKeyServerTimeoutsReadHeader, &c.Timeouts.ReadHeader},
		{cfgKeyServerTimeoutsIdle, &c.Timeouts.Idle},
		{cfgKeyServerTimeoutsShutdown, &c.Timeouts.Shutdown},
	} {
		if *d.dst, err = dp.GetDuration(d.key); err != nil {
			return err
		}
		if *d.dst < 0 {
			return dp.WrapKeyErr(d.key, fmt.Errorf("should be >= 0"))
		}
	}
	return nil
}
