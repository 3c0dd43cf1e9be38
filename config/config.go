/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package config loads configuration of throttling components (counters, Redis store,
// admission queue, logging) from YAML/JSON files and environment variables.
package config

// Config is a common interface for configuration objects that may be used by Loader.
type Config interface {
	SetProviderDefaults(dp DataProvider)
	Set(dp DataProvider) error
}

// KeyPrefixProvider is an interface for providing key prefix that will be used for configuration parameters.
type KeyPrefixProvider interface {
	KeyPrefix() string
}
