/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package logtest provides a log.FieldLogger that records entries, so tests can check
// which admission decisions and rollups were logged.
package logtest
