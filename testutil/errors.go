/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package testutil

import (
	"time"

	"github.com/stretchr/testify/require"
)

// RequireNoErrorInChannel fails the test if a non-nil error is already sent into the buffered channel.
func RequireNoErrorInChannel(t require.TestingT, c <-chan error, msgAndArgs ...interface{}) {
	markHelper(t)
	select {
	case err := <-c:
		require.NoError(t, err, msgAndArgs...)
	default:
	}
}

// RequireErrorInChannel waits for an error in the channel and returns it.
// The test fails if nothing or nil is received within the timeout.
func RequireErrorInChannel(t require.TestingT, c <-chan error, timeout time.Duration, msgAndArgs ...interface{}) error {
	markHelper(t)
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-c:
		require.Error(t, err, msgAndArgs...)
		return err
	case <-timer.C:
		require.FailNow(t, "no error is received from channel within "+timeout.String(), msgAndArgs...)
	}
	return nil
}
