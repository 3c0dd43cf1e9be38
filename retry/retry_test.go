/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-jobthrottle/log/logtest"
)

func TestDoWithRetry(t *testing.T) {
	errTemporary := errors.New("connection refused")
	errPermanent := errors.New("wrong password")

	t.Run("succeeds after retries", func(t *testing.T) {
		logRecorder := logtest.NewRecorder()
		calls := 0
		err := DoWithRetry(context.Background(), NewConstantBackoffPolicy(time.Millisecond, 5), nil,
			LogNotify(logRecorder, "ping failed"), func(ctx context.Context) error {
				calls++
				if calls < 3 {
					return errTemporary
				}
				return nil
			})
		require.NoError(t, err)
		require.Equal(t, 3, calls)
		require.Len(t, logRecorder.Entries(), 2)
		entry, found := logRecorder.FindEntry("ping failed")
		require.True(t, found)
		field, found := entry.FindField("error")
		require.True(t, found)
		require.Equal(t, errTemporary, field.Any)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		calls := 0
		err := DoWithRetry(context.Background(), NewExponentialBackoffPolicy(time.Millisecond, 2), nil, nil,
			func(ctx context.Context) error {
				calls++
				return errTemporary
			})
		require.ErrorIs(t, err, errTemporary)
		require.Equal(t, 3, calls)
	})

	t.Run("non-retryable error", func(t *testing.T) {
		calls := 0
		err := DoWithRetry(context.Background(), NewConstantBackoffPolicy(time.Millisecond, 5),
			func(err error) bool { return !errors.Is(err, errPermanent) }, nil,
			func(ctx context.Context) error {
				calls++
				return errPermanent
			})
		require.ErrorIs(t, err, errPermanent)
		require.Equal(t, 1, calls)
	})

	t.Run("context is canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		err := DoWithRetry(ctx, NewConstantBackoffPolicy(time.Hour, 0), nil, nil, func(ctx context.Context) error {
			calls++
			cancel()
			return errTemporary
		})
		require.Error(t, err)
		require.Equal(t, 1, calls)
	})
}
