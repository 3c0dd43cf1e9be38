/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/acronis/go-jobthrottle/log/logtest"
)

func TestPeriodicWorker_Run(t *testing.T) {
	t.Run("runs every interval until context is done", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		var runs atomic.Int32
		pw := NewPeriodicWorkerWithOpts(WorkerFunc(func(ctx context.Context) error {
			runs.Inc()
			return nil
		}), time.Minute, logtest.NewRecorder(), PeriodicWorkerOpts{InitialDelay: time.Second, Clock: clock})

		ctx, cancel := context.WithCancel(context.Background())
		runErr := make(chan error, 1)
		go func() { runErr <- pw.Run(ctx) }()

		clock.BlockUntil(1)
		clock.Advance(time.Second)
		require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second*3, time.Millisecond)

		for i := 2; i <= 4; i++ {
			clock.BlockUntil(1)
			clock.Advance(time.Minute)
			want := int32(i)
			require.Eventually(t, func() bool { return runs.Load() == want }, time.Second*3, time.Millisecond)
		}

		cancel()
		require.NoError(t, <-runErr)
		require.Equal(t, int32(4), runs.Load())
	})

	t.Run("stops by ErrPeriodicWorkerStop", func(t *testing.T) {
		var runs atomic.Int32
		pw := NewPeriodicWorker(WorkerFunc(func(ctx context.Context) error {
			if runs.Inc() == 2 {
				return ErrPeriodicWorkerStop
			}
			return nil
		}), time.Millisecond, nil)
		require.NoError(t, pw.Run(context.Background()))
		require.Equal(t, int32(2), runs.Load())
	})

	t.Run("errors are logged and delay is computed", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		logRecorder := logtest.NewRecorder()
		workErr := errors.New("store is unavailable")
		var gotErr error
		var runs atomic.Int32
		pw := NewPeriodicWorkerWithOpts(WorkerFunc(func(ctx context.Context) error {
			if runs.Inc() == 2 {
				return ErrPeriodicWorkerStop
			}
			return workErr
		}), time.Hour, logRecorder, PeriodicWorkerOpts{
			InitialDelay: time.Second,
			Clock:        clock,
			IntervalDelayFunc: func(_ Worker, err error) time.Duration {
				gotErr = err
				return time.Second
			},
		})

		runErr := make(chan error, 1)
		go func() { runErr <- pw.Run(context.Background()) }()
		clock.BlockUntil(1)
		clock.Advance(time.Second)
		clock.BlockUntil(1)
		clock.Advance(time.Second)

		require.NoError(t, <-runErr)
		require.ErrorIs(t, gotErr, workErr)
		entry, found := logRecorder.FindEntry("periodically running worker finished with error")
		require.True(t, found)
		field, found := entry.FindField("error")
		require.True(t, found)
		require.Equal(t, workErr, field.Any)
	})
}
