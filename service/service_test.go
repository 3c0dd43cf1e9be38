/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package service

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/acronis/go-jobthrottle/log/logtest"
)

func TestService_Start(t *testing.T) {
	var running atomic.Int32
	unit := newMockUnit("srv", &running)
	svc := New(logtest.NewRecorder(), unit)

	startErr := make(chan error, 1)
	go func() { startErr <- svc.Start() }()
	require.Eventually(t, func() bool { return running.Load() == 1 }, time.Second*3, time.Millisecond*10)
	require.Equal(t, int32(1), unit.registers.Load())

	svc.Signals <- os.Interrupt

	require.NoError(t, <-startErr)
	require.Equal(t, int32(1), unit.graceful.Load())
	require.Equal(t, int32(1), unit.unregs.Load())
}

func TestService_StartContext(t *testing.T) {
	t.Run("context cancellation stops unit", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var running atomic.Int32
		unit := newMockUnit("srv", &running)
		logRecorder := logtest.NewRecorder()
		svc := New(logRecorder, unit)

		startErr := make(chan error, 1)
		go func() { startErr <- svc.StartContext(ctx) }()
		require.Eventually(t, func() bool { return running.Load() == 1 }, time.Second*3, time.Millisecond*10)

		cancel()

		require.NoError(t, <-startErr)
		require.Equal(t, int32(1), unit.graceful.Load())
		_, found := logRecorder.FindEntry("context is canceled, service will be stopped")
		require.True(t, found)
	})

	t.Run("fatal error", func(t *testing.T) {
		var running atomic.Int32
		unit := newMockUnit("srv", &running)
		unit.startErr = errors.New("listen failed")
		svc := New(logtest.NewRecorder(), unit)

		err := svc.StartContext(context.Background())
		require.ErrorIs(t, err, unit.startErr)
	})
}
