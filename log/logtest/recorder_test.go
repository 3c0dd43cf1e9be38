/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package logtest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-jobthrottle/log"
)

func TestRecorder(t *testing.T) {
	logRecorder := NewRecorder()
	queueLogger := logRecorder.With(log.String("queue", "reports"))
	queueLogger.Warn("job delayed", log.Int64("delay_sec", 60))
	logRecorder.WithLevel(log.LevelWarn).Info("filtered out")
	logRecorder.Info("rollup finished")

	require.Len(t, logRecorder.Entries(), 2)

	_, found := logRecorder.FindEntry("filtered out")
	require.False(t, found)

	entry, found := logRecorder.FindEntry("job delayed")
	require.True(t, found)
	require.Equal(t, log.LevelWarn, entry.Level)
	queueField, found := entry.FindField("queue")
	require.True(t, found)
	require.Equal(t, "reports", string(queueField.Bytes))
	delayField, found := entry.FindField("delay_sec")
	require.True(t, found)
	require.Equal(t, int64(60), delayField.Int)

	logRecorder.Reset()
	require.Empty(t, logRecorder.Entries())
}
