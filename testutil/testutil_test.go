/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package testutil

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

type mockT struct {
	failed bool
}

func (t *mockT) FailNow() { t.failed = true }

func (t *mockT) Errorf(string, ...interface{}) { t.failed = true }

func TestRequireSamplesCountInCounter(t *testing.T) {
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "decisions_total"}, []string{"decision"})
	decisions.WithLabelValues("delay").Add(3)

	mt := &mockT{}
	RequireSamplesCountInCounter(mt, decisions.WithLabelValues("delay"), 2)
	require.True(t, mt.failed)

	mt = &mockT{}
	RequireSamplesCountInCounter(mt, decisions.WithLabelValues("delay"), 3)
	require.False(t, mt.failed)
}

func TestRequireSamplesCountInHistogram(t *testing.T) {
	delays := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "delay_seconds", Buckets: []float64{1, 60, 3600}})
	delays.Observe(90)

	mt := &mockT{}
	RequireSamplesCountInHistogram(mt, delays, 0)
	require.True(t, mt.failed)

	mt = &mockT{}
	RequireSamplesCountInHistogram(mt, delays, 1)
	require.False(t, mt.failed)
}

func TestRequireNoErrorInChannel(t *testing.T) {
	mt := &mockT{}
	ch := make(chan error, 1)

	RequireNoErrorInChannel(mt, ch)
	require.False(t, mt.failed)

	ch <- nil
	RequireNoErrorInChannel(mt, ch)
	require.False(t, mt.failed)

	ch <- errors.New("address already in use")
	RequireNoErrorInChannel(mt, ch)
	require.True(t, mt.failed)
}

func TestRequireErrorInChannel(t *testing.T) {
	ch := make(chan error, 1)
	wantErr := errors.New("address already in use")
	ch <- wantErr
	mt := &mockT{}
	require.Equal(t, wantErr, RequireErrorInChannel(mt, ch, time.Second))
	require.False(t, mt.failed)

	mt = &mockT{}
	RequireErrorInChannel(mt, ch, time.Millisecond*10)
	require.True(t, mt.failed)
}
