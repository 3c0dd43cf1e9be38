/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package timecounter_test

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/acronis/go-jobthrottle/log/logtest"
	"github.com/acronis/go-jobthrottle/testutil"
	"github.com/acronis/go-jobthrottle/timecounter"
	"github.com/acronis/go-jobthrottle/timecounter/memstore"
)

const testPrefix = "jobs"

type failingStore struct {
	*memstore.Store
	err error
}

func (s *failingStore) IncrBy(context.Context, string, int64, int64, time.Duration) error {
	return s.err
}

type TimeCountersTestSuite struct {
	suite.Suite
	clock *clockwork.FakeClock
	store *memstore.Store
}

func TestTimeCounters(t *testing.T) {
	suite.Run(t, new(TimeCountersTestSuite))
}

func (s *TimeCountersTestSuite) SetupTest() {
	s.clock = clockwork.NewFakeClockAt(time.Unix(1700000042, 0))
	s.store = memstore.New(s.clock)
}

func (s *TimeCountersTestSuite) newCounters(opts timecounter.Options) *timecounter.TimeCounters {
	opts.Clock = s.clock
	tc, err := timecounter.New(s.store, testPrefix, opts)
	s.Require().NoError(err)
	return tc
}

func (s *TimeCountersTestSuite) now() time.Time {
	return s.clock.Now()
}

func (s *TimeCountersTestSuite) TestNew_Validation() {
	_, err := timecounter.New(s.store, "", timecounter.Options{})
	s.Require().EqualError(err, "prefix cannot be empty")

	_, err = timecounter.New(s.store, testPrefix, timecounter.Options{Limits: timecounter.LimitSpec{{Window: time.Minute}}})
	s.Require().EqualError(err, "invalid limits: max count for window 1m0s should be > 0, got 0")

	_, err = timecounter.New(s.store, testPrefix, timecounter.Options{Policy: "random"})
	s.Require().EqualError(err, `unknown check policy "random"`)

	_, err = timecounter.New(s.store, testPrefix, timecounter.Options{
		Rollup: timecounter.RollupPolicy{Ignore: time.Minute}})
	s.Require().EqualError(err, "invalid rollup policy: at least one rollup tier is required")

	_, err = timecounter.New(s.store, testPrefix, timecounter.Options{
		Limits: timecounter.LimitSpec{{Window: 48 * time.Hour, Max: 10}}})
	s.Require().EqualError(err, "rollup policy keeps buckets for 24h0m0s, it should be >= the largest limit window 48h0m0s")

	_, err = timecounter.New(s.store, testPrefix, timecounter.Options{LookaheadSpan: -1})
	s.Require().EqualError(err, "lookahead span should be >= 0, got -1")

	tc, err := timecounter.New(s.store, testPrefix, timecounter.Options{})
	s.Require().NoError(err)
	s.Require().Equal(timecounter.DefaultLimits(), tc.Limits())
}

func (s *TimeCountersTestSuite) TestCheckAndIncrement_SequentialAdmission() {
	limits := timecounter.LimitSpec{{Window: time.Minute, Max: 2}, {Window: time.Hour, Max: 3}}
	for _, policy := range []timecounter.Policy{timecounter.PolicyIncrementFirst, timecounter.PolicyCheckFirst} {
		s.Run(string(policy), func() {
			s.SetupTest()
			tc := s.newCounters(timecounter.Options{Limits: limits, Policy: policy})
			ctx := context.Background()

			var delays []time.Duration
			for i := 0; i < 3; i++ {
				delay, err := tc.CheckAndIncrement(ctx, "tenant-1")
				s.Require().NoError(err)
				delays = append(delays, delay)
			}
			s.Require().Equal([]time.Duration{0, 0, 60 * time.Second}, delays)

			// Rejected call is not counted.
			counters, err := tc.GetCounters(ctx, "tenant-1")
			s.Require().NoError(err)
			s.Require().Equal(map[time.Duration]int64{time.Minute: 0, time.Hour: 1}, counters.Remaining)
		})
	}
}

func (s *TimeCountersTestSuite) TestCheckAndIncrement_CrossTierBinding() {
	limits := timecounter.LimitSpec{{Window: time.Minute, Max: 3}, {Window: time.Hour, Max: 30}}
	for _, disableRollup := range []bool{false, true} {
		for _, policy := range []timecounter.Policy{timecounter.PolicyIncrementFirst, timecounter.PolicyCheckFirst} {
			s.Run(string(policy), func() {
				s.SetupTest()
				tc := s.newCounters(timecounter.Options{
					Limits: limits, Policy: policy, DisableRollupOnIncrement: disableRollup})
				ctx := context.Background()
				s.Require().NoError(tc.IncrementCounter(ctx, "tenant-1", s.now().Add(-62*time.Second), 40))

				delay, err := tc.CheckAndIncrement(ctx, "tenant-1")
				s.Require().NoError(err)
				s.Require().Equal(3538*time.Second, delay)
			})
		}
	}
}

func (s *TimeCountersTestSuite) TestCheckAndIncrement_WindowSlides() {
	tc := s.newCounters(timecounter.Options{Limits: timecounter.LimitSpec{{Window: time.Minute, Max: 1}}})
	ctx := context.Background()

	delay, err := tc.CheckAndIncrement(ctx, "k")
	s.Require().NoError(err)
	s.Require().Zero(delay)

	s.clock.Advance(20 * time.Second)
	delay, err = tc.CheckAndIncrement(ctx, "k")
	s.Require().NoError(err)
	s.Require().Equal(40*time.Second, delay)

	s.clock.Advance(delay)
	delay, err = tc.CheckAndIncrement(ctx, "k")
	s.Require().NoError(err)
	s.Require().Zero(delay)
}

func (s *TimeCountersTestSuite) TestCheckAndIncrement_Metrics() {
	metrics := timecounter.NewPrometheusMetrics()
	tc := s.newCounters(timecounter.Options{
		Limits: timecounter.LimitSpec{{Window: time.Minute, Max: 1}}, MetricsCollector: metrics})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := tc.CheckAndIncrement(ctx, "k")
		s.Require().NoError(err)
	}
	testutil.RequireSamplesCountInCounter(s.T(), metrics.ChecksTotal.WithLabelValues(timecounter.CheckResultAdmitted), 1)
	testutil.RequireSamplesCountInCounter(s.T(), metrics.ChecksTotal.WithLabelValues(timecounter.CheckResultDelayed), 2)
}

func (s *TimeCountersTestSuite) TestCheckAndIncrement_StoreError() {
	storeErr := errors.New("connection refused")
	tc, err := timecounter.New(&failingStore{Store: s.store, err: storeErr}, testPrefix,
		timecounter.Options{Clock: s.clock})
	s.Require().NoError(err)

	_, err = tc.CheckAndIncrement(context.Background(), "k")
	s.Require().ErrorIs(err, storeErr)
}

func (s *TimeCountersTestSuite) TestCheckWithFutureIncrements() {
	tc := s.newCounters(timecounter.Options{
		Limits: timecounter.LimitSpec{{Window: time.Minute, Max: 2}, {Window: time.Hour, Max: 3}}})
	ctx := context.Background()

	lookahead, err := tc.CheckWithFutureIncrements(ctx, "no-history")
	s.Require().NoError(err)
	s.Require().Equal(timecounter.Lookahead{}, lookahead)

	s.Require().NoError(tc.IncrementCounter(ctx, "busy", s.now(), 3))
	lookahead, err = tc.CheckWithFutureIncrements(ctx, "busy")
	s.Require().NoError(err)
	s.Require().Equal(timecounter.Lookahead{Interval: time.Hour, Delay: time.Hour}, lookahead)

	// Lookahead doesn't modify counters.
	counters, err := tc.GetCounters(ctx, "no-history")
	s.Require().NoError(err)
	s.Require().Equal(int64(2), counters.Remaining[time.Minute])
}

func (s *TimeCountersTestSuite) TestGetCounters() {
	tc := s.newCounters(timecounter.Options{
		Limits: timecounter.LimitSpec{{Window: time.Minute, Max: 10}, {Window: time.Hour, Max: 100}}})
	ctx := context.Background()
	s.Require().NoError(tc.IncrementCounter(ctx, "k", s.now(), 3))
	s.Require().NoError(tc.IncrementCounter(ctx, "k", s.now().Add(-100*time.Second), 5))
	s.Require().NoError(tc.IncrementCounter(ctx, "k", s.now().Add(10*time.Minute), 7))

	counters, err := tc.GetCounters(ctx, "k")
	s.Require().NoError(err)
	s.Require().Equal(timecounter.Counters{
		Remaining:  map[time.Duration]int64{time.Minute: 7, time.Hour: 92},
		DelayCount: 7,
	}, counters)
}

func (s *TimeCountersTestSuite) TestDecrementLast() {
	tc := s.newCounters(timecounter.Options{Limits: timecounter.LimitSpec{{Window: time.Minute, Max: 1}}})
	ctx := context.Background()
	delay, err := tc.CheckAndIncrement(ctx, "k")
	s.Require().NoError(err)
	s.Require().Zero(delay)

	s.Require().NoError(tc.DecrementLast(ctx, "k"))
	delay, err = tc.CheckAndIncrement(ctx, "k")
	s.Require().NoError(err)
	s.Require().Zero(delay)
}

func (s *TimeCountersTestSuite) TestIncrementCounter_TTL() {
	tc := s.newCounters(timecounter.Options{})
	ctx := context.Background()
	s.Require().NoError(tc.IncrementCounter(ctx, "now", s.now(), 1))
	s.Require().Equal(24*time.Hour, s.store.TTL("jobs:counters:now"))

	s.Require().NoError(tc.IncrementCounter(ctx, "future", s.now().Add(2*time.Hour), 1))
	s.Require().Equal(26*time.Hour, s.store.TTL("jobs:counters:future"))

	s.clock.Advance(26 * time.Hour)
	keys, err := s.store.Keys(ctx, "jobs:counters:*")
	s.Require().NoError(err)
	s.Require().Empty(keys)
}

func (s *TimeCountersTestSuite) TestIncrementCounter_ReservationOutlivesLaterIncrements() {
	tc := s.newCounters(timecounter.Options{
		Rollup: timecounter.RollupPolicy{
			Ignore: time.Minute,
			Tiers:  []timecounter.RollupTier{{Period: time.Minute, LessThan: time.Hour}},
		},
	})
	ctx := context.Background()
	s.Require().NoError(tc.IncrementCounter(ctx, "tenant", s.now().Add(5*time.Hour), 1))
	s.Require().Equal(6*time.Hour, s.store.TTL("jobs:counters:tenant"))

	delay, err := tc.CheckAndIncrement(ctx, "tenant")
	s.Require().NoError(err)
	s.Require().Zero(delay)
	s.Require().Equal(6*time.Hour, s.store.TTL("jobs:counters:tenant"))

	s.clock.Advance(time.Hour + time.Second)
	counters, err := tc.GetCounters(ctx, "tenant")
	s.Require().NoError(err)
	s.Require().Equal(int64(1), counters.DelayCount)
}

func (s *TimeCountersTestSuite) TestRollup_Merge() {
	s.clock = clockwork.NewFakeClockAt(time.Unix(1700000100, 0))
	s.store = memstore.New(s.clock)
	tc := s.newCounters(timecounter.Options{
		Rollup: timecounter.RollupPolicy{
			Ignore: time.Minute,
			Tiers:  []timecounter.RollupTier{{Period: time.Minute, LessThan: time.Hour}},
		},
	})
	ctx := context.Background()
	now := s.now()
	s.Require().NoError(tc.IncrementCounter(ctx, "k", now.Add(-62*time.Second), 40))
	s.Require().NoError(tc.IncrementCounter(ctx, "k", now.Add(-63*time.Second), 30))

	s.Require().NoError(tc.Rollup(ctx, []string{"k"}))
	buckets, err := s.store.GetAll(ctx, "jobs:counters:k")
	s.Require().NoError(err)
	s.Require().Equal(timecounter.Buckets{(now.Unix() - 62) / 60 * 60: 70}, buckets)
	s.Require().Equal(int64(1), s.store.Commits())

	// Second rollup with no intervening increments doesn't touch the store.
	s.Require().NoError(tc.Rollup(ctx, []string{"k"}))
	s.Require().Equal(int64(1), s.store.Commits())
}

func (s *TimeCountersTestSuite) TestRollupAll_Conservation() {
	logRecorder := logtest.NewRecorder()
	metrics := timecounter.NewPrometheusMetrics()
	tc := s.newCounters(timecounter.Options{RollupChunkSize: 3, Logger: logRecorder, MetricsCollector: metrics})
	ctx := context.Background()

	rnd := rand.New(rand.NewSource(42))
	keys := []string{"a", "b", "c", "d", "e", "f", "g"}
	sums := make(map[string]int64, len(keys))
	for _, key := range keys {
		for i := 0; i < 200; i++ {
			at := s.now().Add(-time.Duration(rnd.Int63n(int64(24*time.Hour - time.Second))))
			delta := rnd.Int63n(10) - 2
			s.Require().NoError(tc.IncrementCounter(ctx, key, at, delta))
			sums[key] += delta
		}
	}
	s.Require().NoError(s.store.IncrBy(ctx, "other:counters:x", 1, 1, 0))

	s.Require().NoError(tc.RollupAll(ctx))
	for _, key := range keys {
		buckets, err := s.store.GetAll(ctx, "jobs:counters:"+key)
		s.Require().NoError(err)
		s.Require().Equal(sums[key], buckets.Sum(), "sum of %q buckets", key)
		s.Require().Less(len(buckets), 200)
	}
	testutil.RequireSamplesCountInCounter(s.T(),
		metrics.RollupsTotal.WithLabelValues(timecounter.RollupResultCommitted), len(keys))

	commits := s.store.Commits()
	s.Require().NoError(tc.RollupAll(ctx))
	s.Require().Equal(commits, s.store.Commits())

	_, found := logRecorder.FindEntry("time counters are rolled up")
	s.Require().True(found)
}

func TestRollupWorker(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Unix(1700000100, 0))
	store := memstore.New(clock)
	tc, err := timecounter.New(store, testPrefix, timecounter.Options{Clock: clock})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, tc.IncrementCounter(ctx, "k", clock.Now().Add(-90*time.Second), 1))
	require.NoError(t, tc.IncrementCounter(ctx, "k", clock.Now().Add(-91*time.Second), 1))

	worker := timecounter.NewRollupWorker(tc, time.Minute)
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	clock.BlockUntil(1)
	clock.Advance(0)
	require.Eventually(t, func() bool { return store.Commits() == 1 }, 3*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}
