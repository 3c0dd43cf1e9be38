/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package timecounter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/acronis/go-jobthrottle/log"
)

// Policy defines the order of checking and incrementing in CheckAndIncrement.
type Policy string

// Check-and-increment policies.
const (
	// PolicyIncrementFirst increments the current bucket, checks with no overflow
	// and reverts the increment when a delay is required.
	PolicyIncrementFirst Policy = "increment_first"

	// PolicyCheckFirst checks that one more event fits and increments only in this case.
	PolicyCheckFirst Policy = "check_first"
)

// Default values.
const (
	DefaultRollupChunkSize = 10
	DefaultLookaheadSpan   = 24
)

// Options represents options for TimeCounters.
type Options struct {
	// Limits is a set of windows checked together. DefaultLimits is used if empty.
	Limits LimitSpec

	// Rollup defines how old buckets are compacted. DefaultRollupPolicy is used if zero.
	Rollup RollupPolicy

	// Policy is PolicyIncrementFirst if empty.
	Policy Policy

	// ExpireKeyTime is a TTL of the counter key refreshed on every increment.
	// By default, it's max(rollup max age, largest limit window).
	ExpireKeyTime time.Duration

	// RollupChunkSize is a number of keys rolled up in parallel.
	RollupChunkSize int

	// DisableRollupOnIncrement turns off per-key rollup before each CheckAndIncrement.
	DisableRollupOnIncrement bool

	// LookaheadSpan is a number of largest-window multiples checked by CheckWithFutureIncrements.
	LookaheadSpan int

	Clock            clockwork.Clock
	Logger           log.FieldLogger
	MetricsCollector MetricsCollector
}

// Counters is a snapshot of the remaining capacity of a counter key.
type Counters struct {
	// Remaining is a limit minus events counted in the window, per configured window.
	Remaining map[time.Duration]int64 `json:"remaining"`

	// DelayCount is a number of events reserved in the future.
	DelayCount int64 `json:"delayCount"`
}

// TimeCounters is a set of sliding-window counters stored in Store under a common prefix.
type TimeCounters struct {
	store             Store
	prefix            string
	limits            LimitSpec
	lookaheadLimits   LimitSpec
	rollup            RollupPolicy
	policy            Policy
	expireKeyTime     time.Duration
	chunkSize         int
	rollupOnIncrement bool
	clock             clockwork.Clock
	logger            log.FieldLogger
	metrics           MetricsCollector
}

// New creates a new TimeCounters.
func New(store Store, prefix string, opts Options) (*TimeCounters, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if prefix == "" {
		return nil, errors.New("prefix cannot be empty")
	}

	limits := opts.Limits
	if len(limits) == 0 {
		limits = DefaultLimits()
	}
	if err := limits.Validate(); err != nil {
		return nil, fmt.Errorf("invalid limits: %w", err)
	}
	limits = limits.sorted()

	rollup := opts.Rollup
	if rollup.isZero() {
		rollup = DefaultRollupPolicy()
	}
	if err := rollup.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rollup policy: %w", err)
	}
	if rollup.MaxAge() < limits.MaxWindow() {
		return nil, fmt.Errorf("rollup policy keeps buckets for %s, it should be >= the largest limit window %s",
			rollup.MaxAge(), limits.MaxWindow())
	}

	policy := opts.Policy
	switch policy {
	case "":
		policy = PolicyIncrementFirst
	case PolicyIncrementFirst, PolicyCheckFirst:
	default:
		return nil, fmt.Errorf("unknown check policy %q", policy)
	}

	expireKeyTime := opts.ExpireKeyTime
	if expireKeyTime == 0 {
		expireKeyTime = max(rollup.MaxAge(), limits.MaxWindow())
	}
	if expireKeyTime < 0 {
		return nil, fmt.Errorf("expire key time should be >= 0, got %s", expireKeyTime)
	}

	chunkSize := opts.RollupChunkSize
	if chunkSize == 0 {
		chunkSize = DefaultRollupChunkSize
	}
	if chunkSize < 0 {
		return nil, fmt.Errorf("rollup chunk size should be >= 0, got %d", chunkSize)
	}

	span := opts.LookaheadSpan
	if span == 0 {
		span = DefaultLookaheadSpan
	}
	if span < 0 {
		return nil, fmt.Errorf("lookahead span should be >= 0, got %d", span)
	}

	tc := &TimeCounters{
		store:             store,
		prefix:            prefix,
		limits:            limits,
		lookaheadLimits:   limits.extended(span),
		rollup:            rollup,
		policy:            policy,
		expireKeyTime:     expireKeyTime,
		chunkSize:         chunkSize,
		rollupOnIncrement: !opts.DisableRollupOnIncrement,
		clock:             opts.Clock,
		logger:            opts.Logger,
		metrics:           opts.MetricsCollector,
	}
	if tc.clock == nil {
		tc.clock = clockwork.NewRealClock()
	}
	if tc.logger == nil {
		tc.logger = log.NewDisabledLogger()
	}
	if tc.metrics == nil {
		tc.metrics = disabledMetrics{}
	}
	return tc, nil
}

// Limits returns configured limits sorted by window.
func (tc *TimeCounters) Limits() LimitSpec {
	return append(LimitSpec(nil), tc.limits...)
}

// Prefix returns the key prefix of the counters.
func (tc *TimeCounters) Prefix() string {
	return tc.prefix
}

func (tc *TimeCounters) storeKey(key string) string {
	return tc.prefix + ":counters:" + key
}

func (tc *TimeCounters) now() int64 {
	return tc.clock.Now().Unix()
}

// IncrementCounter adds delta to the bucket of the given moment. Moments in the future reserve capacity.
func (tc *TimeCounters) IncrementCounter(ctx context.Context, key string, at time.Time, delta int64) error {
	return tc.incrementBucket(ctx, tc.storeKey(key), at.Unix(), delta, tc.now())
}

// DecrementLast reverts one event counted in the current second.
func (tc *TimeCounters) DecrementLast(ctx context.Context, key string) error {
	now := tc.now()
	return tc.incrementBucket(ctx, tc.storeKey(key), now, -1, now)
}

func (tc *TimeCounters) incrementBucket(ctx context.Context, storeKey string, bucket, delta, now int64) error {
	ttl := tc.expireKeyTime
	if ahead := bucket - now; ahead > 0 {
		ttl += time.Duration(ahead) * time.Second
	}
	if err := tc.store.IncrBy(ctx, storeKey, bucket, delta, ttl); err != nil {
		return fmt.Errorf("increment bucket %d of %q by %d: %w", bucket, storeKey, delta, err)
	}
	return nil
}

func (tc *TimeCounters) buckets(ctx context.Context, storeKey string) (Buckets, error) {
	buckets, err := tc.store.GetAll(ctx, storeKey)
	if err != nil {
		return nil, fmt.Errorf("get buckets of %q: %w", storeKey, err)
	}
	return buckets, nil
}

// CheckAndIncrement counts one event of the key if it fits into all limits.
// Otherwise, nothing is counted and the returned delay tells when to try again.
func (tc *TimeCounters) CheckAndIncrement(ctx context.Context, key string) (time.Duration, error) {
	now := tc.now()
	if tc.rollupOnIncrement {
		if _, err := tc.rollupKey(ctx, key, now); err != nil {
			return 0, err
		}
	}
	storeKey := tc.storeKey(key)

	var delay time.Duration
	if tc.policy == PolicyCheckFirst {
		buckets, err := tc.buckets(ctx, storeKey)
		if err != nil {
			return 0, err
		}
		if delay = tc.limits.delay(buckets, now, 1); delay == 0 {
			if err = tc.incrementBucket(ctx, storeKey, now, 1, now); err != nil {
				return 0, err
			}
		}
	} else {
		if err := tc.incrementBucket(ctx, storeKey, now, 1, now); err != nil {
			return 0, err
		}
		buckets, err := tc.buckets(ctx, storeKey)
		if err != nil {
			return 0, err
		}
		if delay = tc.limits.delay(buckets, now, 0); delay > 0 {
			if err = tc.incrementBucket(ctx, storeKey, now, -1, now); err != nil {
				return 0, err
			}
		}
	}

	if delay > 0 {
		tc.metrics.IncChecks(CheckResultDelayed)
		tc.logger.Debug("time counter limit is reached",
			log.String("key", key), log.Duration("delay", delay))
		return delay, nil
	}
	tc.metrics.IncChecks(CheckResultAdmitted)
	return 0, nil
}

// CheckWithFutureIncrements checks whether one more event fits into the limits extended with
// synthetic tiers spanning far beyond the largest window. It takes future reservations into account
// and doesn't modify anything.
func (tc *TimeCounters) CheckWithFutureIncrements(ctx context.Context, key string) (Lookahead, error) {
	buckets, err := tc.buckets(ctx, tc.storeKey(key))
	if err != nil {
		return Lookahead{}, err
	}
	return tc.lookaheadLimits.lookahead(buckets, tc.now()), nil
}

// GetCounters returns remaining capacity per configured window, ignoring future reservations,
// and the number of reserved events.
func (tc *TimeCounters) GetCounters(ctx context.Context, key string) (Counters, error) {
	buckets, err := tc.buckets(ctx, tc.storeKey(key))
	if err != nil {
		return Counters{}, err
	}
	now := tc.now()
	res := Counters{Remaining: make(map[time.Duration]int64, len(tc.limits))}
	for _, t := range tc.limits {
		res.Remaining[t.Window] = t.Max
	}
	for ts, cnt := range buckets {
		if ts > now {
			res.DelayCount += cnt
			continue
		}
		for _, t := range tc.limits {
			if now-ts < int64(t.Window/time.Second) {
				res.Remaining[t.Window] -= cnt
			}
		}
	}
	return res, nil
}

// Rollup compacts buckets of the given keys. Keys are processed in parallel by chunks.
func (tc *TimeCounters) Rollup(ctx context.Context, keys []string) error {
	now := tc.now()
	for start := 0; start < len(keys); start += tc.chunkSize {
		chunk := keys[start:min(start+tc.chunkSize, len(keys))]
		eg, egCtx := errgroup.WithContext(ctx)
		for _, key := range chunk {
			key := key
			eg.Go(func() error {
				_, err := tc.rollupKey(egCtx, key, now)
				return err
			})
		}
		if err := eg.Wait(); err != nil {
			return err
		}
	}
	return nil
}

// RollupAll compacts buckets of every key stored under the prefix.
func (tc *TimeCounters) RollupAll(ctx context.Context) error {
	keyPrefix := tc.storeKey("")
	storeKeys, err := tc.store.Keys(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("list keys with prefix %q: %w", keyPrefix, err)
	}
	keys := make([]string, 0, len(storeKeys))
	for _, storeKey := range storeKeys {
		keys = append(keys, strings.TrimPrefix(storeKey, keyPrefix))
	}
	startTime := tc.clock.Now()
	if err = tc.Rollup(ctx, keys); err != nil {
		return err
	}
	tc.logger.Debug("time counters are rolled up",
		log.String("prefix", tc.prefix), log.Int("keys", len(keys)),
		log.Duration("duration", tc.clock.Since(startTime)))
	return nil
}

func (tc *TimeCounters) rollupKey(ctx context.Context, key string, now int64) (rollupPlan, error) {
	storeKey := tc.storeKey(key)
	buckets, err := tc.buckets(ctx, storeKey)
	if err != nil {
		return rollupPlan{}, err
	}
	plan := tc.rollup.plan(buckets, now)
	if plan.empty() {
		tc.metrics.IncRollups(RollupResultNoop)
		return plan, nil
	}
	if err = tc.store.Commit(ctx, storeKey, buckets, plan.Deleted, plan.Set); err != nil {
		if errors.Is(err, ErrConflict) {
			// Next rollup will pick it up.
			tc.metrics.IncRollups(RollupResultConflict)
			tc.logger.Debug("time counter rollup is skipped because of concurrent modification",
				log.String("key", key))
			return rollupPlan{}, nil
		}
		return rollupPlan{}, fmt.Errorf("commit rollup of %q: %w", storeKey, err)
	}
	tc.metrics.IncRollups(RollupResultCommitted)
	return plan, nil
}
