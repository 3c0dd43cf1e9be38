/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package memstore provides an in-process timecounter.Store.
// It's suitable for tests and single-process deployments where counters don't need to be shared.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/vasayxtx/go-glob"
	"go.uber.org/atomic"

	"github.com/acronis/go-jobthrottle/timecounter"
)

type entry struct {
	buckets   timecounter.Buckets
	expiresAt time.Time
}

// Store keeps buckets in memory. Expired keys are dropped lazily on access.
type Store struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	entries map[string]*entry
	commits atomic.Int64
}

var _ timecounter.Store = (*Store)(nil)

// New creates a new Store. TTLs are tracked using the given clock (real clock if nil).
func New(clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{clock: clock, entries: make(map[string]*entry)}
}

// must be called under the lock
func (s *Store) get(key string) *entry {
	e, ok := s.entries[key]
	if !ok {
		return nil
	}
	if !e.expiresAt.IsZero() && !s.clock.Now().Before(e.expiresAt) {
		delete(s.entries, key)
		return nil
	}
	return e
}

// IncrBy adds delta to the bucket and extends TTL of the key. TTL is never shortened.
func (s *Store) IncrBy(_ context.Context, key string, bucket, delta int64, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.get(key)
	if e == nil {
		e = &entry{buckets: make(timecounter.Buckets)}
		s.entries[key] = e
	}
	e.buckets[bucket] += delta
	if expiresAt := s.clock.Now().Add(ttl); ttl > 0 && expiresAt.After(e.expiresAt) {
		e.expiresAt = expiresAt
	}
	return nil
}

// GetAll returns a copy of the key buckets.
func (s *Store) GetAll(_ context.Context, key string) (timecounter.Buckets, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make(timecounter.Buckets)
	if e := s.get(key); e != nil {
		for ts, cnt := range e.buckets {
			res[ts] = cnt
		}
	}
	return res, nil
}

// Commit applies rollup mutations if buckets were not changed since they were read.
func (s *Store) Commit(_ context.Context, key string, expected timecounter.Buckets, del []int64, set timecounter.Buckets) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.get(key)
	var current timecounter.Buckets
	if e != nil {
		current = e.buckets
	}
	if !current.Equal(expected) {
		return timecounter.ErrConflict
	}
	if e == nil {
		if len(set) == 0 {
			return nil
		}
		e = &entry{buckets: make(timecounter.Buckets)}
		s.entries[key] = e
	}
	for _, ts := range del {
		delete(e.buckets, ts)
	}
	for ts, cnt := range set {
		e.buckets[ts] = cnt
	}
	s.commits.Inc()
	return nil
}

// Keys returns sorted keys matching the glob pattern.
func (s *Store) Keys(_ context.Context, pattern string) ([]string, error) {
	match := glob.Compile(pattern)
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []string
	for key := range s.entries {
		if s.get(key) != nil && match(key) {
			res = append(res, key)
		}
	}
	sort.Strings(res)
	return res, nil
}

// Commits returns the number of applied commits.
func (s *Store) Commits() int64 {
	return s.commits.Load()
}

// TTL returns the remaining time to live of the key. Zero is returned for missing keys and keys without TTL.
func (s *Store) TTL(key string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.get(key)
	if e == nil || e.expiresAt.IsZero() {
		return 0
	}
	return e.expiresAt.Sub(s.clock.Now())
}
