/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package timecounter

import (
	"context"
	"errors"
	"sort"
	"time"
)

// ErrConflict is returned by Store.Commit when the stored buckets differ from the expected ones.
var ErrConflict = errors.New("buckets were modified concurrently")

// Buckets maps a truncated epoch second to the number of events counted in it.
// Counts may be negative (compensating decrements racing with rollup).
type Buckets map[int64]int64

// Sum returns the total count of all buckets.
func (b Buckets) Sum() int64 {
	var sum int64
	for _, cnt := range b {
		sum += cnt
	}
	return sum
}

// Timestamps returns bucket timestamps in ascending order.
func (b Buckets) Timestamps() []int64 {
	res := make([]int64, 0, len(b))
	for ts := range b {
		res = append(res, ts)
	}
	sort.Slice(res, func(i, j int) bool { return res[i] < res[j] })
	return res
}

// Equal reports whether both bucket sets have the same timestamps and counts.
func (b Buckets) Equal(other Buckets) bool {
	if len(b) != len(other) {
		return false
	}
	for ts, cnt := range b {
		if otherCnt, ok := other[ts]; !ok || otherCnt != cnt {
			return false
		}
	}
	return true
}

// Store is a key-value storage of bucketed counters.
type Store interface {
	// IncrBy atomically adds delta to the bucket of the key and refreshes the key TTL.
	IncrBy(ctx context.Context, key string, bucket, delta int64, ttl time.Duration) error

	// GetAll returns all buckets of the key. A missing key has no buckets.
	GetAll(ctx context.Context, key string) (Buckets, error)

	// Commit atomically deletes and sets buckets of the key if its current buckets are equal to expected.
	// ErrConflict is returned otherwise.
	Commit(ctx context.Context, key string, expected Buckets, del []int64, set Buckets) error

	// Keys returns all keys matching the glob pattern.
	Keys(ctx context.Context, pattern string) ([]string, error)
}
