/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package redisstore provides timecounter.Store backed by Redis hashes.
// Every counter key is a hash with epoch seconds as fields and counts as values.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cast"

	"github.com/acronis/go-jobthrottle/timecounter"
)

const defaultScanCount = 100

// Store implements timecounter.Store using Redis.
type Store struct {
	client    redis.UniversalClient
	scanCount int64
}

var _ timecounter.Store = (*Store)(nil)

// New creates a new Store.
func New(client redis.UniversalClient) *Store {
	return &Store{client: client, scanCount: defaultScanCount}
}

// IncrBy increments the hash field and extends the key TTL in one transaction.
// The TTL is never shortened, so reservations far in the future are kept.
func (s *Store) IncrBy(ctx context.Context, key string, bucket, delta int64, ttl time.Duration) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, key, strconv.FormatInt(bucket, 10), delta)
		if ttl > 0 {
			pipe.ExpireNX(ctx, key, ttl)
			pipe.ExpireGT(ctx, key, ttl)
		}
		return nil
	})
	return err
}

// GetAll reads all hash fields of the key.
func (s *Store) GetAll(ctx context.Context, key string) (timecounter.Buckets, error) {
	fields, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	return parseBuckets(key, fields)
}

func parseBuckets(key string, fields map[string]string) (timecounter.Buckets, error) {
	res := make(timecounter.Buckets, len(fields))
	for field, value := range fields {
		ts, err := cast.ToInt64E(field)
		if err != nil {
			return nil, fmt.Errorf("parse bucket %q of %q: %w", field, key, err)
		}
		cnt, err := cast.ToInt64E(value)
		if err != nil {
			return nil, fmt.Errorf("parse count %q of bucket %q of %q: %w", value, field, key, err)
		}
		res[ts] = cnt
	}
	return res, nil
}

// Commit deletes and sets hash fields in a transaction guarded by WATCH.
// timecounter.ErrConflict is returned if the key was modified after it had been read or differs from expected.
func (s *Store) Commit(ctx context.Context, key string, expected timecounter.Buckets, del []int64, set timecounter.Buckets) error {
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		current, err := parseBuckets(key, fields)
		if err != nil {
			return err
		}
		if !current.Equal(expected) {
			return timecounter.ErrConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			// HSET goes first: a hash emptied by HDEL is removed by Redis together with its TTL.
			if len(set) != 0 {
				values := make(map[string]interface{}, len(set))
				for ts, cnt := range set {
					values[strconv.FormatInt(ts, 10)] = cnt
				}
				pipe.HSet(ctx, key, values)
			}
			if len(del) != 0 {
				delFields := make([]string, 0, len(del))
				for _, ts := range del {
					delFields = append(delFields, strconv.FormatInt(ts, 10))
				}
				pipe.HDel(ctx, key, delFields...)
			}
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return timecounter.ErrConflict
	}
	return err
}

// Keys iterates over keys matching the pattern with SCAN.
func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	var res []string
	iter := s.client.Scan(ctx, 0, pattern, s.scanCount).Iterator()
	for iter.Next(ctx) {
		res = append(res, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return res, nil
}
