/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package timecounter provides sliding-window event counters shared between processes.
//
// Every counter key is stored as a hash of per-second buckets (epoch second -> count)
// in an external Store (see memstore and redisstore sub-packages). A LimitSpec describes
// several windows at once (e.g. 100 events per minute and 1000 per hour), and the counters
// answer how long a caller has to wait until one more event fits into all of them.
//
// Old buckets are compacted ("rolled up") into coarser ones according to a RollupPolicy.
// Rollup keeps the sum of counts and never touches buckets younger than RollupPolicy.Ignore,
// so it may run concurrently with checks and increments.
//
// Concurrent callers racing on the same key may over-admit by up to the number of racers
// hitting the same second. Two orderings are available to choose from:
// PolicyIncrementFirst (increment, check, revert on failure) and
// PolicyCheckFirst (check, increment on success).
package timecounter
