/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package timecounter

import (
	"errors"
	"fmt"
	"time"
)

// RollupTier merges buckets younger than LessThan into buckets aligned to Period.
type RollupTier struct {
	Period   time.Duration `mapstructure:"period" yaml:"period" json:"period"`
	LessThan time.Duration `mapstructure:"lt" yaml:"lt" json:"lt"`
}

// RollupPolicy defines how old buckets are compacted.
// Buckets younger than Ignore are never touched.
// A bucket is merged by the first tier (in LessThan order) whose LessThan is greater than the bucket age.
// Buckets older than every tier are kept aligned to the period of the last tier
// until the whole period is older than MaxAge, and deleted after that.
// Every period is a multiple of the previous one, so a merged bucket never leaves the retention.
type RollupPolicy struct {
	Ignore time.Duration `mapstructure:"ignore" yaml:"ignore" json:"ignore"`
	Tiers  []RollupTier  `mapstructure:"tiers" yaml:"tiers" json:"tiers"`
}

// DefaultRollupPolicy keeps the last minute intact, merges the last hour by minutes
// and the last day by hours.
func DefaultRollupPolicy() RollupPolicy {
	return RollupPolicy{
		Ignore: time.Minute,
		Tiers: []RollupTier{
			{Period: time.Minute, LessThan: time.Hour},
			{Period: time.Hour, LessThan: 24 * time.Hour},
		},
	}
}

func (p RollupPolicy) isZero() bool {
	return p.Ignore == 0 && len(p.Tiers) == 0
}

// Validate checks the policy.
func (p RollupPolicy) Validate() error {
	if p.Ignore < time.Second || p.Ignore%time.Second != 0 {
		return fmt.Errorf("rollup ignore interval %s should be a positive whole number of seconds", p.Ignore)
	}
	if len(p.Tiers) == 0 {
		return errors.New("at least one rollup tier is required")
	}
	prevLessThan := p.Ignore
	var prevPeriod time.Duration
	for _, t := range p.Tiers {
		if t.Period < time.Second || t.Period%time.Second != 0 {
			return fmt.Errorf("rollup period %s should be a positive whole number of seconds", t.Period)
		}
		if prevPeriod != 0 && t.Period%prevPeriod != 0 {
			return fmt.Errorf("rollup period %s should be a multiple of %s", t.Period, prevPeriod)
		}
		prevPeriod = t.Period
		if t.LessThan%time.Second != 0 {
			return fmt.Errorf("rollup lt %s should be a whole number of seconds", t.LessThan)
		}
		if t.LessThan <= prevLessThan {
			return fmt.Errorf("rollup lt %s should be greater than %s", t.LessThan, prevLessThan)
		}
		prevLessThan = t.LessThan
	}
	return nil
}

// MaxAge returns the age after which buckets are deleted.
func (p RollupPolicy) MaxAge() time.Duration {
	if len(p.Tiers) == 0 {
		return p.Ignore
	}
	return p.Tiers[len(p.Tiers)-1].LessThan
}

// compact performs one merge step over all buckets.
func (p RollupPolicy) compact(buckets Buckets, now int64) Buckets {
	ignore := int64(p.Ignore / time.Second)
	res := make(Buckets, len(buckets))
	for ts, cnt := range buckets {
		age := now - ts
		if age < ignore {
			res[ts] += cnt
			continue
		}
		if target, ok := p.target(ts, age); ok {
			res[target] += cnt
		}
	}
	return res
}

// target returns the timestamp the bucket is merged into. False means the bucket is expired.
func (p RollupPolicy) target(ts, age int64) (int64, bool) {
	for _, t := range p.Tiers {
		if age < int64(t.LessThan/time.Second) {
			period := int64(t.Period / time.Second)
			return ts - ts%period, true
		}
	}
	last := int64(p.Tiers[len(p.Tiers)-1].Period / time.Second)
	if age < int64(p.MaxAge()/time.Second)+last {
		return ts - ts%last, true
	}
	return 0, false
}

// rollupPlan is a set of mutations turning the current buckets into compacted ones.
type rollupPlan struct {
	Deleted []int64
	Set     Buckets
}

func (rp rollupPlan) empty() bool {
	return len(rp.Deleted) == 0 && len(rp.Set) == 0
}

// plan repeats the merge step until it stops changing buckets and returns the difference
// between the result and the current state. Applying the plan and planning again yields an empty plan.
// Merged buckets only move to coarser periods, so the loop ends after at most one step per tier.
func (p RollupPolicy) plan(current Buckets, now int64) rollupPlan {
	next := current
	for i := 0; i < len(p.Tiers)+2; i++ {
		compacted := p.compact(next, now)
		if compacted.Equal(next) {
			break
		}
		next = compacted
	}

	var res rollupPlan
	for _, ts := range current.Timestamps() {
		if _, ok := next[ts]; !ok {
			res.Deleted = append(res.Deleted, ts)
		}
	}
	for ts, cnt := range next {
		if oldCnt, ok := current[ts]; !ok || oldCnt != cnt {
			if res.Set == nil {
				res.Set = make(Buckets)
			}
			res.Set[ts] = cnt
		}
	}
	return res
}
