/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package timecounter

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Tier is a single window of a LimitSpec: at most Max events during any Window.
type Tier struct {
	Window time.Duration
	Max    int64
}

// String returns a string representation of the tier (e.g. "100/m", "300/90s").
// Implements fmt.Stringer interface.
func (t Tier) String() string {
	if t.Window == 0 && t.Max == 0 {
		return ""
	}
	var w string
	switch t.Window {
	case time.Second:
		w = "s"
	case time.Minute:
		w = "m"
	case time.Hour:
		w = "h"
	case 24 * time.Hour:
		w = "d"
	default:
		w = t.Window.String()
	}
	return fmt.Sprintf("%d/%s", t.Max, w)
}

// UnmarshalText implements the encoding.TextUnmarshaler interface which is used by mapstructure.TextUnmarshallerHookFunc.
func (t *Tier) UnmarshalText(text []byte) error {
	return t.unmarshal(string(text))
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (t *Tier) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return err
	}
	return t.unmarshal(text)
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (t *Tier) UnmarshalYAML(value *yaml.Node) error {
	var text string
	if err := value.Decode(&text); err != nil {
		return err
	}
	return t.unmarshal(text)
}

// MarshalText implements the encoding.TextMarshaler interface.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// MarshalJSON implements the json.Marshaler interface.
func (t Tier) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// MarshalYAML implements the yaml.Marshaler interface.
func (t Tier) MarshalYAML() (interface{}, error) {
	return t.String(), nil
}

func (t *Tier) unmarshal(text string) error {
	incorrectFormatErr := fmt.Errorf(
		"incorrect format for limit %q, should be N/(s|m|h|d|<duration>), for example 10/s, 100/m, 300/90s", text)
	parts := strings.SplitN(strings.TrimSpace(text), "/", 2)
	if len(parts) != 2 {
		return incorrectFormatErr
	}
	maxCount, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return incorrectFormatErr
	}
	var window time.Duration
	switch unit := strings.ToLower(parts[1]); unit {
	case "s":
		window = time.Second
	case "m":
		window = time.Minute
	case "h":
		window = time.Hour
	case "d":
		window = 24 * time.Hour
	default:
		if window, err = time.ParseDuration(unit); err != nil {
			return incorrectFormatErr
		}
	}
	*t = Tier{Window: window, Max: maxCount}
	return nil
}

// LimitSpec is a set of tiers checked together.
type LimitSpec []Tier

// DefaultLimits returns 100 events per minute and 1000 per hour.
func DefaultLimits() LimitSpec {
	return LimitSpec{{Window: time.Minute, Max: 100}, {Window: time.Hour, Max: 1000}}
}

// ParseLimits parses limits in text form, e.g. ParseLimits("100/m", "1000/h").
func ParseLimits(tiers ...string) (LimitSpec, error) {
	res := make(LimitSpec, 0, len(tiers))
	for _, s := range tiers {
		var t Tier
		if err := t.UnmarshalText([]byte(s)); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, nil
}

// Validate checks that the spec has at least one tier, all windows are unique whole seconds
// and all maximums are positive.
func (ls LimitSpec) Validate() error {
	if len(ls) == 0 {
		return errors.New("at least one limit tier is required")
	}
	seen := make(map[time.Duration]struct{}, len(ls))
	for _, t := range ls {
		if t.Window < time.Second || t.Window%time.Second != 0 {
			return fmt.Errorf("window %s should be a positive whole number of seconds", t.Window)
		}
		if t.Max <= 0 {
			return fmt.Errorf("max count for window %s should be > 0, got %d", t.Window, t.Max)
		}
		if _, ok := seen[t.Window]; ok {
			return fmt.Errorf("window %s is duplicated", t.Window)
		}
		seen[t.Window] = struct{}{}
	}
	return nil
}

// MaxWindow returns the largest window of the spec.
func (ls LimitSpec) MaxWindow() time.Duration {
	var res time.Duration
	for _, t := range ls {
		if t.Window > res {
			res = t.Window
		}
	}
	return res
}

func (ls LimitSpec) sorted() LimitSpec {
	res := make(LimitSpec, len(ls))
	copy(res, ls)
	sort.Slice(res, func(i, j int) bool { return res[i].Window < res[j].Window })
	return res
}

// maxIntermediateTiers bounds the number of synthetic tiers inserted between two neighbours.
const maxIntermediateTiers = 1000

// extended returns a sorted spec with synthetic tiers used by lookahead checks.
// Between neighbours (W_i, C_i) and (W_i+1, C_i+1) windows W_i*(k+1) with C_i*k events are added
// while C_i*k < C_i+1. Beyond the largest window, windows W_max*m (m = 2..span) are added,
// allowing the smallest tier's rate on top of C_max.
// Configured tiers win over synthetic ones with the same window.
func (ls LimitSpec) extended(span int) LimitSpec {
	base := ls.sorted()
	if len(base) == 0 {
		return base
	}
	windows := make(map[time.Duration]int64, len(base))
	for _, t := range base {
		windows[t.Window] = t.Max
	}
	addTier := func(window time.Duration, maxCount int64) {
		if _, ok := windows[window]; !ok {
			windows[window] = maxCount
		}
	}

	for i := 0; i+1 < len(base); i++ {
		cur, next := base[i], base[i+1]
		for k := int64(1); k <= maxIntermediateTiers && cur.Max*k < next.Max; k++ {
			addTier(cur.Window*time.Duration(k+1), cur.Max*k)
		}
	}

	first, last := base[0], base[len(base)-1]
	firstSec, lastSec := int64(first.Window/time.Second), int64(last.Window/time.Second)
	for m := int64(2); m <= int64(span); m++ {
		extraSec := lastSec*m - lastSec
		addTier(last.Window*time.Duration(m), last.Max+extraSec*first.Max/firstSec)
	}

	res := make(LimitSpec, 0, len(windows))
	for window, maxCount := range windows {
		res = append(res, Tier{Window: window, Max: maxCount})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Window < res[j].Window })
	return res
}

// tierDelay returns how long to wait until the tier has room for overflow more events.
// The wait is the time until the oldest in-window bucket leaves the window.
func tierDelay(t Tier, buckets Buckets, now, overflow int64) (time.Duration, bool) {
	window := int64(t.Window / time.Second)
	remaining := t.Max
	minLeft := int64(-1)
	for ts, cnt := range buckets {
		age := now - ts
		if age >= window {
			continue
		}
		remaining -= cnt
		if left := window - age; minLeft < 0 || left < minLeft {
			minLeft = left
		}
	}
	if remaining >= overflow {
		return 0, false
	}
	if minLeft < 0 {
		minLeft = 0
	}
	return time.Duration(minLeft) * time.Second, true
}

// delay returns the longest delay over all offending tiers.
func (ls LimitSpec) delay(buckets Buckets, now, overflow int64) time.Duration {
	var res time.Duration
	for _, t := range ls {
		if d, over := tierDelay(t, buckets, now, overflow); over && d > res {
			res = d
		}
	}
	return res
}

// Lookahead describes the binding tier of a lookahead check.
// Zero value means no tier is exceeded.
type Lookahead struct {
	Interval time.Duration
	Delay    time.Duration
}

// lookahead returns the offending tier with the largest window.
func (ls LimitSpec) lookahead(buckets Buckets, now int64) Lookahead {
	var res Lookahead
	for _, t := range ls {
		if d, over := tierDelay(t, buckets, now, 1); over && t.Window > res.Interval {
			res = Lookahead{Interval: t.Window, Delay: d}
		}
	}
	return res
}
