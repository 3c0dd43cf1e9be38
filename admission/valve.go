/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package admission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// valve pauses the queue while at least one producer waits for the global limit.
// Concurrent producers share a single pause.
type valve struct {
	mu      sync.Mutex
	queue   Queue
	clock   clockwork.Clock
	waiters int
}

func (v *valve) hold(ctx context.Context, delay time.Duration) error {
	v.mu.Lock()
	if v.waiters == 0 {
		if err := v.queue.Pause(ctx); err != nil {
			v.mu.Unlock()
			return fmt.Errorf("pause queue: %w", err)
		}
	}
	v.waiters++
	v.mu.Unlock()

	timer := v.clock.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.Chan():
	case <-ctx.Done():
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.waiters--
	if v.waiters == 0 {
		if err := v.queue.Resume(context.WithoutCancel(ctx)); err != nil {
			return fmt.Errorf("resume queue: %w", err)
		}
	}
	return ctx.Err()
}

func (v *valve) paused() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.waiters > 0
}
