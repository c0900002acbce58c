// Package ratelimit spaces outbound upstream calls. One gate is shared by
// every fetch regardless of which query it serves: it protects the remote
// service, not the cache.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// DefaultInterval is the minimum spacing between upstream departures.
const DefaultInterval = time.Second

// Gate enforces a minimum inter-request interval across all concurrent
// callers. Waiters sleep on a timer rather than spinning; order of wakeup is
// approximate arrival order, exact fairness is not guaranteed.
type Gate struct {
	interval time.Duration

	mu   sync.Mutex
	next time.Time

	now func() time.Time // for tests
}

func New(interval time.Duration) *Gate {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Gate{interval: interval, now: time.Now}
}

// Acquire blocks until it is safe to issue a request, then records the
// departure. Returns the context error if the caller is cancelled while
// waiting; a cancelled waiter holds nothing and leaks nothing.
func (g *Gate) Acquire(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		g.mu.Lock()
		now := g.now()
		if !now.Before(g.next) {
			g.next = now.Add(g.interval)
			g.mu.Unlock()
			return nil
		}
		wait := g.next.Sub(now)
		g.mu.Unlock()

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
			// re-contend for the slot
		}
	}
}

// Interval returns the configured spacing.
func (g *Gate) Interval() time.Duration { return g.interval }
