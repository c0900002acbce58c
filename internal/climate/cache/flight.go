package cache

import (
	"context"
	"sync"

	"github.com/farmnav/climate-cache/internal/climate/model"
	"github.com/farmnav/climate-cache/internal/core/observability"
)

// Result is what one pipeline execution produced for a key.
type Result struct {
	Dataset model.Dataset
	Source  model.Source
	Err     error
}

type call struct {
	done chan struct{}
	res  Result
}

// Flight coalesces concurrent requests per key: while a fetch for key K is
// in flight, every other caller for K waits for that single execution
// instead of starting its own. Claiming "I am the fetcher for K" is an
// atomic check-and-set under the group mutex.
type Flight struct {
	mu    sync.Mutex
	calls map[string]*call
}

func NewFlight() *Flight {
	return &Flight{calls: map[string]*call{}}
}

// Do runs fn for key unless an execution is already in flight, in which case
// it waits for that one. Waiters unwind on their own context without
// affecting the in-flight execution. The bool reports whether this caller
// was the one that executed fn.
func (f *Flight) Do(ctx context.Context, key string, fn func() Result) (Result, bool, error) {
	f.mu.Lock()
	if c, ok := f.calls[key]; ok {
		f.mu.Unlock()
		observability.IncCoalescedWaiter()
		select {
		case <-c.done:
			return c.res, false, nil
		case <-ctx.Done():
			return Result{}, false, ctx.Err()
		}
	}

	c := &call{done: make(chan struct{})}
	f.calls[key] = c
	f.mu.Unlock()

	c.res = fn()

	f.mu.Lock()
	delete(f.calls, key)
	f.mu.Unlock()
	close(c.done)

	return c.res, true, nil
}

// InFlight reports whether a fetch for key is currently executing.
func (f *Flight) InFlight(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.calls[key]
	return ok
}
