// Package retry drives a fetch attempt through a bounded exponential-backoff
// sequence. The state machine is explicit so failure sequences can be tested
// with a fake attempt function and an injected sleeper.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/farmnav/climate-cache/internal/climate/upstream"
)

// Outcome is the terminal state of one retry sequence.
type Outcome string

const (
	// Success: an attempt returned without error.
	Success Outcome = "success"
	// Exhausted: every attempt failed with a retryable error.
	Exhausted Outcome = "exhausted"
	// Permanent: an attempt failed with a non-retryable error; remaining
	// retries were not consumed.
	Permanent Outcome = "permanent"
	// Cancelled: the caller's context ended during an attempt or a backoff
	// wait.
	Cancelled Outcome = "cancelled"
)

const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = time.Second
)

// Controller runs attempts 1..maxRetries+1 with delays baseDelay·2^(n-1)
// between them (1s, 2s, 4s by default).
type Controller struct {
	maxRetries int
	baseDelay  time.Duration
	log        *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error // for tests
}

func New(maxRetries int, baseDelay time.Duration, log *slog.Logger) *Controller {
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		log:        log,
		sleep:      sleepCtx,
	}
}

// Do runs attempt until it succeeds, fails permanently, exhausts the retry
// budget, or the context ends. The returned error is the last attempt's
// error (nil on Success, ctx.Err() on Cancelled before any failure).
func (c *Controller) Do(ctx context.Context, attempt func(ctx context.Context, n int) error) (Outcome, error) {
	var lastErr error

	for n := 1; n <= c.maxRetries+1; n++ {
		if err := ctx.Err(); err != nil {
			return Cancelled, err
		}

		err := attempt(ctx, n)
		if err == nil {
			return Success, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return Cancelled, ctx.Err()
		}
		if !upstream.Retryable(err) {
			c.log.LogAttrs(ctx, slog.LevelWarn, "permanent failure, not retrying",
				slog.Int("attempt", n),
				slog.String("err", err.Error()),
			)
			return Permanent, err
		}
		if n > c.maxRetries {
			break
		}

		delay := c.baseDelay << (n - 1)
		c.log.LogAttrs(ctx, slog.LevelWarn, "transient failure, backing off",
			slog.Int("attempt", n),
			slog.String("delay", delay.String()),
			slog.String("err", err.Error()),
		)
		if err := c.sleep(ctx, delay); err != nil {
			return Cancelled, err
		}
	}

	return Exhausted, lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
