package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/farmnav/climate-cache/internal/climate/upstream"
)

func transientErr(n int) error {
	return &upstream.Error{Class: upstream.ClassTransientService, Status: 503, Err: fmt.Errorf("attempt %d", n)}
}

func permanentErr() error {
	return &upstream.Error{Class: upstream.ClassPermanentRequest, Status: 422, Err: errors.New("bad request")}
}

// newTest returns a controller whose sleeps record into delays instead of
// blocking.
func newTest(t *testing.T, maxRetries int, delays *[]time.Duration) *Controller {
	t.Helper()
	c := New(maxRetries, time.Second, nil)
	c.sleep = func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
	return c
}

func TestDo_SuccessFirstAttempt(t *testing.T) {
	var delays []time.Duration
	c := newTest(t, 3, &delays)

	calls := 0
	out, err := c.Do(context.Background(), func(context.Context, int) error {
		calls++
		return nil
	})
	if out != Success || err != nil {
		t.Fatalf("Do = %s, %v; want success, nil", out, err)
	}
	if calls != 1 || len(delays) != 0 {
		t.Fatalf("calls=%d delays=%v; want 1 call and no sleeps", calls, delays)
	}
}

func TestDo_TransientThenSuccess(t *testing.T) {
	var delays []time.Duration
	c := newTest(t, 3, &delays)

	calls := 0
	out, err := c.Do(context.Background(), func(_ context.Context, n int) error {
		calls++
		if n < 3 {
			return transientErr(n)
		}
		return nil
	})
	if out != Success || err != nil {
		t.Fatalf("Do = %s, %v; want success, nil", out, err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(delays) != len(want) || delays[0] != want[0] || delays[1] != want[1] {
		t.Fatalf("delays = %v, want %v", delays, want)
	}
}

func TestDo_ExhaustsBudgetWithExponentialBackoff(t *testing.T) {
	var delays []time.Duration
	c := newTest(t, 3, &delays)

	calls := 0
	out, err := c.Do(context.Background(), func(_ context.Context, n int) error {
		calls++
		return transientErr(n)
	})
	if out != Exhausted {
		t.Fatalf("Do = %s, want exhausted", out)
	}
	if err == nil || !strings.Contains(err.Error(), "attempt 4") {
		t.Fatalf("expected last attempt's error, got %v", err)
	}
	if calls != 4 {
		t.Fatalf("calls = %d, want 4 (initial + 3 retries)", calls)
	}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	if len(delays) != 3 {
		t.Fatalf("delays = %v, want %v", delays, want)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Fatalf("delay %d = %s, want %s", i, delays[i], want[i])
		}
	}
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	var delays []time.Duration
	c := newTest(t, 3, &delays)

	calls := 0
	out, err := c.Do(context.Background(), func(context.Context, int) error {
		calls++
		return permanentErr()
	})
	if out != Permanent {
		t.Fatalf("Do = %s, want permanent", out)
	}
	if err == nil {
		t.Fatalf("expected the permanent error back")
	}
	if calls != 1 || len(delays) != 0 {
		t.Fatalf("calls=%d delays=%v; permanent failure must not consume retries", calls, delays)
	}
}

func TestDo_UnclassifiedErrorTreatedPermanent(t *testing.T) {
	var delays []time.Duration
	c := newTest(t, 3, &delays)

	out, _ := c.Do(context.Background(), func(context.Context, int) error {
		return errors.New("some unclassified failure")
	})
	if out != Permanent {
		t.Fatalf("Do = %s, want permanent for unclassified error", out)
	}
	if len(delays) != 0 {
		t.Fatalf("unclassified error slept %v", delays)
	}
}

func TestDo_CancelledDuringBackoff(t *testing.T) {
	c := New(3, time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())
	c.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	calls := 0
	out, err := c.Do(ctx, func(_ context.Context, n int) error {
		calls++
		return transientErr(n)
	})
	if out != Cancelled {
		t.Fatalf("Do = %s, want cancelled", out)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestDo_CancelledBeforeFirstAttempt(t *testing.T) {
	var delays []time.Duration
	c := newTest(t, 3, &delays)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	out, err := c.Do(ctx, func(context.Context, int) error {
		calls++
		return nil
	})
	if out != Cancelled || !errors.Is(err, context.Canceled) {
		t.Fatalf("Do = %s, %v; want cancelled, context.Canceled", out, err)
	}
	if calls != 0 {
		t.Fatalf("attempt ran despite cancelled context")
	}
}

func TestDo_ZeroRetriesSingleAttempt(t *testing.T) {
	var delays []time.Duration
	c := newTest(t, 0, &delays)

	calls := 0
	out, _ := c.Do(context.Background(), func(_ context.Context, n int) error {
		calls++
		return transientErr(n)
	})
	if out != Exhausted || calls != 1 || len(delays) != 0 {
		t.Fatalf("out=%s calls=%d delays=%v; want exhausted after one attempt", out, calls, delays)
	}
}
