package activation

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

// DefaultDelays is the wait before poll rounds 2..n.
var DefaultDelays = []time.Duration{
	5 * time.Second,
	10 * time.Second,
	20 * time.Second,
	60 * time.Second,
}

// Schedule creates a fresh backoff for one poller run.
//
// The backoff yields the delay before each round after the first; when it
// reports stop, no further rounds are scheduled.
type Schedule func() retry.Backoff

// FixedDelays returns a schedule that waits the given delays in order.
func FixedDelays(delays ...time.Duration) Schedule {
	fixed := append([]time.Duration(nil), delays...)
	return func() retry.Backoff {
		next := 0
		return retry.BackoffFunc(func() (time.Duration, bool) {
			if next >= len(fixed) {
				return 0, true
			}
			d := fixed[next]
			next++
			return d, false
		})
	}
}

// ExponentialDelays returns a schedule of rounds-1 waits doubling from base,
// each capped at maxDelay.
func ExponentialDelays(base, maxDelay time.Duration, rounds uint64) Schedule {
	return func() retry.Backoff {
		if rounds <= 1 {
			return FixedDelays()()
		}
		b := retry.NewExponential(base)
		b = retry.WithCappedDuration(maxDelay, b)
		return retry.WithMaxRetries(rounds-1, b)
	}
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the real-time SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
