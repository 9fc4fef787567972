package syncer

import (
	"context"
	"math/rand/v2"
	"time"

	"remindbot/internal/backup"
)

var defaultMultipliers = []float64{1, 3, 6, 10}

// Policy retries a remote call while it reports a rate limit. Any other
// error ends the call at once.
type Policy struct {
	Attempts    int
	Base        time.Duration
	Multipliers []float64

	// Rand returns a value in [0, 1). nil uses math/rand/v2.
	Rand func() float64
	// Sleep waits d or until ctx ends. nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

func DefaultPolicy() Policy {
	return Policy{Attempts: 4, Base: 2 * time.Second, Multipliers: defaultMultipliers}
}

// BaseDelay is the wait before retry number attempt (0-based), without
// jitter. Multipliers past the end of the table repeat the last one.
func (p Policy) BaseDelay(attempt int) time.Duration {
	m := p.Multipliers
	if len(m) == 0 {
		m = defaultMultipliers
	}
	attempt = max(0, min(attempt, len(m)-1))
	return time.Duration(float64(p.Base) * m[attempt])
}

// Delay adds jitter in [0, Base/2) to BaseDelay. A server hint raises the
// result but never lowers it.
func (p Policy) Delay(attempt int, hint time.Duration) time.Duration {
	r := rand.Float64
	if p.Rand != nil {
		r = p.Rand
	}
	d := p.BaseDelay(attempt) + time.Duration(r()*float64(p.Base)/2)
	return max(d, hint)
}

// MaxTotal bounds the time Do can spend sleeping, hints excluded.
func (p Policy) MaxTotal() time.Duration {
	var total time.Duration
	for i := 0; i < p.Attempts-1; i++ {
		total += p.BaseDelay(i) + p.Base/2
	}
	return total
}

// Do runs fn until it succeeds, fails with a non rate-limit error, or
// Attempts tries have been rate limited. Exhaustion returns a
// *SyncFailedError wrapping the last error.
func (p Policy) Do(ctx context.Context, fn func(context.Context) error, onRetry func(attempt int, wait time.Duration, err error)) error {
	attempts := max(1, p.Attempts)
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var err error
	for i := 0; i < attempts; i++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		hint, limited := backup.RetryAfter(err)
		if !limited {
			return err
		}
		if i == attempts-1 {
			break
		}
		wait := p.Delay(i, hint)
		if onRetry != nil {
			onRetry(i+1, wait, err)
		}
		if serr := sleep(ctx, wait); serr != nil {
			return &SyncFailedError{Attempts: i + 1, Err: serr}
		}
	}
	return &SyncFailedError{Attempts: attempts, Err: err}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
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
