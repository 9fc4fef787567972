package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	logx "remindbot/pkg/logx"
)

// healthyRun is how long a run must last for the backoff to start over.
const healthyRun = 30 * time.Second

type RestartOption func(*restartPolicy)

type restartPolicy struct {
	floor, ceiling time.Duration
	limit          int // restarts allowed; 0 is unlimited
}

// WithRestartBackoff bounds the exponential delay between restarts.
func WithRestartBackoff(minDelay, maxDelay time.Duration) RestartOption {
	return func(p *restartPolicy) {
		if minDelay > 0 {
			p.floor = minDelay
		}
		if maxDelay > 0 {
			p.ceiling = maxDelay
		}
	}
}

// WithMaxRestarts gives up, recording the last error, after n restarts.
func WithMaxRestarts(n int) RestartOption {
	return func(p *restartPolicy) { p.limit = max(n, 0) }
}

// GoRestart keeps fn running. After an error or panic it is started again
// following a jittered exponential delay. A nil or context.Canceled return
// ends the loop, as does canceling the group.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	p := restartPolicy{floor: 250 * time.Millisecond, ceiling: 30 * time.Second}
	for _, o := range opts {
		o(&p)
	}
	p.ceiling = max(p.ceiling, p.floor)
	s.Go0(name+".restart", func(ctx context.Context) { s.restartLoop(ctx, name, fn, p) })
}

func (s *Supervisor) restartLoop(ctx context.Context, name string, fn func(context.Context) error, p restartPolicy) {
	delay := p.floor
	for restarts := 1; ; restarts++ {
		began := time.Now()
		err := s.call(ctx, name, fn)
		if ctx.Err() != nil || err == nil || errors.Is(err, context.Canceled) {
			return
		}
		if p.limit > 0 && restarts > p.limit {
			s.log.Error("goroutine gave up", logx.String("name", name), logx.Int("restarts", restarts-1), logx.Err(err))
			s.fail(fmt.Errorf("%s: %w", name, err))
			return
		}
		if time.Since(began) >= healthyRun {
			delay = p.floor
		}
		wait := delay + time.Duration(rand.Int64N(int64(delay)/5+1))
		s.log.Warn("goroutine restarting", logx.String("name", name), logx.Duration("backoff", wait), logx.Err(err))

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
		delay = min(delay*2, p.ceiling)
	}
}
