package scheduler

import (
	"errors"
	"sync"
	"time"

	"remindbot/internal/task/engine"
	logx "remindbot/pkg/logx"
)

// warnLimiter admits one warning per key per window.
type warnLimiter struct {
	window time.Duration

	mu   sync.Mutex
	last map[string]time.Time
}

func (w *warnLimiter) allow(key string, now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if prev, ok := w.last[key]; ok && now.Sub(prev) < w.window {
		return false
	}
	if w.last == nil {
		w.last = map[string]time.Time{}
	}
	w.last[key] = now
	return true
}

func (s *Service) enqueueFailed(timer string, err error) {
	switch {
	case err == nil:
	case errors.Is(err, engine.ErrOverlapSkip):
		// previous firing of this timer is still queued or running
		s.log.Debug("firing skipped; previous run in flight", logx.String("timer", timer))
	case s.enqWarn.allow(timer, time.Now()):
		s.log.Warn("timer failed to enqueue task", logx.String("timer", timer), logx.Err(err))
	}
}
