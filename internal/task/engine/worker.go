package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"remindbot/internal/eventbus"
	logx "remindbot/pkg/logx"
)

// work serves p until it is told to quit, then drains the queue. A nil
// return ends the supervisor's restart loop.
func (s *Service) work(ctx context.Context, p *pool) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.quit:
			for {
				select {
				case q := <-p.queue:
					s.run(ctx, p, q)
				default:
					return nil
				}
			}
		case q := <-p.queue:
			s.run(ctx, p, q)
		}
	}
}

func (s *Service) run(ctx context.Context, p *pool, q queued) {
	start := time.Now()
	delay := max(start.Sub(q.at), 0)

	s.mu.Lock()
	maxDelay := s.cfg.MaxQueueDelay
	s.mu.Unlock()
	if maxDelay > 0 && delay > maxDelay {
		p.finish(q)
		s.dropped(q, ResultStale, len(p.queue))
		return
	}

	s.inFlight.Add(1)
	panicked, err := invoke(ctx, q)
	s.inFlight.Add(-1)
	// the gate opens before the outcome is published so a listener may re-enqueue
	p.finish(q)

	o := Outcome{ID: q.task.ID, Name: q.task.Name, Result: ResultDone, At: start, QueueDelay: delay, Duration: time.Since(start)}
	typ := eventbus.TaskDone
	fields := []logx.Field{logx.String("task", o.Name), logx.Duration("queue_delay", delay), logx.Duration("dur", o.Duration)}
	switch {
	case panicked:
		s.failed.Add(1)
		o.Result, o.Err, typ = ResultPanic, err.Error(), eventbus.TaskPanic
		s.log.Error("task panicked", append(fields, logx.Err(err))...)
	case err != nil:
		s.failed.Add(1)
		o.Result, o.Err, typ = ResultFailed, err.Error(), eventbus.TaskFailed
		s.log.Warn("task failed", append(fields, logx.Err(err))...)
	default:
		s.completed.Add(1)
		if o.Duration >= 750*time.Millisecond {
			s.log.Info("task completed", fields...)
		} else {
			s.log.Debug("task completed", fields...)
		}
	}
	s.remember(o)
	s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: o})
}

// invoke runs the task under its timeout and turns a panic into an error.
func invoke(ctx context.Context, q queued) (panicked bool, err error) {
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			panicked, err = true, fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return false, q.task.Run(ctx)
}
