package engine

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"remindbot/internal/eventbus"
	rtsup "remindbot/internal/runtime/supervisor"
	logx "remindbot/pkg/logx"
)

// Service is a fixed worker pool over a bounded queue. Timer callbacks use
// Enqueue and never block; backup pushes use Submit and wait for room.
type Service struct {
	log logx.Logger
	bus eventbus.Bus

	mu   sync.Mutex
	cfg  Config
	pool *pool

	seq       atomic.Uint64
	inFlight  atomic.Int32
	completed atomic.Uint64
	failed    atomic.Uint64
	fullDrops atomic.Uint64
	staleDrop atomic.Uint64

	fullWarn  throttle
	staleWarn throttle

	recentMu sync.Mutex
	recent   []Outcome
}

// pool is one Start..Stop generation. Gates live here so a stopped pool
// cannot leave a key stuck for the next one.
type pool struct {
	queue chan queued
	quit  chan struct{}
	done  chan struct{}
	sup   *rtsup.Supervisor

	closing bool

	gateMu sync.Mutex
	gates  map[string]struct{}
}

type queued struct {
	task    Task
	at      time.Time
	timeout time.Duration
	gated   bool
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	return &Service{cfg: cfg.normalized(), log: log, bus: bus}
}

// Start launches the workers. It is a no-op when disabled or already
// running.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.pool != nil {
		return
	}
	p := &pool{
		queue: make(chan queued, s.cfg.QueueSize),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
		gates: map[string]struct{}{},
		sup: rtsup.NewSupervisor(ctx,
			rtsup.WithLogger(s.log),
			// a broken worker must not take the app down
			rtsup.WithCancelOnError(false),
		),
	}
	s.pool = p
	for i := range s.cfg.Workers {
		p.sup.GoRestart("worker."+strconv.Itoa(i), func(c context.Context) error { return s.work(c, p) },
			rtsup.WithRestartBackoff(100*time.Millisecond, 5*time.Second))
	}
	s.log.Info("task engine started", logx.Int("workers", s.cfg.Workers), logx.Int("queue", s.cfg.QueueSize))
}

// Stop refuses new work, lets the workers drain what is queued and waits
// for them until ctx ends. On timeout running tasks are canceled.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	p := s.pool
	if p == nil {
		s.mu.Unlock()
		return
	}
	if !p.closing {
		p.closing = true
		close(p.quit)
		go func() {
			_ = p.sup.Wait(context.Background())
			s.mu.Lock()
			if s.pool == p {
				s.pool = nil
			}
			s.mu.Unlock()
			close(p.done)
		}()
	}
	s.mu.Unlock()

	select {
	case <-p.done:
		s.log.Info("task engine stopped", logx.Uint64("completed", s.completed.Load()), logx.Uint64("failed", s.failed.Load()))
	case <-ctx.Done():
		p.sup.Cancel()
		s.log.Warn("task engine stop timed out; canceling running tasks", logx.Int("queued", len(p.queue)), logx.Err(ctx.Err()))
	}
}

// Enqueue adds t without blocking and fails with ErrQueueFull when there
// is no room.
func (s *Service) Enqueue(t Task) error { return s.enqueue(context.Background(), t, false) }

// Submit adds t, waiting for room until ctx ends or the engine stops.
func (s *Service) Submit(ctx context.Context, t Task) error { return s.enqueue(ctx, t, true) }

func (s *Service) enqueue(ctx context.Context, t Task, wait bool) error {
	if t.Run == nil {
		return errors.New("task Run is nil")
	}
	if t.Name = strings.TrimSpace(t.Name); t.Name == "" {
		return errors.New("task Name is required")
	}
	if strings.TrimSpace(t.ID) == "" {
		t.ID = "t" + strconv.FormatUint(s.seq.Add(1), 10)
	}

	s.mu.Lock()
	cfg, p := s.cfg, s.pool
	closing := p != nil && p.closing
	s.mu.Unlock()
	switch {
	case !cfg.Enabled:
		return ErrDisabled
	case p == nil:
		return ErrStopped
	case closing:
		return ErrStopping
	}

	q := queued{task: t, at: time.Now(), timeout: t.Timeout}
	if q.timeout <= 0 {
		q.timeout = cfg.DefaultTimeout
	}
	if t.Overlap == OverlapSkipIfRunning {
		if !p.acquire(t.gateKey()) {
			s.log.Debug("task skipped; key busy", logx.String("task", t.Name), logx.String("key", t.gateKey()))
			return ErrOverlapSkip
		}
		q.gated = true
	}

	if !wait {
		select {
		case p.queue <- q:
			return nil
		default:
			p.finish(q)
			s.dropped(q, ResultQueueFull, len(p.queue))
			return ErrQueueFull
		}
	}
	select {
	case p.queue <- q:
		return nil
	case <-ctx.Done():
		p.finish(q)
		return ctx.Err()
	case <-p.quit:
		p.finish(q)
		return ErrStopping
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg, p := s.cfg, s.pool
	s.mu.Unlock()

	snap := Snapshot{
		Enabled:        cfg.Enabled,
		Workers:        cfg.Workers,
		QueueCap:       cfg.QueueSize,
		InFlight:       int(s.inFlight.Load()),
		Completed:      s.completed.Load(),
		Failed:         s.failed.Load(),
		DroppedFull:    s.fullDrops.Load(),
		DroppedStale:   s.staleDrop.Load(),
		DefaultTimeout: cfg.DefaultTimeout,
		MaxQueueDelay:  cfg.MaxQueueDelay,
	}
	if p != nil {
		snap.Running = !p.closing
		snap.QueueLen = len(p.queue)
	}
	s.recentMu.Lock()
	snap.Recent = append([]Outcome(nil), s.recent...)
	s.recentMu.Unlock()
	return snap
}

func (p *pool) acquire(key string) bool {
	p.gateMu.Lock()
	defer p.gateMu.Unlock()
	if _, busy := p.gates[key]; busy {
		return false
	}
	p.gates[key] = struct{}{}
	return true
}

// finish opens the gate a queued task holds.
func (p *pool) finish(q queued) {
	if !q.gated {
		return
	}
	p.gateMu.Lock()
	delete(p.gates, q.task.gateKey())
	p.gateMu.Unlock()
}

func (s *Service) remember(o Outcome) {
	s.mu.Lock()
	limit := s.cfg.HistorySize
	s.mu.Unlock()

	s.recentMu.Lock()
	s.recent = append(s.recent, o)
	if over := len(s.recent) - limit; over > 0 {
		s.recent = append(s.recent[:0], s.recent[over:]...)
	}
	s.recentMu.Unlock()
}

func (s *Service) dropped(q queued, why Result, queueLen int) {
	now := time.Now()
	o := Outcome{ID: q.task.ID, Name: q.task.Name, Result: why, At: now, QueueDelay: max(now.Sub(q.at), 0)}
	s.remember(o)
	s.bus.Publish(eventbus.Event{Type: eventbus.TaskDropped, Time: now, Data: o})

	switch why {
	case ResultQueueFull:
		n := s.fullDrops.Add(1)
		if s.fullWarn.allow(now) {
			s.log.Warn("task dropped: queue full", logx.String("task", o.Name), logx.Int("queue_len", queueLen), logx.Uint64("dropped", n))
		}
	case ResultStale:
		n := s.staleDrop.Add(1)
		if s.staleWarn.allow(now) {
			s.log.Warn("task dropped: waited too long", logx.String("task", o.Name), logx.Duration("queue_delay", o.QueueDelay), logx.Uint64("dropped", n))
		}
	}
}

// throttle lets one warning through per window.
type throttle struct{ last atomic.Int64 }

const warnEvery = 5 * time.Second

func (t *throttle) allow(now time.Time) bool {
	prev := t.last.Load()
	if prev != 0 && now.UnixNano()-prev < int64(warnEvery) {
		return false
	}
	return t.last.CompareAndSwap(prev, now.UnixNano())
}
