package syncer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"remindbot/internal/backup"
	"remindbot/internal/eventbus"
	"remindbot/internal/task/engine"
	"remindbot/internal/timeconv"
	logx "remindbot/pkg/logx"
)

// Deps are the collaborators of an Engine. Backup nil leaves the engine
// uninitialized; Queue nil runs Submit* calls inline. Members is optional.
type Deps struct {
	Backup      backup.Store
	Reminders   Reminders
	Subscribers Subscribers
	Scheduler   Rearmer
	Queue       Submitter
	Members     MemberCounter
}

type Engine struct {
	mu  sync.Mutex
	cfg Config

	d    Deps
	conv *timeconv.Converter
	log  logx.Logger
	bus  eventbus.Bus

	initialized atomic.Bool
	deleted     tombstones

	sleep func(ctx context.Context, d time.Duration) error
	rand  func() float64
}

func New(cfg Config, conv *timeconv.Converter, d Deps, log logx.Logger, bus eventbus.Bus) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	if conv == nil {
		conv = timeconv.Default()
	}
	e := &Engine{d: d, conv: conv, log: log.With(logx.String("comp", "sync")), bus: bus, sleep: sleepCtx}
	e.Apply(cfg)
	return e
}

// Apply swaps retry, batch and interval settings. Calls in flight keep the
// policy they started with.
func (e *Engine) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
}

func (e *Engine) config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

func (e *Engine) policy() Policy {
	cfg := e.config()
	return Policy{
		Attempts:    cfg.Attempts,
		Base:        cfg.BaseDelay,
		Multipliers: defaultMultipliers,
		Rand:        e.rand,
		Sleep:       e.sleep,
	}
}

func (e *Engine) AutoSyncEvery() time.Duration { return e.config().AutoSyncEvery }

// Init pings the backup and marks the engine usable when it answers.
func (e *Engine) Init(ctx context.Context) error {
	if e.d.Backup == nil {
		e.initialized.Store(false)
		e.log.Info("no backup configured; sync disabled")
		return ErrNotInitialized
	}
	cctx, cancel := context.WithTimeout(ctx, e.config().CallTimeout)
	defer cancel()
	if err := e.d.Backup.Ping(cctx); err != nil {
		e.initialized.Store(false)
		e.log.Warn("backup unreachable; sync disabled", logx.Err(err))
		return errors.Join(ErrNotInitialized, err)
	}
	e.initialized.Store(true)
	e.log.Info("backup connected")
	return nil
}

func (e *Engine) Initialized() bool { return e.initialized.Load() }

func (e *Engine) Close() error {
	e.initialized.Store(false)
	if e.d.Backup == nil {
		return nil
	}
	return e.d.Backup.Close()
}

// call runs one remote operation through the retry policy with a
// per-attempt timeout.
func (e *Engine) call(ctx context.Context, op, id string, fn func(ctx context.Context) error) error {
	if !e.Initialized() {
		e.log.Debug("sync skipped; not initialized", logx.String("op", op), logx.String("id", id))
		return ErrNotInitialized
	}
	timeout := e.config().CallTimeout
	err := e.policy().Do(ctx, func(ctx context.Context) error {
		cctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return fn(cctx)
	}, func(attempt int, wait time.Duration, err error) {
		e.log.Warn("backup rate limited; backing off",
			logx.String("op", op),
			logx.String("id", id),
			logx.Int("attempt", attempt),
			logx.Duration("wait", wait),
		)
		e.bus.Publish(eventbus.Event{Type: eventbus.SyncRetry, Data: eventbus.SyncData{Op: op, ID: id, Attempt: attempt, Err: err.Error()}})
	})

	var sf *SyncFailedError
	if errors.As(err, &sf) {
		sf.Op, sf.ID = op, id
		e.log.Error("backup call gave up", logx.String("op", op), logx.String("id", id), logx.Int("attempts", sf.Attempts), logx.Err(sf.Err))
	}
	return err
}

func (e *Engine) publish(typ, op, id string, err error) {
	data := eventbus.SyncData{Op: op, ID: id, OK: err == nil}
	if err != nil {
		data.Err = err.Error()
	}
	e.bus.Publish(eventbus.Event{Type: typ, Data: data})
}

// submit runs fn as a queued task so retry sleeps stay off the caller.
func (e *Engine) submit(ctx context.Context, op, id string, fn func(ctx context.Context) error) error {
	if !e.Initialized() {
		return ErrNotInitialized
	}
	if e.d.Queue == nil {
		return fn(ctx)
	}
	cfg := e.config()
	budget := e.policy().MaxTotal() + time.Duration(cfg.Attempts)*cfg.CallTimeout
	name := "sync." + op
	return e.d.Queue.Submit(ctx, engine.Task{
		Name:    name,
		Key:     name + ":" + id,
		Timeout: budget,
		Run:     fn,
	})
}
