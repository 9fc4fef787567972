package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
	"remindbot/internal/task/engine"
	"remindbot/internal/timeconv"
	logx "remindbot/pkg/logx"
)

type Service struct {
	mu sync.Mutex

	log  logx.Logger
	cfg  Config
	conv *timeconv.Converter
	bus  eventbus.Bus

	engine Enqueuer
	fire   FireFunc

	parser  cron.Parser
	c       *cron.Cron
	running bool

	entries map[string]*entry
	verSeq  uint64

	enqWarn warnLimiter
}

func New(cfg Config, conv *timeconv.Converter, eng Enqueuer, fire FireFunc, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	if conv == nil {
		conv = timeconv.Default()
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Service{
		cfg:     cfg,
		log:     log,
		conv:    conv,
		bus:     bus,
		engine:  eng,
		fire:    fire,
		parser:  parser,
		c:       newCron(parser),
		entries: map[string]*entry{},
		enqWarn: warnLimiter{window: 5 * time.Second},
	}
}

// All cron math runs on UTC; local clocks are converted before arming.
func newCron(p cron.Parser) *cron.Cron {
	return cron.New(cron.WithParser(p), cron.WithLocation(time.UTC))
}

// Start starts cron triggering. Once timers run regardless.
func (s *Service) Start(ctx context.Context) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.c.Start()
	s.running = true
	s.log.Info("service started", logx.String("tz", s.conv.ZoneName()), logx.Int("timers", len(s.entries)))
}

// Stop stops cron triggering and every runtime timer. Firings already
// enqueued still complete in the engine.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	running := s.running
	for name, e := range s.entries {
		s.dropLocked(name, e)
	}
	s.c = newCron(s.parser)
	s.running = false
	s.mu.Unlock()

	if running {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

// Arm replaces any timer for r.ID with one derived from r's trigger.
// Arming the same record twice leaves exactly one timer.
func (s *Service) Arm(r reminder.Reminder) (ArmResult, error) {
	s.mu.Lock()
	res, t, err := s.armLocked(r, s.conv.Now())
	s.mu.Unlock()
	s.publishArm(r, res, t, err)
	return res, err
}

// Cancel removes the timer for id. It reports whether one existed.
func (s *Service) Cancel(id string) bool {
	name := timerName(strings.TrimSpace(id))
	s.mu.Lock()
	e, ok := s.entries[name]
	if ok {
		s.dropLocked(name, e)
	}
	s.mu.Unlock()
	if ok {
		s.log.Debug("timer cancelled", logx.String("id", id))
	}
	return ok
}

// RearmAll cancels every reminder timer and arms each record of list.
// Housekeeping jobs are left alone.
func (s *Service) RearmAll(list []reminder.Reminder) RearmReport {
	type armed struct {
		r   reminder.Reminder
		res ArmResult
		t   Timer
		err error
	}
	var rep RearmReport
	out := make([]armed, 0, len(list))

	s.mu.Lock()
	for name, e := range s.entries {
		if strings.HasPrefix(name, ReminderPrefix) {
			s.dropLocked(name, e)
			rep.Cancelled++
		}
	}
	now := s.conv.Now()
	for _, r := range list {
		res, t, err := s.armLocked(r, now)
		out = append(out, armed{r: r, res: res, t: t, err: err})
		switch {
		case err != nil:
			rep.Failed++
		case res == ArmSkippedPast:
			rep.SkippedPast++
		default:
			rep.Armed++
		}
	}
	s.mu.Unlock()

	for _, a := range out {
		s.publishArm(a.r, a.res, a.t, a.err)
	}
	s.log.Info("reminders re-armed",
		logx.Int("cancelled", rep.Cancelled),
		logx.Int("armed", rep.Armed),
		logx.Int("skipped_past", rep.SkippedPast),
		logx.Int("failed", rep.Failed),
	)
	return rep
}

// Armed returns the live timer for a reminder id.
func (s *Service) Armed(id string) (Timer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[timerName(id)]
	if !ok {
		return Timer{}, false
	}
	return s.viewLocked(e, s.conv.Now()), true
}

// ArmedIDs returns the ids of every reminder with a live timer, sorted.
func (s *Service) ArmedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.entries))
	for _, e := range s.entries {
		if e.id != "" {
			ids = append(ids, e.id)
		}
	}
	sortIDs(ids)
	return ids
}

// Count is the number of live reminder timers.
func (s *Service) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if e.id != "" {
			n++
		}
	}
	return n
}

func (s *Service) armLocked(r reminder.Reminder, now time.Time) (ArmResult, Timer, error) {
	id := strings.TrimSpace(r.ID)
	if id == "" {
		return ArmArmed, Timer{}, errors.New("reminder id required")
	}
	name := timerName(id)
	if e, ok := s.entries[name]; ok {
		s.dropLocked(name, e)
	}
	if err := r.Validate(s.conv); err != nil {
		return ArmArmed, Timer{}, err
	}

	if r.Kind == reminder.KindOnce {
		at, err := s.conv.ParseDateTime(r.Trigger.DateTime)
		if err != nil {
			return ArmArmed, Timer{}, err
		}
		if !at.After(now) {
			return ArmSkippedPast, Timer{}, nil
		}
		s.verSeq++
		e := &entry{name: name, id: id, kind: r.Kind, spec: at.UTC().Format(time.RFC3339), at: at, ver: s.verSeq}
		ver := e.ver
		e.timer = time.AfterFunc(at.Sub(now), func() { s.onceFired(name, ver) })
		s.entries[name] = e
		return ArmArmed, s.viewLocked(e, now), nil
	}

	spec, err := s.cronSpec(r)
	if err != nil {
		return ArmArmed, Timer{}, err
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return ArmArmed, Timer{}, fmt.Errorf("cron spec %q: %w", spec, err)
	}
	e := &entry{name: name, id: id, kind: r.Kind, spec: spec, sched: sched}
	e.entryID = s.c.Schedule(sched, cron.FuncJob(func() { s.enqueueFire(name, id) }))
	s.entries[name] = e
	return ArmArmed, s.viewLocked(e, now), nil
}

// cronSpec renders a recurring trigger as a UTC cron spec. The weekday is
// rolled when the local clock lands on another UTC day.
func (s *Service) cronSpec(r reminder.Reminder) (string, error) {
	switch r.Kind {
	case reminder.KindDaily:
		u := s.conv.ClockToUTC(r.Trigger.Hour, r.Trigger.Minute, time.Monday)
		return fmt.Sprintf("%d %d * * *", u.Minute, u.Hour), nil
	case reminder.KindWeekly:
		u := s.conv.ClockToUTC(r.Trigger.Hour, r.Trigger.Minute, r.Trigger.Weekday.Time())
		return fmt.Sprintf("%d %d * * %d", u.Minute, u.Hour, int(u.Weekday)), nil
	}
	return "", fmt.Errorf("no cron form for %s reminders", r.Kind)
}

func (s *Service) onceFired(name string, ver uint64) {
	s.mu.Lock()
	e, ok := s.entries[name]
	if !ok || e.ver != ver {
		// cancelled or re-armed since this timer was set
		s.mu.Unlock()
		return
	}
	delete(s.entries, name)
	id := e.id
	s.mu.Unlock()

	s.enqueueFire(name, id)
}

func (s *Service) enqueueFire(name, id string) {
	if s.engine == nil || s.fire == nil {
		return
	}
	fire := s.fire
	err := s.engine.Enqueue(engine.Task{
		Name:    name,
		Key:     name,
		Timeout: s.cfg.FireTimeout,
		Overlap: engine.OverlapSkipIfRunning,
		Run:     func(ctx context.Context) error { return fire(ctx, id) },
	})
	if err != nil {
		s.enqueueFailed(name, err)
	}
}

// dropLocked stops and forgets one timer. Call with s.mu held.
func (s *Service) dropLocked(name string, e *entry) {
	if e.timer != nil {
		e.timer.Stop()
	}
	if e.entryID != 0 {
		s.c.Remove(e.entryID)
	}
	delete(s.entries, name)
}

func (s *Service) viewLocked(e *entry, now time.Time) Timer {
	t := Timer{Name: e.name, ID: e.id, Kind: e.kind, Spec: e.spec}
	switch {
	case e.sched != nil:
		t.Next = e.sched.Next(now.UTC())
	case !e.at.IsZero():
		t.Next = e.at.UTC()
	}
	return t
}

func (s *Service) publishArm(r reminder.Reminder, res ArmResult, t Timer, err error) {
	switch {
	case err != nil:
		s.log.Warn("reminder not armed", logx.String("id", r.ID), logx.Err(err))
	case res == ArmSkippedPast:
		s.log.Info("once reminder in the past; not armed", logx.String("id", r.ID), logx.String("at", r.Trigger.DateTime))
		s.bus.Publish(eventbus.Event{Type: eventbus.ReminderSkipped, Data: r.ID})
	default:
		s.log.Debug("reminder armed", logx.String("id", r.ID), logx.String("spec", t.Spec), logx.Time("next", t.Next))
		s.bus.Publish(eventbus.Event{Type: eventbus.ReminderArmed, Data: t})
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.conv.Now()
	snap := Snapshot{Running: s.running, Timezone: s.conv.ZoneName()}
	for _, e := range s.entries {
		if e.id != "" {
			snap.Reminders++
			continue
		}
		snap.Jobs = append(snap.Jobs, s.viewLocked(e, now))
	}
	sort.Slice(snap.Jobs, func(i, j int) bool { return snap.Jobs[i].Name < snap.Jobs[j].Name })
	return snap
}

// sortIDs orders numeric ids numerically, then the rest lexically.
func sortIDs(ids []string) {
	num := func(s string) (int, bool) {
		r := reminder.Reminder{ID: s}
		return r.NumericID()
	}
	sort.Slice(ids, func(i, j int) bool {
		a, aok := num(ids[i])
		b, bok := num(ids[j])
		switch {
		case aok && bok:
			return a < b
		case aok != bok:
			return aok
		}
		return ids[i] < ids[j]
	})
}
