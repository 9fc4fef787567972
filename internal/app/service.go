package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"remindbot/internal/backup"
	"remindbot/internal/delivery"
	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
	"remindbot/internal/storage"
	"remindbot/internal/syncer"
	"remindbot/internal/task/engine"
	"remindbot/internal/task/scheduler"
	"remindbot/internal/timeconv"
	logx "remindbot/pkg/logx"
	"remindbot/pkg/tgui"
)

var ErrEmptyText = errors.New("reminder text is empty")

const (
	autoSyncJob     = "sync.auto"
	autoSyncTimeout = 5 * time.Minute
	createdLayout   = "2006-01-02 15:04:05"
)

// Actor is who asked for an operation, and from which chat.
type Actor struct {
	UserID   int64
	Username string
	ChatID   int64
	ChatName string
	ChatType string
}

func (a Actor) label() string {
	if a.Username != "" {
		return "@" + a.Username
	}
	return fmt.Sprint(a.UserID)
}

// Components are the parts a Service is built from. Backup nil runs the
// bot local-only.
type Components struct {
	Conv     *timeconv.Converter
	Store    storage.Store
	Backup   backup.Store
	Notifier delivery.Notifier
	// Members, when set, fills member counts in the chat statistics.
	Members syncer.MemberCounter

	BackupDriver string
	Engine       engine.Config
	Scheduler    scheduler.Config
	Delivery     delivery.Config
	Sync         syncer.Config

	// AutoSyncSchedule overrides Sync.AutoSyncEvery when set.
	AutoSyncSchedule string

	Log logx.Logger
	Bus eventbus.Bus
}

// Service owns the reminder domain: stores, timers, delivery and backup
// sync. Every user-facing operation goes through it.
type Service struct {
	conv  *timeconv.Converter
	store storage.Store

	reminders *reminder.Store
	subs      *reminder.Subscribers
	engine    *engine.Service
	sched     *scheduler.Service
	deliv     *delivery.Engine
	sync      *syncer.Engine

	backupDriver string

	mu               sync.Mutex
	autoSyncSchedule string

	log logx.Logger
	bus eventbus.Bus
}

func NewService(c Components) *Service {
	log := c.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	bus := c.Bus
	if bus == nil {
		bus = eventbus.Nop()
	}
	conv := c.Conv
	if conv == nil {
		conv = timeconv.Default()
	}
	store := c.Store
	if store == nil {
		store = storage.NewMemory()
	}
	driver := c.BackupDriver
	if driver == "" {
		driver = "none"
	}

	s := &Service{
		conv:         conv,
		store:        store,
		reminders:    reminder.NewStore(store, log.With(logx.String("comp", "reminders"))),
		subs:         reminder.NewSubscribers(store, log.With(logx.String("comp", "subscribers"))),
		backupDriver: driver,
		log:          log.With(logx.String("comp", "service")),
		bus:          bus,

		autoSyncSchedule: strings.TrimSpace(c.AutoSyncSchedule),
	}
	s.engine = engine.New(c.Engine, log.With(logx.String("comp", "taskengine")), bus)
	s.sched = scheduler.New(c.Scheduler, conv, s.engine, s.fire, log.With(logx.String("comp", "scheduler")), bus)
	s.sync = syncer.New(c.Sync, conv, syncer.Deps{
		Backup:      c.Backup,
		Reminders:   s.reminders,
		Subscribers: s.subs,
		Scheduler:   s.sched,
		Queue:       s.engine,
		Members:     c.Members,
	}, log, bus)
	s.deliv = delivery.New(c.Delivery, conv, delivery.Deps{
		Store:       s.reminders,
		Subscribers: s.subs,
		Notifier:    c.Notifier,
		Healer:      s.sync,
		Pusher:      s.sync,
		Audit:       store,
	}, log.With(logx.String("comp", "delivery")), bus)
	return s
}

func (s *Service) fire(ctx context.Context, id string) error {
	return s.deliv.Fire(ctx, id).Err()
}

// Subscribe adds the actor's chat to the recipients. It reports whether
// the chat was new.
func (s *Service) Subscribe(ctx context.Context, a Actor) (bool, error) {
	added, err := s.subs.Add(ctx, a.ChatID)
	if err != nil && !reminder.IsPersistError(err) {
		return false, err
	}
	if err != nil {
		s.log.Warn("subscriber kept in memory only", logx.Int64("chat_id", a.ChatID), logx.Err(err))
	}
	if added {
		s.submitted("subscribers", "", s.sync.SubmitSubscriber(ctx, a.ChatID))
		s.audit(ctx, "subscribe", a, "", a.ChatName)
		s.log.Info("chat subscribed", logx.Int64("chat_id", a.ChatID), logx.String("chat", a.ChatName))
	}
	s.chatSeen(ctx, a)
	return added, nil
}

// chatSeen queues a statistics update for the actor's chat.
func (s *Service) chatSeen(ctx context.Context, a Actor) {
	if a.ChatID == 0 {
		return
	}
	err := s.sync.SubmitChatStat(ctx, syncer.ChatSeen{ChatID: a.ChatID, Name: a.ChatName, Type: a.ChatType})
	s.submitted("chat_stats", fmt.Sprint(a.ChatID), err)
}

func (s *Service) CreateOnce(ctx context.Context, a Actor, datetime, text string) (reminder.Reminder, error) {
	r, err := reminder.NewOnce("", datetime, text, s.conv)
	if err != nil {
		return reminder.Reminder{}, err
	}
	if _, ok := reminder.NextFire(r, s.conv, s.conv.Now()); !ok {
		return reminder.Reminder{}, reminder.ErrPastTrigger
	}
	return s.create(ctx, a, r)
}

func (s *Service) CreateDaily(ctx context.Context, a Actor, hhmm, text string) (reminder.Reminder, error) {
	r, err := reminder.NewDaily("", hhmm, text)
	if err != nil {
		return reminder.Reminder{}, err
	}
	return s.create(ctx, a, r)
}

func (s *Service) CreateWeekly(ctx context.Context, a Actor, day, hhmm, text string) (reminder.Reminder, error) {
	r, err := reminder.NewWeekly("", day, hhmm, text)
	if err != nil {
		return reminder.Reminder{}, err
	}
	return s.create(ctx, a, r)
}

func (s *Service) create(ctx context.Context, a Actor, r reminder.Reminder) (reminder.Reminder, error) {
	r.Text = strings.TrimSpace(r.Text)
	if r.Text == "" {
		return reminder.Reminder{}, ErrEmptyText
	}
	r.ID = s.reminders.NextID()
	r.Provenance = reminder.Provenance{
		CreatedAt: s.conv.Now().Format(createdLayout),
		Username:  a.Username,
		ChatID:    a.ChatID,
		ChatName:  a.ChatName,
	}
	if err := s.reminders.Append(ctx, r); err != nil {
		if !reminder.IsPersistError(err) {
			return reminder.Reminder{}, err
		}
		s.log.Warn("reminder kept in memory only", logx.String("id", r.ID), logx.Err(err))
	}
	if res, err := s.sched.Arm(r); err != nil {
		s.log.Error("reminder not armed", logx.String("id", r.ID), logx.Err(err))
	} else {
		s.log.Info("reminder created", logx.String("id", r.ID), logx.String("trigger", r.Describe()), logx.String("arm", res.String()))
	}
	s.submitted("create", r.ID, s.sync.SubmitCreate(ctx, r))
	s.chatSeen(ctx, a)
	s.audit(ctx, "create", a, r.ID, r.Describe())
	return r, nil
}

// List returns reminders in store order.
func (s *Service) List() []reminder.Reminder { return s.reminders.List() }

// Delete removes one reminder, cancels its timer and marks the backup row
// Deleted.
func (s *Service) Delete(ctx context.Context, a Actor, id string) (reminder.Reminder, error) {
	id = strings.TrimPrefix(strings.TrimSpace(id), "#")
	removed, ok, err := s.reminders.Remove(ctx, id)
	if !ok {
		return reminder.Reminder{}, fmt.Errorf("%w: %s", reminder.ErrNotFound, id)
	}
	if err != nil {
		s.log.Warn("removal kept in memory only", logx.String("id", id), logx.Err(err))
	}
	s.sched.Cancel(id)
	s.bus.Publish(eventbus.Event{Type: eventbus.ReminderRemoved, Data: id})
	s.submitted("delete", id, s.sync.SubmitDelete(ctx, removed))
	s.sched.RearmAll(s.reminders.List())
	s.chatSeen(ctx, Actor{ChatID: removed.ChatID, ChatName: removed.ChatName})
	s.audit(ctx, "delete", a, id, removed.Describe())
	return removed, nil
}

// ClearReport is the outcome of ClearAll. Backup is only filled in the
// report handed to the ClearAll callback.
type ClearReport struct {
	Removed   int
	Queued    bool
	Backup    syncer.BatchReport
	BackupErr error
}

// ClearAll empties the local table and returns at once. The paced
// mark-deleted batch runs on the job queue; report, when set, receives
// its outcome from the worker.
func (s *Service) ClearAll(ctx context.Context, a Actor, report func(ClearReport)) (ClearReport, error) {
	list := s.reminders.List()
	if err := s.reminders.ReplaceAll(ctx, nil); err != nil && !reminder.IsPersistError(err) {
		return ClearReport{}, err
	}
	s.sched.RearmAll(nil)
	rep := ClearReport{Removed: len(list)}
	s.audit(ctx, "clear", a, "", fmt.Sprintf("removed=%d", len(list)))
	s.log.Info("reminders cleared", logx.Int("removed", len(list)), logx.String("by", a.label()))
	if len(list) == 0 {
		return rep, nil
	}
	seen := map[int64]bool{}
	for _, r := range list {
		if !seen[r.ChatID] {
			seen[r.ChatID] = true
			s.chatSeen(ctx, Actor{ChatID: r.ChatID, ChatName: r.ChatName})
		}
	}

	err := s.sync.SubmitClearAll(ctx, list, func(b syncer.BatchReport, err error) {
		final := ClearReport{Removed: len(list), Queued: true, Backup: b, BackupErr: err}
		s.audit(context.WithoutCancel(ctx), "clear_backup", a, "", fmt.Sprintf("deleted=%d not_found=%d failed=%d", b.Deleted, b.NotFound, b.Failed))
		if report != nil {
			report(final)
		}
	})
	if err != nil {
		rep.BackupErr = err
		s.submitted("clear_all", "", err)
		return rep, nil
	}
	rep.Queued = true
	return rep, nil
}

// Restore queues a replace of local state from the backup and returns.
// report, when set, receives the outcome from the worker.
func (s *Service) Restore(ctx context.Context, a Actor, report func(syncer.RestoreReport, error)) error {
	err := s.sync.SubmitRestore(ctx, func(rep syncer.RestoreReport, err error) {
		status := "ok"
		if err != nil {
			status = "failed"
		}
		s.audit(context.WithoutCancel(ctx), "restore", a, "", status)
		if report != nil {
			report(rep, err)
		}
	})
	if err != nil {
		s.audit(ctx, "restore", a, "", "not started")
	}
	return err
}

// Next returns the reminder that fires soonest after now.
func (s *Service) Next(now time.Time) (reminder.Upcoming, bool) {
	return reminder.Soonest(s.reminders.List(), s.conv, now)
}

type Status struct {
	Zone        string
	Now         time.Time
	Reminders   int
	Subscribers int
	Timers      int
	Jobs        []string

	Backup      string
	BackupReady bool

	QueueLen  int
	InFlight  int
	Completed uint64
	Failed    uint64

	LastFailure    engine.Outcome
	HasLastFailure bool

	Next    reminder.Upcoming
	HasNext bool
}

func (s *Service) Status() Status {
	now := s.conv.Now()
	snap := s.sched.Snapshot()
	es := s.engine.Snapshot()
	st := Status{
		Zone:        s.conv.ZoneName(),
		Now:         now,
		Reminders:   s.reminders.Len(),
		Subscribers: s.subs.Len(),
		Timers:      snap.Reminders,
		Backup:      s.backupDriver,
		BackupReady: s.sync.Initialized(),
		QueueLen:    es.QueueLen,
		InFlight:    es.InFlight,
		Completed:   es.Completed,
		Failed:      es.Failed,
	}
	st.LastFailure, st.HasLastFailure = es.LastFailure()
	for _, j := range snap.Jobs {
		st.Jobs = append(st.Jobs, j.Name)
	}
	st.Next, st.HasNext = s.Next(now)
	return st
}

// UserMessage turns an operation error into a short chat reply.
func UserMessage(err error) string {
	var pe *timeconv.ParseError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &pe):
		return fmt.Sprintf("could not read %q. expected %s", pe.Input, pe.Layout)
	case errors.Is(err, reminder.ErrPastTrigger):
		return "that time has already passed"
	case errors.Is(err, ErrEmptyText):
		return "reminder text is empty"
	case errors.Is(err, reminder.ErrNotFound):
		return "no reminder with that id. see /list"
	case errors.Is(err, syncer.ErrNotInitialized):
		return "backup is not configured or unreachable. check backup.driver and backup.url (token via BACKUP_TOKEN)"
	case errors.Is(err, backup.ErrRateLimited), errors.Is(err, syncer.ErrSyncFailed):
		return "backup is rate limiting requests. try again in a few minutes"
	case errors.Is(err, engine.ErrOverlapSkip):
		return "already running. wait for the result"
	case errors.Is(err, context.DeadlineExceeded):
		return "timed out. try again"
	case reminder.IsPersistError(err):
		return "saved, but writing to disk failed. check storage.path"
	}
	return "failed: " + tgui.TruncRunes(err.Error(), 200)
}

func (s *Service) submitted(op, id string, err error) {
	if err == nil || errors.Is(err, syncer.ErrNotInitialized) {
		return
	}
	s.log.Warn("backup write not submitted", logx.String("op", op), logx.String("id", id), logx.Err(err))
}

func (s *Service) audit(ctx context.Context, action string, a Actor, id, detail string) {
	err := s.store.AppendAudit(ctx, storage.AuditEntry{
		At:         s.conv.Now(),
		Kind:       storage.AuditOp,
		Action:     action,
		ReminderID: id,
		ChatID:     a.ChatID,
		Actor:      a.label(),
		Status:     "ok",
		Detail:     detail,
	})
	if err != nil && !errors.Is(err, storage.ErrDisabled) {
		s.log.Debug("audit append failed", logx.Err(err))
	}
}
