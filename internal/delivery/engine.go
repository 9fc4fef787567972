package delivery

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
	"remindbot/internal/storage"
	"remindbot/internal/timeconv"
	logx "remindbot/pkg/logx"
	"remindbot/pkg/tgui"
)

// Deps are the collaborators of an Engine. Healer, Pusher and Audit may be nil.
type Deps struct {
	Store       Reminders
	Subscribers Recipients
	Notifier    Notifier
	Healer      SubscriberHealer
	Pusher      Pusher
	Audit       Auditor
}

type Engine struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	conv *timeconv.Converter
	d    Deps
	log  logx.Logger
	bus  eventbus.Bus
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
	e := &Engine{conv: conv, d: d, log: log, bus: bus}
	e.Apply(cfg)
	return e
}

// Apply swaps pacing settings; in-flight firings keep the old limiter.
func (e *Engine) Apply(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 20
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	e.mu.Lock()
	e.cfg = cfg
	e.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst)
	e.mu.Unlock()
}

// Message renders the broadcast body for a reminder firing at the given instant.
func Message(conv *timeconv.Converter, at time.Time, text string) string {
	local := conv.ToLocal(at)
	head := tgui.JoinH(" ",
		tgui.Raw("🔔"),
		tgui.B("REMINDER"),
		tgui.I("("+local.Format(timeconv.ClockLayout)+" "+conv.ZoneName()+")"),
	)
	return head.String() + "\n\n" + text
}

// Fire delivers reminder id to every subscriber. The reminder is re-read
// from the store, so a firing of a removed reminder does nothing.
func (e *Engine) Fire(ctx context.Context, id string) Report {
	now := e.conv.Now()
	rep := Report{ReminderID: id, FiredAt: now}

	r, ok := e.d.Store.Get(id)
	if !ok {
		rep.Result = ResultSkipped
		e.log.Debug("firing for missing reminder ignored", logx.String("id", id))
		e.publishFired(rep)
		return rep
	}
	rep.Kind = r.Kind

	recipients := e.recipients(ctx)
	if len(recipients) == 0 {
		rep.Result = ResultAborted
		e.log.Warn("no subscribers; firing aborted", logx.String("id", id))
		e.publishFired(rep)
		return rep
	}

	e.mu.Lock()
	lim := e.limiter
	sendTimeout := e.cfg.SendTimeout
	e.mu.Unlock()

	markup := Message(e.conv, now, r.Text)
	plain := tgui.Plain(markup)
	for _, chatID := range recipients {
		rr := e.sendOne(ctx, lim, sendTimeout, chatID, markup, plain)
		rr.ChatID = chatID
		rep.Recipients = append(rep.Recipients, rr)
		if rr.Outcome == OutcomeFailed {
			rep.Failed++
		} else {
			rep.Sent++
		}
		e.auditSend(ctx, r.ID, rr)
		e.bus.Publish(eventbus.Event{Type: eventbus.ReminderDelivered, Data: eventbus.DeliveredData{ReminderID: r.ID, ChatID: chatID, Outcome: string(rr.Outcome)}})
	}
	rep.Result = ResultCompleted
	if rep.Failed > 0 {
		rep.Result = ResultPartial
	}

	e.afterSend(ctx, r, now)

	fields := []logx.Field{
		logx.String("id", r.ID),
		logx.String("kind", string(r.Kind)),
		logx.Int("sent", rep.Sent),
		logx.Int("failed", rep.Failed),
		logx.Duration("dur", time.Since(now)),
	}
	if rep.Failed > 0 {
		e.log.Warn("reminder delivered with failures", fields...)
	} else {
		e.log.Info("reminder delivered", fields...)
	}
	e.publishFired(rep)
	return rep
}

// recipients returns the subscriber snapshot, healing an empty set once.
func (e *Engine) recipients(ctx context.Context) []int64 {
	ids := e.d.Subscribers.Snapshot()
	if len(ids) > 0 || e.d.Healer == nil {
		return ids
	}
	if err := e.d.Healer.RestoreSubscribers(ctx); err != nil {
		e.log.Warn("subscriber self-heal failed", logx.Err(err))
		return nil
	}
	return e.d.Subscribers.Snapshot()
}

func (e *Engine) sendOne(ctx context.Context, lim *rate.Limiter, timeout time.Duration, chatID int64, markup, plain string) RecipientResult {
	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return RecipientResult{Outcome: OutcomeFailed, Err: err}
		}
	}

	sctx, cancel := context.WithTimeout(ctx, timeout)
	err := e.d.Notifier.Deliver(sctx, chatID, markup)
	cancel()
	if err == nil {
		return RecipientResult{Outcome: OutcomeSuccess}
	}
	e.log.Debug("rich send failed; trying plain", logx.Int64("chat_id", chatID), logx.Err(err))

	sctx, cancel = context.WithTimeout(ctx, timeout)
	perr := e.d.Notifier.SendPlain(sctx, chatID, plain)
	cancel()
	if perr == nil {
		return RecipientResult{Outcome: OutcomeSuccessFallback}
	}
	e.log.Warn("send failed", logx.Int64("chat_id", chatID), logx.Err(perr))
	return RecipientResult{Outcome: OutcomeFailed, Err: errors.Join(err, perr)}
}

// afterSend consumes a once reminder or stamps a recurring one. Failures are
// logged only; nothing is re-queued.
func (e *Engine) afterSend(ctx context.Context, r reminder.Reminder, at time.Time) {
	if r.Kind == reminder.KindOnce {
		removed, ok, err := e.d.Store.Remove(ctx, r.ID)
		if err != nil {
			e.log.Error("once reminder removal not persisted", logx.String("id", r.ID), logx.Err(err))
		}
		if !ok {
			return
		}
		e.bus.Publish(eventbus.Event{Type: eventbus.ReminderRemoved, Data: r.ID})
		if e.d.Pusher != nil {
			if err := e.d.Pusher.SubmitDelete(ctx, removed); err != nil {
				e.log.Warn("backup delete not submitted", logx.String("id", r.ID), logx.Err(err))
			}
		}
		return
	}

	stamped, ok, err := e.d.Store.MarkSent(ctx, r.ID, e.conv.ToLocal(at).Format(lastSentLayout))
	if !ok {
		e.log.Debug("reminder gone before last_sent was stamped", logx.String("id", r.ID))
		return
	}
	if err != nil {
		e.log.Warn("last_sent not stored", logx.String("id", r.ID), logx.Err(err))
	}
	if e.d.Pusher != nil {
		if err := e.d.Pusher.SubmitUpdate(ctx, stamped); err != nil {
			e.log.Warn("backup update not submitted", logx.String("id", r.ID), logx.Err(err))
		}
	}
}

const lastSentLayout = "2006-01-02 15:04:05"

func (e *Engine) auditSend(ctx context.Context, id string, rr RecipientResult) {
	if e.d.Audit == nil {
		return
	}
	entry := storage.AuditEntry{
		Kind:       storage.AuditSend,
		Action:     "deliver",
		ReminderID: id,
		ChatID:     rr.ChatID,
		Status:     string(rr.Outcome),
	}
	if rr.Err != nil {
		entry.Detail = tgui.TruncRunes(rr.Err.Error(), 300)
	}
	if err := e.d.Audit.AppendAudit(ctx, entry); err != nil {
		e.log.Debug("audit append failed", logx.Err(err))
	}
}

func (e *Engine) publishFired(rep Report) {
	e.bus.Publish(eventbus.Event{Type: eventbus.ReminderFired, Data: eventbus.FiredData{
		ReminderID: rep.ReminderID,
		Kind:       string(rep.Kind),
		Result:     string(rep.Result),
		Sent:       rep.Sent,
		Failed:     rep.Failed,
	}})
}
