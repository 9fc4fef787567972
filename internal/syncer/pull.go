package syncer

import (
	"context"
	"errors"
	"strings"
	"time"

	"remindbot/internal/backup"
	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
	"remindbot/internal/task/engine"
	"remindbot/internal/task/scheduler"
	logx "remindbot/pkg/logx"
)

// PullAll fetches the remote table and filters it. Bad rows are counted,
// never fatal.
func (e *Engine) PullAll(ctx context.Context) (PullResult, error) {
	var rows []backup.Record
	err := e.call(ctx, "fetch_all", "", func(ctx context.Context) error {
		var ferr error
		rows, ferr = e.d.Backup.FetchAll(ctx)
		return ferr
	})
	if err != nil {
		return PullResult{}, err
	}

	res := PullResult{Fetched: len(rows)}
	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		if !strings.EqualFold(strings.TrimSpace(row.Status), backup.StatusActive) {
			res.Deleted++
			continue
		}
		id := strings.TrimSpace(row.ID)
		if _, dup := seen[id]; dup && id != "" {
			res.Duplicates++
			continue
		}
		r, err := backup.ToReminder(row, e.conv)
		if err != nil {
			res.Invalid++
			e.log.Debug("backup row skipped", logx.String("id", id), logx.Err(err))
			continue
		}
		seen[id] = struct{}{}
		res.Reminders = append(res.Reminders, r)
	}
	e.log.Info("backup pulled",
		logx.Int("fetched", res.Fetched),
		logx.Int("active", len(res.Reminders)),
		logx.Int("deleted", res.Deleted),
		logx.Int("duplicates", res.Duplicates),
		logx.Int("invalid", res.Invalid),
	)
	return res, nil
}

// Restore replaces the local table with the remote Active rows, reconciles
// subscribers and re-arms every timer. An empty remote keeps local
// reminders as they are.
func (e *Engine) Restore(ctx context.Context) (RestoreReport, error) {
	var rep RestoreReport
	pull, err := e.PullAll(ctx)
	if err != nil {
		e.publish(eventbus.SyncRestore, "restore", "", err)
		return rep, err
	}
	rep.Pull = pull

	list := e.d.Reminders.List()
	if len(pull.Reminders) > 0 {
		if err := e.d.Reminders.ReplaceAll(ctx, pull.Reminders); err != nil && !reminder.IsPersistError(err) {
			e.publish(eventbus.SyncRestore, "restore", "", err)
			return rep, err
		}
		rep.Replaced = true
		list = e.d.Reminders.List()
	} else {
		e.log.Warn("backup has no active reminders; local table kept", logx.Int("local", len(list)))
	}

	rep.Subscribers, rep.SubscribersErr = e.ReconcileSubscribers(ctx)
	if e.d.Scheduler != nil {
		rep.Rearm = e.d.Scheduler.RearmAll(list)
	}
	e.log.Info("restore finished",
		logx.Bool("replaced", rep.Replaced),
		logx.Int("reminders", len(list)),
		logx.Int("armed", rep.Rearm.Armed),
		logx.Int("skipped_past", rep.Rearm.SkippedPast),
	)
	e.publish(eventbus.SyncRestore, "restore", "", nil)
	return rep, nil
}

// SubmitRestore runs Restore as a queued task. A restore already queued or
// running makes the call fail with engine.ErrOverlapSkip.
func (e *Engine) SubmitRestore(ctx context.Context, done func(RestoreReport, error)) error {
	if !e.Initialized() {
		return ErrNotInitialized
	}
	run := func(ctx context.Context) error {
		rep, err := e.Restore(ctx)
		if done != nil {
			done(rep, err)
		}
		return err
	}
	if e.d.Queue == nil {
		return run(ctx)
	}
	cfg := e.config()
	return e.d.Queue.Submit(ctx, engine.Task{
		Name:    "sync.restore",
		Key:     "sync.restore",
		Overlap: engine.OverlapSkipIfRunning,
		// fetch_all and fetch_subscribers, each with a full retry run
		Timeout: 2 * (e.policy().MaxTotal() + time.Duration(cfg.Attempts)*cfg.CallTimeout),
		Run:     run,
	})
}

// ReconcileSubscribers makes the local set equal to the remote one. An
// empty remote keeps local; equal sets write nothing.
func (e *Engine) ReconcileSubscribers(ctx context.Context) (Diff, error) {
	var remote []int64
	err := e.call(ctx, "fetch_subscribers", "", func(ctx context.Context) error {
		var ferr error
		remote, ferr = e.d.Backup.FetchSubscribers(ctx)
		return ferr
	})
	if err != nil {
		return Diff{}, err
	}

	d := Diff{Remote: len(remote)}
	if len(remote) == 0 {
		e.log.Debug("backup has no subscribers; local set kept")
		return d, nil
	}
	d.Added, d.Removed = reminder.SetDiff(e.d.Subscribers.Snapshot(), remote)
	if d.InSync() {
		return d, nil
	}
	if err := e.d.Subscribers.ReplaceAll(ctx, remote); err != nil && !reminder.IsPersistError(err) {
		return d, err
	}
	d.Written = true
	e.log.Info("subscribers reconciled", logx.Int("added", len(d.Added)), logx.Int("removed", len(d.Removed)))
	e.publish(eventbus.SyncSubs, "reconcile", "", nil)
	return d, nil
}

// RestoreSubscribers is the self-heal hook used when a firing finds no
// recipients.
func (e *Engine) RestoreSubscribers(ctx context.Context) error {
	_, err := e.ReconcileSubscribers(ctx)
	return err
}

// AutoSync is the periodic job. It reconciles subscribers, then merges
// the reminder tables without ever dropping a local record:
//
//   - remote-only ids are added locally and armed, unless they were
//     deleted here and the remote delete has not landed; that delete is
//     retried instead
//   - local-only ids are pushed again, covering creates whose push failed
//     or has not run yet
func (e *Engine) AutoSync(ctx context.Context) error {
	if !e.Initialized() {
		return nil
	}
	if _, err := e.ReconcileSubscribers(ctx); err != nil {
		e.log.Warn("auto-sync subscribers failed", logx.Err(err))
	}

	pull, err := e.PullAll(ctx)
	if err != nil {
		if len(e.d.Reminders.List()) == 0 {
			e.log.Error("auto-sync failed with no local reminders; nothing will fire until a restore", logx.Err(err))
		}
		return err
	}

	local := e.d.Reminders.List()
	localIDs := idSet(local)
	remoteIDs := idSet(pull.Reminders)

	var incoming, redelete, repush []reminder.Reminder
	for _, r := range pull.Reminders {
		switch {
		case has(localIDs, r.ID):
		case e.deleted.has(r.ID):
			redelete = append(redelete, r)
		default:
			incoming = append(incoming, r)
		}
	}
	for _, r := range local {
		if !has(remoteIDs, r.ID) {
			repush = append(repush, r)
		}
	}
	if len(incoming)+len(redelete)+len(repush) == 0 {
		e.log.Debug("auto-sync: reminders in sync", logx.Int("count", len(local)))
		return nil
	}

	var errs []error
	for _, r := range redelete {
		if err := e.markDeleted(ctx, r.ID); err != nil {
			errs = append(errs, err)
		}
	}
	for _, r := range repush {
		if err := e.upsert(ctx, "create", r); err != nil {
			errs = append(errs, err)
		}
	}

	added, err := e.d.Reminders.AddMissing(ctx, incoming)
	if err != nil && !reminder.IsPersistError(err) {
		return errors.Join(append(errs, err)...)
	}
	var rearm scheduler.RearmReport
	if len(added) > 0 && e.d.Scheduler != nil {
		rearm = e.d.Scheduler.RearmAll(e.d.Reminders.List())
	}
	e.log.Info("auto-sync merged reminders",
		logx.Int("added", len(added)),
		logx.Int("repushed", len(repush)),
		logx.Int("redeleted", len(redelete)),
		logx.Int("armed", rearm.Armed),
		logx.Int("failed", len(errs)),
	)
	if len(added) > 0 {
		e.publish(eventbus.SyncRestore, "auto_sync", "", nil)
	}
	return errors.Join(errs...)
}

func idSet(list []reminder.Reminder) map[string]struct{} {
	out := make(map[string]struct{}, len(list))
	for _, r := range list {
		out[r.ID] = struct{}{}
	}
	return out
}

func has(set map[string]struct{}, id string) bool {
	_, ok := set[id]
	return ok
}
