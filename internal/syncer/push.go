package syncer

import (
	"context"
	"errors"

	"remindbot/internal/backup"
	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

func (e *Engine) PushCreate(ctx context.Context, r reminder.Reminder) error {
	return e.upsert(ctx, "create", r)
}

func (e *Engine) PushUpdate(ctx context.Context, r reminder.Reminder) error {
	return e.upsert(ctx, "update", r)
}

// PushDelete marks the backup row Deleted. A row the backup never had is
// not an error. Until the call succeeds the id stays tombstoned so
// auto-sync does not restore it.
func (e *Engine) PushDelete(ctx context.Context, r reminder.Reminder) error {
	e.deleted.add(r.ID)
	err := e.markDeleted(ctx, r.ID)
	e.publish(eventbus.SyncPush, "delete", r.ID, err)
	return err
}

func (e *Engine) markDeleted(ctx context.Context, id string) error {
	err := e.call(ctx, "delete", id, func(ctx context.Context) error {
		return e.d.Backup.MarkDeleted(ctx, id)
	})
	if errors.Is(err, backup.ErrNotFound) {
		e.log.Debug("backup row already absent", logx.String("id", id))
		err = nil
	}
	if err == nil {
		e.deleted.drop(id)
	}
	return err
}

func (e *Engine) upsert(ctx context.Context, op string, r reminder.Reminder) error {
	rec := backup.FromReminder(r)
	err := e.call(ctx, op, r.ID, func(ctx context.Context) error {
		return e.d.Backup.Upsert(ctx, rec)
	})
	if err == nil {
		e.log.Debug("reminder pushed", logx.String("op", op), logx.String("id", r.ID))
	}
	e.publish(eventbus.SyncPush, op, r.ID, err)
	return err
}

func (e *Engine) SubmitCreate(ctx context.Context, r reminder.Reminder) error {
	return e.submit(ctx, "create", r.ID, func(ctx context.Context) error { return e.PushCreate(ctx, r) })
}

func (e *Engine) SubmitUpdate(ctx context.Context, r reminder.Reminder) error {
	return e.submit(ctx, "update", r.ID, func(ctx context.Context) error { return e.PushUpdate(ctx, r) })
}

func (e *Engine) SubmitDelete(ctx context.Context, r reminder.Reminder) error {
	e.deleted.add(r.ID)
	return e.submit(ctx, "delete", r.ID, func(ctx context.Context) error { return e.PushDelete(ctx, r) })
}

// PushSubscriber writes the whole local subscriber set after chatID joined.
func (e *Engine) PushSubscriber(ctx context.Context, chatID int64) error {
	ids := e.d.Subscribers.Snapshot()
	err := e.call(ctx, "subscribers", "", func(ctx context.Context) error {
		return e.d.Backup.WriteSubscribers(ctx, ids)
	})
	if err == nil {
		e.log.Info("subscribers pushed", logx.Int64("chat_id", chatID), logx.Int("count", len(ids)))
	}
	e.publish(eventbus.SyncSubs, "push", "", err)
	return err
}

func (e *Engine) SubmitSubscriber(ctx context.Context, chatID int64) error {
	return e.submit(ctx, "subscribers", "", func(ctx context.Context) error { return e.PushSubscriber(ctx, chatID) })
}

// BackupAll upserts every reminder in list. It keeps going past failures
// and returns how many rows were written.
func (e *Engine) BackupAll(ctx context.Context, list []reminder.Reminder) (int, error) {
	if !e.Initialized() {
		return 0, ErrNotInitialized
	}
	var (
		written int
		errs    []error
	)
	for _, r := range list {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := e.PushCreate(ctx, r); err != nil {
			errs = append(errs, err)
			continue
		}
		written++
	}
	e.log.Info("local reminders backed up", logx.Int("written", written), logx.Int("total", len(list)))
	return written, errors.Join(errs...)
}
