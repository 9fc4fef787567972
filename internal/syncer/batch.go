package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"remindbot/internal/backup"
	"remindbot/internal/reminder"
	"remindbot/internal/task/engine"
	logx "remindbot/pkg/logx"
)

// ClearAll marks every reminder in list Deleted, paced in batches so a
// large clear stays under the backup quota. Rows the backup lacks count
// as NotFound.
func (e *Engine) ClearAll(ctx context.Context, list []reminder.Reminder) (BatchReport, error) {
	rep := BatchReport{Total: len(list)}
	if !e.Initialized() {
		return rep, ErrNotInitialized
	}
	if len(list) > 0 {
		rep.Batches = 1
	}
	for _, r := range list {
		e.deleted.add(r.ID)
	}
	cfg := e.config()
	start := time.Now()

	for i, r := range list {
		if i > 0 && i%cfg.BatchSize == 0 {
			e.log.Info("clear batch done; pausing", logx.Int("batch", rep.Batches), logx.Duration("pause", cfg.BatchPause))
			if err := e.sleep(ctx, cfg.BatchPause); err != nil {
				rep.Failed += len(list) - i
				break
			}
			rep.Batches++
		}

		err := e.call(ctx, "delete", r.ID, func(ctx context.Context) error {
			return e.d.Backup.MarkDeleted(ctx, r.ID)
		})
		switch {
		case err == nil:
			rep.Deleted++
			e.deleted.drop(r.ID)
		case errors.Is(err, backup.ErrNotFound):
			rep.NotFound++
			e.deleted.drop(r.ID)
		default:
			rep.Failed++
			e.log.Warn("clear: mark deleted failed", logx.String("id", r.ID), logx.Err(err))
		}

		if i == len(list)-1 {
			break
		}
		pause := cfg.RecordPause + time.Duration(i%cfg.BatchSize)*cfg.RecordStep
		if err := e.sleep(ctx, pause); err != nil {
			rep.Failed += len(list) - i - 1
			break
		}
	}

	e.log.Info("clear finished",
		logx.Int("total", rep.Total),
		logx.Int("deleted", rep.Deleted),
		logx.Int("not_found", rep.NotFound),
		logx.Int("failed", rep.Failed),
		logx.Duration("dur", time.Since(start)),
	)
	return rep, nil
}

// SubmitClearAll runs ClearAll as a queued task so its pauses never hold
// the caller. done, when set, receives the outcome from the worker.
func (e *Engine) SubmitClearAll(ctx context.Context, list []reminder.Reminder, done func(BatchReport, error)) error {
	if !e.Initialized() {
		return ErrNotInitialized
	}
	run := func(ctx context.Context) error {
		rep, err := e.ClearAll(ctx, list)
		if done != nil {
			done(rep, err)
		}
		if err == nil && rep.Failed > 0 {
			err = fmt.Errorf("clear: %d of %d rows not marked deleted", rep.Failed, rep.Total)
		}
		return err
	}
	if e.d.Queue == nil {
		return run(ctx)
	}
	return e.d.Queue.Submit(ctx, engine.Task{
		Name:    "sync.clear_all",
		Timeout: e.clearBudget(len(list)),
		Run:     run,
	})
}

// clearBudget bounds a ClearAll of n rows: every pause plus one full
// retry run per row.
func (e *Engine) clearBudget(n int) time.Duration {
	cfg := e.config()
	pacing := time.Duration(n/cfg.BatchSize)*cfg.BatchPause +
		time.Duration(n)*(cfg.RecordPause+time.Duration(cfg.BatchSize-1)*cfg.RecordStep)
	return pacing + time.Duration(n)*(e.policy().MaxTotal()+time.Duration(cfg.Attempts)*cfg.CallTimeout)
}
