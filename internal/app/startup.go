package app

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/sync/errgroup"

	"remindbot/internal/delivery"
	"remindbot/internal/syncer"
	logx "remindbot/pkg/logx"
)

// Start loads local state, brings it in line with the backup, arms every
// timer and registers the auto-sync job. Backup trouble never fails Start.
func (s *Service) Start(ctx context.Context) error {
	s.engine.Start(ctx)
	s.sched.Start(ctx)

	reminders := s.reminders.Load(ctx)
	subs := s.subs.Load(ctx)
	s.log.Info("local state loaded", logx.Int("reminders", len(reminders)), logx.Int("subscribers", len(subs)))

	if err := s.sync.Init(ctx); err != nil {
		if errors.Is(err, syncer.ErrNotInitialized) && s.backupDriver == "none" {
			s.log.Info("backup disabled; running local-only")
		} else {
			s.log.Warn("backup unavailable; running local-only", logx.Err(err))
		}
	}

	// independent steps: one failing must not cancel the other
	var g errgroup.Group
	g.Go(func() error { return s.ensureSubscribers(ctx) })
	g.Go(func() error { return s.ensureReminders(ctx) })
	if err := g.Wait(); err != nil {
		s.log.Warn("startup sync incomplete", logx.Err(err))
	}

	rep := s.sched.RearmAll(s.reminders.List())
	s.log.Info("timers armed",
		logx.Int("armed", rep.Armed),
		logx.Int("skipped_past", rep.SkippedPast),
		logx.Int("failed", rep.Failed),
	)
	if s.sched.Count() == 0 && s.reminders.Len() > rep.SkippedPast {
		s.log.Error("no timers live while reminders exist; retrying restore",
			logx.Int("reminders", s.reminders.Len()))
		if s.sync.Initialized() {
			if _, err := s.sync.Restore(ctx); err != nil {
				s.log.Error("emergency restore failed", logx.Err(err))
			}
		}
	}

	return s.scheduleAutoSync()
}

func (s *Service) ensureSubscribers(ctx context.Context) error {
	if s.subs.Len() > 0 || !s.sync.Initialized() {
		return nil
	}
	s.log.Info("no local subscribers; restoring from backup")
	return s.sync.RestoreSubscribers(ctx)
}

// ensureReminders restores an empty local table from the backup, or seeds
// an empty backup from the local table.
func (s *Service) ensureReminders(ctx context.Context) error {
	if !s.sync.Initialized() {
		return nil
	}
	if s.reminders.Len() == 0 {
		s.log.Info("no local reminders; restoring from backup")
		_, err := s.sync.Restore(ctx)
		return err
	}
	pull, err := s.sync.PullAll(ctx)
	if err != nil {
		return err
	}
	if len(pull.Reminders) > 0 {
		return nil
	}
	s.log.Info("backup is empty; uploading local reminders", logx.Int("count", s.reminders.Len()))
	_, err = s.sync.BackupAll(ctx, s.reminders.List())
	return err
}

func (s *Service) scheduleAutoSync() error {
	if !s.sync.Initialized() {
		s.sched.RemoveJob(autoSyncJob)
		return nil
	}
	s.mu.Lock()
	schedule := s.autoSyncSchedule
	s.mu.Unlock()
	if schedule != "" {
		return s.sched.AddSchedule(autoSyncJob, schedule, autoSyncTimeout, s.sync.AutoSync)
	}
	return s.sched.AddInterval(autoSyncJob, s.sync.AutoSyncEvery(), autoSyncTimeout, s.sync.AutoSync)
}

// ApplySync swaps retry and batch settings and re-registers the auto-sync
// job. A non-empty schedule takes precedence over cfg.AutoSyncEvery.
func (s *Service) ApplySync(cfg syncer.Config, schedule string) error {
	s.sync.Apply(cfg)
	s.mu.Lock()
	s.autoSyncSchedule = strings.TrimSpace(schedule)
	s.mu.Unlock()
	return s.scheduleAutoSync()
}

func (s *Service) ApplyDelivery(cfg delivery.Config) { s.deliv.Apply(cfg) }

// QueueLen and TimerCount feed the metrics gauges.
func (s *Service) QueueLen() int   { return s.engine.Snapshot().QueueLen }
func (s *Service) TimerCount() int { return s.sched.Count() }

// Stop halts timers first so nothing new is queued, then drains the queue.
func (s *Service) Stop(ctx context.Context) error {
	s.sched.Stop(ctx)
	s.engine.Stop(ctx)
	return errors.Join(s.sync.Close(), s.store.Close())
}
