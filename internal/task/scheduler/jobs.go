package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"remindbot/internal/task/engine"
	logx "remindbot/pkg/logx"
)

// AddSchedule parses schedule (see ParseSchedule) and registers a
// housekeeping job under name, replacing any job with the same name.
func (s *Service) AddSchedule(name, schedule string, timeout time.Duration, job func(ctx context.Context) error) error {
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	switch ps.Kind {
	case SpecCron:
		sched, err := s.parser.Parse(ps.Cron)
		if err != nil {
			return fmt.Errorf("cron spec %q: %w", ps.Cron, err)
		}
		return s.addJob(name, ps.Cron, sched, timeout, job)
	case SpecInterval:
		return s.AddInterval(name, ps.Every, timeout, job)
	}
	return errors.New("unsupported schedule kind")
}

// AddInterval registers a job that runs every interval. The first run is
// spread by a random delay so restarts do not line up.
func (s *Service) AddInterval(name string, every, timeout time.Duration, job func(ctx context.Context) error) error {
	if every <= 0 {
		return errors.New("interval must be > 0")
	}
	sched, _ := spreadInterval(every, s.conv.Now().UTC(), name)
	return s.addJob(name, "@every "+every.String(), sched, timeout, job)
}

// RemoveJob unregisters a housekeeping job.
func (s *Service) RemoveJob(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok || e.id != "" {
		return false
	}
	s.dropLocked(name, e)
	return true
}

func (s *Service) addJob(name, spec string, sched cron.Schedule, timeout time.Duration, job func(ctx context.Context) error) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if strings.HasPrefix(name, ReminderPrefix) {
		return fmt.Errorf("job name %q uses the reminder prefix", name)
	}
	if job == nil {
		return errors.New("job required")
	}

	s.mu.Lock()
	if e, ok := s.entries[name]; ok {
		s.dropLocked(name, e)
	}
	e := &entry{name: name, spec: spec, sched: sched}
	e.entryID = s.c.Schedule(sched, cron.FuncJob(func() {
		if s.engine == nil {
			return
		}
		err := s.engine.Enqueue(engine.Task{
			Name:    name,
			Timeout: timeout,
			Overlap: engine.OverlapSkipIfRunning,
			Run:     job,
		})
		if err != nil {
			s.enqueueFailed(name, err)
		}
	}))
	s.entries[name] = e
	next := s.viewLocked(e, s.conv.Now()).Next
	s.mu.Unlock()

	s.log.Debug("job registered", logx.String("name", name), logx.String("spec", spec), logx.Time("next", next))
	return nil
}
