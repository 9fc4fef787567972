package config

import (
	"context"
	"errors"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "remindbot/pkg/logx"
)

const (
	reloadDebounce  = 250 * time.Millisecond
	watchRetryFirst = 250 * time.Millisecond
	watchRetryMax   = 5 * time.Second
)

// Watch reloads the file after it settles following a change, until ctx
// ends. The directory is watched so editors that replace the file are
// seen. A failed watcher is recreated with jittered backoff.
func (m *Manager) Watch(ctx context.Context) error {
	retry := watchRetryFirst
	for {
		err := m.watch(ctx, func() { retry = watchRetryFirst })
		if ctx.Err() != nil {
			return nil
		}
		wait := retry + time.Duration(rand.Int64N(int64(retry/2)+1))
		retry = min(retry*2, watchRetryMax)
		m.log.Warn("config watcher stopped; restarting", logx.String("path", m.path), logx.Duration("backoff", wait), logx.Err(err))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (m *Manager) watch(ctx context.Context, started func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	dir, name := filepath.Dir(m.path), filepath.Base(m.path)
	if err := w.Add(dir); err != nil {
		return err
	}
	started()
	m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", name))

	settle := time.NewTimer(0)
	if !settle.Stop() {
		<-settle.C
	}
	defer settle.Stop()

	const relevant = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("watcher events closed")
			}
			if ev.Op&relevant != 0 && strings.EqualFold(filepath.Base(ev.Name), name) {
				settle.Reset(reloadDebounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("watcher errors closed")
			}
			if !errors.Is(err, fsnotify.ErrEventOverflow) {
				m.log.Warn("config watch error", logx.String("dir", dir), logx.Err(err))
				continue
			}
			m.log.Warn("config watch overflow; forcing reload", logx.String("dir", dir))
			settle.Reset(reloadDebounce)
		case <-settle.C:
			m.reloadAndLog(ctx)
		}
	}
}

func (m *Manager) reloadAndLog(ctx context.Context) {
	published, err := m.Reload(ctx)
	switch {
	case err != nil:
		m.log.Warn("config reload failed", logx.String("path", m.path), logx.Err(err))
	case published:
		m.log.Info("config reloaded", logx.String("path", m.path))
	}
}
