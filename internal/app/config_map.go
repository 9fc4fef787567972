package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"remindbot/internal/backup"
	"remindbot/internal/backup/httpstore"
	"remindbot/internal/backup/redisstore"
	"remindbot/internal/config"
	"remindbot/internal/delivery"
	"remindbot/internal/metrics"
	"remindbot/internal/storage"
	"remindbot/internal/syncer"
	"remindbot/internal/task/engine"
	"remindbot/internal/task/scheduler"
	"remindbot/internal/timeconv"
	logx "remindbot/pkg/logx"
)

func mapConverter(cfg *config.Config) (*timeconv.Converter, error) {
	off, err := timeconv.ParseOffset(cfg.Timezone.Offset)
	if err != nil {
		return nil, fmt.Errorf("timezone.offset: %w", err)
	}
	return timeconv.New(cfg.Timezone.Name, off), nil
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Alert: logx.AlertConfig{
			Enabled:    l.Alert.Enabled,
			ChatID:     l.Alert.ChatID,
			MinLevel:   l.Alert.MinLevel,
			RatePerMin: l.Alert.RatePerMin,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	switch driver {
	case "", "file":
		return storage.Config{Driver: "file", Path: strings.TrimSpace(sc.Path)}, nil
	case "none", "memory":
		return storage.Config{Driver: "none"}, nil
	case "sqlite", "sqlite3":
		path := strings.TrimSpace(sc.Path)
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapBackupConfig(cfg *config.Config) (backup.Config, error) {
	b := cfg.Backup
	timeout, err := config.ParseDurationOrDefault("backup.timeout", b.Timeout, 10*time.Second)
	if err != nil {
		return backup.Config{}, err
	}
	return backup.Config{
		Driver:         strings.ToLower(strings.TrimSpace(b.Driver)),
		URL:            strings.TrimSpace(b.URL),
		Token:          b.Token,
		RequestsPerMin: b.RequestsPerMin,
		Timeout:        timeout,
		RedisAddr:      strings.TrimSpace(b.RedisAddr),
		RedisPassword:  b.RedisPassword,
		RedisDB:        b.RedisDB,
		KeyPrefix:      b.KeyPrefix,
	}, nil
}

// openBackup dials the configured backup driver. "none" returns nil, which
// leaves the sync engine uninitialized.
func openBackup(ctx context.Context, bc backup.Config, log logx.Logger) (backup.Store, error) {
	switch bc.Driver {
	case "", "none":
		return nil, nil
	case "memory":
		return backup.NewMemory(), nil
	case "http":
		c, err := httpstore.New(bc, log)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "redis":
		rs, err := redisstore.New(ctx, bc, log)
		if err != nil {
			return nil, err
		}
		return rs, nil
	default:
		return nil, fmt.Errorf("unknown backup.driver: %s", bc.Driver)
	}
}

func mapSyncConfig(cfg *config.Config) (syncer.Config, error) {
	s := cfg.Sync
	out := syncer.Config{Attempts: s.Attempts, BatchSize: s.BatchSize}
	for _, f := range []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"sync.base_delay", s.BaseDelay, &out.BaseDelay},
		{"sync.call_timeout", s.CallTimeout, &out.CallTimeout},
		{"sync.auto_sync_every", s.AutoSyncEvery, &out.AutoSyncEvery},
		{"sync.batch_pause", s.BatchPause, &out.BatchPause},
		{"sync.record_pause", s.RecordPause, &out.RecordPause},
		{"sync.record_step", s.RecordStep, &out.RecordStep},
	} {
		d, err := config.ParseDurationField(f.key, f.raw)
		if err != nil {
			return syncer.Config{}, err
		}
		*f.dst = d
	}
	return out, nil
}

func mapDeliveryConfig(cfg *config.Config) (delivery.Config, scheduler.Config, error) {
	d := cfg.Delivery
	send, err := config.ParseDurationField("delivery.send_timeout", d.SendTimeout)
	if err != nil {
		return delivery.Config{}, scheduler.Config{}, err
	}
	fire, err := config.ParseDurationField("delivery.fire_timeout", d.FireTimeout)
	if err != nil {
		return delivery.Config{}, scheduler.Config{}, err
	}
	return delivery.Config{RatePerSec: d.RatePerSec, Burst: d.Burst, SendTimeout: send},
		scheduler.Config{FireTimeout: fire}, nil
}

func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	te := cfg.TaskEngine
	workers := te.Workers
	if workers <= 0 {
		workers = 4
	}
	queueSize := te.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	historySize := te.HistorySize
	if historySize <= 0 {
		historySize = 200
	}
	defTimeout, err := config.ParseDurationOrDefault("task_engine.default_timeout", te.DefaultTimeout, time.Minute)
	if err != nil {
		return engine.Config{}, err
	}
	maxQueueDelay, err := config.ParseDurationField("task_engine.max_queue_delay", te.MaxQueueDelay)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		Enabled:        true,
		Workers:        workers,
		QueueSize:      queueSize,
		DefaultTimeout: defTimeout,
		MaxQueueDelay:  maxQueueDelay,
		HistorySize:    historySize,
	}, nil
}

func mapMetricsConfig(cfg *config.Config) (metrics.ServerConfig, error) {
	m := cfg.Metrics
	rt, err := config.ParseDurationOrDefault("metrics.read_timeout", m.ReadTimeout, 5*time.Second)
	if err != nil {
		return metrics.ServerConfig{}, err
	}
	wt, err := config.ParseDurationOrDefault("metrics.write_timeout", m.WriteTimeout, 30*time.Second)
	if err != nil {
		return metrics.ServerConfig{}, err
	}
	return metrics.ServerConfig{
		Addr:          strings.TrimSpace(m.Addr),
		Path:          m.Path,
		Token:         m.Token,
		AllowInsecure: m.AllowInsecure,
		Pprof:         m.Pprof,
		ReadTimeout:   rt,
		WriteTimeout:  wt,
	}, nil
}

func mapPollTimeout(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
}
