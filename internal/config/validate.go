package config

import (
	"errors"
	"fmt"
	"strings"

	"remindbot/internal/timeconv"
)

// Validate reports every problem in cfg at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		add(fmt.Errorf("telegram.token is required (or set %s)", EnvBotToken))
	}
	dur("telegram.poll_timeout", cfg.Telegram.PollTimeout)

	if _, err := timeconv.ParseOffset(cfg.Timezone.Offset); err != nil {
		add(fmt.Errorf("timezone.offset: %w", err))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "file", "none", "memory":
	case "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			add(errors.New("storage.path is required when storage.driver=sqlite"))
		}
	default:
		add(fmt.Errorf("unknown storage.driver: %s", cfg.Storage.Driver))
	}
	dur("storage.busy_timeout", cfg.Storage.BusyTimeout)

	b := cfg.Backup
	switch strings.ToLower(strings.TrimSpace(b.Driver)) {
	case "", "none", "memory":
	case "http":
		if strings.TrimSpace(b.URL) == "" {
			add(fmt.Errorf("backup.url is required when backup.driver=http (or set %s)", EnvBackupURL))
		}
	case "redis":
		if strings.TrimSpace(b.RedisAddr) == "" {
			add(fmt.Errorf("backup.redis_addr is required when backup.driver=redis (or set %s)", EnvBackupRedis))
		}
	default:
		add(fmt.Errorf("unknown backup.driver: %s", b.Driver))
	}
	if b.RequestsPerMin < 0 {
		add(errors.New("backup.requests_per_min must be >= 0"))
	}
	dur("backup.timeout", b.Timeout)

	s := cfg.Sync
	dur("sync.base_delay", s.BaseDelay)
	dur("sync.call_timeout", s.CallTimeout)
	dur("sync.auto_sync_every", s.AutoSyncEvery)
	dur("sync.batch_pause", s.BatchPause)
	dur("sync.record_pause", s.RecordPause)
	dur("sync.record_step", s.RecordStep)
	if s.Attempts < 0 || s.BatchSize < 0 {
		add(errors.New("sync.attempts and sync.batch_size must be >= 0"))
	}

	if cfg.Delivery.RatePerSec < 0 || cfg.Delivery.Burst < 0 {
		add(errors.New("delivery.rate_per_sec and delivery.burst must be >= 0"))
	}
	dur("delivery.send_timeout", cfg.Delivery.SendTimeout)
	dur("delivery.fire_timeout", cfg.Delivery.FireTimeout)

	dur("task_engine.default_timeout", cfg.TaskEngine.DefaultTimeout)
	dur("task_engine.max_queue_delay", cfg.TaskEngine.MaxQueueDelay)

	dur("metrics.read_timeout", cfg.Metrics.ReadTimeout)
	dur("metrics.write_timeout", cfg.Metrics.WriteTimeout)

	return errors.Join(errs...)
}
