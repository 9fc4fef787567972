package config

import (
	"reflect"
	"strings"

	logx "remindbot/pkg/logx"
)

// Sections applied only at startup; a change needs a restart.
var restartOnly = map[string]bool{
	"telegram":    true,
	"timezone":    true,
	"storage":     true,
	"backup":      true,
	"task_engine": true,
}

// SummarizeConfigChange lists the changed top-level sections, safe log
// fields describing them (no secrets), and the changed sections that only
// take effect after a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) (changed []string, attrs []logx.Field, needRestart []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	mark := func(section string, fields ...logx.Field) {
		changed = append(changed, section)
		attrs = append(attrs, fields...)
		if restartOnly[section] {
			needRestart = append(needRestart, section)
		}
	}

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token || ot.PollTimeout != nt.PollTimeout || !reflect.DeepEqual(ot.AdminUserIDs, nt.AdminUserIDs) {
		mark("telegram",
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
			logx.Int("telegram.admin_count", len(nt.AdminUserIDs)),
		)
	}
	if oldCfg.Logging != newCfg.Logging {
		mark("logging",
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.alert", newCfg.Logging.Alert.Enabled),
		)
	}
	if oldCfg.Timezone != newCfg.Timezone {
		mark("timezone", logx.String("timezone.name", newCfg.Timezone.Name), logx.String("timezone.offset", newCfg.Timezone.Offset))
	}
	if oldCfg.Storage != newCfg.Storage {
		mark("storage", logx.String("storage.driver", newCfg.Storage.Driver))
	}
	if ob, nb := redactBackup(oldCfg.Backup), redactBackup(newCfg.Backup); ob != nb {
		mark("backup",
			logx.String("backup.driver", nb.Driver),
			logx.Bool("backup.url_set", nb.URL != ""),
			logx.Bool("backup.token_set", nb.Token != ""),
		)
	}
	if oldCfg.Sync != newCfg.Sync {
		mark("sync",
			logx.String("sync.auto_sync_every", newCfg.Sync.AutoSyncEvery),
			logx.String("sync.auto_sync_schedule", newCfg.Sync.AutoSyncSchedule),
			logx.Int("sync.attempts", newCfg.Sync.Attempts),
		)
	}
	if oldCfg.Delivery != newCfg.Delivery {
		mark("delivery", logx.Any("delivery.rate_per_sec", newCfg.Delivery.RatePerSec))
	}
	if oldCfg.TaskEngine != newCfg.TaskEngine {
		mark("task_engine", logx.Int("task_engine.workers", newCfg.TaskEngine.Workers))
	}
	om, nm := oldCfg.Metrics, newCfg.Metrics
	om.Token, nm.Token = redact(om.Token), redact(nm.Token)
	if om != nm {
		mark("metrics",
			logx.String("metrics.addr", strings.TrimSpace(nm.Addr)),
			logx.Bool("metrics.token_set", nm.Token != ""),
			logx.Bool("metrics.pprof", nm.Pprof),
		)
	}
	return changed, attrs, needRestart
}

// redactBackup keeps secret presence but not the value, so a token
// rotation still counts as a change.
func redactBackup(b BackupConfig) BackupConfig {
	b.Token = redact(b.Token)
	b.RedisPassword = redact(b.RedisPassword)
	return b
}

func redact(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	return "sha:" + hashString(s)
}
