package config

// Config is the on-disk configuration. Durations are Go duration strings
// ("500ms", "10s", "5m"); empty means the component default.
//
// Secrets may be left out of the file and supplied by the environment
// (see ApplyEnv).
type Config struct {
	Telegram   TelegramConfig   `json:"telegram"`
	Logging    LoggingConfig    `json:"logging"`
	Timezone   TimezoneConfig   `json:"timezone,omitempty"`
	Storage    StorageConfig    `json:"storage,omitempty"`
	Backup     BackupConfig     `json:"backup,omitempty"`
	Sync       SyncConfig       `json:"sync,omitempty"`
	Delivery   DeliveryConfig   `json:"delivery,omitempty"`
	TaskEngine TaskEngineConfig `json:"task_engine,omitempty"`
	Metrics    MetricsConfig    `json:"metrics,omitempty"`
}

type TelegramConfig struct {
	Token       string `json:"token,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty"`
	// AdminUserIDs may run /clear and /restore. Empty allows everyone.
	AdminUserIDs []int64 `json:"admin_user_ids,omitempty"`
}

type LoggingConfig struct {
	Level   string       `json:"level"`
	Console bool         `json:"console"`
	File    LoggingFile  `json:"file"`
	Alert   LoggingAlert `json:"alert,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlert forwards error logs to a chat.
type LoggingAlert struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerMin int    `json:"rate_per_min,omitempty"`
}

// TimezoneConfig is the canonical local zone. Offset looks like "+03:00".
type TimezoneConfig struct {
	Name   string `json:"name,omitempty"`
	Offset string `json:"offset,omitempty"`
}

// StorageConfig selects the local store.
//
//	"storage": { "driver": "file", "path": "./data/remindbot" }
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// BackupConfig selects the remote backup. Driver is one of "none", "http",
// "redis" or "memory".
type BackupConfig struct {
	Driver         string `json:"driver,omitempty"`
	URL            string `json:"url,omitempty"`
	Token          string `json:"token,omitempty"`
	RequestsPerMin int    `json:"requests_per_min,omitempty"`
	Timeout        string `json:"timeout,omitempty"`

	RedisAddr     string `json:"redis_addr,omitempty"`
	RedisPassword string `json:"redis_password,omitempty"`
	RedisDB       int    `json:"redis_db,omitempty"`
	KeyPrefix     string `json:"key_prefix,omitempty"`
}

type SyncConfig struct {
	Attempts      int    `json:"attempts,omitempty"`
	BaseDelay     string `json:"base_delay,omitempty"`
	CallTimeout   string `json:"call_timeout,omitempty"`
	AutoSyncEvery string `json:"auto_sync_every,omitempty"`
	// AutoSyncSchedule overrides AutoSyncEvery with a cron ("*/5 * * * *",
	// "@hourly") or interval ("5m", "00:05") form.
	AutoSyncSchedule string `json:"auto_sync_schedule,omitempty"`
	BatchSize     int    `json:"batch_size,omitempty"`
	BatchPause    string `json:"batch_pause,omitempty"`
	RecordPause   string `json:"record_pause,omitempty"`
	RecordStep    string `json:"record_step,omitempty"`
}

type DeliveryConfig struct {
	RatePerSec  float64 `json:"rate_per_sec,omitempty"`
	Burst       int     `json:"burst,omitempty"`
	SendTimeout string  `json:"send_timeout,omitempty"`
	FireTimeout string  `json:"fire_timeout,omitempty"`
}

type TaskEngineConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	MaxQueueDelay  string `json:"max_queue_delay,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
}

// MetricsConfig enables the prometheus endpoint when Addr is set. A
// non-loopback Addr needs Token or AllowInsecure.
type MetricsConfig struct {
	Addr          string `json:"addr,omitempty"`
	Path          string `json:"path,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	WriteTimeout  string `json:"write_timeout,omitempty"`
}
