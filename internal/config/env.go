package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment keys that override file values when set and non-empty.
const (
	EnvBotToken      = "BOT_TOKEN"
	EnvBackupURL     = "BACKUP_URL"
	EnvBackupToken   = "BACKUP_TOKEN"
	EnvBackupRedis   = "BACKUP_REDIS_ADDR"
	EnvBackupRedisPW = "BACKUP_REDIS_PASSWORD"
)

// LoadDotEnv loads KEY=VALUE files into the process environment. Missing
// files are skipped; variables already set are kept.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

// ApplyEnv overlays secrets from lookup onto cfg. A nil lookup uses the
// process environment.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if cfg == nil {
		return
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(&cfg.Telegram.Token, EnvBotToken)
	set(&cfg.Backup.URL, EnvBackupURL)
	set(&cfg.Backup.Token, EnvBackupToken)
	set(&cfg.Backup.RedisAddr, EnvBackupRedis)
	set(&cfg.Backup.RedisPassword, EnvBackupRedisPW)
}
