package config

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func noEnv(string) (string, bool) { return "", false }

func TestParseYAMLAndJSONAgree(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	j := writeFile(t, dir, "c.json", `{"telegram":{"token":"x"},"logging":{"level":"info","console":true,"file":{"enabled":false,"path":""}},"backup":{"driver":"http","url":"https://b.example"},"sync":{"auto_sync_every":"5m"}}`)
	y := writeFile(t, dir, "c.yaml", `
telegram:
  token: x
logging:
  level: info
  console: true
  file: {enabled: false, path: ""}
backup:
  driver: http
  url: https://b.example
sync:
  auto_sync_every: 5m
`)
	mj, my := NewManager(j), NewManager(y)
	mj.SetEnvLookup(noEnv)
	my.SetEnvLookup(noEnv)
	cj, err := mj.Load()
	if err != nil {
		t.Fatalf("json Load: %v", err)
	}
	cy, err := my.Load()
	if err != nil {
		t.Fatalf("yaml Load: %v", err)
	}
	if fingerprint(cj) != fingerprint(cy) {
		t.Fatalf("json and yaml configs differ:\n%+v\n%+v", cj, cy)
	}
	if err := Validate(cj); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestParseRejectsUnknownAndTrailing(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	for name, body := range map[string]string{
		"unknown.json":  `{"telegram":{"token":"x","owner":1}}`,
		"trailing.json": `{"telegram":{"token":"x"}} {}`,
		"unknown.yaml":  "plugins: {}\n",
	} {
		m := NewManager(writeFile(t, dir, name, body))
		if _, err := m.Parse(); err == nil {
			t.Fatalf("Parse(%s) succeeded, want error", name)
		}
	}
}

func TestEnvOverlay(t *testing.T) {
	t.Parallel()
	env := map[string]string{
		EnvBotToken:    "from-env",
		EnvBackupToken: " secret ",
		EnvBackupURL:   "",
	}
	cfg := &Config{Telegram: TelegramConfig{Token: "from-file"}, Backup: BackupConfig{URL: "https://file"}}
	ApplyEnv(cfg, func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	if cfg.Telegram.Token != "from-env" {
		t.Fatalf("token = %q, want from-env", cfg.Telegram.Token)
	}
	if cfg.Backup.Token != "secret" {
		t.Fatalf("backup token = %q, want secret", cfg.Backup.Token)
	}
	if cfg.Backup.URL != "https://file" {
		t.Fatalf("empty env var overrode url: %q", cfg.Backup.URL)
	}
}

func TestLoadDotEnvSkipsMissing(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, ".env", "REMINDBOT_TEST_DOTENV=loaded\n")
	t.Setenv("REMINDBOT_TEST_DOTENV", "")
	os.Unsetenv("REMINDBOT_TEST_DOTENV")

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), p); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("REMINDBOT_TEST_DOTENV"); got != "loaded" {
		t.Fatalf("env = %q, want loaded", got)
	}
}

func TestValidateCollectsProblems(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		Timezone: TimezoneConfig{Offset: "three hours"},
		Backup:   BackupConfig{Driver: "redis"},
		Sync:     SyncConfig{BaseDelay: "soon"},
		Storage:  StorageConfig{Driver: "sqlite"},
	}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("Validate succeeded, want errors")
	}
	for _, want := range []string{"telegram.token", "timezone.offset", "backup.redis_addr", "sync.base_delay", "storage.path"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %s", err, want)
		}
	}
}

func TestReloadPublishesOnlyChanges(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := writeFile(t, dir, "c.json", `{"telegram":{"token":"x"},"sync":{"auto_sync_every":"5m"}}`)
	m := NewManager(p)
	m.SetEnvLookup(noEnv)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)
	ctx := context.Background()

	if ok, err := m.Reload(ctx); err != nil || ok {
		t.Fatalf("Reload(unchanged) = %v, %v; want false, nil", ok, err)
	}

	writeFile(t, dir, "c.json", `{"telegram":{"token":"x"},"sync":{"auto_sync_every":"1m"}}`)
	if ok, err := m.Reload(ctx); err != nil || !ok {
		t.Fatalf("Reload(changed) = %v, %v; want true, nil", ok, err)
	}
	select {
	case cfg := <-ch:
		if cfg.Sync.AutoSyncEvery != "1m" {
			t.Fatalf("published auto_sync_every = %q", cfg.Sync.AutoSyncEvery)
		}
	case <-time.After(time.Second):
		t.Fatal("no config published")
	}

	m.SetValidator(func(context.Context, *Config) error { return os.ErrInvalid })
	writeFile(t, dir, "c.json", `{"telegram":{"token":"y"}}`)
	if ok, err := m.Reload(ctx); err == nil || ok {
		t.Fatalf("Reload(rejected) = %v, %v; want false, error", ok, err)
	}
	if m.Get().Telegram.Token != "x" {
		t.Fatal("rejected config was committed")
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	a := &Config{Sync: SyncConfig{AutoSyncEvery: "5m"}, Backup: BackupConfig{Driver: "http", Token: "t1"}}
	b := &Config{Sync: SyncConfig{AutoSyncEvery: "1m"}, Backup: BackupConfig{Driver: "http", Token: "t2"}}
	changed, _, restart := SummarizeConfigChange(a, b)
	if strings.Join(changed, ",") != "backup,sync" {
		t.Fatalf("changed = %v, want [backup sync]", changed)
	}
	if strings.Join(restart, ",") != "backup" {
		t.Fatalf("needRestart = %v, want [backup]", restart)
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", 3 * time.Second, false},
		{"0s", 3 * time.Second, false},
		{"150ms", 150 * time.Millisecond, false},
		{"-1s", 0, true},
		{"fast", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseDurationOrDefault("x", tt.raw, 3*time.Second)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Fatalf("ParseDurationOrDefault(%q) = %v, %v; want %v, err=%v", tt.raw, got, err, tt.want, tt.wantErr)
		}
	}
}

func TestWatchPicksUpEdits(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := writeFile(t, dir, "c.yaml", "telegram: {token: x}\nsync: {auto_sync_every: 5m}\n")
	m := NewManager(p)
	m.SetEnvLookup(noEnv)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Watch: %v", err)
		}
	}()

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(300 * time.Millisecond)
	defer tick.Stop()
	// rewrite until the watcher is up and sees a change
	for i := 0; ; i++ {
		select {
		case cfg := <-ch:
			if !strings.HasSuffix(cfg.Sync.AutoSyncEvery, "m") || cfg.Sync.AutoSyncEvery == "5m" {
				t.Fatalf("published auto_sync_every = %q", cfg.Sync.AutoSyncEvery)
			}
			return
		case <-tick.C:
			writeFile(t, dir, "c.yaml", "telegram: {token: x}\nsync: {auto_sync_every: "+strconv.Itoa(10+i)+"m}\n")
		case <-deadline:
			t.Fatal("edit never published")
		}
	}
}
