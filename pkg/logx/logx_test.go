package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestWriterLoggerFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "info").With(String("comp", "sync"))

	log.Debug("hidden")
	log.Warn("push failed", Int("attempt", 2), Err(errors.New("boom")), Err(nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &m); err != nil {
		t.Fatalf("bad json: %v", err)
	}
	if m["comp"] != "sync" || m["attempt"] != float64(2) || m["err"] != "boom" || m["level"] != "warn" {
		t.Fatalf("event = %v", m)
	}
	if caller, _ := m["caller"].(string); !strings.HasPrefix(caller, "logx_test.go:") {
		t.Fatalf("caller = %q", caller)
	}
}

func TestWithDoesNotAlias(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	base := NewWriter(&buf, "debug").With(String("a", "1"))
	left := base.With(String("side", "left"))
	_ = base.With(String("side", "right"))

	left.Info("x")
	if !strings.Contains(buf.String(), `"side":"left"`) || strings.Contains(buf.String(), "right") {
		t.Fatalf("With aliased fields: %s", buf.String())
	}
}

func TestZeroAndNop(t *testing.T) {
	t.Parallel()
	var zero Logger
	if !zero.IsZero() || Nop().IsZero() {
		t.Fatal("IsZero mismatch")
	}
	zero.Error("dropped")
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"trace":   zerolog.TraceLevel,
		"":        zerolog.InfoLevel,
		"loud":    zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := parseLevel(in, zerolog.InfoLevel); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFormatAlert(t *testing.T) {
	t.Parallel()
	line := `{"level":"error","time":"x","message":"backup down","zeta":1,"alpha":"a"}`
	want := "[ERROR] backup down\n- alpha=a\n- zeta=1"
	if got := formatAlert([]byte(line)); got != want {
		t.Fatalf("formatAlert = %q, want %q", got, want)
	}
	if got := formatAlert([]byte("not json\n")); got != "not json" {
		t.Fatalf("formatAlert(raw) = %q", got)
	}
}

type chatSender struct {
	mu   sync.Mutex
	sent []string
	got  chan struct{}
}

func (c *chatSender) SendPlain(_ context.Context, _ int64, text string) error {
	c.mu.Lock()
	c.sent = append(c.sent, text)
	c.mu.Unlock()
	c.got <- struct{}{}
	return nil
}

func TestAlertSinkForwardsWarnings(t *testing.T) {
	t.Parallel()
	sender := &chatSender{got: make(chan struct{}, 8)}
	svc, log := New(Config{Level: "debug", File: FileConfig{Enabled: true, Path: t.TempDir() + "/bot.log"},
		Alert: AlertConfig{Enabled: true, ChatID: 7, MinLevel: "warn", RatePerMin: 60}}, sender)
	defer svc.Close()

	log.Info("routine")
	log.Error("sync failed", String("id", "3"))
	select {
	case <-sender.got:
	case <-time.After(2 * time.Second):
		t.Fatal("alert not sent")
	}
	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.sent) != 1 || !strings.HasPrefix(sender.sent[0], "[ERROR] sync failed") || !strings.Contains(sender.sent[0], "- id=3") {
		t.Fatalf("sent = %q", sender.sent)
	}
}
