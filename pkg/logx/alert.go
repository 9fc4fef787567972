package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	alertQueueSize  = 64
	alertMaxLen     = 3500
	alertFieldLen   = 600
	alertSendWithin = 10 * time.Second
)

// alertSink is a zerolog writer that queues qualifying events for a single
// background sender. It never blocks the logging call.
type alertSink struct {
	sender AlertSender
	queue  chan alertMsg

	mu       sync.Mutex
	chatID   int64
	minLevel zerolog.Level
	limiter  *rate.Limiter
	cancel   context.CancelFunc
	done     chan struct{}
}

type alertMsg struct {
	chatID int64
	text   string
}

func newAlertSink(sender AlertSender) *alertSink {
	return &alertSink{sender: sender, queue: make(chan alertMsg, alertQueueSize)}
}

// configure updates the target and limits and starts the worker the first
// time alerts are enabled.
func (a *alertSink) configure(cfg AlertConfig) {
	rpm := cfg.RatePerMin
	if rpm <= 0 {
		rpm = 20
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.chatID = cfg.ChatID
	a.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	a.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), rpm)
	if cfg.Enabled && a.cancel == nil && a.sender != nil {
		ctx, cancel := context.WithCancel(context.Background())
		a.cancel, a.done = cancel, make(chan struct{})
		go a.run(ctx, a.done)
	}
}

func (a *alertSink) stop() {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel, a.done = nil, nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (a *alertSink) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-a.queue:
			sctx, cancel := context.WithTimeout(ctx, alertSendWithin)
			_ = a.sender.SendPlain(sctx, m.chatID, m.text)
			cancel()
		}
	}
}

func (a *alertSink) Write(p []byte) (int, error) { return a.WriteLevel(zerolog.InfoLevel, p) }

func (a *alertSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	a.mu.Lock()
	chatID, minLevel, lim, running := a.chatID, a.minLevel, a.limiter, a.cancel != nil
	a.mu.Unlock()
	if !running || chatID == 0 || level < minLevel || !lim.Allow() {
		return len(p), nil
	}
	if text := formatAlert(p); text != "" {
		select {
		case a.queue <- alertMsg{chatID: chatID, text: text}:
		default:
		}
	}
	return len(p), nil
}

// formatAlert renders a JSON log line as "[LEVEL] message" and one
// "- key=value" line per remaining field, keys sorted.
func formatAlert(p []byte) string {
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return clip(strings.TrimSpace(string(p)), alertMaxLen)
	}
	var b strings.Builder
	if lvl, _ := m["level"].(string); lvl != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(lvl))
	}
	msg, _ := m["message"].(string)
	b.WriteString(msg)
	delete(m, "level")
	delete(m, "message")
	delete(m, "time")
	for _, k := range slices.Sorted(maps.Keys(m)) {
		fmt.Fprintf(&b, "\n- %s=%s", k, clip(fmt.Sprint(m[k]), alertFieldLen))
	}
	return clip(b.String(), alertMaxLen)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
