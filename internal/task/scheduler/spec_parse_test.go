package scheduler

import (
	"testing"
	"time"
)

func TestParseSchedule(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw    string
		kind   SpecKind
		source string
		cron   string
		every  time.Duration
	}{
		{raw: "*/10 * * * *", kind: SpecCron, source: "cron", cron: "*/10 * * * *"},
		{raw: "  cron: 30 3 * * 1 ", kind: SpecCron, source: "cron", cron: "30 3 * * 1"},
		{raw: "@daily", kind: SpecCron, source: "cron", cron: "@daily"},
		{raw: "15m", kind: SpecInterval, source: "duration", every: 15 * time.Minute},
		{raw: "interval:90s", kind: SpecInterval, source: "duration", every: 90 * time.Second},
		{raw: "every:00:10", kind: SpecInterval, source: "hhmm", every: 10 * time.Minute},
		{raw: "02:00", kind: SpecInterval, source: "hhmm", every: 2 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSchedule(tt.raw)
			if err != nil {
				t.Fatalf("ParseSchedule(%q) error: %v", tt.raw, err)
			}
			if got.Kind != tt.kind || got.Source != tt.source {
				t.Fatalf("ParseSchedule(%q) = kind %v source %s, want %v %s", tt.raw, got.Kind, got.Source, tt.kind, tt.source)
			}
			if tt.kind == SpecCron && got.Cron != tt.cron {
				t.Fatalf("Cron = %q, want %q", got.Cron, tt.cron)
			}
			if tt.kind == SpecInterval && got.Every != tt.every {
				t.Fatalf("Every = %v, want %v", got.Every, tt.every)
			}
		})
	}
}

func TestParseScheduleRejects(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "   ", "soon", "00:00", "12:60", "-1m", "0s", "cron:", "interval:"} {
		if got, err := ParseSchedule(raw); err == nil {
			t.Fatalf("ParseSchedule(%q) = %+v, want error", raw, got)
		}
	}
}

func TestSpreadIntervalFirstRun(t *testing.T) {
	t.Parallel()
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	sched, offset := spreadInterval(10*time.Minute, now, "sync.auto")
	if offset < 0 || offset >= spreadCap {
		t.Fatalf("offset = %v, want [0, %v)", offset, spreadCap)
	}
	first := sched.Next(now)
	if want := now.Add(10*time.Minute + offset); !first.Equal(want) {
		t.Fatalf("first run = %v, want %v", first, want)
	}
	if second := sched.Next(first); second.Sub(first) != 10*time.Minute {
		t.Fatalf("second run %v after first, want 10m", second.Sub(first))
	}

	// short intervals spread within one interval
	_, offset = spreadInterval(5*time.Second, now, "tick")
	if offset >= 5*time.Second {
		t.Fatalf("offset = %v, want < 5s", offset)
	}
}
