package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"remindbot/internal/reminder"
	"remindbot/internal/task/engine"
)

// ReminderPrefix marks timer names owned by reminders. RearmAll only touches
// these; housekeeping jobs live under other names.
const ReminderPrefix = "reminder:"

// Config controls firing behaviour.
type Config struct {
	// FireTimeout bounds one delivery run. 0 uses the engine default.
	FireTimeout time.Duration
}

// Enqueuer is the part of the task engine the scheduler needs.
type Enqueuer interface {
	Enqueue(t engine.Task) error
}

// FireFunc is run as a task body when a reminder's timer fires.
type FireFunc func(ctx context.Context, reminderID string) error

type ArmResult int

const (
	ArmArmed ArmResult = iota
	// ArmSkippedPast means a once reminder was not in the future; no timer exists for it.
	ArmSkippedPast
)

func (r ArmResult) String() string {
	switch r {
	case ArmArmed:
		return "armed"
	case ArmSkippedPast:
		return "skipped_past"
	}
	return "unknown"
}

// Timer is a read-only view of one live timer.
type Timer struct {
	Name string
	ID   string // reminder id; empty for housekeeping jobs
	Kind reminder.Kind
	Spec string // cron spec in UTC, or the once instant in RFC3339
	Next time.Time
}

// RearmReport summarizes a full re-arm.
type RearmReport struct {
	Cancelled   int
	Armed       int
	SkippedPast int
	Failed      int
}

type entry struct {
	name  string
	id    string
	kind  reminder.Kind
	spec  string
	sched cron.Schedule

	entryID cron.EntryID

	// once timers
	at    time.Time
	timer *time.Timer
	ver   uint64
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Running   bool
	Timezone  string
	Reminders int
	Jobs      []Timer
}

func timerName(id string) string { return ReminderPrefix + id }
