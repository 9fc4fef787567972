// Package delivery fans a fired reminder out to every subscriber.
package delivery

import (
	"context"
	"fmt"
	"time"

	"remindbot/internal/reminder"
	"remindbot/internal/storage"
)

// Notifier sends messages to one chat. Deliver sends rich markup; SendPlain
// sends text with no markup parsing.
type Notifier interface {
	Deliver(ctx context.Context, chatID int64, markup string) error
	SendPlain(ctx context.Context, chatID int64, text string) error
}

// Reminders is the part of the reminder store a firing touches.
type Reminders interface {
	Get(id string) (reminder.Reminder, bool)
	MarkSent(ctx context.Context, id, at string) (reminder.Reminder, bool, error)
	Remove(ctx context.Context, id string) (reminder.Reminder, bool, error)
}

// Recipients supplies the subscriber snapshot for a firing.
type Recipients interface {
	Snapshot() []int64
}

// SubscriberHealer refills an empty subscriber set from backup.
type SubscriberHealer interface {
	RestoreSubscribers(ctx context.Context) error
}

// Pusher submits backup writes without waiting for them.
type Pusher interface {
	SubmitUpdate(ctx context.Context, r reminder.Reminder) error
	SubmitDelete(ctx context.Context, r reminder.Reminder) error
}

// Auditor records send history.
type Auditor interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

type Config struct {
	// RatePerSec paces sends across all recipients. 0 uses 20/s.
	RatePerSec float64
	Burst      int
	// SendTimeout bounds a single send attempt. 0 uses 15s.
	SendTimeout time.Duration
}

type Outcome string

const (
	OutcomeSuccess         Outcome = "success"
	OutcomeSuccessFallback Outcome = "success_fallback"
	OutcomeFailed          Outcome = "failed"
)

type Result string

const (
	ResultCompleted Result = "completed"
	ResultPartial   Result = "partial"
	// ResultAborted means there was nobody to deliver to.
	ResultAborted Result = "aborted"
	// ResultSkipped means the reminder no longer exists.
	ResultSkipped Result = "skipped"
)

type RecipientResult struct {
	ChatID  int64
	Outcome Outcome
	Err     error
}

// Report is the outcome of one firing.
type Report struct {
	ReminderID string
	Kind       reminder.Kind
	Result     Result
	Sent       int
	Failed     int
	Recipients []RecipientResult
	FiredAt    time.Time
}

// Err is non-nil when the firing did not reach everyone.
func (r Report) Err() error {
	switch r.Result {
	case ResultPartial:
		return fmt.Errorf("reminder %s: delivered %d, failed %d", r.ReminderID, r.Sent, r.Failed)
	case ResultAborted:
		return fmt.Errorf("reminder %s: no subscribers", r.ReminderID)
	}
	return nil
}
