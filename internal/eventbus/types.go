package eventbus

// Event types published by the reminder core.
const (
	ReminderArmed     = "reminder.armed"
	ReminderSkipped   = "reminder.skipped"
	ReminderFired     = "reminder.fired"
	ReminderDelivered = "reminder.delivered"
	ReminderRemoved   = "reminder.removed"

	SyncPush    = "sync.push"
	SyncRetry   = "sync.retry"
	SyncRestore = "sync.restore"
	SyncSubs    = "sync.subscribers"
	SyncChats   = "sync.chat_stats"

	TaskDone    = "task.done"
	TaskFailed  = "task.failed"
	TaskPanic   = "task.panic"
	TaskDropped = "task.dropped"
)

// FiredData accompanies ReminderFired.
type FiredData struct {
	ReminderID string
	Kind       string
	Result     string // completed, partial, aborted, skipped
	Sent       int
	Failed     int
}

// DeliveredData accompanies ReminderDelivered, one per recipient.
type DeliveredData struct {
	ReminderID string
	ChatID     int64
	Outcome    string // success, success_fallback, failed
}

// SyncData accompanies SyncPush, SyncRetry and SyncRestore.
type SyncData struct {
	Op      string
	ID      string
	OK      bool
	Attempt int
	Err     string
}
