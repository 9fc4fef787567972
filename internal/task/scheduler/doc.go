// Package scheduler owns the id → timer map for reminders.
//
// Recurring reminders become cron entries on a UTC clock; one-off reminders
// become runtime timers. The scheduler is responsible only for:
//   - arming, re-arming and cancelling timers
//   - computing next trigger times
//   - enqueueing firings into the task engine
//
// It never delivers anything itself.
package scheduler
