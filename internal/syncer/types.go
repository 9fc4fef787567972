// Package syncer mirrors the local reminder table and subscriber set to
// the remote backup and restores them from it.
//
// The local stores stay authoritative: a failed or exhausted remote call
// is logged and returned, never applied back to local state.
package syncer

import (
	"context"
	"time"

	"remindbot/internal/reminder"
	"remindbot/internal/task/engine"
	"remindbot/internal/task/scheduler"
)

type Config struct {
	Attempts    int
	BaseDelay   time.Duration
	CallTimeout time.Duration

	AutoSyncEvery time.Duration

	BatchSize   int
	BatchPause  time.Duration
	RecordPause time.Duration
	RecordStep  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Attempts <= 0 {
		c.Attempts = 4
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 2 * time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 30 * time.Second
	}
	if c.AutoSyncEvery <= 0 {
		c.AutoSyncEvery = 5 * time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 5
	}
	if c.BatchPause <= 0 {
		c.BatchPause = 10 * time.Second
	}
	if c.RecordPause <= 0 {
		c.RecordPause = time.Second
	}
	if c.RecordStep <= 0 {
		c.RecordStep = 200 * time.Millisecond
	}
	return c
}

type Reminders interface {
	List() []reminder.Reminder
	ReplaceAll(ctx context.Context, list []reminder.Reminder) error
	AddMissing(ctx context.Context, list []reminder.Reminder) ([]reminder.Reminder, error)
}

type Subscribers interface {
	Snapshot() []int64
	ReplaceAll(ctx context.Context, ids []int64) error
}

type Rearmer interface {
	RearmAll(list []reminder.Reminder) scheduler.RearmReport
}

// MemberCounter reads a chat's member count from the chat platform.
type MemberCounter interface {
	MemberCount(ctx context.Context, chatID int64) (int, error)
}

// Submitter runs a task off the caller's goroutine.
type Submitter interface {
	Submit(ctx context.Context, t engine.Task) error
}

// PullResult is the filtered remote table. Reminders are the Active,
// valid rows, first occurrence per id, in remote order.
type PullResult struct {
	Reminders  []reminder.Reminder
	Fetched    int
	Deleted    int
	Duplicates int
	Invalid    int
}

// Diff is the outcome of a subscriber reconcile.
type Diff struct {
	Added   []int64
	Removed []int64
	Remote  int
	Written bool
}

func (d Diff) InSync() bool { return len(d.Added) == 0 && len(d.Removed) == 0 }

type RestoreReport struct {
	Pull     PullResult
	Replaced bool
	Rearm    scheduler.RearmReport

	Subscribers    Diff
	SubscribersErr error
}

type BatchReport struct {
	Total    int
	Deleted  int
	NotFound int
	Failed   int
	Batches  int
}
