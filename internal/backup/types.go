// Package backup defines the remote backup table the sync engine mirrors
// reminders and subscribers to.
package backup

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	StatusActive  = "Active"
	StatusDeleted = "Deleted"
)

// Record is one row of the remote reminders table. Weekly rows carry the
// weekday in DaysOfWeek, in Time as "<weekday> HH:MM", or both.
type Record struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	Time       string `json:"time_msk"`
	Type       string `json:"type"`
	ChatID     string `json:"chat_id,omitempty"`
	ChatName   string `json:"chat_name,omitempty"`
	Status     string `json:"status"`
	CreatedAt  string `json:"created_at,omitempty"`
	Username   string `json:"username,omitempty"`
	LastSent   string `json:"last_sent,omitempty"`
	DaysOfWeek string `json:"days_of_week,omitempty"`
}

// ChatStat is one row of the remote chat statistics table. Members is 0
// when the count is unknown. Timestamps are backup-local wall time.
type ChatStat struct {
	ChatID       int64  `json:"chat_id"`
	Name         string `json:"chat_name,omitempty"`
	Type         string `json:"chat_type,omitempty"`
	Members      int    `json:"members_count,omitempty"`
	Reminders    int    `json:"reminders_count"`
	FirstSeen    string `json:"first_seen,omitempty"`
	LastActivity string `json:"last_activity,omitempty"`
}

// Store is the remote backup. Every call may fail with a *RateLimitedError.
type Store interface {
	Upsert(ctx context.Context, rec Record) error
	MarkDeleted(ctx context.Context, id string) error
	FetchAll(ctx context.Context) ([]Record, error)
	FetchSubscribers(ctx context.Context) ([]int64, error)
	WriteSubscribers(ctx context.Context, ids []int64) error
	FetchChatStats(ctx context.Context) ([]ChatStat, error)
	UpsertChatStat(ctx context.Context, st ChatStat) error
	Ping(ctx context.Context) error
	Close() error
}

var (
	ErrRateLimited = errors.New("backup: rate limited")
	ErrNotFound    = errors.New("backup: record not found")
)

// RateLimitedError is returned when the backup asks the caller to slow
// down. RetryAfter is the server hint, or 0 when none was given.
type RateLimitedError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitedError) Error() string {
	msg := "backup: rate limited"
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %s)", e.RetryAfter)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RateLimitedError) Unwrap() error { return e.Err }

func (e *RateLimitedError) Is(target error) bool { return target == ErrRateLimited }

// RetryAfter returns the server hint carried by err and whether err is a
// rate-limit condition at all.
func RetryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, errors.Is(err, ErrRateLimited)
}

// Config selects and configures a backup driver.
//
// Driver values:
//   - "" or "none": no backup; the sync engine stays uninitialized
//   - "http": REST table service at URL
//   - "redis": redis at RedisAddr
//   - "memory": process-local, for tests and dry runs
type Config struct {
	Driver         string
	URL            string
	Token          string
	RequestsPerMin int
	Timeout        time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string
}
