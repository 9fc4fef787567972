package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON files next to Path (default)
//   - "sqlite": SQLite database at Path (build tag sqlite)
//   - "none": in-memory only; nothing survives a restart
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Audit entry kinds.
const (
	AuditSend = "send"
	AuditOp   = "op"
)

// AuditEntry is one line of send history or one operator action.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At         time.Time `json:"at"`
	Kind       string    `json:"kind"`
	Action     string    `json:"action"`
	ReminderID string    `json:"reminder_id,omitempty"`
	ChatID     int64     `json:"chat_id,omitempty"`
	Actor      string    `json:"actor,omitempty"`
	Status     string    `json:"status,omitempty"`
	Detail     string    `json:"detail,omitempty"`
}
