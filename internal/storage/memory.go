package storage

import (
	"context"
	"sync"

	"remindbot/internal/reminder"
)

// Memory is a process-local Store. Tests use it, and so does driver "none".
type Memory struct {
	mu          sync.Mutex
	reminders   []reminder.Reminder
	subscribers []int64
	audit       []AuditEntry
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) LoadReminders(context.Context) ([]reminder.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]reminder.Reminder(nil), m.reminders...), nil
}

func (m *Memory) SaveReminders(_ context.Context, list []reminder.Reminder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reminders = append([]reminder.Reminder(nil), list...)
	return nil
}

func (m *Memory) LoadSubscribers(context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.subscribers...), nil
}

func (m *Memory) SaveSubscribers(_ context.Context, ids []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append([]int64(nil), ids...)
	return nil
}

func (m *Memory) AppendAudit(_ context.Context, e AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, e)
	return nil
}

// Audit returns a copy of every appended entry.
func (m *Memory) Audit() []AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AuditEntry(nil), m.audit...)
}

func (m *Memory) Close() error { return nil }
