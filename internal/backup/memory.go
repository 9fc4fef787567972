package backup

import (
	"context"
	"sort"
	"sync"
)

// Memory is a process-local Store. Fail, when set, is consulted before
// every call with the operation name and can inject errors.
type Memory struct {
	mu    sync.Mutex
	rows  []Record
	subs  []int64
	chats []ChatStat
	calls map[string]int

	Fail func(op string) error
}

func NewMemory() *Memory { return &Memory{calls: map[string]int{}} }

func (m *Memory) enter(op string) error {
	m.mu.Lock()
	m.calls[op]++
	fail := m.Fail
	m.mu.Unlock()
	if fail != nil {
		return fail(op)
	}
	return nil
}

// Calls reports how many times op was invoked, failed calls included.
func (m *Memory) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Seed replaces the stored rows and subscribers without counting calls.
func (m *Memory) Seed(rows []Record, subs []int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append([]Record(nil), rows...)
	m.subs = append([]int64(nil), subs...)
}

func (m *Memory) Upsert(_ context.Context, rec Record) error {
	if err := m.enter("upsert"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rows {
		if m.rows[i].ID == rec.ID {
			m.rows[i] = rec
			return nil
		}
	}
	m.rows = append(m.rows, rec)
	return nil
}

func (m *Memory) MarkDeleted(_ context.Context, id string) error {
	if err := m.enter("mark_deleted"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rows {
		if m.rows[i].ID == id {
			m.rows[i].Status = StatusDeleted
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) FetchAll(context.Context) ([]Record, error) {
	if err := m.enter("fetch_all"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.rows...), nil
}

func (m *Memory) FetchSubscribers(context.Context) ([]int64, error) {
	if err := m.enter("fetch_subscribers"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.subs...), nil
}

func (m *Memory) WriteSubscribers(_ context.Context, ids []int64) error {
	if err := m.enter("write_subscribers"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append([]int64(nil), ids...)
	sort.Slice(m.subs, func(i, j int) bool { return m.subs[i] < m.subs[j] })
	return nil
}

func (m *Memory) FetchChatStats(context.Context) ([]ChatStat, error) {
	if err := m.enter("fetch_chat_stats"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ChatStat(nil), m.chats...), nil
}

func (m *Memory) UpsertChatStat(_ context.Context, st ChatStat) error {
	if err := m.enter("upsert_chat_stat"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.chats {
		if m.chats[i].ChatID == st.ChatID {
			m.chats[i] = st
			return nil
		}
	}
	m.chats = append(m.chats, st)
	return nil
}

func (m *Memory) Ping(context.Context) error { return m.enter("ping") }

func (m *Memory) Close() error { return nil }
