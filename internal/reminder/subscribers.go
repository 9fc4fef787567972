package reminder

import (
	"context"
	"sort"
	"sync"

	logx "remindbot/pkg/logx"
)

// SubscriberPersister is the durable backing of Subscribers.
type SubscriberPersister interface {
	LoadSubscribers(ctx context.Context) ([]int64, error)
	SaveSubscribers(ctx context.Context, ids []int64) error
}

// Subscribers is the set of chats that receive every broadcast.
type Subscribers struct {
	mu  sync.Mutex
	p   SubscriberPersister
	log logx.Logger
	set map[int64]struct{}
}

func NewSubscribers(p SubscriberPersister, log logx.Logger) *Subscribers {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Subscribers{p: p, log: log, set: map[int64]struct{}{}}
}

// Load reads the persisted set; an unreadable backing yields an empty set.
func (s *Subscribers) Load(ctx context.Context) []int64 {
	var ids []int64
	if s.p != nil {
		got, err := s.p.LoadSubscribers(ctx)
		if err != nil {
			s.log.Warn("subscriber list unreadable; starting empty", logx.Err(err))
		} else {
			ids = got
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set = toSet(ids)
	return sortedKeys(s.set)
}

// Add subscribes a chat. added is false when it was already present, in
// which case nothing is written.
func (s *Subscribers) Add(ctx context.Context, id int64) (added bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.set[id]; ok {
		return false, nil
	}
	s.set[id] = struct{}{}
	return true, s.persistLocked(ctx, "add")
}

func (s *Subscribers) ReplaceAll(ctx context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set = toSet(ids)
	return s.persistLocked(ctx, "replace")
}

func (s *Subscribers) Contains(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.set[id]
	return ok
}

// Snapshot returns the members in ascending order.
func (s *Subscribers) Snapshot() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.set)
}

func (s *Subscribers) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.set)
}

func (s *Subscribers) persistLocked(ctx context.Context, op string) error {
	if s.p == nil {
		return nil
	}
	if err := s.p.SaveSubscribers(ctx, sortedKeys(s.set)); err != nil {
		s.log.Error("subscriber list write failed; keeping in-memory state", logx.String("op", op), logx.Err(err))
		return &PersistError{Op: "subscribers " + op, Err: err}
	}
	return nil
}

func toSet(ids []int64) map[int64]struct{} {
	m := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}

func sortedKeys(m map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SetDiff returns the members of next missing from prev (added) and the
// members of prev missing from next (removed), both sorted.
func SetDiff(prev, next []int64) (added, removed []int64) {
	ps, ns := toSet(prev), toSet(next)
	for id := range ns {
		if _, ok := ps[id]; !ok {
			added = append(added, id)
		}
	}
	for id := range ps {
		if _, ok := ns[id]; !ok {
			removed = append(removed, id)
		}
	}
	sort.Slice(added, func(i, j int) bool { return added[i] < added[j] })
	sort.Slice(removed, func(i, j int) bool { return removed[i] < removed[j] })
	return added, removed
}
