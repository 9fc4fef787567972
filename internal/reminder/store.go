package reminder

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	logx "remindbot/pkg/logx"
)

// Persister is the durable backing of a Store. storage drivers implement it.
//
// LoadReminders returns (nil, nil) when nothing has been stored yet.
type Persister interface {
	LoadReminders(ctx context.Context) ([]Reminder, error)
	SaveReminders(ctx context.Context, list []Reminder) error
}

// PersistError reports a failed write. The in-memory state was still
// updated and stays authoritative.
type PersistError struct {
	Op  string
	Err error
}

func (e *PersistError) Error() string { return fmt.Sprintf("persist %s: %v", e.Op, e.Err) }
func (e *PersistError) Unwrap() error { return e.Err }

// IsPersistError reports whether err is a non-fatal write failure.
func IsPersistError(err error) bool {
	var pe *PersistError
	return errors.As(err, &pe)
}

// Store is the authoritative local reminder table. All mutations are
// serialized and persisted before they return.
type Store struct {
	mu    sync.Mutex
	p     Persister
	log   logx.Logger
	items []Reminder

	// highest id handed out or seen; ids are never reissued
	highWater int
}

func NewStore(p Persister, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{p: p, log: log}
}

// Load replaces the in-memory table with what the persister holds. A
// missing, empty or unreadable backing yields an empty table.
func (s *Store) Load(ctx context.Context) []Reminder {
	var list []Reminder
	if s.p != nil {
		got, err := s.p.LoadReminders(ctx)
		if err != nil {
			s.log.Warn("reminder table unreadable; starting empty", logx.Err(err))
		} else {
			list = got
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = dedupeByID(list)
	s.bumpLocked(s.items)
	return cloneList(s.items)
}

// Save overwrites the whole table.
func (s *Store) Save(ctx context.Context, list []Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = cloneList(list)
	s.bumpLocked(s.items)
	return s.persistLocked(ctx, "save")
}

// NextID reserves and returns max(numeric ids)+1. Non-numeric ids are
// ignored.
func (s *Store) NextID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bumpLocked(s.items)
	s.highWater++
	return strconv.Itoa(s.highWater)
}

func (s *Store) Append(ctx context.Context, r Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexLocked(r.ID) >= 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateID, r.ID)
	}
	s.items = append(s.items, r)
	s.bumpLocked([]Reminder{r})
	return s.persistLocked(ctx, "append")
}

// MarkSent stamps LastSent on the record currently stored under id and
// returns it. Other fields are left as they are now, not as the caller
// last saw them.
func (s *Store) MarkSent(ctx context.Context, id, at string) (Reminder, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return Reminder{}, false, nil
	}
	s.items[i].LastSent = at
	return s.items[i], true, s.persistLocked(ctx, "mark_sent")
}

// AddMissing appends the records whose id is not in the table yet and
// returns them. Nothing is written when every id is already present.
func (s *Store) AddMissing(ctx context.Context, list []Reminder) ([]Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var added []Reminder
	for _, r := range dedupeByID(list) {
		if s.indexLocked(r.ID) >= 0 {
			continue
		}
		s.items = append(s.items, r)
		added = append(added, r)
	}
	if len(added) == 0 {
		return nil, nil
	}
	s.bumpLocked(added)
	return added, s.persistLocked(ctx, "add_missing")
}

// Remove deletes id. The bool reports whether a record existed; when it did
// not, nothing is written.
func (s *Store) Remove(ctx context.Context, id string) (Reminder, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return Reminder{}, false, nil
	}
	r := s.items[i]
	s.items = append(s.items[:i:i], s.items[i+1:]...)
	return r, true, s.persistLocked(ctx, "remove")
}

func (s *Store) ReplaceAll(ctx context.Context, list []Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = dedupeByID(list)
	s.bumpLocked(s.items)
	return s.persistLocked(ctx, "replace")
}

func (s *Store) Get(id string) (Reminder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(id); i >= 0 {
		return s.items[i], true
	}
	return Reminder{}, false
}

// List returns a copy in store order.
func (s *Store) List() []Reminder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneList(s.items)
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *Store) indexLocked(id string) int {
	for i := range s.items {
		if s.items[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) bumpLocked(list []Reminder) {
	for _, r := range list {
		if n, ok := r.NumericID(); ok && n > s.highWater {
			s.highWater = n
		}
	}
}

func (s *Store) persistLocked(ctx context.Context, op string) error {
	if s.p == nil {
		return nil
	}
	if err := s.p.SaveReminders(ctx, cloneList(s.items)); err != nil {
		s.log.Error("reminder table write failed; keeping in-memory state", logx.String("op", op), logx.Err(err))
		return &PersistError{Op: op, Err: err}
	}
	return nil
}

func dedupeByID(list []Reminder) []Reminder {
	out := make([]Reminder, 0, len(list))
	seen := make(map[string]struct{}, len(list))
	for _, r := range list {
		if _, ok := seen[r.ID]; ok {
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, r)
	}
	return out
}
