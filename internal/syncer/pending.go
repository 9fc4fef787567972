package syncer

import "sync"

// tombstones are ids deleted locally whose backup row may still read
// Active. Auto-sync must not bring them back; it retries the delete
// instead.
type tombstones struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func (t *tombstones) add(ids ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ids == nil {
		t.ids = make(map[string]struct{}, len(ids))
	}
	for _, id := range ids {
		t.ids[id] = struct{}{}
	}
}

func (t *tombstones) drop(id string) {
	t.mu.Lock()
	delete(t.ids, id)
	t.mu.Unlock()
}

func (t *tombstones) has(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.ids[id]
	return ok
}

func (t *tombstones) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ids)
}
