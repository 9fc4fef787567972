// Package eventbus is an in-process, non-blocking fan-out of small events.
package eventbus

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

type Event struct {
	Type string
	Time time.Time
	Data any
}

// Bus delivers each published event to every subscriber whose buffer has
// room. Publish never blocks; a slow subscriber misses events.
type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory bus. It owns no goroutines.
func New() Bus {
	b := &memBus{}
	b.subs.Store(&[]*subscriber{})
	return b
}

// Nop discards every event.
func Nop() Bus { return nopBus{} }

type nopBus struct{}

func (nopBus) Publish(Event) {}

func (nopBus) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}

type subscriber struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

func (s *subscriber) offer(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- e:
	default:
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// memBus keeps a copy-on-write subscriber list so Publish takes no bus lock.
type memBus struct {
	mu   sync.Mutex
	subs atomic.Pointer[[]*subscriber]
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	for _, s := range *b.subs.Load() {
		s.offer(e)
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &subscriber{ch: make(chan Event, buffer)}

	b.mu.Lock()
	next := append(slices.Clone(*b.subs.Load()), s)
	b.subs.Store(&next)
	b.mu.Unlock()

	return s.ch, func() {
		b.mu.Lock()
		cur := *b.subs.Load()
		if i := slices.Index(cur, s); i >= 0 {
			next := slices.Delete(slices.Clone(cur), i, i+1)
			b.subs.Store(&next)
		}
		b.mu.Unlock()
		s.close()
	}
}
