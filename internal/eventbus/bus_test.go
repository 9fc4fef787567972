package eventbus

import (
	"testing"
	"time"
)

func TestPublishFansOutAndDropsWhenFull(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(4)
	defer unsubC()

	b.Publish(Event{Type: ReminderFired})
	b.Publish(Event{Type: ReminderRemoved}) // a is full; dropped for a only

	if e := <-a; e.Type != ReminderFired || e.Time.IsZero() {
		t.Fatalf("a got %+v, want %s with time set", e, ReminderFired)
	}
	select {
	case e := <-a:
		t.Fatalf("a got unexpected %+v", e)
	default:
	}
	if n := len(c); n != 2 {
		t.Fatalf("len(c) = %d, want 2", n)
	}

	unsubA()
	unsubA()
	if _, ok := <-a; ok {
		t.Fatal("channel a should be closed after unsubscribe")
	}
	b.Publish(Event{Type: SyncPush, Time: time.Unix(1, 0)})
}
