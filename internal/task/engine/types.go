package engine

import (
	"context"
	"strings"
	"time"
)

// Config sizes the queue that runs reminder firings and backup calls.
// Changes take effect on restart.
type Config struct {
	Enabled   bool
	Workers   int
	QueueSize int

	// DefaultTimeout bounds a task that sets no Timeout of its own.
	DefaultTimeout time.Duration
	// MaxQueueDelay drops a task that waited longer before a worker took it.
	// 0 keeps every task.
	MaxQueueDelay time.Duration

	// HistorySize is how many finished tasks Snapshot.Recent keeps.
	HistorySize int
}

func (c Config) normalized() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	return c
}

type OverlapPolicy int

const (
	OverlapAllow OverlapPolicy = iota
	// OverlapSkipIfRunning rejects a task while another with the same key is
	// queued or running, so a timer that ticks faster than delivery
	// completes never piles up firings.
	OverlapSkipIfRunning
)

// Task is one unit of work. Key groups tasks for overlap gating and
// defaults to Name.
type Task struct {
	ID      string
	Name    string
	Key     string
	Timeout time.Duration
	Overlap OverlapPolicy
	Run     func(ctx context.Context) error
}

func (t Task) gateKey() string {
	if k := strings.TrimSpace(t.Key); k != "" {
		return k
	}
	return t.Name
}

// Result of a task that left the queue.
type Result string

const (
	ResultDone      Result = "done"
	ResultFailed    Result = "failed"
	ResultPanic     Result = "panic"
	ResultStale     Result = "stale"
	ResultQueueFull Result = "queue_full"
)

// Outcome describes a finished or dropped task. It is the event payload
// of every task.* bus event.
type Outcome struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Result     Result        `json:"result"`
	At         time.Time     `json:"at"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Err        string        `json:"err,omitempty"`
}

type Snapshot struct {
	Enabled  bool
	Running  bool
	Workers  int
	QueueLen int
	QueueCap int
	InFlight int

	Completed    uint64
	Failed       uint64
	DroppedFull  uint64
	DroppedStale uint64

	DefaultTimeout time.Duration
	MaxQueueDelay  time.Duration

	// Recent is oldest first.
	Recent []Outcome
}

// LastFailure returns the newest failed or panicked outcome.
func (s Snapshot) LastFailure() (Outcome, bool) {
	for i := len(s.Recent) - 1; i >= 0; i-- {
		if r := s.Recent[i].Result; r == ResultFailed || r == ResultPanic {
			return s.Recent[i], true
		}
	}
	return Outcome{}, false
}
