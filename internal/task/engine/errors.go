package engine

import "errors"

var (
	ErrDisabled    = errors.New("task engine disabled")
	ErrStopped     = errors.New("task engine not running")
	ErrStopping    = errors.New("task engine stopping")
	ErrQueueFull   = errors.New("task engine queue full")
	ErrOverlapSkip = errors.New("task skipped: same key queued or running")
)

// IsRejected reports whether err means the task never reached a worker.
func IsRejected(err error) bool {
	for _, target := range []error{ErrDisabled, ErrStopped, ErrStopping, ErrQueueFull, ErrOverlapSkip} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
