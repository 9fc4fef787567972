package syncer

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInitialized is returned by every operation when no backup is
	// configured or the backup did not answer at startup.
	ErrNotInitialized = errors.New("sync: backup not initialized")
	ErrSyncFailed     = errors.New("sync: retries exhausted")
)

// SyncFailedError is a remote call that stayed rate limited for every
// attempt. Local state is unaffected.
type SyncFailedError struct {
	Op       string
	ID       string
	Attempts int
	Err      error
}

func (e *SyncFailedError) Error() string {
	target := e.Op
	if e.ID != "" {
		target += " " + e.ID
	}
	return fmt.Sprintf("sync: %s failed after %d attempts: %v", target, e.Attempts, e.Err)
}

func (e *SyncFailedError) Unwrap() error { return e.Err }

func (e *SyncFailedError) Is(target error) bool { return target == ErrSyncFailed }
