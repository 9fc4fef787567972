package storage

import (
	"context"
	"errors"
	"strings"

	"remindbot/internal/reminder"
	"remindbot/internal/timeconv"
	logx "remindbot/pkg/logx"
)

// Store is the persistence API used by the reminder stores and the
// delivery/audit paths.
type Store interface {
	reminder.Persister
	reminder.SubscriberPersister
	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// Open initializes the configured store. An empty driver means "file".
func Open(cfg Config, conv *timeconv.Converter, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}
	if conv == nil {
		conv = timeconv.Default()
	}

	switch driver {
	case "", "file":
		return openFile(cfg, conv, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, conv, log)
	case "none", "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
