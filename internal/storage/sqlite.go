//go:build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"remindbot/internal/reminder"
	"remindbot/internal/timeconv"
	logx "remindbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db   *sql.DB
	log  logx.Logger
	conv *timeconv.Converter
}

func openSQLite(cfg Config, conv *timeconv.Converter, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection: writes are already serialized by the reminder stores.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, conv: conv}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) LoadReminders(ctx context.Context) ([]reminder.Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, datetime, time, day, text, created_at, username, chat_id, chat_name, last_sent
		 FROM reminders ORDER BY pos`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []reminder.Reminder
	skipped := 0
	for rows.Next() {
		var rec reminder.Record
		var dt, tm, day, created, user, chat, chatName, last sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Type, &dt, &tm, &day, &rec.Text, &created, &user, &chat, &chatName, &last); err != nil {
			return nil, err
		}
		rec.DateTime, rec.Time, rec.Day = dt.String, tm.String, day.String
		rec.Created, rec.Username, rec.ChatName, rec.LastSent = created.String, user.String, chatName.String, last.String
		rec.SetChatID(chat.String)
		r, err := reminder.FromRecord(rec, s.conv)
		if err != nil {
			skipped++
			continue
		}
		out = append(out, r)
	}
	if skipped > 0 {
		s.log.Warn("skipped invalid reminder rows", logx.Int("skipped", skipped))
	}
	return out, rows.Err()
}

func (s *sqliteStore) SaveReminders(ctx context.Context, list []reminder.Reminder) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM reminders`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO reminders(id, pos, type, datetime, time, day, text, created_at, username, chat_id, chat_name, last_sent)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, r := range list {
		rec := r.ToRecord()
		if _, err := stmt.ExecContext(ctx, rec.ID, i, rec.Type, nullStr(rec.DateTime), nullStr(rec.Time), nullStr(rec.Day),
			rec.Text, nullStr(rec.Created), nullStr(rec.Username), nullStr(rec.ChatIDString()), nullStr(rec.ChatName), nullStr(rec.LastSent)); err != nil {
			return fmt.Errorf("insert reminder %s: %w", rec.ID, err)
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) LoadSubscribers(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT chat_id FROM subscribers ORDER BY chat_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *sqliteStore) SaveSubscribers(ctx context.Context, ids []int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM subscribers`); err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO subscribers(chat_id) VALUES(?)`, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, kind, action, reminder_id, chat_id, actor, status, detail)
		 VALUES(?,?,?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.Kind, e.Action, nullStr(e.ReminderID), e.ChatID,
		nullStr(e.Actor), nullStr(e.Status), nullStr(e.Detail),
	)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
