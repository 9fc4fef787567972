package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"remindbot/internal/reminder"
	"remindbot/internal/timeconv"
	logx "remindbot/pkg/logx"
)

// fileStore keeps each document in its own file.
//
// Files:
//   - <prefix>.reminders.json   (JSON array, replaced atomically)
//   - <prefix>.subscribers.json (JSON array of chat ids, replaced atomically)
//   - <prefix>.audit.jsonl      (append-only JSON Lines)
type fileStore struct {
	log  logx.Logger
	conv *timeconv.Converter

	mu sync.Mutex

	remindersPath   string
	subscribersPath string
	auditFile       *os.File
}

func openFile(cfg Config, conv *timeconv.Converter, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = "./data/remindbot.json"
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	af, err := os.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &fileStore{
		log:             log,
		conv:            conv,
		remindersPath:   prefix + ".reminders.json",
		subscribersPath: prefix + ".subscribers.json",
		auditFile:       af,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return nil
	}
	err := s.auditFile.Close()
	s.auditFile = nil
	return err
}

// LoadReminders returns (nil, nil) for a missing or blank file.
func (s *fileStore) LoadReminders(ctx context.Context) ([]reminder.Reminder, error) {
	_ = ctx
	data, err := readDoc(s.remindersPath)
	if err != nil || data == nil {
		return nil, err
	}
	list, skipped, err := reminder.DecodeList(data, s.conv)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.remindersPath, err)
	}
	if skipped > 0 {
		s.log.Warn("skipped invalid reminder records", logx.Int("skipped", skipped), logx.String("path", s.remindersPath))
	}
	return list, nil
}

func (s *fileStore) SaveReminders(ctx context.Context, list []reminder.Reminder) error {
	_ = ctx
	data, err := reminder.EncodeList(list)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeFileAtomic(s.remindersPath, data)
}

func (s *fileStore) LoadSubscribers(ctx context.Context) ([]int64, error) {
	_ = ctx
	data, err := readDoc(s.subscribersPath)
	if err != nil || data == nil {
		return nil, err
	}
	var ids []int64
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.subscribersPath, err)
	}
	return ids, nil
}

func (s *fileStore) SaveSubscribers(ctx context.Context, ids []int64) error {
	_ = ctx
	if ids == nil {
		ids = []int64{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeFileAtomic(s.subscribersPath, data)
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

// readDoc returns nil data for a missing or whitespace-only file.
func readDoc(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	return data, nil
}

// writeFileAtomic writes to a sibling temp file and renames it over path, so
// readers see either the old or the new document.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return err
	}
	if err := os.Rename(name, path); err != nil {
		_ = os.Remove(name)
		return err
	}
	return nil
}
