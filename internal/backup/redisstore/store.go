// Package redisstore is a backup.Store on redis.
//
// Keys, under the configured prefix:
//
//	<prefix>reminders    hash  id -> JSON backup.Record
//	<prefix>order        zset  id scored by first-write sequence
//	<prefix>seq          counter feeding order
//	<prefix>subscribers  string JSON []int64
//	<prefix>chat_stats   hash  chat id -> JSON backup.ChatStat
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"remindbot/internal/backup"
	logx "remindbot/pkg/logx"
)

const defaultPrefix = "remindbot:"

type Store struct {
	rdb    *redis.Client
	prefix string
	owned  bool
	log    logx.Logger
}

// New dials cfg.RedisAddr and pings it.
func New(ctx context.Context, cfg backup.Config, log logx.Logger) (*Store, error) {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("redisstore: address required")
	}
	opts := &redis.Options{
		Addr:     addr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	if cfg.Timeout > 0 {
		opts.DialTimeout = cfg.Timeout
		opts.ReadTimeout = cfg.Timeout
		opts.WriteTimeout = cfg.Timeout
	}
	s := NewFromClient(redis.NewClient(opts), cfg.KeyPrefix, log)
	s.owned = true
	if err := s.Ping(ctx); err != nil {
		_ = s.rdb.Close()
		return nil, fmt.Errorf("redisstore: ping %s: %w", addr, err)
	}
	return s, nil
}

// NewFromClient wraps an existing client. Close leaves it open.
func NewFromClient(rdb *redis.Client, prefix string, log logx.Logger) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{rdb: rdb, prefix: prefix, log: log.With(logx.String("comp", "backup.redis"))}
}

func (s *Store) key(name string) string { return s.prefix + name }

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Upsert(ctx context.Context, rec backup.Record) error {
	if strings.TrimSpace(rec.ID) == "" {
		return errors.New("redisstore: record id required")
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	seq, err := s.rdb.Incr(ctx, s.key("seq")).Result()
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, s.key("reminders"), rec.ID, b)
		p.ZAddNX(ctx, s.key("order"), redis.Z{Score: float64(seq), Member: rec.ID})
		return nil
	})
	return err
}

func (s *Store) MarkDeleted(ctx context.Context, id string) error {
	raw, err := s.rdb.HGet(ctx, s.key("reminders"), id).Result()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %s", backup.ErrNotFound, id)
	}
	if err != nil {
		return err
	}
	var rec backup.Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return fmt.Errorf("redisstore: decode %s: %w", id, err)
	}
	rec.Status = backup.StatusDeleted
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.rdb.HSet(ctx, s.key("reminders"), id, b).Err()
}

// FetchAll returns rows in first-write order. Rows that fail to decode are
// logged and left out.
func (s *Store) FetchAll(ctx context.Context) ([]backup.Record, error) {
	ids, err := s.rdb.ZRange(ctx, s.key("order"), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	vals, err := s.rdb.HMGet(ctx, s.key("reminders"), ids...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]backup.Record, 0, len(vals))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var rec backup.Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			s.log.Warn("undecodable backup row skipped", logx.String("id", ids[i]), logx.Err(err))
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) FetchSubscribers(ctx context.Context) ([]int64, error) {
	raw, err := s.rdb.Get(ctx, s.key("subscribers")).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []int64
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("redisstore: decode subscribers: %w", err)
	}
	return ids, nil
}

func (s *Store) WriteSubscribers(ctx context.Context, ids []int64) error {
	if ids == nil {
		ids = []int64{}
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.key("subscribers"), b, 0).Err()
}

// FetchChatStats returns rows ordered by chat id.
func (s *Store) FetchChatStats(ctx context.Context) ([]backup.ChatStat, error) {
	vals, err := s.rdb.HGetAll(ctx, s.key("chat_stats")).Result()
	if err != nil {
		return nil, err
	}
	out := make([]backup.ChatStat, 0, len(vals))
	for id, raw := range vals {
		var st backup.ChatStat
		if err := json.Unmarshal([]byte(raw), &st); err != nil {
			s.log.Warn("undecodable chat stat skipped", logx.String("chat_id", id), logx.Err(err))
			continue
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out, nil
}

func (s *Store) UpsertChatStat(ctx context.Context, st backup.ChatStat) error {
	if st.ChatID == 0 {
		return errors.New("redisstore: chat id required")
	}
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return s.rdb.HSet(ctx, s.key("chat_stats"), strconv.FormatInt(st.ChatID, 10), b).Err()
}

func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.rdb.Close()
}
