// Package httpstore is a backup.Store over a REST key/value table service.
//
// Endpoints, relative to the base URL:
//
//	GET  /ping
//	GET  /tables/reminders/rows             -> []backup.Record
//	PUT  /tables/reminders/rows/{id}        <- backup.Record
//	POST /tables/reminders/rows/{id}/delete
//	GET  /tables/subscribers                -> {"chat_ids": [...]}
//	PUT  /tables/subscribers                <- {"chat_ids": [...]}
//	GET  /tables/chat_stats/rows            -> []backup.ChatStat
//	PUT  /tables/chat_stats/rows/{chat_id}  <- backup.ChatStat
package httpstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"remindbot/internal/backup"
	logx "remindbot/pkg/logx"
)

const maxBody = 4 << 20

type Client struct {
	base    *url.URL
	token   string
	client  *http.Client
	limiter *rate.Limiter
	log     logx.Logger
}

func New(cfg backup.Config, log logx.Logger) (*Client, error) {
	raw := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if raw == "" {
		return nil, errors.New("httpstore: url required")
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("httpstore: bad url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("httpstore: unsupported scheme %q", base.Scheme)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rpm := cfg.RequestsPerMin
	if rpm <= 0 {
		rpm = 60
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		base:    base,
		token:   strings.TrimSpace(cfg.Token),
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60), max(1, rpm/10)),
		log:     log.With(logx.String("comp", "backup.http")),
	}, nil
}

type subscribersDoc struct {
	ChatIDs []int64 `json:"chat_ids"`
}

func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/ping", nil, nil)
}

func (c *Client) Upsert(ctx context.Context, rec backup.Record) error {
	if strings.TrimSpace(rec.ID) == "" {
		return errors.New("httpstore: record id required")
	}
	return c.do(ctx, http.MethodPut, "/tables/reminders/rows/"+url.PathEscape(rec.ID), rec, nil)
}

func (c *Client) MarkDeleted(ctx context.Context, id string) error {
	err := c.do(ctx, http.MethodPost, "/tables/reminders/rows/"+url.PathEscape(id)+"/delete", nil, nil)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return fmt.Errorf("%w: %s", backup.ErrNotFound, id)
	}
	return err
}

func (c *Client) FetchAll(ctx context.Context) ([]backup.Record, error) {
	var out []backup.Record
	if err := c.do(ctx, http.MethodGet, "/tables/reminders/rows", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) FetchSubscribers(ctx context.Context) ([]int64, error) {
	var doc subscribersDoc
	if err := c.do(ctx, http.MethodGet, "/tables/subscribers", nil, &doc); err != nil {
		return nil, err
	}
	return doc.ChatIDs, nil
}

func (c *Client) WriteSubscribers(ctx context.Context, ids []int64) error {
	if ids == nil {
		ids = []int64{}
	}
	return c.do(ctx, http.MethodPut, "/tables/subscribers", subscribersDoc{ChatIDs: ids}, nil)
}

func (c *Client) FetchChatStats(ctx context.Context) ([]backup.ChatStat, error) {
	var out []backup.ChatStat
	if err := c.do(ctx, http.MethodGet, "/tables/chat_stats/rows", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) UpsertChatStat(ctx context.Context, st backup.ChatStat) error {
	if st.ChatID == 0 {
		return errors.New("httpstore: chat id required")
	}
	return c.do(ctx, http.MethodPut, "/tables/chat_stats/rows/"+strconv.FormatInt(st.ChatID, 10), st, nil)
}

func (c *Client) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// StatusError is a non-2xx, non-429 response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("httpstore: unexpected status %d body=%q", e.Code, e.Body)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return err
	}
	reqID := uuid.NewString()
	req.Header.Set("X-Request-ID", reqID)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxBody))

	c.log.Debug("backup request",
		logx.String("method", method),
		logx.String("path", path),
		logx.Int("status", resp.StatusCode),
		logx.String("request_id", reqID),
		logx.Duration("dur", time.Since(start)),
	)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &backup.RateLimitedError{
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
			Err:        fmt.Errorf("%s %s", method, path),
		}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return &StatusError{Code: resp.StatusCode, Body: truncate(string(data), 256)}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("httpstore: decode %s: %w body=%q", path, err, truncate(string(data), 256))
	}
	return nil
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if n, err := strconv.Atoi(v); err == nil {
		return max(time.Duration(n)*time.Second, 0)
	}
	if t, err := http.ParseTime(v); err == nil {
		return max(t.Sub(now), 0)
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
