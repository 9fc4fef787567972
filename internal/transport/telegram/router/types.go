// Package router turns chat messages into command handler calls.
package router

import (
	"context"
	"strings"
	"time"

	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessAdminOnly
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Command struct {
	Name        string   // without the leading slash
	Aliases     []string // extra names, e.g. ["delete"] for "del"
	Usage       string
	Description string
	Access      Access
	Timeout     time.Duration // 0 uses the router default
	Handle      HandlerFunc
}

// Sender is the outbound half of a transport adapter.
type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

type Request struct {
	Update    kit.Update
	Chat      kit.ChatTarget
	ChatTitle string
	FromID    int64
	Username  string
	Command   string
	Args      []string
	Rest      string // text after the command word, untouched
	ReqID     string
	Logger    logx.Logger

	sender Sender
}

// Reply sends HTML markup to the request's chat.
func (r *Request) Reply(ctx context.Context, markup string) error {
	_, err := r.sender.SendText(ctx, r.Chat, markup, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	return err
}

// ReplyPlain sends text with no markup parsing.
func (r *Request) ReplyPlain(ctx context.Context, text string) error {
	_, err := r.sender.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true})
	return err
}

// Tail returns Rest with the first n whitespace-separated words removed,
// keeping the remaining text's own spacing and newlines.
func (r *Request) Tail(n int) string {
	s := strings.TrimLeft(r.Rest, " \t\n")
	for i := 0; i < n && s != ""; i++ {
		j := strings.IndexAny(s, " \t\n")
		if j < 0 {
			return ""
		}
		s = strings.TrimLeft(s[j:], " \t\n")
	}
	return strings.TrimSpace(s)
}
