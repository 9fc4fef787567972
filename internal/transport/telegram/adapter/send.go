package adapter

import (
	"context"
	"errors"
	"strings"

	tele "gopkg.in/telebot.v4"

	kit "remindbot/internal/transport"
)

// TextLimit is Telegram's per-message length limit in characters.
const TextLimit = 4096

// SendText sends text, split into as many messages as the length limit
// needs, and returns the first one.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	var o kit.SendOptions
	if opt != nil {
		o = *opt
	}
	parts := splitText(text, TextLimit, o.ParseMode)
	if len(parts) == 0 {
		return kit.MessageRef{}, errors.New("telegram: empty message")
	}
	chat := &tele.Chat{ID: to.ChatID}
	send := &tele.SendOptions{ParseMode: tele.ParseMode(o.ParseMode), DisableWebPagePreview: o.DisablePreview, ThreadID: to.ThreadID}

	var first kit.MessageRef
	for i, part := range parts {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		m, err := a.bot.Send(chat, part, send)
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: m.ID}
		}
	}
	return first, nil
}

// Deliver sends HTML markup. Telegram rejects malformed markup; callers
// fall back to SendPlain.
func (a *Adapter) Deliver(ctx context.Context, chatID int64, markup string) error {
	_, err := a.SendText(ctx, kit.ChatTarget{ChatID: chatID}, markup, &kit.SendOptions{ParseMode: string(tele.ModeHTML), DisablePreview: true})
	return err
}

func (a *Adapter) SendPlain(ctx context.Context, chatID int64, text string) error {
	_, err := a.SendText(ctx, kit.ChatTarget{ChatID: chatID}, text, &kit.SendOptions{DisablePreview: true})
	return err
}

// splitText cuts s into pieces of at most limit runes. It prefers to cut
// after a newline in the last two thirds of a piece and, for HTML, never
// inside a tag. Newlines at a cut are dropped.
func splitText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = TextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	html := strings.EqualFold(parseMode, string(tele.ModeHTML))

	var out []string
	for len(rs) > 0 {
		n := len(rs)
		if n > limit {
			n = cutPoint(rs[:limit], html)
		}
		if piece := strings.TrimRight(string(rs[:n]), "\n"); piece != "" {
			out = append(out, piece)
		}
		rs = rs[n:]
		for len(rs) > 0 && rs[0] == '\n' {
			rs = rs[1:]
		}
	}
	return out
}

// cutPoint picks where to end a piece whose runes are window.
func cutPoint(window []rune, html bool) int {
	n := len(window)
	for i := n - 1; i >= n/3 && i > 0; i-- {
		if window[i] == '\n' {
			n = i + 1
			break
		}
	}
	if html {
		open := lastIndex(window[:n], '<')
		if open > 0 && open > lastIndex(window[:n], '>') {
			n = open
		}
	}
	return n
}

func lastIndex(rs []rune, r rune) int {
	for i := len(rs) - 1; i >= 0; i-- {
		if rs[i] == r {
			return i
		}
	}
	return -1
}
