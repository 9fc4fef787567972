package syncer

import (
	"context"
	"strconv"

	"remindbot/internal/backup"
	"remindbot/internal/eventbus"
	logx "remindbot/pkg/logx"
)

const statLayout = "2006-01-02 15:04:05"

// ChatSeen is what the bot learned about a chat from one interaction.
// Members 0 asks Deps.Members for the count.
type ChatSeen struct {
	ChatID  int64
	Name    string
	Type    string
	Members int
}

// PushChatStat upserts the chat's statistics row. FirstSeen and a known
// member count survive from the existing row; the reminder count is the
// number of local reminders created in the chat.
func (e *Engine) PushChatStat(ctx context.Context, seen ChatSeen) error {
	id := strconv.FormatInt(seen.ChatID, 10)
	var rows []backup.ChatStat
	err := e.call(ctx, "chat_stats", id, func(ctx context.Context) error {
		var err error
		rows, err = e.d.Backup.FetchChatStats(ctx)
		return err
	})
	if err != nil {
		e.publish(eventbus.SyncChats, "fetch", id, err)
		return err
	}

	if seen.Members <= 0 && e.d.Members != nil {
		n, err := e.d.Members.MemberCount(ctx, seen.ChatID)
		if err != nil {
			e.log.Debug("member count unavailable", logx.Int64("chat_id", seen.ChatID), logx.Err(err))
		}
		seen.Members = n
	}

	now := e.conv.Now().Format(statLayout)
	st := backup.ChatStat{ChatID: seen.ChatID, FirstSeen: now}
	for _, row := range rows {
		if row.ChatID == seen.ChatID {
			st = row
			break
		}
	}
	if seen.Name != "" {
		st.Name = seen.Name
	}
	if seen.Type != "" {
		st.Type = seen.Type
	}
	if seen.Members > 0 {
		st.Members = seen.Members
	}
	if st.FirstSeen == "" {
		st.FirstSeen = now
	}
	st.LastActivity = now
	st.Reminders = e.countChat(seen.ChatID)

	err = e.call(ctx, "chat_stats", id, func(ctx context.Context) error {
		return e.d.Backup.UpsertChatStat(ctx, st)
	})
	if err == nil {
		e.log.Debug("chat stats pushed", logx.Int64("chat_id", seen.ChatID), logx.Int("reminders", st.Reminders))
	}
	e.publish(eventbus.SyncChats, "upsert", id, err)
	return err
}

func (e *Engine) countChat(chatID int64) int {
	n := 0
	for _, r := range e.d.Reminders.List() {
		if r.ChatID == chatID {
			n++
		}
	}
	return n
}

func (e *Engine) SubmitChatStat(ctx context.Context, seen ChatSeen) error {
	return e.submit(ctx, "chat_stats", strconv.FormatInt(seen.ChatID, 10), func(ctx context.Context) error {
		return e.PushChatStat(ctx, seen)
	})
}
