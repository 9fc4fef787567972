package adapter

import (
	"context"
	"slices"

	tele "gopkg.in/telebot.v4"

	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

// Telegram caps the command menu.
const (
	maxMenuCommands   = 100
	maxMenuDescLength = 256
)

// UpdateMenuCommands sets the bot command menu. Telegram is called only
// when the list differs from the last one it accepted.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	list := menuList(cmds)

	a.menuMu.Lock()
	defer a.menuMu.Unlock()
	if a.menu != nil && slices.Equal(a.menu, list) {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.bot.SetCommands(list); err != nil {
		return err
	}
	a.menu = list
	a.log.Info("menu commands updated", logx.Int("count", len(list)))
	return nil
}

func menuList(cmds []kit.BotCommand) []tele.Command {
	list := make([]tele.Command, 0, min(len(cmds), maxMenuCommands))
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		desc := c.Description
		if desc == "" {
			desc = c.Command
		}
		if r := []rune(desc); len(r) > maxMenuDescLength {
			desc = string(r[:maxMenuDescLength])
		}
		list = append(list, tele.Command{Text: c.Command, Description: desc})
		if len(list) == maxMenuCommands {
			break
		}
	}
	return list
}
