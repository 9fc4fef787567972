// Package adapter connects the bot to Telegram over telebot long polling.
package adapter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "remindbot/internal/runtime/supervisor"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

// Adapter is the Telegram side of the bot: it feeds inbound text messages
// to a channel and sends replies and broadcasts.
type Adapter struct {
	log logx.Logger
	bot *tele.Bot

	mu  sync.Mutex
	out chan<- kit.Update
	sup *rtsup.Supervisor

	dropped  atomic.Uint64
	dropWarn atomic.Int64

	menuMu sync.Mutex
	menu   []tele.Command
}

// dropWarnEvery bounds how often a full update channel is reported.
const dropWarnEvery = 5 * time.Second

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	poll := cfg.PollTimeout
	if poll <= 0 {
		poll = 10 * time.Second
	}
	a := &Adapter{log: log}
	bot, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Poller:  &tele.LongPoller{Timeout: poll},
		OnError: func(err error, _ tele.Context) { a.log.Warn("telebot error", logx.Err(err)) },
	})
	if err != nil {
		return nil, err
	}
	a.bot = bot
	bot.Handle(tele.OnText, func(c tele.Context) error {
		if up, ok := messageUpdate(c.Message()); ok {
			a.forward(up)
		}
		return nil
	})
	return a, nil
}

// messageUpdate converts a telebot message. Messages without a chat or
// text are dropped.
func messageUpdate(m *tele.Message) (kit.Update, bool) {
	if m == nil || m.Chat == nil || strings.TrimSpace(m.Text) == "" {
		return kit.Update{}, false
	}
	title := m.Chat.Title
	if title == "" {
		title = strings.TrimSpace(m.Chat.FirstName + " " + m.Chat.LastName)
	}
	msg := &kit.Message{
		ID:        m.ID,
		ChatID:    m.Chat.ID,
		ThreadID:  m.ThreadID,
		ChatTitle: title,
		Text:      m.Text,
		IsGroup:   m.Chat.Type == tele.ChatGroup || m.Chat.Type == tele.ChatSuperGroup,
		ChatType:  string(m.Chat.Type),
	}
	if u := m.Sender; u != nil {
		msg.FromID, msg.FromUsername = u.ID, u.Username
	}
	return kit.Update{Kind: kit.UpdateMessage, Message: msg}, true
}

// forward hands up to the router without blocking the poller.
func (a *Adapter) forward(up kit.Update) {
	a.mu.Lock()
	out := a.out
	a.mu.Unlock()
	if out == nil {
		return
	}
	select {
	case out <- up:
		return
	default:
	}
	n := a.dropped.Add(1)
	now := time.Now().UnixNano()
	if last := a.dropWarn.Load(); now-last >= int64(dropWarnEvery) && a.dropWarn.CompareAndSwap(last, now) {
		a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("total", n), logx.Int("chan_cap", cap(out)))
	}
}

// MemberCount asks Telegram how many members chatID has.
func (a *Adapter) MemberCount(_ context.Context, chatID int64) (int, error) {
	return a.bot.Len(&tele.Chat{ID: chatID})
}

// Start begins long polling into out. A second call is a no-op.
func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sup != nil {
		return nil
	}
	a.out = out
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log))

	a.sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})
	// bot.Start blocks until bot.Stop; returning early means the poller died
	a.sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		if c.Err() != nil {
			return nil
		}
		return errors.New("poller exited")
	}, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
	return nil
}

// Stop ends polling. A getUpdates call in flight is abandoned after a
// short grace so it cannot hold shutdown.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	sup := a.sup
	a.sup, a.out = nil, nil
	a.mu.Unlock()
	if sup == nil {
		return nil
	}
	sup.Cancel()

	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sup.Wait(wctx); errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		a.log.Warn("telegram stop timed out", logx.Err(err))
	}
	if n := a.dropped.Swap(0); n > 0 {
		a.log.Warn("updates dropped while running", logx.Uint64("count", n))
	}
	return nil
}
