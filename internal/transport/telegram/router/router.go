package router

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	rtsup "remindbot/internal/runtime/supervisor"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
	"remindbot/pkg/tgui"
)

type Option func(*Router)

// WithWorkers sets the number of concurrent handlers. Default 2.
func WithWorkers(n int) Option { return func(r *Router) { r.workers = max(1, n) } }

// WithTimeout sets the handler timeout for commands with none. Default 30s.
func WithTimeout(d time.Duration) Option { return func(r *Router) { r.timeout = d } }

// WithAdmins sets the users allowed to run AccessAdminOnly commands. An
// empty list admits everyone.
func WithAdmins(ids []int64) Option { return func(r *Router) { r.admins = slices.Clone(ids) } }

type Router struct {
	sender  Sender
	log     logx.Logger
	workers int
	timeout time.Duration

	mu     sync.RWMutex
	cmds   map[string]*Command
	order  []*Command
	admins []int64

	jobs chan func()
}

func New(sender Sender, log logx.Logger, opts ...Option) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{
		sender:  sender,
		log:     log,
		workers: 2,
		timeout: 30 * time.Second,
		cmds:    map[string]*Command{},
		jobs:    make(chan func(), 64),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register adds commands. Names and aliases are case-insensitive and must
// be unique.
func (r *Router) Register(cmds ...Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range cmds {
		c := cmds[i]
		if c.Handle == nil {
			return fmt.Errorf("command %q has no handler", c.Name)
		}
		names := append([]string{c.Name}, c.Aliases...)
		for _, n := range names {
			n = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(n), "/"))
			if n == "" {
				return errors.New("empty command name")
			}
			if _, dup := r.cmds[n]; dup {
				return fmt.Errorf("command %q registered twice", n)
			}
			r.cmds[n] = &c
		}
		r.order = append(r.order, &c)
	}
	return nil
}

func (r *Router) SetAdmins(ids []int64) {
	r.mu.Lock()
	r.admins = slices.Clone(ids)
	r.mu.Unlock()
}

// IsAdmin reports whether id may run admin-only commands.
func (r *Router) IsAdmin(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.admins) == 0 || slices.Contains(r.admins, id)
}

// MenuCommands lists registered commands in registration order.
func (r *Router) MenuCommands() []kit.BotCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]kit.BotCommand, 0, len(r.order))
	for _, c := range r.order {
		out = append(out, kit.BotCommand{Command: c.Name, Description: c.Description})
	}
	return out
}

// HelpText renders the command list as HTML. Admin-only commands are
// listed only when admins is true.
func (r *Router) HelpText(admins bool) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lines := make([]string, 0, len(r.order))
	for _, c := range r.order {
		if c.Access == AccessAdminOnly && !admins {
			continue
		}
		usage := "/" + c.Name
		if c.Usage != "" {
			usage += " " + c.Usage
		}
		lines = append(lines, tgui.Code(usage).String()+" - "+tgui.Esc(c.Description).String())
	}
	return strings.Join(lines, "\n")
}

// DispatchLoop routes updates to handlers until ctx ends or updates closes.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(r.log),
		rtsup.WithCancelOnError(false),
	)
	for i := 0; i < r.workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-r.jobs:
					func() {
						defer func() {
							if p := recover(); p != nil {
								r.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}
	r.log.Info("command dispatcher started", logx.Int("workers", r.workers))

	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Kind == kit.UpdateMessage && up.Message != nil {
				r.routeMessage(ctx, up)
			}
		}
	}
}

// parseCommand splits "/name@bot rest" into the lower-cased name and rest.
func parseCommand(text string) (name, rest string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	word := text[1:]
	if i := strings.IndexAny(word, " \t\n"); i >= 0 {
		word, rest = word[:i], word[i:]
	}
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	if word == "" {
		return "", "", false
	}
	return strings.ToLower(word), rest, true
}

func (r *Router) routeMessage(root context.Context, up kit.Update) {
	msg := up.Message
	name, rest, ok := parseCommand(msg.Text)
	if !ok {
		return
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	r.mu.RLock()
	cmd, found := r.cmds[name]
	r.mu.RUnlock()
	if !found {
		_, _ = r.sender.SendText(root, chat, "unknown command. try /help", nil)
		return
	}
	if cmd.Access == AccessAdminOnly && !r.IsAdmin(msg.FromID) {
		_, _ = r.sender.SendText(root, chat, "unauthorized", nil)
		return
	}

	rid := uuid.NewString()[:8]
	req := &Request{
		Update:    up,
		Chat:      chat,
		ChatTitle: msg.ChatTitle,
		FromID:    msg.FromID,
		Username:  msg.FromUsername,
		Command:   cmd.Name,
		Args:      strings.Fields(rest),
		Rest:      rest,
		ReqID:     rid,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
		sender: r.sender,
	}
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = r.timeout
	}
	final := Chain(cmd.Handle,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(timeout),
	)

	select {
	case r.jobs <- func() { _ = final(root, req) }:
	default:
		_, _ = r.sender.SendText(root, chat, "busy, try again", nil)
	}
}
