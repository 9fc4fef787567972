package router

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

type outbox struct {
	mu   sync.Mutex
	msgs []string
	got  chan struct{}
}

func newOutbox() *outbox { return &outbox{got: make(chan struct{}, 16)} }

func (o *outbox) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	o.mu.Lock()
	o.msgs = append(o.msgs, text)
	o.mu.Unlock()
	o.got <- struct{}{}
	return kit.MessageRef{}, nil
}

func (o *outbox) wait(t *testing.T) string {
	t.Helper()
	select {
	case <-o.got:
	case <-time.After(2 * time.Second):
		t.Fatal("no reply")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.msgs[len(o.msgs)-1]
}

func msg(from int64, text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: 10, FromID: from, Text: text}}
}

func TestParseCommand(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in, name, rest string
		ok             bool
	}{
		{"/start", "start", "", true},
		{"/Remind@ReminderBot 2030-01-01 10:00 hi", "remind", " 2030-01-01 10:00 hi", true},
		{"  /del 3", "del", " 3", true},
		{"/daily\n09:00 Standup", "daily", "\n09:00 Standup", true},
		{"hello", "", "", false},
		{"/", "", "", false},
		{"/@bot", "", "", false},
	}
	for _, tt := range tests {
		name, rest, ok := parseCommand(tt.in)
		if name != tt.name || rest != tt.rest || ok != tt.ok {
			t.Fatalf("parseCommand(%q) = %q, %q, %v", tt.in, name, rest, ok)
		}
	}
}

func TestTail(t *testing.T) {
	t.Parallel()
	r := &Request{Rest: " 2030-01-01 10:00 Launch  the\nrocket "}
	if got := r.Tail(2); got != "Launch  the\nrocket" {
		t.Fatalf("Tail(2) = %q", got)
	}
	if got := r.Tail(0); got != "2030-01-01 10:00 Launch  the\nrocket" {
		t.Fatalf("Tail(0) = %q", got)
	}
	if got := r.Tail(9); got != "" {
		t.Fatalf("Tail(9) = %q", got)
	}
}

func TestDispatchRoutesAndGates(t *testing.T) {
	t.Parallel()
	out := newOutbox()
	r := New(out, logx.Nop(), WithAdmins([]int64{1}))
	err := r.Register(
		Command{Name: "echo", Aliases: []string{"say"}, Description: "repeat", Handle: func(ctx context.Context, req *Request) error {
			return req.ReplyPlain(ctx, "echo:"+req.Tail(0))
		}},
		Command{Name: "clear", Access: AccessAdminOnly, Description: "wipe", Handle: func(ctx context.Context, req *Request) error {
			return req.ReplyPlain(ctx, "cleared")
		}},
		Command{Name: "boom", Handle: func(context.Context, *Request) error { panic("boom") }},
	)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(Command{Name: "SAY", Handle: func(context.Context, *Request) error { return nil }}); err == nil {
		t.Fatal("duplicate alias accepted")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates := make(chan kit.Update, 8)
	done := make(chan error, 1)
	go func() { done <- r.DispatchLoop(ctx, updates) }()

	updates <- msg(2, "/say hi there")
	if got := out.wait(t); got != "echo:hi there" {
		t.Fatalf("reply = %q", got)
	}
	updates <- msg(2, "/clear")
	if got := out.wait(t); got != "unauthorized" {
		t.Fatalf("non-admin reply = %q", got)
	}
	updates <- msg(1, "/clear")
	if got := out.wait(t); got != "cleared" {
		t.Fatalf("admin reply = %q", got)
	}
	updates <- msg(1, "/nope")
	if got := out.wait(t); !strings.HasPrefix(got, "unknown command") {
		t.Fatalf("unknown reply = %q", got)
	}

	// a panicking handler answers and does not take the worker down
	updates <- msg(1, "/boom")
	if got := out.wait(t); !strings.HasPrefix(got, "internal error") {
		t.Fatalf("panic reply = %q", got)
	}
	updates <- msg(1, "/echo still alive")
	if got := out.wait(t); got != "echo:still alive" {
		t.Fatalf("reply after panic = %q", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("DispatchLoop: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("DispatchLoop did not stop")
	}
}

func TestHelpAndMenu(t *testing.T) {
	t.Parallel()
	r := New(newOutbox(), logx.Nop())
	noop := func(context.Context, *Request) error { return nil }
	_ = r.Register(
		Command{Name: "daily", Usage: "HH:MM text", Description: "every day", Handle: noop},
		Command{Name: "clear", Access: AccessAdminOnly, Description: "wipe <all>", Handle: noop},
	)
	if got := r.HelpText(false); got != "<code>/daily HH:MM text</code> - every day" {
		t.Fatalf("HelpText(false) = %q", got)
	}
	if got := r.HelpText(true); !strings.Contains(got, "wipe &lt;all&gt;") {
		t.Fatalf("HelpText(true) = %q", got)
	}
	menu := r.MenuCommands()
	if len(menu) != 2 || menu[0].Command != "daily" || menu[1].Command != "clear" {
		t.Fatalf("MenuCommands = %+v", menu)
	}
}

func TestChainOrder(t *testing.T) {
	t.Parallel()
	var trace []string
	mark := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *Request) error {
				trace = append(trace, name)
				return next(ctx, req)
			}
		}
	}
	h := Chain(func(context.Context, *Request) error { trace = append(trace, "handler"); return nil }, mark("outer"), mark("inner"))
	if err := h(context.Background(), &Request{}); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if got := strings.Join(trace, ","); got != "outer,inner,handler" {
		t.Fatalf("order = %s", got)
	}
}

func TestTimeoutMiddleware(t *testing.T) {
	t.Parallel()
	h := Chain(func(ctx context.Context, _ *Request) error {
		<-ctx.Done()
		return ctx.Err()
	}, MWTimeout(10*time.Millisecond))
	if err := h(context.Background(), &Request{}); err != context.DeadlineExceeded {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}
