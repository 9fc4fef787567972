package adapter

import (
	"strings"
	"testing"

	tele "gopkg.in/telebot.v4"

	kit "remindbot/internal/transport"
)

func TestSplitTextShortPassesThrough(t *testing.T) {
	t.Parallel()
	got := splitText("hello", TextLimit, "")
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("splitText = %q", got)
	}
}

func TestSplitTextRespectsLimit(t *testing.T) {
	t.Parallel()
	line := strings.Repeat("я", 99) + "\n"
	s := strings.Repeat(line, 100) // 10000 runes
	chunks := splitText(s, TextLimit, "")
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(chunks))
	}
	total := 0
	for i, c := range chunks {
		n := len([]rune(c))
		if n > TextLimit {
			t.Fatalf("chunk %d has %d runes", i, n)
		}
		if strings.HasSuffix(c, "\n") {
			t.Fatalf("chunk %d ends with newline", i)
		}
		total += strings.Count(c, "я")
	}
	if total != 9900 {
		t.Fatalf("lost text: %d runes of content, want 9900", total)
	}
}

func TestSplitTextAvoidsCuttingTags(t *testing.T) {
	t.Parallel()
	s := strings.Repeat("a", 8) + "<b>bold</b>"
	chunks := splitText(s, 10, string(tele.ModeHTML))
	for _, c := range chunks {
		if strings.Count(c, "<") != strings.Count(c, ">") {
			t.Fatalf("chunk %q cuts a tag (all: %q)", c, chunks)
		}
	}
	if strings.Join(chunks, "") != s {
		t.Fatalf("joined chunks = %q, want %q", strings.Join(chunks, ""), s)
	}
}

func TestMessageUpdate(t *testing.T) {
	t.Parallel()
	up, ok := messageUpdate(&tele.Message{
		ID:       3,
		Text:     "/start",
		ThreadID: 9,
		Chat:     &tele.Chat{ID: -100, Type: tele.ChatSuperGroup, Title: "Ops"},
		Sender:   &tele.User{ID: 42, Username: "ann"},
	})
	if !ok {
		t.Fatal("messageUpdate dropped a text message")
	}
	m := up.Message
	if m.ChatID != -100 || m.ThreadID != 9 || m.FromID != 42 || m.FromUsername != "ann" || m.ChatTitle != "Ops" || !m.IsGroup || m.ChatType != "supergroup" {
		t.Fatalf("message = %+v", m)
	}

	up, ok = messageUpdate(&tele.Message{Text: "hi", Chat: &tele.Chat{ID: 5, Type: tele.ChatPrivate, FirstName: "Ann", LastName: "Lee"}})
	if !ok || up.Message.ChatTitle != "Ann Lee" || up.Message.IsGroup || up.Message.FromID != 0 || up.Message.ChatType != "private" {
		t.Fatalf("private message = %+v, %v", up.Message, ok)
	}

	for _, m := range []*tele.Message{nil, {Text: "x"}, {Chat: &tele.Chat{ID: 1}}} {
		if _, ok := messageUpdate(m); ok {
			t.Fatalf("messageUpdate(%+v) accepted", m)
		}
	}
}

func TestMenuList(t *testing.T) {
	t.Parallel()
	cmds := []kit.BotCommand{
		{Command: "start", Description: "subscribe"},
		{Command: ""},
		{Command: "list"},
		{Command: "long", Description: strings.Repeat("ж", 300)},
	}
	got := menuList(cmds)
	if len(got) != 3 {
		t.Fatalf("menuList = %+v", got)
	}
	if got[1].Description != "list" {
		t.Fatalf("empty description not defaulted: %+v", got[1])
	}
	if n := len([]rune(got[2].Description)); n != maxMenuDescLength {
		t.Fatalf("description has %d runes, want %d", n, maxMenuDescLength)
	}
}
