package tgui

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// H is markup ready for Telegram's HTML parse mode.
type H string

func (h H) String() string { return string(h) }

// Esc escapes text for Telegram HTML parse mode.
func Esc(s string) H { return H(html.EscapeString(s)) }

// Raw marks a string as already-safe HTML.
// User-supplied reminder text goes through Raw because it is markup by contract.
func Raw(s string) H { return H(s) }

func wrap(tag string, inner H) H { return H("<" + tag + ">" + inner.String() + "</" + tag + ">") }

func B(s string) H    { return wrap("b", Esc(s)) }
func I(s string) H    { return wrap("i", Esc(s)) }
func Code(s string) H { return wrap("code", Esc(s)) }

// JoinH joins the non-blank parts with sep.
func JoinH(sep string, parts ...H) H {
	var b strings.Builder
	for _, p := range parts {
		if strings.TrimSpace(string(p)) == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(sep)
		}
		b.WriteString(string(p))
	}
	return H(b.String())
}

var (
	strict = bluemonday.StrictPolicy()

	// tags Telegram's HTML parse mode understands
	telegramTag = regexp.MustCompile(`(?i)</?(?:b|strong|i|em|u|ins|s|strike|del|code|pre|a|span|tg-spoiler|tg-emoji|blockquote)(?:\s[^<>]*)?>`)
	brackets    = strings.NewReplacer("<", "&lt;", ">", "&gt;")
)

// Plain strips Telegram's tags from markup and decodes entities. Any other
// angle bracket, like "x<y" or "<your name>", is kept as literal text.
func Plain(markup string) string {
	var b strings.Builder
	b.Grow(len(markup))
	last := 0
	for _, loc := range telegramTag.FindAllStringIndex(markup, -1) {
		b.WriteString(brackets.Replace(markup[last:loc[0]]))
		b.WriteString(markup[loc[0]:loc[1]])
		last = loc[1]
	}
	b.WriteString(brackets.Replace(markup[last:]))
	return html.UnescapeString(strict.Sanitize(b.String()))
}
