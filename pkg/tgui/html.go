package tgui

import (
	"html"
	"strings"
)

// ParseMode is the Telegram parse mode matching the markup produced here.
const ParseMode = "HTML"

// H is already-escaped HTML.
type H string

func (h H) String() string { return string(h) }

func Esc(s string) H { return H(html.EscapeString(s)) }

func wrap(tag string, inner H) H { return H("<" + tag + ">" + string(inner) + "</" + tag + ">") }

func B(s string) H    { return wrap("b", Esc(s)) }
func I(s string) H    { return wrap("i", Esc(s)) }
func Code(s string) H { return wrap("code", Esc(s)) }

// Pre renders a preformatted block. Long input should be cut first; Telegram
// rejects a message whose tags are split across chunks.
func Pre(s string) H { return H("<pre>" + html.EscapeString(s) + "</pre>") }

// Concat joins parts without a separator.
func Concat(parts ...H) H {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(string(p))
	}
	return H(b.String())
}

// Lines joins non-blank parts with newlines.
func Lines(parts ...H) H {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(string(p)) == "" {
			continue
		}
		out = append(out, string(p))
	}
	return H(strings.Join(out, "\n"))
}

// Bullets renders items as a "•" list.
func Bullets(items ...string) H {
	out := make([]H, 0, len(items))
	for _, it := range items {
		out = append(out, Concat("• ", Esc(it)))
	}
	return Lines(out...)
}

// Card is a titled message.
type Card struct {
	Icon    string
	Title   string
	Body    H
	Section string
	Items   []string
	Footer  H
}

func (c Card) HTML() H {
	title := B(c.Title)
	if c.Icon != "" {
		title = Concat(Esc(c.Icon+" "), title)
	}
	parts := []H{title}
	if c.Body != "" {
		parts = append(parts, c.Body)
	}
	if len(c.Items) > 0 {
		parts = append(parts, "")
		if c.Section != "" {
			parts = append(parts, B(c.Section))
		}
		parts = append(parts, Bullets(c.Items...))
	}
	if c.Footer != "" {
		parts = append(parts, "", c.Footer)
	}
	return joinKeepingGaps(parts)
}

// joinKeepingGaps is Lines but keeps explicit "" separators as blank lines.
func joinKeepingGaps(parts []H) H {
	var b strings.Builder
	for i, p := range parts {
		if p == "" && (i == 0 || i == len(parts)-1) {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(string(p))
	}
	return H(b.String())
}
