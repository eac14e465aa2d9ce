package router

import (
	"sort"
	"strings"
	"unicode"

	kit "pullbot/internal/transport"
	"pullbot/pkg/tgui"
)

func (m *Router) helpText(args []string) tgui.H {
	m.mu.RLock()
	order := m.order
	m.mu.RUnlock()

	if len(args) > 0 {
		word := sanitizeCommand(strings.TrimPrefix(args[0], "/"))
		c, ok := m.lookup(word)
		if !ok {
			return unknownHTML(word)
		}
		return commandHTML(c)
	}

	rows := make([]string, 0, len(order))
	for _, c := range order {
		line := "/" + c.Name
		if c.Description != "" {
			line += " - " + c.Description
		}
		rows = append(rows, line)
	}
	sort.Strings(rows)
	return tgui.Card{
		Icon:   "📚",
		Title:  "Commands",
		Items:  rows,
		Footer: tgui.Concat(tgui.Esc("Type "), tgui.Code("/help <command>"), tgui.Esc(" for details.")),
	}.HTML()
}

func commandHTML(c *Command) tgui.H {
	card := tgui.Card{Icon: "📚", Title: "/" + c.Name}
	if c.Description != "" {
		card.Body = tgui.Esc(c.Description)
	}
	var items []string
	if c.Usage != "" {
		items = append(items, "usage: "+c.Usage)
	}
	if len(c.Aliases) > 0 {
		items = append(items, "aliases: /"+strings.Join(c.Aliases, ", /"))
	}
	card.Items = items
	return card.HTML()
}

func unknownHTML(word string) tgui.H {
	return tgui.Card{
		Icon:  "❓",
		Title: "Unknown command",
		Body:  tgui.Concat(tgui.Code("/"+word), tgui.Esc(" is not a command. Try "), tgui.Code("/help"), tgui.Esc(".")),
	}.HTML()
}

// sanitizeCommand converts a name into a Telegram-safe command: [a-z0-9_]{1,32}.
func sanitizeCommand(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	var b strings.Builder
	b.Grow(len(s))
	lastUnderscore := false
	for _, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastUnderscore = false
		case r == '_' || r == '-' || unicode.IsSpace(r):
			if b.Len() > 0 && !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if len(out) > 32 {
		out = strings.TrimRight(out[:32], "_")
	}
	return out
}

// buildMenu lists primary command names only; aliases stay hidden.
func buildMenu(cmds []*Command) []kit.BotCommand {
	out := make([]kit.BotCommand, 0, len(cmds))
	for _, c := range cmds {
		desc := strings.ReplaceAll(strings.TrimSpace(c.Description), "\n", " ")
		if desc == "" {
			desc = c.Name
		}
		out = append(out, kit.BotCommand{Command: c.Name, Description: desc})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Command < out[j].Command })
	if len(out) > 100 {
		out = out[:100]
	}
	return out
}
