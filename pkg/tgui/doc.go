// Package tgui renders small Telegram HTML messages.
//
// Everything that goes through Esc or the tag helpers is safe to send with
// ParseMode "HTML". Card is the one layout the bot uses: a title line, a body
// and an optional titled list.
package tgui
