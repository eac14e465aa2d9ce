package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	kit "pullbot/internal/transport"
	"pullbot/pkg/tgui"
)

// Sender is the part of the chat adapter the chat sink needs.
type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

const (
	chatQueueSize   = 256
	chatSendTimeout = 10 * time.Second
	chatValueMax    = 600
	chatFieldsMax   = 3000
)

// chatSink is a zerolog.LevelWriter that hands entries to a background
// sender. Writes never block the logging call.
type chatSink struct {
	sender Sender
	queue  chan chatLine

	mu       sync.Mutex
	to       kit.ChatTarget
	minLevel zerolog.Level
	limiter  *rate.Limiter

	startOnce sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

type chatLine struct {
	to   kit.ChatTarget
	text tgui.H
}

func newChatSink(sender Sender) *chatSink {
	return &chatSink{sender: sender, queue: make(chan chatLine, chatQueueSize), minLevel: zerolog.WarnLevel}
}

func (c *chatSink) available() bool { return c.sender != nil }

func (c *chatSink) setTarget(chatID int64, threadID int) {
	c.mu.Lock()
	c.to.ChatID = chatID
	if threadID != 0 {
		c.to.ThreadID = threadID
	}
	c.mu.Unlock()
}

func (c *chatSink) configure(cfg ChatConfig) {
	rps := max(1, cfg.RatePerSec)
	c.mu.Lock()
	c.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	c.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	if cfg.ThreadID != 0 {
		c.to.ThreadID = cfg.ThreadID
	}
	missingTarget := c.to.ChatID == 0
	c.mu.Unlock()

	if !cfg.Enabled || c.sender == nil {
		return
	}
	if missingTarget {
		fmt.Fprintln(Stderr(), "logx: chat logging enabled but telegram.group_log is not set")
	}
	c.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		c.mu.Lock()
		c.cancel = cancel
		c.mu.Unlock()
		c.wg.Add(1)
		go c.run(ctx)
	})
}

func (c *chatSink) run(ctx context.Context) {
	defer c.wg.Done()
	opt := &kit.SendOptions{ParseMode: tgui.ParseMode, DisablePreview: true}
	for {
		select {
		case <-ctx.Done():
			return
		case l := <-c.queue:
			sctx, cancel := context.WithTimeout(ctx, chatSendTimeout)
			_, _ = c.sender.SendText(sctx, l.to, string(l.text), opt)
			cancel()
		}
	}
}

func (c *chatSink) close() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		c.wg.Wait()
	}
}

func (c *chatSink) Write(p []byte) (int, error) { return c.WriteLevel(zerolog.InfoLevel, p) }

func (c *chatSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	c.mu.Lock()
	to, minLevel, lim := c.to, c.minLevel, c.limiter
	c.mu.Unlock()

	if to.ChatID == 0 || level < minLevel || lim == nil || !lim.Allow() {
		return len(p), nil
	}
	select {
	case c.queue <- chatLine{to: to, text: chatHTML(p)}:
	default:
	}
	return len(p), nil
}

var levelIcons = map[string]string{
	"debug": "🐞",
	"info":  "ℹ️",
	"warn":  "⚠️",
	"error": "❌",
	"fatal": "❌",
	"panic": "❌",
}

// chatHTML renders one JSON entry as a bold headline plus a <pre> block of
// sorted key=value pairs. Anything that is not JSON is sent verbatim.
func chatHTML(p []byte) tgui.H {
	raw := strings.TrimSpace(string(p))
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return tgui.Pre(tgui.TruncRunes(raw, chatFieldsMax))
	}
	level, _ := m["level"].(string)
	msg, _ := m["message"].(string)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case "time", "level", "message":
		default:
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+tgui.TruncRunes(fmt.Sprint(m[k]), chatValueMax))
	}

	head := tgui.B(msg)
	if icon := levelIcons[level]; icon != "" {
		head = tgui.Concat(tgui.H(icon+" "), head)
	}
	if len(pairs) == 0 {
		return head
	}
	return tgui.Lines(head, tgui.Pre(tgui.TruncRunes(strings.Join(pairs, "\n"), chatFieldsMax)))
}
