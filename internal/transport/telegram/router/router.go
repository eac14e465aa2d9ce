package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "pullbot/internal/runtime/supervisor"
	kit "pullbot/internal/transport"
	logx "pullbot/pkg/logx"
	"pullbot/pkg/tgui"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	// BoolFlags never take the following token as a value.
	BoolFlags []string
	// Timeout bounds the handler. Zero means no limit.
	Timeout time.Duration
	// Detached commands run in their own goroutine instead of on the worker
	// pool, so a slow handler never holds a worker that cheap commands need.
	Detached bool
	Handle   HandlerFunc
}

type Request struct {
	Update  kit.Update
	Message *kit.Message
	Chat    kit.ChatTarget
	FromID  int64
	Private bool
	Command string

	// Args are the positionals after flags were removed.
	Args      []string
	RawArgs   []string
	Flags     map[string]string
	BoolFlags map[string]bool
	ReqID     string

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Reply sends HTML text to the chat the command came from.
func (r *Request) Reply(ctx context.Context, text tgui.H) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, string(text), &kit.SendOptions{ParseMode: tgui.ParseMode, DisablePreview: true})
	return err
}

type Options struct {
	// Workers defaults to NumCPU (at least 2).
	Workers  int
	QueueCap int
	// MaxDetached caps concurrently running detached handlers (default 256).
	MaxDetached int
}

type Router struct {
	log     logx.Logger
	adapter kit.Adapter
	opt     Options

	mu    sync.RWMutex
	cmds  map[string]*Command
	order []*Command

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	jobs     chan func()
	detached chan struct{}
}

func New(log logx.Logger, adapter kit.Adapter, opt Options) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opt.Workers <= 0 {
		opt.Workers = max(runtime.NumCPU(), 2)
	}
	if opt.QueueCap <= 0 {
		opt.QueueCap = 256
	}
	if opt.MaxDetached <= 0 {
		opt.MaxDetached = 256
	}
	return &Router{
		log:      log,
		adapter:  adapter,
		opt:      opt,
		cmds:     map[string]*Command{},
		jobs:     make(chan func(), opt.QueueCap),
		detached: make(chan struct{}, opt.MaxDetached),
	}
}

// Supervisor returns the worker pool supervisor (nil if not running).
func (m *Router) Supervisor() *rtsup.Supervisor {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return nil
	}
	return m.sup
}

func (m *Router) setSupervisor(sup *rtsup.Supervisor, running bool) {
	m.runMu.Lock()
	m.sup = sup
	m.running = running
	m.runMu.Unlock()
}

// SetCommands replaces the registry. /help is always added. The platform
// command menu is refreshed in the background when the adapter supports it.
func (m *Router) SetCommands(ctx context.Context, cmds []Command) {
	cmds = append(cmds, Command{
		Name:        "help",
		Aliases:     []string{"h", "start"},
		Description: "show available commands",
		Usage:       "/help [command]",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, m.helpText(req.Args))
		},
	})

	byName := map[string]*Command{}
	order := make([]*Command, 0, len(cmds))
	for i := range cmds {
		c := &cmds[i]
		name := sanitizeCommand(c.Name)
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		byName[name] = c
		order = append(order, c)
		for _, a := range c.Aliases {
			if a = sanitizeCommand(a); a != "" {
				if _, taken := byName[a]; !taken {
					byName[a] = c
				}
			}
		}
	}

	m.mu.Lock()
	m.cmds = byName
	m.order = order
	m.mu.Unlock()

	if up, ok := m.adapter.(kit.CommandMenuUpdater); ok {
		menu := buildMenu(order)
		go func() {
			cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(cctx, menu); err != nil {
				m.log.Warn("menu update failed", logx.Err(err))
			}
		}()
	}
}

func (m *Router) lookup(word string) (*Command, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cmds[word]
	return c, ok
}

// tryEnqueue tolerates the jobs channel being closed.
func (m *Router) tryEnqueue(fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// DispatchLoop consumes updates until ctx is done or updates is closed.
// Handlers run on a bounded worker pool; detached commands get their own
// supervised goroutine.
func (m *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(m.log),
		rtsup.WithCancelOnError(false),
	)
	m.setSupervisor(sup, true)
	m.log.Info("command dispatcher started", logx.Int("workers", m.opt.Workers), logx.Int("job_queue_cap", cap(m.jobs)))

	for i := 0; i < m.opt.Workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-m.jobs:
					if !ok {
						return nil
					}
					m.runJob(idx, job)
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
		)
	}

	defer func() {
		m.setSupervisor(sup, false)
		close(m.jobs)
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.setSupervisor(nil, false)
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Kind == kit.UpdateMessage {
				m.route(ctx, up)
			}
		}
	}
}

func (m *Router) runJob(worker int, job func()) {
	// Middleware already recovers; this keeps the worker alive regardless.
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

func (m *Router) route(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	word, raw, ok := splitCommand(msg.Text)
	if !ok {
		return
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	cmd, ok := m.lookup(word)
	if !ok {
		// Group chats see every bot's commands; stay quiet there.
		if msg.IsPrivate {
			_, _ = m.adapter.SendText(ctx, chat, string(unknownHTML(word)), &kit.SendOptions{ParseMode: tgui.ParseMode})
		}
		return
	}

	pos, flags, bools := parseFlags(raw, cmd.BoolFlags...)
	rid := newReqID()
	req := &Request{
		Update:    up,
		Message:   msg,
		Chat:      chat,
		FromID:    msg.FromID,
		Private:   msg.IsPrivate,
		Command:   cmd.Name,
		Args:      pos,
		RawArgs:   raw,
		Flags:     flags,
		BoolFlags: bools,
		ReqID:     rid,
		Adapter:   m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
	}

	final := Chain(
		cmd.Handle,
		MWReplyOnError(),
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWTimeout(cmd.Timeout),
	)
	if cmd.Detached {
		if !m.goDetached(cmd.Name, req, final) {
			_, _ = m.adapter.SendText(ctx, chat, "busy, try again", nil)
		}
		return
	}
	if !m.tryEnqueue(func() { _ = final(ctx, req) }) {
		_, _ = m.adapter.SendText(ctx, chat, "busy, try again", nil)
	}
}

// goDetached starts h for req under the dispatcher's supervisor. It reports
// false when the dispatcher is not running or MaxDetached handlers are busy.
func (m *Router) goDetached(name string, req *Request, h HandlerFunc) bool {
	sup := m.Supervisor()
	if sup == nil {
		return false
	}
	select {
	case m.detached <- struct{}{}:
	default:
		return false
	}
	sup.Go0("command."+name, func(c context.Context) {
		defer func() { <-m.detached }()
		_ = h(c, req)
	})
	return true
}

// splitCommand extracts the command word (without "/" and "@botname") and its raw arguments.
func splitCommand(text string) (word string, args []string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	parts := tokenizeCommandLine(text)
	if len(parts) == 0 {
		return "", nil, false
	}
	word = strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	if word == "" {
		return "", nil, false
	}
	return word, parts[1:], true
}
