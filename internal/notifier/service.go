package notifier

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"pullbot/internal/eventbus"
	"pullbot/internal/media"
	"pullbot/internal/pull"
	kit "pullbot/internal/transport"
	logx "pullbot/pkg/logx"
	"pullbot/pkg/tgui"
)

const (
	DefaultRatePerSec  = 20
	DefaultCallTimeout = 30 * time.Second

	TypeSent   = "notifier.sent"
	TypeFailed = "notifier.failed"
)

var ErrNoAdapter = errors.New("notifier: no adapter")

type Config struct {
	RatePerSec int
	// CallTimeout bounds each adapter call. File uploads share it.
	CallTimeout time.Duration
	// Cooldown is shown in cooldown notices.
	Cooldown time.Duration
}

// Event is published on the bus for every outbound message.
type Event struct {
	Outcome string    `json:"outcome"`
	ChatID  int64     `json:"chat_id"`
	At      time.Time `json:"at"`
	Error   string    `json:"error,omitempty"`
}

type Service struct {
	adapter kit.Adapter
	cfg     Config
	limiter *rate.Limiter
	bus     eventbus.Bus
	log     logx.Logger
}

func New(cfg Config, adapter kit.Adapter, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = DefaultRatePerSec
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	return &Service{
		adapter: adapter,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		bus:     bus,
		log:     log,
	}
}

// Origin identifies where a command came from.
type Origin struct {
	Chat        kit.ChatTarget
	RequesterID int64
	// Private is true when Chat already is the requester's direct chat.
	Private bool
}

// For returns a notifier for a single job. It is not meant to be reused.
func (s *Service) For(origin Origin) pull.Notifier {
	return &jobNotifier{s: s, origin: origin}
}

type jobNotifier struct {
	s      *Service
	origin Origin

	mu       sync.Mutex
	progress *kit.MessageRef
}

func (n *jobNotifier) Notify(ctx context.Context, o pull.Outcome) error {
	if n.s.adapter == nil {
		return ErrNoAdapter
	}
	switch o.Kind {
	case pull.Searching:
		ref, err := n.s.sendText(ctx, n.route(o), render(o, n.s.cfg), o.Kind)
		if err != nil {
			return err
		}
		n.mu.Lock()
		n.progress = &ref
		n.mu.Unlock()
		return nil
	case pull.Delivered:
		return n.deliver(ctx, o)
	default:
		return n.finish(ctx, o)
	}
}

// route lists the chats to try in order.
func (n *jobNotifier) route(o pull.Outcome) []kit.ChatTarget {
	private := o.Kind == pull.CooldownDenied || o.Ephemeral
	if !private || n.origin.Private || n.origin.RequesterID == 0 {
		return []kit.ChatTarget{n.origin.Chat}
	}
	return []kit.ChatTarget{{ChatID: n.origin.RequesterID}, n.origin.Chat}
}

func (n *jobNotifier) progressRef() *kit.MessageRef {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.progress
}

// finish turns the progress message into the outcome, or sends a new message
// when there is none (or it can no longer be edited).
func (n *jobNotifier) finish(ctx context.Context, o pull.Outcome) error {
	text := render(o, n.s.cfg)
	if ref := n.progressRef(); ref != nil {
		err := n.s.editText(ctx, *ref, text, o.Kind)
		if err == nil {
			return nil
		}
		n.s.log.Debug("progress edit failed; sending new message", logx.Err(err))
		_, err = n.s.sendText(ctx, []kit.ChatTarget{{ChatID: ref.ChatID, ThreadID: ref.ThreadID}}, text, o.Kind)
		return err
	}
	_, err := n.s.sendText(ctx, n.route(o), text, o.Kind)
	return err
}

func (n *jobNotifier) deliver(ctx context.Context, o pull.Outcome) error {
	files := toFiles(o.Attachments)
	targets := n.route(o)
	ref := n.progressRef()
	if ref != nil {
		targets = []kit.ChatTarget{{ChatID: ref.ChatID, ThreadID: ref.ThreadID}}
	}
	if err := n.s.sendFiles(ctx, targets, files, o.Kind); err != nil {
		if ref == nil {
			return err
		}
		failed := o
		failed.Kind = pull.ProcessingFailed
		text := render(failed, n.s.cfg)
		// Some albums made it; say so instead of claiming nothing arrived.
		if sent := kit.SentCount(err); sent > 0 {
			text = renderPartial(sent, len(files))
		}
		_ = n.s.editText(ctx, *ref, text, failed.Kind)
		return err
	}
	if ref != nil {
		if err := n.s.deleteMessage(ctx, *ref); err != nil {
			n.s.log.Debug("could not remove progress message", logx.Err(err))
		}
	}
	return nil
}

func toFiles(atts []media.Attachment) []kit.File {
	files := make([]kit.File, 0, len(atts))
	for _, a := range atts {
		files = append(files, kit.File{Name: a.Filename, Data: a.Data})
	}
	return files
}

func (s *Service) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	return fn(cctx)
}

func (s *Service) sendText(ctx context.Context, targets []kit.ChatTarget, text tgui.H, kind pull.OutcomeKind) (kit.MessageRef, error) {
	var (
		ref kit.MessageRef
		err error
	)
	opt := &kit.SendOptions{ParseMode: tgui.ParseMode, DisablePreview: true}
	for i, to := range targets {
		err = s.call(ctx, func(c context.Context) error {
			var e error
			ref, e = s.adapter.SendText(c, to, string(text), opt)
			return e
		})
		s.record(kind, to.ChatID, err)
		if err == nil {
			return ref, nil
		}
		if i < len(targets)-1 {
			s.log.Debug("chat unreachable; falling back", logx.Int64("chat", to.ChatID), logx.Err(err))
		}
	}
	return ref, err
}

func (s *Service) editText(ctx context.Context, ref kit.MessageRef, text tgui.H, kind pull.OutcomeKind) error {
	err := s.call(ctx, func(c context.Context) error {
		return s.adapter.EditText(c, ref, string(text), &kit.SendOptions{ParseMode: tgui.ParseMode, DisablePreview: true})
	})
	s.record(kind, ref.ChatID, err)
	return err
}

func (s *Service) sendFiles(ctx context.Context, targets []kit.ChatTarget, files []kit.File, kind pull.OutcomeKind) error {
	var err error
	for _, to := range targets {
		err = s.call(ctx, func(c context.Context) error {
			return s.adapter.SendFiles(c, to, files, nil)
		})
		s.record(kind, to.ChatID, err)
		// A fallback chat would get duplicates of what already went out.
		if err == nil || kit.SentCount(err) > 0 {
			return err
		}
	}
	return err
}

func (s *Service) deleteMessage(ctx context.Context, ref kit.MessageRef) error {
	return s.call(ctx, func(c context.Context) error { return s.adapter.DeleteMessage(c, ref) })
}

func (s *Service) record(kind pull.OutcomeKind, chatID int64, err error) {
	ev := Event{Outcome: kind.String(), ChatID: chatID, At: time.Now()}
	typ := TypeSent
	if err != nil {
		typ, ev.Error = TypeFailed, err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}
