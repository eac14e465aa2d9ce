// Package pull runs one pull request from admission to workspace cleanup.
//
// The orchestrator drives a job through
//
//	Admitted -> Fetching -> Validating -> Packaging -> Delivered|Failed -> CleanedUp
//
// and reports exactly one terminal outcome per request through a Notifier.
// Nothing a job does can escape as an error or a panic; cleanup always runs
// after the terminal outcome has been handed to the notifier.
package pull

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"pullbot/internal/cooldown"
	"pullbot/internal/eventbus"
	"pullbot/internal/fetch"
	"pullbot/internal/media"
	"pullbot/internal/workspace"
	logx "pullbot/pkg/logx"
)

// Validator filters a workspace down to deliverable entries.
type Validator interface {
	Validate(dir string) ([]media.Entry, int, error)
}

// Packager reads up to limit entries into memory.
type Packager interface {
	Package(entries []media.Entry, limit int) ([]media.Attachment, int)
}

type Config struct {
	Ledger     *cooldown.Ledger
	Workspaces *workspace.Manager
	Provider   fetch.Provider

	// Optional.
	Validator Validator
	Packager  Packager
	Bus       eventbus.Bus
	Now       func() time.Time
	// JobTimeout bounds the provider call. Zero leaves it unbounded.
	JobTimeout time.Duration
	// Lifetime scopes workspace cleanup. When it is cancelled (process
	// shutdown) pending cleanup retries stop and the startup sweep takes over.
	Lifetime context.Context

	Log logx.Logger
}

type Orchestrator struct {
	ledger     *cooldown.Ledger
	workspaces *workspace.Manager
	provider   fetch.Provider
	validator  Validator
	packager   Packager
	bus        eventbus.Bus
	now        func() time.Time
	jobTimeout time.Duration
	life       context.Context
	log        logx.Logger

	inflight atomic.Int64
}

func New(cfg Config) (*Orchestrator, error) {
	switch {
	case cfg.Ledger == nil:
		return nil, errors.New("pull: ledger is required")
	case cfg.Workspaces == nil:
		return nil, errors.New("pull: workspace manager is required")
	case cfg.Provider == nil:
		return nil, errors.New("pull: provider is required")
	}
	log := cfg.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	o := &Orchestrator{
		ledger:     cfg.Ledger,
		workspaces: cfg.Workspaces,
		provider:   cfg.Provider,
		validator:  cfg.Validator,
		packager:   cfg.Packager,
		bus:        cfg.Bus,
		now:        cfg.Now,
		jobTimeout: cfg.JobTimeout,
		life:       cfg.Lifetime,
		log:        log,
	}
	if o.validator == nil {
		o.validator = media.NewValidator(log)
	}
	if o.packager == nil {
		o.packager = media.NewPackager(log)
	}
	if o.bus == nil {
		o.bus = eventbus.Nop()
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.life == nil {
		o.life = context.Background()
	}
	return o, nil
}

// InFlight reports the number of requests currently inside Run.
func (o *Orchestrator) InFlight() int64 { return o.inflight.Load() }

// Run handles one request. It blocks until the terminal outcome was notified
// and the workspace (if any) was released.
func (o *Orchestrator) Run(ctx context.Context, req Request, n Notifier) (rep Report) {
	o.inflight.Add(1)
	defer o.inflight.Add(-1)

	rep = Report{
		JobID:       uuid.NewString(),
		RequesterID: req.RequesterID,
		Keyword:     req.Keyword,
		Amount:      req.Amount,
		Ephemeral:   req.Ephemeral,
		Started:     o.now(),
	}
	log := o.log.With(
		logx.String("job", rep.JobID),
		logx.Int64("requester", req.RequesterID),
		logx.String("keyword", req.Keyword),
	)
	defer func() {
		rep.Finished = o.now()
		log.Info("pull finished",
			logx.String("outcome", rep.Outcome.String()),
			logx.Int("delivered", rep.Delivered),
			logx.Int("skipped", rep.Skipped),
			logx.Duration("took", rep.Duration()),
		)
		o.bus.Publish(eventbus.Event{Type: eventbus.TypeJobFinished, Data: rep})
	}()

	base := Outcome{Keyword: req.Keyword, Amount: req.Amount, Ephemeral: req.Ephemeral}

	dec := o.ledger.Admit(req.RequesterID, rep.Started)
	if !dec.Allowed {
		rep.Outcome, rep.State = CooldownDenied, StateFailed
		out := base
		out.Kind, out.Remaining = CooldownDenied, dec.Remaining
		rep.NotifyErr = o.notify(ctx, n, out, log)
		return rep
	}
	rep.Admitted = true
	o.transition(&rep, StateAdmitted, log)

	if req.Amount < MinAmount || req.Amount > MaxAmount {
		rep.Outcome = InvalidAmount
		o.transition(&rep, StateFailed, log)
		out := base
		out.Kind = InvalidAmount
		rep.NotifyErr = o.notify(ctx, n, out, log)
		// Nothing was allocated, so there is nothing to release and Workspace
		// and CleanupAttempts stay zero. Subscribers still see the job end in
		// CleanedUp like every other admitted job.
		o.transition(&rep, StateCleanedUp, log)
		return rep
	}

	progress := base
	progress.Kind = Searching
	_ = o.notify(ctx, n, progress, log)

	ws, err := o.workspaces.Allocate(req.RequesterID)
	if err != nil {
		log.Error("workspace allocation failed", logx.Err(err))
		rep.Outcome = ProcessingFailed
		o.transition(&rep, StateFailed, log)
		out := base
		out.Kind = ProcessingFailed
		rep.NotifyErr = o.notify(ctx, n, out, log)
		o.transition(&rep, StateCleanedUp, log)
		return rep
	}
	rep.Workspace = ws.Path
	defer o.release(&rep, log)

	out := o.execute(ctx, &rep, req, ws.Path, log)
	rep.Outcome, rep.Message = out.Kind, out.Message
	if out.Kind == Delivered {
		o.transition(&rep, StateDelivered, log)
	} else {
		o.transition(&rep, StateFailed, log)
	}
	rep.NotifyErr = o.notify(ctx, n, out, log)
	return rep
}

// execute runs the fetch/validate/package pipeline inside dir and returns the
// terminal outcome. A panic anywhere in the pipeline becomes ProcessingFailed.
func (o *Orchestrator) execute(ctx context.Context, rep *Report, req Request, dir string, log logx.Logger) (out Outcome) {
	out = Outcome{Keyword: req.Keyword, Amount: req.Amount, Ephemeral: req.Ephemeral}
	defer func() {
		if r := recover(); r != nil {
			log.Error("pull panicked",
				logx.String("state", rep.State.String()),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
			out.Kind, out.Attachments, out.Message = ProcessingFailed, nil, ""
		}
	}()

	o.transition(rep, StateFetching, log)
	fctx := ctx
	if o.jobTimeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(ctx, o.jobTimeout)
		defer cancel()
	}
	res, err := o.provider.Fetch(fctx, req.Keyword, req.Amount, dir)
	rep.Matches = res.Matches
	if err != nil {
		log.Warn("provider failed", logx.Err(err))
		out.Kind, out.Message = DatabaseError, diagnostic(err)
		return out
	}

	o.transition(rep, StateValidating, log)
	entries, skipped, err := o.validator.Validate(dir)
	if err != nil {
		log.Error("validation failed", logx.Err(err))
		out.Kind = ProcessingFailed
		return out
	}
	rep.Validated, rep.Skipped = len(entries), skipped
	if len(entries) == 0 {
		// Files that were all rejected still mean the search found something.
		if res.Matches == 0 && skipped == 0 {
			out.Kind = NoResults
		} else {
			out.Kind = DownloadFailed
		}
		return out
	}

	o.transition(rep, StatePackaging, log)
	atts, dropped := o.packager.Package(entries, req.Amount)
	rep.Skipped += dropped
	if len(atts) == 0 {
		out.Kind = ProcessingFailed
		return out
	}
	rep.Delivered = len(atts)
	out.Kind, out.Attachments = Delivered, atts
	return out
}

func (o *Orchestrator) release(rep *Report, log logx.Logger) {
	n, err := o.workspaces.Release(o.life, rep.Workspace)
	rep.CleanupAttempts, rep.CleanupErr = n, err
	if err != nil {
		// Never surfaced to the requester.
		log.Warn("workspace left for sweep", logx.String("path", rep.Workspace), logx.Err(err))
	}
	o.transition(rep, StateCleanedUp, log)
}

func (o *Orchestrator) transition(rep *Report, s State, log logx.Logger) {
	rep.State = s
	log.Debug("pull state", logx.String("state", s.String()))
	o.bus.Publish(eventbus.Event{
		Type: eventbus.TypeJobState,
		Data: StateChange{JobID: rep.JobID, RequesterID: rep.RequesterID, State: s},
	})
}

func (o *Orchestrator) notify(ctx context.Context, n Notifier, out Outcome, log logx.Logger) (err error) {
	if n == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notifier panic: %v", r)
		}
		if err != nil {
			log.Warn("notify failed", logx.String("outcome", out.Kind.String()), logx.Err(err))
		}
	}()
	return n.Notify(ctx, out)
}

// diagnostic keeps the first diagnosticLimit characters of err and marks the cut.
func diagnostic(err error) string {
	s := err.Error()
	if utf8.RuneCountInString(s) > diagnosticLimit {
		r := []rune(s)
		s = string(r[:diagnosticLimit])
	}
	return s + "..."
}
