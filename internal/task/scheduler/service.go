package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"pullbot/internal/eventbus"
	logx "pullbot/pkg/logx"
)

const TypeTaskRun = "task.run"

// RunEvent is published on the bus after each run.
type RunEvent struct {
	Name    string        `json:"name"`
	Took    time.Duration `json:"took"`
	Skipped bool          `json:"skipped,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// Info describes a registered schedule.
type Info struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Runs    uint64
	Skips   uint64
	Next    time.Time
	Prev    time.Time
}

type scheduleDef struct {
	name    string
	spec    string
	timeout time.Duration
	job     func(ctx context.Context) error
	entryID cron.EntryID

	running atomic.Bool
	runs    atomic.Uint64
	skips   atomic.Uint64
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	bus eventbus.Bus
	loc *time.Location

	parser cron.Parser
	c      *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	defs   []*scheduleDef
}

func New(log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	return &Service{
		log: log,
		bus: bus,
		loc: time.Local,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// AddInterval registers job to run every `every`. Re-adding a name replaces it.
func (s *Service) AddInterval(name string, every, timeout time.Duration, job func(ctx context.Context) error) error {
	if every <= 0 {
		return fmt.Errorf("schedule %q: interval must be > 0", name)
	}
	return s.add(name, "@every "+every.String(), timeout, job)
}

// add registers job on a cron spec ("*/5 * * * *", "@hourly", "@every 30m").
func (s *Service) add(name, spec string, timeout time.Duration, job func(ctx context.Context) error) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if job == nil {
		return fmt.Errorf("schedule %q: job required", name)
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("schedule %q: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	d := &scheduleDef{name: name, spec: spec, timeout: timeout, job: job}
	s.defs = append(s.defs, d)
	if s.c != nil {
		if err := s.registerLocked(d); err != nil {
			return err
		}
	}
	s.log.Debug("schedule registered", logx.String("name", name), logx.String("spec", spec), logx.Duration("timeout", timeout))
	return nil
}

func (s *Service) removeLocked(name string) bool {
	for i, d := range s.defs {
		if d.name != name {
			continue
		}
		if s.c != nil && d.entryID != 0 {
			s.c.Remove(d.entryID)
		}
		s.defs = append(s.defs[:i], s.defs[i+1:]...)
		return true
	}
	return false
}

func (s *Service) registerLocked(d *scheduleDef) error {
	ctx := s.ctx
	id, err := s.c.AddFunc(d.spec, func() { s.run(ctx, d) })
	if err != nil {
		return err
	}
	d.entryID = id
	return nil
}

// Start begins triggering. Runs inherit ctx and are cancelled with it.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for _, d := range s.defs {
		if err := s.registerLocked(d); err != nil {
			s.log.Error("schedule register failed", logx.String("name", d.name), logx.String("spec", d.spec), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

// Stop stops triggering and waits for running jobs until ctx expires.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()

	s.mu.Lock()
	c, cancel := s.c, s.cancel
	s.c, s.cancel = nil, nil
	for _, d := range s.defs {
		d.entryID = 0
	}
	s.mu.Unlock()

	if c == nil {
		return
	}
	stopped := c.Stop()
	cancel()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
		s.log.Warn("stop timed out; jobs still running")
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

// RunNow triggers a schedule outside its cadence, honoring the overlap rule.
func (s *Service) RunNow(ctx context.Context, name string) bool {
	s.mu.Lock()
	var d *scheduleDef
	for _, x := range s.defs {
		if x.name == name {
			d = x
		}
	}
	s.mu.Unlock()
	if d == nil {
		return false
	}
	return s.run(ctx, d)
}

func (s *Service) run(ctx context.Context, d *scheduleDef) bool {
	if !d.running.CompareAndSwap(false, true) {
		d.skips.Add(1)
		s.log.Debug("previous run still active; skipped", logx.String("name", d.name))
		s.publish(RunEvent{Name: d.name, Skipped: true})
		return false
	}
	defer d.running.Store(false)
	d.runs.Add(1)

	if ctx == nil {
		ctx = context.Background()
	}
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	start := time.Now()
	err := safeRun(ctx, d.job)
	ev := RunEvent{Name: d.name, Took: time.Since(start)}
	if err != nil {
		ev.Error = err.Error()
		s.log.Warn("task failed", logx.String("name", d.name), logx.Duration("took", ev.Took), logx.Err(err))
	} else {
		s.log.Debug("task done", logx.String("name", d.name), logx.Duration("took", ev.Took))
	}
	s.publish(ev)
	return true
}

func safeRun(ctx context.Context, job func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return job(ctx)
}

func (s *Service) publish(ev RunEvent) {
	s.bus.Publish(eventbus.Event{Type: TypeTaskRun, Time: time.Now(), Data: ev})
}

// Snapshot lists registered schedules with their next/previous trigger times.
func (s *Service) Snapshot() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Info, 0, len(s.defs))
	for _, d := range s.defs {
		it := Info{Name: d.name, Spec: d.spec, Timeout: d.timeout, Runs: d.runs.Load(), Skips: d.skips.Load()}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			it.Next, it.Prev = e.Next, e.Prev
		}
		out = append(out, it)
	}
	return out
}
