package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"pullbot/internal/config"
	"pullbot/internal/cooldown"
	"pullbot/internal/eventbus"
	"pullbot/internal/fetch"
	"pullbot/internal/media"
	"pullbot/internal/notifier"
	"pullbot/internal/observability/pprof"
	"pullbot/internal/pull"
	rtsup "pullbot/internal/runtime/supervisor"
	"pullbot/internal/storage"
	"pullbot/internal/task/scheduler"
	kit "pullbot/internal/transport"
	telegram "pullbot/internal/transport/telegram/adapter"
	"pullbot/internal/transport/telegram/router"
	"pullbot/internal/workspace"
	logx "pullbot/pkg/logx"
	"pullbot/pkg/systemd"
)

const evictJob = "cooldown.evict"

type Options struct {
	ConfigPath string

	// Adapter replaces the Telegram adapter (tests, other transports).
	Adapter kit.Adapter
	// HTTPClient is used by the content provider. Defaults to a plain client.
	HTTPClient *http.Client
}

type App struct {
	cfgm     *config.Manager
	settings config.Settings
	sup      *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter kit.Adapter

	ledger     *cooldown.Ledger
	workspaces *workspace.Manager
	provider   fetch.Provider
	orch       *pull.Orchestrator
	sched      *scheduler.Service
	notif      *notifier.Service
	router     *router.Router
	pprof      *pprof.Service

	updates chan kit.Update
	started time.Time
}

func New(opt Options) (*App, error) {
	cfgm := config.NewManager(opt.ConfigPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	st, err := config.Resolve(cfg)
	if err != nil {
		return nil, err
	}

	ad := opt.Adapter
	if ad == nil {
		bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
		tg, err := telegram.New(telegram.Config{Token: st.Token, PollTimeout: st.PollTimeout}, bootLog)
		if err != nil {
			return nil, err
		}
		ad = tg
	}

	// The chat sink warns when enabled without a target, so set the target first.
	logCfg := loggingConfig(cfg)
	chatEnabled := logCfg.Chat.Enabled
	logCfg.Chat.Enabled = false
	logSvc, root := logx.New(logCfg, ad)
	logSvc.SetChatTarget(st.GroupLog, cfg.Logging.Telegram.ThreadID)
	logCfg.Chat.Enabled = chatEnabled
	logSvc.Apply(logCfg)

	comp := func(name string) logx.Logger { return root.With(logx.String("comp", name)) }
	if tg, ok := ad.(*telegram.Adapter); ok {
		tg.SetLogger(comp("telegram"))
	}
	log := comp("app")
	cfgm.SetLogger(comp("config"))

	bus := eventbus.New()

	openCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	store, err := storage.Open(openCtx, storage.Config{
		Driver:      st.Storage.Driver,
		Path:        st.Storage.Path,
		BusyTimeout: st.Storage.BusyTimeout,
	}, comp("storage"))
	cancel()
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	if store != nil {
		log.Info("storage enabled", logx.String("driver", st.Storage.Driver))
	}

	provider, err := fetch.NewHTTPProvider(fetch.HTTPConfig{
		SearchURL: st.Provider.SearchURL,
		Timeout:   st.Provider.Timeout,
		Workers:   st.Provider.Workers,
		UserAgent: st.Provider.UserAgent,
		MaxBytes:  st.Provider.MaxBytes,
	}, opt.HTTPClient, comp("fetch"))
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, fmt.Errorf("provider: %w", err)
	}

	a := &App{
		cfgm:       cfgm,
		settings:   st,
		log:        log,
		logs:       logSvc,
		bus:        bus,
		store:      store,
		adapter:    ad,
		ledger:     cooldown.New(st.Cooldown),
		workspaces: workspace.NewManager(workspace.Options{Root: st.WorkspaceRoot}, comp("workspace")),
		provider:   provider,
		sched:      scheduler.New(comp("scheduler"), bus),
		notif: notifier.New(notifier.Config{
			RatePerSec: st.Notifier.RatePerSec,
			Cooldown:   st.Cooldown,
		}, ad, comp("notifier"), bus),
		router:  router.New(comp("commands"), ad, router.Options{}),
		updates: make(chan kit.Update, 256),
	}
	a.pprof = pprof.New(comp("pprof"), a.healthy)
	return a, nil
}

func pprofConfig(st config.Settings) pprof.Config {
	return pprof.Config{
		Enabled:       st.Pprof.Enabled,
		Addr:          st.Pprof.Addr,
		Prefix:        st.Pprof.Prefix,
		Token:         st.Pprof.Token,
		AllowInsecure: st.Pprof.AllowInsecure,
	}
}

// healthy backs /healthz and the systemd watchdog.
func (a *App) healthy() error {
	if a.sup == nil {
		return errors.New("not started")
	}
	if err := a.sup.Err(); err != nil {
		return err
	}
	if a.sup.Context().Err() != nil {
		return errors.New("stopping")
	}
	return nil
}

func loggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

// Done is closed when the app supervisor context is cancelled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.started = time.Now()
	run := a.sup.Context()

	// Orphans from a crashed run go before any new job can allocate.
	a.sweep("startup")

	orch, err := pull.New(pull.Config{
		Ledger:     a.ledger,
		Workspaces: a.workspaces,
		Provider:   a.provider,
		Validator:  media.NewValidator(a.log.With(logx.String("comp", "media"))),
		Packager:   media.NewPackager(a.log.With(logx.String("comp", "media"))),
		Bus:        a.bus,
		JobTimeout: a.settings.JobTimeout,
		Lifetime:   run,
		Log:        a.log.With(logx.String("comp", "pull")),
	})
	if err != nil {
		return err
	}
	a.orch = orch

	a.cfgm.SetValidator(func(cfg *config.Config) error {
		_, err := config.Resolve(cfg)
		return err
	})

	if err := a.adapter.Start(run, a.updates); err != nil {
		return err
	}

	if err := a.sched.AddInterval(evictJob, cooldown.SweepEvery, 10*time.Second, func(context.Context) error {
		if n := a.ledger.Evict(time.Now()); n > 0 {
			a.log.Debug("cooldown entries evicted", logx.Int("count", n), logx.Int("left", a.ledger.Len()))
		}
		return nil
	}); err != nil {
		return err
	}
	a.sched.Start(run)

	a.router.SetCommands(run, a.commands())
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if iv := systemd.WatchdogInterval(); iv > 0 {
		a.sup.Go0("systemd.watchdog", func(c context.Context) {
			systemd.Watchdog(c, iv, func() bool { return a.healthy() == nil })
		})
	}
	if err := a.pprof.Reconfigure(run, pprofConfig(a.settings)); err != nil {
		a.log.Warn("pprof not started", logx.Err(err))
	}
	if sent, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify ready sent")
	}

	a.log.Info("app started",
		logx.Duration("cooldown", a.settings.Cooldown),
		logx.String("workspace_root", a.workspaces.Root()),
	)
	return nil
}

// sweep removes orphan workspaces left by an earlier process.
func (a *App) sweep(trigger string) {
	start := time.Now()
	removed, err := a.workspaces.Sweep()
	fields := []logx.Field{
		logx.String("trigger", trigger),
		logx.Int("removed", len(removed)),
		logx.Duration("took", time.Since(start)),
	}
	if err != nil {
		a.log.Warn("workspace sweep incomplete", append(fields, logx.Err(err))...)
	} else if len(removed) > 0 {
		a.log.Info("orphan workspaces removed", fields...)
	}
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeSweep, Time: time.Now(), Data: removed})
}

// reloadLoop applies the logging and debug sections live. Everything else is
// read once.
func (a *App) reloadLoop(c context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			sections, fields := config.SummarizeChange(last, newCfg)
			last = newCfg
			if len(sections) == 0 {
				a.log.Debug("config reload received, but no effective changes detected")
				continue
			}
			if rr := config.RestartRequired(sections); len(rr) > 0 {
				a.log.Warn("config changed; restart required for changes to take effect", logx.Strings("sections", rr))
			}
			if st, err := config.Resolve(newCfg); err == nil {
				a.logs.SetChatTarget(st.GroupLog, newCfg.Logging.Telegram.ThreadID)
				if slices.Contains(sections, "debug") {
					if err := a.pprof.Reconfigure(c, pprofConfig(st)); err != nil {
						a.log.Warn("pprof reconfigure failed", logx.Err(err))
					}
				}
			}
			a.logs.Apply(loggingConfig(newCfg))
			a.log.Info("config reloaded", append([]logx.Field{logx.Strings("changed", sections)}, fields...)...)
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	if reason == "" {
		reason = StopUnknown
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := systemd.Stopping(); err != nil {
		a.log.Debug("sd_notify stopping failed", logx.Err(err))
	}

	// Cancel first so background loops start unwinding. In-flight jobs stop
	// cleanup retries; the next startup sweep removes what they leave behind.
	a.sup.Cancel()

	a.step(ctx, "pprof", time.Second, func(c context.Context) error { a.pprof.Stop(c); return nil })
	a.step(ctx, "scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	a.step(ctx, "jobs", 3*time.Second, a.waitJobs)
	a.step(ctx, "storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func (a *App) waitJobs(ctx context.Context) error {
	if a.orch == nil {
		return nil
	}
	t := time.NewTicker(50 * time.Millisecond)
	defer t.Stop()
	for a.orch.InFlight() > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%d jobs still running: %w", a.orch.InFlight(), ctx.Err())
		case <-t.C:
		}
	}
	return nil
}

// step runs one shutdown step with an upper bound so one component cannot
// stall the whole stop. It never extends the caller's deadline.
func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		limit = min(limit, time.Until(dl))
	}
	if limit <= 0 {
		a.log.Warn("stop step skipped (no time left)", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}
